package playback

import (
	"fmt"
	"math/rand/v2"
)

// Mode governs how the next queue position is chosen.
type Mode string

// Play modes
const (
	ModeSequence Mode = "sequence" // Play through once, stop after the last track
	ModeLoop     Mode = "loop"     // Wrap around to the first track
	ModeSingle   Mode = "single"   // Repeat the current track
	ModeRandom   Mode = "random"   // Pick a different track at random
)

// noNext is returned by nextIndex when playback should stop.
const noNext = -1

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSequence, ModeLoop, ModeSingle, ModeRandom:
		return m, nil
	default:
		return "", fmt.Errorf("unknown play mode %q", s)
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, err := ParseMode(string(m))
	return err == nil
}

// nextIndex applies the next-index policy. A single-track queue always
// replays, whatever the mode.
func nextIndex(mode Mode, current, n int, rng *rand.Rand) int {
	if n == 0 {
		return noNext
	}
	if n == 1 {
		return 0
	}

	switch mode {
	case ModeSingle:
		return current
	case ModeRandom:
		// Uniform over the other n-1 positions.
		i := rng.IntN(n - 1)
		if i >= current {
			i++
		}
		return i
	case ModeLoop:
		return (current + 1) % n
	default:
		if current+1 < n {
			return current + 1
		}
		return noNext
	}
}

// previousIndex returns the position before current. Only Loop wraps from
// the first track to the last; otherwise the first track has no previous.
func previousIndex(mode Mode, current, n int) int {
	if n == 0 {
		return noNext
	}
	if n == 1 {
		return 0
	}
	if current > 0 {
		return current - 1
	}
	if mode == ModeLoop {
		return n - 1
	}
	return noNext
}

// endIndex is nextIndex for a track that finished on its own. Sequence never
// replays here: a finished single-track queue stops.
func endIndex(mode Mode, current, n int, rng *rand.Rand) int {
	if mode == ModeSequence && current+1 >= n {
		return noNext
	}
	return nextIndex(mode, current, n, rng)
}
