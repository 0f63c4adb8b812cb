package playback

import (
	"math/rand/v2"
	"testing"
)

func TestNextIndex(t *testing.T) {
	tests := []struct {
		name    string
		mode    Mode
		current int
		n       int
		want    int
	}{
		{"sequence middle", ModeSequence, 0, 3, 1},
		{"sequence last", ModeSequence, 2, 3, noNext},
		{"loop last wraps", ModeLoop, 2, 3, 0},
		{"loop middle", ModeLoop, 1, 3, 2},
		{"single repeats", ModeSingle, 1, 3, 1},
		{"empty queue", ModeLoop, -1, 0, noNext},
		{"one track sequence replays", ModeSequence, 0, 1, 0},
		{"one track random replays", ModeRandom, 0, 1, 0},
	}

	rng := rand.New(rand.NewPCG(1, 1))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextIndex(tt.mode, tt.current, tt.n, rng); got != tt.want {
				t.Errorf("nextIndex(%s, %d, %d) = %d, want %d", tt.mode, tt.current, tt.n, got, tt.want)
			}
		})
	}
}

func TestNextIndexRandomNeverRepeats(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	seen := make(map[int]bool)

	for i := 0; i < 1000; i++ {
		current := i % 4
		got := nextIndex(ModeRandom, current, 4, rng)
		if got == current {
			t.Fatalf("Random next returned current index %d", current)
		}
		if got < 0 || got >= 4 {
			t.Fatalf("Random next out of range: %d", got)
		}
		seen[got] = true
	}
	if len(seen) != 4 {
		t.Errorf("Random next covered %d positions, want 4", len(seen))
	}
}

func TestEndIndexStopsSingleTrackSequence(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	if got := endIndex(ModeSequence, 0, 1, rng); got != noNext {
		t.Errorf("endIndex(sequence, 0, 1) = %d, want noNext", got)
	}
	if got := endIndex(ModeLoop, 0, 1, rng); got != 0 {
		t.Errorf("endIndex(loop, 0, 1) = %d, want 0", got)
	}
	if got := endIndex(ModeSequence, 0, 2, rng); got != 1 {
		t.Errorf("endIndex(sequence, 0, 2) = %d, want 1", got)
	}
}

func TestPreviousIndex(t *testing.T) {
	tests := []struct {
		mode    Mode
		current int
		n       int
		want    int
	}{
		{ModeSequence, 2, 3, 1},
		{ModeSequence, 0, 3, noNext},
		{ModeRandom, 0, 3, noNext},
		{ModeLoop, 0, 3, 2},
		{ModeSingle, 0, 1, 0},
		{ModeLoop, -1, 0, noNext},
	}
	for _, tt := range tests {
		if got := previousIndex(tt.mode, tt.current, tt.n); got != tt.want {
			t.Errorf("previousIndex(%s, %d, %d) = %d, want %d", tt.mode, tt.current, tt.n, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"sequence", "loop", "single", "random"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q) error = %v", s, err)
		}
	}
	if _, err := ParseMode("shuffle"); err == nil {
		t.Error("ParseMode(\"shuffle\") should fail")
	}
}
