package playback

import "time"

// State is the playback state machine position.
type State string

// Playback states
const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// active reports whether a track is loading or loaded in the backend.
func (s State) active() bool {
	return s == StateLoading || s == StatePlaying || s == StatePaused
}

// Snapshot is a point-in-time copy of the engine state.
type Snapshot struct {
	State        State
	Queue        []Track
	CurrentIndex int
	Current      *Track

	Volume float64 // 0..1, unaffected by mute
	Muted  bool
	Mode   Mode

	Position time.Duration
	Duration time.Duration
}

// ToMap returns the snapshot as a map suitable for JSON serialization.
func (s Snapshot) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"status":       string(s.State),
		"isPlaying":    s.State == StatePlaying,
		"isPaused":     s.State == StatePaused,
		"isLoading":    s.State == StateLoading,
		"position":     s.CurrentIndex,
		"seek":         s.Position.Milliseconds(),
		"duration":     int(s.Duration.Seconds()),
		"volume":       s.Volume,
		"mute":         s.Muted,
		"playMode":     string(s.Mode),
		"random":       s.Mode == ModeRandom,
		"repeat":       s.Mode == ModeLoop || s.Mode == ModeSingle,
		"repeatSingle": s.Mode == ModeSingle,
		"queueLength":  len(s.Queue),
	}

	if t := s.Current; t != nil {
		m["id"] = t.ID
		m["title"] = t.Title
		m["artist"] = t.Artist
		m["album"] = t.Album
		m["albumart"] = t.CoverURL
		m["uri"] = t.URL
		m["quality"] = t.Quality
	}
	return m
}
