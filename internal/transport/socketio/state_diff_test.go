package socketio

import (
	"slices"
	"testing"
	"time"

	"github.com/tasselx/taimusic/internal/domain/playback"
)

func TestStateCompareKeysSkipSeek(t *testing.T) {
	if slices.Contains(stateCompareKeys, "seek") {
		t.Error("stateCompareKeys should not include seek")
	}
}

func TestIsStateSame(t *testing.T) {
	track := &playback.Track{ID: "1", Title: "Song A", Artist: "Artist", URL: "http://a"}
	base := playback.Snapshot{
		State:        playback.StatePlaying,
		Queue:        []playback.Track{*track},
		CurrentIndex: 0,
		Current:      track,
		Volume:       0.5,
		Mode:         playback.ModeSequence,
		Position:     time.Second,
		Duration:     3 * time.Minute,
	}

	tests := []struct {
		name   string
		change func(s *playback.Snapshot)
		same   bool
	}{
		{"unchanged", func(s *playback.Snapshot) {}, true},
		{"seek only", func(s *playback.Snapshot) { s.Position = 42 * time.Second }, true},
		{"volume", func(s *playback.Snapshot) { s.Volume = 0.75 }, false},
		{"mute", func(s *playback.Snapshot) { s.Muted = true }, false},
		{"state", func(s *playback.Snapshot) { s.State = playback.StatePaused }, false},
		{"mode", func(s *playback.Snapshot) { s.Mode = playback.ModeRandom }, false},
		{"title", func(s *playback.Snapshot) {
			s.Current = &playback.Track{ID: "1", Title: "Song B", Artist: "Artist", URL: "http://a"}
		}, false},
		{"queue length", func(s *playback.Snapshot) {
			s.Queue = append(slices.Clone(s.Queue), playback.Track{ID: "2"})
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{}
			s.saveLastState(base.ToMap())

			next := base
			tt.change(&next)
			if got := s.isStateSame(next.ToMap()); got != tt.same {
				t.Errorf("isStateSame = %v, want %v", got, tt.same)
			}
		})
	}
}

func TestIsStateSameWithoutPreviousBroadcast(t *testing.T) {
	s := &Server{}
	if s.isStateSame(playback.Snapshot{State: playback.StateIdle}.ToMap()) {
		t.Error("first state should always be broadcast")
	}
}
