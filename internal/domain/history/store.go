// Package history keeps a record of played tracks for the host UI.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tasselx/taimusic/internal/domain/playback"
)

// DefaultMaxEntries bounds the history when no limit is configured.
const DefaultMaxEntries = 1000

// defaultLimit is the page size of Recent when none is requested.
const defaultLimit = 50

// Entry is one played track.
type Entry struct {
	ID        string    `json:"id"`
	TrackID   string    `json:"trackId"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Album     string    `json:"album,omitempty"`
	CoverURL  string    `json:"coverUrl,omitempty"`
	PlayedAt  time.Time `json:"playedAt"`
	PlayCount int       `json:"playCount"`
}

// Store manages playback history persistence. Entries are kept oldest first.
type Store struct {
	filePath   string
	maxEntries int

	mu      sync.RWMutex
	entries []Entry

	saveMu sync.Mutex
	saves  sync.WaitGroup
	now    func() time.Time
}

// NewStore creates a store backed by the JSON file at path, loading any
// existing history.
func NewStore(path string, maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s := &Store{
		filePath:   path,
		maxEntries: maxEntries,
		entries:    []Entry{},
		now:        time.Now,
	}
	s.load()
	return s
}

// RecordPlay records a play of t. A track already in the history has its play
// count bumped and moves to the most recent position.
func (s *Store) RecordPlay(t playback.Track) {
	if t.ID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := range s.entries {
		if s.entries[i].TrackID != t.ID {
			continue
		}
		e := s.entries[i]
		e.PlayedAt = now
		e.PlayCount++
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		s.entries = append(s.entries, e)

		log.Debug().
			Str("track", t.ID).
			Int("playCount", e.PlayCount).
			Msg("Updated existing play history entry")
		s.saveAsync()
		return
	}

	s.entries = append(s.entries, Entry{
		ID:        uuid.New().String(),
		TrackID:   t.ID,
		Title:     t.Title,
		Artist:    t.Artist,
		Album:     t.Album,
		CoverURL:  t.CoverURL,
		PlayedAt:  now,
		PlayCount: 1,
	})

	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}

	log.Info().
		Str("track", t.ID).
		Str("title", t.Title).
		Msg("Recorded play history")

	s.saveAsync()
}

// Recent returns up to limit entries, most recently played first.
func (s *Store) Recent(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > len(s.entries) {
		limit = len(s.entries)
	}

	out := make([]Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// MostPlayed returns up to limit entries ordered by play count.
func (s *Store) MostPlayed(limit int) []Entry {
	s.mu.RLock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PlayCount != out[j].PlayCount {
			return out[i].PlayCount > out[j].PlayCount
		}
		return out[i].PlayedAt.After(out[j].PlayedAt)
	})

	if limit <= 0 {
		limit = defaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PlayCount returns how often the track has been played.
func (s *Store) PlayCount(trackID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.TrackID == trackID {
			return e.PlayCount
		}
	}
	return 0
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all history.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = []Entry{}
	s.saveAsync()
	log.Info().Msg("Playback history cleared")
}

// Listener returns a playback listener that records a play each time a track
// starts after being loaded. Resuming from pause is not a new play. The
// listener keeps state and must be subscribed to a single notifier.
func (s *Store) Listener() playback.Listener {
	var loaded bool
	return playback.ListenerFunc(func(ev playback.Event) {
		switch ev.Type {
		case playback.EventLoad:
			loaded = true
		case playback.EventPlay:
			if loaded && ev.Track != nil {
				s.RecordPlay(*ev.Track)
			}
			loaded = false
		}
	})
}

// Flush waits for pending writes to reach disk.
func (s *Store) Flush() {
	s.saves.Wait()
}

// load reads history from disk.
func (s *Store) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", s.filePath).Msg("Failed to read playback history")
		}
		return
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Msg("Failed to parse playback history")
		return
	}

	if len(entries) > s.maxEntries {
		entries = entries[len(entries)-s.maxEntries:]
	}
	s.entries = entries
	log.Info().Int("count", len(entries)).Msg("Loaded playback history")
}

// saveAsync saves history to disk asynchronously. Must be called with mu held.
// Writes are serialised and each one snapshots the entries when it runs, so
// the last write always carries the latest state.
func (s *Store) saveAsync() {
	s.saves.Add(1)
	go func() {
		defer s.saves.Done()

		s.saveMu.Lock()
		defer s.saveMu.Unlock()

		s.mu.RLock()
		entriesCopy := make([]Entry, len(s.entries))
		copy(entriesCopy, s.entries)
		s.mu.RUnlock()

		data, err := json.MarshalIndent(entriesCopy, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal playback history")
			return
		}

		if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
			log.Error().Err(err).Msg("Failed to create history directory")
			return
		}

		if err := os.WriteFile(s.filePath, data, 0644); err != nil {
			log.Error().Err(err).Msg("Failed to save playback history")
		}
	}()
}
