package socketio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tasselx/taimusic/internal/domain/history"
	"github.com/tasselx/taimusic/internal/domain/playback"
	"github.com/tasselx/taimusic/internal/infra/audiocache"
)

// stubBackend plays nothing and never ends. It needs Activate before Ready
// succeeds when gated is set.
type stubBackend struct {
	mu     sync.Mutex
	gated  bool
	active bool
	volume float64
}

func (b *stubBackend) Activate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
}

func (b *stubBackend) Ready(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gated && !b.active {
		return playback.ErrBackendNotReady
	}
	return nil
}

func (b *stubBackend) Load(ctx context.Context, src playback.Source, onEnd func()) error {
	return nil
}
func (b *stubBackend) Start() error                 { return nil }
func (b *stubBackend) Pause() error                 { return nil }
func (b *stubBackend) Resume() error                { return nil }
func (b *stubBackend) Stop() error                  { return nil }
func (b *stubBackend) Seek(pos time.Duration) error { return nil }
func (b *stubBackend) Position() time.Duration      { return 0 }
func (b *stubBackend) Duration() time.Duration      { return time.Minute }
func (b *stubBackend) SetVolume(v float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = v
	return nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return []byte("payload"), nil
}

func newTestServer(t *testing.T, backend *stubBackend, opts ...Option) (*Server, *playback.Engine) {
	t.Helper()
	engine := playback.NewEngine(backend, playback.WithFetcher(stubFetcher{}))
	s, err := NewServer(engine, opts...)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		engine.Close()
	})
	return s, engine
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func queueArg(ids ...string) []any {
	tracks := make([]any, len(ids))
	for i, id := range ids {
		tracks[i] = map[string]interface{}{"id": id, "title": "Song " + id, "url": "http://example.com/" + id}
	}
	return []any{map[string]interface{}{"tracks": tracks, "startIndex": 0.0}}
}

func TestNewServer(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})

	if s.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", s.ClientCount())
	}

	// Broadcasting with no clients is a no-op
	s.BroadcastState()
	s.BroadcastQueue()
}

func TestQueueCommands(t *testing.T) {
	s, engine := newTestServer(t, &stubBackend{})

	if err := s.handleSetQueue(queueArg("a", "b", "c")); err != nil {
		t.Fatalf("setQueue failed: %v", err)
	}
	if n := len(engine.Snapshot().Queue); n != 3 {
		t.Fatalf("expected 3 tracks, got %d", n)
	}

	if err := s.handleAddToQueue([]any{map[string]interface{}{
		"track": map[string]interface{}{"id": "d", "url": "http://example.com/d", "duration": 90.5},
		"index": 0.0,
	}}); err != nil {
		t.Fatalf("addToQueue failed: %v", err)
	}
	snap := engine.Snapshot()
	if snap.Queue[0].ID != "d" || snap.Queue[0].Duration != 90500*time.Millisecond {
		t.Errorf("expected d inserted first with its duration, got %+v", snap.Queue[0])
	}

	if err := s.handleRemoveFromQueue([]any{map[string]interface{}{"index": 1.0}}); err != nil {
		t.Fatalf("removeFromQueue failed: %v", err)
	}
	if err := s.handleRemoveFromQueue([]any{0.0}); err != nil {
		t.Fatalf("removeFromQueue with bare index failed: %v", err)
	}
	if n := len(engine.Snapshot().Queue); n != 2 {
		t.Errorf("expected 2 tracks after removals, got %d", n)
	}
}

func TestCommandValidation(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})

	tests := []struct {
		name string
		call func() error
	}{
		{"seek without position", func() error { return s.handleSeek(nil) }},
		{"volume without level", func() error { return s.handleVolume([]any{"loud"}) }},
		{"unknown mode", func() error { return s.handleSetMode([]any{map[string]interface{}{"value": "shuffle-all"}}) }},
		{"mode without argument", func() error { return s.handleSetMode(nil) }},
		{"add track without id", func() error {
			return s.handleAddToQueue([]any{map[string]interface{}{"track": map[string]interface{}{"title": "x"}}})
		}},
		{"play track without id", func() error {
			return s.handlePlay([]any{map[string]interface{}{"track": map[string]interface{}{"title": "x"}}})
		}},
		{"remove without index", func() error { return s.handleRemoveFromQueue([]any{map[string]interface{}{}}) }},
		{"setQueue without argument", func() error { return s.handleSetQueue(nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestVolumeMuteAndMode(t *testing.T) {
	s, engine := newTestServer(t, &stubBackend{})

	s.handleVolume([]any{0.4})
	if v := engine.Snapshot().Volume; v != 0.4 {
		t.Errorf("expected volume 0.4, got %v", v)
	}
	s.handleVolume([]any{map[string]interface{}{"value": 0.6}})
	if v := engine.Snapshot().Volume; v != 0.6 {
		t.Errorf("expected volume 0.6, got %v", v)
	}

	s.handleMute(nil)
	if !engine.Snapshot().Muted {
		t.Error("expected toggle to mute")
	}
	s.handleMute([]any{map[string]interface{}{"value": false}})
	if engine.Snapshot().Muted {
		t.Error("expected explicit unmute")
	}

	if err := s.handleSetMode([]any{map[string]interface{}{"value": "loop"}}); err != nil {
		t.Fatalf("setMode failed: %v", err)
	}
	if m := engine.Snapshot().Mode; m != playback.ModeLoop {
		t.Errorf("expected loop mode, got %s", m)
	}
}

func TestPlayCommands(t *testing.T) {
	s, engine := newTestServer(t, &stubBackend{})
	s.handleSetQueue(queueArg("a", "b", "c"))

	if err := s.handlePlay([]any{map[string]interface{}{"index": 2.0}}); err != nil {
		t.Fatalf("play by index failed: %v", err)
	}
	waitFor(t, "track c playing", func() bool {
		snap := engine.Snapshot()
		return snap.State == playback.StatePlaying && snap.CurrentIndex == 2
	})

	if err := s.handlePlay([]any{map[string]interface{}{
		"track": map[string]interface{}{"id": "z", "url": "http://example.com/z"},
	}}); err != nil {
		t.Fatalf("play track failed: %v", err)
	}
	waitFor(t, "track z playing", func() bool {
		snap := engine.Snapshot()
		return snap.State == playback.StatePlaying && snap.Current != nil && snap.Current.ID == "z"
	})

	engine.Pause()
	s.handlePlay(nil)
	waitFor(t, "resume", func() bool { return engine.Snapshot().State == playback.StatePlaying })
}

func TestActivateRetriesBlockedLoad(t *testing.T) {
	backend := &stubBackend{gated: true}
	s, engine := newTestServer(t, backend, WithActivator(backend))
	s.handleSetQueue(queueArg("a"))

	s.handlePlay(nil)
	waitFor(t, "error state", func() bool { return engine.Snapshot().State == playback.StateError })

	s.handleActivate(nil)
	waitFor(t, "playing after activation", func() bool { return engine.Snapshot().State == playback.StatePlaying })
}

func TestEngineEventsReachBroadcast(t *testing.T) {
	s, engine := newTestServer(t, &stubBackend{}, WithDebounceWindow(10*time.Millisecond))

	engine.SetVolume(0.3)
	waitFor(t, "state broadcast", func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.lastState != nil && s.lastState["volume"] == 0.3
	})
}

// fakeCache records calls.
type fakeCache struct {
	mu      sync.Mutex
	stats   audiocache.Stats
	items   []audiocache.Item
	removed []string
	cleared bool
	err     error
}

func (c *fakeCache) Stats() (audiocache.Stats, error) { return c.stats, c.err }
func (c *fakeCache) List() ([]audiocache.Item, error) { return c.items, c.err }
func (c *fakeCache) Remove(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, url)
	return c.err
}
func (c *fakeCache) ClearAll() error {
	c.cleared = true
	return c.err
}

type fakeHistory struct {
	limit     int
	mostLimit int
}

func (h *fakeHistory) Recent(limit int) []history.Entry {
	h.limit = limit
	return []history.Entry{{TrackID: "a", PlayCount: 3}}
}

func (h *fakeHistory) MostPlayed(limit int) []history.Entry {
	h.mostLimit = limit
	return []history.Entry{{TrackID: "b", PlayCount: 9}, {TrackID: "a", PlayCount: 3}}
}

func TestCacheHandlers(t *testing.T) {
	cleanup := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cache := &fakeCache{
		stats: audiocache.Stats{
			TotalSize:       1536,
			TotalFiles:      1,
			MaxSize:         500 << 20,
			MaxFiles:        1000,
			UsagePercentage: 0.0003,
			LastCleanup:     cleanup,
		},
		items: []audiocache.Item{{
			ID:       audiocache.Key("http://example.com/a"),
			URL:      "http://example.com/a",
			Size:     1536,
			Metadata: &audiocache.Metadata{Title: "A", Artist: "X", Duration: 3 * time.Minute},
		}},
	}
	hist := &fakeHistory{}
	s, _ := newTestServer(t, &stubBackend{}, WithCache(cache), WithHistory(hist))
	h := s.cache

	stats := h.stats()
	if !stats.Available || stats.TotalSizeText != "1.5 KB" || stats.MaxSizeText != "500.0 MB" {
		t.Errorf("unexpected stats response %+v", stats)
	}
	if stats.LastCleanup != "2024-05-01T10:00:00Z" {
		t.Errorf("unexpected lastCleanup %q", stats.LastCleanup)
	}

	list := h.list()
	if len(list) != 1 || list[0].Title != "A" || list[0].Duration != 180 || list[0].SizeText != "1.5 KB" {
		t.Errorf("unexpected list response %+v", list)
	}

	if err := h.remove([]any{map[string]interface{}{"url": "http://example.com/a"}}); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(cache.removed) != 1 || cache.removed[0] != "http://example.com/a" {
		t.Errorf("expected removal of the url, got %v", cache.removed)
	}
	if err := h.remove([]any{map[string]interface{}{}}); err == nil {
		t.Error("expected remove without url to fail")
	}

	if err := h.clear(); err != nil || !cache.cleared {
		t.Errorf("expected cache cleared, err=%v", err)
	}

	if got := h.recent([]any{map[string]interface{}{"limit": 5.0}}); len(got) != 1 || hist.limit != 5 {
		t.Errorf("expected history with limit 5, got %v (limit %d)", got, hist.limit)
	}
	h.recent([]any{7.0})
	if hist.limit != 7 {
		t.Errorf("expected bare limit 7, got %d", hist.limit)
	}

	most := h.mostPlayed([]any{map[string]interface{}{"limit": 2.0}})
	if len(most) != 2 || most[0].TrackID != "b" || hist.mostLimit != 2 {
		t.Errorf("expected most played with limit 2, got %v (limit %d)", most, hist.mostLimit)
	}
	h.mostPlayed(nil)
	if hist.mostLimit != 0 {
		t.Errorf("expected default limit, got %d", hist.mostLimit)
	}
}

func TestCacheHandlersWithoutStore(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})
	h := s.cache

	if h.stats().Available {
		t.Error("expected unavailable stats without a store")
	}
	if len(h.list()) != 0 {
		t.Error("expected empty list without a store")
	}
	if err := h.clear(); !errors.Is(err, audiocache.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if got := h.recent(nil); len(got) != 0 {
		t.Errorf("expected empty history, got %v", got)
	}
	if got := h.mostPlayed(nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty most played list, got %v", got)
	}
}

func TestCacheHandlersStoreFailure(t *testing.T) {
	cache := &fakeCache{err: audiocache.ErrUnavailable}
	s, _ := newTestServer(t, &stubBackend{}, WithCache(cache))

	if s.cache.stats().Available {
		t.Error("expected unavailable stats when the store fails")
	}
	if err := s.cache.remove([]any{map[string]interface{}{"url": "u"}}); !errors.Is(err, audiocache.ErrUnavailable) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestErrorPayload(t *testing.T) {
	err := &playback.LoadError{
		Kind:  playback.KindNetwork,
		Track: &playback.Track{ID: "a"},
		Err:   errors.New("connection reset"),
	}
	p := errorPayload(err)
	if p.Kind != "network" || p.TrackID != "a" || p.Message == "" {
		t.Errorf("unexpected payload %+v", p)
	}
}
