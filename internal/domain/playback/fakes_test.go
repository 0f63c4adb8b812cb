package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tasselx/taimusic/internal/infra/audiocache"
)

// mockBackend records calls and lets tests finish the loaded track.
type mockBackend struct {
	mu sync.Mutex

	ReadyError error
	LoadError  error
	StartError error

	Loaded   []Source
	Calls    []string
	Volume   float64
	Pos      time.Duration
	Dur      time.Duration
	SeekedTo time.Duration

	onEnd func()
}

func newMockBackend() *mockBackend {
	return &mockBackend{Dur: 3 * time.Minute}
}

func (m *mockBackend) record(call string) {
	m.Calls = append(m.Calls, call)
}

func (m *mockBackend) Ready(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ready")
	return m.ReadyError
}

func (m *mockBackend) Load(ctx context.Context, src Source, onEnd func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("load")
	if m.LoadError != nil {
		return m.LoadError
	}
	m.Loaded = append(m.Loaded, src)
	m.onEnd = onEnd
	m.Pos = 0
	return nil
}

func (m *mockBackend) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("start")
	return m.StartError
}

func (m *mockBackend) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("pause")
	return nil
}

func (m *mockBackend) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("resume")
	return nil
}

func (m *mockBackend) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop")
	m.onEnd = nil
	return nil
}

func (m *mockBackend) Seek(pos time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("seek")
	m.SeekedTo = pos
	m.Pos = pos
	return nil
}

func (m *mockBackend) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Pos
}

func (m *mockBackend) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Dur
}

func (m *mockBackend) SetVolume(v float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Volume = v
	return nil
}

// finish simulates the loaded track reaching its end.
func (m *mockBackend) finish() {
	m.mu.Lock()
	onEnd := m.onEnd
	m.mu.Unlock()
	if onEnd != nil {
		onEnd()
	}
}

func (m *mockBackend) loadedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	urls := make([]string, 0, len(m.Loaded))
	for _, s := range m.Loaded {
		urls = append(urls, s.URL)
	}
	return urls
}

func (m *mockBackend) volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Volume
}

// mockStore is an in-memory content cache.
type mockStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	GetError error
	PutError error
	puts     chan string
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string][]byte), puts: make(chan string, 16)}
}

func (s *mockStore) Get(url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetError != nil {
		return nil, s.GetError
	}
	b, ok := s.data[url]
	if !ok {
		return nil, audiocache.ErrNotFound
	}
	return b, nil
}

func (s *mockStore) Put(url string, data []byte, meta *audiocache.Metadata) error {
	s.mu.Lock()
	err := s.PutError
	if err == nil {
		s.data[url] = data
	}
	s.mu.Unlock()
	select {
	case s.puts <- url:
	default:
	}
	return err
}

func (s *mockStore) has(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[url]
	return ok
}

// mockFetcher serves payloads from a map. URLs listed in block wait until
// released or until the request context is done.
type mockFetcher struct {
	mu      sync.Mutex
	payload map[string][]byte
	Err     error
	fetched []string

	block   map[string]chan struct{}
	started chan string
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		payload: make(map[string][]byte),
		block:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (f *mockFetcher) hold(url string, ignoreCancel bool) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block[url] = ch
	if ignoreCancel {
		f.block[url+"#ignore"] = ch
	}
	return ch
}

func (f *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	gate := f.block[url]
	_, ignoreCancel := f.block[url+"#ignore"]
	data, ok := f.payload[url]
	err := f.Err
	f.mu.Unlock()

	select {
	case f.started <- url:
	default:
	}
	if gate != nil {
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if err != nil {
		return nil, err
	}
	if !ok {
		data = []byte("audio:" + url)
	}
	return data, nil
}

func (f *mockFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type mockResolver struct {
	urls map[string]string
	Err  error
}

func (r *mockResolver) Resolve(ctx context.Context, id string) (string, error) {
	if r.Err != nil {
		return "", r.Err
	}
	if u, ok := r.urls[id]; ok {
		return u, nil
	}
	return "", ErrNotResolvable
}

// recorder collects events delivered by the notifier.
type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1)}
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) types() []EventType {
	var out []EventType
	for _, ev := range r.all() {
		if ev.Type == EventProgress {
			continue
		}
		out = append(out, ev.Type)
	}
	return out
}

// waitFor blocks until an event matching match has been recorded.
func (r *recorder) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, ev := range r.all() {
			if match(ev) {
				return ev
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("Timed out waiting for event, got %v", r.types())
			return Event{}
		}
	}
}

func (r *recorder) waitType(t *testing.T, typ EventType, n int) {
	t.Helper()
	r.waitFor(t, func(Event) bool {
		count := 0
		for _, ev := range r.all() {
			if ev.Type == typ {
				count++
			}
		}
		return count >= n
	})
}

var errBoom = errors.New("boom")

func tracks(ids ...string) []Track {
	out := make([]Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, Track{ID: id, Title: "Title " + id, URL: "http://example.com/" + id + ".mp3"})
	}
	return out
}

type harness struct {
	engine  *Engine
	backend *mockBackend
	store   *mockStore
	fetcher *mockFetcher
	events  *recorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		backend: newMockBackend(),
		store:   newMockStore(),
		fetcher: newMockFetcher(),
		events:  newRecorder(),
	}
	base := []Option{
		WithStore(h.store),
		WithFetcher(h.fetcher),
		WithProgressInterval(time.Hour),
	}
	h.engine = NewEngine(h.backend, append(base, opts...)...)
	h.engine.Subscribe(h.events)
	t.Cleanup(h.engine.Close)
	return h
}
