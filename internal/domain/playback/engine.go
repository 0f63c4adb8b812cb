package playback

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tasselx/taimusic/internal/infra/audiocache"
)

// DefaultVolume is the initial output volume.
const DefaultVolume = 0.8

// Engine owns the queue, the current position, the play mode, volume and the
// playback state machine. All methods are safe for concurrent use.
//
// Loads run outside the engine lock. Every load is tagged with a generation;
// a completion whose generation is no longer current is discarded.
type Engine struct {
	mu sync.Mutex

	backend      Backend
	store        Store
	fetcher      Fetcher
	resolver     Resolver
	notifier     *Notifier
	ownsNotifier bool
	rng          *rand.Rand
	progress     sampler

	queue  Queue
	state  State
	mode   Mode
	volume float64
	muted  bool

	gen        uint64
	loadCancel context.CancelFunc
	closed     bool

	writebacks sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the content cache consulted before fetching.
func WithStore(s Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithFetcher sets the network fetcher used on cache misses.
func WithFetcher(f Fetcher) Option {
	return func(e *Engine) {
		e.fetcher = f
	}
}

// WithResolver sets the resolver for tracks queued without a URL.
func WithResolver(r Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithNotifier publishes events to n instead of a private notifier.
// The caller keeps ownership and must close it.
func WithNotifier(n *Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithProgressInterval sets the progress sampling interval.
func WithProgressInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.progress.interval = d
		}
	}
}

// WithRand sets the random source used by ModeRandom.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = r
	}
}

// WithInitialQueue restores a queue handed over by the host.
func WithInitialQueue(tracks []Track, index int) Option {
	return func(e *Engine) {
		e.queue = NewQueue(tracks, index)
	}
}

// WithVolume sets the initial volume.
func WithVolume(v float64) Option {
	return func(e *Engine) {
		e.volume = clampVolume(v)
	}
}

// WithMode sets the initial play mode. Invalid modes are ignored.
func WithMode(m Mode) Option {
	return func(e *Engine) {
		if m.Valid() {
			e.mode = m
		}
	}
}

// NewEngine creates an engine driving backend.
func NewEngine(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:  backend,
		progress: sampler{interval: DefaultProgressInterval},
		queue:    Queue{CurrentIndex: -1},
		state:    StateIdle,
		mode:     ModeSequence,
		volume:   DefaultVolume,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if e.notifier == nil {
		e.notifier = NewNotifier()
		e.ownsNotifier = true
	}

	if err := e.backend.SetVolume(e.effectiveVolume()); err != nil {
		log.Warn().Err(err).Msg("Failed to apply initial volume")
	}
	return e
}

// Subscribe registers a listener for engine events.
func (e *Engine) Subscribe(l Listener) (unsubscribe func()) {
	return e.notifier.Subscribe(l)
}

// loadRequest is one attempt to bring a queue entry to Playing.
type loadRequest struct {
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	track   Track
	attempt string
}

// Play starts playback.
//
// With a track, the track is located in the queue by ID (or appended) and
// loaded. Without one, a paused track resumes, otherwise the current queue
// entry is (re)loaded. Play blocks until its load attempt reaches Playing or
// Error, or is superseded by a newer request.
//
// Load failures are reported through a loadError event and the Error state,
// not through the return value. The returned error is non-nil only when the
// track to load has no URL and cannot be resolved; the engine is left
// untouched then. A track without a URL that is already queued with one plays
// from the queued URL.
func (e *Engine) Play(ctx context.Context, track *Track) error {
	if track == nil {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil
		}
		if e.state == StatePaused {
			e.resumeLocked()
			e.mu.Unlock()
			return nil
		}
		if e.queue.Len() == 0 {
			e.mu.Unlock()
			return nil
		}
		idx := e.queue.CurrentIndex
		url, err := e.prepareLocked(ctx, idx)
		if err != nil {
			e.mu.Unlock()
			return resolutionError(err)
		}
		req := e.beginLoadLocked(ctx, idx, url)
		e.mu.Unlock()

		e.runLoad(req)
		return nil
	}

	t := *track
	if t.URL == "" {
		e.mu.Lock()
		if idx := e.queue.IndexOf(t.ID); idx >= 0 {
			t.URL = e.queue.Tracks[idx].URL
		}
		e.mu.Unlock()
	}
	if t.URL == "" {
		url, err := e.resolve(ctx, t)
		if err != nil {
			e.mu.Lock()
			lerr := e.unresolvableLocked(t, err)
			e.mu.Unlock()
			return lerr
		}
		t.URL = url
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	idx := e.queue.IndexOf(t.ID)
	if idx < 0 {
		idx = e.queue.Insert(t, -1)
		e.emitLocked(Event{Type: EventQueueChange, Queue: e.queue.Snapshot()})
	}
	req := e.beginLoadLocked(ctx, idx, t.URL)
	e.mu.Unlock()

	e.runLoad(req)
	return nil
}

// PlayIndex loads the queue entry at index. Out-of-range indexes are ignored.
func (e *Engine) PlayIndex(ctx context.Context, index int) {
	e.mu.Lock()
	if e.closed || index < 0 || index >= e.queue.Len() {
		e.mu.Unlock()
		return
	}
	url, err := e.prepareLocked(ctx, index)
	if err != nil {
		e.mu.Unlock()
		return
	}
	req := e.beginLoadLocked(ctx, index, url)
	e.mu.Unlock()

	e.runLoad(req)
}

// Next advances according to the play mode. In ModeSequence on the last
// track, playback stops.
func (e *Engine) Next(ctx context.Context) {
	e.mu.Lock()
	if e.closed || e.queue.Len() == 0 {
		e.mu.Unlock()
		return
	}
	next := nextIndex(e.mode, e.queue.CurrentIndex, e.queue.Len(), e.rng)
	if next == noNext {
		e.stopLocked()
		e.mu.Unlock()
		return
	}
	url, err := e.prepareLocked(ctx, next)
	if err != nil {
		e.mu.Unlock()
		return
	}
	req := e.beginLoadLocked(ctx, next, url)
	e.mu.Unlock()

	e.runLoad(req)
}

// Previous moves back one track. Only ModeLoop wraps from the first track.
func (e *Engine) Previous(ctx context.Context) {
	e.mu.Lock()
	if e.closed || e.queue.Len() == 0 {
		e.mu.Unlock()
		return
	}
	prev := previousIndex(e.mode, e.queue.CurrentIndex, e.queue.Len())
	if prev == noNext {
		e.mu.Unlock()
		return
	}
	url, err := e.prepareLocked(ctx, prev)
	if err != nil {
		e.mu.Unlock()
		return
	}
	req := e.beginLoadLocked(ctx, prev, url)
	e.mu.Unlock()

	e.runLoad(req)
}

// Pause pauses a playing track.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlaying {
		return
	}
	if err := e.backend.Pause(); err != nil {
		log.Warn().Err(err).Msg("Backend pause failed")
		return
	}
	e.progress.stop()
	e.state = StatePaused
	e.emitLocked(Event{Type: EventPause})
}

// Resume continues a paused track.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumeLocked()
}

func (e *Engine) resumeLocked() {
	if e.state != StatePaused {
		return
	}
	if err := e.backend.Resume(); err != nil {
		log.Warn().Err(err).Msg("Backend resume failed")
		return
	}
	e.state = StatePlaying
	e.emitLocked(Event{Type: EventPlay, Track: e.queue.Current()})
	e.startProgressLocked(e.gen)
}

// Stop stops a loading, playing or paused track.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if !e.state.active() {
		return
	}
	e.teardownLocked()
	e.gen++
	e.state = StateStopped
	e.emitLocked(Event{Type: EventStop})
}

// Seek moves the play position of the playing track, clamped to [0, duration].
func (e *Engine) Seek(pos time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlaying {
		return
	}
	dur := e.backend.Duration()
	if pos < 0 {
		pos = 0
	}
	if dur > 0 && pos > dur {
		pos = dur
	}
	if err := e.backend.Seek(pos); err != nil {
		log.Warn().Err(err).Dur("position", pos).Msg("Backend seek failed")
		return
	}
	e.emitLocked(Event{Type: EventProgress, Position: e.backend.Position(), Duration: dur})
}

// SetVolume sets the volume, clamped to [0,1]. The mute flag is preserved.
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.volume = clampVolume(v)
	e.applyVolumeLocked()
}

// ToggleMute flips the mute flag without touching the stored volume.
func (e *Engine) ToggleMute() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.muted = !e.muted
	e.applyVolumeLocked()
}

// SetMute sets the mute flag.
func (e *Engine) SetMute(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.muted == muted {
		return
	}
	e.muted = muted
	e.applyVolumeLocked()
}

func (e *Engine) applyVolumeLocked() {
	if err := e.backend.SetVolume(e.effectiveVolume()); err != nil {
		log.Warn().Err(err).Msg("Backend volume change failed")
	}
	e.emitLocked(Event{Type: EventVolumeChange, Volume: e.volume, Muted: e.muted})
}

func (e *Engine) effectiveVolume() float64 {
	if e.muted {
		return 0
	}
	return e.volume
}

// SetMode changes the play mode.
func (e *Engine) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("unknown play mode %q", m)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.mode = m
	e.emitLocked(Event{Type: EventModeChange, Mode: m})
	return nil
}

// SetQueue replaces the queue and positions it at startIndex (clamped).
// Anything active is stopped first; playback is not started.
func (e *Engine) SetQueue(tracks []Track, startIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
	e.queue = NewQueue(tracks, startIndex)
	e.emitLocked(Event{Type: EventQueueChange, Queue: e.queue.Snapshot()})
	e.emitLocked(Event{Type: EventSongChange, Track: e.queue.Current()})
}

// AddToQueue inserts track at index, or appends when index < 0.
func (e *Engine) AddToQueue(track Track, index int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasEmpty := e.queue.Len() == 0
	e.queue.Insert(track, index)
	e.emitLocked(Event{Type: EventQueueChange, Queue: e.queue.Snapshot()})
	if wasEmpty {
		e.emitLocked(Event{Type: EventSongChange, Track: e.queue.Current()})
	}
}

// RemoveFromQueue deletes the entry at index. Removing the current entry
// stops playback.
func (e *Engine) RemoveFromQueue(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index >= e.queue.Len() {
		return
	}
	wasCurrent := index == e.queue.CurrentIndex
	if wasCurrent {
		e.stopLocked()
	}
	e.queue.Remove(index)

	e.emitLocked(Event{Type: EventQueueChange, Queue: e.queue.Snapshot()})
	if wasCurrent {
		e.emitLocked(Event{Type: EventSongChange, Track: e.queue.Current()})
	}
}

// ClearQueue stops playback and empties the queue.
func (e *Engine) ClearQueue() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
	e.queue.Clear()
	e.emitLocked(Event{Type: EventQueueChange, Queue: nil})
	e.emitLocked(Event{Type: EventSongChange, Track: nil})
}

// Snapshot returns a copy of the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		State:        e.state,
		Queue:        e.queue.Snapshot(),
		CurrentIndex: e.queue.CurrentIndex,
		Current:      e.queue.Current(),
		Volume:       e.volume,
		Muted:        e.muted,
		Mode:         e.mode,
	}
	if e.state == StatePlaying || e.state == StatePaused {
		s.Position = e.backend.Position()
		s.Duration = e.backend.Duration()
	}
	return s
}

// Close stops playback, waits for pending cache write-backs and releases the
// notifier if the engine created it.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.teardownLocked()
	e.gen++
	e.closed = true
	e.mu.Unlock()

	e.writebacks.Wait()
	if e.ownsNotifier {
		e.notifier.Close()
	}
}

// beginLoadLocked moves to Loading for the queue entry at idx and returns the
// request the caller must run with runLoad. url stands in for an entry queued
// without one.
func (e *Engine) beginLoadLocked(ctx context.Context, idx int, url string) *loadRequest {
	e.teardownLocked()
	e.gen++

	if ctx == nil {
		ctx = context.Background()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	e.loadCancel = cancel

	e.queue.CurrentIndex = idx
	t := e.queue.Tracks[idx]
	if t.URL == "" {
		t.URL = url
	}
	e.state = StateLoading
	e.emitLocked(Event{Type: EventSongChange, Track: &t})

	return &loadRequest{
		gen:     e.gen,
		ctx:     loadCtx,
		cancel:  cancel,
		track:   t,
		attempt: uuid.New().String(),
	}
}

// teardownLocked cancels an in-flight load and stops whatever the backend holds.
func (e *Engine) teardownLocked() {
	if e.loadCancel != nil {
		e.loadCancel()
		e.loadCancel = nil
	}
	e.progress.stop()
	if e.state == StatePlaying || e.state == StatePaused {
		if err := e.backend.Stop(); err != nil {
			log.Warn().Err(err).Msg("Backend stop failed")
		}
	}
}

// runLoad performs the suspending part of a load: backend readiness, cache
// lookup and network fetch. It then applies the result if still current.
func (e *Engine) runLoad(req *loadRequest) {
	defer req.cancel()

	logger := log.With().Str("attempt", req.attempt).Str("track", req.track.ID).Logger()

	if err := e.backend.Ready(req.ctx); err != nil {
		e.failLoad(req, KindBackend, err)
		return
	}

	t := req.track
	data, cached := e.lookup(t.URL)
	if cached {
		logger.Debug().Int("bytes", len(data)).Msg("Playing from cache")
	} else {
		if e.fetcher == nil {
			e.failLoad(req, KindNetwork, errors.New("no fetcher configured"))
			return
		}
		logger.Debug().Str("url", t.URL).Msg("Fetching from network")
		var err error
		data, err = e.fetcher.Fetch(req.ctx, t.URL)
		if err != nil {
			e.failLoad(req, KindNetwork, err)
			return
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.currentLocked(req) {
		logger.Debug().Msg("Discarding stale load")
		return
	}

	onEnd := func() { e.handleEnd(req.gen) }
	if err := e.backend.Load(req.ctx, Source{URL: t.URL, Data: data, Cached: cached}, onEnd); err != nil {
		e.failLoadLocked(req, classifyBackendError(err), err)
		return
	}
	if err := e.backend.SetVolume(e.effectiveVolume()); err != nil {
		logger.Warn().Err(err).Msg("Backend volume change failed")
	}
	if err := e.backend.Start(); err != nil {
		e.failLoadLocked(req, KindBackend, err)
		return
	}

	e.loadCancel = nil
	e.state = StatePlaying
	e.emitLocked(Event{Type: EventLoad})
	e.emitLocked(Event{Type: EventPlay, Track: &t})
	e.startProgressLocked(req.gen)

	if !cached {
		e.writeBackLocked(t, data)
	}
}

func (e *Engine) currentLocked(req *loadRequest) bool {
	return !e.closed && req.gen == e.gen
}

func (e *Engine) failLoad(req *loadRequest, kind ErrorKind, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failLoadLocked(req, kind, err)
}

func (e *Engine) failLoadLocked(req *loadRequest, kind ErrorKind, err error) {
	if !e.currentLocked(req) {
		log.Debug().Err(err).Str("attempt", req.attempt).Msg("Discarding stale load failure")
		return
	}

	e.loadCancel = nil
	t := req.track

	// The caller gave up on this load; that is not a playback failure.
	if req.ctx.Err() != nil {
		e.gen++
		e.state = StateStopped
		e.emitLocked(Event{Type: EventStop})
		return
	}

	lerr := &LoadError{Kind: kind, Attempt: req.attempt, Track: &t, Err: err}
	log.Error().Err(err).
		Str("attempt", req.attempt).
		Str("track", t.ID).
		Str("kind", string(kind)).
		Msg("Track load failed")

	e.state = StateError
	e.emitLocked(Event{Type: EventLoadError, Err: lerr, Track: &t})
}

// handleEnd reacts to the backend finishing the track loaded under gen.
func (e *Engine) handleEnd(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.gen || e.state != StatePlaying {
		e.mu.Unlock()
		return
	}

	e.progress.stop()
	e.emitLocked(Event{Type: EventEnd})

	next := endIndex(e.mode, e.queue.CurrentIndex, e.queue.Len(), e.rng)
	if next == noNext {
		e.stopLocked()
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	// Not on the backend's goroutine: resolving and fetching may take a while.
	go e.advance(gen, next)
}

// advance loads the entry at next after the track loaded under gen ended.
// A next entry that cannot be resolved stops playback where it is.
func (e *Engine) advance(gen uint64, next int) {
	ctx := context.Background()

	e.mu.Lock()
	if e.closed || gen != e.gen || e.state != StatePlaying {
		e.mu.Unlock()
		return
	}
	url, err := e.prepareLocked(ctx, next)
	if err != nil {
		if !errors.Is(err, errSuperseded) && e.state == StatePlaying {
			e.stopLocked()
		}
		e.mu.Unlock()
		return
	}
	req := e.beginLoadLocked(ctx, next, url)
	e.mu.Unlock()

	e.runLoad(req)
}

func (e *Engine) startProgressLocked(gen uint64) {
	e.progress.start(func(ctx context.Context) {
		e.mu.Lock()
		defer e.mu.Unlock()

		if ctx.Err() != nil || gen != e.gen || e.state != StatePlaying {
			return
		}
		e.emitLocked(Event{
			Type:     EventProgress,
			Position: e.backend.Position(),
			Duration: e.backend.Duration(),
		})
	})
}

// lookup consults the cache. Cache failures count as misses.
func (e *Engine) lookup(url string) ([]byte, bool) {
	if e.store == nil {
		return nil, false
	}
	data, err := e.store.Get(url)
	if err != nil {
		if !errors.Is(err, audiocache.ErrNotFound) {
			log.Warn().Err(err).Str("url", url).Msg("Cache lookup failed, fetching from network")
		}
		return nil, false
	}
	return data, true
}

// writeBackLocked stores a fetched payload in the background. The result never
// affects playback state.
func (e *Engine) writeBackLocked(t Track, data []byte) {
	if e.store == nil {
		return
	}

	duration := e.backend.Duration()
	if duration <= 0 {
		duration = t.Duration
	}
	meta := &audiocache.Metadata{
		Title:    t.Title,
		Artist:   t.Artist,
		Duration: duration,
	}

	e.writebacks.Add(1)
	go func() {
		defer e.writebacks.Done()
		if err := e.store.Put(t.URL, data, meta); err != nil {
			log.Warn().Err(err).Str("url", t.URL).Msg("Cache write-back failed")
			return
		}
		log.Debug().Str("url", t.URL).Int("bytes", len(data)).Msg("Cached audio payload")
	}()
}

// errSuperseded reports that the engine changed while a URL was being resolved.
var errSuperseded = errors.New("superseded while resolving")

// prepareLocked returns the URL to load the queue entry at idx with. An entry
// queued without one is resolved with e.mu released; the engine is then
// rechecked and errSuperseded returned if anything else took over. A
// resolution failure is published as a loadError and returned as a
// *LoadError; state, queue and index are left as they were.
func (e *Engine) prepareLocked(ctx context.Context, idx int) (string, error) {
	t := e.queue.Tracks[idx]
	if t.URL != "" {
		return t.URL, nil
	}

	gen := e.gen
	e.mu.Unlock()
	url, err := e.resolve(ctx, t)
	e.mu.Lock()

	if e.closed || gen != e.gen || idx >= e.queue.Len() || e.queue.Tracks[idx].ID != t.ID {
		return "", errSuperseded
	}
	if err != nil {
		return "", e.unresolvableLocked(t, err)
	}
	return url, nil
}

// unresolvableLocked publishes a resolution loadError for t.
func (e *Engine) unresolvableLocked(t Track, err error) *LoadError {
	lerr := &LoadError{Kind: KindResolution, Attempt: uuid.New().String(), Track: &t, Err: err}
	log.Warn().Err(err).Str("track", t.ID).Msg("Track not resolvable")
	e.emitLocked(Event{Type: EventLoadError, Err: lerr, Track: &t})
	return lerr
}

// resolutionError maps a prepareLocked failure to Play's return value.
func resolutionError(err error) error {
	if errors.Is(err, errSuperseded) {
		return nil
	}
	return err
}

func (e *Engine) resolve(ctx context.Context, t Track) (string, error) {
	if e.resolver == nil {
		return "", fmt.Errorf("%w: no resolver for track %q", ErrNotResolvable, t.ID)
	}
	url, err := e.resolver.Resolve(ctx, t.ID)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", fmt.Errorf("%w: empty url for track %q", ErrNotResolvable, t.ID)
	}
	return url, nil
}

// emitLocked publishes ev stamped with the current state.
func (e *Engine) emitLocked(ev Event) {
	ev.State = e.state
	e.notifier.Publish(ev)
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
