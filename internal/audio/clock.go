package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tasselx/taimusic/internal/domain/playback"
)

// fallbackBitrate is assumed when a payload carries no duration.
const fallbackBitrate = 128000

// Clock is a software output: it validates payloads with Probe and keeps a
// wall-clock position, reporting the end of each track on time. It drives
// headless deployments and tests.
type Clock struct {
	mu sync.Mutex

	requireActivation bool
	activated         bool
	controller        *Controller

	loaded   bool
	duration time.Duration

	playing   bool
	offset    time.Duration // Position when playback last (re)started
	startedAt time.Time
	timer     *time.Timer
	loadID    uint64
	onEnd     func()

	now func() time.Time
}

// ClockOption configures a Clock.
type ClockOption func(*Clock)

// WithActivation makes Ready fail until Activate is called.
func WithActivation(required bool) ClockOption {
	return func(c *Clock) {
		c.requireActivation = required
	}
}

// WithController reports format and lock changes to ctrl.
func WithController(ctrl *Controller) ClockOption {
	return func(c *Clock) {
		c.controller = ctrl
	}
}

// NewClock creates a software output.
func NewClock(opts ...ClockOption) *Clock {
	c := &Clock{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate satisfies the activation precondition.
func (c *Clock) Activate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activated {
		log.Info().Msg("Audio output activated")
	}
	c.activated = true
}

// Ready implements playback.Backend.
func (c *Clock) Ready(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requireActivation && !c.activated {
		return fmt.Errorf("%w: output needs activation", playback.ErrBackendNotReady)
	}
	return nil
}

// Load implements playback.Backend.
func (c *Clock) Load(ctx context.Context, src playback.Source, onEnd func()) error {
	f, err := Probe(src.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", playback.ErrDecode, err)
	}

	duration := f.Duration
	if duration <= 0 {
		duration = EstimateDuration(len(src.Data), fallbackBitrate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.loadID++
	c.loaded = true
	c.duration = duration
	c.playing = false
	c.offset = 0
	c.onEnd = onEnd

	if c.controller != nil {
		c.controller.UpdateFromProbe(f)
	}

	log.Debug().
		Str("url", src.URL).
		Str("container", f.Container).
		Bool("cached", src.Cached).
		Dur("duration", duration).
		Msg("Loaded payload")
	return nil
}

// Start implements playback.Backend.
func (c *Clock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return errors.New("nothing loaded")
	}
	c.runLocked()
	return nil
}

// Pause implements playback.Backend.
func (c *Clock) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return nil
	}
	c.offset = c.positionLocked()
	c.playing = false
	c.stopTimerLocked()
	if c.controller != nil {
		c.controller.OnPlaybackStop()
	}
	return nil
}

// Resume implements playback.Backend.
func (c *Clock) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return errors.New("nothing loaded")
	}
	if !c.playing {
		c.runLocked()
	}
	return nil
}

// Stop implements playback.Backend.
func (c *Clock) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.loadID++
	c.loaded = false
	c.playing = false
	c.offset = 0
	c.onEnd = nil
	if c.controller != nil {
		c.controller.OnPlaybackStop()
		c.controller.UpdateFromProbe(nil)
	}
	return nil
}

// Seek implements playback.Backend.
func (c *Clock) Seek(pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return errors.New("nothing loaded")
	}
	if pos < 0 {
		pos = 0
	}
	if pos > c.duration {
		pos = c.duration
	}
	c.offset = pos
	if c.playing {
		c.runLocked()
	}
	return nil
}

// Position implements playback.Backend.
func (c *Clock) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

// Duration implements playback.Backend.
func (c *Clock) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// SetVolume implements playback.Backend. The clock produces no sound, so the
// level is ignored.
func (c *Clock) SetVolume(v float64) error {
	return nil
}

func (c *Clock) positionLocked() time.Duration {
	if !c.loaded {
		return 0
	}
	pos := c.offset
	if c.playing {
		pos += c.now().Sub(c.startedAt)
	}
	if pos > c.duration {
		pos = c.duration
	}
	return pos
}

// runLocked (re)starts the clock from c.offset and arms the end timer.
func (c *Clock) runLocked() {
	c.stopTimerLocked()
	c.playing = true
	c.startedAt = c.now()
	if c.controller != nil {
		c.controller.OnPlaybackStart()
	}

	id := c.loadID
	remaining := c.duration - c.offset
	if remaining < 0 {
		remaining = 0
	}
	// AfterFunc runs on its own goroutine, never inside a Clock method.
	c.timer = time.AfterFunc(remaining, func() { c.finish(id) })
}

func (c *Clock) finish(id uint64) {
	c.mu.Lock()
	if id != c.loadID || !c.playing {
		c.mu.Unlock()
		return
	}
	c.offset = c.duration
	c.playing = false
	c.timer = nil
	onEnd := c.onEnd
	c.onEnd = nil
	if c.controller != nil {
		c.controller.OnPlaybackStop()
	}
	c.mu.Unlock()

	if onEnd != nil {
		onEnd()
	}
}

func (c *Clock) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
