package socketio

import (
	"sync"
	"time"

	"github.com/tasselx/taimusic/internal/domain/playback"
)

// maxWaitFactor bounds how long a steady stream of events can hold back a
// broadcast, as a multiple of the window.
const maxWaitFactor = 4

// BroadcastDebouncer collapses bursts of engine events into batched broadcasts.
// Multiple events within the debounce window result in a single broadcast for
// each affected type (state and/or queue).
type BroadcastDebouncer struct {
	window        time.Duration
	maxWait       time.Duration
	stateCallback func()
	queueCallback func()

	mu           sync.Mutex
	pendingState bool
	pendingQueue bool
	pendingSince time.Time
	timer        *time.Timer
	stopped      bool
}

// NewBroadcastDebouncer creates a debouncer with the given window duration.
// stateCallback is called when state-changing events need broadcasting.
// queueCallback is called when queue changes need broadcasting.
func NewBroadcastDebouncer(window time.Duration, stateCallback, queueCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:        window,
		maxWait:       maxWaitFactor * window,
		stateCallback: stateCallback,
		queueCallback: queueCallback,
	}
}

// Trigger records an engine event. The actual broadcast callbacks are
// deferred until the debounce window elapses without further triggers, or
// until maxWait has passed since the first pending event.
// Progress events are not debounced here and are ignored.
func (d *BroadcastDebouncer) Trigger(ev playback.EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || ev == playback.EventProgress {
		return
	}

	now := time.Now()
	if !d.pendingState && !d.pendingQueue {
		d.pendingSince = now
	}
	switch ev {
	case playback.EventQueueChange:
		d.pendingState = true
		d.pendingQueue = true
	default:
		d.pendingState = true
	}

	// Keep the scheduled flush once the burst has been held long enough.
	if d.timer != nil && now.Sub(d.pendingSince) >= d.maxWait {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires callbacks for any pending flags and resets them.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	doState := d.pendingState
	doQueue := d.pendingQueue
	d.pendingState = false
	d.pendingQueue = false
	d.mu.Unlock()

	if doState && d.stateCallback != nil {
		d.stateCallback()
	}
	if doQueue && d.queueCallback != nil {
		d.queueCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingQueue = false
}
