package socketio

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/tasselx/taimusic/internal/domain/playback"
)

func TestDebouncerRapidStateEventsCollapseToOne(t *testing.T) {
	var stateCalls int32
	var queueCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&queueCalls, 1) },
	)
	defer d.Stop()

	// Fire 10 rapid state events
	for i := 0; i < 10; i++ {
		d.Trigger(playback.EventPlay)
	}

	// Wait for debounce window to elapse
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback, got %d", got)
	}
	if got := atomic.LoadInt32(&queueCalls); got != 0 {
		t.Errorf("expected 0 queue callbacks, got %d", got)
	}
}

func TestDebouncerRapidVolumeEventsCollapseToOne(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)
	defer d.Stop()

	// Simulate dragging a volume slider
	for i := 0; i < 20; i++ {
		d.Trigger(playback.EventVolumeChange)
		time.Sleep(5 * time.Millisecond)
	}

	// Wait for debounce window
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback for rapid volume events, got %d", got)
	}
}

func TestDebouncerQueueChangeTriggersBothStateAndQueue(t *testing.T) {
	var stateCalls int32
	var queueCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&queueCalls, 1) },
	)
	defer d.Stop()

	d.Trigger(playback.EventQueueChange)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback for queue change, got %d", got)
	}
	if got := atomic.LoadInt32(&queueCalls); got != 1 {
		t.Errorf("expected 1 queue callback for queue change, got %d", got)
	}
}

func TestDebouncerMixedEventsWithinWindow(t *testing.T) {
	var stateCalls int32
	var queueCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&queueCalls, 1) },
	)
	defer d.Stop()

	// Mix of events within the window
	d.Trigger(playback.EventSongChange)
	d.Trigger(playback.EventVolumeChange)
	d.Trigger(playback.EventQueueChange)
	d.Trigger(playback.EventModeChange)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback for mixed events, got %d", got)
	}
	if got := atomic.LoadInt32(&queueCalls); got != 1 {
		t.Errorf("expected 1 queue callback for mixed events, got %d", got)
	}
}

func TestDebouncerSeparateWindowsFireIndependently(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)
	defer d.Stop()

	// First burst
	d.Trigger(playback.EventPause)
	time.Sleep(100 * time.Millisecond) // Wait for first flush

	// Second burst (separate window)
	d.Trigger(playback.EventPause)
	time.Sleep(100 * time.Millisecond) // Wait for second flush

	if got := atomic.LoadInt32(&stateCalls); got != 2 {
		t.Errorf("expected 2 state callbacks for separate windows, got %d", got)
	}
}

func TestDebouncerStopPreventsCallbacks(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)

	d.Trigger(playback.EventPause)
	d.Stop()

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected 0 state callbacks after stop, got %d", got)
	}
}

func TestDebouncerTriggerAfterStopIsIgnored(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)

	d.Stop()
	d.Trigger(playback.EventPause)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected 0 state callbacks after stop+trigger, got %d", got)
	}
}

func TestDebouncerIgnoresProgress(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(20*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)
	defer d.Stop()

	d.Trigger(playback.EventProgress)
	time.Sleep(60 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected progress to bypass the debouncer, got %d state callbacks", got)
	}
}

func TestDebouncerSteadyStreamStillBroadcasts(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(20*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		nil,
	)
	defer d.Stop()

	// Events every 5ms never leave a quiet window, but maxWait (80ms) forces
	// flushes during the 300ms stream.
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		d.Trigger(playback.EventVolumeChange)
		time.Sleep(5 * time.Millisecond)
	}

	if got := atomic.LoadInt32(&stateCalls); got < 2 {
		t.Errorf("expected periodic broadcasts during a steady stream, got %d", got)
	}
}
