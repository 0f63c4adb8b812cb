package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tasselx/taimusic/internal/audio"
	"github.com/tasselx/taimusic/internal/domain/playback"
)

// shortWAV lasts 50ms at 8kHz mono 8-bit.
func shortWAV() []byte {
	return wavPayload(8000, 1, 8, 400)
}

func TestClockActivation(t *testing.T) {
	clock := audio.NewClock(audio.WithActivation(true))

	err := clock.Ready(context.Background())
	if !errors.Is(err, playback.ErrBackendNotReady) {
		t.Fatalf("expected ErrBackendNotReady before activation, got %v", err)
	}

	clock.Activate()
	if err := clock.Ready(context.Background()); err != nil {
		t.Errorf("expected ready after activation, got %v", err)
	}

	if err := audio.NewClock().Ready(context.Background()); err != nil {
		t.Errorf("expected clock without activation gate to be ready, got %v", err)
	}
}

func TestClockLoadRejectsUndecodable(t *testing.T) {
	clock := audio.NewClock()

	err := clock.Load(context.Background(), playback.Source{Data: []byte("not audio")}, nil)
	if !errors.Is(err, playback.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
	if err := clock.Start(); err == nil {
		t.Error("expected Start to fail with nothing loaded")
	}
}

func TestClockReportsEnd(t *testing.T) {
	ctrl := audio.NewController()
	clock := audio.NewClock(audio.WithController(ctrl))

	ended := make(chan struct{}, 1)
	if err := clock.Load(context.Background(), playback.Source{Data: shortWAV()}, func() { ended <- struct{}{} }); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d := clock.Duration(); d != 50*time.Millisecond {
		t.Errorf("expected 50ms duration, got %v", d)
	}

	if err := clock.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !ctrl.GetStatus().Locked {
		t.Error("expected output to be locked while playing")
	}

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("expected end of track")
	}

	if pos := clock.Position(); pos != clock.Duration() {
		t.Errorf("expected position at end, got %v", pos)
	}
	if ctrl.GetStatus().Locked {
		t.Error("expected output to be unlocked after the end")
	}
	if f := ctrl.GetStatus().Format; f == nil || f.SampleRate != 8000 {
		t.Errorf("expected probed format in status, got %+v", f)
	}
}

func TestClockPauseHoldsPosition(t *testing.T) {
	clock := audio.NewClock()
	ended := make(chan struct{}, 1)
	clock.Load(context.Background(), playback.Source{Data: shortWAV()}, func() { ended <- struct{}{} })
	clock.Start()
	clock.Pause()

	held := clock.Position()
	time.Sleep(80 * time.Millisecond)

	if pos := clock.Position(); pos != held {
		t.Errorf("expected position to hold at %v while paused, got %v", held, pos)
	}
	select {
	case <-ended:
		t.Fatal("paused track must not end")
	default:
	}

	clock.Resume()
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("expected end after resume")
	}
}

func TestClockStopCancelsEnd(t *testing.T) {
	clock := audio.NewClock()
	ended := make(chan struct{}, 1)
	clock.Load(context.Background(), playback.Source{Data: shortWAV()}, func() { ended <- struct{}{} })
	clock.Start()
	clock.Stop()

	select {
	case <-ended:
		t.Fatal("stopped track must not report an end")
	case <-time.After(120 * time.Millisecond):
	}
	if pos := clock.Position(); pos != 0 {
		t.Errorf("expected position 0 after stop, got %v", pos)
	}
}

func TestClockSeekClamps(t *testing.T) {
	clock := audio.NewClock()
	clock.Load(context.Background(), playback.Source{Data: wavPayload(8000, 1, 8, 80000)}, nil)

	clock.Seek(-time.Second)
	if pos := clock.Position(); pos != 0 {
		t.Errorf("expected 0, got %v", pos)
	}
	clock.Seek(time.Hour)
	if pos := clock.Position(); pos != 10*time.Second {
		t.Errorf("expected 10s, got %v", pos)
	}
	clock.Seek(3 * time.Second)
	if pos := clock.Position(); pos != 3*time.Second {
		t.Errorf("expected 3s, got %v", pos)
	}
}

func TestClockDrivesEngine(t *testing.T) {
	clock := audio.NewClock()
	engine := playback.NewEngine(clock, playback.WithFetcher(staticFetcher(shortWAV())))
	defer engine.Close()
	engine.SetQueue([]playback.Track{
		{ID: "a", URL: "http://example.com/a.wav"},
		{ID: "b", URL: "http://example.com/b.wav"},
	}, 0)

	stopped := make(chan struct{}, 1)
	engine.Subscribe(playback.Callbacks{OnStop: func() { stopped <- struct{}{} }})

	engine.Play(context.Background(), nil)

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("expected both tracks to play through and stop")
	}
	if snap := engine.Snapshot(); snap.CurrentIndex != 1 {
		t.Errorf("expected to stop on the last track, got index %d", snap.CurrentIndex)
	}
}

type staticFetcher []byte

func (f staticFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f, nil
}
