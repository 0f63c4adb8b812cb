package playback

import (
	"context"
	"time"
)

// DefaultProgressInterval is how often progress is sampled while playing.
const DefaultProgressInterval = 250 * time.Millisecond

// sampler runs a ticker goroutine only between start and stop. It is guarded
// by the engine mutex.
type sampler struct {
	interval time.Duration
	cancel   context.CancelFunc
}

func (s *sampler) start(tick func(ctx context.Context)) {
	s.stop()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	interval := s.interval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
}

func (s *sampler) stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *sampler) running() bool {
	return s.cancel != nil
}
