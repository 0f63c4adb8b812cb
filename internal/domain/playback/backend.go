package playback

import (
	"context"
	"time"

	"github.com/tasselx/taimusic/internal/infra/audiocache"
)

// Source is a decode-ready payload handed to the backend.
type Source struct {
	URL    string
	Data   []byte
	Cached bool // Served from the content cache
}

// Backend is the audio output the engine drives.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Ready returns ErrBackendNotReady (possibly wrapped) when the output
	// cannot be activated yet. Platforms without activation gating return nil.
	Ready(ctx context.Context) error

	// Load prepares src for playback and confirms it is decodable. It must not
	// start sound. onEnd is called once, from a goroutine of the backend, when
	// the loaded track finishes naturally. It must never be called from inside
	// a Backend method.
	Load(ctx context.Context, src Source, onEnd func()) error

	Start() error
	Pause() error
	Resume() error
	Stop() error
	Seek(pos time.Duration) error

	Position() time.Duration
	Duration() time.Duration

	// SetVolume sets the effective output level in [0,1].
	SetVolume(v float64) error
}

// Store is the content cache as seen by the engine.
type Store interface {
	// Get returns audiocache.ErrNotFound on a miss.
	Get(url string) ([]byte, error)
	Put(url string, data []byte, meta *audiocache.Metadata) error
}

// Fetcher downloads an audio payload.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Resolver turns a track ID into a playable URL.
type Resolver interface {
	Resolve(ctx context.Context, trackID string) (string, error)
}
