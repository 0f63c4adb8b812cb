package mpd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tasselx/taimusic/internal/audio"
	"github.com/tasselx/taimusic/internal/domain/playback"
	"github.com/tasselx/taimusic/internal/infra/audiocache"
)

// Backend plays payloads through MPD. Each payload is written to a spool
// directory MPD can read and queued as a file:// URI.
type Backend struct {
	client     *Client
	spoolDir   string
	controller *audio.Controller

	mu       sync.Mutex
	songID   int // -1 when nothing is queued
	spool    string
	duration time.Duration
	playing  bool
	onEnd    func()
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithController reports MPD's output format and lock state to ctrl.
func WithController(ctrl *audio.Controller) BackendOption {
	return func(b *Backend) {
		b.controller = ctrl
	}
}

// NewBackend creates a Backend that spools payloads into spoolDir.
func NewBackend(client *Client, spoolDir string, opts ...BackendOption) *Backend {
	b := &Backend{
		client:   client,
		spoolDir: spoolDir,
		songID:   -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run watches the player subsystem and reports track ends until ctx is done.
func (b *Backend) Run(ctx context.Context) error {
	events, err := b.client.Watch(ctx, "player")
	if err != nil {
		return err
	}
	log.Info().Str("addr", b.client.Addr()).Msg("Watching MPD player")

	for range events {
		b.handlePlayerChange()
	}
	return nil
}

// handlePlayerChange fires onEnd once MPD has stopped or moved away from the
// loaded song. Status is read under the lock so a change observed before
// Start cannot be mistaken for the end of the new song.
func (b *Backend) handlePlayerChange() {
	b.mu.Lock()

	status, err := b.client.Status()
	if err != nil {
		b.mu.Unlock()
		log.Warn().Err(err).Msg("Failed to read MPD status")
		return
	}
	if b.controller != nil {
		b.controller.UpdateFromMPDStatus(status["state"], status["audio"])
	}

	if !b.playing || b.songID < 0 {
		b.mu.Unlock()
		return
	}
	current := status["songid"]
	ended := status["state"] == "stop" || (current != "" && current != strconv.Itoa(b.songID))
	if !ended {
		b.mu.Unlock()
		return
	}

	b.playing = false
	id := b.songID
	onEnd := b.onEnd
	b.onEnd = nil
	b.mu.Unlock()

	log.Debug().Int("songId", id).Msg("MPD finished song")
	if onEnd != nil {
		onEnd()
	}
}

// Ready implements playback.Backend.
func (b *Backend) Ready(ctx context.Context) error {
	if _, err := b.client.Status(); err != nil {
		return fmt.Errorf("%w: %v", playback.ErrBackendNotReady, err)
	}
	return nil
}

// Load implements playback.Backend.
func (b *Backend) Load(ctx context.Context, src playback.Source, onEnd func()) error {
	f, err := audio.Probe(src.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", playback.ErrDecode, err)
	}

	if err := os.MkdirAll(b.spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool dir: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(b.spoolDir, audiocache.Key(src.URL)+"."+f.Container))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, src.Data, 0644); err != nil {
		return fmt.Errorf("failed to spool payload: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.playing = false
	b.onEnd = nil
	if err := b.client.Clear(); err != nil {
		b.discardSpoolLocked(path)
		return err
	}
	id, err := b.client.AddID("file://"+path, -1)
	if err != nil {
		b.discardSpoolLocked(path)
		return err
	}

	if b.spool != "" && b.spool != path {
		b.removeSpoolLocked()
	}
	b.songID = id
	b.spool = path
	b.duration = f.Duration
	b.onEnd = onEnd

	if b.controller != nil {
		b.controller.UpdateFromProbe(f)
	}

	log.Debug().
		Str("url", src.URL).
		Str("spool", path).
		Int("songId", id).
		Dur("duration", f.Duration).
		Msg("Queued payload in MPD")
	return nil
}

// discardSpoolLocked removes a file spooled by a failed Load unless it is the
// current spool, which MPD may still be reading.
func (b *Backend) discardSpoolLocked(path string) {
	if path == b.spool {
		return
	}
	os.Remove(path)
}

// Start implements playback.Backend.
func (b *Backend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.songID < 0 {
		return errors.New("nothing loaded")
	}
	if err := b.client.PlayID(b.songID); err != nil {
		return err
	}
	b.playing = true
	return nil
}

// Pause implements playback.Backend.
func (b *Backend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.client.Pause(true); err != nil {
		return err
	}
	b.playing = false
	return nil
}

// Resume implements playback.Backend.
func (b *Backend) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.songID < 0 {
		return errors.New("nothing loaded")
	}
	if err := b.client.Pause(false); err != nil {
		return err
	}
	b.playing = true
	return nil
}

// Stop implements playback.Backend.
func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.playing = false
	b.onEnd = nil
	err := b.client.Stop()
	b.removeSpoolLocked()
	b.songID = -1
	b.duration = 0
	return err
}

// Seek implements playback.Backend.
func (b *Backend) Seek(pos time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.songID < 0 {
		return errors.New("nothing loaded")
	}
	if pos < 0 {
		pos = 0
	}
	if b.duration > 0 && pos > b.duration {
		pos = b.duration
	}
	return b.client.SeekCur(pos)
}

// Position implements playback.Backend.
func (b *Backend) Position() time.Duration {
	status, err := b.client.Status()
	if err != nil {
		return 0
	}
	return parseSeconds(status["elapsed"])
}

// Duration implements playback.Backend.
func (b *Backend) Duration() time.Duration {
	b.mu.Lock()
	d := b.duration
	b.mu.Unlock()
	if d > 0 {
		return d
	}

	status, err := b.client.Status()
	if err != nil {
		return 0
	}
	return parseSeconds(status["duration"])
}

// SetVolume implements playback.Backend.
func (b *Backend) SetVolume(v float64) error {
	return b.client.SetVolume(int(math.Round(v * 100)))
}

func (b *Backend) removeSpoolLocked() {
	if b.spool == "" {
		return
	}
	if err := os.Remove(b.spool); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("spool", b.spool).Msg("Failed to remove spooled payload")
	}
	b.spool = ""
}

func parseSeconds(s string) time.Duration {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
