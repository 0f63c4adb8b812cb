// Package mpd provides a wrapper around the gompd MPD client and a playback
// backend that drives MPD.
package mpd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// Client wraps the MPD client with reconnection logic.
type Client struct {
	mu       sync.RWMutex
	client   *mpd.Client
	watcher  *mpd.Watcher
	host     string
	port     int
	password string
}

// NewClient creates a new MPD client wrapper.
func NewClient(host string, port int, password string) *Client {
	return &Client{
		host:     host,
		port:     port,
		password: password,
	}
}

// Addr returns the host:port the client dials.
func (c *Client) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// Connect establishes connection to MPD.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked()
}

// connectLocked establishes connection (must hold lock).
func (c *Client) connectLocked() error {
	addr := c.Addr()
	log.Info().Str("addr", addr).Msg("Connecting to MPD")

	client, err := mpd.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to MPD: %w", err)
	}

	if c.password != "" {
		if err := client.Command("password %s", c.password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("MPD authentication failed: %w", err)
		}
	}

	c.client = client
	log.Info().Msg("Connected to MPD")
	return nil
}

// ensureConnected checks connection and reconnects if needed.
func (c *Client) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return c.connectLocked()
	}

	if err := c.client.Ping(); err != nil {
		log.Warn().Err(err).Msg("MPD connection lost, reconnecting...")
		c.client.Close()
		c.client = nil
		return c.connectLocked()
	}

	return nil
}

// Close closes the MPD connection and any watcher.
func (c *Client) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	c.mu.Unlock()

	if w != nil {
		closeWatcher(w)
	}
	return err
}

// Ping checks if the connection is alive.
func (c *Client) Ping() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return c.client.Ping()
}

// Status returns the current MPD status.
func (c *Client) Status() (mpd.Attrs, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.client.Status()
}

// Clear clears the current queue.
func (c *Client) Clear() error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.client.Clear()
}

// AddID adds a URI to the queue at pos (-1 appends) and returns its song id.
func (c *Client) AddID(uri string, pos int) (int, error) {
	if err := c.ensureConnected(); err != nil {
		return -1, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.client.AddID(uri, pos)
}

// PlayID starts playback of the song with the given id.
func (c *Client) PlayID(id int) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.client.PlayID(id)
}

// Pause sets the pause state.
func (c *Client) Pause(pause bool) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.client.Pause(pause)
}

// Stop stops playback.
func (c *Client) Stop() error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.client.Stop()
}

// SeekCur seeks within the current song.
func (c *Client) SeekCur(pos time.Duration) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.client.SeekCur(pos, false)
}

// SetVolume sets the volume (0-100).
func (c *Client) SetVolume(vol int) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if vol < 0 {
		vol = 0
	} else if vol > 100 {
		vol = 100
	}

	return c.client.SetVolume(vol)
}

// Watch starts watching for MPD subsystem changes on a dedicated connection.
// The returned channel receives subsystem names and is closed when ctx is
// done or the client is closed.
func (c *Client) Watch(ctx context.Context, subsystems ...string) (<-chan string, error) {
	watcher, err := mpd.NewWatcher("tcp", c.Addr(), c.password, subsystems...)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	c.mu.Lock()
	old := c.watcher
	c.watcher = watcher
	c.mu.Unlock()
	if old != nil {
		closeWatcher(old)
	}

	ch := make(chan string, 10)

	go func() {
		defer close(ch)
		defer c.releaseWatcher(watcher)
		for {
			select {
			case <-ctx.Done():
				return
			case subsystem, ok := <-watcher.Event:
				if !ok {
					return
				}
				select {
				case ch <- subsystem:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Error:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("MPD watcher error")
			}
		}
	}()

	return ch, nil
}

// releaseWatcher closes w unless Close or a newer Watch already took it.
func (c *Client) releaseWatcher(w *mpd.Watcher) {
	c.mu.Lock()
	owned := c.watcher == w
	if owned {
		c.watcher = nil
	}
	c.mu.Unlock()

	if owned {
		closeWatcher(w)
	}
}

func closeWatcher(w *mpd.Watcher) {
	// Keep the watcher's goroutine from blocking on undelivered events.
	go func() {
		for range w.Event {
		}
	}()
	go func() {
		for range w.Error {
		}
	}()
	if err := w.Close(); err != nil {
		log.Debug().Err(err).Msg("Closing MPD watcher")
	}
}
