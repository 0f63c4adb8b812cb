// Package fetch downloads audio payloads and resolves track IDs to playable URLs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/tasselx/taimusic/internal/version"
)

const (
	// DefaultTimeout bounds a whole download, body included.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxPayload is the largest payload accepted (200MB).
	DefaultMaxPayload = 200 * 1024 * 1024

	// DefaultRateLimit is requests per second across the client.
	DefaultRateLimit = 4

	// DefaultBurst is the rate limiter burst.
	DefaultBurst = 4
)

var (
	// ErrHTTPStatus is returned for a non-2xx response.
	ErrHTTPStatus = errors.New("unexpected http status")

	// ErrPayloadTooLarge is returned when a body exceeds the payload limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrEmptyPayload is returned for a successful response with no body.
	ErrEmptyPayload = errors.New("empty payload")
)

// Client downloads audio payloads over HTTP. Concurrent requests for the
// same URL share one download.
type Client struct {
	userAgent  string
	httpClient *http.Client
	maxPayload int64
	limiter    *rate.Limiter
	group      singleflight.Group
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeout sets the per-download timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit sets the request rate in requests per second and the burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxPayload sets the largest accepted body in bytes.
func WithMaxPayload(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPayload = n
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new download client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		userAgent:  version.UserAgent(),
		maxPayload: DefaultMaxPayload,
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultBurst),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads the payload at url.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	ch := c.group.DoChan(url, func() (interface{}, error) {
		// Shared downloads must not die with the first caller.
		return c.fetch(context.WithoutCancel(ctx), url)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Debug().Str("url", url).Msg("Joined in-flight download")
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	log.Debug().Str("url", url).Msg("Downloading audio")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "audio/*, application/octet-stream;q=0.9, */*;q=0.5")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Str("url", url).Int("status", resp.StatusCode).Msg("Audio download failed")
		return nil, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}
	if resp.ContentLength > c.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, resp.ContentLength)
	}

	// Read one byte past the limit to detect oversized bodies.
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxPayload+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > c.maxPayload {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, c.maxPayload)
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	log.Debug().
		Str("url", url).
		Int("size", len(data)).
		Str("type", resp.Header.Get("Content-Type")).
		Dur("took", time.Since(start)).
		Msg("Downloaded audio")

	return data, nil
}
