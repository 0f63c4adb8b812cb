package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tasselx/taimusic/internal/domain/playback"
	"github.com/tasselx/taimusic/internal/version"
)

// DefaultResolverTimeout bounds a single resolve request.
const DefaultResolverTimeout = 10 * time.Second

// songURLResponse is the body of GET /song/url. Different upstreams place the
// link in different fields.
type songURLResponse struct {
	Status    int    `json:"status"`
	ErrorCode int    `json:"error_code"`
	ErrCode   int    `json:"err_code"`
	Error     string `json:"error"`
	URL       string `json:"url"`
	Data      *struct {
		URL           string `json:"url"`
		PlayURL       string `json:"play_url"`
		PlayBackupURL string `json:"play_backup_url"`
	} `json:"data"`
}

func (r *songURLResponse) playableURL() string {
	if r.Data != nil {
		for _, u := range []string{r.Data.PlayURL, r.Data.PlayBackupURL, r.Data.URL} {
			if u != "" {
				return u
			}
		}
	}
	return r.URL
}

// Resolver turns track IDs into playable URLs through the music API.
type Resolver struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// ResolverOption is a functional option for configuring the resolver.
type ResolverOption func(*Resolver)

// WithResolverHTTPClient sets a custom HTTP client.
func WithResolverHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// WithResolverUserAgent sets a custom User-Agent header.
func WithResolverUserAgent(ua string) ResolverOption {
	return func(r *Resolver) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// NewResolver creates a resolver for the API at baseURL.
func NewResolver(baseURL string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: version.UserAgent(),
		httpClient: &http.Client{
			Timeout: DefaultResolverTimeout,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a playable URL for trackID. Failures to find one wrap
// playback.ErrNotResolvable.
func (r *Resolver) Resolve(ctx context.Context, trackID string) (string, error) {
	if trackID == "" {
		return "", fmt.Errorf("%w: empty track id", playback.ErrNotResolvable)
	}

	reqURL := fmt.Sprintf("%s/song/url?id=%s", r.baseURL, url.QueryEscape(trackID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: track %q not found", playback.ErrNotResolvable, trackID)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed songURLResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	u := parsed.playableURL()
	if u == "" {
		code := parsed.ErrorCode
		if code == 0 {
			code = parsed.ErrCode
		}
		log.Debug().
			Str("track", trackID).
			Int("status", parsed.Status).
			Int("code", code).
			Str("error", parsed.Error).
			Msg("No playable url for track")
		return "", fmt.Errorf("%w: no playable url for %q", playback.ErrNotResolvable, trackID)
	}
	return u, nil
}
