// Package audiocache provides a SQLite-backed content cache for audio payloads.
// Entries are keyed by a hash of their source URL and evicted least recently
// used first under both a size cap and an entry-count cap.
package audiocache

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultMaxSize is the default aggregate size cap (500 MiB).
	DefaultMaxSize int64 = 500 << 20

	// DefaultMaxFiles is the default entry-count cap.
	DefaultMaxFiles = 1000

	// DefaultPath is the default location of the cache database.
	DefaultPath = "data/audio-cache.db"
)

var (
	// ErrNotFound is returned by Get when the URL is not cached.
	ErrNotFound = errors.New("audio not cached")

	// ErrUnavailable is returned when the store is closed or not open.
	ErrUnavailable = errors.New("audio cache unavailable")

	// ErrTooLarge is returned by Put for a payload bigger than MaxSize.
	ErrTooLarge = errors.New("audio payload exceeds cache size limit")
)

// Config configures a Cache. Zero limits fall back to the defaults.
type Config struct {
	Path     string
	MaxSize  int64 // Bytes
	MaxFiles int
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = DefaultMaxFiles
	}
	return c
}

// Metadata is optional display information stored next to a payload.
type Metadata struct {
	Title    string        `json:"title,omitempty"`
	Artist   string        `json:"artist,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Item describes a cache entry without its payload.
type Item struct {
	ID           string    `json:"id"`  // Key(url)
	URL          string    `json:"url"` // Source URL
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
	Metadata     *Metadata `json:"metadata,omitempty"`
}

// Stats is a consistent snapshot of cache usage.
type Stats struct {
	TotalSize       int64     `json:"totalSize"`
	TotalFiles      int       `json:"totalFiles"`
	MaxSize         int64     `json:"maxSize"`
	MaxFiles        int       `json:"maxFiles"`
	UsagePercentage float64   `json:"usagePercentage"` // 0-100
	LastCleanup     time.Time `json:"lastCleanup"`     // Zero if nothing was ever evicted
}

func usagePercentage(total, max int64) float64 {
	if max <= 0 {
		return 0
	}
	return float64(total) / float64(max) * 100
}

// FormatSize renders a byte count for humans, e.g. "1.5 MB".
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	units := []string{"KB", "MB", "GB", "TB"}
	v := float64(bytes) / unit
	i := 0
	for v >= unit && i < len(units)-1 {
		v /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}
