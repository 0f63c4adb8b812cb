package socketio

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"

	"github.com/tasselx/taimusic/internal/domain/history"
	"github.com/tasselx/taimusic/internal/infra/audiocache"
)

// CacheStore is the part of the content cache exposed to clients.
type CacheStore interface {
	Stats() (audiocache.Stats, error)
	List() ([]audiocache.Item, error)
	Remove(url string) error
	ClearAll() error
}

// HistoryStore is the play history exposed to clients.
type HistoryStore interface {
	Recent(limit int) []history.Entry
	MostPlayed(limit int) []history.Entry
}

// CacheHandlers contains Socket.IO handlers for cache and history operations.
type CacheHandlers struct {
	store   CacheStore
	history HistoryStore
	server  *Server
}

// RegisterHandlers registers all cache-related Socket.IO handlers.
func (h *CacheHandlers) RegisterHandlers(client *socket.Socket) {
	client.On("cache:stats", func(args ...interface{}) {
		client.Emit("pushCacheStats", h.stats())
	})

	client.On("cache:list", func(args ...interface{}) {
		client.Emit("pushCacheList", h.list())
	})

	client.On("cache:remove", func(args ...interface{}) {
		if err := h.remove(args); err != nil {
			log.Warn().Err(err).Msg("Cache remove failed")
			client.Emit("pushError", ErrorPayload{Kind: "cache", Message: err.Error()})
			return
		}
		h.broadcast()
	})

	client.On("cache:clear", func(args ...interface{}) {
		if err := h.clear(); err != nil {
			log.Warn().Err(err).Msg("Cache clear failed")
			client.Emit("pushError", ErrorPayload{Kind: "cache", Message: err.Error()})
			return
		}
		h.broadcast()
	})

	client.On("history:recent", func(args ...interface{}) {
		client.Emit("pushHistory", h.recent(args))
	})

	client.On("history:mostPlayed", func(args ...interface{}) {
		client.Emit("pushMostPlayed", h.mostPlayed(args))
	})
}

// CacheStatsResponse represents the cache status response.
type CacheStatsResponse struct {
	Available       bool    `json:"available"`
	TotalSize       int64   `json:"totalSize"`
	TotalFiles      int     `json:"totalFiles"`
	MaxSize         int64   `json:"maxSize"`
	MaxFiles        int     `json:"maxFiles"`
	UsagePercentage float64 `json:"usagePercentage"`
	TotalSizeText   string  `json:"totalSizeText"`
	MaxSizeText     string  `json:"maxSizeText"`
	LastCleanup     string  `json:"lastCleanup,omitempty"`
}

// CacheListItem is one entry of pushCacheList.
type CacheListItem struct {
	ID           string  `json:"id"`
	URL          string  `json:"url"`
	Size         int64   `json:"size"`
	SizeText     string  `json:"sizeText"`
	Title        string  `json:"title,omitempty"`
	Artist       string  `json:"artist,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	CreatedAt    string  `json:"createdAt"`
	LastAccessed string  `json:"lastAccessed"`
}

func (h *CacheHandlers) stats() CacheStatsResponse {
	if h.store == nil {
		return CacheStatsResponse{}
	}
	stats, err := h.store.Stats()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get cache stats")
		return CacheStatsResponse{}
	}

	resp := CacheStatsResponse{
		Available:       true,
		TotalSize:       stats.TotalSize,
		TotalFiles:      stats.TotalFiles,
		MaxSize:         stats.MaxSize,
		MaxFiles:        stats.MaxFiles,
		UsagePercentage: stats.UsagePercentage,
		TotalSizeText:   audiocache.FormatSize(stats.TotalSize),
		MaxSizeText:     audiocache.FormatSize(stats.MaxSize),
	}
	if !stats.LastCleanup.IsZero() {
		resp.LastCleanup = stats.LastCleanup.Format(time.RFC3339)
	}
	return resp
}

func (h *CacheHandlers) list() []CacheListItem {
	out := []CacheListItem{}
	if h.store == nil {
		return out
	}
	items, err := h.store.List()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list cache")
		return out
	}

	for _, it := range items {
		li := CacheListItem{
			ID:           it.ID,
			URL:          it.URL,
			Size:         it.Size,
			SizeText:     audiocache.FormatSize(it.Size),
			CreatedAt:    it.CreatedAt.Format(time.RFC3339),
			LastAccessed: it.LastAccessed.Format(time.RFC3339),
		}
		if m := it.Metadata; m != nil {
			li.Title = m.Title
			li.Artist = m.Artist
			li.Duration = m.Duration.Seconds()
		}
		out = append(out, li)
	}
	return out
}

func (h *CacheHandlers) remove(args []any) error {
	if h.store == nil {
		return audiocache.ErrUnavailable
	}
	var req urlRequest
	if err := decodeArg(args, &req); err != nil {
		return err
	}
	if req.URL == "" {
		return fmt.Errorf("cache:remove needs a url")
	}
	if err := h.store.Remove(req.URL); err != nil && !errors.Is(err, audiocache.ErrNotFound) {
		return err
	}
	log.Info().Str("url", req.URL).Msg("Removed cache entry on request")
	return nil
}

func (h *CacheHandlers) clear() error {
	if h.store == nil {
		return audiocache.ErrUnavailable
	}
	if err := h.store.ClearAll(); err != nil {
		return err
	}
	log.Info().Msg("Cleared content cache on request")
	return nil
}

func (h *CacheHandlers) recent(args []any) []history.Entry {
	if h.history == nil {
		return []history.Entry{}
	}
	return h.history.Recent(limitArg(args))
}

func (h *CacheHandlers) mostPlayed(args []any) []history.Entry {
	if h.history == nil {
		return []history.Entry{}
	}
	return h.history.MostPlayed(limitArg(args))
}

// limitArg accepts {"limit": n} or a bare number. Zero means the default.
func limitArg(args []any) int {
	var req limitRequest
	if err := decodeArg(args, &req); err != nil {
		if n, ok := numberArg(args); ok {
			req.Limit = int(n)
		}
	}
	return req.Limit
}

// broadcast sends fresh cache stats and listing to all clients.
func (h *CacheHandlers) broadcast() {
	if h.server == nil || h.server.io == nil {
		return
	}
	h.server.io.Emit("pushCacheStats", h.stats())
	h.server.io.Emit("pushCacheList", h.list())
}
