package audiocache

import (
	"crypto/md5"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Key returns the cache key for a source URL.
func Key(url string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(url)))
}

// Cache is a bounded LRU store of audio payloads.
//
// Mutations (Put, Remove, ClearAll, SetLimits) are serialized and each runs as
// a single transaction including its eviction and stats update. Reads run
// concurrently with each other but never alongside a mutation.
type Cache struct {
	mu sync.RWMutex
	db *sql.DB

	maxSize  int64
	maxFiles int

	// Mirrors the cache_stats row.
	totalSize   int64
	totalFiles  int
	lastCleanup int64

	clock func() time.Time

	stampMu   sync.Mutex
	lastStamp int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.clock = now
	}
}

// Open opens or creates the cache described by cfg. Aggregate stats are
// recomputed from the stored entries, and the limits are enforced at once.
func Open(cfg Config, opts ...Option) (*Cache, error) {
	cfg = cfg.withDefaults()

	c := &Cache{
		maxSize:  cfg.MaxSize,
		maxFiles: cfg.MaxFiles,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	db, err := openDB(cfg.Path)
	if err != nil {
		return nil, err
	}
	c.db = db

	if err := c.reconcile(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cache stats: %w", err)
	}

	version, _ := getMeta(db, "schema_version")
	log.Info().
		Str("path", cfg.Path).
		Str("schema", version).
		Int("files", c.totalFiles).
		Str("size", FormatSize(c.totalSize)).
		Msg("Audio cache opened")

	if c.totalSize > c.maxSize || c.totalFiles > c.maxFiles {
		if err := c.SetLimits(c.maxSize, c.maxFiles); err != nil {
			db.Close()
			return nil, err
		}
	}
	return c, nil
}

// reconcile rebuilds the stats row from audio_files.
func (c *Cache) reconcile() error {
	var (
		size, files, maxAccess sql.NullInt64
		lastCleanup            int64
	)
	err := c.db.QueryRow("SELECT SUM(size), COUNT(*), MAX(last_accessed) FROM audio_files").
		Scan(&size, &files, &maxAccess)
	if err != nil {
		return err
	}
	err = c.db.QueryRow("SELECT last_cleanup FROM cache_stats WHERE id = 'main'").Scan(&lastCleanup)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	c.totalSize = size.Int64
	c.totalFiles = int(files.Int64)
	c.lastCleanup = lastCleanup
	c.lastStamp = maxAccess.Int64

	return writeStats(c.db, c.totalSize, c.totalFiles, c.lastCleanup)
}

// Close closes the database. Later calls return ErrUnavailable.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// stamp returns a strictly increasing access timestamp in unix nanoseconds,
// so two touches never compare equal.
func (c *Cache) stamp() int64 {
	c.stampMu.Lock()
	defer c.stampMu.Unlock()

	now := c.clock().UnixNano()
	if now <= c.lastStamp {
		now = c.lastStamp + 1
	}
	c.lastStamp = now
	return now
}

// IsCached reports whether url has an entry. It does not touch recency.
func (c *Cache) IsCached(url string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil {
		return false, ErrUnavailable
	}

	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM audio_files WHERE id = ?", Key(url)).Scan(&n); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Get returns the payload cached for url and marks it as recently used.
// It returns ErrNotFound on a miss.
func (c *Cache) Get(url string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil {
		return nil, ErrUnavailable
	}

	id := Key(url)
	var data []byte
	err := c.db.QueryRow("SELECT data FROM audio_files WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if _, err := c.db.Exec("UPDATE audio_files SET last_accessed = ? WHERE id = ?", c.stamp(), id); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Failed to update cache access time")
	}
	return data, nil
}

// Put stores data for url, replacing any previous entry, after evicting least
// recently used entries until it fits.
func (c *Cache) Put(url string, data []byte, meta *Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return ErrUnavailable
	}

	size := int64(len(data))
	if size > c.maxSize {
		return fmt.Errorf("%w: %s > %s", ErrTooLarge, FormatSize(size), FormatSize(c.maxSize))
	}

	id := Key(url)
	return c.mutate(func(tx *sql.Tx, s *txStats) error {
		if err := s.deleteByID(tx, id); err != nil {
			return err
		}
		if err := s.ensureSpace(tx, size, c.maxSize, c.maxFiles); err != nil {
			return err
		}

		var title, artist sql.NullString
		var duration sql.NullInt64
		if meta != nil {
			title = sql.NullString{String: meta.Title, Valid: meta.Title != ""}
			artist = sql.NullString{String: meta.Artist, Valid: meta.Artist != ""}
			duration = sql.NullInt64{Int64: meta.Duration.Milliseconds(), Valid: meta.Duration > 0}
		}

		now := c.stamp()
		_, err := tx.Exec(`
			INSERT INTO audio_files (id, url, data, size, created_at, last_accessed, title, artist, duration)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, url, data, size, now, now, title, artist, duration)
		if err != nil {
			return fmt.Errorf("failed to insert cache entry: %w", err)
		}

		s.totalSize += size
		s.totalFiles++
		return nil
	})
}

// Remove deletes the entry for url. Removing a missing entry is not an error.
func (c *Cache) Remove(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return ErrUnavailable
	}

	id := Key(url)
	return c.mutate(func(tx *sql.Tx, s *txStats) error {
		return s.deleteByID(tx, id)
	})
}

// ClearAll removes every entry and resets the stats to zero.
func (c *Cache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return ErrUnavailable
	}

	err := c.mutate(func(tx *sql.Tx, s *txStats) error {
		if _, err := tx.Exec("DELETE FROM audio_files"); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		*s = txStats{}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Msg("Audio cache cleared")
	return nil
}

// SetLimits changes the caps and evicts entries until usage fits them.
func (c *Cache) SetLimits(maxSize int64, maxFiles int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return ErrUnavailable
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}

	err := c.mutate(func(tx *sql.Tx, s *txStats) error {
		if err := s.evictBySize(tx, 0, maxSize); err != nil {
			return err
		}
		for s.totalFiles > maxFiles {
			if err := s.evictOldest(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.maxSize = maxSize
	c.maxFiles = maxFiles
	log.Info().
		Str("maxSize", FormatSize(maxSize)).
		Int("maxFiles", maxFiles).
		Msg("Audio cache limits updated")
	return nil
}

// Stats returns the current usage.
func (c *Cache) Stats() (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil {
		return Stats{}, ErrUnavailable
	}

	s := Stats{
		TotalSize:       c.totalSize,
		TotalFiles:      c.totalFiles,
		MaxSize:         c.maxSize,
		MaxFiles:        c.maxFiles,
		UsagePercentage: usagePercentage(c.totalSize, c.maxSize),
	}
	if c.lastCleanup > 0 {
		s.LastCleanup = time.Unix(0, c.lastCleanup)
	}
	return s, nil
}

// List returns every entry, most recently used first, without payloads.
func (c *Cache) List() ([]Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil {
		return nil, ErrUnavailable
	}

	rows, err := c.db.Query(`
		SELECT id, url, size, created_at, last_accessed, title, artist, duration
		FROM audio_files ORDER BY last_accessed DESC, seq DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var (
			item                  Item
			createdAt, accessedAt int64
			title, artist         sql.NullString
			duration              sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.URL, &item.Size, &createdAt, &accessedAt, &title, &artist, &duration); err != nil {
			return nil, err
		}
		item.CreatedAt = time.Unix(0, createdAt)
		item.LastAccessed = time.Unix(0, accessedAt)
		if title.Valid || artist.Valid || duration.Valid {
			item.Metadata = &Metadata{
				Title:    title.String,
				Artist:   artist.String,
				Duration: time.Duration(duration.Int64) * time.Millisecond,
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// mutate runs fn in a transaction against a working copy of the stats. The
// stats row and the in-memory mirror are only updated if the commit succeeds.
// Callers hold c.mu.
func (c *Cache) mutate(fn func(tx *sql.Tx, s *txStats) error) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &txStats{
		totalSize:   c.totalSize,
		totalFiles:  c.totalFiles,
		lastCleanup: c.lastCleanup,
		now:         c.clock,
	}
	if err := fn(tx, s); err != nil {
		tx.Rollback()
		return err
	}
	if err := writeStats(tx, s.totalSize, s.totalFiles, s.lastCleanup); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update cache stats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache change: %w", err)
	}

	if s.evicted > 0 {
		log.Debug().
			Int("evicted", s.evicted).
			Str("total", FormatSize(s.totalSize)).
			Int("files", s.totalFiles).
			Msg("Evicted audio cache entries")
	}

	c.totalSize = s.totalSize
	c.totalFiles = s.totalFiles
	c.lastCleanup = s.lastCleanup
	return nil
}

// txStats tracks aggregate usage inside one transaction.
type txStats struct {
	totalSize   int64
	totalFiles  int
	lastCleanup int64
	evicted     int
	now         func() time.Time
}

var errEmpty = errors.New("no entry to evict")

// ensureSpace makes room for an entry of size bytes: first by size, then by
// count, as two independent passes.
func (s *txStats) ensureSpace(tx *sql.Tx, size, maxSize int64, maxFiles int) error {
	if err := s.evictBySize(tx, size, maxSize); err != nil {
		return err
	}
	if s.totalFiles >= maxFiles {
		for n := s.totalFiles - maxFiles + 1; n > 0; n-- {
			if err := s.evictOldest(tx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *txStats) evictBySize(tx *sql.Tx, incoming, maxSize int64) error {
	for s.totalSize+incoming > maxSize {
		if err := s.evictOldest(tx); err != nil {
			if errors.Is(err, errEmpty) {
				// Stats drifted from the table; trust the table.
				s.totalSize, s.totalFiles = 0, 0
				return nil
			}
			return err
		}
	}
	return nil
}

// evictOldest removes the least recently used entry. Ties go to the entry
// inserted first.
func (s *txStats) evictOldest(tx *sql.Tx) error {
	var (
		id   string
		size int64
	)
	err := tx.QueryRow("SELECT id, size FROM audio_files ORDER BY last_accessed ASC, seq ASC LIMIT 1").Scan(&id, &size)
	if err == sql.ErrNoRows {
		return errEmpty
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM audio_files WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to evict cache entry: %w", err)
	}
	s.totalSize -= size
	s.totalFiles--
	s.evicted++
	s.lastCleanup = s.now().UnixNano()
	return nil
}

func (s *txStats) deleteByID(tx *sql.Tx, id string) error {
	var size int64
	err := tx.QueryRow("SELECT size FROM audio_files WHERE id = ?", id).Scan(&size)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM audio_files WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	s.totalSize -= size
	s.totalFiles--
	return nil
}
