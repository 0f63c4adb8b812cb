package audiocache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = "1"

// openDB opens the database at path and initializes the schema.
func openDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	currentVersion := getSchemaVersion(db)

	if currentVersion == "" {
		if err := createSchema(db); err != nil {
			return err
		}
		return setMeta(db, "schema_version", CurrentSchemaVersion)
	}

	if currentVersion != CurrentSchemaVersion {
		log.Info().
			Str("current", currentVersion).
			Str("target", CurrentSchemaVersion).
			Msg("Migrating audio cache schema")
		return setMeta(db, "schema_version", CurrentSchemaVersion)
	}

	return nil
}

func createSchema(db *sql.DB) error {
	schema := `
	-- Cached payloads; seq orders entries by insertion
	CREATE TABLE IF NOT EXISTS audio_files (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		data BLOB NOT NULL,
		size INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL,
		title TEXT,
		artist TEXT,
		duration INTEGER
	);

	-- Aggregate usage, single row
	CREATE TABLE IF NOT EXISTS cache_stats (
		id TEXT PRIMARY KEY,
		total_size INTEGER NOT NULL DEFAULT 0,
		total_files INTEGER NOT NULL DEFAULT 0,
		last_cleanup INTEGER NOT NULL DEFAULT 0
	);

	-- Cache metadata
	CREATE TABLE IF NOT EXISTS cache_meta (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audio_files_lru ON audio_files(last_accessed, seq);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Info().Msg("Audio cache schema created")
	return nil
}

func getSchemaVersion(db *sql.DB) string {
	var version string
	err := db.QueryRow("SELECT value FROM cache_meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

func setMeta(db *sql.DB, key, value string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := db.Exec(`
		INSERT INTO cache_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = ?
	`, key, value, now, value, now)
	return err
}

func getMeta(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM cache_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func writeStats(x execer, totalSize int64, totalFiles int, lastCleanup int64) error {
	_, err := x.Exec(`
		INSERT INTO cache_stats (id, total_size, total_files, last_cleanup) VALUES ('main', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET total_size = ?, total_files = ?, last_cleanup = ?
	`, totalSize, totalFiles, lastCleanup, totalSize, totalFiles, lastCleanup)
	return err
}
