// Package config loads the taimusic configuration from TOML, an optional
// .env file and TAIMUSIC_* environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tasselx/taimusic/internal/domain/playback"
)

//go:embed config.example.toml
var exampleConf []byte

// DefaultPath is where the CLI looks for the config file.
const DefaultPath = "config.toml"

// Backend names accepted by [player] backend.
const (
	BackendClock = "clock"
	BackendMPD   = "mpd"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Cache   CacheConfig   `toml:"cache"`
	Fetch   FetchConfig   `toml:"fetch"`
	Player  PlayerConfig  `toml:"player"`
	MPD     MPDConfig     `toml:"mpd"`
	History HistoryConfig `toml:"history"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains the HTTP and Socket.IO settings.
type ServerConfig struct {
	Port               int    `toml:"port"`
	StaticDir          string `toml:"static_dir"`
	AllowedOrigin      string `toml:"allowed_origin"`
	MaxExternalClients int    `toml:"max_external_clients"`
}

// CacheConfig contains content cache limits.
type CacheConfig struct {
	Path      string `toml:"path"`
	MaxSizeMB int64  `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

// FetchConfig contains download and resolver settings.
type FetchConfig struct {
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	MaxPayloadMB      int64   `toml:"max_payload_mb"`
	UserAgent         string  `toml:"user_agent"`
	ResolverURL       string  `toml:"resolver_url"`
}

// PlayerConfig contains engine settings.
type PlayerConfig struct {
	Backend            string  `toml:"backend"`
	Volume             float64 `toml:"volume"`
	Mode               string  `toml:"mode"`
	ProgressIntervalMS int     `toml:"progress_interval_ms"`
	RequireActivation  bool    `toml:"require_activation"`
}

// MPDConfig contains the MPD connection used by the mpd backend.
type MPDConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	SpoolDir string `toml:"spool_dir"`
}

// HistoryConfig contains play history persistence settings.
type HistoryConfig struct {
	Path       string `toml:"path"`
	MaxEntries int    `toml:"max_entries"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with the defaults from the embedded example config.
func DefaultConfig() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &cfg
}

// LoadConfig reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			log.Debug().Str("path", path).Msg("No config file, using defaults")
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// CreateConfigFile writes the embedded example config to path.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadEnv loads variables from a .env file if one exists. Variables already
// set in the environment win.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides selected keys from TAIMUSIC_* variables.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"TAIMUSIC_CACHE_PATH":   &c.Cache.Path,
		"TAIMUSIC_BACKEND":      &c.Player.Backend,
		"TAIMUSIC_RESOLVER_URL": &c.Fetch.ResolverURL,
		"TAIMUSIC_MPD_HOST":     &c.MPD.Host,
		"TAIMUSIC_MPD_PASSWORD": &c.MPD.Password,
		"TAIMUSIC_LOG_LEVEL":    &c.Logging.Level,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TAIMUSIC_PORT":            &c.Server.Port,
		"TAIMUSIC_CACHE_MAX_FILES": &c.Cache.MaxFiles,
		"TAIMUSIC_MPD_PORT":        &c.MPD.Port,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("TAIMUSIC_CACHE_MAX_SIZE_MB"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TAIMUSIC_CACHE_MAX_SIZE_MB: %w", err)
		}
		c.Cache.MaxSizeMB = n
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("cache path cannot be empty")
	}
	if c.Cache.MaxSizeMB < 1 {
		return fmt.Errorf("cache max_size_mb must be at least 1")
	}
	if c.Cache.MaxFiles < 1 {
		return fmt.Errorf("cache max_files must be at least 1")
	}

	switch c.Player.Backend {
	case BackendClock:
	case BackendMPD:
		if c.MPD.SpoolDir == "" {
			return fmt.Errorf("mpd spool_dir cannot be empty")
		}
	default:
		return fmt.Errorf("invalid player backend: %s (must be clock or mpd)", c.Player.Backend)
	}
	if c.Player.Volume < 0 || c.Player.Volume > 1 {
		return fmt.Errorf("player volume must be between 0 and 1")
	}
	if _, err := playback.ParseMode(c.Player.Mode); err != nil {
		return err
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Logging.Format)
	}
	return nil
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// CacheMaxSize returns the cache size cap in bytes.
func (c *Config) CacheMaxSize() int64 {
	return c.Cache.MaxSizeMB << 20
}

// MaxPayload returns the largest accepted download in bytes.
func (c *Config) MaxPayload() int64 {
	return c.Fetch.MaxPayloadMB << 20
}

// FetchTimeout returns the per-download timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ProgressInterval returns the progress sampling period.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Player.ProgressIntervalMS) * time.Millisecond
}

// PlayMode returns the configured initial play mode.
func (c *Config) PlayMode() playback.Mode {
	m, err := playback.ParseMode(c.Player.Mode)
	if err != nil {
		return playback.ModeSequence
	}
	return m
}
