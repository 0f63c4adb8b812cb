package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDelay collapses the burst of events an editor produces on save.
const reloadDelay = 200 * time.Millisecond

// Watch reloads path whenever it changes and passes the new config to
// onChange. Invalid edits are logged and skipped. Watch blocks until ctx is
// cancelled.
//
// The parent directory is watched rather than the file so that editors that
// save by rename are still seen.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	log.Info().Str("path", abs).Msg("Watching config file")

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			reload = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")

		case <-reload:
			reload = nil
			cfg, err := LoadConfig(abs)
			if err != nil {
				log.Warn().Err(err).Str("path", abs).Msg("Ignoring invalid config change")
				continue
			}
			log.Info().Str("path", abs).Msg("Config reloaded")
			onChange(cfg)
		}
	}
}
