package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config file whenever it changes and, when the result is
// valid, stores it in h and calls onChange. Invalid edits are logged and the
// previous config stays in effect. Watch blocks until ctx ends.
//
// The parent directory is watched rather than the file so that editors that
// replace the file by rename are followed.
func Watch(
	ctx context.Context, h *Holder, env EnvOverrides, cli CLIOverrides,
	onChange func(*Config), logger *slog.Logger,
) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	path := filepath.Clean(h.Path())
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watching %s: %w", filepath.Dir(path), err)
	}

	logger.Info("watching config file for changes", slog.String("path", path))

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}

			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}

			timerC = timer.C

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", werr.Error()))

		case <-timerC:
			timerC = nil

			cfg, err := Reload(path, env, cli)
			if err != nil {
				logger.Warn("ignoring invalid config change", slog.String("error", err.Error()))
				continue
			}

			h.Update(cfg)
			logger.Info("config reloaded", slog.String("path", path))

			if onChange != nil {
				onChange(cfg)
			}
		}
	}
}
