package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch monitors path and calls onChange with the configuration returned by
// load each time the file is written, created or renamed into place. It runs
// until ctx is cancelled.
//
// A reload that fails to parse or validate is logged and skipped; the
// previous configuration stays in effect.
func Watch(ctx context.Context, path string, load func() (*Config, error), onChange func(*Config), logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors save atomically by renaming over the
	// file, which drops a watch on the file itself.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}
	logger.Info("Watching config for changes", zap.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := load()
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				logger.Error("Config reload failed, keeping previous config",
					zap.String("path", target), zap.Error(err))
				continue
			}

			logger.Info("Config reloaded", zap.String("path", target))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}
