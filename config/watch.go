package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c0deZ3R0/go-optimistic-kit/logging"
)

// WatchOption configures Watch.
type WatchOption func(*watcher)

type watcher struct {
	debounce time.Duration
	envFiles []string
	logger   *logging.Logger
}

// WithDebounce coalesces bursts of file events. Editors often write a file in
// several steps.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *watcher) { w.debounce = d }
}

// WithEnvFiles passes envFiles to every reload.
func WithEnvFiles(files ...string) WatchOption {
	return func(w *watcher) { w.envFiles = files }
}

// WithWatchLogger sets the logger used for reload errors.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *watcher) { w.logger = logging.Wrap(l) }
}

// Watch reloads path whenever it changes and passes each valid configuration
// to fn. Invalid files are logged and skipped. It blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config), opts ...WatchOption) error {
	w := &watcher{
		debounce: 100 * time.Millisecond,
		logger:   logging.WithComponent("config-watch"),
	}
	for _, opt := range opts {
		opt(w)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory so atomic renames by editors are seen.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
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
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			reload = timer.C

		case <-reload:
			reload = nil
			cfg, err := Load(abs, w.envFiles...)
			if err != nil {
				w.logger.Warn("config reload failed", slog.String("path", abs), slog.String("error", err.Error()))
				continue
			}
			w.logger.Info("config reloaded", slog.String("path", abs))
			fn(cfg)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}
