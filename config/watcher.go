package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/stagemesh/logging"
)

// ReloadFunc is invoked with each successfully loaded configuration. A
// returned error is logged; the watcher keeps the previous configuration
// active and continues watching.
type ReloadFunc func(ctx context.Context, cfg *Config) error

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce coalesces bursts of filesystem events (editors often emit
	// several per save). Defaults to 500ms.
	Debounce time.Duration
	// Logger receives watch lifecycle and reload outcome messages. Defaults to NoOp.
	Logger logging.Logger
}

// Watcher observes a configuration file and invokes a reload callback when
// it changes. A change that fails to load or to apply never disturbs the
// running configuration.
type Watcher struct {
	path     string
	reload   ReloadFunc
	debounce time.Duration
	logger   logging.Logger

	fsw *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given configuration file.
func NewWatcher(path string, reload ReloadFunc, optFns ...func(o *WatcherOptions)) (*Watcher, error) {
	opts := WatcherOptions{
		Debounce: 500 * time.Millisecond,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: many editors replace the file on
	// save, which drops a direct file watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		path:     path,
		reload:   reload,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		fsw:      fsw,
	}, nil
}

// WithDebounce overrides the event coalescing window.
func WithDebounce(d time.Duration) func(o *WatcherOptions) {
	return func(o *WatcherOptions) { o.Debounce = d }
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(l logging.Logger) func(o *WatcherOptions) {
	return func(o *WatcherOptions) { o.Logger = l }
}

// Run blocks processing filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
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
			fire = timer.C

		case <-fire:
			fire = nil
			w.apply(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Config watch error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) apply(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload rejected, keeping previous configuration", "path", w.path, "error", err)
		return
	}
	if err := w.reload(ctx, cfg); err != nil {
		w.logger.Error("Config apply failed, keeping previous configuration", "path", w.path, "error", err)
		return
	}
	w.logger.Info("Configuration reloaded", "path", w.path)
}
