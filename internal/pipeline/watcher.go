package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last write before
// reloading.
const DefaultDebounce = 250 * time.Millisecond

// Loader builds a fresh pipeline from its source.
type Loader func() (*Pipeline, error)

// Watcher reloads a pipeline file into a Holder whenever it changes. A file
// that fails to load leaves the previous pipeline in place.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	holder   *Holder
	load     Loader
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	onReload func(*Pipeline, error)
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce. Zero reloads on every change
// without waiting; negative values are ignored.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// OnReload registers fn to be called after every reload attempt.
func OnReload(fn func(*Pipeline, error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher watches the directory holding path so that editors which
// replace the file on save are still observed.
func NewWatcher(path string, holder *Holder, load Loader, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}
	w := &Watcher{
		watcher:  fw,
		path:     abs,
		holder:   holder,
		load:     load,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches for changes until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			if w.debounce == 0 {
				w.reload()
				continue
			}
			debounce = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("pipeline watcher error", zap.Error(err))
		}
	}
}

// reload runs on the debounce timer goroutine, or inline when debounce is
// zero.
func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, err := w.load()
	if err != nil {
		w.logger.Error("pipeline reload failed; keeping current pipeline",
			zap.String("path", w.path),
			zap.Error(err),
		)
	} else {
		w.holder.Store(p)
		w.logger.Info("pipeline reloaded",
			zap.String("path", w.path),
			zap.String("pipeline", p.ID()),
			zap.Int("filters", len(p.stages)),
		)
	}
	if w.onReload != nil {
		w.onReload(p, err)
	}
}
