package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce coalesces the burst of events editors emit on save.
const defaultDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
//
// The parent directory is watched rather than the file itself, because
// editors and config management tools usually replace the file by rename,
// which drops a watch held on the old inode.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	onError  func(error)
	load     func(string) (*Config, error)
	debounce time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithErrorHandler receives reload and watcher errors. Errors never stop the watcher.
func WithErrorHandler(fn func(error)) WatchOption {
	return func(w *Watcher) { w.onError = fn }
}

// WithDebounce overrides the event coalescing window.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for path. onChange is called with every
// successfully loaded and validated config; invalid edits are reported to
// the error handler and the previous config stays in effect.
func NewWatcher(path string, onChange func(*Config), opts ...WatchOption) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		watcher:  fw,
		onChange: onChange,
		onError:  func(error) {},
		load:     LoadWithFile,
		debounce: defaultDebounce,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start processes events in a background goroutine until ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop stops the watcher and waits for the event loop to exit.
// Stop must only be called after Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
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
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("config watcher: %w", err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load(w.path)
	if err != nil {
		w.onError(fmt.Errorf("reloading %s: %w", w.path, err))
		return
	}
	w.onChange(cfg)
}
