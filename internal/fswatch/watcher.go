// Package fswatch reports settled bursts of changes below a directory.
package fswatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounce = 250 * time.Millisecond
	eventBufferSize = 256
)

// FilterCallback returns true for paths whose events should be dropped.
type FilterCallback func(path string) bool

// ChangeFunc receives the changed paths of one burst, sorted.
type ChangeFunc func(ctx context.Context, paths []string) error

type Watcher struct {
	dir      string
	debounce time.Duration
	filter   FilterCallback
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithFilter(fn FilterCallback) Option {
	return func(w *Watcher) {
		w.filter = fn
	}
}

func New(dir string, opts ...Option) *Watcher {
	w := &Watcher{dir: dir, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the tree and calls onChange once events have been quiet for the
// debounce window. It returns nil when ctx is cancelled, or the first error
// from onChange.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	raw := make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(filepath.Join(w.dir, "..."), raw, notify.All); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	defer notify.Stop(raw)

	slog.Info("file watcher start", "dir", w.dir, "debounce", w.debounce)
	defer slog.Info("file watcher stop", "dir", w.dir)

	pending := mapset.NewThreadUnsafeSet[string]()
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-raw:
			if w.filter != nil && w.filter(ev.Path()) {
				continue
			}
			slog.Debug("file watcher", "event", ev.Event(), "path", ev.Path())
			pending.Add(ev.Path())
			timer.Reset(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			paths := pending.ToSlice()
			pending.Clear()
			sort.Strings(paths)
			if err := onChange(ctx, paths); err != nil {
				return err
			}
		}
	}
}
