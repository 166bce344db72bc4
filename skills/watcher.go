package skills

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 2 * time.Second

// Watcher refreshes the manager's semantic index when skill files change on
// disk. Bursts of filesystem events are coalesced behind a debounce window.
type Watcher struct {
	mgr      *Manager
	fsw      *fsnotify.Watcher
	debounce time.Duration
	log      *slog.Logger
}

// NewWatcher watches every directory the manager searches. A non-positive
// debounce uses a 2 second default.
func NewWatcher(mgr *Manager, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}
	for _, dir := range mgr.Dirs() {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return &Watcher{mgr: mgr, fsw: fsw, debounce: debounce, log: mgr.log}, nil
}

// Run blocks until ctx is done, refreshing the index after each quiet period
// that follows a change.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug("skills change detected", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("filesystem watcher error", slog.String("err", err.Error()))

		case <-fire:
			timer = nil
			fire = nil
			if err := w.mgr.RefreshIndex(ctx); err != nil {
				w.log.Warn("index refresh failed", slog.String("err", err.Error()))
			}
		}
	}
}
