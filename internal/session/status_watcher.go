package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/taskdeck/taskdeck/internal/logging"
)

// reattachEvery bounds how often a degraded watch is re-added.
const reattachEvery = 2 * time.Second

// StatusFileWatcher delivers decoded status tokens whenever the status file
// at path is written, created or renamed into place.
//
// It watches the parent directory rather than the file itself so atomic
// rename-over writes and delete+recreate cycles keep producing events. If the
// directory watch is lost, EnsureAttached re-adds it.
type StatusFileWatcher struct {
	path     string
	dir      string
	base     string
	debounce time.Duration

	watcher *fsnotify.Watcher
	tokens  chan State
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	attached  bool
	closed    bool
	reattachL *rate.Limiter
}

// NewStatusFileWatcher starts watching path. A failed initial attach is not
// fatal; EnsureAttached retries it.
func NewStatusFileWatcher(path string, debounce time.Duration) (*StatusFileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &StatusFileWatcher{
		path:      path,
		dir:       filepath.Dir(path),
		base:      filepath.Base(path),
		debounce:  debounce,
		watcher:   watcher,
		tokens:    make(chan State, 16),
		done:      make(chan struct{}),
		reattachL: rate.NewLimiter(rate.Every(reattachEvery), 1),
	}
	w.attach()

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Tokens delivers the decoded file content after each relevant event.
func (w *StatusFileWatcher) Tokens() <-chan State {
	return w.tokens
}

// Attached reports whether the directory watch is currently registered.
func (w *StatusFileWatcher) Attached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attached
}

// EnsureAttached re-adds the directory watch if it was lost. Attempts are
// rate limited; it reports whether the watch is attached afterwards.
func (w *StatusFileWatcher) EnsureAttached() bool {
	w.mu.Lock()
	closed, attached := w.closed, w.attached
	w.mu.Unlock()
	if closed {
		return false
	}
	if attached {
		if _, err := os.Stat(w.dir); err == nil {
			return true
		}
		w.markDetached("dir_missing")
	}
	if !w.reattachL.Allow() {
		return false
	}
	return w.attach()
}

func (w *StatusFileWatcher) attach() bool {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		statusLog.Warn("status_dir_create_failed", slog.String("dir", w.dir), slog.String("error", err.Error()))
		return false
	}
	// Drop any stale registration before re-adding.
	_ = w.watcher.Remove(w.dir)
	if err := w.watcher.Add(w.dir); err != nil {
		statusLog.Warn("status_watch_add_failed", slog.String("dir", w.dir), slog.String("error", err.Error()))
		return false
	}

	w.mu.Lock()
	w.attached = true
	w.mu.Unlock()
	statusLog.Debug("status_watch_attached", slog.String("path", w.path))
	return true
}

func (w *StatusFileWatcher) markDetached(reason string) {
	w.mu.Lock()
	was := w.attached
	w.attached = false
	w.mu.Unlock()
	if was {
		statusLog.Info("status_watch_detached", slog.String("path", w.path), slog.String("reason", reason))
	}
}

// run owns the debounce timer, so every read and send happens on this
// goroutine and tokens leave in event order.
func (w *StatusFileWatcher) run() {
	defer w.wg.Done()

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	// schedule reads the file now, or after the debounce window when one is
	// configured, restarting the window on every call.
	schedule := func() {
		if w.debounce <= 0 {
			w.emit()
			return
		}
		if debounce == nil {
			debounce = time.NewTimer(w.debounce)
		} else {
			debounce.Reset(w.debounce)
		}
		fire = debounce.C
	}

	for {
		select {
		case <-w.done:
			return

		case <-fire:
			fire = nil
			w.emit()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name == w.dir && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.markDetached("dir_removed")
				continue
			}
			if filepath.Base(event.Name) != w.base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.Aggregate(logging.CompStatus, "status_fs_event")
			schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were dropped; the file may have changed.
				schedule()
				continue
			}
			statusLog.Warn("status_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *StatusFileWatcher) emit() {
	st := ReadStatusFile(w.path)
	select {
	case w.tokens <- st:
	case <-w.done:
	}
}

// Close stops the watcher. No tokens are sent after it returns.
func (w *StatusFileWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
