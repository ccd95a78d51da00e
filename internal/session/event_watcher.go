package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventWatcher tails an events directory and delivers parsed transitions.
type EventWatcher struct {
	dir        string
	filterTask string
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	eventCh    chan Transition
}

// NewEventWatcher creates a watcher for dir. If filterTask is non-empty,
// only that task's transitions are delivered.
func NewEventWatcher(dir, filterTask string) (*EventWatcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch events dir: %w", err)
	}
	return &EventWatcher{
		dir:        dir,
		filterTask: filterTask,
		debounce:   50 * time.Millisecond,
		watcher:    watcher,
		eventCh:    make(chan Transition, 64),
	}, nil
}

// Events returns the channel of parsed transitions.
func (w *EventWatcher) Events() <-chan Transition {
	return w.eventCh
}

// Run delivers events until ctx is cancelled, then closes the watcher.
func (w *EventWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var debounceTimer *time.Timer
	pendingFiles := make(map[string]bool)
	var pendingMu sync.Mutex
	var flushWG sync.WaitGroup
	defer func() {
		pendingMu.Lock()
		if debounceTimer != nil && debounceTimer.Stop() {
			flushWG.Done()
		}
		pendingMu.Unlock()
		flushWG.Wait()
	}()

	flush := func() {
		defer flushWG.Done()
		pendingMu.Lock()
		files := make([]string, 0, len(pendingFiles))
		for f := range pendingFiles {
			files = append(files, f)
		}
		pendingFiles = make(map[string]bool)
		pendingMu.Unlock()

		for _, f := range files {
			w.processEventFile(ctx, f)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Only .json writes/creates; the .tmp half of the atomic write is ignored
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if w.filterTask != "" && strings.TrimSuffix(filepath.Base(event.Name), ".json") != sanitizeFileName(w.filterTask) {
				continue
			}

			pendingMu.Lock()
			pendingFiles[event.Name] = true
			if debounceTimer != nil && debounceTimer.Stop() {
				flushWG.Done()
			}
			flushWG.Add(1)
			debounceTimer = time.AfterFunc(w.debounce, flush)
			pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			sessionLog.Warn("event_watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *EventWatcher) processEventFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var t Transition
	if err := json.Unmarshal(data, &t); err != nil {
		return
	}
	if w.filterTask != "" && t.TaskID != w.filterTask {
		return
	}

	select {
	case w.eventCh <- t:
	case <-ctx.Done():
	default:
		sessionLog.Warn("event_channel_full", slog.String("task", t.TaskID))
	}
}

// WaitForState blocks until a transition into one of states arrives or the
// timeout expires. Run must be active.
func (w *EventWatcher) WaitForState(ctx context.Context, states []State, timeout time.Duration) (Transition, error) {
	want := make(map[State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case t := <-w.eventCh:
			if want[t.State] {
				return t, nil
			}
		case <-deadline.C:
			return Transition{}, fmt.Errorf("timeout after %v waiting for %v", timeout, states)
		case <-ctx.Done():
			return Transition{}, ctx.Err()
		}
	}
}
