package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// GetEventsDir returns the default transition events directory.
func GetEventsDir() string {
	dir, err := GetTaskdeckDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".taskdeck", "events")
	}
	return filepath.Join(dir, "events")
}

// WriteTransitionEvent atomically writes t to <dir>/<task>.json.
// Uses tmp file + rename to avoid partial reads by watchers.
func WriteTransitionEvent(dir string, t Transition) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create events dir: %w", err)
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	filePath := filepath.Join(dir, sanitizeFileName(t.TaskID)+".json")
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write tmp event: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename event: %w", err)
	}

	sessionLog.Debug("transition_event_written",
		slog.String("task", t.TaskID),
		slog.String("state", string(t.State)),
		slog.String("prev", string(t.PrevState)),
	)
	return nil
}

// ReadTransitionEvent reads the last transition written for taskID.
func ReadTransitionEvent(dir, taskID string) (Transition, error) {
	var t Transition
	data, err := os.ReadFile(filepath.Join(dir, sanitizeFileName(taskID)+".json"))
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse event: %w", err)
	}
	return t, nil
}

// CleanStaleEventFiles removes event files not modified within maxAge.
func CleanStaleEventFiles(dir string, maxAge time.Duration) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(dir, entry.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}
