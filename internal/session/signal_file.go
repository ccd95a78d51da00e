package session

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/taskdeck/taskdeck/internal/logging"
)

var statusLog = logging.ForComponent(logging.CompStatus)

// DefaultStatusEnvVar is the environment variable hook scripts read to find
// the session's status file.
const DefaultStatusEnvVar = "TASKDECK_STATUS_FILE"

const statusFileExt = ".status"

// DefaultStatusDir returns $TMPDIR/taskdeck.
func DefaultStatusDir() string {
	return filepath.Join(os.TempDir(), "taskdeck")
}

// StatusFilePath returns the absolute status file path for taskID. Ids that
// are not already safe file names get a hash of the raw id appended, so
// "team/42" and "team_42" never share a file.
func StatusFilePath(dir, taskID string) string {
	p := filepath.Join(dir, statusFileName(taskID)+statusFileExt)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func statusFileName(taskID string) string {
	name := sanitizeFileName(taskID)
	if name == taskID {
		return name
	}
	h := fnv.New32a()
	h.Write([]byte(taskID))
	return fmt.Sprintf("%s-%08x", name, h.Sum32())
}

func sanitizeFileName(name string) string {
	out := []byte(name)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			out[i] = '_'
		}
	}
	if len(out) == 0 || string(out) == "." || string(out) == ".." {
		return "_"
	}
	return string(out)
}

// ReadStatusFile decodes the status file at path. Any read failure,
// including a missing file, yields Idle.
func ReadStatusFile(path string) State {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			statusLog.Debug("status_read_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return StateIdle
	}
	return DecodeStatus(string(data))
}

// WriteStatusFile replaces the status file content with the token for st.
// The write goes through a temp file and rename so readers never observe a
// truncated file.
func WriteStatusFile(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create status tmp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(st.Token()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write status tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close status tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename status file: %w", err)
	}
	return nil
}

// RemoveStatusFile deletes the status file. A missing file is not an error.
func RemoveStatusFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
