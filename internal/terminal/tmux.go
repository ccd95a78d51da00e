package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrTmuxNotFound is returned when the tmux binary is not on PATH.
var ErrTmuxNotFound = errors.New("tmux not found in PATH")

// ErrCaptureTimeout is returned when capture-pane takes longer than
// captureTimeout.
var ErrCaptureTimeout = errors.New("tmux capture-pane timed out")

const (
	captureTimeout  = 3 * time.Second
	captureCacheTTL = 250 * time.Millisecond
	// DefaultHistoryLines is how far back capture-pane reaches.
	DefaultHistoryLines = 2000
)

// Tmux is a Terminal backed by a detached tmux session.
type Tmux struct {
	Name         string
	HistoryLines int

	captureSf singleflight.Group

	cacheMu      sync.RWMutex
	cacheContent []byte
	cacheTime    time.Time
}

// TmuxAvailable reports whether tmux is installed.
func TmuxAvailable() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// NewTmuxSession creates a detached tmux session named name in dir and
// applies env with set-environment before the shell starts reading input.
func NewTmuxSession(name, dir string, env []string) (*Tmux, error) {
	if !TmuxAvailable() {
		return nil, ErrTmuxNotFound
	}
	t := &Tmux{Name: SanitizeSessionName(name), HistoryLines: DefaultHistoryLines}

	args := []string{"new-session", "-d", "-s", t.Name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	for _, kv := range env {
		args = append(args, "-e", kv)
	}
	if out, err := exec.Command("tmux", args...).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("failed to create tmux session: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	_ = exec.Command("tmux", "set-option", "-t", t.Name, "history-limit", "10000").Run()

	termLog.Info("tmux_session_created", slog.String("session", t.Name), slog.String("dir", dir))
	return t, nil
}

// AttachTmux wraps an existing tmux session.
func AttachTmux(name string) (*Tmux, error) {
	if !TmuxAvailable() {
		return nil, ErrTmuxNotFound
	}
	t := &Tmux{Name: name, HistoryLines: DefaultHistoryLines}
	if !t.Exists() {
		return nil, fmt.Errorf("tmux session %s does not exist", name)
	}
	return t, nil
}

// SanitizeSessionName replaces characters tmux rejects in target names.
func SanitizeSessionName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Exists checks if the tmux session is still alive.
func (t *Tmux) Exists() bool {
	return exec.Command("tmux", "has-session", "-t", t.Name).Run() == nil
}

// Scrollback captures the pane history with escape sequences preserved.
// Concurrent callers share a single capture-pane subprocess.
func (t *Tmux) Scrollback() ([]byte, error) {
	t.cacheMu.RLock()
	if t.cacheContent != nil && time.Since(t.cacheTime) < captureCacheTTL {
		content := t.cacheContent
		t.cacheMu.RUnlock()
		return content, nil
	}
	t.cacheMu.RUnlock()

	v, err, _ := t.captureSf.Do("capture", func() (interface{}, error) {
		history := t.HistoryLines
		if history <= 0 {
			history = DefaultHistoryLines
		}
		ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
		defer cancel()
		// -e keeps escapes, -J joins wrapped lines.
		cmd := exec.CommandContext(ctx, "tmux", "capture-pane", "-t", t.Name, "-p", "-e", "-J",
			"-S", "-"+strconv.Itoa(history))
		out, err := cmd.Output()
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, ErrCaptureTimeout
			}
			return nil, fmt.Errorf("failed to capture pane: %w", err)
		}
		t.cacheMu.Lock()
		t.cacheContent = out
		t.cacheTime = time.Now()
		t.cacheMu.Unlock()
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Send types text into the pane. Carriage returns become Enter key presses;
// everything else is sent literally with send-keys -l.
func (t *Tmux) Send(text string) error {
	t.invalidateCache()
	parts := strings.Split(text, "\r")
	for i, part := range parts {
		if part != "" {
			if err := exec.Command("tmux", "send-keys", "-l", "-t", t.Name, "--", part).Run(); err != nil {
				return fmt.Errorf("tmux send-keys: %w", err)
			}
		}
		if i < len(parts)-1 {
			if err := exec.Command("tmux", "send-keys", "-t", t.Name, "Enter").Run(); err != nil {
				return fmt.Errorf("tmux send-keys Enter: %w", err)
			}
		}
	}
	return nil
}

// Kill destroys the tmux session.
func (t *Tmux) Kill() error {
	t.invalidateCache()
	if err := exec.Command("tmux", "kill-session", "-t", t.Name).Run(); err != nil {
		return fmt.Errorf("failed to kill tmux session: %w", err)
	}
	return nil
}

func (t *Tmux) invalidateCache() {
	t.cacheMu.Lock()
	t.cacheContent = nil
	t.cacheMu.Unlock()
}
