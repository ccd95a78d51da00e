package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/taskdeck/taskdeck/internal/session"
)

// hookPayload represents the JSON payload Claude Code sends to hooks via stdin.
// Only the fields we need are decoded; unknown fields are ignored.
type hookPayload struct {
	HookEventName    string          `json:"hook_event_name"`
	SessionID        string          `json:"session_id"`
	NotificationType string          `json:"notification_type,omitempty"`
	Matcher          json.RawMessage `json:"matcher,omitempty"`
}

// mapEventToToken maps a Claude Code hook event to a status file token.
//   - "running"    = Claude is using tools or processing a prompt
//   - "waiting"    = Claude needs the user (permission or elicitation)
//   - "completion" = Claude finished its turn
//
// An empty result means the event does not change status.
func mapEventToToken(p hookPayload) string {
	switch p.HookEventName {
	case "PreToolUse", "PostToolUse", "UserPromptSubmit":
		return session.TokenRunning
	case "Stop":
		return session.TokenCompletion
	case "SessionEnd":
		return session.TokenIdle
	case "Notification":
		// Informational notifications (idle reminders etc.) leave status alone.
		if isAttentionNotification(p.NotificationType) {
			return session.TokenWaiting
		}
		var matcher string
		if p.Matcher != nil && json.Unmarshal(p.Matcher, &matcher) == nil && isAttentionNotification(matcher) {
			return session.TokenWaiting
		}
		return ""
	default:
		return ""
	}
}

func isAttentionNotification(kind string) bool {
	return kind == "permission_prompt" || kind == "elicitation_dialog"
}

// applyHookPayload decodes data and writes the mapped token to statusPath.
// It returns the token written, or "" when nothing was written.
func applyHookPayload(data []byte, statusPath string) (string, error) {
	if statusPath == "" || len(data) == 0 {
		return "", nil
	}
	var payload hookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}
	token := mapEventToToken(payload)
	if token == "" {
		return "", nil
	}
	if err := session.WriteStatusFile(statusPath, session.DecodeStatus(token)); err != nil {
		return "", err
	}
	return token, nil
}

// handleHookHandler processes a Claude Code hook event.
// Reads JSON from stdin, maps the event to a token, and writes the status
// file named by the session's environment. Always exits 0 to avoid blocking
// Claude Code.
func handleHookHandler() {
	statusPath := os.Getenv(session.GetStatusSettings().EnvVar)
	if statusPath == "" {
		// Not running inside a taskdeck session.
		return
	}

	data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil {
		return
	}
	token, err := applyHookPayload(data, statusPath)
	if err != nil {
		cliLog.Debug("hook_handler_failed", slog.String("error", err.Error()))
		return
	}
	if token != "" {
		cliLog.Debug("hook_status_written", slog.String("token", token), slog.String("path", statusPath))
	}
}
