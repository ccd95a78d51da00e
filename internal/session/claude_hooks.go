package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskdeck/taskdeck/internal/logging"
)

var hooksLog = logging.ForComponent(logging.CompHooks)

// ClaudeSettingsFile is the project-local Claude Code settings file the
// status hooks are merged into.
const ClaudeSettingsFile = "settings.local.json"

// HookOptions controls the commands written into Claude's settings.
type HookOptions struct {
	// EnvVar names the status file variable. Default: TASKDECK_STATUS_FILE
	EnvVar string
	// HandlerCommand, when set, replaces the echo one-liners with a single
	// command that reads the hook payload on stdin (e.g. "taskdeck hook-handler").
	HandlerCommand string
}

func (o HookOptions) envVar() string {
	if o.EnvVar == "" {
		return DefaultStatusEnvVar
	}
	return o.EnvVar
}

// claudeHookEntry represents a single hook entry in Claude Code settings.
type claudeHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// claudeHookMatcher represents a matcher block in settings.
type claudeHookMatcher struct {
	Matcher string            `json:"matcher,omitempty"`
	Hooks   []claudeHookEntry `json:"hooks"`
}

// statusHookEvents maps Claude hook events to the token they write.
var statusHookEvents = []struct {
	Event   string
	Matcher string
	Token   string
}{
	{Event: "PreToolUse", Matcher: "*", Token: TokenRunning},
	{Event: "Notification", Matcher: "permission_prompt", Token: TokenWaiting},
	{Event: "Stop", Matcher: "*", Token: TokenCompletion},
}

// StatusHookCommand returns the shell one-liner that writes token into the
// file named by envVar, doing nothing when the variable is unset.
func StatusHookCommand(envVar, token string) string {
	return fmt.Sprintf(`[ -n "$%s" ] && echo %s > "$%s"`, envVar, token, envVar)
}

func hookMarker(opts HookOptions) string {
	return "$" + opts.envVar()
}

func isTaskdeckHook(h claudeHookEntry, opts HookOptions) bool {
	if strings.Contains(h.Command, hookMarker(opts)) {
		return true
	}
	return opts.HandlerCommand != "" && strings.Contains(h.Command, opts.HandlerCommand)
}

// ClaudeSettingsPath returns <projectDir>/.claude/settings.local.json.
func ClaudeSettingsPath(projectDir string) string {
	return filepath.Join(projectDir, ".claude", ClaudeSettingsFile)
}

// InstallClaudeHooks merges the status hooks into the project's Claude
// settings, replacing earlier taskdeck entries and preserving everything
// else.
func InstallClaudeHooks(projectDir string, opts HookOptions) error {
	settingsPath := ClaudeSettingsPath(projectDir)

	rawSettings, err := readClaudeSettings(settingsPath)
	if err != nil {
		return err
	}

	existingHooks := make(map[string]json.RawMessage)
	if raw, ok := rawSettings["hooks"]; ok {
		if err := json.Unmarshal(raw, &existingHooks); err != nil {
			// hooks key exists but isn't a valid object; start fresh for hooks
			existingHooks = make(map[string]json.RawMessage)
		}
	}

	for _, ev := range statusHookEvents {
		matchers, _ := removeTaskdeckHooks(existingHooks[ev.Event], opts)
		command := StatusHookCommand(opts.envVar(), ev.Token)
		if opts.HandlerCommand != "" {
			command = opts.HandlerCommand
		}
		matchers = append(matchers, claudeHookMatcher{
			Matcher: ev.Matcher,
			Hooks:   []claudeHookEntry{{Type: "command", Command: command}},
		})
		data, err := json.Marshal(matchers)
		if err != nil {
			return fmt.Errorf("marshal %s hooks: %w", ev.Event, err)
		}
		existingHooks[ev.Event] = data
	}

	hooksRaw, err := json.Marshal(existingHooks)
	if err != nil {
		return fmt.Errorf("marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksRaw

	if err := writeClaudeSettings(settingsPath, rawSettings); err != nil {
		return err
	}
	hooksLog.Info("claude_hooks_installed", slog.String("path", settingsPath))
	return nil
}

// RemoveClaudeHooks strips taskdeck entries from the project's Claude
// settings. It reports whether anything was removed.
func RemoveClaudeHooks(projectDir string, opts HookOptions) (bool, error) {
	settingsPath := ClaudeSettingsPath(projectDir)
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		return false, nil
	}

	rawSettings, err := readClaudeSettings(settingsPath)
	if err != nil {
		return false, err
	}
	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return false, nil
	}
	var existingHooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &existingHooks); err != nil {
		return false, nil
	}

	removed := false
	for _, ev := range statusHookEvents {
		raw, ok := existingHooks[ev.Event]
		if !ok {
			continue
		}
		matchers, didRemove := removeTaskdeckHooks(raw, opts)
		if !didRemove {
			continue
		}
		removed = true
		if len(matchers) == 0 {
			delete(existingHooks, ev.Event)
			continue
		}
		data, _ := json.Marshal(matchers)
		existingHooks[ev.Event] = data
	}
	if !removed {
		return false, nil
	}

	if len(existingHooks) == 0 {
		delete(rawSettings, "hooks")
	} else {
		data, _ := json.Marshal(existingHooks)
		rawSettings["hooks"] = data
	}

	if err := writeClaudeSettings(settingsPath, rawSettings); err != nil {
		return false, err
	}
	hooksLog.Info("claude_hooks_removed", slog.String("path", settingsPath))
	return true, nil
}

// ClaudeHooksInstalled reports whether every status hook is present.
func ClaudeHooksInstalled(projectDir string, opts HookOptions) bool {
	rawSettings, err := readClaudeSettings(ClaudeSettingsPath(projectDir))
	if err != nil {
		return false
	}
	var hooks map[string]json.RawMessage
	if err := json.Unmarshal(rawSettings["hooks"], &hooks); err != nil {
		return false
	}
	for _, ev := range statusHookEvents {
		var matchers []claudeHookMatcher
		if err := json.Unmarshal(hooks[ev.Event], &matchers); err != nil {
			return false
		}
		found := false
		for _, m := range matchers {
			for _, h := range m.Hooks {
				if isTaskdeckHook(h, opts) {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// removeTaskdeckHooks returns the event's matchers without taskdeck
// entries. Matchers left without hooks are dropped.
func removeTaskdeckHooks(raw json.RawMessage, opts HookOptions) ([]claudeHookMatcher, bool) {
	if raw == nil {
		return nil, false
	}
	var matchers []claudeHookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return nil, false
	}

	removed := false
	cleaned := make([]claudeHookMatcher, 0, len(matchers))
	for _, m := range matchers {
		hooks := make([]claudeHookEntry, 0, len(m.Hooks))
		for _, h := range m.Hooks {
			if isTaskdeckHook(h, opts) {
				removed = true
				continue
			}
			hooks = append(hooks, h)
		}
		if len(hooks) == 0 && len(m.Hooks) > 0 {
			continue
		}
		m.Hooks = hooks
		cleaned = append(cleaned, m)
	}
	return cleaned, removed
}

func readClaudeSettings(path string) (map[string]json.RawMessage, error) {
	rawSettings := make(map[string]json.RawMessage)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rawSettings, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return rawSettings, nil
	}
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if rawSettings == nil {
		rawSettings = make(map[string]json.RawMessage)
	}
	return rawSettings, nil
}

func writeClaudeSettings(path string, rawSettings map[string]json.RawMessage) error {
	finalData, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create .claude dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, finalData, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmpPath), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
