package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useConfig points the loader at a temp config.toml holding content. An
// empty content leaves the file absent.
func useConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	t.Setenv(ConfigEnvVar, path)
	ClearUserConfigCache()
	t.Cleanup(ClearUserConfigCache)
	return path
}

func TestGetUserConfigPath_EnvOverride(t *testing.T) {
	path := useConfig(t, "")
	got, err := GetUserConfigPath()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestUserConfig_Defaults(t *testing.T) {
	useConfig(t, "")
	t.Setenv("SHELL", "/bin/zsh")

	status := GetStatusSettings()
	assert.Equal(t, DefaultStatusDir(), status.Dir)
	assert.Equal(t, DefaultStatusEnvVar, status.EnvVar)
	assert.Equal(t, 5000, status.IdleTimeoutMs)
	assert.Equal(t, 1000, status.PollIntervalMs)
	assert.Equal(t, 0, status.DebounceMs)

	tool := GetToolSettings()
	assert.Equal(t, "claude", tool.Command)
	assert.True(t, tool.GetSkipPermissions())
	assert.True(t, tool.GetAutoLaunch())
	assert.True(t, tool.GetExitOnTerminate())
	assert.Equal(t, 500, tool.StartupDelayMs)
	assert.Equal(t, 300, tool.LaunchDelayMs)

	shell := GetShellSettings()
	assert.Equal(t, "/bin/zsh", shell.Path)
	assert.Equal(t, []string{"--login"}, shell.Args)
	assert.Equal(t, "en_US.UTF-8", shell.Lang)

	logs := GetLogSettings()
	assert.Equal(t, "info", logs.Level)
	assert.Equal(t, 10, logs.MaxSizeMB)
	assert.True(t, logs.GetCompress())

	assert.False(t, GetEventSettings().Enabled)
	assert.Empty(t, GetWebSettings().Listen)
}

func TestUserConfig_FromTOML(t *testing.T) {
	useConfig(t, `
[status]
dir = "/var/run/taskdeck"
idle_timeout_ms = 8000
debounce_ms = -1

[tool]
command = "codex"
skip_permissions = false
auto_launch = false

[shell]
path = "/bin/bash"
args = []
lang = "de_DE.UTF-8"

[extract]
snippet_lines = 3

[extract.extra_patterns]
bullet_glyphs = ["▶"]

[events]
enabled = true
dir = "/tmp/td-events"

[web]
listen = "127.0.0.1:7777"
`)

	cfg := ConfigFromUser()
	assert.Equal(t, "/var/run/taskdeck", cfg.StatusDir)
	assert.Equal(t, 8*time.Second, cfg.IdleTimeout)
	assert.Equal(t, time.Duration(0), cfg.Debounce)
	assert.Equal(t, "codex", cfg.ToolCommand)
	assert.False(t, cfg.SkipPermissions)
	assert.False(t, cfg.AutoLaunch)
	assert.True(t, cfg.ExitOnTerminate)
	assert.Equal(t, "/bin/bash", cfg.Shell)
	assert.Empty(t, cfg.ShellArgs)
	assert.Equal(t, "de_DE.UTF-8", cfg.Lang)
	assert.Equal(t, "/tmp/td-events", cfg.EventsDir)
	assert.Equal(t, 3, cfg.Extractor.SnippetLines)

	require.NotNil(t, cfg.Extractor.Patterns)
	assert.Equal(t, []string{"⏺", "●", "◆", "▶"}, cfg.Extractor.Patterns.BulletGlyphs)
	assert.Equal(t, []string{"codex"}, cfg.Extractor.Patterns.ToolNames)

	assert.Equal(t, "127.0.0.1:7777", GetWebSettings().Listen)
}

func TestUserConfig_DebounceOptIn(t *testing.T) {
	useConfig(t, "")
	assert.Equal(t, time.Duration(0), ConfigFromUser().Debounce)

	useConfig(t, "[status]\ndebounce_ms = 40\n")
	assert.Equal(t, 40*time.Millisecond, ConfigFromUser().Debounce)
}

func TestUserConfig_ParseErrorFallsBackToDefaults(t *testing.T) {
	useConfig(t, "[status\nbroken")

	_, err := LoadUserConfig()
	assert.Error(t, err)
	assert.Equal(t, 5000, GetStatusSettings().IdleTimeoutMs)
}

func TestSaveUserConfig(t *testing.T) {
	path := useConfig(t, "")

	skip := false
	cfg := &UserConfig{
		Status: StatusSettings{IdleTimeoutMs: 7000},
		Tool:   ToolSettings{Command: "claude", SkipPermissions: &skip},
		Logs:   LogSettings{MaxSizeMB: 20},
	}
	require.NoError(t, SaveUserConfig(cfg))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "tmp file should be renamed away")

	loaded, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, 7000, loaded.Status.IdleTimeoutMs)
	assert.False(t, loaded.Tool.GetSkipPermissions())
	assert.Equal(t, 20, loaded.Logs.MaxSizeMB)
}

func TestUserConfig_Cached(t *testing.T) {
	path := useConfig(t, "[status]\nidle_timeout_ms = 1234\n")
	assert.Equal(t, 1234, GetStatusSettings().IdleTimeoutMs)

	require.NoError(t, os.WriteFile(path, []byte("[status]\nidle_timeout_ms = 4321\n"), 0o600))
	assert.Equal(t, 1234, GetStatusSettings().IdleTimeoutMs, "served from cache")

	_, err := ReloadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, 4321, GetStatusSettings().IdleTimeoutMs)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get home directory")
	}
	t.Setenv("TASKDECK_TEST_DIR", "/tmp/testdir")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"absolute path", "/var/log/test.log", "/var/log/test.log"},
		{"relative path", "status", "status"},
		{"tilde prefix", "~/.taskdeck", filepath.Join(home, ".taskdeck")},
		{"just tilde", "~", home},
		{"tilde in middle", "/path/~/x", "/path/~/x"},
		{"$HOME expansion", "$HOME/.taskdeck", filepath.Join(home, ".taskdeck")},
		{"custom env var", "$TASKDECK_TEST_DIR/events", "/tmp/testdir/events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExpandPath(tt.input))
		})
	}
}
