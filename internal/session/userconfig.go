package session

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/taskdeck/taskdeck/internal/terminal"
)

// UserConfigFileName is the TOML config file for user preferences
const UserConfigFileName = "config.toml"

// ConfigEnvVar overrides the config file location.
const ConfigEnvVar = "TASKDECK_CONFIG"

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	Status  StatusSettings  `toml:"status"`
	Extract ExtractSettings `toml:"extract"`
	Tool    ToolSettings    `toml:"tool"`
	Shell   ShellSettings   `toml:"shell"`
	Events  EventSettings   `toml:"events"`
	Logs    LogSettings     `toml:"logs"`
	Web     WebSettings     `toml:"web"`
}

// StatusSettings controls the status signal file and idle detection.
type StatusSettings struct {
	// Dir holds the per-task <task>.status files.
	// Default: $TMPDIR/taskdeck
	Dir string `toml:"dir"`

	// EnvVar names the variable that carries the status file path to hooks.
	// Default: TASKDECK_STATUS_FILE
	EnvVar string `toml:"env_var"`

	// IdleTimeoutMs is how long Running may go without a fresh signal.
	// Default: 5000
	IdleTimeoutMs int `toml:"idle_timeout_ms"`

	// PollIntervalMs is the re-read and idle check interval.
	// Default: 1000
	PollIntervalMs int `toml:"poll_interval_ms"`

	// DebounceMs coalesces bursts of file events into one read. Coalescing
	// can skip a state that was only briefly in the file.
	// Default: 0 (read on every event)
	DebounceMs int `toml:"debounce_ms"`
}

// ExtractSettings tunes the latest-response extractor.
type ExtractSettings struct {
	// MaxLines of scrollback inspected. Default: 100
	MaxLines int `toml:"max_lines"`

	// SnippetLines kept in the snippet. Default: 2
	SnippetLines int `toml:"snippet_lines"`

	// MaxWidth truncates snippet lines to this display width (0 = off)
	MaxWidth int `toml:"max_width"`

	// Patterns replaces individual default pattern lists.
	Patterns *terminal.ChromePatterns `toml:"patterns"`

	// ExtraPatterns are appended to the defaults.
	ExtraPatterns *terminal.ChromePatterns `toml:"extra_patterns"`
}

// ToolSettings describes the assistant CLI launched in each session.
type ToolSettings struct {
	// Command is the tool binary. Default: claude
	Command string `toml:"command"`

	// SkipPermissions appends --dangerously-skip-permissions. Default: true
	SkipPermissions *bool `toml:"skip_permissions"`

	// AutoLaunch starts the tool after the shell is ready. Default: true
	AutoLaunch *bool `toml:"auto_launch"`

	// StartupDelayMs waits before the initial cd. Default: 500
	StartupDelayMs int `toml:"startup_delay_ms"`

	// LaunchDelayMs waits between cd and tool launch. Default: 300
	LaunchDelayMs int `toml:"launch_delay_ms"`

	// ExitOnTerminate sends "exit" to the shell on teardown. Default: true
	ExitOnTerminate *bool `toml:"exit_on_terminate"`
}

// GetSkipPermissions returns whether to skip permission prompts, defaulting to true
func (t *ToolSettings) GetSkipPermissions() bool {
	if t.SkipPermissions == nil {
		return true
	}
	return *t.SkipPermissions
}

// GetAutoLaunch returns whether to launch the tool automatically, defaulting to true
func (t *ToolSettings) GetAutoLaunch() bool {
	if t.AutoLaunch == nil {
		return true
	}
	return *t.AutoLaunch
}

// GetExitOnTerminate returns whether teardown sends exit, defaulting to true
func (t *ToolSettings) GetExitOnTerminate() bool {
	if t.ExitOnTerminate == nil {
		return true
	}
	return *t.ExitOnTerminate
}

// ShellSettings configures the shell spawned for each session.
type ShellSettings struct {
	// Path to the shell. Default: $SHELL, then /bin/sh
	Path string `toml:"path"`

	// Args passed to the shell. Default: ["--login"]
	Args []string `toml:"args"`

	// Lang is applied to LANG, LC_ALL and LC_CTYPE. Default: en_US.UTF-8
	Lang string `toml:"lang"`

	// Term and ColorTerm for the child. Defaults: xterm-256color, truecolor
	Term      string `toml:"term"`
	ColorTerm string `toml:"colorterm"`
}

// EventSettings controls transition event files.
type EventSettings struct {
	// Enabled writes <dir>/<task>.json on each transition. Default: false
	Enabled bool `toml:"enabled"`

	// Dir for event files. Default: ~/.taskdeck/events
	Dir string `toml:"dir"`
}

// LogSettings defines debug log configuration
type LogSettings struct {
	// Dir for debug.log. Default: ~/.taskdeck/logs
	Dir string `toml:"dir"`

	// Level: "debug", "info", "warn", "error". Default: "info"
	Level string `toml:"level"`

	// Format: "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB before rotation. Default: 10
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups rotated files kept. Default: 5
	MaxBackups int `toml:"max_backups"`

	// MaxAgeDays for rotated files. Default: 10
	MaxAgeDays int `toml:"max_age_days"`

	// Compress rotated files. Default: true
	Compress *bool `toml:"compress"`

	// RingBufferMB kept in memory for SIGUSR1 dumps. Default: 2
	RingBufferMB int `toml:"ring_buffer_mb"`

	// AggregateIntervalS flushes event summaries. Default: 30
	AggregateIntervalS int `toml:"aggregate_interval_secs"`
}

// GetCompress returns whether rotated logs are gzipped, defaulting to true
func (l *LogSettings) GetCompress() bool {
	if l.Compress == nil {
		return true
	}
	return *l.Compress
}

// WebSettings configures the optional HTTP/WebSocket surface.
type WebSettings struct {
	// Listen address, e.g. "127.0.0.1:7777". Empty disables the server.
	Listen string `toml:"listen"`
}

// Default user config
var defaultUserConfig = UserConfig{}

// Cache for user config (loaded once per process)
var (
	userConfigCache   *UserConfig
	userConfigCacheMu sync.RWMutex
)

// GetTaskdeckDir returns ~/.taskdeck.
func GetTaskdeckDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".taskdeck"), nil
}

// GetUserConfigPath returns the path to the user config file
func GetUserConfigPath() (string, error) {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p, nil
	}
	dir, err := GetTaskdeckDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, UserConfigFileName), nil
}

// LoadUserConfig loads the user configuration from TOML file
// Returns cached config after first load
func LoadUserConfig() (*UserConfig, error) {
	userConfigCacheMu.RLock()
	if userConfigCache != nil {
		defer userConfigCacheMu.RUnlock()
		return userConfigCache, nil
	}
	userConfigCacheMu.RUnlock()

	userConfigCacheMu.Lock()
	defer userConfigCacheMu.Unlock()

	// Double-check after acquiring write lock
	if userConfigCache != nil {
		return userConfigCache, nil
	}

	configPath, err := GetUserConfigPath()
	if err != nil {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	var config UserConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		// Cache defaults so a broken file is not re-parsed on every call
		userConfigCache = &defaultUserConfig
		return userConfigCache, fmt.Errorf("config.toml parse error: %w", err)
	}

	userConfigCache = &config
	return userConfigCache, nil
}

// ReloadUserConfig forces a reload of the user config
func ReloadUserConfig() (*UserConfig, error) {
	ClearUserConfigCache()
	return LoadUserConfig()
}

// SaveUserConfig writes the config to config.toml using tmp file + fsync +
// rename, then clears the cache.
func SaveUserConfig(config *UserConfig) error {
	configPath, err := GetUserConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# taskdeck configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	_ = syncFile(tmpPath)
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearUserConfigCache()
	return nil
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// ClearUserConfigCache clears the cached user config.
// The next LoadUserConfig() call reads fresh from disk.
func ClearUserConfigCache() {
	userConfigCacheMu.Lock()
	userConfigCache = nil
	userConfigCacheMu.Unlock()
}

// GetStatusSettings returns status settings with defaults applied
func GetStatusSettings() StatusSettings {
	config, _ := LoadUserConfig()
	var s StatusSettings
	if config != nil {
		s = config.Status
	}
	if s.Dir == "" {
		s.Dir = DefaultStatusDir()
	}
	s.Dir = ExpandPath(s.Dir)
	if s.EnvVar == "" {
		s.EnvVar = DefaultStatusEnvVar
	}
	if s.IdleTimeoutMs <= 0 {
		s.IdleTimeoutMs = 5000
	}
	if s.PollIntervalMs <= 0 {
		s.PollIntervalMs = 1000
	}
	if s.DebounceMs < 0 {
		s.DebounceMs = 0
	}
	return s
}

// GetExtractSettings returns extractor settings with defaults applied
func GetExtractSettings() ExtractSettings {
	config, _ := LoadUserConfig()
	var s ExtractSettings
	if config != nil {
		s = config.Extract
	}
	if s.MaxLines <= 0 {
		s.MaxLines = terminal.DefaultMaxLines
	}
	if s.SnippetLines <= 0 {
		s.SnippetLines = terminal.DefaultSnippetLines
	}
	return s
}

// GetToolSettings returns tool settings with defaults applied
func GetToolSettings() ToolSettings {
	config, _ := LoadUserConfig()
	var s ToolSettings
	if config != nil {
		s = config.Tool
	}
	if s.Command == "" {
		s.Command = "claude"
	}
	if s.StartupDelayMs <= 0 {
		s.StartupDelayMs = 500
	}
	if s.LaunchDelayMs <= 0 {
		s.LaunchDelayMs = 300
	}
	return s
}

// GetShellSettings returns shell settings with defaults applied
func GetShellSettings() ShellSettings {
	config, _ := LoadUserConfig()
	var s ShellSettings
	if config != nil {
		s = config.Shell
	}
	if s.Path == "" {
		s.Path = os.Getenv("SHELL")
	}
	if s.Path == "" {
		s.Path = "/bin/sh"
	}
	if s.Args == nil {
		s.Args = []string{"--login"}
	}
	if s.Lang == "" {
		s.Lang = "en_US.UTF-8"
	}
	if s.Term == "" {
		s.Term = "xterm-256color"
	}
	if s.ColorTerm == "" {
		s.ColorTerm = "truecolor"
	}
	return s
}

// GetEventSettings returns event file settings with defaults applied
func GetEventSettings() EventSettings {
	config, _ := LoadUserConfig()
	var s EventSettings
	if config != nil {
		s = config.Events
	}
	if s.Dir == "" {
		s.Dir = GetEventsDir()
	}
	s.Dir = ExpandPath(s.Dir)
	return s
}

// GetLogSettings returns log settings with defaults applied
func GetLogSettings() LogSettings {
	config, _ := LoadUserConfig()
	var s LogSettings
	if config != nil {
		s = config.Logs
	}
	if s.Dir == "" {
		if dir, err := GetTaskdeckDir(); err == nil {
			s.Dir = filepath.Join(dir, "logs")
		}
	}
	s.Dir = ExpandPath(s.Dir)
	if s.Level == "" {
		s.Level = "info"
	}
	if s.Format == "" {
		s.Format = "json"
	}
	if s.MaxSizeMB <= 0 {
		s.MaxSizeMB = 10
	}
	if s.MaxBackups <= 0 {
		s.MaxBackups = 5
	}
	if s.MaxAgeDays <= 0 {
		s.MaxAgeDays = 10
	}
	if s.RingBufferMB <= 0 {
		s.RingBufferMB = 2
	}
	if s.AggregateIntervalS <= 0 {
		s.AggregateIntervalS = 30
	}
	return s
}

// GetWebSettings returns the web surface settings
func GetWebSettings() WebSettings {
	config, _ := LoadUserConfig()
	if config == nil {
		return WebSettings{}
	}
	return config.Web
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	path = os.ExpandEnv(path)
	if path == "~" || (len(path) > 1 && path[0] == '~' && path[1] == '/') {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
