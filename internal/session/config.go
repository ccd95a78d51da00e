package session

import (
	"time"

	"github.com/taskdeck/taskdeck/internal/terminal"
)

// Config is the resolved runtime configuration shared by every session in a
// Registry.
type Config struct {
	// StatusDir holds the per-task status signal files.
	StatusDir string
	// StatusEnvVar carries the status file path into the shell.
	StatusEnvVar string

	IdleTimeout  time.Duration
	PollInterval time.Duration
	// Debounce coalesces bursts of file events. Zero reads on every event.
	Debounce time.Duration

	ToolCommand     string
	SkipPermissions bool
	AutoLaunch      bool
	StartupDelay    time.Duration
	LaunchDelay     time.Duration
	ExitOnTerminate bool

	Shell     string
	ShellArgs []string
	Lang      string
	Term      string
	ColorTerm string

	// EventsDir, when set, receives one JSON file per task on each transition.
	EventsDir string

	Extractor terminal.ExtractorConfig

	// Clock defaults to the wall clock.
	Clock Clock
}

// DefaultConfig returns the built-in defaults without consulting config.toml.
func DefaultConfig() Config {
	return Config{
		StatusDir:       DefaultStatusDir(),
		StatusEnvVar:    DefaultStatusEnvVar,
		IdleTimeout:     5 * time.Second,
		PollInterval:    time.Second,
		ToolCommand:     "claude",
		SkipPermissions: true,
		AutoLaunch:      true,
		StartupDelay:    500 * time.Millisecond,
		LaunchDelay:     300 * time.Millisecond,
		ExitOnTerminate: true,
		Shell:           "/bin/sh",
		ShellArgs:       []string{"--login"},
		Lang:            "en_US.UTF-8",
		Term:            "xterm-256color",
		ColorTerm:       "truecolor",
		Extractor: terminal.ExtractorConfig{
			MaxLines:     terminal.DefaultMaxLines,
			SnippetLines: terminal.DefaultSnippetLines,
		},
	}
}

// ConfigFromUser resolves config.toml (with defaults applied) into a Config.
func ConfigFromUser() Config {
	status := GetStatusSettings()
	extract := GetExtractSettings()
	tool := GetToolSettings()
	shell := GetShellSettings()
	events := GetEventSettings()

	debounce := time.Duration(status.DebounceMs) * time.Millisecond
	if debounce < 0 {
		debounce = 0
	}

	cfg := Config{
		StatusDir:       status.Dir,
		StatusEnvVar:    status.EnvVar,
		IdleTimeout:     time.Duration(status.IdleTimeoutMs) * time.Millisecond,
		PollInterval:    time.Duration(status.PollIntervalMs) * time.Millisecond,
		Debounce:        debounce,
		ToolCommand:     tool.Command,
		SkipPermissions: tool.GetSkipPermissions(),
		AutoLaunch:      tool.GetAutoLaunch(),
		StartupDelay:    time.Duration(tool.StartupDelayMs) * time.Millisecond,
		LaunchDelay:     time.Duration(tool.LaunchDelayMs) * time.Millisecond,
		ExitOnTerminate: tool.GetExitOnTerminate(),
		Shell:           shell.Path,
		ShellArgs:       shell.Args,
		Lang:            shell.Lang,
		Term:            shell.Term,
		ColorTerm:       shell.ColorTerm,
		Extractor: terminal.ExtractorConfig{
			MaxLines:     extract.MaxLines,
			SnippetLines: extract.SnippetLines,
			MaxWidth:     extract.MaxWidth,
			Patterns: terminal.MergeChromePatterns(
				terminal.DefaultChromePatterns(tool.Command),
				extract.Patterns,
				extract.ExtraPatterns,
			),
		},
	}
	if events.Enabled {
		cfg.EventsDir = events.Dir
	}
	return cfg
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StatusDir == "" {
		c.StatusDir = d.StatusDir
	}
	if c.StatusEnvVar == "" {
		c.StatusEnvVar = d.StatusEnvVar
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Debounce < 0 {
		c.Debounce = 0
	}
	if c.ToolCommand == "" {
		c.ToolCommand = d.ToolCommand
	}
	if c.Shell == "" {
		c.Shell = d.Shell
	}
	if c.Lang == "" {
		c.Lang = d.Lang
	}
	if c.Term == "" {
		c.Term = d.Term
	}
	if c.ColorTerm == "" {
		c.ColorTerm = d.ColorTerm
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	return c
}

// Clock abstracts time for idle detection and the poll ticker.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the session loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
