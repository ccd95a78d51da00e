package session

import (
	"fmt"
	"strings"
)

const skipPermissionsFlag = "--dangerously-skip-permissions"

// ChangeDirCommand returns the shell command sent once the shell is ready.
func ChangeDirCommand(dir string) string {
	return fmt.Sprintf("cd %s && clear", quoteArg(dir))
}

// LaunchCommand builds the tool invocation. The first launch passes the
// initial prompt as an argument; later launches resume with --continue.
func LaunchCommand(cfg Config, prompt string, first bool) string {
	tool := cfg.ToolCommand
	if tool == "" {
		tool = "claude"
	}
	var b strings.Builder
	b.WriteString(tool)
	if !first {
		b.WriteString(" --continue")
	}
	if cfg.SkipPermissions {
		b.WriteString(" " + skipPermissionsFlag)
	}
	if first && prompt != "" {
		b.WriteString(" " + quoteArg(prompt))
	}
	return b.String()
}

// quoteArg wraps s in double quotes, escaping backslashes and double quotes.
func quoteArg(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
