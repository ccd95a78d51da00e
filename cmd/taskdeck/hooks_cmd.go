package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskdeck/taskdeck/internal/session"
)

// handleHooks handles the "hooks" CLI subcommand for manual hook management.
func handleHooks(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeck hooks <install|remove|status> [--dir DIR] [--handler]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("hooks "+args[0], flag.ExitOnError)
	dir := fs.String("dir", ".", "Project directory containing .claude/")
	useHandler := fs.Bool("handler", false, "Install `taskdeck hook-handler` instead of shell one-liners")
	_ = fs.Parse(args[1:])

	projectDir, err := filepath.Abs(*dir)
	if err != nil {
		fatalf("%v", err)
	}
	opts := hookOptions(*useHandler)

	switch args[0] {
	case "install":
		if err := session.InstallClaudeHooks(projectDir, opts); err != nil {
			fatalf("installing hooks: %v", err)
		}
		fmt.Println("Claude Code status hooks installed.")
		fmt.Printf("Config: %s\n", session.ClaudeSettingsPath(projectDir))
	case "remove", "uninstall":
		removed, err := session.RemoveClaudeHooks(projectDir, opts)
		if err != nil {
			fatalf("removing hooks: %v", err)
		}
		if removed {
			fmt.Println("Claude Code status hooks removed.")
		} else {
			fmt.Println("No taskdeck hooks found.")
		}
	case "status":
		if session.ClaudeHooksInstalled(projectDir, opts) {
			fmt.Printf("Hooks: installed (%s)\n", session.ClaudeSettingsPath(projectDir))
		} else {
			fmt.Println("Hooks: not installed")
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown hooks subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Usage: taskdeck hooks <install|remove|status>")
		os.Exit(1)
	}
}

func hookOptions(useHandler bool) session.HookOptions {
	opts := session.HookOptions{EnvVar: session.GetStatusSettings().EnvVar}
	if useHandler {
		opts.HandlerCommand = "taskdeck hook-handler"
	}
	return opts
}
