package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/session"
)

const Version = "0.4.0"

var cliLog = logging.ForComponent(logging.CompCLI)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		os.Exit(1)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("taskdeck v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "run":
		handleRun(args[1:])
	case "extract":
		handleExtract(args[1:])
	case "watch":
		handleWatch(args[1:])
	case "hooks":
		handleHooks(args[1:])
	case "hook-handler":
		// Invoked by Claude Code; never fail the hook.
		handleHookHandler()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`taskdeck - run AI coding assistants per task and track their state

Usage:
  taskdeck run [flags]                 Start a session for a task in this terminal
  taskdeck extract [flags] [file]      Print the latest-response snippet from scrollback
  taskdeck watch [flags]               Stream transition events written by sessions
  taskdeck hooks <install|remove|status> [flags]
                                       Manage Claude Code status hooks for a project
  taskdeck hook-handler                Hook entry point (reads payload on stdin)
  taskdeck version                     Print version

Environment:
  TASKDECK_CONFIG        Path to config.toml (default ~/.taskdeck/config.toml)
  TASKDECK_STATUS_FILE   Status file of the current session (set for the shell)
  TASKDECK_DEBUG         Log to ~/.taskdeck/logs even if [logs] dir is unset`)
}

// initLogging configures structured logging from [logs] and installs the
// SIGUSR1 ring buffer dump. The returned func flushes and closes the log.
func initLogging() func() {
	if _, err := session.LoadUserConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}
	ls := session.GetLogSettings()
	debugMode := os.Getenv("TASKDECK_DEBUG") != ""

	logging.Init(logging.Config{
		Debug:                 debugMode,
		LogDir:                ls.Dir,
		Level:                 ls.Level,
		Format:                ls.Format,
		MaxSizeMB:             ls.MaxSizeMB,
		MaxBackups:            ls.MaxBackups,
		MaxAgeDays:            ls.MaxAgeDays,
		Compress:              ls.GetCompress(),
		RingBufferSize:        ls.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: ls.AggregateIntervalS,
	})

	// SIGUSR1 dumps the ring buffer for post-mortem debugging
	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go func() {
		for range usr1Chan {
			dumpDir := ls.Dir
			if dumpDir == "" {
				dumpDir = os.TempDir()
			}
			dumpPath := filepath.Join(dumpDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				cliLog.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				cliLog.Info("crash_dump_written", slog.String("path", dumpPath))
			}
		}
	}()

	return func() {
		signal.Stop(usr1Chan)
		logging.Shutdown()
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", a...)
	os.Exit(1)
}
