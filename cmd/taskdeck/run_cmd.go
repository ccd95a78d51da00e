package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/terminal"
	"github.com/taskdeck/taskdeck/internal/web"
)

type runOptions struct {
	taskID       string
	dir          string
	prompt       string
	resume       bool
	noLaunch     bool
	useTmux      bool
	installHooks bool
	listen       string
	token        string
	readOnly     bool
}

func parseRunFlags(args []string) (runOptions, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var o runOptions
	fs.StringVar(&o.taskID, "task", "", "Task id (default: random UUID)")
	fs.StringVar(&o.dir, "dir", "", "Working directory (default: current directory)")
	fs.StringVar(&o.prompt, "prompt", "", "Initial prompt passed on the first launch")
	fs.BoolVar(&o.resume, "resume", false, "The tool already ran for this task; launch with --continue")
	fs.BoolVar(&o.noLaunch, "no-launch", false, "Do not start the tool automatically")
	fs.BoolVar(&o.useTmux, "tmux", false, "Run the shell in a detached tmux session instead of this terminal")
	fs.BoolVar(&o.installHooks, "install-hooks", false, "Install Claude Code status hooks into the working directory first")
	fs.StringVar(&o.listen, "listen", session.GetWebSettings().Listen, "Serve the HTTP/WebSocket API on this address")
	fs.StringVar(&o.token, "token", "", "Require this token for the web API")
	fs.BoolVar(&o.readOnly, "read-only", false, "Reject state overrides through the web API")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 && o.prompt == "" {
		o.prompt = fs.Arg(0)
	}
	if o.taskID == "" {
		o.taskID = uuid.NewString()
	}
	if o.dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return o, fmt.Errorf("resolve working directory: %w", err)
		}
		o.dir = wd
	}
	o.dir = session.ExpandPath(o.dir)
	return o, nil
}

// handleRun starts one session for a task and drives it until the shell
// exits or the process is signalled.
func handleRun(args []string) {
	opts, err := parseRunFlags(args)
	if err != nil {
		os.Exit(2)
	}
	defer initLogging()()

	cfg := session.ConfigFromUser()
	if opts.noLaunch {
		cfg.AutoLaunch = false
	}

	if opts.installHooks {
		if err := session.InstallClaudeHooks(opts.dir, hookOptions(false)); err != nil {
			fatalf("installing hooks: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ptyTerm *terminal.PTY
	var tmuxTerm *terminal.Tmux
	factory := func(spec session.TerminalSpec) (terminal.Terminal, error) {
		if opts.useTmux {
			t, err := terminal.NewTmuxSession("taskdeck-"+spec.TaskID, spec.Dir, spec.Env)
			if err != nil {
				return nil, err
			}
			tmuxTerm = t
			return t, nil
		}
		p, err := terminal.StartPTY(ctx, terminal.PTYOptions{
			Shell:  spec.Shell,
			Args:   spec.Args,
			Dir:    spec.Dir,
			Env:    spec.Env,
			Mirror: os.Stdout,
		})
		if err != nil {
			return nil, err
		}
		ptyTerm = p
		return p, nil
	}

	registry := session.NewRegistry(cfg, factory)
	s := registry.GetOrCreate(opts.taskID, session.Params{
		WorkingDirectory: opts.dir,
		InitialPrompt:    opts.prompt,
		HasLaunchedTool:  opts.resume,
		Callbacks: session.Callbacks{
			OnStateChanged: func(st session.State, snippet string) {
				cliLog.Info("task_state", slog.String("task", opts.taskID), slog.String("state", string(st)), slog.String("snippet", snippet))
			},
			OnToolLaunchedOnce: func() {
				cliLog.Info("task_tool_first_launch", slog.String("task", opts.taskID))
			},
		},
	})
	if s.Terminal() == nil {
		_ = registry.Close()
		fatalf("could not open a terminal for task %s (see log)", opts.taskID)
	}

	var srv *web.Server
	if opts.listen != "" {
		srv = web.NewServer(web.Config{ListenAddr: opts.listen, Token: opts.token, ReadOnly: opts.readOnly}, registry)
		go func() {
			if err := srv.Start(); err != nil {
				cliLog.Error("web_server_failed", slog.String("error", err.Error()))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if ptyTerm != nil {
		restore := attachStdin(ptyTerm)
		select {
		case <-ptyTerm.Done():
		case <-sigCh:
		}
		restore()
	} else {
		fmt.Fprintf(os.Stderr, "Task %s running in tmux session %s\n", opts.taskID, tmuxTerm.Name)
		fmt.Fprintf(os.Stderr, "Attach with: tmux attach -t %s\n", tmuxTerm.Name)
		waitTmux(tmuxTerm, sigCh)
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	if err := registry.Close(); err != nil {
		cliLog.Warn("registry_close_failed", slog.String("error", err.Error()))
	}
	if ptyTerm != nil {
		_ = ptyTerm.Close()
	}
}

// attachStdin forwards this terminal's input and size to p. The returned
// func restores the terminal mode.
func attachStdin(p *terminal.PTY) func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		go func() { _, _ = io.Copy(p, os.Stdin) }()
		return func() {}
	}

	_ = p.InheritSize(os.Stdin)
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	go func() {
		for range winch {
			if err := p.InheritSize(os.Stdin); err != nil {
				cliLog.Debug("pty_resize_failed", slog.String("error", err.Error()))
			}
		}
	}()

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		cliLog.Warn("raw_mode_failed", slog.String("error", err.Error()))
	}
	go func() { _, _ = io.Copy(p, os.Stdin) }()

	return func() {
		signal.Stop(winch)
		close(winch)
		if oldState != nil {
			_ = term.Restore(fd, oldState)
		}
	}
}

func waitTmux(t *terminal.Tmux, sigCh <-chan os.Signal) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			return
		case <-ticker.C:
			if !t.Exists() {
				return
			}
		}
	}
}
