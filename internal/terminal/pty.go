package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// PTYOptions configures StartPTY.
type PTYOptions struct {
	Shell string
	Args  []string
	Dir   string
	// Env is the complete child environment. Nil inherits the parent's.
	Env []string
	// Mirror, when set, receives a copy of all output (e.g. os.Stdout).
	Mirror io.Writer
	// ScrollbackBytes bounds retained output (0 = DefaultScrollbackBytes).
	ScrollbackBytes int
	Cols, Rows      uint16
}

// PTY runs a shell on a pseudo-terminal and records its output. It
// implements Terminal.
type PTY struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	buf    *Scrollback
	mirror io.Writer

	mu     sync.Mutex
	closed bool

	done    chan struct{}
	waitErr error
	readWG  sync.WaitGroup
}

// StartPTY launches opts.Shell on a new PTY. Cancelling ctx kills the shell.
func StartPTY(ctx context.Context, opts PTYOptions) (*PTY, error) {
	shell := opts.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, opts.Args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	size := &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows}
	if size.Cols == 0 || size.Rows == 0 {
		size = &pty.Winsize{Cols: 120, Rows: 40}
	}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	p := &PTY{
		cmd:    cmd,
		ptmx:   ptmx,
		buf:    NewScrollback(opts.ScrollbackBytes),
		mirror: opts.Mirror,
		done:   make(chan struct{}),
	}

	p.readWG.Add(1)
	go p.readLoop()
	go func() {
		p.waitErr = cmd.Wait()
		p.readWG.Wait()
		close(p.done)
	}()

	termLog.Info("pty_started",
		slog.String("shell", shell),
		slog.String("dir", opts.Dir),
		slog.Int("pid", cmd.Process.Pid))
	return p, nil
}

func (p *PTY) readLoop() {
	defer p.readWG.Done()
	var w io.Writer = p.buf
	if p.mirror != nil {
		w = io.MultiWriter(p.buf, p.mirror)
	}
	_, err := io.Copy(w, p.ptmx)
	// EIO is the normal end-of-session signal on Linux.
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		termLog.Debug("pty_read_ended", slog.String("error", err.Error()))
	}
}

// Scrollback returns a copy of the recorded output.
func (p *PTY) Scrollback() ([]byte, error) {
	return p.buf.Bytes(), nil
}

// Send writes text to the shell as if typed.
func (p *PTY) Send(text string) error {
	_, err := p.Write([]byte(text))
	return err
}

// Write forwards raw input bytes to the shell.
func (p *PTY) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	return p.ptmx.Write(b)
}

// Resize changes the PTY window size.
func (p *PTY) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// InheritSize copies the window size of f (usually os.Stdin) to the PTY.
func (p *PTY) InheritSize(f *os.File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return pty.InheritSize(f, p.ptmx)
}

// Done is closed once the shell has exited and all output was recorded.
func (p *PTY) Done() <-chan struct{} {
	return p.done
}

// Err returns the shell's exit error after Done is closed.
func (p *PTY) Err() error {
	<-p.done
	return p.waitErr
}

// Close kills the shell if still running and releases the PTY.
func (p *PTY) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	select {
	case <-p.done:
	default:
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	}
	err := p.ptmx.Close()
	<-p.done
	return err
}
