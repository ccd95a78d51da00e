// Package terminal holds everything the session core needs from the terminal
// emulator: a read accessor for scrollback, a write accessor for typed text,
// and the heuristics that turn raw scrollback into a short response snippet.
package terminal

import (
	"errors"
	"log/slog"

	"github.com/taskdeck/taskdeck/internal/logging"
)

var termLog = logging.ForComponent(logging.CompTerminal)

// ErrClosed is returned by Send on a terminal that has already shut down.
var ErrClosed = errors.New("terminal closed")

// Terminal is the boundary to the terminal emulator. Implementations must be
// safe for concurrent use.
type Terminal interface {
	// Scrollback returns the retained output, including escape sequences.
	Scrollback() ([]byte, error)
	// Send injects text as if typed. No escaping is applied.
	Send(text string) error
}

// SendCommand writes command followed by a carriage return.
func SendCommand(t Terminal, command string) error {
	if t == nil {
		return ErrClosed
	}
	if err := t.Send(command + "\r"); err != nil {
		termLog.Debug("send_command_failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}
