package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/terminal"
)

// handleExtract prints the latest-response snippet for scrollback read from
// a file, stdin, or a tmux pane.
func handleExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	tmuxName := fs.String("tmux", "", "Capture scrollback from this tmux session")
	maxWidth := fs.Int("max-width", -1, "Truncate snippet lines to this display width (0 = off)")
	_ = fs.Parse(args)

	var raw []byte
	var err error
	switch {
	case *tmuxName != "":
		var t *terminal.Tmux
		if t, err = terminal.AttachTmux(*tmuxName); err == nil {
			raw, err = t.Scrollback()
		}
	case fs.NArg() > 0:
		raw, err = os.ReadFile(fs.Arg(0))
	default:
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fatalf("reading scrollback: %v", err)
	}

	fmt.Println(extractSnippet(raw, *maxWidth))
}

func extractSnippet(raw []byte, maxWidth int) string {
	cfg := session.ConfigFromUser().Extractor
	if maxWidth >= 0 {
		cfg.MaxWidth = maxWidth
	}
	return terminal.NewExtractor(cfg).Extract(raw)
}
