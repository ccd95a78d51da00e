package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/taskdeck/taskdeck/internal/session"
)

// handleWatch streams transition events written by sessions with
// [events] enabled, or waits for one task to reach a state.
func handleWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	task := fs.String("task", "", "Only report this task")
	dir := fs.String("dir", "", "Events directory (default from [events] dir)")
	jsonOut := fs.Bool("json", false, "Print events as JSON lines")
	waitFor := fs.String("wait", "", "Exit once a comma-separated state (e.g. waiting,completed) is reached")
	timeout := fs.Duration("timeout", 10*time.Minute, "Give up waiting after this long")
	_ = fs.Parse(args)

	defer initLogging()()

	eventsDir := *dir
	if eventsDir == "" {
		eventsDir = session.GetEventSettings().Dir
	}
	eventsDir = session.ExpandPath(eventsDir)

	watcher, err := session.NewEventWatcher(eventsDir, *task)
	if err != nil {
		fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go watcher.Run(ctx)

	if *waitFor != "" {
		states, err := parseStates(*waitFor)
		if err != nil {
			fatalf("%v", err)
		}
		t, err := watcher.WaitForState(ctx, states, *timeout)
		if err != nil {
			fatalf("%v", err)
		}
		printTransition(os.Stdout, t, *jsonOut)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-watcher.Events():
			printTransition(os.Stdout, t, *jsonOut)
		}
	}
}

func parseStates(list string) ([]session.State, error) {
	var states []session.State
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, ok := session.ParseState(part)
		if !ok {
			return nil, fmt.Errorf("unknown state %q", strings.TrimSpace(part))
		}
		states = append(states, st)
	}
	if len(states) == 0 {
		return nil, fmt.Errorf("no states given")
	}
	return states, nil
}

func printTransition(w io.Writer, t session.Transition, asJSON bool) {
	if asJSON {
		data, _ := json.Marshal(t)
		fmt.Fprintln(w, string(data))
		return
	}
	ts := time.Unix(t.Timestamp, 0).Format("15:04:05")
	fmt.Fprintf(w, "%s  %-20s %s -> %s (%s)\n", ts, t.TaskID, t.PrevState, t.State, t.Source)
	if t.Snippet != "" {
		for _, line := range strings.Split(t.Snippet, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}
