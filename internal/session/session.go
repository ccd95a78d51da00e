package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/terminal"
)

var sessionLog = logging.ForComponent(logging.CompSession)

// ErrSessionClosed is returned by operations on a terminated session.
var ErrSessionClosed = errors.New("session terminated")

// Transition sources.
const (
	SourceFile        = "file"
	SourcePoll        = "poll"
	SourceIdleTimeout = "idle_timeout"
	SourceManual      = "manual"
)

// Callbacks are invoked from the session's loop goroutine in observation
// order. They must not terminate their own session synchronously.
type Callbacks struct {
	// OnStateChanged fires once per distinct transition. For Waiting and
	// Completed the snippet is freshly extracted; otherwise it is the
	// previously retained one.
	OnStateChanged func(state State, snippet string)
	// OnToolLaunchedOnce fires after the first tool launch of a task that
	// had never launched the tool before.
	OnToolLaunchedOnce func()
}

// Params describe a session at creation.
type Params struct {
	WorkingDirectory string
	InitialPrompt    string
	// HasLaunchedTool is owned by the caller; when true, launches resume with
	// --continue instead of passing InitialPrompt.
	HasLaunchedTool bool
	Callbacks       Callbacks
}

// Transition describes one observed state change.
type Transition struct {
	TaskID    string `json:"task_id"`
	State     State  `json:"state"`
	PrevState State  `json:"prev_state"`
	Snippet   string `json:"snippet,omitempty"`
	Source    string `json:"source"`
	Timestamp int64  `json:"ts"`
}

// Info is a point-in-time view of a session.
type Info struct {
	TaskID           string    `json:"task_id"`
	State            State     `json:"state"`
	Snippet          string    `json:"snippet"`
	WorkingDirectory string    `json:"working_directory"`
	StatusFile       string    `json:"status_file"`
	ToolLaunched     bool      `json:"tool_launched"`
	CreatedAt        time.Time `json:"created_at"`
}

type requestKind int

const (
	reqSetState requestKind = iota
	reqLaunchTool
)

type request struct {
	kind  requestKind
	state State
}

// Session tracks one task's assistant process. File events, poll ticks,
// manual overrides and tool launches are all applied on a single loop
// goroutine, so transitions for a session are serialized.
type Session struct {
	id         string
	workDir    string
	prompt     string
	statusPath string
	createdAt  time.Time

	cfg       Config
	term      terminal.Terminal
	extractor *terminal.Extractor
	callbacks Callbacks
	observer  func(Transition)
	idle      idleDetector
	watcher   *StatusFileWatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}
	sendMu sync.Mutex

	mu              sync.Mutex
	state           State
	lastRunning     time.Time
	snippet         string
	hasLaunchedTool bool
	launched        bool
	pending         []request
	closed          bool
}

func newSession(taskID string, p Params, cfg Config, term terminal.Terminal, observer func(Transition)) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:              taskID,
		workDir:         p.WorkingDirectory,
		prompt:          p.InitialPrompt,
		statusPath:      StatusFilePath(cfg.StatusDir, taskID),
		createdAt:       cfg.Clock.Now(),
		cfg:             cfg,
		term:            term,
		extractor:       terminal.NewExtractor(cfg.Extractor),
		callbacks:       p.Callbacks,
		observer:        observer,
		idle:            idleDetector{timeout: cfg.IdleTimeout},
		ctx:             ctx,
		cancel:          cancel,
		wake:            make(chan struct{}, 1),
		state:           StateIdle,
		hasLaunchedTool: p.HasLaunchedTool,
	}

	if err := WriteStatusFile(s.statusPath, StateIdle); err != nil {
		statusLog.Warn("status_file_init_failed", slog.String("task", taskID), slog.String("error", err.Error()))
	}
	watcher, err := NewStatusFileWatcher(s.statusPath, cfg.Debounce)
	if err != nil {
		// Polling alone still drives transitions.
		statusLog.Warn("status_watcher_unavailable", slog.String("task", taskID), slog.String("error", err.Error()))
	} else {
		s.watcher = watcher
	}

	ticker := cfg.Clock.NewTicker(cfg.PollInterval)
	s.wg.Add(2)
	go s.loop(ticker)
	go s.startup()

	sessionLog.Info("session_started",
		slog.String("task", taskID),
		slog.String("dir", s.workDir),
		slog.String("status_file", s.statusPath),
		slog.Bool("has_launched_tool", p.HasLaunchedTool))
	return s
}

// ID returns the task id.
func (s *Session) ID() string { return s.id }

// StatusFilePath returns the session's status signal file.
func (s *Session) StatusFilePath() string { return s.statusPath }

// Terminal returns the terminal the session drives.
func (s *Session) Terminal() terminal.Terminal { return s.term }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LatestResponse returns the snippet extracted on the last Waiting or
// Completed transition.
func (s *Session) LatestResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snippet
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		TaskID:           s.id,
		State:            s.state,
		Snippet:          s.snippet,
		WorkingDirectory: s.workDir,
		StatusFile:       s.statusPath,
		ToolLaunched:     s.launched,
		CreatedAt:        s.createdAt,
	}
}

// SendCommand types command followed by a carriage return.
func (s *Session) SendCommand(command string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return terminal.SendCommand(s.term, command)
}

// LaunchTool starts the assistant in the session's shell. Only the first
// call per session has an effect. The launch is queued on the session loop.
func (s *Session) LaunchTool() error {
	return s.enqueue(request{kind: reqLaunchTool})
}

// SetState overrides the current state, fires the callback if the state
// changed, and writes the matching token to the status file. The override
// is queued on the session loop.
func (s *Session) SetState(st State) error {
	return s.enqueue(request{kind: reqSetState, state: st})
}

func (s *Session) enqueue(r request) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.pending = append(s.pending, r)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) loop(ticker Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	var tokens <-chan State
	if s.watcher != nil {
		tokens = s.watcher.Tokens()
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case st := <-tokens:
			s.observe(st, SourceFile)
		case <-ticker.C():
			s.tick()
		case <-s.wake:
			s.drain()
		}
	}
}

// startup waits for the shell, changes into the working directory and,
// when configured, launches the tool.
func (s *Session) startup() {
	defer s.wg.Done()
	if !s.sleep(s.cfg.StartupDelay) {
		return
	}
	if s.workDir != "" {
		if err := s.SendCommand(ChangeDirCommand(s.workDir)); err != nil {
			sessionLog.Debug("startup_cd_failed", slog.String("task", s.id), slog.String("error", err.Error()))
		}
	}
	if !s.cfg.AutoLaunch {
		return
	}
	if !s.sleep(s.cfg.LaunchDelay) {
		return
	}
	_ = s.LaunchTool()
}

func (s *Session) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) drain() {
	s.mu.Lock()
	reqs := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, r := range reqs {
		if s.ctx.Err() != nil {
			return
		}
		switch r.kind {
		case reqSetState:
			s.applyManual(r.state)
		case reqLaunchTool:
			s.launchTool()
		}
	}
}

// observe applies a decoded token. Only tokens delivered by the file watcher
// count as a fresh running signal; a poll re-read of a stale "running" does
// not extend the idle deadline.
func (s *Session) observe(st State, source string) {
	now := s.cfg.Clock.Now()
	s.mu.Lock()
	if st == StateRunning && source == SourceFile {
		s.lastRunning = now
	}
	prev := s.state
	if st == prev {
		s.mu.Unlock()
		logging.Aggregate(logging.CompSession, "duplicate_token", slog.String(logging.TaskAttr, s.id), slog.String("state", string(st)))
		return
	}
	s.state = st
	if st == StateRunning {
		s.lastRunning = now
	}
	s.mu.Unlock()

	s.transitioned(prev, st, source, now)
}

func (s *Session) tick() {
	logging.Aggregate(logging.CompSession, "status_tick", slog.String(logging.TaskAttr, s.id))
	if s.watcher != nil {
		s.watcher.EnsureAttached()
	}
	s.observe(ReadStatusFile(s.statusPath), SourcePoll)

	now := s.cfg.Clock.Now()
	s.mu.Lock()
	expired := s.idle.check(s.state, s.lastRunning, now)
	if expired {
		s.state = StateIdle
	}
	last := s.lastRunning
	s.mu.Unlock()
	if !expired {
		return
	}

	sessionLog.Info("idle_timeout_forced",
		slog.String("task", s.id),
		slog.Duration("since_running", now.Sub(last)))
	if err := WriteStatusFile(s.statusPath, StateIdle); err != nil {
		statusLog.Debug("status_write_failed", slog.String("task", s.id), slog.String("error", err.Error()))
	}
	s.transitioned(StateRunning, StateIdle, SourceIdleTimeout, now)
}

func (s *Session) applyManual(st State) {
	now := s.cfg.Clock.Now()
	s.mu.Lock()
	prev := s.state
	s.state = st
	if st == StateRunning {
		s.lastRunning = now
	}
	s.mu.Unlock()

	if err := WriteStatusFile(s.statusPath, st); err != nil {
		statusLog.Debug("status_write_failed", slog.String("task", s.id), slog.String("error", err.Error()))
	}
	if st == prev {
		return
	}
	s.transitioned(prev, st, SourceManual, now)
}

func (s *Session) launchTool() {
	s.mu.Lock()
	if s.launched {
		s.mu.Unlock()
		return
	}
	s.launched = true
	first := !s.hasLaunchedTool
	s.hasLaunchedTool = true
	s.mu.Unlock()

	cmd := LaunchCommand(s.cfg, s.prompt, first)
	if err := s.SendCommand(cmd); err != nil {
		sessionLog.Warn("tool_launch_send_failed", slog.String("task", s.id), slog.String("error", err.Error()))
	}
	sessionLog.Info("tool_launched", slog.String("task", s.id), slog.Bool("first", first))
	if first && s.callbacks.OnToolLaunchedOnce != nil {
		s.callbacks.OnToolLaunchedOnce()
	}
}

func (s *Session) transitioned(prev, st State, source string, now time.Time) {
	var snippet string
	if st.wantsSnippet() {
		snippet = s.extractSnippet()
		s.mu.Lock()
		s.snippet = snippet
		s.mu.Unlock()
	} else {
		snippet = s.LatestResponse()
	}

	sessionLog.Info("state_changed",
		slog.String("task", s.id),
		slog.String("from", string(prev)),
		slog.String("to", string(st)),
		slog.String("source", source))

	if cb := s.callbacks.OnStateChanged; cb != nil {
		cb(st, snippet)
	}

	t := Transition{
		TaskID:    s.id,
		State:     st,
		PrevState: prev,
		Snippet:   snippet,
		Source:    source,
		Timestamp: now.Unix(),
	}
	if s.cfg.EventsDir != "" {
		if err := WriteTransitionEvent(s.cfg.EventsDir, t); err != nil {
			sessionLog.Debug("transition_event_write_failed", slog.String("task", s.id), slog.String("error", err.Error()))
		}
	}
	if s.observer != nil {
		s.observer(t)
	}
}

func (s *Session) extractSnippet() string {
	if s.term == nil {
		return ""
	}
	raw, err := s.term.Scrollback()
	if err != nil {
		logging.Aggregate(logging.CompExtract, "scrollback_unavailable", slog.String(logging.TaskAttr, s.id), slog.String("error", err.Error()))
		return ""
	}
	return s.extractor.Extract(raw)
}

// terminate stops the watcher and loop, removes the status file and
// optionally exits the shell. No callback fires after it returns.
func (s *Session) terminate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			statusLog.Debug("status_watcher_close_failed", slog.String("task", s.id), slog.String("error", err.Error()))
		}
	}
	s.wg.Wait()

	if err := RemoveStatusFile(s.statusPath); err != nil {
		statusLog.Warn("status_file_remove_failed", slog.String("path", s.statusPath), slog.String("error", err.Error()))
	}
	if s.cfg.ExitOnTerminate && s.term != nil {
		s.sendMu.Lock()
		if err := terminal.SendCommand(s.term, "exit"); err != nil {
			sessionLog.Debug("exit_send_failed", slog.String("task", s.id), slog.String("error", err.Error()))
		}
		s.sendMu.Unlock()
	}
	sessionLog.Info("session_terminated", slog.String("task", s.id))
}
