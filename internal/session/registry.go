package session

import (
	"log/slog"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/terminal"
)

var registryLog = logging.ForComponent(logging.CompRegistry)

// TerminalSpec describes the shell a new session needs.
type TerminalSpec struct {
	TaskID string
	Dir    string
	Env    []string
	Shell  string
	Args   []string
}

// TerminalFactory opens the terminal for a new session.
type TerminalFactory func(spec TerminalSpec) (terminal.Terminal, error)

// Registry maps task ids to their single live Session.
type Registry struct {
	cfg         Config
	newTerminal TerminalFactory

	mu       sync.Mutex
	sessions map[string]*Session
	creating map[string]chan struct{}
	closing  map[string]chan struct{}

	obsMu     sync.RWMutex
	observers map[int]func(Transition)
	nextObs   int
}

// NewRegistry creates an empty registry. factory may be nil, in which case
// sessions run without a terminal (signals only).
func NewRegistry(cfg Config, factory TerminalFactory) *Registry {
	return &Registry{
		cfg:         cfg.withDefaults(),
		newTerminal: factory,
		sessions:    make(map[string]*Session),
		creating:    make(map[string]chan struct{}),
		closing:     make(map[string]chan struct{}),
		observers:   make(map[int]func(Transition)),
	}
}

// Config returns the resolved configuration.
func (r *Registry) Config() Config { return r.cfg }

// GetOrCreate returns the live session for taskID, creating it with p if
// none exists. p is ignored when the session already exists. If a previous
// session for taskID is still tearing down, or another caller is creating
// it, GetOrCreate waits for that to finish. The terminal is opened without
// holding the registry lock.
func (r *Registry) GetOrCreate(taskID string, p Params) *Session {
	for {
		r.mu.Lock()
		if s, ok := r.sessions[taskID]; ok {
			r.mu.Unlock()
			return s
		}
		if done, ok := r.creating[taskID]; ok {
			r.mu.Unlock()
			<-done
			continue
		}
		if done, ok := r.closing[taskID]; ok {
			r.mu.Unlock()
			<-done
			continue
		}
		done := make(chan struct{})
		r.creating[taskID] = done
		r.mu.Unlock()

		s := r.create(taskID, p)

		r.mu.Lock()
		delete(r.creating, taskID)
		r.sessions[taskID] = s
		r.mu.Unlock()
		close(done)
		return s
	}
}

func (r *Registry) create(taskID string, p Params) *Session {
	statusPath := StatusFilePath(r.cfg.StatusDir, taskID)

	var term terminal.Terminal
	if r.newTerminal != nil {
		t, err := r.newTerminal(TerminalSpec{
			TaskID: taskID,
			Dir:    p.WorkingDirectory,
			Env:    BuildEnvironment(os.Environ(), r.cfg, statusPath),
			Shell:  r.cfg.Shell,
			Args:   r.cfg.ShellArgs,
		})
		if err != nil {
			registryLog.Warn("terminal_open_failed", slog.String("task", taskID), slog.String("error", err.Error()))
		} else {
			term = t
		}
	}

	registryLog.Debug("session_created", slog.String("task", taskID))
	return newSession(taskID, p, r.cfg, term, r.publish)
}

// Get returns the live session for taskID.
func (r *Registry) Get(taskID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[taskID]
	return s, ok
}

// LatestResponse returns the stored snippet, or "" if no session exists.
func (r *Registry) LatestResponse(taskID string) string {
	s, ok := r.Get(taskID)
	if !ok {
		return ""
	}
	return s.LatestResponse()
}

// List returns a snapshot of every live session ordered by task id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Terminate tears down the session for taskID and removes it. It is a no-op
// for unknown ids and safe to call concurrently.
func (r *Registry) Terminate(taskID string) {
	r.mu.Lock()
	s, ok := r.sessions[taskID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, taskID)
	done := make(chan struct{})
	r.closing[taskID] = done
	r.mu.Unlock()

	s.terminate()

	r.mu.Lock()
	delete(r.closing, taskID)
	r.mu.Unlock()
	close(done)
	registryLog.Info("session_removed", slog.String("task", taskID))
}

// Close terminates every live session in parallel, including sessions whose
// creation is in flight.
func (r *Registry) Close() error {
	r.mu.Lock()
	pending := make([]chan struct{}, 0, len(r.creating))
	for _, done := range r.creating {
		pending = append(pending, done)
	}
	r.mu.Unlock()
	for _, done := range pending {
		<-done
	}

	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			r.Terminate(id)
			return nil
		})
	}
	err := g.Wait()
	registryLog.Info("registry_closed", slog.Int("sessions", len(ids)))
	return err
}

// Subscribe registers fn to receive every transition of every session. fn
// runs on the session's loop goroutine and must not block. The returned
// function unregisters it.
func (r *Registry) Subscribe(fn func(Transition)) func() {
	r.obsMu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.obsMu.Unlock()

	return func() {
		r.obsMu.Lock()
		delete(r.observers, id)
		r.obsMu.Unlock()
	}
}

func (r *Registry) publish(t Transition) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, fn := range r.observers {
		fn(t)
	}
}
