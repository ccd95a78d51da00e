package web

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/session"
)

const clientSendBuffer = 64

// client is one /ws/events subscriber. filter, when set, limits delivery to
// a single task.
type client struct {
	id     string
	filter string
	send   chan session.Transition
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// hub fans registry transitions out to stream clients. publish runs on
// session loop goroutines, so it never blocks: a full client buffer drops
// the transition for that client.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func newHub() *hub {
	return &hub{clients: make(map[string]*client)}
}

func (h *hub) register(filter string) *client {
	c := &client{
		id:     uuid.NewString(),
		filter: filter,
		send:   make(chan session.Transition, clientSendBuffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	webLog.Info("ws_client_connected", slog.String("client", c.id), slog.String("filter", filter), slog.Int("clients", n))
	return c
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	if ok {
		webLog.Info("ws_client_disconnected", slog.String("client", c.id))
	}
}

func (h *hub) publish(t session.Transition) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.filter != "" && c.filter != t.TaskID {
			continue
		}
		select {
		case c.send <- t:
		default:
			logging.Aggregate(logging.CompWeb, "ws_transition_dropped", slog.String("client", c.id))
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
