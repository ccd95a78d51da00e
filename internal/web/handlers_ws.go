package web

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskdeck/taskdeck/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// wsServerMessage is the envelope for everything written on /ws/events.
type wsServerMessage struct {
	Type       string              `json:"type"` // hello, snapshot, transition, pong, error
	ClientID   string              `json:"clientId,omitempty"`
	Sessions   []session.Info      `json:"sessions,omitempty"`
	Transition *session.Transition `json:"transition,omitempty"`
	Code       string              `json:"code,omitempty"`
	Message    string              `json:"message,omitempty"`
	Time       time.Time           `json:"time"`
}

type wsClientMessage struct {
	Type string `json:"type"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes; gorilla connections allow one writer.
type wsConnWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleEventsWS streams transitions. An optional ?task= limits the stream
// to one task. The first messages are a hello and a snapshot of every live
// session.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	filter := strings.TrimSpace(r.URL.Query().Get("task"))
	c := s.hub.register(filter)
	defer s.hub.unregister(c)
	writer := &wsConnWriter{conn: conn}

	snapshot := s.registry.List()
	if filter != "" {
		filtered := snapshot[:0]
		for _, info := range snapshot {
			if info.TaskID == filter {
				filtered = append(filtered, info)
			}
		}
		snapshot = filtered
	}
	if err := writer.WriteJSON(wsServerMessage{Type: "hello", ClientID: c.id, Time: time.Now().UTC()}); err != nil {
		return
	}
	if err := writer.WriteJSON(wsServerMessage{Type: "snapshot", Sessions: snapshot, Time: time.Now().UTC()}); err != nil {
		return
	}

	go s.readPump(conn, writer, c)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
				time.Now().Add(time.Second))
			return
		case t := <-c.send:
			if err := writer.WriteJSON(wsServerMessage{Type: "transition", Transition: &t, Time: time.Now().UTC()}); err != nil {
				webLog.Debug("ws_write_failed", slog.String("client", c.id), slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := writer.Ping(); err != nil {
				return
			}
		}
	}
}

// readPump answers client pings and detects disconnects.
func (s *Server) readPump(conn *websocket.Conn, writer *wsConnWriter, c *client) {
	defer c.close()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly",
					slog.String("client", c.id),
					slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{Type: "pong", Time: time.Now().UTC()})
		default:
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "UNSUPPORTED_MESSAGE",
				Message: "supported message types: ping",
				Time:    time.Now().UTC(),
			})
		}
	}
}
