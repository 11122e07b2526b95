package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/session"
	"github.com/rheeghang/docent/model"
)

// Engine is the session API a visitor socket drives.
type Engine interface {
	Get(id string) (session.Snapshot, error)
	Navigate(ctx context.Context, id, pageID string) (session.Update, error)
	ObserveOrientation(ctx context.Context, id string, sample model.OrientationSample) (session.Update, error)
	ObserveMotion(ctx context.Context, id string, sample model.MotionSample) (session.Update, error)
	SetPermissions(ctx context.Context, id string, perms model.Permissions) (session.Snapshot, error)
	SetLanguage(ctx context.Context, id, lang string) (session.Snapshot, error)
	CloseMenu(ctx context.Context, id string) (session.Update, error)
}

// VisitorHandler serves /ws/visit: samples in, updates out.
type VisitorHandler struct {
	engine   Engine
	log      logging.Logger
	metrics  ConnMetrics
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]map[*client]struct{}
}

// NewVisitorHandler builds a handler over engine.
func NewVisitorHandler(engine Engine, log logging.Logger, metrics ConnMetrics) *VisitorHandler {
	if log == nil {
		log = logging.Noop()
	}
	return &VisitorHandler{
		engine:   engine,
		log:      log.With(logging.String("component", "visitor_socket")),
		metrics:  metrics,
		upgrader: newUpgrader(),
		conns:    make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection for the session named by the
// "session" query parameter.
func (h *VisitorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		http.Error(w, "session query parameter is required", http.StatusBadRequest)
		return
	}
	snap, err := h.engine.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "visitor upgrade failed", logging.Err(err))
		return
	}
	ctx := logging.ContextWithSessionID(context.WithoutCancel(r.Context()), id)
	c := newClient(socket)
	h.register(id, c)
	if h.metrics != nil {
		h.metrics.SocketConnected("visitor", 1)
		defer h.metrics.SocketConnected("visitor", -1)
	}
	defer func() {
		h.unregister(id, c)
		c.close()
	}()

	h.send(ctx, c, Outbound{Type: MsgSession, Session: &snap})
	go c.write()
	c.read(func(raw []byte) {
		h.send(ctx, c, h.handle(ctx, id, raw))
	})
	h.log.Debug(ctx, "visitor socket closed")
}

func (h *VisitorHandler) handle(ctx context.Context, id string, raw []byte) Outbound {
	msg, err := DecodeInbound(raw)
	if err != nil {
		return Outbound{Type: MsgError, Error: err.Error()}
	}

	var (
		upd  session.Update
		snap session.Snapshot
	)
	switch msg.Type {
	case MsgOrientation:
		upd, err = h.engine.ObserveOrientation(ctx, id, *msg.Orientation)
	case MsgMotion:
		upd, err = h.engine.ObserveMotion(ctx, id, *msg.Motion)
	case MsgNavigate:
		upd, err = h.engine.Navigate(ctx, id, msg.PageID)
	case MsgCloseMenu:
		upd, err = h.engine.CloseMenu(ctx, id)
	case MsgPermissions:
		snap, err = h.engine.SetPermissions(ctx, id, *msg.Permissions)
		if err == nil {
			return Outbound{Type: MsgSession, Session: &snap}
		}
	case MsgLanguage:
		snap, err = h.engine.SetLanguage(ctx, id, msg.Language)
		if err == nil {
			return Outbound{Type: MsgSession, Session: &snap}
		}
	}
	if err != nil {
		return Outbound{Type: MsgError, Error: err.Error()}
	}
	return Outbound{Type: MsgUpdate, Update: &upd}
}

// Deliver pushes clock-driven events (guide dismissal, expiry) to the
// sockets of the sessions they belong to. Expired sessions are disconnected.
func (h *VisitorHandler) Deliver(ctx context.Context, events []session.Event) {
	for _, ev := range events {
		ev := ev
		h.mu.RLock()
		targets := make([]*client, 0, len(h.conns[ev.SessionID]))
		for c := range h.conns[ev.SessionID] {
			targets = append(targets, c)
		}
		h.mu.RUnlock()

		for _, c := range targets {
			h.send(ctx, c, Outbound{Type: MsgEvent, Event: &ev})
			if ev.Type == session.EventSessionExpired || ev.Type == session.EventSessionClosed {
				c.close()
			}
		}
	}
}

// Publish implements session.Sink. Only session_closed is delivered here;
// every other event reaches the visitor in an update reply or via Deliver.
func (h *VisitorHandler) Publish(ctx context.Context, ev session.Event) error {
	if ev.Type == session.EventSessionClosed {
		h.Deliver(ctx, []session.Event{ev})
	}
	return nil
}

// Connections reports how many sockets are attached to a session.
func (h *VisitorHandler) Connections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[sessionID])
}

func (h *VisitorHandler) send(ctx context.Context, c *client, out Outbound) {
	raw, err := json.Marshal(out)
	if err != nil {
		h.log.Warn(ctx, "marshal visitor message", logging.Err(err))
		return
	}
	if !c.enqueue(raw) {
		h.log.Debug(ctx, "visitor buffer full or closed; dropping message", logging.String("type", out.Type))
	}
}

func (h *VisitorHandler) register(id string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[id] == nil {
		h.conns[id] = make(map[*client]struct{})
	}
	h.conns[id][c] = struct{}{}
}

func (h *VisitorHandler) unregister(id string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[id], c)
	if len(h.conns[id]) == 0 {
		delete(h.conns, id)
	}
}
