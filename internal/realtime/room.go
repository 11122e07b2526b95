package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/session"
)

// Room fans session events out to every connected monitor.
type Room struct {
	// forward holds messages to send to every client.
	forward chan []byte
	// join is a channel for clients wishing to join the room.
	join chan *client
	// leave is a channel for clients wishing to leave the room.
	leave chan *client
	// clients holds all current clients; owned by Run.
	clients map[*client]bool
	// done is closed when Run returns.
	done chan struct{}
	size atomic.Int64

	log      logging.Logger
	metrics  ConnMetrics
	upgrader websocket.Upgrader
}

// NewRoom makes a room that is ready to Run.
func NewRoom(log logging.Logger, metrics ConnMetrics) *Room {
	if log == nil {
		log = logging.Noop()
	}
	return &Room{
		forward:  make(chan []byte),
		join:     make(chan *client),
		leave:    make(chan *client),
		clients:  make(map[*client]bool),
		done:     make(chan struct{}),
		log:      log.With(logging.String("component", "monitor_room")),
		metrics:  metrics,
		upgrader: newUpgrader(),
	}
}

// Run serves joins, leaves and broadcasts until ctx is done.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			for c := range r.clients {
				delete(r.clients, c)
				c.close()
			}
			r.size.Store(0)
			return
		case c := <-r.join:
			r.clients[c] = true
			r.size.Store(int64(len(r.clients)))
			r.log.Debug(ctx, "monitor joined", logging.Int("monitors", len(r.clients)))
		case c := <-r.leave:
			if _, ok := r.clients[c]; ok {
				delete(r.clients, c)
				c.close()
			}
			r.size.Store(int64(len(r.clients)))
			r.log.Debug(ctx, "monitor left", logging.Int("monitors", len(r.clients)))
		case msg := <-r.forward:
			for c := range r.clients {
				if !c.enqueue(msg) {
					r.log.Debug(ctx, "monitor buffer full; dropping event")
				}
			}
		}
	}
}

// Len reports the number of connected monitors.
func (r *Room) Len() int { return int(r.size.Load()) }

// Broadcast sends ev to every monitor. It is a no-op once Run has exited.
func (r *Room) Broadcast(ev session.Event) {
	msg, err := json.Marshal(Outbound{Type: MsgEvent, Event: &ev})
	if err != nil {
		r.log.Warn(context.Background(), "marshal monitor event", logging.Err(err))
		return
	}
	select {
	case r.forward <- msg:
	case <-r.done:
	}
}

// ServeHTTP upgrades a monitor connection and keeps it in the room until
// it disconnects.
func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn(req.Context(), "monitor upgrade failed", logging.Err(err))
		return
	}
	c := newClient(socket)
	select {
	case r.join <- c:
	case <-r.done:
		socket.Close()
		return
	}
	if r.metrics != nil {
		r.metrics.SocketConnected("monitor", 1)
		defer r.metrics.SocketConnected("monitor", -1)
	}
	defer func() {
		select {
		case r.leave <- c:
		case <-r.done:
		}
	}()
	go c.write()
	c.read(nil)
}
