package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Hub owns the websocket connections to foreground clients. Incoming
// messages go through the Dispatcher; Broadcast fans agent events out to
// every connected client.
type Hub struct {
	dispatcher *Dispatcher
	log        *slog.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func NewHub(dispatcher *Dispatcher, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		dispatcher: dispatcher,
		log:        log,
		conns:      map[*websocket.Conn]struct{}{},
	}
}

// SetDispatcher installs the message dispatcher after construction. The hub
// must broadcast for components the dispatcher itself depends on, so the two
// are wired in stages.
func (h *Hub) SetDispatcher(d *Dispatcher) {
	h.mu.Lock()
	h.dispatcher = d
	h.mu.Unlock()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}
	if !h.add(conn) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(conn)
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := r.Context()
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if ctx.Err() == nil {
				h.log.Debug("client connection dropped", "error", err)
			}
			return
		}
		dispatcher := h.currentDispatcher()
		if dispatcher == nil {
			continue
		}
		reply := dispatcher.Dispatch(ctx, msg)
		if reply == nil {
			continue
		}
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			h.log.Debug("reply write failed", "error", err)
			return
		}
	}
}

// Broadcast sends an event to every connected client. Map payloads are
// flattened beside the type field so the wire shape stays flat.
func (h *Hub) Broadcast(msgType string, payload any) {
	out := map[string]any{"type": msgType}
	switch p := payload.(type) {
	case nil:
	case map[string]any:
		for k, v := range p {
			if k == "type" {
				continue
			}
			out[k] = v
		}
	default:
		out["payload"] = payload
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := wsjson.Write(ctx, conn, out); err != nil {
			h.log.Debug("broadcast write failed", "type", msgType, "error", err)
			h.remove(conn)
			conn.Close(websocket.StatusInternalError, "")
		}
		cancel()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = map[*websocket.Conn]struct{}{}
	h.mu.Unlock()
	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

func (h *Hub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Hub) currentDispatcher() *Dispatcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dispatcher
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}
