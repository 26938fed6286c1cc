// Package hub fans new notifications out to an account's live connections.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"famtool-server/internal/model"
	"famtool-server/internal/store"
	"famtool-server/internal/trigger"

	"github.com/rs/zerolog"
)

// NotificationPattern matches one inbox entry.
const NotificationPattern = "account/{uid}/notifications/{id}"

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	AccountID string
	Writer    Writer
}

// Message is the envelope every pushed frame uses.
type Message struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Body  any    `json:"body,omitempty"`
}

type Hub struct {
	logger zerolog.Logger

	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:      logger.With().Str("component", "hub").Logger(),
		connections: make(map[string]map[*Connection]struct{}),
	}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.AccountID] == nil {
		h.connections[conn.AccountID] = make(map[*Connection]struct{})
	}
	h.connections[conn.AccountID][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.AccountID]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.AccountID)
	}
}

// Connected reports how many live connections uid has.
func (h *Hub) Connected(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[uid])
}

// Broadcast writes message to every connection of uid. Connections that fail
// are closed and dropped.
func (h *Hub) Broadcast(uid string, message []byte) {
	h.mu.RLock()
	set := h.connections[uid]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

// Subscribe pushes every newly created inbox entry to its account.
func (h *Hub) Subscribe(d *trigger.Dispatcher) {
	d.OnCreate("live-notifications", NotificationPattern, h.onNotification)
}

func (h *Hub) onNotification(_ context.Context, ev trigger.Event) error {
	uid := ev.Param("uid")
	if h.Connected(uid) == 0 {
		return nil
	}
	var n model.Notification
	if err := store.Decode(ev.After, &n); err != nil {
		return err
	}
	n.ID = ev.Param("id")

	out, err := json.Marshal(Message{Type: "update", Event: "notification", Body: n})
	if err != nil {
		return err
	}
	h.Broadcast(uid, out)
	h.logger.Debug().Str("uid", uid).Str("id", ev.Param("id")).Msg("notification pushed")
	return nil
}
