package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"famtool-server/internal/auth"
	"famtool-server/internal/hub"
	"famtool-server/internal/notify"
	"famtool-server/internal/rpc"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketHandler streams an account's new notifications.
type WebSocketHandler struct {
	Hub         *hub.Hub
	Notify      *notify.Sink
	TokenConfig auth.TokenConfig
	Logger      zerolog.Logger
}

type clientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// wsWriter serializes writes; the hub and the read loop both write.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func (w *wsWriter) writeJSON(v any) {
	out, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = w.Write(out)
}

func (h *WebSocketHandler) Serve(c *gin.Context) {
	claims, err := auth.VerifyScoped(c.Query("token"), auth.ScopeAccount, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": rpc.Errorf(rpc.Unauthenticated, "Invalid authentication token")})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	writer := &wsWriter{conn: ws}
	conn := &hub.Connection{AccountID: claims.UserID, Writer: writer}
	h.Hub.Register(conn)
	defer func() {
		h.Hub.Unregister(conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(64 * 1024)
	pingPeriod := (pongWait * 9) / 10

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writer.mu.Lock()
				err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				writer.mu.Unlock()
				if err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			writer.writeJSON(hub.Message{Type: "pong"})
		case "read":
			if msg.ID == "" {
				continue
			}
			if err := h.Notify.MarkRead(ctx, claims.UserID, msg.ID); err != nil {
				h.Logger.Debug().Err(err).Str("uid", claims.UserID).Str("id", msg.ID).Msg("mark read failed")
				continue
			}
			writer.writeJSON(hub.Message{Type: "ack", Event: "read", Body: gin.H{"id": msg.ID}})
		}
	}
}
