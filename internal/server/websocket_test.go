package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocket_PingAndNotificationPush(t *testing.T) {
	h := newHarness(t)
	adminUID, adminToken := h.signup("admin@example.com")
	require.NoError(t, h.app.Admins.Grant(context.Background(), adminUID))
	uid, token := h.signup("parent@example.com")

	srv := httptest.NewServer(h.r)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token="
	_, resp, err := websocket.DefaultDialer.Dial(base+adminToken+"x", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "pong", msg["type"])

	code, out := h.do(http.MethodPost, "/v1/rpc/changeUserPlan", adminToken, map[string]any{"targetUid": uid, "newPlan": "pro"})
	require.Equal(t, http.StatusOK, code, out)

	msg = nil
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "update", msg["type"])
	assert.Equal(t, "notification", msg["event"])
	body := msg["body"].(map[string]any)
	assert.Equal(t, "Your account plan has been upgraded to pro.", body["message"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "read", "id": body["id"]}))
	msg = nil
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "ack", msg["type"])
}
