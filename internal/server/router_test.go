package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"famtool-server/internal/app"
	"famtool-server/internal/auth"
	"famtool-server/internal/config"
	"famtool-server/internal/model"
	"famtool-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenCfg = auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

func testConfig() config.Config {
	return config.Config{
		Port:                3000,
		MasterSecret:        "secret",
		Region:              "asia-south1",
		Timezone:            "Asia/Kolkata",
		StoreDriver:         "memory",
		PhotoLimit:          5,
		VideoLimit:          4,
		AudioLimit:          5,
		InactivityThreshold: 72 * time.Hour,
		WarningWindow:       24 * time.Hour,
		QuotaResetAt:        "00:00",
		PurgeAt:             "00:00",
		DigestAt:            "22:00",
		DigestPlans:         []string{"pro", "enterprise"},
		SigninRateLimit:     100,
		TelemetryRateLimit:  100,
	}
}

type harness struct {
	t   *testing.T
	app *app.App
	r   *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a := app.NewWithStore(testConfig(), store.NewMemory(), zerolog.Nop())
	a.Start()
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return &harness{t: t, app: a, r: NewRouter(Deps{App: a, TokenConfig: tokenCfg})}
}

func (h *harness) do(method, path, token string, body any) (int, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (h *harness) signup(email string) (uid, token string) {
	h.t.Helper()
	code, out := h.do(http.MethodPost, "/v1/identity/signup", "", map[string]any{"email": email, "password": "hunter22", "name": "Test"})
	require.Equal(h.t, http.StatusOK, code, out)
	return out["uid"].(string), out["token"].(string)
}

func (h *harness) get(path string) any {
	h.t.Helper()
	v, err := h.app.Store.Get(context.Background(), path)
	require.NoError(h.t, err)
	return v
}

// pair runs the agent pairing flow and returns a device token.
func (h *harness) pair(parentToken, childKey string) string {
	h.t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(h.t, err)
	pubB64 := base64.StdEncoding.EncodeToString(pub)

	code, out := h.do(http.MethodPost, "/v1/pairing/request", "", map[string]any{"publicKey": pubB64})
	require.Equal(h.t, http.StatusOK, code, out)
	assert.Equal(h.t, model.PairingPending, out["state"])
	id := out["id"].(string)

	challenge := []byte("challenge-" + id)
	sig := ed25519.Sign(priv, challenge)
	authBody := map[string]any{
		"publicKey": pubB64,
		"challenge": base64.StdEncoding.EncodeToString(challenge),
		"signature": base64.StdEncoding.EncodeToString(sig),
	}
	code, _ = h.do(http.MethodPost, "/v1/device/auth", "", authBody)
	require.Equal(h.t, http.StatusForbidden, code)

	code, out = h.do(http.MethodPost, "/v1/pairing/approve", parentToken, map[string]any{"id": id, "childKey": childKey})
	require.Equal(h.t, http.StatusOK, code, out)
	code, _ = h.do(http.MethodPost, "/v1/pairing/approve", parentToken, map[string]any{"id": id, "childKey": childKey})
	require.Equal(h.t, http.StatusBadRequest, code)

	code, out = h.do(http.MethodPost, "/v1/device/auth", "", authBody)
	require.Equal(h.t, http.StatusOK, code, out)
	assert.Equal(h.t, childKey, out["childKey"])
	return out["token"].(string)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	code, out := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "asia-south1", out["region"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSignupProvisionsAccount(t *testing.T) {
	h := newHarness(t)
	uid, _ := h.signup("parent@example.com")

	var profile model.Profile
	require.NoError(t, store.Decode(h.get(model.ProfilePath(uid)), &profile))
	assert.Equal(t, model.PlanFree, profile.AccountType)
	assert.Equal(t, int64(5), profile.Limits[model.MediaPhotos].Max)
	assert.NotNil(t, h.get(model.IndexPath(uid)))
	assert.NotNil(t, h.get(model.NotificationsPath(uid)))

	code, out := h.do(http.MethodPost, "/v1/identity/signup", "", map[string]any{"email": "PARENT@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid-argument", out["error"].(map[string]any)["code"])

	code, _ = h.do(http.MethodPost, "/v1/identity/signin", "", map[string]any{"email": "parent@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, out = h.do(http.MethodPost, "/v1/identity/signin", "", map[string]any{"email": "parent@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, uid, out["uid"])
}

func TestRPC_AuthAndUnknown(t *testing.T) {
	h := newHarness(t)
	_, token := h.signup("user@example.com")

	code, _ := h.do(http.MethodPost, "/v1/rpc/sendRemoteCommand", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, out := h.do(http.MethodPost, "/v1/rpc/sendRemoteCommand", token, map[string]any{"targetUid": "x", "childKey": "d", "commandType": "refresh"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "permission-denied", out["error"].(map[string]any)["code"])

	code, _ = h.do(http.MethodPost, "/v1/rpc/doesNotExist", token, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, out = h.do(http.MethodPost, "/v1/rpc/updateUserLocation", token, map[string]any{"data": map[string]any{"city": "Pune"}})
	assert.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "Location and login history updated.", out["message"])
}

func TestDevicePipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	adminUID, adminToken := h.signup("admin@example.com")
	require.NoError(t, h.app.Admins.Grant(ctx, adminUID))
	parentUID, parentToken := h.signup("parent@example.com")

	deviceToken := h.pair(parentToken, "pixel")
	assert.Equal(t, http.StatusUnauthorized, func() int {
		code, _ := h.do(http.MethodPost, "/v1/rpc/listNotifications", deviceToken, nil)
		return code
	}())

	// Financial SMS lands in the vault and nowhere in the inbox.
	code, out := h.do(http.MethodPost, "/v1/device/telemetry/sms", deviceToken, map[string]any{"smsBody": "Rs 500 debited from your bank", "smsAddress": "HDFC"})
	require.Equal(t, http.StatusOK, code, out)
	recordID := out["id"].(string)
	assert.NotNil(t, h.get(store.Join(model.VaultPath(parentUID, model.VaultBanking), recordID)))

	code, _ = h.do(http.MethodPost, "/v1/device/telemetry/CommandHistory", deviceToken, map[string]any{"x": 1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = h.do(http.MethodPut, "/v1/device/status", deviceToken, map[string]any{"battery": 80})
	require.Equal(t, http.StatusOK, code, out)

	// Admin caps photos at one and sends a capture command.
	code, out = h.do(http.MethodPost, "/v1/rpc/updateUserLimits", adminToken, map[string]any{"targetUid": parentUID, "photoLimit": 1})
	require.Equal(t, http.StatusOK, code, out)
	send := map[string]any{"targetUid": parentUID, "childKey": "pixel", "commandType": "capturePhoto"}
	code, out = h.do(http.MethodPost, "/v1/rpc/sendRemoteCommand", adminToken, send)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "Command sent successfully.", out["message"])

	code, out = h.do(http.MethodPost, "/v1/rpc/sendRemoteCommand", adminToken, send)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "resource-exhausted", out["error"].(map[string]any)["code"])

	// The agent sees the pending command and reports progress.
	code, out = h.do(http.MethodGet, "/v1/device/commands", deviceToken, nil)
	require.Equal(t, http.StatusOK, code)
	cmds := out["commands"].([]any)
	require.Len(t, cmds, 1)
	cmd := cmds[0].(map[string]any)
	assert.Equal(t, "pending", cmd["status"])
	code, _ = h.do(http.MethodPost, "/v1/device/commands/"+cmd["id"].(string)+"/status", deviceToken, map[string]any{"status": "executing"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = h.do(http.MethodPost, "/v1/device/commands/"+cmd["id"].(string)+"/status", deviceToken, map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, code)

	// The photo quota is spent, so a photo upload is removed after landing.
	code, out = h.do(http.MethodPost, "/v1/device/telemetry/photo", deviceToken, map[string]any{"url": "gs://bucket/p.jpg"})
	require.Equal(t, http.StatusOK, code, out)
	assert.Nil(t, h.get(model.TelemetryPath(parentUID, "pixel", "photo")))

	// Deleting the device revokes its token.
	code, out = h.do(http.MethodPost, "/v1/rpc/deleteChildDevice", adminToken, map[string]any{"parentUid": parentUID, "childKey": "pixel"})
	require.Equal(t, http.StatusOK, code, out)
	code, _ = h.do(http.MethodGet, "/v1/device/commands", deviceToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestRPC_AdminLists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	adminUID, adminToken := h.signup("admin@example.com")
	require.NoError(t, h.app.Admins.Grant(ctx, adminUID))
	targetUID, _ := h.signup("kid@example.com")

	frozen := true
	code, out := h.do(http.MethodPost, "/v1/rpc/freezeUserAccount", adminToken, map[string]any{"targetUid": targetUID, "isFrozen": frozen})
	require.Equal(t, http.StatusOK, code, out)

	code, out = h.do(http.MethodPost, "/v1/rpc/listAuditLogs", adminToken, map[string]any{"limit": 10})
	require.Equal(t, http.StatusOK, code, out)
	entries := out["data"].([]any)
	require.NotEmpty(t, entries)
	first := entries[0].(map[string]any)
	assert.Equal(t, "ACCOUNT_FROZEN", first["action"])
	assert.Equal(t, true, first["verified"])
}
