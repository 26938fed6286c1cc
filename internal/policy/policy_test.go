package policy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"famtool-server/internal/audit"
	"famtool-server/internal/model"
	"famtool-server/internal/quota"
	"famtool-server/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	st    *store.Memory
	gate  *Gate
	audit *audit.Log
	quota *quota.Manager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemory()
	now := func() time.Time { return time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC) }
	q := quota.New(st, quota.Options{Now: now})
	a := audit.NewWithNow(st, zerolog.Nop(), now)
	return fixture{st: st, gate: New(st, q, a, zerolog.Nop()), audit: a, quota: q}
}

func auditEntries(t *testing.T, a *audit.Log) []model.AuditEntry {
	t.Helper()
	entries, err := a.List(context.Background(), 100)
	require.NoError(t, err)
	return entries
}

func TestCheck_AllowsFreshAccount(t *testing.T) {
	f := newFixture(t)
	d, err := f.gate.Check(context.Background(), Request{AccountID: "u1", Resource: model.MediaPhotos, ActorID: "admin"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, auditEntries(t, f.audit))
}

func TestCheck_FrozenDeniesRegardlessOfQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.st.Set(ctx, model.FrozenPath("u1"), true))

	for _, res := range []model.MediaType{"", model.MediaPhotos, model.MediaVideos} {
		d, err := f.gate.Check(ctx, Request{AccountID: "u1", Resource: res, ActorID: "admin"})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, Frozen, d.Reason)
	}

	entries := auditEntries(t, f.audit)
	require.Len(t, entries, 3)
	assert.Equal(t, "COMMAND_BLOCKED", entries[0].Action)
	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(entries[0].Metadata), &meta))
	assert.Equal(t, "FROZEN", meta["reason"])
	assert.Equal(t, "u1", meta["targetUid"])
}

func TestCheck_UnfreezeRestoresQuotaBehavior(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.st.Set(ctx, model.FrozenPath("u1"), true))
	d, err := f.gate.Check(ctx, Request{AccountID: "u1", Resource: model.MediaAudio})
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.NoError(t, f.st.Set(ctx, model.FrozenPath("u1"), false))
	d, err = f.gate.Check(ctx, Request{AccountID: "u1", Resource: model.MediaAudio})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheck_LimitReached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.st.Set(ctx, model.LimitPath("u1", model.MediaPhotos), map[string]any{"count": 5, "date": f.quota.Today(), "max": 5}))

	d, err := f.gate.Check(ctx, Request{AccountID: "u1", Resource: model.MediaPhotos, ActorID: "SYSTEM", Action: audit.UploadBlocked, Metadata: map[string]any{"record": "r1"}})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, LimitReached, d.Reason)
	assert.Equal(t, int64(5), d.State.Count)

	entries := auditEntries(t, f.audit)
	require.Len(t, entries, 1)
	assert.Equal(t, "UPLOAD_BLOCKED", entries[0].Action)
	assert.Equal(t, "SYSTEM", entries[0].Actor)
	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(entries[0].Metadata), &meta))
	assert.Equal(t, "LIMIT_REACHED", meta["reason"])
	assert.Equal(t, "photos", meta["type"])
	assert.Equal(t, "r1", meta["record"])
}

func TestCheck_NonMediaSkipsQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d, err := f.gate.Check(ctx, Request{AccountID: "u1"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	limits, err := f.st.Get(ctx, model.LimitsPath("u1"))
	require.NoError(t, err)
	assert.Nil(t, limits)
}
