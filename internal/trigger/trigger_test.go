package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"famtool-server/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const recordPattern = "account/{uid}/{device}/{category}/data/{record}"

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func newSync(t *testing.T) (*store.Memory, *Dispatcher) {
	t.Helper()
	st := store.NewMemory()
	d := New(st, zerolog.Nop(), Options{})
	return st, d
}

func TestOnCreate_RecordWrite(t *testing.T) {
	ctx := context.Background()
	st, d := newSync(t)
	var rec recorder
	d.OnCreate("records", recordPattern, rec.handle)
	d.Start()

	require.NoError(t, st.Set(ctx, "account/u1/d1/sms/data/r1", map[string]any{"smsBody": "hi"}))

	events := rec.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "account/u1/d1/sms/data/r1", ev.Path)
	assert.Equal(t, Created, ev.Kind)
	assert.Equal(t, "u1", ev.Param("uid"))
	assert.Equal(t, "d1", ev.Param("device"))
	assert.Equal(t, "sms", ev.Param("category"))
	assert.Equal(t, "r1", ev.Param("record"))
	assert.Equal(t, map[string]any{"smsBody": "hi"}, ev.After)
}

func TestOnCreate_AncestorWriteFansOut(t *testing.T) {
	ctx := context.Background()
	st, d := newSync(t)
	var rec recorder
	d.OnCreate("records", recordPattern, rec.handle)
	d.Start()

	require.NoError(t, st.Set(ctx, "account/u1/d1", map[string]any{
		"sms":   map[string]any{"data": map[string]any{"a": map[string]any{"smsBody": "x"}, "b": map[string]any{"smsBody": "y"}}},
		"photo": map[string]any{"data": map[string]any{"c": map[string]any{"url": "z"}}},
	}))

	events := rec.all()
	require.Len(t, events, 3)
	got := map[string]string{}
	for _, ev := range events {
		got[ev.Param("record")] = ev.Param("category")
	}
	assert.Equal(t, map[string]string{"a": "sms", "b": "sms", "c": "photo"}, got)
}

func TestKindsAreFiltered(t *testing.T) {
	ctx := context.Background()
	st, d := newSync(t)
	var created, updated, deleted recorder
	d.OnCreate("c", recordPattern, created.handle)
	d.OnUpdate("u", recordPattern, updated.handle)
	d.OnDelete("d", recordPattern, deleted.handle)
	d.Start()

	path := "account/u1/d1/keylogger/data/r1"
	require.NoError(t, st.Set(ctx, path, map[string]any{"text": "a"}))
	require.NoError(t, st.Set(ctx, path, map[string]any{"text": "a"}))
	require.NoError(t, st.Set(ctx, path+"/text", "b"))
	require.NoError(t, st.Delete(ctx, path))

	assert.Len(t, created.all(), 1)
	assert.Len(t, deleted.all(), 1)
	// The leaf write lands below the record, which only onWrite routes see.
	assert.Len(t, updated.all(), 0)
}

func TestOnWrite_BelowTargetRereads(t *testing.T) {
	ctx := context.Background()
	st, d := newSync(t)
	var rec recorder
	d.OnWrite("profile", "account/{uid}/profile", rec.handle)
	d.Start()

	require.NoError(t, st.Set(ctx, "account/u1/profile", map[string]any{"email": "a@example.com"}))
	require.NoError(t, st.Set(ctx, "account/u1/profile/account_type", "pro"))
	require.NoError(t, st.Delete(ctx, "account/u1"))

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, Created, events[0].Kind)
	assert.Equal(t, Updated, events[1].Kind)
	assert.Equal(t, map[string]any{"email": "a@example.com", "account_type": "pro"}, events[1].After)
	assert.Equal(t, "u1", events[1].Param("uid"))
	assert.Equal(t, Deleted, events[2].Kind)
}

func TestUnrelatedPathsDoNotMatch(t *testing.T) {
	ctx := context.Background()
	st, d := newSync(t)
	var rec recorder
	d.OnWrite("profile", "account/{uid}/profile", rec.handle)
	d.Start()

	require.NoError(t, st.Set(ctx, "account/u1/d1/sms/data/r1", "x"))
	require.NoError(t, st.Set(ctx, "AccountIndex/u1", map[string]any{"id": "u1"}))
	assert.Empty(t, rec.all())
}

func TestHandlerErrorsAndPanicsAreContained(t *testing.T) {
	ctx := context.Background()
	st, d := newSync(t)
	var rec recorder
	d.OnCreate("fails", recordPattern, func(context.Context, Event) error { return errors.New("boom") })
	d.OnCreate("panics", recordPattern, func(context.Context, Event) error { panic("bad") })
	d.OnCreate("works", recordPattern, rec.handle)
	d.Start()

	require.NoError(t, st.Set(ctx, "account/u1/d1/sms/data/r1", "x"))
	assert.Len(t, rec.all(), 1)
}

func TestAsyncDispatch_StopWaits(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	st := store.NewMemory()
	d := New(st, zerolog.Nop(), Options{Async: true})
	var rec recorder
	d.OnCreate("slow", recordPattern, func(ctx context.Context, ev Event) error {
		time.Sleep(10 * time.Millisecond)
		return rec.handle(ctx, ev)
	})
	d.Start()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, st.Set(ctx, "account/u1/d1/sms/data/"+id, "x"))
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(stopCtx))
	assert.Len(t, rec.all(), 3)

	require.NoError(t, st.Set(ctx, "account/u1/d1/sms/data/r4", "x"))
	d.Wait()
	assert.Len(t, rec.all(), 3)
}
