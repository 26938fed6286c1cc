package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"famtool-server/internal/audit"
	"famtool-server/internal/config"
	"famtool-server/internal/model"
	"famtool-server/internal/notify"
	"famtool-server/internal/quota"
	"famtool-server/internal/replica"
	"famtool-server/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type storeEraser struct {
	st     store.Store
	erased []string
}

func (e *storeEraser) Erase(ctx context.Context, uid string) error {
	e.erased = append(e.erased, uid)
	return e.st.Update(ctx, map[string]any{model.AccountPath(uid): nil, model.IndexPath(uid): nil})
}

type fixture struct {
	st     *store.Memory
	jobs   *Jobs
	clock  *clock
	audit  *audit.Log
	quota  *quota.Manager
	eraser *storeEraser
}

var ist = time.FixedZone("IST", 5*3600+1800)

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemory()
	clk := &clock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, ist)}
	log := zerolog.Nop()
	q := quota.New(st, quota.Options{Now: clk.now, Location: ist})
	a := audit.NewWithNow(st, log, clk.now)
	sink := notify.NewWithNow(st, log, clk.now)
	r := replica.NewWithNow(st, log, clk.now)
	e := &storeEraser{st: st}
	jobs := New(st, q, sink, a, r, e, log, Options{Location: ist, Now: clk.now})
	return fixture{st: st, jobs: jobs, clock: clk, audit: a, quota: q, eraser: e}
}

func (f fixture) get(t *testing.T, path string) any {
	t.Helper()
	v, err := f.st.Get(context.Background(), path)
	require.NoError(t, err)
	return v
}

func (f fixture) inbox(t *testing.T, uid string) int {
	t.Helper()
	v := f.get(t, model.NotificationsPath(uid))
	if v == nil {
		return 0
	}
	return len(v.(map[string]any))
}

func (f fixture) account(t *testing.T, uid string, age time.Duration, extra map[string]any) {
	t.Helper()
	profile := map[string]any{"email": uid + "@example.com", "created_at": f.clock.now().Add(-age).UnixMilli()}
	for k, v := range extra {
		profile[k] = v
	}
	require.NoError(t, f.st.Set(context.Background(), model.ProfilePath(uid), profile))
}

func TestResetQuotas(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.st.Set(ctx, model.LimitPath("u1", model.MediaPhotos), map[string]any{"count": 5, "date": "2026-03-09", "max": 9}))
	f.account(t, "u2", time.Hour, nil)

	n, err := f.jobs.ResetQuotas(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var s model.QuotaState
	require.NoError(t, store.Decode(f.get(t, model.LimitPath("u1", model.MediaPhotos)), &s))
	assert.Equal(t, model.QuotaState{Count: 0, Date: "2026-03-10", Max: 9}, s)
	assert.Equal(t, "2026-03-10", f.get(t, model.LimitPath("u2", model.MediaAudio)+"/date"))
}

func TestPurgeInactive_WarnThenDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, "ghost", 4*24*time.Hour, nil)

	report, err := f.jobs.PurgeInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Warned)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 1, f.inbox(t, "ghost"))
	stamp := f.get(t, model.DeletionWarningPath("ghost"))
	require.NotNil(t, stamp)

	// Same day again: no second warning, no deletion.
	f.clock.advance(time.Hour)
	report, err = f.jobs.PurgeInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Warned)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 1, f.inbox(t, "ghost"))
	assert.Equal(t, stamp, f.get(t, model.DeletionWarningPath("ghost")))

	f.clock.advance(24 * time.Hour)
	report, err = f.jobs.PurgeInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, []string{"ghost"}, f.eraser.erased)
	assert.Nil(t, f.get(t, model.AccountPath("ghost")))

	entries, err := f.audit.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(audit.GhostDelete), entries[0].Action)
	assert.Equal(t, model.SystemActor, entries[0].Actor)
	assert.Equal(t, `{"uid":"ghost"}`, entries[0].Metadata)
}

func TestPurgeInactive_Criteria(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, "young", 2*24*time.Hour, nil)
	f.account(t, "located", 5*24*time.Hour, map[string]any{"location_info": map[string]any{"city": "Pune"}})
	f.account(t, "device", 5*24*time.Hour, nil)
	require.NoError(t, f.st.Set(ctx, model.DeviceStatusPath("device"), map[string]any{"battery": 80}))
	require.NoError(t, f.st.Set(ctx, model.DevicePath("nocreated", "d1"), map[string]any{"x": 1}))

	report, err := f.jobs.PurgeInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Warned)
	assert.Equal(t, 0, report.Deleted)
	for _, uid := range []string{"young", "located", "device", "nocreated"} {
		assert.Equal(t, 0, f.inbox(t, uid), uid)
	}
}

func TestPurgeInactive_ActivityAfterWarningRescues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, "u1", 4*24*time.Hour, nil)

	_, err := f.jobs.PurgeInactive(ctx)
	require.NoError(t, err)
	require.NotNil(t, f.get(t, model.DeletionWarningPath("u1")))

	require.NoError(t, f.st.Set(ctx, model.LocationInfoPath("u1"), map[string]any{"city": "Pune"}))
	f.clock.advance(48 * time.Hour)

	report, err := f.jobs.PurgeInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)
	assert.NotNil(t, f.get(t, model.ProfilePath("u1")))
	assert.NotNil(t, f.get(t, model.DeletionWarningPath("u1")))
}

func TestPurgeInactive_EraseFailureContinues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	warned := f.clock.now().Add(-48 * time.Hour).UnixMilli()
	f.account(t, "a", 5*24*time.Hour, map[string]any{"deletion_warning_sent": warned})
	f.account(t, "b", 5*24*time.Hour, map[string]any{"deletion_warning_sent": warned})
	f.jobs.eraser = failingEraser{fail: "a", next: f.eraser}

	report, err := f.jobs.PurgeInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Deleted)
	assert.NotNil(t, f.get(t, model.AccountPath("a")))
	assert.Nil(t, f.get(t, model.AccountPath("b")))
}

type failingEraser struct {
	fail string
	next Eraser
}

func (e failingEraser) Erase(ctx context.Context, uid string) error {
	if uid == e.fail {
		return errors.New("identity backend down")
	}
	return e.next.Erase(ctx, uid)
}

func TestSendDigests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for uid, plan := range map[string]string{"p1": "pro", "p2": "pro", "e1": "enterprise", "f1": "free"} {
		require.NoError(t, f.st.Set(ctx, model.IndexPath(uid), map[string]any{"id": uid, "account_type": plan}))
	}

	n, err := f.jobs.SendDigests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, f.inbox(t, "p1"))
	assert.Equal(t, 1, f.inbox(t, "e1"))
	assert.Equal(t, 0, f.inbox(t, "f1"))

	list, err := notify.New(f.st, zerolog.Nop()).List(ctx, "p2", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.NotifyInfo, list[0].Type)
	assert.Contains(t, list[0].Message, "Tue Mar 10 2026")
}

func TestScheduler_RunDueOncePerDay(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	runs := map[string]int{}
	job := func(name string) Job {
		return Job{Name: name, At: config.MustClock(map[string]string{"reset": "00:00", "digest": "22:00"}[name]), Run: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			runs[name]++
			return nil
		}}
	}
	s := NewScheduler([]Job{job("reset"), job("digest")}, ist, zerolog.Nop())

	day := time.Date(2026, 3, 10, 0, 0, 20, 0, ist)
	assert.Equal(t, []string{"reset"}, s.RunDue(ctx, day))
	assert.Empty(t, s.RunDue(ctx, day.Add(30*time.Second)))
	assert.Empty(t, s.RunDue(ctx, day.Add(21*time.Hour)))
	assert.Equal(t, []string{"digest"}, s.RunDue(ctx, day.Add(22*time.Hour)))
	assert.Equal(t, []string{"reset"}, s.RunDue(ctx, day.Add(24*time.Hour)))

	assert.Equal(t, map[string]int{"reset": 2, "digest": 1}, runs)
}

func TestScheduler_PrimeSkipsPassedJobs(t *testing.T) {
	var ran []string
	s := NewScheduler([]Job{
		{Name: "early", At: config.MustClock("01:00"), Run: func(context.Context) error { ran = append(ran, "early"); return nil }},
		{Name: "late", At: config.MustClock("23:00"), Run: func(context.Context) error { ran = append(ran, "late"); return nil }},
	}, time.UTC, zerolog.Nop())

	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.prime(start)
	s.RunDue(context.Background(), start.Add(time.Minute))
	s.RunDue(context.Background(), start.Add(11*time.Hour))
	assert.Equal(t, []string{"late"}, ran)
}

func TestDailyJobsOrder(t *testing.T) {
	f := newFixture(t)
	jobs := f.jobs.Daily(Times{QuotaReset: config.MustClock("00:00"), Purge: config.MustClock("00:00"), Digest: config.MustClock("22:00")})
	require.Len(t, jobs, 3)
	assert.Equal(t, "quota-reset", jobs[0].Name)
	assert.Equal(t, "purge", jobs[1].Name)
	assert.Equal(t, "digest", jobs[2].Name)
	require.NoError(t, jobs[0].Run(context.Background()))
}
