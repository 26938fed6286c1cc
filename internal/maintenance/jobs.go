// Package maintenance holds the time-triggered jobs: the blanket quota reset,
// the inactive-account sweep and the paid-plan digest.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"famtool-server/internal/audit"
	"famtool-server/internal/config"
	"famtool-server/internal/model"
	"famtool-server/internal/notify"
	"famtool-server/internal/quota"
	"famtool-server/internal/replica"
	"famtool-server/internal/store"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	WarningMessage = "Account Termination Warning: Your account will be deleted in 24 hours due to inactivity. Please log in to confirm your account."
	digestLayout   = "Mon Jan 02 2006"
)

// Eraser hard-deletes an account and its identity.
type Eraser interface {
	Erase(ctx context.Context, uid string) error
}

type Options struct {
	Location            *time.Location
	Now                 func() time.Time
	InactivityThreshold time.Duration
	WarningWindow       time.Duration
	DigestPlans         []model.Plan
	DigestConcurrency   int
}

type Jobs struct {
	st      store.Store
	quota   *quota.Manager
	sink    *notify.Sink
	audit   *audit.Log
	replica *replica.Sync
	eraser  Eraser
	logger  zerolog.Logger
	opts    Options
}

func New(st store.Store, q *quota.Manager, sink *notify.Sink, a *audit.Log, r *replica.Sync, e Eraser, logger zerolog.Logger, opts Options) *Jobs {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InactivityThreshold <= 0 {
		opts.InactivityThreshold = 72 * time.Hour
	}
	if opts.WarningWindow <= 0 {
		opts.WarningWindow = 24 * time.Hour
	}
	if len(opts.DigestPlans) == 0 {
		opts.DigestPlans = []model.Plan{model.PlanPro, model.PlanEnterprise}
	}
	if opts.DigestConcurrency <= 0 {
		opts.DigestConcurrency = 8
	}
	return &Jobs{
		st:      st,
		quota:   q,
		sink:    sink,
		audit:   a,
		replica: r,
		eraser:  e,
		logger:  logger.With().Str("component", "maintenance").Logger(),
		opts:    opts,
	}
}

// ResetQuotas writes a fresh {count, date} for every media type of every
// account, whether or not the lazy rollover would have done it.
func (j *Jobs) ResetQuotas(ctx context.Context) (int, error) {
	uids, err := j.st.Keys(ctx, model.AccountRoot)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	if err := j.quota.ResetAll(ctx, uids); err != nil {
		return 0, err
	}
	j.logger.Info().Int("accounts", len(uids)).Str("date", j.quota.Today()).Msg("quotas reset")
	return len(uids), nil
}

type PurgeReport struct {
	Scanned int
	Warned  int
	Deleted int
	Failed  int
}

type candidate struct {
	CreatedAt    float64 `json:"created_at"`
	LocationInfo any     `json:"location_info"`
	WarningSent  float64 `json:"deletion_warning_sent"`
}

var errAlreadyWarned = errors.New("already warned")

// PurgeInactive warns accounts older than the inactivity threshold that have
// never reported a location or device status, and erases those warned more
// than the warning window ago. The activity criteria are re-evaluated on
// every run, so an account that reports in after its warning is skipped; the
// warning stamp itself is never cleared.
func (j *Jobs) PurgeInactive(ctx context.Context) (PurgeReport, error) {
	var report PurgeReport
	now := j.opts.Now()
	cutoff := now.Add(-j.opts.InactivityThreshold).UnixMilli()

	accounts, err := j.st.Query(ctx, model.AccountRoot, store.Query{
		OrderByChild: model.ProfileKey + "/created_at",
		EndAt:        cutoff,
	})
	if err != nil {
		return report, fmt.Errorf("query aged accounts: %w", err)
	}

	for _, acc := range accounts {
		report.Scanned++
		uid := acc.Key
		m, _ := acc.Value.(map[string]any)
		if m[model.DeviceStatusKey] != nil {
			continue
		}
		var c candidate
		if err := store.Decode(m[model.ProfileKey], &c); err != nil {
			j.logger.Warn().Err(err).Str("uid", uid).Msg("skipping malformed profile")
			report.Failed++
			continue
		}
		if c.LocationInfo != nil {
			continue
		}

		if c.WarningSent == 0 {
			warned, err := j.warn(ctx, uid, now)
			if err != nil {
				j.logger.Error().Err(err).Str("uid", uid).Msg("inactivity warning failed")
				report.Failed++
			} else if warned {
				report.Warned++
			}
			continue
		}

		if now.UnixMilli()-int64(c.WarningSent) <= j.opts.WarningWindow.Milliseconds() {
			continue
		}
		if err := j.eraser.Erase(ctx, uid); err != nil {
			j.logger.Error().Err(err).Str("uid", uid).Msg("ghost delete failed")
			report.Failed++
			continue
		}
		j.audit.RecordAfter(ctx, audit.GhostDelete, model.SystemActor, map[string]any{"uid": uid})
		report.Deleted++
	}

	j.logger.Info().
		Int("scanned", report.Scanned).
		Int("warned", report.Warned).
		Int("deleted", report.Deleted).
		Int("failed", report.Failed).
		Msg("inactive sweep finished")
	return report, nil
}

// warn stamps the warning time only when absent and sends the notification
// only when this call placed the stamp.
func (j *Jobs) warn(ctx context.Context, uid string, now time.Time) (bool, error) {
	_, err := j.st.Transaction(ctx, model.DeletionWarningPath(uid), func(cur any) (any, error) {
		if cur != nil {
			return nil, errAlreadyWarned
		}
		return now.UnixMilli(), nil
	})
	if errors.Is(err, errAlreadyWarned) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	j.sink.TryNotify(ctx, uid, model.NotifyWarning, WarningMessage, nil)
	return true, nil
}

// SendDigests notifies every account on a digest plan. A failure for one
// account is logged and does not stop the others.
func (j *Jobs) SendDigests(ctx context.Context) (int, error) {
	var recipients []model.IndexEntry
	for _, plan := range j.opts.DigestPlans {
		entries, err := j.replica.ListByPlan(ctx, plan)
		if err != nil {
			return 0, err
		}
		recipients = append(recipients, entries...)
	}

	day := j.opts.Now().In(j.opts.Location).Format(digestLayout)
	msg := "Daily Summary Report: Here's your activity summary for " + day

	sent := make([]bool, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.DigestConcurrency)
	for i, r := range recipients {
		i, r := i, r
		g.Go(func() error {
			sent[i] = j.sink.TryNotify(gctx, r.ID, model.NotifyInfo, msg, map[string]any{"date": day, "plan": string(r.AccountType)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, ok := range sent {
		if ok {
			n++
		}
	}
	j.logger.Info().Int("recipients", len(recipients)).Int("sent", n).Msg("digests sent")
	return n, nil
}

// Times are the daily run times of the three jobs.
type Times struct {
	QuotaReset config.Clock
	Purge      config.Clock
	Digest     config.Clock
}

// Daily returns the jobs in the order they run when due at the same minute.
func (j *Jobs) Daily(t Times) []Job {
	return []Job{
		{Name: "quota-reset", At: t.QuotaReset, Run: func(ctx context.Context) error {
			_, err := j.ResetQuotas(ctx)
			return err
		}},
		{Name: "purge", At: t.Purge, Run: func(ctx context.Context) error {
			_, err := j.PurgeInactive(ctx)
			return err
		}},
		{Name: "digest", At: t.Digest, Run: func(ctx context.Context) error {
			_, err := j.SendDigests(ctx)
			return err
		}},
	}
}
