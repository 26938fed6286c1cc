// Package app builds every service from configuration and registers the
// store triggers that make up the pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"famtool-server/internal/account"
	"famtool-server/internal/audit"
	"famtool-server/internal/classify"
	"famtool-server/internal/command"
	"famtool-server/internal/config"
	"famtool-server/internal/hub"
	"famtool-server/internal/identity"
	"famtool-server/internal/ingest"
	"famtool-server/internal/maintenance"
	"famtool-server/internal/model"
	"famtool-server/internal/notify"
	"famtool-server/internal/policy"
	"famtool-server/internal/quota"
	"famtool-server/internal/replica"
	"famtool-server/internal/rpc"
	"famtool-server/internal/store"
	"famtool-server/internal/trigger"

	"github.com/rs/zerolog"
)

type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Store    store.Store
	Triggers *trigger.Dispatcher

	Admins    *rpc.Admins
	Quota     *quota.Manager
	Audit     *audit.Log
	Notify    *notify.Sink
	Policy    *policy.Gate
	Identity  *identity.Service
	Lifecycle *account.Lifecycle
	Replica   *replica.Sync
	History   *command.History
	Commands  *command.Dispatcher
	Accounts  *account.Service
	Ingest    *ingest.Router
	Jobs      *maintenance.Jobs
	Hub       *hub.Hub
}

// OpenStore returns the backend STORE_DRIVER names.
func OpenStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return store.NewMemoryWithOptions(store.Options{StateFile: cfg.StateFile, Logger: &logger}), nil
	case "redis":
		st, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			Logger:   &logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// New opens the configured store and wires everything on top of it.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, st, logger), nil
}

// NewWithStore wires every service on st. Triggers are registered but not
// started.
func NewWithStore(cfg config.Config, st store.Store, logger zerolog.Logger) *App {
	logger = logger.With().Str("region", cfg.Region).Logger()
	loc := cfg.Location()

	a := &App{Config: cfg, Logger: logger, Store: st}
	a.Triggers = trigger.New(st, logger, trigger.Options{Async: cfg.AsyncTriggers})

	a.Admins = rpc.NewAdmins(st)
	a.Quota = quota.New(st, quota.Options{
		Location: loc,
		Limits: map[model.MediaType]int64{
			model.MediaPhotos: cfg.PhotoLimit,
			model.MediaVideos: cfg.VideoLimit,
			model.MediaAudio:  cfg.AudioLimit,
		},
		Logger: &logger,
	})
	a.Audit = audit.New(st, logger)
	a.Notify = notify.New(st, logger)
	a.Policy = policy.New(st, a.Quota, a.Audit, logger)
	a.Identity = identity.New(st, logger, identity.Options{})
	a.Lifecycle = account.NewLifecycle(st, a.Identity, a.Quota, a.Notify, logger)
	a.Replica = replica.New(st, logger)
	a.History = command.NewHistory(st)
	a.Commands = command.NewDispatcher(a.Admins, a.Policy, a.Quota, a.Audit, a.History, logger)
	a.Accounts = account.NewService(account.Deps{
		Store:     st,
		Admins:    a.Admins,
		Quota:     a.Quota,
		Audit:     a.Audit,
		Notify:    a.Notify,
		History:   a.History,
		Identity:  a.Identity,
		Lifecycle: a.Lifecycle,
		Logger:    logger,
	})
	a.Ingest = ingest.New(st, a.Policy, a.Notify, logger, ingest.Options{Engine: classify.Default()})

	plans := make([]model.Plan, 0, len(cfg.DigestPlans))
	for _, p := range cfg.DigestPlans {
		plans = append(plans, model.Plan(p))
	}
	a.Jobs = maintenance.New(st, a.Quota, a.Notify, a.Audit, a.Replica, a.Lifecycle, logger, maintenance.Options{
		Location:            loc,
		InactivityThreshold: cfg.InactivityThreshold,
		WarningWindow:       cfg.WarningWindow,
		DigestPlans:         plans,
	})
	a.Hub = hub.New(logger)

	a.Ingest.Register(a.Triggers)
	a.Replica.Register(a.Triggers)
	a.Lifecycle.Register(a.Triggers)
	a.Hub.Subscribe(a.Triggers)
	return a
}

// Start begins routing store changes to the triggers.
func (a *App) Start() {
	a.Triggers.Start()
	a.Logger.Info().Bool("async", a.Config.AsyncTriggers).Msg("triggers started")
}

// Scheduler returns the daily job loop in the configured timezone.
func (a *App) Scheduler() *maintenance.Scheduler {
	jobs := a.Jobs.Daily(maintenance.Times{
		QuotaReset: config.MustClock(a.Config.QuotaResetAt),
		Purge:      config.MustClock(a.Config.PurgeAt),
		Digest:     config.MustClock(a.Config.DigestAt),
	})
	return maintenance.NewScheduler(jobs, a.Config.Location(), a.Logger)
}

// Job looks up one daily job by name.
func (a *App) Job(name string) (maintenance.Job, bool) {
	jobs := a.Jobs.Daily(maintenance.Times{})
	jobs = append(jobs, maintenance.Job{Name: "reindex", Run: func(ctx context.Context) error {
		_, err := a.Replica.Rebuild(ctx)
		return err
	}})
	for _, j := range jobs {
		if j.Name == name {
			return j, true
		}
	}
	return maintenance.Job{}, false
}

// Close drains in-flight triggers and closes the store.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	stopErr := a.Triggers.Stop(ctx)
	return errors.Join(stopErr, a.Store.Close())
}
