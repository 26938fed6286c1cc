package maintenance

import (
	"context"
	"sync"
	"time"

	"famtool-server/internal/config"
	"famtool-server/internal/metrics"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// Job is one daily task run at a wall-clock time.
type Job struct {
	Name string
	At   config.Clock
	Run  func(ctx context.Context) error
}

// Scheduler runs each job at most once per local calendar day, on the first
// tick at or after its time.
type Scheduler struct {
	jobs   []Job
	loc    *time.Location
	now    func() time.Time
	tick   time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	lastRun map[string]string
}

func NewScheduler(jobs []Job, loc *time.Location, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		jobs:    jobs,
		loc:     loc,
		now:     time.Now,
		tick:    30 * time.Second,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		lastRun: make(map[string]string),
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	// Jobs whose time already passed today wait for tomorrow.
	s.prime(s.now())

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunDue(ctx, s.now())
		}
	}
}

func (s *Scheduler) prime(now time.Time) {
	local := now.In(s.loc)
	today := local.Format(dateLayout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if minuteOfDay(local) > j.At.Hour*60+j.At.Minute {
			s.lastRun[j.Name] = today
		}
	}
}

func minuteOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }

// RunDue runs, in order, every job that is due at now and has not run today.
// It returns the names of the jobs it ran.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) []string {
	local := now.In(s.loc)
	today := local.Format(dateLayout)

	var ran []string
	for _, j := range s.jobs {
		if minuteOfDay(local) < j.At.Hour*60+j.At.Minute {
			continue
		}
		s.mu.Lock()
		done := s.lastRun[j.Name] == today
		if !done {
			s.lastRun[j.Name] = today
		}
		s.mu.Unlock()
		if done {
			continue
		}

		s.RunJob(ctx, j)
		ran = append(ran, j.Name)
	}
	return ran
}

// RunJob runs j once, recording its outcome.
func (s *Scheduler) RunJob(ctx context.Context, j Job) error {
	start := time.Now()
	err := j.Run(ctx)
	metrics.MaintenanceRuns.WithLabelValues(j.Name, metrics.Outcome(err)).Inc()
	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Error().Err(err)
	}
	ev.Str("job", j.Name).Dur("took", time.Since(start)).Msg("maintenance job finished")
	return err
}
