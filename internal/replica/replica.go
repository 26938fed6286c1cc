// Package replica keeps AccountIndex in step with account profiles. The index
// is a read optimization; a failed sync never fails the profile write.
package replica

import (
	"context"
	"fmt"
	"time"

	"famtool-server/internal/model"
	"famtool-server/internal/store"
	"famtool-server/internal/trigger"

	"github.com/rs/zerolog"
)

const (
	ProfilePattern = "account/{uid}/" + model.ProfileKey
	unknown        = "Unknown"
)

type Sync struct {
	st     store.Store
	logger zerolog.Logger
	now    func() time.Time
}

func New(st store.Store, logger zerolog.Logger) *Sync {
	return NewWithNow(st, logger, time.Now)
}

func NewWithNow(st store.Store, logger zerolog.Logger, now func() time.Time) *Sync {
	return &Sync{st: st, logger: logger.With().Str("component", "replica").Logger(), now: now}
}

func (s *Sync) Register(d *trigger.Dispatcher) {
	d.OnWrite("replica-sync", ProfilePattern, s.handle)
}

func (s *Sync) handle(ctx context.Context, ev trigger.Event) error {
	uid := ev.Param("uid")
	if err := s.Apply(ctx, uid, ev.After); err != nil {
		s.logger.Warn().Err(err).Str("uid", uid).Msg("replica sync failed")
	}
	return nil
}

// Project builds the index entry for a profile value.
func Project(uid string, profile any, syncedAt int64) model.IndexEntry {
	m, _ := profile.(map[string]any)
	str := func(key, fallback string) string {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
		return fallback
	}
	return model.IndexEntry{
		ID:          uid,
		Email:       str("email", unknown),
		Name:        str("name", unknown),
		AccountType: model.Plan(str("account_type", string(model.PlanFree))),
		SyncedAt:    syncedAt,
	}
}

// Apply writes the projection of profile, or removes the entry when profile
// is nil.
func (s *Sync) Apply(ctx context.Context, uid string, profile any) error {
	path := model.IndexPath(uid)
	if profile == nil {
		if err := s.st.Delete(ctx, path); err != nil {
			return fmt.Errorf("remove index entry: %w", err)
		}
		return nil
	}
	if err := s.st.Set(ctx, path, Project(uid, profile, s.now().UnixMilli())); err != nil {
		return fmt.Errorf("write index entry: %w", err)
	}
	return nil
}

// ListByPlan returns index entries on the given plan, ordered by uid.
func (s *Sync) ListByPlan(ctx context.Context, plan model.Plan) ([]model.IndexEntry, error) {
	children, err := s.st.Query(ctx, model.AccountIndexRoot, store.Query{OrderByChild: "account_type", EqualTo: string(plan)})
	if err != nil {
		return nil, fmt.Errorf("query index by plan: %w", err)
	}
	out := make([]model.IndexEntry, 0, len(children))
	for _, c := range children {
		var e model.IndexEntry
		if err := store.Decode(c.Value, &e); err != nil {
			continue
		}
		if e.ID == "" {
			e.ID = c.Key
		}
		out = append(out, e)
	}
	return out, nil
}

// Rebuild re-projects every profile and drops index entries whose account is
// gone. It returns the number of entries written.
func (s *Sync) Rebuild(ctx context.Context) (int, error) {
	uids, err := s.st.Keys(ctx, model.AccountRoot)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	live := make(map[string]struct{}, len(uids))
	written := 0
	for _, uid := range uids {
		profile, err := s.st.Get(ctx, model.ProfilePath(uid))
		if err != nil {
			return written, fmt.Errorf("read profile %s: %w", uid, err)
		}
		if profile == nil {
			continue
		}
		live[uid] = struct{}{}
		if err := s.Apply(ctx, uid, profile); err != nil {
			return written, err
		}
		written++
	}

	indexed, err := s.st.Keys(ctx, model.AccountIndexRoot)
	if err != nil {
		return written, fmt.Errorf("list index: %w", err)
	}
	for _, uid := range indexed {
		if _, ok := live[uid]; ok {
			continue
		}
		if err := s.Apply(ctx, uid, nil); err != nil {
			return written, err
		}
	}
	s.logger.Info().Int("entries", written).Msg("index rebuilt")
	return written, nil
}
