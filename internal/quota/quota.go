// Package quota owns the daily per-account media counters.
//
// CheckAndReset and Increment are separate operations: two concurrent callers
// can both pass the check before either increments, so the limit is soft by
// a small margin. Each operation on its own is atomic.
package quota

import (
	"context"
	"fmt"
	"time"

	"famtool-server/internal/model"
	"famtool-server/internal/store"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

var DefaultLimits = map[model.MediaType]int64{
	model.MediaPhotos: 5,
	model.MediaVideos: 4,
	model.MediaAudio:  5,
}

type Options struct {
	Location *time.Location
	Limits   map[model.MediaType]int64
	Now      func() time.Time
	Logger   *zerolog.Logger
}

type Manager struct {
	st     store.Store
	loc    *time.Location
	limits map[model.MediaType]int64
	now    func() time.Time
	logger zerolog.Logger
}

func New(st store.Store, opts Options) *Manager {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limits := make(map[model.MediaType]int64, len(DefaultLimits))
	for mt, n := range DefaultLimits {
		limits[mt] = n
	}
	for mt, n := range opts.Limits {
		limits[mt] = n
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "quota").Logger()
	}
	return &Manager{st: st, loc: opts.Location, limits: limits, now: opts.Now, logger: logger}
}

// Today is the calendar date in the configured zone.
func (m *Manager) Today() string {
	return m.now().In(m.loc).Format(dateLayout)
}

func (m *Manager) DefaultMax(mt model.MediaType) int64 {
	return m.limits[mt]
}

// InitialLimits is the limits subtree written for a new account.
func (m *Manager) InitialLimits() map[model.MediaType]model.QuotaState {
	out := make(map[model.MediaType]model.QuotaState, len(model.MediaTypes))
	for _, mt := range model.MediaTypes {
		out[mt] = model.QuotaState{Count: 0, Max: m.limits[mt]}
	}
	return out
}

func decodeState(v any) (model.QuotaState, error) {
	var s model.QuotaState
	if v == nil {
		return s, nil
	}
	if err := store.Decode(v, &s); err != nil {
		return s, fmt.Errorf("decode quota state: %w", err)
	}
	return s, nil
}

// roll initializes an absent state or rewinds a stale one to today.
func (m *Manager) roll(mt model.MediaType, cur any, today string) (model.QuotaState, bool, error) {
	if cur == nil {
		return model.QuotaState{Count: 0, Date: today, Max: m.limits[mt]}, true, nil
	}
	s, err := decodeState(cur)
	if err != nil {
		return s, false, err
	}
	changed := false
	if raw, ok := cur.(map[string]any); !ok || raw["max"] == nil {
		s.Max = m.limits[mt]
		changed = true
	}
	if s.Date != today {
		s.Count = 0
		s.Date = today
		changed = true
	}
	return s, changed, nil
}

// CheckAndReset reads the counter, initializing or rolling it over first when
// needed, and reports whether another unit may be consumed.
func (m *Manager) CheckAndReset(ctx context.Context, uid string, mt model.MediaType) (bool, model.QuotaState, error) {
	if !mt.Valid() {
		return false, model.QuotaState{}, fmt.Errorf("unknown media type %q", mt)
	}
	path := model.LimitPath(uid, mt)
	today := m.Today()

	cur, err := m.st.Get(ctx, path)
	if err != nil {
		return false, model.QuotaState{}, fmt.Errorf("read quota %s: %w", path, err)
	}
	state, changed, err := m.roll(mt, cur, today)
	if err != nil {
		return false, state, err
	}

	if changed {
		// A concurrent caller may already have rolled it over.
		next, err := m.st.Transaction(ctx, path, func(cur any) (any, error) {
			s, _, err := m.roll(mt, cur, today)
			return s, err
		})
		if err != nil {
			return false, state, fmt.Errorf("reset quota %s: %w", path, err)
		}
		if state, err = decodeState(next); err != nil {
			return false, state, err
		}
		m.logger.Debug().Str("uid", uid).Str("media", string(mt)).Str("date", today).Msg("quota initialized or rolled over")
	}
	return state.Count < state.Max, state, nil
}

// Increment bumps the counter by one inside a store transaction.
func (m *Manager) Increment(ctx context.Context, uid string, mt model.MediaType) (model.QuotaState, error) {
	if !mt.Valid() {
		return model.QuotaState{}, fmt.Errorf("unknown media type %q", mt)
	}
	path := model.LimitPath(uid, mt)
	today := m.Today()
	next, err := m.st.Transaction(ctx, path, func(cur any) (any, error) {
		s, _, err := m.roll(mt, cur, today)
		if err != nil {
			return nil, err
		}
		s.Count++
		return s, nil
	})
	if err != nil {
		return model.QuotaState{}, fmt.Errorf("increment quota %s: %w", path, err)
	}
	return decodeState(next)
}

// ResetAll writes {count: 0, date: today} for every media type of every
// listed account in one multi-path update.
func (m *Manager) ResetAll(ctx context.Context, uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	today := m.Today()
	updates := make(map[string]any, len(uids)*len(model.MediaTypes)*2)
	for _, uid := range uids {
		for _, mt := range model.MediaTypes {
			base := model.LimitPath(uid, mt)
			updates[base+"/count"] = 0
			updates[base+"/date"] = today
		}
	}
	if err := m.st.Update(ctx, updates); err != nil {
		return fmt.Errorf("reset quotas: %w", err)
	}
	return nil
}

// SetMax changes the daily maximum for the given media types.
func (m *Manager) SetMax(ctx context.Context, uid string, limits map[model.MediaType]int64) error {
	updates := make(map[string]any, len(limits))
	for mt, n := range limits {
		if !mt.Valid() {
			return fmt.Errorf("unknown media type %q", mt)
		}
		if n < 0 {
			return fmt.Errorf("limit for %s must not be negative", mt)
		}
		updates[model.LimitPath(uid, mt)+"/max"] = n
	}
	if len(updates) == 0 {
		return nil
	}
	if err := m.st.Update(ctx, updates); err != nil {
		return fmt.Errorf("update limits for %s: %w", uid, err)
	}
	return nil
}
