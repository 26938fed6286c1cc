// Package policy decides whether a gated operation on an account may run.
// The check always completes, including any quota rollover, before the
// caller performs the gated write.
package policy

import (
	"context"
	"fmt"

	"famtool-server/internal/audit"
	"famtool-server/internal/metrics"
	"famtool-server/internal/model"
	"famtool-server/internal/quota"
	"famtool-server/internal/store"

	"github.com/rs/zerolog"
)

type Reason string

const (
	Frozen       Reason = "FROZEN"
	LimitReached Reason = "LIMIT_REACHED"
)

type Request struct {
	AccountID string
	// Resource is the quota-tracked media type, empty for operations
	// without a limit.
	Resource model.MediaType
	ActorID  string
	// Action is the audit action recorded on denial.
	Action   audit.Action
	Metadata map[string]any
}

type Decision struct {
	Allowed bool
	Reason  Reason
	State   model.QuotaState
}

type Gate struct {
	st     store.Store
	quota  *quota.Manager
	audit  *audit.Log
	logger zerolog.Logger
}

func New(st store.Store, q *quota.Manager, a *audit.Log, logger zerolog.Logger) *Gate {
	return &Gate{st: st, quota: q, audit: a, logger: logger.With().Str("component", "policy").Logger()}
}

func (g *Gate) IsFrozen(ctx context.Context, uid string) (bool, error) {
	v, err := g.st.Get(ctx, model.FrozenPath(uid))
	if err != nil {
		return false, fmt.Errorf("read freeze flag: %w", err)
	}
	frozen, _ := v.(bool)
	return frozen, nil
}

// Check runs the freeze check, then the quota check for media resources.
// Every denial is audited before Check returns.
func (g *Gate) Check(ctx context.Context, req Request) (Decision, error) {
	if req.Action == "" {
		req.Action = audit.CommandBlocked
	}

	frozen, err := g.IsFrozen(ctx, req.AccountID)
	if err != nil {
		return Decision{}, err
	}
	if frozen {
		return g.deny(ctx, req, Decision{Reason: Frozen}, nil)
	}

	if req.Resource == "" {
		return Decision{Allowed: true}, nil
	}

	ok, state, err := g.quota.CheckAndReset(ctx, req.AccountID, req.Resource)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return g.deny(ctx, req, Decision{Reason: LimitReached, State: state}, map[string]any{"type": string(req.Resource)})
	}
	return Decision{Allowed: true, State: state}, nil
}

func (g *Gate) deny(ctx context.Context, req Request, d Decision, extra map[string]any) (Decision, error) {
	metrics.PolicyDenials.WithLabelValues(string(d.Reason)).Inc()

	meta := map[string]any{"targetUid": req.AccountID, "reason": string(d.Reason)}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	for k, v := range extra {
		meta[k] = v
	}

	g.logger.Info().
		Str("uid", req.AccountID).
		Str("actor", req.ActorID).
		Str("reason", string(d.Reason)).
		Str("action", string(req.Action)).
		Msg("operation denied")

	if _, err := g.audit.Record(ctx, req.Action, req.ActorID, meta); err != nil {
		return d, fmt.Errorf("audit denial: %w", err)
	}
	return d, nil
}
