// Package command mediates remote commands from admins to devices.
package command

import (
	"context"
	"time"

	"famtool-server/internal/audit"
	"famtool-server/internal/metrics"
	"famtool-server/internal/model"
	"famtool-server/internal/policy"
	"famtool-server/internal/quota"
	"famtool-server/internal/rpc"

	"github.com/rs/zerolog"
)

type Request struct {
	TargetUID   string         `json:"targetUid"`
	DeviceKey   string         `json:"childKey"`
	CommandType string         `json:"commandType"`
	Payload     map[string]any `json:"payload"`
}

type Dispatcher struct {
	admins  *rpc.Admins
	gate    *policy.Gate
	quota   *quota.Manager
	audit   *audit.Log
	history *History
	logger  zerolog.Logger
	now     func() time.Time
}

func NewDispatcher(admins *rpc.Admins, gate *policy.Gate, q *quota.Manager, a *audit.Log, h *History, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		admins:  admins,
		gate:    gate,
		quota:   q,
		audit:   a,
		history: h,
		logger:  logger.With().Str("component", "command").Logger(),
		now:     time.Now,
	}
}

// Send runs, in order: admin check, freeze check, quota check, history
// append, quota increment, audit. A failure before the append leaves no
// record and no increment behind.
func (d *Dispatcher) Send(ctx context.Context, req Request) (rpc.Result, error) {
	caller, err := d.admins.Verify(ctx)
	if err != nil {
		return rpc.Result{}, err
	}

	if req.TargetUID == "" || req.CommandType == "" {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "targetUid and commandType are required.")
	}
	if !model.ValidDeviceKey(req.DeviceKey) {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "A valid childKey is required.")
	}
	media, known := QuotaFor(req.CommandType)
	if !known {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "Unknown command type %q.", req.CommandType)
	}

	decision, err := d.gate.Check(ctx, policy.Request{
		AccountID: req.TargetUID,
		Resource:  media,
		ActorID:   caller,
		Action:    audit.CommandBlocked,
		Metadata:  map[string]any{"commandType": req.CommandType, "childKey": req.DeviceKey},
	})
	if err != nil {
		return rpc.Result{}, err
	}
	if !decision.Allowed {
		switch decision.Reason {
		case policy.Frozen:
			return rpc.Result{}, rpc.Errorf(rpc.PermissionDenied, "Account is currently frozen by Admin.")
		default:
			return rpc.Result{}, rpc.Errorf(rpc.ResourceExhausted,
				"Command Blocked: Target user has exceeded the daily media limit (%d/%d). Increase limit via Admin Controls.",
				decision.State.Count, decision.State.Max)
		}
	}

	details := req.Payload
	if details == nil {
		details = map[string]any{}
	}
	id, err := d.history.Append(ctx, req.TargetUID, req.DeviceKey, model.CommandRecord{
		Type:        req.CommandType,
		CommandType: req.CommandType,
		Status:      model.CommandPending,
		Timestamp:   d.now().UnixMilli(),
		RequestedBy: caller,
		Details:     details,
	})
	if err != nil {
		return rpc.Result{}, err
	}

	if media != "" {
		if _, err := d.quota.Increment(ctx, req.TargetUID, media); err != nil {
			d.logger.Error().Err(err).Str("uid", req.TargetUID).Str("command_id", id).Msg("quota increment failed after command append")
			return rpc.Result{}, err
		}
	}

	d.audit.RecordAfter(ctx, audit.CommandSent, caller, map[string]any{
		"targetUid":   req.TargetUID,
		"commandType": req.CommandType,
		"childKey":    req.DeviceKey,
		"commandId":   id,
	})
	metrics.CommandsSent.WithLabelValues(req.CommandType).Inc()

	d.logger.Info().
		Str("uid", req.TargetUID).
		Str("device", req.DeviceKey).
		Str("command", req.CommandType).
		Str("command_id", id).
		Str("actor", caller).
		Msg("command sent")
	return rpc.OK("Command sent successfully."), nil
}
