package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"

	"famtool-server/internal/account"
	"famtool-server/internal/command"
	"famtool-server/internal/model"
	"famtool-server/internal/rpc"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type rpcFunc func(ctx context.Context, body json.RawMessage) (any, error)

// RPCHandler serves every callable operation at POST /v1/rpc/:name.
type RPCHandler struct {
	logger zerolog.Logger
	table  map[string]rpcFunc
}

func NewRPCHandler(commands *command.Dispatcher, accounts *account.Service, logger zerolog.Logger) *RPCHandler {
	return &RPCHandler{
		logger: logger.With().Str("component", "rpc").Logger(),
		table:  routes(commands, accounts),
	}
}

type targetBody struct {
	TargetUID string `json:"targetUid"`
	ParentUID string `json:"parentUid"`
	DeviceKey string `json:"childKey"`
	NewPlan   string `json:"newPlan"`
	IsFrozen  *bool  `json:"isFrozen"`
	Limit     int    `json:"limit"`
	ID        string `json:"id"`
}

func decode[T any](body json.RawMessage) (T, error) {
	var v T
	if len(body) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, errBadRequest
	}
	return v, nil
}

func routes(commands *command.Dispatcher, a *account.Service) map[string]rpcFunc {
	withTarget := func(fn func(ctx context.Context, b targetBody) (any, error)) rpcFunc {
		return func(ctx context.Context, body json.RawMessage) (any, error) {
			b, err := decode[targetBody](body)
			if err != nil {
				return nil, err
			}
			return fn(ctx, b)
		}
	}

	return map[string]rpcFunc{
		"sendRemoteCommand": func(ctx context.Context, body json.RawMessage) (any, error) {
			req, err := decode[command.Request](body)
			if err != nil {
				return nil, err
			}
			return commands.Send(ctx, req)
		},
		"updateUserLimits": func(ctx context.Context, body json.RawMessage) (any, error) {
			req, err := decode[account.LimitsRequest](body)
			if err != nil {
				return nil, err
			}
			return a.UpdateUserLimits(ctx, req)
		},
		"updateUserLocation": func(ctx context.Context, body json.RawMessage) (any, error) {
			req, err := decode[account.LocationRequest](body)
			if err != nil {
				return nil, err
			}
			return a.UpdateUserLocation(ctx, req)
		},
		"manualGhostDelete": withTarget(func(ctx context.Context, b targetBody) (any, error) {
			return a.ManualGhostDelete(ctx, b.TargetUID)
		}),
		"changeUserPlan": withTarget(func(ctx context.Context, b targetBody) (any, error) {
			return a.ChangeUserPlan(ctx, b.TargetUID, model.Plan(b.NewPlan))
		}),
		"clearUserChat": withTarget(func(ctx context.Context, b targetBody) (any, error) {
			return a.ClearUserChat(ctx, b.TargetUID, b.DeviceKey)
		}),
		"deleteChildDevice": withTarget(func(ctx context.Context, b targetBody) (any, error) {
			return a.DeleteChildDevice(ctx, b.ParentUID, b.DeviceKey)
		}),
		"freezeUserAccount": withTarget(func(ctx context.Context, b targetBody) (any, error) {
			return a.FreezeUserAccount(ctx, b.TargetUID, b.IsFrozen)
		}),
		"deleteMyAccount": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return a.DeleteMyAccount(ctx)
		},
		"listAuditLogs": withTarget(func(ctx context.Context, b targetBody) (any, error) {
			return a.ListAuditLogs(ctx, b.Limit)
		}),
		"getCommandHistory": withTarget(func(ctx context.Context, b targetBody) (any, error) {
			return a.GetCommandHistory(ctx, b.TargetUID, b.DeviceKey, b.Limit)
		}),
		"listNotifications": withTarget(func(ctx context.Context, b targetBody) (any, error) {
			return a.ListNotifications(ctx, b.Limit)
		}),
		"markNotificationRead": withTarget(func(ctx context.Context, b targetBody) (any, error) {
			return a.MarkNotificationRead(ctx, b.ID)
		}),
	}
}

// Names lists the callable operations.
func (h *RPCHandler) Names() []string {
	names := make([]string, 0, len(h.table))
	for name := range h.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *RPCHandler) Call(c *gin.Context) {
	fn, ok := h.table[c.Param("name")]
	if !ok {
		fail(c, h.logger, rpc.Errorf(rpc.NotFound, "Unknown function %s.", c.Param("name")))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		fail(c, h.logger, errBadRequest)
		return
	}

	// Accept both a bare object and the {"data": {...}} envelope callable
	// clients send.
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if len(body) > 0 && json.Unmarshal(body, &envelope) == nil && len(envelope.Data) > 0 {
		body = envelope.Data
	}

	out, err := fn(c.Request.Context(), body)
	if err != nil {
		var e *rpc.Error
		if errors.As(err, &e) && e.Code != rpc.Internal {
			h.logger.Debug().Str("fn", c.Param("name")).Str("code", string(e.Code)).Msg("rpc rejected")
		}
		fail(c, h.logger, err)
		return
	}
	succeed(c, out)
}
