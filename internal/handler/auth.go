package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"famtool-server/internal/audit"
	"famtool-server/internal/auth"
	"famtool-server/internal/middleware"
	"famtool-server/internal/model"
	"famtool-server/internal/rpc"
	"famtool-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// PairingHandler lets a device agent holding an ed25519 key attach itself to
// an account and then sign in as that device.
type PairingHandler struct {
	Store              store.Store
	Audit              *audit.Log
	TokenConfig        auth.TokenConfig
	PairRequestLimiter *middleware.RateLimiter
	Logger             zerolog.Logger
	Now                func() time.Time
}

type pairRequestBody struct {
	PublicKey string `json:"publicKey"`
}

type pairApproveBody struct {
	ID        string `json:"id"`
	DeviceKey string `json:"childKey"`
}

type authBody struct {
	PublicKey string `json:"publicKey"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

var (
	errPairingExists  = errors.New("pairing request exists")
	errPairingHandled = rpc.Errorf(rpc.InvalidArgument, "Pairing request was already handled.")
	errPairingMissing = rpc.Errorf(rpc.NotFound, "Pairing request not found.")
)

func (h *PairingHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *PairingHandler) load(ctx context.Context, id string) (model.PairingRequest, bool, error) {
	v, err := h.Store.Get(ctx, model.PairingPath(id))
	if err != nil || v == nil {
		return model.PairingRequest{}, false, err
	}
	var req model.PairingRequest
	if err := store.Decode(v, &req); err != nil {
		return model.PairingRequest{}, false, err
	}
	return req, true, nil
}

// Request opens a pairing request for the posted key, or reports the state of
// the existing one.
func (h *PairingHandler) Request(c *gin.Context) {
	var body pairRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, h.Logger, errBadRequest)
		return
	}
	id, err := auth.KeyID(body.PublicKey)
	if err != nil {
		fail(c, h.Logger, rpc.Errorf(rpc.InvalidArgument, "%s", err.Error()))
		return
	}

	ctx := c.Request.Context()
	existing, ok, err := h.load(ctx, id)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	// Polling should not be rate-limited; only creation is.
	if !ok {
		if h.PairRequestLimiter != nil && !h.PairRequestLimiter.Allow(c.ClientIP()) {
			fail(c, h.Logger, rpc.Errorf(rpc.ResourceExhausted, "Rate limit exceeded"))
			return
		}
		now := h.now().UnixMilli()
		existing = model.PairingRequest{ID: id, PublicKey: body.PublicKey, Status: model.PairingPending, CreatedAt: now, UpdatedAt: now}
		_, err := h.Store.Transaction(ctx, model.PairingPath(id), func(cur any) (any, error) {
			if cur != nil {
				return nil, errPairingExists
			}
			return existing, nil
		})
		if errors.Is(err, errPairingExists) {
			existing, _, err = h.load(ctx, id)
		}
		if err != nil {
			fail(c, h.Logger, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"id": existing.ID, "state": existing.Status})
}

// Approve claims a pending request for the caller's account under a device key.
func (h *PairingHandler) Approve(c *gin.Context) {
	var body pairApproveBody
	if err := c.ShouldBindJSON(&body); err != nil || body.ID == "" {
		fail(c, h.Logger, errBadRequest)
		return
	}
	ctx := c.Request.Context()
	uid, err := rpc.RequireCaller(ctx)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	if !model.ValidDeviceKey(body.DeviceKey) {
		fail(c, h.Logger, rpc.Errorf(rpc.InvalidArgument, "A valid childKey is required."))
		return
	}

	var approved model.PairingRequest
	_, err = h.Store.Transaction(ctx, model.PairingPath(body.ID), func(cur any) (any, error) {
		if cur == nil {
			return nil, errPairingMissing
		}
		if err := store.Decode(cur, &approved); err != nil {
			return nil, err
		}
		if approved.Status != model.PairingPending {
			return nil, errPairingHandled
		}
		approved.Status = model.PairingApproved
		approved.AccountID = uid
		approved.DeviceKey = body.DeviceKey
		approved.UpdatedAt = h.now().UnixMilli()
		return approved, nil
	})
	if err != nil {
		fail(c, h.Logger, err)
		return
	}

	if err := h.Store.Set(ctx, model.AgentKeyPath(uid, body.DeviceKey), approved.PublicKey); err != nil {
		fail(c, h.Logger, err)
		return
	}
	h.Audit.RecordAfter(ctx, audit.DevicePaired, uid, map[string]any{"childKey": body.DeviceKey, "pairingId": body.ID})
	c.JSON(http.StatusOK, rpc.OK("Device paired successfully."))
}

// Auth exchanges a signed challenge for a device token.
func (h *PairingHandler) Auth(c *gin.Context) {
	var body authBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, h.Logger, errBadRequest)
		return
	}

	if err := auth.VerifySignatureDetailed(body.PublicKey, body.Challenge, body.Signature); err != nil {
		fail(c, h.Logger, rpc.Errorf(rpc.Unauthenticated, "%s", err.Error()))
		return
	}
	id, err := auth.KeyID(body.PublicKey)
	if err != nil {
		fail(c, h.Logger, rpc.Errorf(rpc.Unauthenticated, "%s", err.Error()))
		return
	}

	ctx := c.Request.Context()
	req, ok, err := h.load(ctx, id)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	if !ok || req.Status != model.PairingApproved {
		fail(c, h.Logger, rpc.Errorf(rpc.PermissionDenied, "Device is not paired."))
		return
	}
	current, err := h.Store.Get(ctx, model.AgentKeyPath(req.AccountID, req.DeviceKey))
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	if current != body.PublicKey {
		fail(c, h.Logger, rpc.Errorf(rpc.PermissionDenied, "Device is not paired."))
		return
	}

	token, err := auth.CreateDeviceToken(req.AccountID, req.DeviceKey, h.TokenConfig)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "uid": req.AccountID, "childKey": req.DeviceKey})
}
