// Package account owns the account lifecycle (provisioning, erasure) and the
// admin and self-service operations that are not remote commands.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"famtool-server/internal/identity"
	"famtool-server/internal/model"
	"famtool-server/internal/notify"
	"famtool-server/internal/quota"
	"famtool-server/internal/store"
	"famtool-server/internal/trigger"

	"github.com/rs/zerolog"
)

const (
	IdentityPattern = model.AuthUsersRoot + "/{uid}"
	WelcomeMessage  = "Welcome to FamTool! Your account has been created with a Free Plan."
)

// Lifecycle provisions account data when an identity appears and erases it
// when the identity goes away.
type Lifecycle struct {
	st     store.Store
	ids    *identity.Service
	quota  *quota.Manager
	sink   *notify.Sink
	logger zerolog.Logger
	now    func() time.Time
}

func NewLifecycle(st store.Store, ids *identity.Service, q *quota.Manager, sink *notify.Sink, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		st:     st,
		ids:    ids,
		quota:  q,
		sink:   sink,
		logger: logger.With().Str("component", "account").Logger(),
		now:    time.Now,
	}
}

func (l *Lifecycle) Register(d *trigger.Dispatcher) {
	d.OnCreate("signup-provision", IdentityPattern, l.onIdentityCreated)
	d.OnDelete("identity-cleanup", IdentityPattern, l.onIdentityDeleted)
}

func (l *Lifecycle) onIdentityCreated(ctx context.Context, ev trigger.Event) error {
	var ident model.Identity
	if err := store.Decode(ev.After, &ident); err != nil {
		return fmt.Errorf("decode identity: %w", err)
	}
	if ident.UID == "" {
		ident.UID = ev.Param("uid")
	}
	return l.Provision(ctx, ident)
}

func (l *Lifecycle) onIdentityDeleted(ctx context.Context, ev trigger.Event) error {
	return l.st.Update(ctx, dataPaths(ev.Param("uid")))
}

// Provision writes the initial profile with default limits and sends the
// welcome notification.
func (l *Lifecycle) Provision(ctx context.Context, ident model.Identity) error {
	profile := model.Profile{
		Email:       ident.Email,
		Name:        ident.DisplayName,
		AccountType: model.PlanFree,
		CreatedAt:   l.now().UnixMilli(),
		Status:      "active",
		Limits:      l.quota.InitialLimits(),
		Security:    model.Security{Warnings: 0, IsFrozen: false},
	}
	if err := l.st.Set(ctx, model.ProfilePath(ident.UID), profile); err != nil {
		return fmt.Errorf("provision profile for %s: %w", ident.UID, err)
	}
	l.sink.TryNotify(ctx, ident.UID, model.NotifyInfo, WelcomeMessage, nil)
	l.logger.Info().Str("uid", ident.UID).Msg("account provisioned")
	return nil
}

// dataPaths are every subtree holding data about uid outside the identity.
func dataPaths(uid string) map[string]any {
	return map[string]any{
		model.AccountPath(uid):           nil,
		model.IndexPath(uid):             nil,
		model.VaultAccountPath(uid):      nil,
		store.Join(model.ChatsRoot, uid): nil,
	}
}

// Erase hard-deletes the identity and all data of uid in one multi-path
// update. A missing identity is not an error.
func (l *Lifecycle) Erase(ctx context.Context, uid string) error {
	updates := dataPaths(uid)
	updates[model.AuthUserPath(uid)] = nil
	ident, err := l.ids.Get(ctx, uid)
	switch {
	case err == nil:
		for p, v := range identity.DeletionPaths(ident) {
			updates[p] = v
		}
	case !errors.Is(err, identity.ErrNotFound):
		return err
	}
	if err := l.st.Update(ctx, updates); err != nil {
		return fmt.Errorf("erase account %s: %w", uid, err)
	}
	l.logger.Info().Str("uid", uid).Msg("account erased")
	return nil
}
