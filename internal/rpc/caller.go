package rpc

import (
	"context"
	"fmt"

	"famtool-server/internal/model"
	"famtool-server/internal/store"
)

type callerKey struct{}

// WithCaller attaches the authenticated account id to ctx.
func WithCaller(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, callerKey{}, uid)
}

func CallerFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(callerKey{}).(string)
	return uid, ok && uid != ""
}

// RequireCaller fails with unauthenticated when ctx carries no identity.
func RequireCaller(ctx context.Context) (string, error) {
	uid, ok := CallerFromContext(ctx)
	if !ok {
		return "", Errorf(Unauthenticated, "User must be authenticated.")
	}
	return uid, nil
}

type Admins struct {
	st store.Store
}

func NewAdmins(st store.Store) *Admins {
	return &Admins{st: st}
}

// IsAdmin reports whether admins/{uid} is exactly true.
func (a *Admins) IsAdmin(ctx context.Context, uid string) (bool, error) {
	v, err := a.st.Get(ctx, model.AdminPath(uid))
	if err != nil {
		return false, fmt.Errorf("read admin flag: %w", err)
	}
	flag, ok := v.(bool)
	return ok && flag, nil
}

// Verify returns the caller's uid when it is an admin.
func (a *Admins) Verify(ctx context.Context) (string, error) {
	uid, err := RequireCaller(ctx)
	if err != nil {
		return "", err
	}
	ok, err := a.IsAdmin(ctx, uid)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", Errorf(PermissionDenied, "User must be an admin to perform this action.")
	}
	return uid, nil
}

func (a *Admins) Grant(ctx context.Context, uid string) error {
	return a.st.Set(ctx, model.AdminPath(uid), true)
}

func (a *Admins) Revoke(ctx context.Context, uid string) error {
	return a.st.Delete(ctx, model.AdminPath(uid))
}
