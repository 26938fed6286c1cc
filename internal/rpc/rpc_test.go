package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"famtool-server/internal/model"
	"famtool-server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		Unauthenticated:   http.StatusUnauthorized,
		PermissionDenied:  http.StatusForbidden,
		ResourceExhausted: http.StatusTooManyRequests,
		InvalidArgument:   http.StatusBadRequest,
		NotFound:          http.StatusNotFound,
		Internal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), code)
	}
}

func TestAsError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Errorf(NotFound, "no %s", "device"))
	assert.Equal(t, &Error{Code: NotFound, Message: "no device"}, AsError(wrapped))

	generic := AsError(errors.New("redis: connection refused"))
	assert.Equal(t, Internal, generic.Code)
	assert.NotContains(t, generic.Message, "redis")
}

func TestAdmins_Verify(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	a := NewAdmins(st)

	_, err := a.Verify(ctx)
	assert.Equal(t, Unauthenticated, AsError(err).Code)

	_, err = a.Verify(WithCaller(ctx, "u1"))
	assert.Equal(t, PermissionDenied, AsError(err).Code)

	// Only a literal true counts.
	require.NoError(t, st.Set(ctx, model.AdminPath("u1"), "true"))
	_, err = a.Verify(WithCaller(ctx, "u1"))
	assert.Equal(t, PermissionDenied, AsError(err).Code)

	require.NoError(t, a.Grant(ctx, "u1"))
	uid, err := a.Verify(WithCaller(ctx, "u1"))
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	require.NoError(t, a.Revoke(ctx, "u1"))
	_, err = a.Verify(WithCaller(ctx, "u1"))
	assert.Equal(t, PermissionDenied, AsError(err).Code)
}
