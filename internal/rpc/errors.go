// Package rpc carries the error taxonomy, caller identity and admin check
// shared by every callable operation.
package rpc

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	Unauthenticated   Code = "unauthenticated"
	PermissionDenied  Code = "permission-denied"
	ResourceExhausted Code = "resource-exhausted"
	InvalidArgument   Code = "invalid-argument"
	NotFound          Code = "not-found"
	Internal          Code = "internal"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func HTTPStatus(code Code) int {
	switch code {
	case Unauthenticated:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case ResourceExhausted:
		return http.StatusTooManyRequests
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// AsError returns the typed error inside err, or a generic internal error so
// storage details never reach callers.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: Internal, Message: "Internal error."}
}

// Result is the success payload of every operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func OK(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}
