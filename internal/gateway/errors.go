package gateway

import (
	"errors"
	"fmt"

	"github.com/revittco/mcpmux/internal/auth"
	"github.com/revittco/mcpmux/internal/resourceuri"
)

// Kind classifies dispatcher failures.
type Kind string

const (
	KindUnauthorized   Kind = "unauthorized"
	KindForbidden      Kind = "forbidden"
	KindUnknownServer  Kind = "unknown_server"
	KindNotRunning     Kind = "not_running"
	KindInvalidURI     Kind = "invalid_uri"
	KindNotFound       Kind = "not_found"
	KindBackendFailure Kind = "backend_failure"
	KindConnectFailure Kind = "connect_failure"
	KindInvalidParams  Kind = "invalid_params"
	KindInternal       Kind = "internal"
)

// Error is a classified dispatcher error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the Err* values below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthorized   = &Error{Kind: KindUnauthorized}
	ErrForbidden      = &Error{Kind: KindForbidden}
	ErrUnknownServer  = &Error{Kind: KindUnknownServer}
	ErrNotRunning     = &Error{Kind: KindNotRunning}
	ErrInvalidURI     = &Error{Kind: KindInvalidURI}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrBackendFailure = &Error{Kind: KindBackendFailure}
	ErrInvalidParams  = &Error{Kind: KindInvalidParams}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err, or KindInternal when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// classify maps collaborator errors onto gateway kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return &Error{Kind: KindUnauthorized, Err: err}
	case errors.Is(err, auth.ErrForbidden):
		return &Error{Kind: KindForbidden, Err: err}
	case errors.Is(err, auth.ErrUnknownServer):
		return &Error{Kind: KindUnknownServer, Err: err}
	case errors.Is(err, resourceuri.ErrInvalid):
		return &Error{Kind: KindInvalidURI, Err: err}
	default:
		return &Error{Kind: KindInternal, Err: err}
	}
}

// backendFailure carries a backend error through unchanged.
func backendFailure(err error) error {
	return &Error{Kind: KindBackendFailure, Err: err}
}
