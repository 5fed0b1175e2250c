package clierr

import (
	"errors"

	"github.com/habedi/inspecta/auth"
	"github.com/habedi/inspecta/client"
)

// Type categorizes a CLI-facing error for consistent messaging & exit codes.
type Type string

const (
	Validation Type = "validation"
	Session    Type = "session"
	Network    Type = "network"
	Internal   Type = "internal"
)

// Error is a structured user-facing error.
type Error struct {
	Type    Type
	Message string
	Err     error // optional underlying error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// New constructs a new CLI Error.
func New(t Type, msg string, err error) *Error { return &Error{Type: t, Message: msg, Err: err} }

// ExitCode maps the type to the process exit status.
func (e *Error) ExitCode() int {
	switch e.Type {
	case Validation:
		return 2
	case Session:
		return 3
	case Network:
		return 4
	default:
		return 1
	}
}

// Classify wraps err into an *Error of the matching type. An err that already
// is an *Error is returned unchanged.
func Classify(msg string, err error) *Error {
	if err == nil {
		return nil
	}
	var cliErr *Error
	if errors.As(err, &cliErr) {
		return cliErr
	}
	var netErr *client.TransientNetworkError
	switch {
	case errors.Is(err, auth.ErrSessionExpired), errors.Is(err, auth.ErrNoSession):
		return New(Session, msg+": session expired, please log in again", err)
	case errors.As(err, &netErr):
		return New(Network, msg+": backend unreachable", err)
	}
	return New(Internal, msg+": "+err.Error(), err)
}
