package auth

import (
	"errors"
	"fmt"
)

// ErrSessionExpired matches every SessionExpiredError via errors.Is.
var ErrSessionExpired = errors.New("session expired")

// ErrNoSession is returned by Initialize when there is no usable stored session.
var ErrNoSession = errors.New("no active session")

// Reason tells why a session was torn down.
type Reason string

const (
	ReasonRetriesExhausted    Reason = "retries_exhausted"
	ReasonNoRefreshToken      Reason = "no_refresh_token"
	ReasonRefreshRejected     Reason = "refresh_rejected"
	ReasonRefreshUnauthorized Reason = "refresh_unauthorized"
	// ReasonSessionEnded is a refresh that completed after logout or after
	// another client tore the session down.
	ReasonSessionEnded Reason = "session_ended"
)

// SessionExpiredError is fatal for the current session. By the time a caller
// sees it the token store has already been purged and the user must log in
// again.
type SessionExpiredError struct {
	Client string // API client that gave up, empty when raised by the coordinator
	Reason Reason
	Err    error
}

func (e *SessionExpiredError) Error() string {
	msg := "session expired: " + string(e.Reason)
	if e.Client != "" {
		msg = fmt.Sprintf("session expired on %s client: %s", e.Client, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionExpiredError) Unwrap() error { return e.Err }

func (e *SessionExpiredError) Is(target error) bool { return target == ErrSessionExpired }
