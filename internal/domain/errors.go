package domain

import (
	"errors"
	"fmt"
)

var (
	// Ledger errors
	ErrConflict = errors.New("import id already exists remotely")

	// Authentication errors
	ErrNoActiveSession         = errors.New("no active session")
	ErrSessionExpired          = errors.New("pending session expired")
	ErrInvalidTransition       = errors.New("invalid session state transition")
	ErrChallengeAnswerRequired = errors.New("challenge requires a code")
	ErrUnexpectedResponse      = errors.New("unexpected response")

	// Source errors
	ErrAccountNotFound = errors.New("bank account not found")
)

// ParseError reports a single malformed source record.
type ParseError struct {
	Source string
	Line   int
	Field  string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s record %d: invalid %s %q: %v", e.Source, e.Line, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("%s record: invalid %s %q: %v", e.Source, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// AuthStateError reports an authentication flow failure. State is the state the
// machine was in when the failure happened.
type AuthStateError struct {
	State SessionState
	Op    string
	Err   error
}

func (e *AuthStateError) Error() string {
	return fmt.Sprintf("auth %s in state %s: %v", e.Op, e.State, e.Err)
}

func (e *AuthStateError) Unwrap() error { return e.Err }

// RemoteErrorKind classifies remote failures.
type RemoteErrorKind string

const (
	RemoteUnauthorized RemoteErrorKind = "unauthorized"
	RemoteRateLimited  RemoteErrorKind = "rate_limited"
	RemoteServer       RemoteErrorKind = "server"
	RemoteClient       RemoteErrorKind = "client"
	RemoteNetwork      RemoteErrorKind = "network"
)

// RemoteError is a transient or remote-side failure of an outbound call.
type RemoteError struct {
	Op         string
	Kind       RemoteErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Retryable reports whether repeating an idempotent call may succeed.
func (e *RemoteError) Retryable() bool {
	switch e.Kind {
	case RemoteNetwork, RemoteServer, RemoteRateLimited:
		return true
	default:
		return false
	}
}

// RemoteErrorKindFromStatus maps an HTTP status code to a RemoteErrorKind.
func RemoteErrorKindFromStatus(status int) RemoteErrorKind {
	switch {
	case status == 401 || status == 403:
		return RemoteUnauthorized
	case status == 429:
		return RemoteRateLimited
	case status >= 500:
		return RemoteServer
	default:
		return RemoteClient
	}
}

// ConfigError reports missing or invalid configuration.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config: %s is required", e.Key)
	}
	return fmt.Sprintf("config: %s %s", e.Key, e.Reason)
}

// IsParseError reports whether err is a per-record parse failure.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
