// Package errs defines the error taxonomy shared by the wire client and
// the sync engine, so callers can map failures to retry/abort decisions
// without string matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and reporting decisions.
type Kind int

const (
	// Network is a transport-level failure (dial, timeout). Retryable.
	Network Kind = iota + 1
	// Auth is a 401/403 rejection. Fatal until credentials change.
	Auth
	// NotFound is a 404 on an expected resource.
	NotFound
	// Server is a 5xx response. Retryable.
	Server
	// Parse is a malformed server response or calendar object.
	Parse
	// Conflict is a per-event state requiring user input, not a failure.
	Conflict
	// PreconditionFailed is an etag or sync-token mismatch (412).
	PreconditionFailed
	// Discovery is a failed or ambiguous server discovery.
	Discovery
	// Invalid is a non-retryable local validation problem.
	Invalid
)

func (k Kind) String() string {
	switch k {
	case Network:
		return "network"
	case Auth:
		return "auth"
	case NotFound:
		return "not_found"
	case Server:
		return "server"
	case Parse:
		return "parse"
	case Conflict:
		return "conflict"
	case PreconditionFailed:
		return "precondition_failed"
	case Discovery:
		return "discovery"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error carries a kind, the failed operation, and optionally the HTTP
// status that produced it.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		s += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with a message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an Error around an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus maps an unexpected HTTP status to an Error.
func FromStatus(op string, status int) *Error {
	var kind Kind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = Auth
	case status == http.StatusNotFound:
		kind = NotFound
	case status == http.StatusPreconditionFailed:
		kind = PreconditionFailed
	case status >= 500:
		kind = Server
	default:
		kind = Invalid
	}
	return &Error{Kind: kind, Op: op, Status: status}
}

// KindOf returns the Kind of err, or 0 if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StatusOf returns the HTTP status of err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the external scheduler should retry the
// operation on its next interval.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Network, Server:
		return true
	default:
		return false
	}
}
