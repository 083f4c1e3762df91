// Package apperr carries a machine-readable error kind alongside the usual
// Go error, so HTTP handlers and JSON-RPC responses can report a stable
// `kind` string without re-deriving it from error text.
package apperr

import "errors"

// Kind is a stable identifier for a class of failure (see spec §7).
type Kind string

const (
	KindSessionNotFound  Kind = "session_not_found"
	KindAuthFailed       Kind = "auth_failed"
	KindHostUnreachable  Kind = "host_unreachable"
	KindTransportFailed  Kind = "transport_failed"
	KindConnectTimeout   Kind = "connect_timeout"
	KindAlreadyConnected Kind = "already_connected"
	KindClosed           Kind = "closed"
	KindApprovalRejected Kind = "rejected"
	KindApprovalTimeout  Kind = "approval_timeout"
	KindUnknownApproval  Kind = "unknown_approval_id"
	KindApprovalDecided  Kind = "already_decided"
	KindInvalidArgument  Kind = "invalid_argument"
	KindInternal         Kind = "internal"
)

// Error wraps an underlying error with a Kind for boundary reporting.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind. If err is nil, Error() falls back to the kind string.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an *Error.
// Falls back to KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
