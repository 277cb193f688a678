package remote

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned when an operation needs an active session and there is none.
var ErrNoSession = errors.New("no active session")

// AuthenticationError represents a rejected login, a lost session or an attempt to open
// a second session while one is already active.
type AuthenticationError struct {
	Operation string // The operation that required authentication
	Reason    string // Human-readable explanation
	Err       error  // Underlying error, if any
}

func (e *AuthenticationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authentication failed during %s: %s", e.Operation, e.Reason)
	}

	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// CatalogError represents a link that could not be resolved into a file listing:
// invalid, expired or unreachable links and malformed listings.
type CatalogError struct {
	Link   string
	Reason string
	Err    error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog error for '%s': %s", e.Link, e.Reason)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// FailureKind classifies why a transfer attempt failed.
type FailureKind string

const (
	KindNone          FailureKind = ""
	KindTimeout       FailureKind = "timeout"
	KindStall         FailureKind = "stall"
	KindTransport     FailureKind = "transport"
	KindQuotaExceeded FailureKind = "quota_exceeded"
	KindSizeMismatch  FailureKind = "size_mismatch"
	KindSessionLost   FailureKind = "session_lost"
	KindUnauthorized  FailureKind = "unauthorized"
	KindFilesystem    FailureKind = "filesystem"
	KindCanceled      FailureKind = "canceled"
)

// Fatal reports whether a failure of this kind must abort the whole run.
func (k FailureKind) Fatal() bool {
	switch k {
	case KindSessionLost, KindUnauthorized, KindFilesystem:
		return true
	default:
		return false
	}
}

// Retryable reports whether another attempt from the same network identity may succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindTimeout, KindStall, KindTransport, KindSizeMismatch:
		return true
	default:
		return false
	}
}

// TransferError represents a failed transfer attempt of one file or segment.
type TransferError struct {
	Path string
	Kind FailureKind
	Err  error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer of %s failed (%s): %v", e.Path, e.Kind, e.Err)
	}

	return fmt.Sprintf("transfer of %s failed (%s)", e.Path, e.Kind)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain, KindTransport when unknown.
func KindOf(err error) FailureKind {
	if err == nil {
		return KindNone
	}

	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}

	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return KindUnauthorized
	}

	return KindTransport
}
