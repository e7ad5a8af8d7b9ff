package core

import (
	"errors"
	"fmt"
)

// Code classifies a Status.
type Code int

const (
	// CodeOK indicates success.
	CodeOK Code = iota
	// CodeCancelled indicates the query was cancelled by the client.
	CodeCancelled
	// CodeError indicates any other failure: placement, dispatch, remote
	// execution, local execution, or finalization.
	CodeError
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeCancelled:
		return "CANCELLED"
	case CodeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Status is the coordinator's notion of query outcome: OK, or the first
// non-OK outcome ever observed. It is immutable once constructed; the
// monotonic "first error wins" behavior lives in the coordinator, not here.
type Status struct {
	Code  Code
	Cause error
}

// OK is the canonical success status.
var OK = Status{Code: CodeOK}

// Cancelled builds a CANCELLED status.
func Cancelled() Status {
	return Status{Code: CodeCancelled, Cause: ErrCancelled}
}

// Errorf builds a CodeError status wrapping a formatted error.
func Errorf(format string, args ...interface{}) Status {
	return Status{Code: CodeError, Cause: fmt.Errorf(format, args...)}
}

// FromError builds a CodeError status wrapping err. Returns OK if err is nil.
func FromError(err error) Status {
	if err == nil {
		return OK
	}
	return Status{Code: CodeError, Cause: err}
}

// IsOK reports whether the status represents success.
func (s Status) IsOK() bool { return s.Code == CodeOK }

// Error implements the error interface so a Status can be returned directly
// from functions with an `error` result type.
func (s Status) Error() string {
	if s.IsOK() {
		return ""
	}
	if s.Cause != nil {
		return s.Cause.Error()
	}
	return s.Code.String()
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (s Status) Unwrap() error { return s.Cause }

var (
	// ErrCancelled is the sentinel cause of a client-initiated cancellation.
	ErrCancelled = errors.New("query cancelled")
	// ErrNoRootOrSink is returned by Exec when a request has neither a root
	// fragment nor a distributed sink (e.g. "SELECT 1" style requests with no
	// remote work at all).
	ErrNoRootOrSink = errors.New("query has no root fragment and no distributed sink")
	// ErrStaleReport is returned by UpdateFragmentExecStatus when the report's
	// instance id names no BackendExecState the coordinator dispatched.
	ErrStaleReport = errors.New("status report for unknown fragment instance")
	// ErrNoHostsAvailable is a placement failure: the scheduler oracle could
	// not produce a host for a required replica set.
	ErrNoHostsAvailable = errors.New("no hosts available for placement")
	// ErrMissingFinalizeParams is returned by Exec when a request sets
	// NeedsFinalization but omits FinalizeParams.
	ErrMissingFinalizeParams = errors.New("needs_finalization set but finalize_params is nil")
)
