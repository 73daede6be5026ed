// Package xerror implements the TrakBridge error taxonomy described in the
// specification's error handling design: a closed set of Kinds (not raw
// sentinel values) that every layer of the data plane converts raw failures
// into, so the worker loop, the CoT service and the manager can all branch
// on "what kind of problem is this" without inspecting library-specific
// error types.
//
// The shape follows the teacher's errors package (see
// github.com/nabbar/golib/errors): a numeric code, an optional parent error
// chain, stack-frame capture, and errors.Is/As compatibility. TrakBridge
// replaces the teacher's HTTP-status code table with the Kind table below.
package xerror

import (
	"fmt"
	"runtime"
)

// Kind classifies an Error into one of the taxonomy buckets from spec.md §7.
// Kind values are stable and safe to compare with ==.
type Kind uint8

const (
	// KindUnknown is the zero value; never intentionally produced.
	KindUnknown Kind = iota

	// KindConfiguration: invalid or missing configuration fields. Never retried.
	KindConfiguration

	// KindPluginTransient: upstream timeout, 5xx, network blip. Retried within
	// the iteration per the worker's backoff schedule.
	KindPluginTransient

	// KindPluginAuth: invalid upstream credentials. Trips the worker's
	// circuit breaker.
	KindPluginAuth

	// KindTransportTransient: TAK connection drop or write error. Handled by
	// the Persistent Connection's reconnect loop; frames remain queued.
	KindTransportTransient

	// KindTransportFatal: permanent TLS/auth failure to a TAK server. The
	// connection keeps retrying at the backoff cap; surfaced via health.
	KindTransportFatal

	// KindConcurrency: a database-reported concurrency conflict.
	KindConcurrency

	// KindOverload: queue capacity reached or stale-frame expiry. Never
	// surfaced as a user-visible error, only as a metric.
	KindOverload

	// KindCancelled: the operation observed context cancellation.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPluginTransient:
		return "plugin_transient"
	case KindPluginAuth:
		return "plugin_auth"
	case KindTransportTransient:
		return "transport_transient"
	case KindTransportFatal:
		return "transport_fatal"
	case KindConcurrency:
		return "concurrency"
	case KindOverload:
		return "overload"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retryable reports whether the worker loop should attempt a retry within
// the same iteration for an error of this kind (spec.md §4.7 step 2).
func (k Kind) Retryable() bool {
	return k == KindPluginTransient
}

// Error is the interface every xerror value satisfies. It extends the
// standard error interface with kind inspection and parent chaining,
// mirroring the teacher's liberr.Error contract without its HTTP-era code
// table.
type Error interface {
	error

	// Kind returns the classification of this error.
	Kind() Kind

	// Is reports whether this error or any parent carries the given kind.
	Is(kind Kind) bool

	// Unwrap returns the parent error, or nil if this is a root cause.
	Unwrap() error

	// WithParent attaches a parent cause and returns the receiver for chaining.
	WithParent(parent error) Error

	// Frame returns "file:line" of the call site that created the error.
	Frame() string
}

type xerr struct {
	kind   Kind
	msg    string
	parent error
	file   string
	line   int
}

// New creates an Error of the given kind with a formatted message. The call
// site is captured immediately so later log lines can point back to the
// origin without a full stack walk.
func New(kind Kind, format string, args ...interface{}) Error {
	_, file, line, _ := runtime.Caller(1)
	return &xerr{
		kind: kind,
		msg:  fmt.Sprintf(format, args...),
		file: file,
		line: line,
	}
}

// Wrap converts a plain error into a TrakBridge Error of the given kind,
// preserving it as the parent cause. If err is already an Error of the
// requested kind, it is returned unchanged.
func Wrap(kind Kind, err error) Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(Error); ok && e.Kind() == kind {
		return e
	}
	_, file, line, _ := runtime.Caller(1)
	return &xerr{
		kind:   kind,
		msg:    err.Error(),
		parent: err,
		file:   file,
		line:   line,
	}
}

func (e *xerr) Error() string {
	if e.parent != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.parent.Error())
	}
	return e.msg
}

func (e *xerr) Kind() Kind {
	return e.kind
}

func (e *xerr) Is(kind Kind) bool {
	if e.kind == kind {
		return true
	}
	if p, ok := e.parent.(Error); ok {
		return p.Is(kind)
	}
	return false
}

func (e *xerr) Unwrap() error {
	return e.parent
}

func (e *xerr) WithParent(parent error) Error {
	e.parent = parent
	return e
}

func (e *xerr) Frame() string {
	return fmt.Sprintf("%s:%d", e.file, e.line)
}

// KindOf extracts the Kind of err, returning KindUnknown if err is nil or
// not an xerror.Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if e, ok := err.(Error); ok {
		return e.Kind()
	}
	return KindUnknown
}

// Is reports whether err (or any of its parents) carries the given kind.
// Safe to call with a nil or non-xerror err.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(Error); ok {
		return e.Is(kind)
	}
	return false
}
