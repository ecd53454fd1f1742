// Package errs defines the observable error kinds the core raises, per the
// error handling design in the specification: IllegalArgument, IllegalState,
// Timeout, RedisServerError, KeyNotFound, UnexpectedError,
// DistributedLockError and the SlowExecution observation.
package errs

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// IllegalArgument signals a violated precondition at the API boundary
// (null/empty key, negative expiry, etc.). Never retried.
type IllegalArgument struct {
	Method string
	Reason string
}

func (e *IllegalArgument) Error() string {
	return fmt.Sprintf("redis: illegal argument in %s: %s", e.Method, e.Reason)
}

// NewIllegalArgument builds an IllegalArgument error.
func NewIllegalArgument(method, reason string) error {
	return &IllegalArgument{Method: method, Reason: reason}
}

// IllegalState signals a channel, router, or writer queue that is closed.
// Never retried.
type IllegalState struct {
	Reason string
}

func (e *IllegalState) Error() string { return "redis: illegal state: " + e.Reason }

// NewIllegalState builds an IllegalState error.
func NewIllegalState(reason string) error { return &IllegalState{Reason: reason} }

// Timeout signals a response not received within the caller's deadline.
// Not retried by the library; the caller decides.
type Timeout struct {
	Method string
}

func (e *Timeout) Error() string { return fmt.Sprintf("redis: timeout executing %s", e.Method) }

// NewTimeout builds a Timeout error.
func NewTimeout(method string) error { return &Timeout{Method: method} }

// ServerError wraps a RESP Error frame verbatim, including MOVED/ASK
// redirection text.
type ServerError struct {
	Text string
}

func (e *ServerError) Error() string { return fmt.Sprintf("redis: server error %q", e.Text) }

// NewServerError builds a ServerError from the raw error-frame text.
func NewServerError(text string) error { return &ServerError{Text: text} }

// Prefix returns the first whitespace-delimited word of the server error,
// e.g. "MOVED" or "ASK" or "ERR".
func (e *ServerError) Prefix() string {
	t := strings.TrimSpace(e.Text)
	if i := strings.IndexByte(t, ' '); i >= 0 {
		return t[:i]
	}
	return t
}

// KeyNotFound signals semantic absence on a read. Observable through the
// return value (nil) as well as this error for counting purposes.
type KeyNotFound struct {
	Key string
}

func (e *KeyNotFound) Error() string { return fmt.Sprintf("redis: key not found: %s", e.Key) }

// NewKeyNotFound builds a KeyNotFound error.
func NewKeyNotFound(key string) error { return &KeyNotFound{Key: key} }

// UnexpectedError wraps any other failure with a stack-carrying cause.
func UnexpectedError(cause error) error {
	return errors.Wrap(cause, "redis: unexpected error")
}

// DistributedLockError aggregates one error per failed Redlock server.
type DistributedLockError struct {
	Cause *multierror.Error
}

// NewDistributedLockError aggregates per-server causes into one error.
func NewDistributedLockError(causes ...error) error {
	me := &multierror.Error{}
	for _, c := range causes {
		if c != nil {
			me = multierror.Append(me, c)
		}
	}
	if me.Len() == 0 {
		return nil
	}
	return &DistributedLockError{Cause: me}
}

func (e *DistributedLockError) Error() string {
	return "redis: distributed lock error: " + e.Cause.Error()
}

// Unwrap exposes the aggregated per-server causes to errors.Is/As.
func (e *DistributedLockError) Unwrap() error { return e.Cause }

// SlowExecution is not an exception: it is raised by the command execution
// wrapper as an observation when elapsed time exceeds the slow threshold.
type SlowExecution struct {
	Method  string
	Elapsed string
}

func (e *SlowExecution) Error() string {
	return fmt.Sprintf("redis: slow execution of %s (%s)", e.Method, e.Elapsed)
}

// NewSlowExecution builds a SlowExecution observation.
func NewSlowExecution(method, elapsed string) error {
	return &SlowExecution{Method: method, Elapsed: elapsed}
}

// IsMoved reports whether err is a ServerError carrying a MOVED redirect,
// returning the target slot and host when so.
func IsMoved(err error) (slot int, host string, ok bool) {
	return parseRedirect(err, "MOVED")
}

// IsAsk reports whether err is a ServerError carrying an ASK redirect.
func IsAsk(err error) (slot int, host string, ok bool) {
	return parseRedirect(err, "ASK")
}

func parseRedirect(err error, kind string) (int, string, bool) {
	se, isServerErr := err.(*ServerError)
	if !isServerErr {
		return 0, "", false
	}
	text := strings.TrimSpace(se.Text)
	fields := strings.Fields(text)
	if len(fields) != 3 || fields[0] != kind {
		return 0, "", false
	}
	var slot int
	if _, err := fmt.Sscanf(fields[1], "%d", &slot); err != nil {
		return 0, "", false
	}
	return slot, fields[2], true
}
