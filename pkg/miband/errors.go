package miband

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/bandctl/internal/device"
)

// Kind classifies session errors.
type Kind string

const (
	KindDisconnected     Kind = "disconnected"
	KindAuthentication   Kind = "authentication"
	KindFreezed          Kind = "freezed"
	KindNotAuthenticated Kind = "not_authenticated"
	KindInvalidArgument  Kind = "invalid_argument"
	KindTimeout          Kind = "timeout"
	KindMalformedPayload Kind = "malformed_payload"
	KindNoReading        Kind = "no_reading"
	KindSuperseded       Kind = "superseded"
)

// Error is the error type returned by Session operations.
// errors.Is matches on Kind only, so callers compare against the sentinels below.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 4)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	parts = append(parts, string(e.Kind))
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors, one per Kind.
var (
	ErrDisconnected     = &Error{Kind: KindDisconnected}
	ErrAuthentication   = &Error{Kind: KindAuthentication}
	ErrFreezed          = &Error{Kind: KindFreezed}
	ErrNotAuthenticated = &Error{Kind: KindNotAuthenticated}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrMalformedPayload = &Error{Kind: KindMalformedPayload}
	ErrNoReading        = &Error{Kind: KindNoReading}
	ErrSuperseded       = &Error{Kind: KindSuperseded}
)

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func invalidArgument(op, format string, args ...any) *Error {
	return newError(KindInvalidArgument, op, fmt.Sprintf(format, args...), nil)
}

// transportError maps a transport failure onto the session taxonomy.
// A missing characteristic is passed through wrapped, since it is neither a
// link failure nor retryable.
func transportError(op string, err error) error {
	if err == nil {
		return nil
	}

	var serr *Error
	if errors.As(err, &serr) {
		return err
	}

	var nf *device.NotFoundError
	switch {
	case errors.As(err, &nf):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, device.ErrTimeout):
		return newError(KindTimeout, op, "", err)
	default:
		return newError(KindDisconnected, op, "", err)
	}
}

// KindOf returns the Kind of err, or "" when err is not a session error.
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return ""
}
