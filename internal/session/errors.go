package session

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind string

const (
	ErrorStart      ErrorKind = "start"
	ErrorTimeout    ErrorKind = "timeout"
	ErrorExited     ErrorKind = "exited"
	ErrorNotRunning ErrorKind = "not_running"
	ErrorIO         ErrorKind = "io"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrTimeout    = &Error{Kind: ErrorTimeout}
	ErrExited     = &Error{Kind: ErrorExited}
	ErrNotRunning = &Error{Kind: ErrorNotRunning}
)

type Error struct {
	Kind ErrorKind
	// Op is the session operation that failed (expect, send, exit, ...).
	Op         string
	Pattern    string
	Timeout    time.Duration
	Underlying error
}

func (e *Error) Error() string {
	if e == nil {
		return "session error"
	}
	var msg string
	switch e.Kind {
	case ErrorTimeout:
		if e.Pattern != "" {
			msg = fmt.Sprintf("pattern %q not found within %s", e.Pattern, e.Timeout)
		} else {
			msg = fmt.Sprintf("timed out after %s", e.Timeout)
		}
	case ErrorExited:
		if e.Pattern != "" {
			msg = fmt.Sprintf("process exited before pattern %q appeared", e.Pattern)
		} else {
			msg = "process exited"
		}
	case ErrorNotRunning:
		msg = "session is not running"
	default:
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Underlying
}

// Is matches on Kind so callers can write errors.Is(err, session.ErrTimeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
