package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTimestamps  = errors.New("invalid timestamps")
	ErrUnknownAction      = errors.New("unknown action")
)

// TransitionError reports why an action was rejected. Err is one of the
// package sentinels so callers can branch with errors.Is.
type TransitionError struct {
	Action Action
	Err    error
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Action, e.Err, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func reject(action Action, err error, format string, args ...interface{}) error {
	return &TransitionError{Action: action, Err: err, Reason: fmt.Sprintf(format, args...)}
}
