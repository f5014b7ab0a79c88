package discord

import (
	"errors"
	"fmt"
)

// UserError is a handler failure whose message is shown to the user as is.
// Err, when set, is the underlying cause and is logged but never shown.
type UserError struct {
	Msg string
	Err error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *UserError) Unwrap() error { return e.Err }

// UserErrorf returns a [UserError] with a formatted message.
func UserErrorf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// WrapUserError returns a [UserError] showing msg and carrying err as cause.
func WrapUserError(err error, msg string) error {
	return &UserError{Msg: msg, Err: err}
}

// AsUserError reports whether err carries a [UserError] and returns it.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
