package errors

import (
	"errors"
	"fmt"
	"strings"
)

// New returns an error with the given message. It's a convenience wrapper so
// that callers only need to import this package.
func New(format string, args ...interface{}) error {
	if len(args) == 0 {
		return errors.New(format)
	}
	return fmt.Errorf(format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// contextError annotates an error with a short description of what was being
// attempted when the error occurred.
type contextError struct {
	context string
	err     error
}

// WithContext wraps err with the given context. The context should be a short
// lowercase phrase, such as "open" or "send chunk". WithContext returns nil if
// err is nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context: context, err: err}
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// RootCause returns the innermost error wrapped by WithContext.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// FriendlyError is an error whose message is suitable for displaying directly
// to users.
type FriendlyError struct {
	msg string
}

// NewFriendlyError creates a new FriendlyError.
func NewFriendlyError(format string, args ...interface{}) FriendlyError {
	return FriendlyError{fmt.Sprintf(format, args...)}
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the message that should be shown to the user.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}

// friendlyMessager is implemented by errors that know how to describe
// themselves to users.
type friendlyMessager interface {
	FriendlyMessage() string
}

// GetPrintableMessage returns the message that should be shown to users for
// err. If any error in the chain is friendly, its message is used. Otherwise,
// the full error with its context is returned.
func GetPrintableMessage(err error) string {
	for curr := err; curr != nil; {
		if friendly, ok := curr.(friendlyMessager); ok {
			return friendly.FriendlyMessage()
		}

		ctxErr, ok := curr.(contextError)
		if !ok {
			break
		}
		curr = ctxErr.err
	}
	return strings.TrimSpace(err.Error())
}
