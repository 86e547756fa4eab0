package errors

import (
	goerrors "errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return goerrors.New(msg)
}

// Newf returns an error with the formatted message.
func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goerrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return goerrors.As(err, target)
}

// contextError annotates an error with what the caller was doing when the
// error occurred. Chains of contextErrors read like a stack trace:
// "initial sync: archive: append path ...".
type contextError struct {
	context string
	err     error
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// WithContext wraps `err` with a short description of the failed operation.
// It returns nil if `err` is nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context: context, err: err}
}

// RootCause strips all context added by WithContext and returns the
// original error.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// Friendly is implemented by errors whose message is meant to be shown to
// the user as-is.
type Friendly interface {
	FriendlyMessage() string
}

// FriendlyError is an error whose message is already suitable for users.
type FriendlyError struct {
	msg string
}

// NewFriendlyError creates a FriendlyError with the formatted message.
func NewFriendlyError(format string, args ...interface{}) error {
	return FriendlyError{msg: fmt.Sprintf(format, args...)}
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the user-facing message.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}

// GetFriendlyMessage returns the friendly message of the first error in the
// chain that has one.
func GetFriendlyMessage(err error) (string, bool) {
	var friendly Friendly
	if As(err, &friendly) {
		return friendly.FriendlyMessage(), true
	}
	return "", false
}
