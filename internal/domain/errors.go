package domain

import (
	"errors"
	"fmt"
)

// Error kinds returned by the reservation core. Callers test them with
// errors.Is; the message after the kind is meant for humans.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrAccessDenied = errors.New("access denied")

	// ErrConflict marks a transient serialization conflict between
	// concurrent writers. It never leaves the service layer.
	ErrConflict = errors.New("serialization conflict")
)

var (
	ErrIntervalReserved       = fmt.Errorf("%w: interval already reserved", ErrValidation)
	ErrAlreadyDecided         = fmt.Errorf("%w: already decided", ErrValidation)
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrAlreadyExists          = errors.New("already exists")

	// ErrLockBusy means the item lock was still held when the wait ran out.
	// It says nothing about overlap and is reported as an internal error.
	ErrLockBusy = errors.New("item lock busy")
)

// NotFoundf wraps ErrNotFound with a formatted reason.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// AccessDeniedf wraps ErrAccessDenied with a formatted reason.
func AccessDeniedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAccessDenied, fmt.Sprintf(format, args...))
}

// Kind returns the name of the business error kind carried by err, or
// "internal" when err is not one of them.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	default:
		return "internal"
	}
}

// Reason strips the kind prefix from a business error message.
func Reason(err error) string {
	msg := err.Error()
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrAccessDenied} {
		prefix := kind.Error() + ": "
		if errors.Is(err, kind) && len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return msg
}
