package store

import (
	"context"
	"errors"
	"strings"
)

// Typed store errors. Callers branch on these with errors.Is; everything the
// underlying driver produces is mapped onto one of them.
var (
	// ErrUnavailable means the underlying medium is missing, locked or
	// otherwise unusable. Recoverable by retrying later.
	ErrUnavailable = errors.New("store unavailable")

	// ErrDuplicateKey means an insert violated a uniqueness constraint.
	// The row already exists; the caller decides whether that matters.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound means an update targeted a row that does not exist.
	ErrNotFound = errors.New("row not found")

	// ErrTimeout means a bounded wait expired. Callers treat it the same
	// as ErrUnavailable.
	ErrTimeout = errors.New("store timeout")
)

// mapError translates driver and context errors into typed store errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return errors.Join(ErrTimeout, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return errors.Join(ErrDuplicateKey, err)
	}
	return errors.Join(ErrUnavailable, err)
}

// IsRecoverable reports whether err is a store-wide availability failure
// rather than a data error. Timeouts count as unavailability.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}
