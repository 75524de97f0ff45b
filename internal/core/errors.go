package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrConcurrencyConflict = errors.New("concurrent write conflict")
	ErrChainIntegrity      = errors.New("ledger chain integrity violation")
	ErrStorageUnavailable  = errors.New("durable storage unavailable")
	ErrImmutableEvent      = errors.New("ledger events are immutable")
	ErrInvalidScope        = errors.New("invalid adapter scope")
)

func NewNotFoundError(resource, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, resource, id)
}

// NewConflictError is returned after bounded optimistic-write retries have been
// exhausted for a single student's state.
func NewConflictError(studentID string, attempts int) error {
	return fmt.Errorf("%w: student %s after %d attempts", ErrConcurrencyConflict, studentID, attempts)
}

// NewChainIntegrityError carries the forensic detail a verification caller
// needs: which event diverged and the expected/actual hash values.
func NewChainIntegrityError(eventID, expected, actual string) error {
	return fmt.Errorf("%w: event %s expected %s got %s", ErrChainIntegrity, eventID, expected, actual)
}

func NewStorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
