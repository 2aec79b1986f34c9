package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidExperimentInput = errors.New("invalid experiment input")
	ErrInvalidVariantInput    = errors.New("invalid variant input")
	ErrInvalidAssignmentInput = errors.New("invalid assignment input")
	ErrInvalidConversionInput = errors.New("invalid conversion input")
	ErrExperimentNotFound     = errors.New("experiment not found")
	ErrVariantNotFound        = errors.New("variant not found")
	ErrControlAlreadyExists   = errors.New("experiment already has a control variant")
	ErrExperimentNotEditable  = errors.New("experiment is not in draft status")
	ErrConflict               = errors.New("experimentation conflict")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key conflict")
	ErrStorage                = errors.New("experimentation storage failure")
)

// StorageError marks an infrastructure failure so callers can tell it apart
// from an expected empty result.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage %s failed", e.Op)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Storage wraps err as a StorageError. Domain sentinels pass through untouched.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StorageError
	if errors.As(err, &existing) || isDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrExperimentNotFound,
		ErrVariantNotFound,
		ErrControlAlreadyExists,
		ErrExperimentNotEditable,
		ErrConflict,
		ErrIdempotencyConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
