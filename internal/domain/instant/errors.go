package instant

import (
	"errors"
	"fmt"
)

var (
	ErrNoAvailableDoctor  = errors.New("no doctor is currently online")
	ErrNotFoundOrExpired  = errors.New("request not found or expired")
	ErrNotFound           = errors.New("request not found")
	ErrNotActive          = errors.New("consultation not found or already completed")
	ErrExternalService    = errors.New("external service unavailable")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidRequest     = errors.New("invalid request")

	// ErrTransitionConflict is returned by MatchRepository.Transition and
	// Complete when the record is not in the status they move it from.
	ErrTransitionConflict = errors.New("request is no longer in the expected status")
)

// NoDoctorError names the specialty that had nobody online.
type NoDoctorError struct {
	Specialty string
}

func (e *NoDoctorError) Error() string {
	return fmt.Sprintf("No %s is currently online. Please try again in a moment.", e.Specialty)
}

func (e *NoDoctorError) Is(target error) bool {
	return target == ErrNoAvailableDoctor
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
