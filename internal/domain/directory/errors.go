package directory

import "errors"

var (
	ErrDoctorNotFound     = errors.New("doctor not found")
	ErrPatientNotFound    = errors.New("patient not found")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrProfilePrivate     = errors.New("profile is private; make it public before going available")
	ErrNotAuthorized      = errors.New("doctor is not yet authorized by the platform")
	ErrPendingMatch       = errors.New("an instant request is waiting for your response")
	ErrStatusChanged      = errors.New("availability changed while updating; check for incoming requests and retry")
	ErrAlreadyConnected   = errors.New("you are already connected with this patient")
	ErrConnectionPending  = errors.New("a pending connection request already exists")
	ErrConnectionNotFound = errors.New("pending connection request not found")
)
