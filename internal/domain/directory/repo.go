package directory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DoctorRepository is the only writer of availability_status. Every status
// write is conditional on the status the caller last observed, so a manual
// toggle can never overwrite a concurrent Claim.
type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// FindAvailable returns the earliest-registered eligible doctor matching
	// q, or nil when there is none.
	FindAvailable(ctx context.Context, q DoctorQuery) (*Doctor, error)
	// ListAvailableByIDs returns the eligible doctors among ids in
	// registration order.
	ListAvailableByIDs(ctx context.Context, ids []uuid.UUID) ([]*Doctor, error)
	// Claim flips available to busy and reports whether this call won.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	// Release flips busy to available. A doctor in any other state is left
	// alone and false is returned.
	Release(ctx context.Context, id uuid.UUID) (bool, error)
	// SetAvailability moves the doctor from one status to another and reports
	// false when the stored status is no longer from.
	SetAvailability(ctx context.Context, id uuid.UUID, from, to Availability) (bool, error)
	// SetPublic updates the discovery flag while the status is still from.
	// Going private also sets the doctor offline.
	SetPublic(ctx context.Context, id uuid.UUID, isPublic bool, from Availability) (bool, error)
	SetAuthorized(ctx context.Context, id uuid.UUID) error
	ListPublic(ctx context.Context) ([]*Doctor, error)
	ListUnauthorized(ctx context.Context) ([]*Doctor, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// Connect links a patient to a doctor. Linking twice is a no-op.
	Connect(ctx context.Context, patientID, doctorID uuid.UUID) error
}

type ConnectionRepository interface {
	// Create stores a pending request. A second pending request for the same
	// doctor and patient returns ErrConnectionPending.
	Create(ctx context.Context, r *ConnectionRequest) error
	// FindOpen returns the newest pending or accepted request between the
	// two, or nil.
	FindOpen(ctx context.Context, doctorID, patientID uuid.UUID) (*ConnectionRequest, error)
	ListPendingForPatient(ctx context.Context, patientID uuid.UUID) ([]*ConnectionRequest, error)
	// Respond moves a pending request addressed to patientID to accepted or
	// rejected. Accepting also connects the patient to the doctor, atomically
	// where the backend allows. A request that is not pending returns
	// ErrConnectionNotFound.
	Respond(ctx context.Context, id, patientID uuid.UUID, to ConnectionStatus, at time.Time) (*ConnectionRequest, error)
}
