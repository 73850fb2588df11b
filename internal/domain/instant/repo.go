package instant

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MatchRepository stores match requests. Transition is the only way a record
// leaves pending and must be a single conditional write.
type MatchRepository interface {
	Create(ctx context.Context, m *MatchRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*MatchRequest, error)
	// FindPendingByDoctor returns nil, nil when the doctor holds no pending
	// request.
	FindPendingByDoctor(ctx context.Context, doctorID uuid.UUID) (*MatchRequest, error)
	// Transition moves a pending record to a terminal status and returns the
	// updated record, or ErrTransitionConflict if it was not pending.
	Transition(ctx context.Context, id uuid.UUID, to Status, f TransitionFields) (*MatchRequest, error)
	// Complete moves an accepted record assigned to doctorID to completed,
	// or returns ErrTransitionConflict.
	Complete(ctx context.Context, id, doctorID uuid.UUID, at time.Time) (*MatchRequest, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*MatchRequest, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MatchRequest, int, error)
}
