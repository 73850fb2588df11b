package instant

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aarogya/aarogya/internal/platform/db"
)

type matchRepoPG struct{ pool *pgxpool.Pool }

func NewMatchRepoPG(pool *pgxpool.Pool) MatchRepository { return &matchRepoPG{pool: pool} }

func (r *matchRepoPG) conn() db.Querier { return r.pool }

const matchCols = `id, kind, patient_id, doctor_id, patient_name, doctor_name, specialization,
	symptoms, location, status, meet_link, created_at, expires_at, accepted_at, closed_at`

func (r *matchRepoPG) scanMatch(row pgx.Row) (*MatchRequest, error) {
	var m MatchRequest
	var doctorID *uuid.UUID
	var meetLink *string
	err := row.Scan(&m.ID, &m.Kind, &m.PatientID, &doctorID, &m.PatientName, &m.DoctorName, &m.Specialization,
		&m.Symptoms, &m.Location, &m.Status, &meetLink, &m.CreatedAt, &m.ExpiresAt, &m.AcceptedAt, &m.ClosedAt)
	if doctorID != nil {
		m.DoctorID = *doctorID
	}
	if meetLink != nil {
		m.MeetLink = *meetLink
	}
	return &m, err
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *matchRepoPG) Create(ctx context.Context, m *MatchRequest) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.conn().Exec(ctx, `
		INSERT INTO instant_requests (id, kind, patient_id, doctor_id, patient_name, doctor_name,
			specialization, symptoms, location, status, meet_link, created_at, expires_at,
			accepted_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.Kind, m.PatientID, nullUUID(m.DoctorID), m.PatientName, m.DoctorName,
		m.Specialization, m.Symptoms, m.Location, m.Status, nullString(m.MeetLink), m.CreatedAt, m.ExpiresAt,
		m.AcceptedAt, m.ClosedAt,
	)
	return err
}

func (r *matchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MatchRequest, error) {
	m, err := r.scanMatch(r.conn().QueryRow(ctx, `SELECT `+matchCols+` FROM instant_requests WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *matchRepoPG) FindPendingByDoctor(ctx context.Context, doctorID uuid.UUID) (*MatchRequest, error) {
	m, err := r.scanMatch(r.conn().QueryRow(ctx, `SELECT `+matchCols+` FROM instant_requests
		WHERE doctor_id = $1 AND status = 'pending' ORDER BY created_at LIMIT 1`, doctorID))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Transition relies on the status = 'pending' predicate: of two concurrent
// callers only one sees a returned row.
func (r *matchRepoPG) Transition(ctx context.Context, id uuid.UUID, to Status, f TransitionFields) (*MatchRequest, error) {
	var acceptedAt *time.Time
	if to == StatusAccepted {
		acceptedAt = &f.At
	}
	m, err := r.scanMatch(r.conn().QueryRow(ctx, `
		UPDATE instant_requests
		SET status = $2, meet_link = $3, accepted_at = $4, closed_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+matchCols,
		id, to, nullString(f.MeetLink), acceptedAt, f.At,
	))
	if db.IsNoRows(err) {
		return nil, ErrTransitionConflict
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *matchRepoPG) Complete(ctx context.Context, id, doctorID uuid.UUID, at time.Time) (*MatchRequest, error) {
	m, err := r.scanMatch(r.conn().QueryRow(ctx, `
		UPDATE instant_requests SET status = 'completed', closed_at = $3
		WHERE id = $1 AND doctor_id = $2 AND status = 'accepted'
		RETURNING `+matchCols,
		id, doctorID, at,
	))
	if db.IsNoRows(err) {
		return nil, ErrTransitionConflict
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *matchRepoPG) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*MatchRequest, error) {
	rows, err := r.conn().Query(ctx, `SELECT `+matchCols+` FROM instant_requests
		WHERE status = 'pending' AND expires_at < $1 ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MatchRequest
	for rows.Next() {
		m, err := r.scanMatch(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *matchRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MatchRequest, int, error) {
	var total int
	if err := r.conn().QueryRow(ctx, `SELECT COUNT(*) FROM instant_requests WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn().Query(ctx, `SELECT `+matchCols+` FROM instant_requests
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MatchRequest
	for rows.Next() {
		m, err := r.scanMatch(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
