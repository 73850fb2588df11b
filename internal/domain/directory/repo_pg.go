package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/aarogya/aarogya/internal/platform/db"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn() db.Querier { return r.pool }

const doctorCols = `id, email, first_name, last_name, specialization, availability_status,
	is_public, is_authorized, created_at, updated_at`

func (r *doctorRepoPG) scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Email, &d.FirstName, &d.LastName, &d.Specialization, &d.AvailabilityStatus,
		&d.IsPublic, &d.IsAuthorized, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *doctorRepoPG) scanAll(rows pgx.Rows) ([]*Doctor, error) {
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := r.scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.conn().QueryRow(ctx, `
		INSERT INTO users (id, email, first_name, last_name, user_type, specialization,
			availability_status, is_public, is_authorized)
		VALUES ($1, $2, $3, $4, 'doctor', $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		d.ID, d.Email, d.FirstName, d.LastName, d.Specialization,
		d.AvailabilityStatus, d.IsPublic, d.IsAuthorized,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := r.scanDoctor(r.conn().QueryRow(ctx,
		`SELECT `+doctorCols+` FROM users WHERE id = $1 AND user_type = 'doctor'`, id))
	if db.IsNoRows(err) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// specialtyClause ORs one POSITION test per term, numbering parameters from
// start. An empty term list matches everything.
func specialtyClause(terms []string, start int) (string, []interface{}) {
	terms = lo.Filter(terms, func(t string, _ int) bool { return strings.TrimSpace(t) != "" })
	if len(terms) == 0 {
		return "TRUE", nil
	}
	parts := make([]string, len(terms))
	args := make([]interface{}, len(terms))
	for i, t := range terms {
		parts[i] = fmt.Sprintf("POSITION(LOWER($%d) IN LOWER(specialization)) > 0", start+i)
		args[i] = t
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

const pgEligible = `user_type = 'doctor' AND availability_status = 'available'
	AND is_public AND is_authorized`

func (r *doctorRepoPG) FindAvailable(ctx context.Context, q DoctorQuery) (*Doctor, error) {
	clause, args := specialtyClause(q.SpecialtyTerms, 1)
	d, err := r.scanDoctor(r.conn().QueryRow(ctx,
		`SELECT `+doctorCols+` FROM users WHERE `+pgEligible+` AND `+clause+`
		ORDER BY created_at, id LIMIT 1`, args...))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *doctorRepoPG) ListAvailableByIDs(ctx context.Context, ids []uuid.UUID) ([]*Doctor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strIDs := lo.Map(ids, func(id uuid.UUID, _ int) string { return id.String() })
	rows, err := r.conn().Query(ctx,
		`SELECT `+doctorCols+` FROM users WHERE `+pgEligible+` AND id = ANY($1::uuid[])
		ORDER BY created_at, id`, strIDs)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *doctorRepoPG) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn().Exec(ctx, `
		UPDATE users SET availability_status = 'busy', updated_at = NOW()
		WHERE id = $1 AND user_type = 'doctor' AND availability_status = 'available'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *doctorRepoPG) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn().Exec(ctx, `
		UPDATE users SET availability_status = 'available', updated_at = NOW()
		WHERE id = $1 AND user_type = 'doctor' AND availability_status = 'busy'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *doctorRepoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn().Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *doctorRepoPG) SetAvailability(ctx context.Context, id uuid.UUID, from, to Availability) (bool, error) {
	tag, err := r.conn().Exec(ctx, `
		UPDATE users SET availability_status = $3, updated_at = NOW()
		WHERE id = $1 AND user_type = 'doctor' AND availability_status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *doctorRepoPG) SetPublic(ctx context.Context, id uuid.UUID, isPublic bool, from Availability) (bool, error) {
	tag, err := r.conn().Exec(ctx, `
		UPDATE users SET is_public = $2,
			availability_status = CASE WHEN $2 THEN availability_status ELSE 'offline' END,
			updated_at = NOW()
		WHERE id = $1 AND user_type = 'doctor' AND availability_status = $3`, id, isPublic, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *doctorRepoPG) SetAuthorized(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `UPDATE users SET is_authorized = TRUE, updated_at = NOW()
		WHERE id = $1 AND user_type = 'doctor'`, id)
}

func (r *doctorRepoPG) ListPublic(ctx context.Context) ([]*Doctor, error) {
	rows, err := r.conn().Query(ctx, `SELECT `+doctorCols+` FROM users
		WHERE user_type = 'doctor' AND is_public AND is_authorized ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *doctorRepoPG) ListUnauthorized(ctx context.Context) ([]*Doctor, error) {
	rows, err := r.conn().Query(ctx, `SELECT `+doctorCols+` FROM users
		WHERE user_type = 'doctor' AND NOT is_authorized ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, email, first_name, last_name, user_type)
		VALUES ($1, $2, $3, $4, 'patient')
		RETURNING created_at`,
		p.ID, p.Email, p.FirstName, p.LastName,
	).Scan(&p.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return err
	}
	for _, doctorID := range p.DoctorIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctor_patient_links (patient_id, doctor_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, p.ID, doctorID); err != nil {
			return fmt.Errorf("link doctor %s: %w", doctorID, err)
		}
	}
	return tx.Commit(ctx)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, created_at
		FROM users WHERE id = $1 AND user_type = 'patient'`, id,
	).Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id FROM doctor_patient_links WHERE patient_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var did uuid.UUID
		if err := rows.Scan(&did); err != nil {
			return nil, err
		}
		p.DoctorIDs = append(p.DoctorIDs, did)
	}
	return &p, rows.Err()
}

func (r *patientRepoPG) Connect(ctx context.Context, patientID, doctorID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_patient_links (patient_id, doctor_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, patientID, doctorID)
	return err
}

// =========== Connection Repository ===========

type connectionRepoPG struct{ pool *pgxpool.Pool }

func NewConnectionRepoPG(pool *pgxpool.Pool) ConnectionRepository {
	return &connectionRepoPG{pool: pool}
}

func (r *connectionRepoPG) conn() db.Querier { return r.pool }

const connectionCols = `id, doctor_id, patient_id, doctor_name, specialization, status, created_at, responded_at`

func (r *connectionRepoPG) scanConnection(row pgx.Row) (*ConnectionRequest, error) {
	var c ConnectionRequest
	err := row.Scan(&c.ID, &c.DoctorID, &c.PatientID, &c.DoctorName, &c.Specialization,
		&c.Status, &c.CreatedAt, &c.RespondedAt)
	return &c, err
}

func (r *connectionRepoPG) Create(ctx context.Context, c *ConnectionRequest) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn().Exec(ctx, `
		INSERT INTO connection_requests (id, doctor_id, patient_id, doctor_name, specialization, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.DoctorID, c.PatientID, c.DoctorName, c.Specialization, c.Status, c.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConnectionPending
	}
	return err
}

func (r *connectionRepoPG) FindOpen(ctx context.Context, doctorID, patientID uuid.UUID) (*ConnectionRequest, error) {
	c, err := r.scanConnection(r.conn().QueryRow(ctx, `SELECT `+connectionCols+` FROM connection_requests
		WHERE doctor_id = $1 AND patient_id = $2 AND status IN ('pending', 'accepted')
		ORDER BY created_at DESC LIMIT 1`, doctorID, patientID))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *connectionRepoPG) ListPendingForPatient(ctx context.Context, patientID uuid.UUID) ([]*ConnectionRequest, error) {
	rows, err := r.conn().Query(ctx, `SELECT `+connectionCols+` FROM connection_requests
		WHERE patient_id = $1 AND status = 'pending' ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ConnectionRequest
	for rows.Next() {
		c, err := r.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// Respond updates the request and, on accept, writes the link in the same
// transaction.
func (r *connectionRepoPG) Respond(ctx context.Context, id, patientID uuid.UUID, to ConnectionStatus, at time.Time) (*ConnectionRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := r.scanConnection(tx.QueryRow(ctx, `
		UPDATE connection_requests SET status = $3, responded_at = $4
		WHERE id = $1 AND patient_id = $2 AND status = 'pending'
		RETURNING `+connectionCols, id, patientID, to, at))
	if db.IsNoRows(err) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	if to == ConnectionAccepted {
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctor_patient_links (patient_id, doctor_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, patientID, c.DoctorID); err != nil {
			return nil, fmt.Errorf("link doctor %s: %w", c.DoctorID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
