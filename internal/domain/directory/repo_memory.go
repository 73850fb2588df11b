package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// =========== Doctor Repository ===========

// DoctorRepoMemory keeps doctors in registration order behind one mutex. It
// backs STORE_BACKEND=memory and the unit tests.
type DoctorRepoMemory struct {
	mu      sync.Mutex
	order   []uuid.UUID
	doctors map[uuid.UUID]*Doctor
}

func NewDoctorRepoMemory() *DoctorRepoMemory {
	return &DoctorRepoMemory{doctors: make(map[uuid.UUID]*Doctor)}
}

func (r *DoctorRepoMemory) Create(_ context.Context, d *Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.doctors {
		if strings.EqualFold(existing.Email, d.Email) {
			return ErrDuplicateEmail
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	cp := *d
	r.doctors[d.ID] = &cp
	r.order = append(r.order, d.ID)
	return nil
}

func (r *DoctorRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *DoctorRepoMemory) list(keep func(d *Doctor) bool) []*Doctor {
	var out []*Doctor
	for _, id := range r.order {
		if d := r.doctors[id]; keep(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

func (r *DoctorRepoMemory) FindAvailable(_ context.Context, q DoctorQuery) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := r.list(func(d *Doctor) bool { return d.Eligible() && q.Matches(d.Specialization) })
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (r *DoctorRepoMemory) ListAvailableByIDs(_ context.Context, ids []uuid.UUID) ([]*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(func(d *Doctor) bool { return d.Eligible() && lo.Contains(ids, d.ID) }), nil
}

func (r *DoctorRepoMemory) swap(id uuid.UUID, from, to Availability) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok || d.AvailabilityStatus != from {
		return false
	}
	d.AvailabilityStatus = to
	d.UpdatedAt = time.Now().UTC()
	return true
}

func (r *DoctorRepoMemory) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	return r.swap(id, Available, Busy), nil
}

func (r *DoctorRepoMemory) Release(_ context.Context, id uuid.UUID) (bool, error) {
	return r.swap(id, Busy, Available), nil
}

func (r *DoctorRepoMemory) mutate(id uuid.UUID, fn func(d *Doctor)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return ErrDoctorNotFound
	}
	fn(d)
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *DoctorRepoMemory) SetAvailability(_ context.Context, id uuid.UUID, from, to Availability) (bool, error) {
	return r.swap(id, from, to), nil
}

func (r *DoctorRepoMemory) SetPublic(_ context.Context, id uuid.UUID, isPublic bool, from Availability) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok || d.AvailabilityStatus != from {
		return false, nil
	}
	d.IsPublic = isPublic
	if !isPublic {
		d.AvailabilityStatus = Offline
	}
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *DoctorRepoMemory) SetAuthorized(_ context.Context, id uuid.UUID) error {
	return r.mutate(id, func(d *Doctor) { d.IsAuthorized = true })
}

func (r *DoctorRepoMemory) ListPublic(_ context.Context) ([]*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(func(d *Doctor) bool { return d.IsPublic && d.IsAuthorized }), nil
}

func (r *DoctorRepoMemory) ListUnauthorized(_ context.Context) ([]*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(func(d *Doctor) bool { return !d.IsAuthorized }), nil
}

// =========== Patient Repository ===========

type PatientRepoMemory struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
}

func NewPatientRepoMemory() *PatientRepoMemory {
	return &PatientRepoMemory{patients: make(map[uuid.UUID]*Patient)}
}

func (r *PatientRepoMemory) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.patients {
		if strings.EqualFold(existing.Email, p.Email) {
			return ErrDuplicateEmail
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p
	cp.DoctorIDs = append([]uuid.UUID(nil), p.DoctorIDs...)
	r.patients[p.ID] = &cp
	return nil
}

func (r *PatientRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	cp.DoctorIDs = append([]uuid.UUID(nil), p.DoctorIDs...)
	return &cp, nil
}

func (r *PatientRepoMemory) Connect(_ context.Context, patientID, doctorID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[patientID]
	if !ok {
		return ErrPatientNotFound
	}
	if !lo.Contains(p.DoctorIDs, doctorID) {
		p.DoctorIDs = append(p.DoctorIDs, doctorID)
	}
	return nil
}

// =========== Connection Repository ===========

// ConnectionRepoMemory links accepted requests through the patient repo it
// is built on.
type ConnectionRepoMemory struct {
	mu       sync.Mutex
	order    []uuid.UUID
	requests map[uuid.UUID]*ConnectionRequest
	patients *PatientRepoMemory
}

func NewConnectionRepoMemory(patients *PatientRepoMemory) *ConnectionRepoMemory {
	return &ConnectionRepoMemory{requests: make(map[uuid.UUID]*ConnectionRequest), patients: patients}
}

func (r *ConnectionRepoMemory) Create(_ context.Context, c *ConnectionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.requests {
		if existing.DoctorID == c.DoctorID && existing.PatientID == c.PatientID && existing.Status == ConnectionPending {
			return ErrConnectionPending
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	r.requests[c.ID] = &cp
	r.order = append(r.order, c.ID)
	return nil
}

func (r *ConnectionRepoMemory) FindOpen(_ context.Context, doctorID, patientID uuid.UUID) (*ConnectionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.requests[r.order[i]]
		if c.DoctorID == doctorID && c.PatientID == patientID && c.Status != ConnectionRejected {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *ConnectionRepoMemory) ListPendingForPatient(_ context.Context, patientID uuid.UUID) ([]*ConnectionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ConnectionRequest
	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.requests[r.order[i]]
		if c.PatientID == patientID && c.Status == ConnectionPending {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *ConnectionRepoMemory) Respond(ctx context.Context, id, patientID uuid.UUID, to ConnectionStatus, at time.Time) (*ConnectionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.requests[id]
	if !ok || c.PatientID != patientID || c.Status != ConnectionPending {
		return nil, ErrConnectionNotFound
	}
	if to == ConnectionAccepted {
		if err := r.patients.Connect(ctx, patientID, c.DoctorID); err != nil {
			return nil, err
		}
	}
	c.Status = to
	c.RespondedAt = &at
	cp := *c
	return &cp, nil
}
