package instant

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MatchRepoMemory is the in-process MatchRepository used by
// STORE_BACKEND=memory and the tests.
type MatchRepoMemory struct {
	mu      sync.Mutex
	records map[uuid.UUID]*MatchRequest
}

func NewMatchRepoMemory() *MatchRepoMemory {
	return &MatchRepoMemory{records: make(map[uuid.UUID]*MatchRequest)}
}

func clone(m *MatchRequest) *MatchRequest {
	cp := *m
	return &cp
}

func (r *MatchRepoMemory) Create(_ context.Context, m *MatchRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == StatusPending && m.HasDoctor() {
		for _, existing := range r.records {
			if existing.Status == StatusPending && existing.DoctorID == m.DoctorID {
				return fmt.Errorf("doctor %s already holds pending request %s", m.DoctorID, existing.ID)
			}
		}
	}
	r.records[m.ID] = clone(m)
	return nil
}

func (r *MatchRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*MatchRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m), nil
}

func (r *MatchRepoMemory) FindPendingByDoctor(_ context.Context, doctorID uuid.UUID) (*MatchRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.records {
		if m.Status == StatusPending && m.DoctorID == doctorID {
			return clone(m), nil
		}
	}
	return nil, nil
}

func (r *MatchRepoMemory) Transition(_ context.Context, id uuid.UUID, to Status, f TransitionFields) (*MatchRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.records[id]
	if !ok || m.Status != StatusPending {
		return nil, ErrTransitionConflict
	}
	m.Status = to
	at := f.At
	m.ClosedAt = &at
	if to == StatusAccepted {
		m.MeetLink = f.MeetLink
		m.AcceptedAt = &at
	}
	return clone(m), nil
}

func (r *MatchRepoMemory) Complete(_ context.Context, id, doctorID uuid.UUID, at time.Time) (*MatchRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.records[id]
	if !ok || m.Status != StatusAccepted || m.DoctorID != doctorID {
		return nil, ErrTransitionConflict
	}
	m.Status = StatusCompleted
	m.ClosedAt = &at
	return clone(m), nil
}

func (r *MatchRepoMemory) sorted(keep func(m *MatchRequest) bool, less func(a, b *MatchRequest) bool) []*MatchRequest {
	var out []*MatchRequest
	for _, m := range r.records {
		if keep(m) {
			out = append(out, clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (r *MatchRepoMemory) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*MatchRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(
		func(m *MatchRequest) bool { return m.Stale(now) },
		func(a, b *MatchRequest) bool { return a.ExpiresAt.Before(b.ExpiresAt) },
	)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MatchRepoMemory) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*MatchRequest, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(
		func(m *MatchRequest) bool { return m.PatientID == patientID },
		func(a, b *MatchRequest) bool { return a.CreatedAt.After(b.CreatedAt) },
	)
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

// Count returns how many records are stored.
func (r *MatchRepoMemory) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
