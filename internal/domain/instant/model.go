package instant

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

type Kind string

const (
	KindInstant   Kind = "instant"
	KindEmergency Kind = "emergency"
)

// DirectRequest is stored as the symptoms text when the patient picked a
// specialty instead of describing symptoms.
const DirectRequest = "Direct Request"

// MatchRequest is one instant consultation. Names and specialization are
// snapshots taken at creation and never refreshed.
type MatchRequest struct {
	ID             uuid.UUID  `json:"id"`
	Kind           Kind       `json:"type"`
	PatientID      uuid.UUID  `json:"patient_id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	PatientName    string     `json:"patient_name"`
	DoctorName     string     `json:"doctor_name"`
	Specialization string     `json:"specialization"`
	Symptoms       string     `json:"symptoms"`
	Location       string     `json:"location,omitempty"`
	Status         Status     `json:"status"`
	MeetLink       string     `json:"meet_link,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// HasDoctor is false for emergency records raised with no responder online.
func (m *MatchRequest) HasDoctor() bool {
	return m.DoctorID != uuid.Nil
}

// Stale reports whether a pending request has outlived its window at now.
func (m *MatchRequest) Stale(now time.Time) bool {
	return m.Status == StatusPending && now.After(m.ExpiresAt)
}

// Need is what the patient asked for: a named specialty or a symptom
// description to be classified.
type Need interface {
	need()
}

type SpecialtyNeed struct {
	Specialty string
}

type SymptomsNeed struct {
	Symptoms string
}

func (SpecialtyNeed) need() {}
func (SymptomsNeed) need()  {}

const (
	needSpecialty = "specialty"
	needSymptoms  = "symptoms"
)

// ParseNeed turns the wire {type, value} pair into a Need.
func ParseNeed(kind, value string) (Need, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidRequest)
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case needSpecialty:
		return SpecialtyNeed{Specialty: value}, nil
	case needSymptoms:
		return SymptomsNeed{Symptoms: value}, nil
	}
	return nil, fmt.Errorf("%w: type must be %q or %q", ErrInvalidRequest, needSpecialty, needSymptoms)
}

// MatchResult is returned to the patient when a doctor has been reserved.
type MatchResult struct {
	RequestID  uuid.UUID `json:"request_id"`
	DoctorName string    `json:"doctor_name"`
	Specialty  string    `json:"specialty"`
}

// StatusView is what the patient sees while polling.
type StatusView struct {
	Status     Status `json:"status"`
	MeetLink   string `json:"meet_link,omitempty"`
	DoctorName string `json:"doctor_name"`
}

// TransitionFields carries the values written alongside a terminal status.
type TransitionFields struct {
	MeetLink string
	At       time.Time
}
