package directory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
	Cooldown  Availability = "cooldown"
	Offline   Availability = "offline"
)

func (a Availability) Valid() bool {
	switch a {
	case Available, Busy, Cooldown, Offline:
		return true
	}
	return false
}

type Doctor struct {
	ID                 uuid.UUID    `json:"id"`
	Email              string       `json:"email"`
	FirstName          string       `json:"first_name"`
	LastName           string       `json:"last_name"`
	Specialization     string       `json:"specialization"`
	AvailabilityStatus Availability `json:"availability_status"`
	IsPublic           bool         `json:"is_public"`
	IsAuthorized       bool         `json:"is_authorized"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// FullName is "First Last".
func (d *Doctor) FullName() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

// DisplayName is "Dr. <last name>", falling back to the first name.
func (d *Doctor) DisplayName() string {
	name := d.LastName
	if name == "" {
		name = d.FirstName
	}
	return "Dr. " + name
}

type Patient struct {
	ID        uuid.UUID   `json:"id"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	DoctorIDs []uuid.UUID `json:"doctor_ids"`
	CreatedAt time.Time   `json:"created_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// DoctorQuery selects doctors whose specialization contains any of the terms,
// case-insensitively. No terms matches every specialization.
type DoctorQuery struct {
	SpecialtyTerms []string
}

func (q DoctorQuery) Matches(specialization string) bool {
	if len(q.SpecialtyTerms) == 0 {
		return true
	}
	spec := strings.ToLower(specialization)
	for _, term := range q.SpecialtyTerms {
		if term != "" && strings.Contains(spec, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// Eligible reports whether d can be offered to a patient right now.
func (d *Doctor) Eligible() bool {
	return d.AvailabilityStatus == Available && d.IsPublic && d.IsAuthorized
}

// PublicProfile is what anonymous callers may see.
type PublicProfile struct {
	ID                 uuid.UUID    `json:"id"`
	Name               string       `json:"name"`
	Specialization     string       `json:"specialization"`
	AvailabilityStatus Availability `json:"availability_status"`
}

func (d *Doctor) PublicProfile() PublicProfile {
	return PublicProfile{
		ID:                 d.ID,
		Name:               d.DisplayName(),
		Specialization:     d.Specialization,
		AvailabilityStatus: d.AvailabilityStatus,
	}
}

type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionRejected ConnectionStatus = "rejected"
)

// ConnectionRequest is a doctor asking to join a patient's care team. Once
// accepted the doctor is among the patient's connected doctors, the first
// responders tried on an emergency alert.
type ConnectionRequest struct {
	ID             uuid.UUID        `json:"id"`
	DoctorID       uuid.UUID        `json:"doctor_id"`
	PatientID      uuid.UUID        `json:"patient_id"`
	DoctorName     string           `json:"doctor_name"`
	Specialization string           `json:"specialization"`
	Status         ConnectionStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	RespondedAt    *time.Time       `json:"responded_at,omitempty"`
}
