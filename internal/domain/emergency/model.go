package emergency

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLocation is recorded when the client could not read GPS.
	DefaultLocation = "GPS Unavailable"

	// StatusAlertSent is the only outcome reported to the patient; the alert
	// is raised even when no responder is online.
	StatusAlertSent = "alert_sent"

	KindEmergencyAlert = "emergency_alert"

	emergencySymptoms      = "EMERGENCY SOS"
	emergencySpecialty     = "Emergency"
	defaultFallbackContact = "108 (Ambulance)"
)

// Notification is an in-app message for a single user.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	RequestID uuid.UUID `json:"request_id,omitempty"`
	MeetLink  string    `json:"meet_link,omitempty"`
	Location  string    `json:"location,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type AlertInput struct {
	Location string `json:"location"`
}

type AlertResult struct {
	Status         string    `json:"status"`
	RequestID      uuid.UUID `json:"request_id"`
	MeetLink       string    `json:"meet_link"`
	ResponderFound bool      `json:"responder_found"`
	// Notified names who was paged: a doctor or the fallback contact.
	Notified  string    `json:"notified"`
	Timestamp time.Time `json:"timestamp"`
}
