// Package notify pages emergency responders outside the app.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Alert is the out-of-band emergency page.
type Alert struct {
	RequestID     string    `json:"request_id"`
	PatientID     string    `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
	ResponderID   string    `json:"responder_id,omitempty"`
	ResponderName string    `json:"responder_name"`
	Location      string    `json:"location"`
	MeetLink      string    `json:"meet_link"`
	RaisedAt      time.Time `json:"raised_at"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, alert Alert) error
}

// LogDispatcher writes alerts to the log. Used when no queue is configured.
type LogDispatcher struct {
	Logger zerolog.Logger
}

func (d LogDispatcher) Dispatch(_ context.Context, a Alert) error {
	d.Logger.Warn().
		Str("request_id", a.RequestID).
		Str("patient_id", a.PatientID).
		Str("responder", a.ResponderName).
		Str("location", a.Location).
		Str("meet_link", a.MeetLink).
		Msg("emergency alert")
	return nil
}
