package emergency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aarogya/aarogya/internal/domain/directory"
	"github.com/aarogya/aarogya/internal/domain/instant"
	"github.com/aarogya/aarogya/internal/platform/events"
	"github.com/aarogya/aarogya/internal/platform/meet"
	"github.com/aarogya/aarogya/internal/platform/notify"
)

// EventAlert is published to the responder's topic.
const EventAlert = "emergency.alert"

const maxClaimRounds = 8

// responderTerms is the broad net used when no connected doctor is free.
var responderTerms = []string{"General", "Paramedic"}

type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	ListAvailableConnected(ctx context.Context, patientID uuid.UUID) ([]*directory.Doctor, error)
	FindAvailable(ctx context.Context, q directory.DoctorQuery) (*directory.Doctor, error)
	Claim(ctx context.Context, doctorID uuid.UUID) (bool, error)
	Release(ctx context.Context, doctorID uuid.UUID) (bool, error)
}

type Service struct {
	dir             Directory
	matches         instant.MatchRepository
	notes           NotificationRepository
	meet            meet.Provisioner
	dispatcher      notify.Dispatcher
	events          events.Publisher
	logger          zerolog.Logger
	fallbackContact string
	now             func() time.Time
}

func NewService(dir Directory, matches instant.MatchRepository, notes NotificationRepository, provisioner meet.Provisioner, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "emergency").Logger()
	return &Service{
		dir:             dir,
		matches:         matches,
		notes:           notes,
		meet:            provisioner,
		dispatcher:      notify.LogDispatcher{Logger: logger},
		events:          events.Noop{},
		logger:          logger,
		fallbackContact: defaultFallbackContact,
		now:             time.Now,
	}
}

// SetDispatcher replaces the out-of-band pager.
func (s *Service) SetDispatcher(d notify.Dispatcher) {
	if d != nil {
		s.dispatcher = d
	}
}

func (s *Service) SetPublisher(p events.Publisher) {
	if p != nil {
		s.events = p
	}
}

// SetFallbackContact names who the patient is told was alerted when no
// doctor could be reached.
func (s *Service) SetFallbackContact(contact string) {
	if contact = strings.TrimSpace(contact); contact != "" {
		s.fallbackContact = contact
	}
}

// Alert raises an SOS. The patient always gets a meeting link; a responder
// is claimed when one is free but is not required.
func (s *Service) Alert(ctx context.Context, patientID uuid.UUID, in AlertInput) (*AlertResult, error) {
	patient, err := s.dir.GetPatient(ctx, patientID)
	if errors.Is(err, directory.ErrPatientNotFound) {
		return nil, ErrUnknownPatient
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load patient: %w", instant.ErrStorageUnavailable, err)
	}
	location := strings.TrimSpace(in.Location)
	if location == "" {
		location = DefaultLocation
	}

	responder := s.claimResponder(ctx, patientID)
	now := s.now().UTC()

	attendees := []string{patient.Email}
	if responder != nil {
		attendees = append(attendees, responder.Email)
	}
	link, err := s.meet.CreateMeetingLink(ctx, meet.Request{
		Summary:   "EMERGENCY: " + patient.FullName(),
		Start:     now,
		Attendees: lo.Compact(attendees),
	})
	if err != nil {
		s.releaseResponder(ctx, responder)
		return nil, fmt.Errorf("%w: %w", instant.ErrExternalService, err)
	}

	m := &instant.MatchRequest{
		ID:             uuid.New(),
		Kind:           instant.KindEmergency,
		PatientID:      patient.ID,
		PatientName:    patient.FullName(),
		DoctorName:     s.fallbackContact,
		Specialization: emergencySpecialty,
		Symptoms:       emergencySymptoms,
		Location:       location,
		Status:         instant.StatusAccepted,
		MeetLink:       link,
		CreatedAt:      now,
		ExpiresAt:      now,
		AcceptedAt:     &now,
	}
	if responder != nil {
		m.DoctorID = responder.ID
		m.DoctorName = responder.DisplayName()
		m.Specialization = responder.Specialization
	}
	if err := s.matches.Create(ctx, m); err != nil {
		s.releaseResponder(ctx, responder)
		return nil, fmt.Errorf("%w: create emergency record: %w", instant.ErrStorageUnavailable, err)
	}

	s.logger.Warn().
		Str("request_id", m.ID.String()).
		Str("patient_id", patientID.String()).
		Bool("responder_found", responder != nil).
		Str("location", location).
		Msg("emergency alert raised")

	s.notifyResponder(ctx, m, responder)

	return &AlertResult{
		Status:         StatusAlertSent,
		RequestID:      m.ID,
		MeetLink:       link,
		ResponderFound: responder != nil,
		Notified:       m.DoctorName,
		Timestamp:      now,
	}, nil
}

// claimResponder tries the patient's free connected doctors first, then any
// free general or paramedic doctor. Lookup errors are logged and end the
// search: an SOS never fails for want of a responder.
func (s *Service) claimResponder(ctx context.Context, patientID uuid.UUID) *directory.Doctor {
	connected, err := s.dir.ListAvailableConnected(ctx, patientID)
	if err != nil {
		s.logger.Error().Err(err).Msg("connected doctor lookup failed")
	}
	for _, d := range connected {
		if s.tryClaim(ctx, d) {
			return d
		}
	}

	for round := 0; round < maxClaimRounds; round++ {
		d, err := s.dir.FindAvailable(ctx, directory.DoctorQuery{SpecialtyTerms: responderTerms})
		if err != nil {
			s.logger.Error().Err(err).Msg("responder lookup failed")
			return nil
		}
		if d == nil {
			return nil
		}
		if s.tryClaim(ctx, d) {
			return d
		}
	}
	return nil
}

func (s *Service) tryClaim(ctx context.Context, d *directory.Doctor) bool {
	ok, err := s.dir.Claim(ctx, d.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("doctor_id", d.ID.String()).Msg("responder claim failed")
		return false
	}
	return ok
}

func (s *Service) releaseResponder(ctx context.Context, d *directory.Doctor) {
	if d == nil {
		return
	}
	if _, err := s.dir.Release(ctx, d.ID); err != nil {
		s.logger.Error().Err(err).Str("doctor_id", d.ID.String()).Msg("failed to release responder")
	}
}

// notifyResponder writes the in-app notification, pages out of band and
// pushes the live event. None of these may fail the alert.
func (s *Service) notifyResponder(ctx context.Context, m *instant.MatchRequest, responder *directory.Doctor) {
	if responder != nil {
		n := &Notification{
			UserID:    responder.ID,
			Kind:      KindEmergencyAlert,
			Title:     "Emergency SOS",
			Message:   fmt.Sprintf("%s needs immediate help at %s.", m.PatientName, m.Location),
			RequestID: m.ID,
			MeetLink:  m.MeetLink,
			Location:  m.Location,
		}
		if err := s.notes.Create(ctx, n); err != nil {
			s.logger.Error().Err(err).Str("request_id", m.ID.String()).Msg("failed to write emergency notification")
		}
	}

	alert := notify.Alert{
		RequestID:     m.ID.String(),
		PatientID:     m.PatientID.String(),
		PatientName:   m.PatientName,
		ResponderName: m.DoctorName,
		Location:      m.Location,
		MeetLink:      m.MeetLink,
		RaisedAt:      m.CreatedAt,
	}
	if responder != nil {
		alert.ResponderID = responder.ID.String()
	}
	if err := s.dispatcher.Dispatch(ctx, alert); err != nil {
		s.logger.Error().Err(err).Str("request_id", m.ID.String()).Msg("emergency dispatch failed")
	}

	ev := events.Event{
		Type:      EventAlert,
		RequestID: m.ID.String(),
		PatientID: m.PatientID.String(),
		Data: map[string]interface{}{
			"patient_name": m.PatientName,
			"location":     m.Location,
			"meet_link":    m.MeetLink,
			"status":       m.Status,
		},
		OccurredAt: m.CreatedAt,
	}
	if m.HasDoctor() {
		ev.DoctorID = m.DoctorID.String()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("request_id", m.ID.String()).Msg("event publish failed")
	}
}

// -- Notifications --

func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	return s.notes.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error {
	return s.notes.MarkRead(ctx, userID, id)
}
