package instant

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
	"github.com/aarogya/aarogya/internal/domain/specialty"
	"github.com/aarogya/aarogya/internal/platform/events"
	"github.com/aarogya/aarogya/internal/platform/meet"
)

const (
	// DefaultTimeout is how long a doctor has to answer.
	DefaultTimeout = 60 * time.Second

	// maxClaimRounds bounds how often a lost claim sends us back to search.
	maxClaimRounds = 8

	sweepBatch = 100

	// broadTerm is the second search when nobody with the target
	// specialty is online.
	broadTerm = "General"
)

// Event types published on every lifecycle step.
const (
	EventRequested = "match.requested"
	EventAccepted  = "match.accepted"
	EventRejected  = "match.rejected"
	EventExpired   = "match.expired"
	EventCancelled = "match.cancelled"
	EventCompleted = "match.completed"
)

// Directory is the slice of the doctor directory the match engine needs.
// Every availability write goes through Claim and Release.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	FindAvailable(ctx context.Context, q directory.DoctorQuery) (*directory.Doctor, error)
	Claim(ctx context.Context, doctorID uuid.UUID) (bool, error)
	Release(ctx context.Context, doctorID uuid.UUID) (bool, error)
}

type Classifier interface {
	Classify(ctx context.Context, symptoms string) string
}

type Service struct {
	matches    MatchRepository
	dir        Directory
	classifier Classifier
	meet       meet.Provisioner
	events     events.Publisher
	logger     zerolog.Logger
	timeout    time.Duration
	now        func() time.Time
}

func NewService(matches MatchRepository, dir Directory, classifier Classifier, provisioner meet.Provisioner, logger zerolog.Logger) *Service {
	return &Service{
		matches:    matches,
		dir:        dir,
		classifier: classifier,
		meet:       provisioner,
		events:     events.Noop{},
		logger:     logger.With().Str("component", "instant").Logger(),
		timeout:    DefaultTimeout,
		now:        time.Now,
	}
}

// SetPublisher attaches the lifecycle event sink.
func (s *Service) SetPublisher(p events.Publisher) {
	if p != nil {
		s.events = p
	}
}

// SetTimeout overrides the answer window for new requests.
func (s *Service) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// -- Match engine --

// resolve returns the target specialty and the symptoms text to store.
func (s *Service) resolve(ctx context.Context, need Need) (string, string, error) {
	switch n := need.(type) {
	case SpecialtyNeed:
		return strings.TrimSpace(n.Specialty), DirectRequest, nil
	case SymptomsNeed:
		if s.classifier == nil {
			return specialty.Fallback, n.Symptoms, nil
		}
		return s.classifier.Classify(ctx, n.Symptoms), n.Symptoms, nil
	}
	return "", "", fmt.Errorf("%w: unsupported need %T", ErrInvalidRequest, need)
}

// searchPlan lists the term sets tried in order: the first word of the
// target, then the broad net unless the target already is the fallback.
func searchPlan(target string) [][]string {
	plan := [][]string{{strings.Fields(target)[0]}}
	if !strings.EqualFold(target, specialty.Fallback) {
		plan = append(plan, []string{broadTerm})
	}
	return plan
}

func (s *Service) findCandidate(ctx context.Context, plan [][]string) (*directory.Doctor, error) {
	for _, terms := range plan {
		d, err := s.dir.FindAvailable(ctx, directory.DoctorQuery{SpecialtyTerms: terms})
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}
	return nil, nil
}

// RequestInstantMatch reserves a doctor for the patient and records a pending
// request. Nothing is written when no doctor can be claimed.
func (s *Service) RequestInstantMatch(ctx context.Context, patientID uuid.UUID, need Need) (*MatchResult, error) {
	patient, err := s.dir.GetPatient(ctx, patientID)
	if errors.Is(err, directory.ErrPatientNotFound) {
		return nil, fmt.Errorf("%w: patient profile not found", ErrInvalidRequest)
	}
	if err != nil {
		return nil, storageErr("load patient", err)
	}

	target, symptoms, err := s.resolve(ctx, need)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, fmt.Errorf("%w: specialty is required", ErrInvalidRequest)
	}
	plan := searchPlan(target)

	for round := 0; round < maxClaimRounds; round++ {
		doctor, err := s.findCandidate(ctx, plan)
		if err != nil {
			return nil, storageErr("find doctor", err)
		}
		if doctor == nil {
			break
		}

		claimed, err := s.dir.Claim(ctx, doctor.ID)
		if err != nil {
			return nil, storageErr("claim doctor", err)
		}
		if !claimed {
			s.logger.Debug().Str("doctor_id", doctor.ID.String()).Int("round", round).Msg("claim lost, searching again")
			continue
		}

		now := s.clock()
		m := &MatchRequest{
			ID:             uuid.New(),
			Kind:           KindInstant,
			PatientID:      patient.ID,
			DoctorID:       doctor.ID,
			PatientName:    patient.FullName(),
			DoctorName:     doctor.DisplayName(),
			Specialization: doctor.Specialization,
			Symptoms:       symptoms,
			Status:         StatusPending,
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.timeout),
		}
		if err := s.matches.Create(ctx, m); err != nil {
			s.release(ctx, doctor.ID, m.ID)
			return nil, storageErr("create request", err)
		}

		s.logger.Info().
			Str("request_id", m.ID.String()).
			Str("doctor_id", doctor.ID.String()).
			Str("specialty", target).
			Msg("instant match created")
		s.publish(ctx, EventRequested, m, map[string]interface{}{
			"patient_name": m.PatientName,
			"symptoms":     m.Symptoms,
			"expires_at":   m.ExpiresAt,
		})
		return &MatchResult{RequestID: m.ID, DoctorName: m.DoctorName, Specialty: target}, nil
	}

	return nil, &NoDoctorError{Specialty: target}
}

// -- Lifecycle controller --

// PollIncoming returns the doctor's live pending request, or nil.
func (s *Service) PollIncoming(ctx context.Context, doctorID uuid.UUID) (*MatchRequest, error) {
	m, err := s.matches.FindPendingByDoctor(ctx, doctorID)
	if err != nil {
		return nil, storageErr("find pending", err)
	}
	if m == nil {
		return nil, nil
	}
	if m.Stale(s.clock()) {
		if _, _, err := s.expire(ctx, m); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return m, nil
}

// HasPendingForDoctor lets the directory refuse manual availability changes
// while a live request is waiting on the doctor.
func (s *Service) HasPendingForDoctor(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	m, err := s.PollIncoming(ctx, doctorID)
	return m != nil, err
}

// PollStatus returns the patient's view of their request. Unknown ids and
// requests owned by someone else are both ErrNotFound.
func (s *Service) PollStatus(ctx context.Context, patientID, id uuid.UUID) (*StatusView, error) {
	m, err := s.matches.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get request", err)
	}
	if m.PatientID != patientID {
		return nil, ErrNotFound
	}
	if m.Stale(s.clock()) {
		if m, _, err = s.expire(ctx, m); err != nil {
			return nil, err
		}
	}
	return &StatusView{Status: m.Status, MeetLink: m.MeetLink, DoctorName: m.DoctorName}, nil
}

// History lists the patient's requests, newest first.
func (s *Service) History(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MatchRequest, int, error) {
	items, total, err := s.matches.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, storageErr("list requests", err)
	}
	now := s.clock()
	for i, m := range items {
		if m.Stale(now) {
			if items[i], _, err = s.expire(ctx, m); err != nil {
				return nil, 0, err
			}
		}
	}
	return items, total, nil
}

// loadLive fetches a request the doctor may act on. Every failed
// precondition collapses into ErrNotFoundOrExpired.
func (s *Service) loadLive(ctx context.Context, id uuid.UUID, owns func(m *MatchRequest) bool) (*MatchRequest, error) {
	m, err := s.matches.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFoundOrExpired
	}
	if err != nil {
		return nil, storageErr("get request", err)
	}
	if !owns(m) || m.Status != StatusPending {
		return nil, ErrNotFoundOrExpired
	}
	if m.Stale(s.clock()) {
		if _, _, err := s.expire(ctx, m); err != nil {
			return nil, err
		}
		return nil, ErrNotFoundOrExpired
	}
	return m, nil
}

func ownedByDoctor(doctorID uuid.UUID) func(m *MatchRequest) bool {
	return func(m *MatchRequest) bool { return m.DoctorID == doctorID }
}

// Accept provisions the meeting link and only then records acceptance. A
// provisioning failure leaves the request pending so the doctor can retry.
func (s *Service) Accept(ctx context.Context, doctorID, id uuid.UUID) (*MatchRequest, error) {
	m, err := s.loadLive(ctx, id, ownedByDoctor(doctorID))
	if err != nil {
		return nil, err
	}

	now := s.clock()
	link, err := s.meet.CreateMeetingLink(ctx, meet.Request{
		Summary:   fmt.Sprintf("Instant Consult: %s & %s", m.DoctorName, m.PatientName),
		Start:     now,
		Attendees: s.attendees(ctx, m),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", id.String()).Msg("meeting link provisioning failed")
		return nil, fmt.Errorf("%w: %w", ErrExternalService, err)
	}

	updated, err := s.matches.Transition(ctx, id, StatusAccepted, TransitionFields{MeetLink: link, At: now})
	if errors.Is(err, ErrTransitionConflict) {
		return nil, ErrNotFoundOrExpired
	}
	if err != nil {
		return nil, storageErr("accept request", err)
	}

	s.logger.Info().Str("request_id", id.String()).Str("doctor_id", doctorID.String()).Msg("instant match accepted")
	s.publish(ctx, EventAccepted, updated, map[string]interface{}{
		"meet_link":   updated.MeetLink,
		"doctor_name": updated.DoctorName,
	})
	return updated, nil
}

// attendees collects the participants' emails for the calendar invite.
// Lookup failures only shrink the list.
func (s *Service) attendees(ctx context.Context, m *MatchRequest) []string {
	var emails []string
	if d, err := s.dir.GetDoctor(ctx, m.DoctorID); err == nil {
		emails = append(emails, d.Email)
	}
	if p, err := s.dir.GetPatient(ctx, m.PatientID); err == nil {
		emails = append(emails, p.Email)
	}
	return lo.Compact(emails)
}

// Reject closes the request and releases the doctor.
func (s *Service) Reject(ctx context.Context, doctorID, id uuid.UUID) error {
	if _, err := s.loadLive(ctx, id, ownedByDoctor(doctorID)); err != nil {
		return err
	}
	return s.close(ctx, id, StatusRejected, EventRejected)
}

// Cancel is the patient withdrawing a pending request. The doctor is
// released exactly as on reject.
func (s *Service) Cancel(ctx context.Context, patientID, id uuid.UUID) error {
	owns := func(m *MatchRequest) bool { return m.PatientID == patientID }
	if _, err := s.loadLive(ctx, id, owns); err != nil {
		return err
	}
	return s.close(ctx, id, StatusCancelled, EventCancelled)
}

// Complete ends an accepted consultation, instant or emergency, and frees
// the assigned doctor. Only that doctor may complete it, and only once.
func (s *Service) Complete(ctx context.Context, doctorID, id uuid.UUID) (*MatchRequest, error) {
	updated, err := s.matches.Complete(ctx, id, doctorID, s.clock())
	if errors.Is(err, ErrTransitionConflict) {
		return nil, ErrNotActive
	}
	if err != nil {
		return nil, storageErr("complete request", err)
	}
	s.release(ctx, doctorID, id)
	s.logger.Info().Str("request_id", id.String()).Str("kind", string(updated.Kind)).Msg("consultation completed")
	s.publish(ctx, EventCompleted, updated, nil)
	return updated, nil
}

func (s *Service) close(ctx context.Context, id uuid.UUID, to Status, eventType string) error {
	updated, err := s.matches.Transition(ctx, id, to, TransitionFields{At: s.clock()})
	if errors.Is(err, ErrTransitionConflict) {
		return ErrNotFoundOrExpired
	}
	if err != nil {
		return storageErr("close request", err)
	}
	s.release(ctx, updated.DoctorID, id)
	s.logger.Info().Str("request_id", id.String()).Str("status", string(to)).Msg("instant match closed")
	s.publish(ctx, eventType, updated, nil)
	return nil
}

// expire moves a stale request to expired and releases its doctor. It
// reports false, with the current record, when another caller closed the
// request first; the release is then theirs to do.
func (s *Service) expire(ctx context.Context, m *MatchRequest) (*MatchRequest, bool, error) {
	updated, err := s.matches.Transition(ctx, m.ID, StatusExpired, TransitionFields{At: s.clock()})
	if errors.Is(err, ErrTransitionConflict) {
		current, err := s.matches.GetByID(ctx, m.ID)
		if err != nil {
			return nil, false, storageErr("reload request", err)
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, storageErr("expire request", err)
	}
	s.release(ctx, updated.DoctorID, updated.ID)
	s.logger.Info().Str("request_id", m.ID.String()).Str("doctor_id", m.DoctorID.String()).Msg("instant match expired")
	s.publish(ctx, EventExpired, updated, nil)
	return updated, true, nil
}

// ExpireDue expires every pending request past its deadline and returns how
// many this call closed.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	expired := 0
	for {
		batch, err := s.matches.ListExpiredPending(ctx, s.clock(), sweepBatch)
		if err != nil {
			return expired, storageErr("list expired", err)
		}
		for _, m := range batch {
			_, won, err := s.expire(ctx, m)
			if err != nil {
				return expired, err
			}
			if won {
				expired++
			}
		}
		if len(batch) < sweepBatch {
			return expired, nil
		}
		if err := ctx.Err(); err != nil {
			return expired, err
		}
	}
}

// release undoes a claim. A failure here strands the doctor in busy, so it
// is logged loudly but not returned: the request has already been closed.
func (s *Service) release(ctx context.Context, doctorID, requestID uuid.UUID) {
	if doctorID == uuid.Nil {
		return
	}
	released, err := s.dir.Release(ctx, doctorID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("doctor_id", doctorID.String()).
			Str("request_id", requestID.String()).
			Msg("failed to release doctor")
		return
	}
	if !released {
		s.logger.Warn().
			Str("doctor_id", doctorID.String()).
			Str("request_id", requestID.String()).
			Msg("doctor was not busy at release")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, m *MatchRequest, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["status"] = m.Status
	ev := events.Event{
		Type:       eventType,
		RequestID:  m.ID.String(),
		PatientID:  m.PatientID.String(),
		Data:       data,
		OccurredAt: s.clock(),
	}
	if m.HasDoctor() {
		ev.DoctorID = m.DoctorID.String()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("request_id", ev.RequestID).Msg("event publish failed")
	}
}
