package directory

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// PendingMatchChecker reports whether a doctor is currently holding an
// unanswered instant request.
type PendingMatchChecker interface {
	HasPendingForDoctor(ctx context.Context, doctorID uuid.UUID) (bool, error)
}

type Service struct {
	doctors     DoctorRepository
	patients    PatientRepository
	connections ConnectionRepository
	pending     PendingMatchChecker
	logger      zerolog.Logger
}

func NewService(doctors DoctorRepository, patients PatientRepository, connections ConnectionRepository, logger zerolog.Logger) *Service {
	return &Service{
		doctors:     doctors,
		patients:    patients,
		connections: connections,
		logger:      logger.With().Str("component", "directory").Logger(),
	}
}

// SetPendingMatchChecker attaches the instant-request lookup used to block
// manual availability changes while a request is waiting on the doctor.
func (s *Service) SetPendingMatchChecker(c PendingMatchChecker) {
	s.pending = c
}

// -- Registration (admin seeding) --

func validateIdentity(email, firstName string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("email is invalid")
	}
	if strings.TrimSpace(firstName) == "" {
		return fmt.Errorf("first_name is required")
	}
	return nil
}

func (s *Service) RegisterDoctor(ctx context.Context, d *Doctor) error {
	if err := validateIdentity(d.Email, d.FirstName); err != nil {
		return err
	}
	if strings.TrimSpace(d.Specialization) == "" {
		return fmt.Errorf("specialization is required")
	}
	if d.AvailabilityStatus == "" {
		d.AvailabilityStatus = Offline
	}
	if !d.AvailabilityStatus.Valid() {
		return ErrInvalidStatus
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) RegisterPatient(ctx context.Context, p *Patient) error {
	if err := validateIdentity(p.Email, p.FirstName); err != nil {
		return err
	}
	p.DoctorIDs = lo.Uniq(p.DoctorIDs)
	return s.patients.Create(ctx, p)
}

// ConnectPatient adds doctorID to the patient's connected doctors. Connecting
// twice is a no-op.
func (s *Service) ConnectPatient(ctx context.Context, patientID, doctorID uuid.UUID) error {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return err
	}
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return err
	}
	return s.patients.Connect(ctx, patientID, doctorID)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// -- Platform vetting --

func (s *Service) AuthorizeDoctor(ctx context.Context, id uuid.UUID) error {
	if err := s.doctors.SetAuthorized(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("doctor_id", id.String()).Msg("doctor authorized")
	return nil
}

func (s *Service) ListUnauthorizedDoctors(ctx context.Context) ([]*Doctor, error) {
	return s.doctors.ListUnauthorized(ctx)
}

func (s *Service) ListPublicDoctors(ctx context.Context) ([]PublicProfile, error) {
	doctors, err := s.doctors.ListPublic(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(doctors, func(d *Doctor, _ int) PublicProfile { return d.PublicProfile() }), nil
}

// -- Doctor self-service --

// leaveBusy refuses to move d off busy while it holds a pending instant
// request. The lookup may expire a stale request and release the doctor, so
// the returned doctor is re-read whenever the check ran.
func (s *Service) leaveBusy(ctx context.Context, d *Doctor) (*Doctor, error) {
	if d.AvailabilityStatus != Busy || s.pending == nil {
		return d, nil
	}
	held, err := s.pending.HasPendingForDoctor(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("check pending requests: %w", err)
	}
	if held {
		return nil, ErrPendingMatch
	}
	return s.doctors.GetByID(ctx, d.ID)
}

// SetAvailability is the doctor's manual toggle. Going available requires a
// public profile, and a doctor with a pending instant request cannot step
// away from busy until it is answered or expires.
//
// A pending request only exists after a Claim, which needs the doctor to be
// available. The write is therefore conditional on the status read here: a
// Claim landing in between makes it a no-op and yields ErrStatusChanged.
func (s *Service) SetAvailability(ctx context.Context, doctorID uuid.UUID, status Availability) (*Doctor, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	d, err := s.doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if status == Available && !d.IsPublic {
		return nil, ErrProfilePrivate
	}
	if status != Busy {
		if d, err = s.leaveBusy(ctx, d); err != nil {
			return nil, err
		}
	}
	ok, err := s.doctors.SetAvailability(ctx, doctorID, d.AvailabilityStatus, status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStatusChanged
	}
	s.logger.Info().Str("doctor_id", doctorID.String()).Str("status", string(status)).Msg("availability changed")
	d.AvailabilityStatus = status
	return d, nil
}

// SetPublic toggles discovery. Only authorized doctors may go public; going
// private takes the doctor offline under the same conditional write as
// SetAvailability.
func (s *Service) SetPublic(ctx context.Context, doctorID uuid.UUID, isPublic bool) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if isPublic && !d.IsAuthorized {
		return nil, ErrNotAuthorized
	}
	if !isPublic {
		if d, err = s.leaveBusy(ctx, d); err != nil {
			return nil, err
		}
	}
	ok, err := s.doctors.SetPublic(ctx, doctorID, isPublic, d.AvailabilityStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStatusChanged
	}
	return s.doctors.GetByID(ctx, doctorID)
}

// -- Matching primitives --

// FindAvailable returns the first eligible doctor matching q, or nil.
func (s *Service) FindAvailable(ctx context.Context, q DoctorQuery) (*Doctor, error) {
	return s.doctors.FindAvailable(ctx, q)
}

// ListAvailableConnected returns the patient's connected doctors that are
// eligible right now, in the order they were connected.
func (s *Service) ListAvailableConnected(ctx context.Context, patientID uuid.UUID) ([]*Doctor, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if len(p.DoctorIDs) == 0 {
		return nil, nil
	}
	available, err := s.doctors.ListAvailableByIDs(ctx, p.DoctorIDs)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(available, func(d *Doctor) uuid.UUID { return d.ID })
	return lo.FilterMap(p.DoctorIDs, func(id uuid.UUID, _ int) (*Doctor, bool) {
		d, ok := byID[id]
		return d, ok
	}), nil
}

// Claim flips the doctor from available to busy. Only one concurrent caller
// can get true for the same doctor.
func (s *Service) Claim(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	return s.doctors.Claim(ctx, doctorID)
}

// Release flips a busy doctor back to available. Releasing a doctor that is
// not busy returns false and changes nothing.
func (s *Service) Release(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	released, err := s.doctors.Release(ctx, doctorID)
	if err != nil {
		return false, err
	}
	if released {
		s.logger.Debug().Str("doctor_id", doctorID.String()).Msg("doctor released")
	}
	return released, nil
}

// -- Connection requests --

// RequestConnection lets an authorized doctor ask a patient to connect. A
// patient already linked to the doctor, or a request still waiting on the
// patient, is refused.
func (s *Service) RequestConnection(ctx context.Context, doctorID, patientID uuid.UUID) (*ConnectionRequest, error) {
	d, err := s.doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !d.IsAuthorized {
		return nil, ErrNotAuthorized
	}
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if slices.Contains(p.DoctorIDs, doctorID) {
		return nil, ErrAlreadyConnected
	}
	open, err := s.connections.FindOpen(ctx, doctorID, patientID)
	if err != nil {
		return nil, fmt.Errorf("find open connection: %w", err)
	}
	if open != nil {
		if open.Status == ConnectionAccepted {
			return nil, ErrAlreadyConnected
		}
		return nil, ErrConnectionPending
	}

	req := &ConnectionRequest{
		ID:             uuid.New(),
		DoctorID:       doctorID,
		PatientID:      patientID,
		DoctorName:     d.DisplayName(),
		Specialization: d.Specialization,
		Status:         ConnectionPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.connections.Create(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Str("patient_id", patientID.String()).
		Msg("connection requested")
	return req, nil
}

func (s *Service) ListPendingConnections(ctx context.Context, patientID uuid.UUID) ([]*ConnectionRequest, error) {
	return s.connections.ListPendingForPatient(ctx, patientID)
}

// AcceptConnection links the patient to the requesting doctor.
func (s *Service) AcceptConnection(ctx context.Context, patientID, requestID uuid.UUID) (*ConnectionRequest, error) {
	return s.respondConnection(ctx, patientID, requestID, ConnectionAccepted)
}

func (s *Service) RejectConnection(ctx context.Context, patientID, requestID uuid.UUID) (*ConnectionRequest, error) {
	return s.respondConnection(ctx, patientID, requestID, ConnectionRejected)
}

func (s *Service) respondConnection(ctx context.Context, patientID, requestID uuid.UUID, to ConnectionStatus) (*ConnectionRequest, error) {
	req, err := s.connections.Respond(ctx, requestID, patientID, to, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("request_id", requestID.String()).
		Str("patient_id", patientID.String()).
		Str("status", string(to)).
		Msg("connection answered")
	return req, nil
}

// ListConnectedDoctors returns the public profile of every doctor linked to
// the patient, whatever their availability.
func (s *Service) ListConnectedDoctors(ctx context.Context, patientID uuid.UUID) ([]PublicProfile, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]PublicProfile, 0, len(p.DoctorIDs))
	for _, id := range p.DoctorIDs {
		d, err := s.doctors.GetByID(ctx, id)
		if errors.Is(err, ErrDoctorNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d.PublicProfile())
	}
	return out, nil
}
