package emergency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aarogya/aarogya/internal/domain/directory"
	"github.com/aarogya/aarogya/internal/domain/instant"
	"github.com/aarogya/aarogya/internal/platform/events"
	"github.com/aarogya/aarogya/internal/platform/meet"
	"github.com/aarogya/aarogya/internal/platform/notify"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	alerts []notify.Alert
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, a notify.Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, a)
	return d.err
}

type failingNotes struct{ *NotificationRepoMemory }

func (failingNotes) Create(context.Context, *Notification) error { return errors.New("disk full") }

type brokenMeet struct{}

func (brokenMeet) CreateMeetingLink(context.Context, meet.Request) (string, error) {
	return "", errors.New("calendar down")
}

type fixture struct {
	svc        *Service
	dir        *directory.Service
	matches    *instant.MatchRepoMemory
	notes      *NotificationRepoMemory
	dispatcher *recordingDispatcher
	recorder   *events.Recorder
	patient    *directory.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	patients := directory.NewPatientRepoMemory()
	dir := directory.NewService(directory.NewDoctorRepoMemory(), patients, directory.NewConnectionRepoMemory(patients), zerolog.Nop())
	matches := instant.NewMatchRepoMemory()
	notes := NewNotificationRepoMemory()
	provisioner := meet.Fallback{brokenMeet{}, meet.RoomLink{BaseURL: "https://rooms.test"}}

	svc := NewService(dir, matches, notes, provisioner, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	disp := &recordingDispatcher{}
	rec := &events.Recorder{}
	svc.SetDispatcher(disp)
	svc.SetPublisher(rec)

	p := &directory.Patient{Email: "ravi@patients.test", FirstName: "Ravi", LastName: "Kumar"}
	if err := dir.RegisterPatient(context.Background(), p); err != nil {
		t.Fatalf("RegisterPatient: %v", err)
	}
	return &fixture{svc: svc, dir: dir, matches: matches, notes: notes, dispatcher: disp, recorder: rec, patient: p}
}

func (f *fixture) addDoctor(t *testing.T, last, spec string) *directory.Doctor {
	t.Helper()
	d := &directory.Doctor{
		Email:              uuid.NewString() + "@doctors.test",
		FirstName:          "Dr",
		LastName:           last,
		Specialization:     spec,
		AvailabilityStatus: directory.Available,
		IsPublic:           true,
		IsAuthorized:       true,
	}
	if err := f.dir.RegisterDoctor(context.Background(), d); err != nil {
		t.Fatalf("RegisterDoctor: %v", err)
	}
	return d
}

func TestAlert_PrefersConnectedDoctor(t *testing.T) {
	f := newFixture(t)
	f.addDoctor(t, "Gen", "General Physician")
	own := f.addDoctor(t, "Own", "Cardiology")
	_ = f.dir.ConnectPatient(context.Background(), f.patient.ID, own.ID)

	res, err := f.svc.Alert(context.Background(), f.patient.ID, AlertInput{Location: "12.97,77.59"})
	if err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if res.Status != StatusAlertSent || !res.ResponderFound || res.Notified != "Dr. Own" {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.MeetLink, "https://rooms.test/aarogya-") {
		t.Errorf("expected fallback room link, got %q", res.MeetLink)
	}

	m, err := f.matches.GetByID(context.Background(), res.RequestID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if m.Kind != instant.KindEmergency || m.Status != instant.StatusAccepted || m.MeetLink != res.MeetLink || m.DoctorID != own.ID {
		t.Errorf("unexpected record %+v", m)
	}
	if m.Location != "12.97,77.59" {
		t.Errorf("expected location to be stored, got %q", m.Location)
	}

	d, _ := f.dir.GetDoctor(context.Background(), own.ID)
	if d.AvailabilityStatus != directory.Busy {
		t.Error("responder should be claimed")
	}

	notes, total, _ := f.notes.ListByUser(context.Background(), own.ID, 10, 0)
	if total != 1 || notes[0].Kind != KindEmergencyAlert || notes[0].RequestID != m.ID {
		t.Errorf("expected one emergency notification, got %+v", notes)
	}
	if len(f.dispatcher.alerts) != 1 || f.dispatcher.alerts[0].ResponderID != own.ID.String() {
		t.Errorf("expected page to responder, got %+v", f.dispatcher.alerts)
	}
	evs := f.recorder.Events()
	if len(evs) != 1 || evs[0].Type != EventAlert || evs[0].DoctorID != own.ID.String() {
		t.Errorf("unexpected events %+v", evs)
	}
}

func TestAlert_FallsBackToGeneralOrParamedic(t *testing.T) {
	f := newFixture(t)
	f.addDoctor(t, "Skin", "Dermatology")
	medic := f.addDoctor(t, "Medic", "Paramedic")

	res, err := f.svc.Alert(context.Background(), f.patient.ID, AlertInput{})
	if err != nil {
		t.Fatalf("Alert: %v", err)
	}
	m, _ := f.matches.GetByID(context.Background(), res.RequestID)
	if m.DoctorID != medic.ID {
		t.Errorf("expected paramedic responder, got %s", m.DoctorID)
	}
	if m.Location != DefaultLocation {
		t.Errorf("expected default location, got %q", m.Location)
	}
}

func TestAlert_ConnectedButBusyFallsBack(t *testing.T) {
	f := newFixture(t)
	own := f.addDoctor(t, "Own", "Cardiology")
	_ = f.dir.ConnectPatient(context.Background(), f.patient.ID, own.ID)
	_, _ = f.dir.Claim(context.Background(), own.ID)
	gp := f.addDoctor(t, "Gen", "General Physician")

	res, err := f.svc.Alert(context.Background(), f.patient.ID, AlertInput{})
	if err != nil {
		t.Fatalf("Alert: %v", err)
	}
	m, _ := f.matches.GetByID(context.Background(), res.RequestID)
	if m.DoctorID != gp.ID {
		t.Errorf("expected general physician, got %s", m.DoctorID)
	}
}

func TestAlert_NoResponderStillGetsLink(t *testing.T) {
	f := newFixture(t)
	f.svc.SetFallbackContact("112 (Emergency)")

	res, err := f.svc.Alert(context.Background(), f.patient.ID, AlertInput{})
	if err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if res.ResponderFound || res.MeetLink == "" || res.Notified != "112 (Emergency)" {
		t.Errorf("unexpected result %+v", res)
	}
	m, _ := f.matches.GetByID(context.Background(), res.RequestID)
	if m.HasDoctor() || m.Status != instant.StatusAccepted {
		t.Errorf("unexpected record %+v", m)
	}
	if len(f.dispatcher.alerts) != 1 {
		t.Error("the page still goes out without a responder")
	}
}

func TestAlert_NotificationFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	f.addDoctor(t, "Gen", "General Physician")
	f.svc.notes = failingNotes{f.notes}
	f.dispatcher.err = errors.New("queue unavailable")

	res, err := f.svc.Alert(context.Background(), f.patient.ID, AlertInput{})
	if err != nil {
		t.Fatalf("notification failures must not fail the alert: %v", err)
	}
	if !res.ResponderFound {
		t.Error("expected responder")
	}
}

func TestAlert_LinkFailureReleasesResponder(t *testing.T) {
	f := newFixture(t)
	gp := f.addDoctor(t, "Gen", "General Physician")
	f.svc.meet = brokenMeet{}

	_, err := f.svc.Alert(context.Background(), f.patient.ID, AlertInput{})
	if !errors.Is(err, instant.ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	d, _ := f.dir.GetDoctor(context.Background(), gp.ID)
	if d.AvailabilityStatus != directory.Available {
		t.Error("responder must be released when no link could be made")
	}
	if f.matches.Count() != 0 {
		t.Error("no record expected")
	}
}

func TestAlert_UnknownPatient(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Alert(context.Background(), uuid.New(), AlertInput{}); !errors.Is(err, ErrUnknownPatient) {
		t.Errorf("expected ErrUnknownPatient, got %v", err)
	}
}

func TestNotifications_ListAndMarkRead(t *testing.T) {
	f := newFixture(t)
	gp := f.addDoctor(t, "Gen", "General Physician")
	if _, err := f.svc.Alert(context.Background(), f.patient.ID, AlertInput{}); err != nil {
		t.Fatal(err)
	}

	items, total, err := f.svc.ListNotifications(context.Background(), gp.ID, 10, 0)
	if err != nil || total != 1 || items[0].IsRead {
		t.Fatalf("unexpected notifications %+v err %v", items, err)
	}
	if err := f.svc.MarkNotificationRead(context.Background(), f.patient.ID, items[0].ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("other users cannot mark it read, got %v", err)
	}
	if err := f.svc.MarkNotificationRead(context.Background(), gp.ID, items[0].ID); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	items, _, _ = f.svc.ListNotifications(context.Background(), gp.ID, 10, 0)
	if !items[0].IsRead {
		t.Error("expected notification to be read")
	}
}

func TestAlert_ResponderFreedWhenConsultationCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	responder := f.addDoctor(t, "Para", "Paramedic")
	consults := instant.NewService(f.matches, f.dir, nil, brokenMeet{}, zerolog.Nop())

	res, err := f.svc.Alert(ctx, f.patient.ID, AlertInput{})
	if err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if d, _ := f.dir.GetDoctor(ctx, responder.ID); d.AvailabilityStatus != directory.Busy {
		t.Fatalf("responder should be claimed, got %s", d.AvailabilityStatus)
	}

	m, err := consults.Complete(ctx, responder.ID, res.RequestID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if m.Kind != instant.KindEmergency || m.Status != instant.StatusCompleted {
		t.Errorf("unexpected record %+v", m)
	}
	d, _ := f.dir.GetDoctor(ctx, responder.ID)
	if d.AvailabilityStatus != directory.Available {
		t.Errorf("responder should be available after completion, got %s", d.AvailabilityStatus)
	}
}
