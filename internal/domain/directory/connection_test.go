package directory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func seedPatient(t *testing.T, svc *Service) *Patient {
	t.Helper()
	p := &Patient{Email: uuid.NewString() + "@patients.test", FirstName: "Ravi", LastName: "Kumar"}
	if err := svc.RegisterPatient(context.Background(), p); err != nil {
		t.Fatalf("RegisterPatient: %v", err)
	}
	return p
}

func TestRequestConnection(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	d := seedDoctor(t, svc, "Cardiology", Offline)
	p := seedPatient(t, svc)

	req, err := svc.RequestConnection(ctx, d.ID, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Status != ConnectionPending || req.DoctorName != "Dr. Rao" || req.Specialization != "Cardiology" {
		t.Errorf("unexpected request %+v", req)
	}

	pending, err := svc.ListPendingConnections(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListPendingConnections: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != req.ID {
		t.Errorf("expected the new request to be pending, got %+v", pending)
	}
}

func TestRequestConnection_DuplicatePending(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	d := seedDoctor(t, svc, "Cardiology", Offline)
	p := seedPatient(t, svc)

	if _, err := svc.RequestConnection(ctx, d.ID, p.ID); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := svc.RequestConnection(ctx, d.ID, p.ID); !errors.Is(err, ErrConnectionPending) {
		t.Errorf("expected ErrConnectionPending, got %v", err)
	}
}

func TestRequestConnection_ConcurrentDuplicates(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	d := seedDoctor(t, svc, "Cardiology", Offline)
	p := seedPatient(t, svc)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestConnection(ctx, d.ID, p.ID)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, ErrConnectionPending):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one request created, got %d", created)
	}
}

func TestRequestConnection_AlreadyConnected(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	d := seedDoctor(t, svc, "Cardiology", Offline)
	p := seedPatient(t, svc)

	if err := svc.ConnectPatient(ctx, p.ID, d.ID); err != nil {
		t.Fatalf("ConnectPatient: %v", err)
	}
	if _, err := svc.RequestConnection(ctx, d.ID, p.ID); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestRequestConnection_UnauthorizedDoctor(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	d := &Doctor{Email: "new@aarogya.test", FirstName: "Vik", Specialization: "Dermatology"}
	if err := svc.RegisterDoctor(ctx, d); err != nil {
		t.Fatalf("RegisterDoctor: %v", err)
	}
	p := seedPatient(t, svc)

	if _, err := svc.RequestConnection(ctx, d.ID, p.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
	if _, err := svc.RequestConnection(ctx, uuid.New(), p.ID); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}
	ok := seedDoctor(t, svc, "Cardiology", Offline)
	if _, err := svc.RequestConnection(ctx, ok.ID, uuid.New()); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestAcceptConnection_LinksPatient(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	d := seedDoctor(t, svc, "Cardiology", Available)
	p := seedPatient(t, svc)

	req, err := svc.RequestConnection(ctx, d.ID, p.ID)
	if err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}
	got, err := svc.AcceptConnection(ctx, p.ID, req.ID)
	if err != nil {
		t.Fatalf("AcceptConnection: %v", err)
	}
	if got.Status != ConnectionAccepted || got.RespondedAt == nil {
		t.Errorf("unexpected accepted request %+v", got)
	}

	available, err := svc.ListAvailableConnected(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListAvailableConnected: %v", err)
	}
	if len(available) != 1 || available[0].ID != d.ID {
		t.Errorf("expected accepted doctor to be connected, got %v", available)
	}
	connected, err := svc.ListConnectedDoctors(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListConnectedDoctors: %v", err)
	}
	if len(connected) != 1 || connected[0].ID != d.ID {
		t.Errorf("unexpected connected doctors %+v", connected)
	}

	if _, err := svc.AcceptConnection(ctx, p.ID, req.ID); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("answering twice: expected ErrConnectionNotFound, got %v", err)
	}
	if _, err := svc.RequestConnection(ctx, d.ID, p.ID); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected after accept, got %v", err)
	}
}

func TestRejectConnection(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	d := seedDoctor(t, svc, "Cardiology", Available)
	p := seedPatient(t, svc)

	req, _ := svc.RequestConnection(ctx, d.ID, p.ID)
	got, err := svc.RejectConnection(ctx, p.ID, req.ID)
	if err != nil {
		t.Fatalf("RejectConnection: %v", err)
	}
	if got.Status != ConnectionRejected {
		t.Errorf("expected rejected, got %s", got.Status)
	}
	connected, _ := svc.ListConnectedDoctors(ctx, p.ID)
	if len(connected) != 0 {
		t.Errorf("rejected request must not link, got %+v", connected)
	}
	pending, _ := svc.ListPendingConnections(ctx, p.ID)
	if len(pending) != 0 {
		t.Errorf("expected no pending requests, got %+v", pending)
	}

	// A rejected request does not block a new one.
	if _, err := svc.RequestConnection(ctx, d.ID, p.ID); err != nil {
		t.Errorf("expected a fresh request after rejection, got %v", err)
	}
}

func TestRespondConnection_OtherPatient(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	d := seedDoctor(t, svc, "Cardiology", Available)
	p := seedPatient(t, svc)
	other := seedPatient(t, svc)

	req, _ := svc.RequestConnection(ctx, d.ID, p.ID)
	if _, err := svc.AcceptConnection(ctx, other.ID, req.ID); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("expected ErrConnectionNotFound, got %v", err)
	}
	if _, err := svc.RejectConnection(ctx, p.ID, uuid.New()); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("expected ErrConnectionNotFound for unknown id, got %v", err)
	}
	pending, _ := svc.ListPendingConnections(ctx, p.ID)
	if len(pending) != 1 {
		t.Errorf("request must stay pending, got %+v", pending)
	}
}
