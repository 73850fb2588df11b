package instant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aarogya/aarogya/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	f := newFixture(t)
	return NewHandler(f.svc), f, echo.New()
}

func asUser(req *http.Request, id uuid.UUID, role string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), id.String(), role))
}

func httpStatus(t *testing.T, err error) (int, string) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	msg, _ := he.Message.(string)
	return he.Code, msg
}

func TestHandler_RequestMatch(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.addDoctor(t, "Heart", "Cardiology")

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"specialty","value":"Cardiology"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asUser(req, f.patient.ID, auth.RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.RequestMatch(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["doctor_name"] != "Dr. Heart" || body["specialty"] != "Cardiology" || body["request_id"] == "" {
		t.Errorf("unexpected body %v", body)
	}
	if body["message"] != "Doctor found! Waiting for acceptance..." {
		t.Errorf("unexpected message %v", body["message"])
	}
}

func TestHandler_RequestMatch_NoDoctor(t *testing.T) {
	h, f, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"specialty","value":"Dermatology"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asUser(req, f.patient.ID, auth.RolePatient)
	c := e.NewContext(req, httptest.NewRecorder())

	code, msg := httpStatus(t, h.RequestMatch(c))
	if code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
	if msg != "No Dermatology is currently online. Please try again in a moment." {
		t.Errorf("unexpected detail %q", msg)
	}
}

func TestHandler_RequestMatch_BadType(t *testing.T) {
	h, f, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"doctor","value":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asUser(req, f.patient.ID, auth.RolePatient)
	c := e.NewContext(req, httptest.NewRecorder())

	if code, _ := httpStatus(t, h.RequestMatch(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_PollIncoming(t *testing.T) {
	h, f, e := newTestHandler(t)
	d := f.addDoctor(t, "Heart", "Cardiology")

	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), d.ID, auth.RoleDoctor)
	rec := httptest.NewRecorder()
	if err := h.PollIncoming(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"has_request":false}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	res := f.request(t, SpecialtyNeed{Specialty: "Cardiology"})
	req = asUser(httptest.NewRequest(http.MethodGet, "/", nil), d.ID, auth.RoleDoctor)
	rec = httptest.NewRecorder()
	if err := h.PollIncoming(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["has_request"] != true || body["request_id"] != res.RequestID.String() {
		t.Errorf("unexpected body %v", body)
	}
	if body["symptoms"] != DirectRequest || body["severity"] != "High" || body["patient_name"] != "Ravi Kumar" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHandler_PollStatus(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.addDoctor(t, "Heart", "Cardiology")
	res := f.request(t, SpecialtyNeed{Specialty: "Cardiology"})

	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), f.patient.ID, auth.RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(res.RequestID.String())

	if err := h.PollStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var view StatusView
	_ = json.Unmarshal(rec.Body.Bytes(), &view)
	if view.Status != StatusPending || view.DoctorName != "Dr. Heart" {
		t.Errorf("unexpected view %+v", view)
	}

	c = e.NewContext(asUser(httptest.NewRequest(http.MethodGet, "/", nil), f.patient.ID, auth.RolePatient), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("garbage")
	if code, msg := httpStatus(t, h.PollStatus(c)); code != http.StatusNotFound || msg != "Request not found" {
		t.Errorf("expected 404 Request not found, got %d %q", code, msg)
	}
}

func TestHandler_AcceptAndReject(t *testing.T) {
	h, f, e := newTestHandler(t)
	d := f.addDoctor(t, "Heart", "Cardiology")
	res := f.request(t, SpecialtyNeed{Specialty: "Cardiology"})

	req := asUser(httptest.NewRequest(http.MethodPost, "/", nil), d.ID, auth.RoleDoctor)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(res.RequestID.String())
	if err := h.Accept(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["message"] != "Accepted" || !strings.HasPrefix(body["meet_link"], "https://meet.test/") {
		t.Errorf("unexpected body %v", body)
	}

	c = e.NewContext(asUser(httptest.NewRequest(http.MethodPost, "/", nil), d.ID, auth.RoleDoctor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(res.RequestID.String())
	if code, msg := httpStatus(t, h.Reject(c)); code != http.StatusNotFound || msg != "Request not found or expired" {
		t.Errorf("reject after accept: got %d %q", code, msg)
	}
}

func TestHandler_Accept_LinkFailure(t *testing.T) {
	h, f, e := newTestHandler(t)
	d := f.addDoctor(t, "Heart", "Cardiology")
	res := f.request(t, SpecialtyNeed{Specialty: "Cardiology"})
	f.meet.fail = true

	c := e.NewContext(asUser(httptest.NewRequest(http.MethodPost, "/", nil), d.ID, auth.RoleDoctor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(res.RequestID.String())
	if code, _ := httpStatus(t, h.Accept(c)); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
}

func TestHandler_Reject(t *testing.T) {
	h, f, e := newTestHandler(t)
	d := f.addDoctor(t, "Heart", "Cardiology")
	res := f.request(t, SpecialtyNeed{Specialty: "Cardiology"})

	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(httptest.NewRequest(http.MethodPost, "/", nil), d.ID, auth.RoleDoctor), rec)
	c.SetParamNames("id")
	c.SetParamValues(res.RequestID.String())
	if err := h.Reject(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"Rejected"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Complete(t *testing.T) {
	h, f, e := newTestHandler(t)
	d := f.addDoctor(t, "Heart", "Cardiology")
	res := f.request(t, SpecialtyNeed{Specialty: "Cardiology"})
	if _, err := f.svc.Accept(context.Background(), d.ID, res.RequestID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(httptest.NewRequest(http.MethodPost, "/", nil), d.ID, auth.RoleDoctor), rec)
	c.SetParamNames("id")
	c.SetParamValues(res.RequestID.String())
	if err := h.Complete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"completed"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c = e.NewContext(asUser(httptest.NewRequest(http.MethodPost, "/", nil), d.ID, auth.RoleDoctor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(res.RequestID.String())
	if code, _ := httpStatus(t, h.Complete(c)); code != http.StatusNotFound {
		t.Errorf("second completion: expected 404, got %d", code)
	}
}

func TestHandler_CancelAndHistory(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.addDoctor(t, "Heart", "Cardiology")
	res := f.request(t, SpecialtyNeed{Specialty: "Cardiology"})

	c := e.NewContext(asUser(httptest.NewRequest(http.MethodPost, "/", nil), f.patient.ID, auth.RolePatient), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(res.RequestID.String())
	if err := h.Cancel(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	c = e.NewContext(asUser(httptest.NewRequest(http.MethodGet, "/?limit=5", nil), f.patient.ID, auth.RolePatient), rec)
	if err := h.History(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data  []MatchRequest `json:"data"`
		Total int            `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || page.Data[0].Status != StatusCancelled {
		t.Errorf("unexpected history %+v", page)
	}
}

func TestHandler_Routes(t *testing.T) {
	h, f, e := newTestHandler(t)
	d := f.addDoctor(t, "Heart", "Cardiology")
	api := e.Group("/api/v1", auth.DevAuthMiddleware())
	h.RegisterRoutes(api)

	// A doctor may not place patient requests.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instant/request", strings.NewReader(`{"type":"specialty","value":"Cardiology"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(auth.HeaderUserID, d.ID.String())
	req.Header.Set(auth.HeaderUserRole, auth.RoleDoctor)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/instant/request", strings.NewReader(`{"type":"specialty","value":"Cardiology"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(auth.HeaderUserID, f.patient.ID.String())
	req.Header.Set(auth.HeaderUserRole, auth.RolePatient)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	f.clock.Advance(61 * time.Second)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/instant/incoming", nil)
	req.Header.Set(auth.HeaderUserID, d.ID.String())
	req.Header.Set(auth.HeaderUserRole, auth.RoleDoctor)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"has_request":false`) {
		t.Errorf("expired request should not be offered: %s", rec.Body.String())
	}
}
