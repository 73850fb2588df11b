package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/aarogya/aarogya/internal/platform/auth"
	"github.com/aarogya/aarogya/internal/platform/events"
)

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, 8)}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c1", DoctorTopic("d1"))

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(DoctorTopic("d1")) != 1 {
		t.Fatalf("expected client registered on doctor topic")
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(DoctorTopic("d1")) != 0 {
		t.Fatalf("expected hub to be empty after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel to be closed")
	}

	hub.Unregister(client)
}

func TestTopicsFor(t *testing.T) {
	if got := TopicsFor("u1", []string{auth.RoleDoctor}); len(got) != 1 || got[0] != "doctor:u1" {
		t.Errorf("unexpected doctor topics %v", got)
	}
	if got := TopicsFor("u2", []string{auth.RolePatient}); len(got) != 1 || got[0] != "patient:u2" {
		t.Errorf("unexpected patient topics %v", got)
	}
	if got := TopicsFor("u3", []string{auth.RoleAdmin}); len(got) != 0 {
		t.Errorf("admin has no personal topic, got %v", got)
	}
}

func TestHub_PublishRoutesToBothParties(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	doctor := newClient("doc", DoctorTopic("d1"))
	patient := newClient("pat", PatientTopic("p1"))
	other := newClient("other", PatientTopic("p2"))
	hub.Register(doctor)
	hub.Register(patient)
	hub.Register(other)

	ev := events.Event{Type: "match.accepted", RequestID: "r1", DoctorID: "d1", PatientID: "p1"}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, c := range []*Client{doctor, patient} {
		select {
		case data := <-c.Send:
			var got events.Event
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("invalid payload: %v", err)
			}
			if got.Type != "match.accepted" || got.RequestID != "r1" {
				t.Errorf("unexpected event %+v", got)
			}
		default:
			t.Errorf("client %s did not receive the event", c.ID)
		}
	}
	select {
	case <-other.Send:
		t.Error("unrelated patient must not receive the event")
	default:
	}
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Topics: []string{"doctor:d1"}, Send: make(chan []byte, 1)}
	hub.Register(client)

	if n := hub.Broadcast("doctor:d1", []byte("a")); n != 1 {
		t.Fatalf("expected first delivery, got %d", n)
	}
	if n := hub.Broadcast("doctor:d1", []byte("b")); n != 0 {
		t.Fatalf("expected drop on full buffer, got %d", n)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient("c", DoctorTopic("shared"))
			hub.Register(c)
			hub.Broadcast(DoctorTopic("shared"), []byte("x"))
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_RejectsAnonymous(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), httptest.NewRecorder())

	err := h.HandleConnect(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_FullUpgradeDeliversEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewHandler(hub, nil)

	e := echo.New()
	g := e.Group("", auth.DevAuthMiddleware())
	handler.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	header := http.Header{}
	header.Set(auth.HeaderUserID, "doc-ws")
	header.Set(auth.HeaderUserRole, auth.RoleDoctor)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(DoctorTopic("doc-ws")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was never registered on its doctor topic")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = hub.Publish(context.Background(), events.Event{Type: "match.requested", RequestID: "r9", DoctorID: "doc-ws"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received events.Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "match.requested" || received.RequestID != "r9" {
		t.Fatalf("unexpected event %+v", received)
	}
}
