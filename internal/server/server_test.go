package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hannesill/vitrine/internal/card"
	"github.com/hannesill/vitrine/internal/dispatch"
	"github.com/hannesill/vitrine/internal/future"
	"github.com/hannesill/vitrine/internal/study"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	studies, err := study.NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	hub := NewHub()
	dispatchMgr := dispatch.NewManager(studies, hub, t.TempDir())
	return New(Config{
		VitrineDir: dir,
		SessionID:  "test-session",
		Token:      "test-token",
		DisplayURL: "http://localhost:0",
		Hub:        hub,
		Studies:    studies,
		Dispatch:   dispatchMgr,
		Futures:    future.NewRegistry(),
	})
}

func TestHealthReportsSessionID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["session_id"] != "test-session" {
		t.Errorf("session_id = %v, want test-session", body["session_id"])
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestCommandRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/command", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a bearer token", rec.Code)
	}
}

func postCommand(t *testing.T, s *Server, cmd map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshaling command: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/command", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestCommandAppendsAndBroadcastsCard(t *testing.T) {
	s := newTestServer(t)
	rec := postCommand(t, s, map[string]any{
		"type":  "card",
		"study": "cohort-a",
		"card": map[string]any{
			"card_type": "markdown",
			"title":     "hello",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body=%s", rec.Code, rec.Body.String())
	}

	var created card.Card
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding created card: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected the server to assign a card id")
	}

	cards, err := s.studies.ListAllCards("cohort-a")
	if err != nil {
		t.Fatalf("ListAllCards: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("expected 1 card in the study, got %d", len(cards))
	}
}

func TestCommandUnknownTypeRejected(t *testing.T) {
	s := newTestServer(t)
	rec := postCommand(t, s, map[string]any{"type": "bogus", "study": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an unknown command type", rec.Code)
	}
}

func TestWaitResponseTimesOutWithoutAnswer(t *testing.T) {
	s := newTestServer(t)
	created := postCommand(t, s, map[string]any{
		"type":  "card",
		"study": "cohort-a",
		"card":  map[string]any{"card_type": "decision", "title": "confirm?"},
	})
	var c card.Card
	if err := json.Unmarshal(created.Body.Bytes(), &c); err != nil {
		t.Fatalf("decoding created card: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/response/"+c.ID+"?timeout=0", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["action"] != "timeout" {
		t.Errorf("action = %v, want timeout", body["action"])
	}
}

func TestHandleInboundResponseEventResolvesFuture(t *testing.T) {
	s := newTestServer(t)
	_, store, err := s.studies.GetOrCreateStudy("cohort-a")
	if err != nil {
		t.Fatalf("GetOrCreateStudy: %v", err)
	}
	c := card.New(card.Decision)
	c.Study = "cohort-a"
	c.ResponseRequested = true
	if err := store.AppendCard(c); err != nil {
		t.Fatalf("AppendCard: %v", err)
	}
	s.studies.RegisterCard(c.ID, store.DirName())

	fut := s.futures.Arm(c.ID)

	frame, err := json.Marshal(map[string]any{
		"type":       "vitrine.event",
		"event_type": "response",
		"card_id":    c.ID,
		"payload":    map[string]any{"action": "confirm", "message": "yes"},
	})
	if err != nil {
		t.Fatalf("marshaling frame: %v", err)
	}
	s.handleInboundEvent(frame)

	result, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result type = %T, want map[string]any", result)
	}
	if m["action"] != "confirm" {
		t.Errorf("action = %v, want confirm", m["action"])
	}
}

func TestEventQueueDropsOldestOnOverflow(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < EventQueueCap+10; i++ {
		s.queueEvent(map[string]any{"event_type": "custom", "card_id": "x"})
	}
	s.eventMu.Lock()
	n := len(s.events)
	s.eventMu.Unlock()
	if n > EventQueueCap {
		t.Errorf("queue length = %d, want <= %d after overflow trim", n, EventQueueCap)
	}
}

func TestSelectionIndicesRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.handleSelectionEvent("card-1", map[string]any{"indices": []any{float64(0), float64(2)}})
	got := s.SelectionIndices("card-1")
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("SelectionIndices = %v, want [0 2]", got)
	}
}
