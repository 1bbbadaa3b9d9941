package vclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hannesill/vitrine/internal/discovery"
)

func newTestRemoteClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	info := &discovery.ServerInfo{APIBaseURL: ts.URL, Token: "remote-token"}
	return &Client{info: info, remote: newRemoteTransport(info)}, ts
}

func TestRemotePostCommandSendsBearerToken(t *testing.T) {
	var gotAuth string
	c, _ := newTestRemoteClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/command" {
			t.Errorf("path = %s, want /api/command", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	if err := c.remote.postCommand(map[string]any{"type": "card", "study": "cohort-a"}); err != nil {
		t.Fatalf("postCommand: %v", err)
	}
	if gotAuth != "Bearer remote-token" {
		t.Errorf("Authorization header = %q, want Bearer remote-token", gotAuth)
	}
}

func TestRemoteWaitForDecodesResponse(t *testing.T) {
	c, _ := newTestRemoteClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/response/card-1" {
			t.Errorf("path = %s, want /api/response/card-1", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"action": "confirm", "card_id": "card-1"})
	}))

	result, err := c.WaitFor("card-1", time.Second)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result type = %T, want map[string]any", result)
	}
	if m["action"] != "confirm" {
		t.Errorf("action = %v, want confirm", m["action"])
	}
}

func TestRemoteWaitForTimesOutOnTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer ts.Close()
	info := &discovery.ServerInfo{APIBaseURL: ts.URL, Token: "tok"}
	c := &Client{info: info, remote: newRemoteTransport(info)}

	result, err := c.WaitFor("card-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	m := result.(map[string]any)
	if m["action"] != "timeout" {
		t.Errorf("action = %v, want timeout", m["action"])
	}
}

func TestRemoteGetSelectionDecodesPage(t *testing.T) {
	c, _ := newTestRemoteClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/table/card-1/selection" {
			t.Errorf("path = %s, want /api/table/card-1/selection", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"Columns":   []string{"a"},
			"Rows":      [][]any{{1}},
			"TotalRows": 1,
		})
	}))

	page, err := c.GetSelection("card-1")
	if err != nil {
		t.Fatalf("GetSelection: %v", err)
	}
	if page.TotalRows != 1 || len(page.Rows) != 1 {
		t.Errorf("page = %+v, want 1 row", page)
	}
}

func TestRemoteOnEventPollsAndDispatches(t *testing.T) {
	var hits int32
	c, _ := newTestRemoteClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events" {
			t.Errorf("path = %s, want /api/events", r.URL.Path)
		}
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			json.NewEncoder(w).Encode([]map[string]any{{"event_type": "custom", "card_id": "c1"}})
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{})
	}))

	received := make(chan map[string]any, 1)
	c.OnEvent(func(ev map[string]any) { received <- ev })

	select {
	case ev := <-received:
		if ev["card_id"] != "c1" {
			t.Errorf("card_id = %v, want c1", ev["card_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the poller to dispatch the queued event")
	}
}
