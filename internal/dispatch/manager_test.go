package dispatch

import (
	"testing"

	"github.com/hannesill/vitrine/internal/card"
	"github.com/hannesill/vitrine/internal/study"
)

type fakeHub struct {
	added, updated []*card.Card
	events         []string
}

func (f *fakeHub) BroadcastCardAdd(s string, c *card.Card)    { f.added = append(f.added, c) }
func (f *fakeHub) BroadcastCardUpdate(s string, c *card.Card) { f.updated = append(f.updated, c) }
func (f *fakeHub) BroadcastAgentEvent(s, eventType, cardID, task, errMsg string) {
	f.events = append(f.events, eventType)
}

func newTestManager(t *testing.T) (*Manager, *fakeHub) {
	t.Helper()
	mgr, err := study.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("study.NewManager: %v", err)
	}
	hub := &fakeHub{}
	return NewManager(mgr, hub, t.TempDir()), hub
}

func TestCreateAppendsPendingAgentCardAndBroadcasts(t *testing.T) {
	m, hub := newTestManager(t)

	info, c, err := m.Create("mystudy", "reproduce")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Status != Pending {
		t.Fatalf("status = %v, want pending", info.Status)
	}
	if c.Type != card.Agent {
		t.Fatalf("card type = %v, want agent", c.Type)
	}
	if len(hub.added) != 1 || hub.added[0].ID != c.ID {
		t.Fatalf("expected display.add broadcast for the new card")
	}
	if status, _ := c.Preview["status"].(string); status != "pending" {
		t.Fatalf("preview status = %v", c.Preview["status"])
	}
}

func TestCreateUnknownTaskFails(t *testing.T) {
	m, _ := newTestManager(t)
	if _, _, err := m.Create("s", "no-such-task"); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestRunRejectsNonPendingDispatch(t *testing.T) {
	m, _ := newTestManager(t)
	info, _, err := m.Create("s", "report")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	info.setStatus(Running)

	if err := m.Run(info.CardID, RunConfig{}); err != ErrNotPending {
		t.Fatalf("Run() = %v, want ErrNotPending", err)
	}
}

func TestRunRejectsAtConcurrencyCap(t *testing.T) {
	m, _ := newTestManager(t)
	info, _, err := m.Create("s", "report")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < MaxConcurrent; i++ {
		m.dispatches[card.NewID()] = &Info{Status: Running}
	}

	if err := m.Run(info.CardID, RunConfig{}); err != ErrResourceExhausted {
		t.Fatalf("Run() = %v, want ErrResourceExhausted", err)
	}
}

func TestCancelOnNonRunningDispatchReturnsFalse(t *testing.T) {
	m, _ := newTestManager(t)
	info, _, err := m.Create("s", "report")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Cancel(info.CardID) {
		t.Fatalf("Cancel on a pending dispatch should return false")
	}
}

func TestReconcileForceFailsOrphanedRunningCard(t *testing.T) {
	m, hub := newTestManager(t)
	_, c, err := m.Create("s", "report")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Simulate a card left "running" by a crashed process with no tracked
	// in-memory dispatch (as if the server had just restarted).
	delete(m.dispatches, c.ID)
	store := m.studies.GetStoreForCard(c.ID)
	preview := cloneAnyMap(c.Preview)
	preview["status"] = "running"
	if _, err := store.UpdateCard(c.ID, map[string]any{"preview": preview}); err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}

	fixed := m.Reconcile("s")
	if fixed != 1 {
		t.Fatalf("Reconcile fixed = %d, want 1", fixed)
	}
	if len(hub.updated) != 1 {
		t.Fatalf("expected one broadcast update")
	}
	status, _ := hub.updated[0].Preview["status"].(string)
	if status != "failed" {
		t.Fatalf("reconciled status = %v, want failed", status)
	}
}
