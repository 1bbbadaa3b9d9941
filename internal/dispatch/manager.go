package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/hannesill/vitrine/internal/card"
	"github.com/hannesill/vitrine/internal/study"
)

// Broadcaster is the subset of *server.Hub dispatch needs. Defined here
// (not in server) so dispatch never imports server — server imports
// dispatch instead, avoiding a cycle.
type Broadcaster interface {
	BroadcastCardAdd(study string, c *card.Card)
	BroadcastCardUpdate(study string, c *card.Card)
	BroadcastAgentEvent(study, eventType string, cardID, task, errMsg string)
}

// ErrResourceExhausted is returned by Run when MaxConcurrent dispatches are
// already running.
var ErrResourceExhausted = fmt.Errorf("maximum %d concurrent agents reached", MaxConcurrent)

// ErrNotPending is returned by Run when the target dispatch isn't pending.
var ErrNotPending = fmt.Errorf("dispatch is not pending")

// Manager owns every in-flight and completed dispatch for the process
// lifetime, with a serialized spawn path and a running-dispatch map.
type Manager struct {
	mu         sync.Mutex
	dispatches map[string]*Info // card id -> info

	studies   *study.Manager
	hub       Broadcaster
	skillsDir string

	stopWatchdog chan struct{}
}

// NewManager builds a dispatch Manager bound to studies and hub.
func NewManager(studies *study.Manager, hub Broadcaster, skillsDir string) *Manager {
	return &Manager{
		dispatches:   map[string]*Info{},
		studies:      studies,
		hub:          hub,
		skillsDir:    skillsDir,
		stopWatchdog: make(chan struct{}),
	}
}

func (m *Manager) runningCount() int {
	n := 0
	for _, d := range m.dispatches {
		if d.snapshotStatus() == Running {
			n++
		}
	}
	return n
}

// Create builds a new pending AGENT card for task in study label, persists
// it, and broadcasts display.add.
func (m *Manager) Create(studyLabel, task string) (*Info, *card.Card, error) {
	cfg, ok := DefaultTaskConfig[task]
	if !ok {
		return nil, nil, fmt.Errorf("unknown dispatch task: %q", task)
	}

	c := card.New(card.Agent)
	c.Study = studyLabel
	c.Title = cfg.Title
	c.Preview = BuildPreview(m.skillsDir, task, string(Pending), "sonnet", "", nil)

	dirName, store, err := m.studies.GetOrCreateStudy(studyLabel)
	if err != nil {
		return nil, nil, err
	}
	if err := store.AppendCard(c); err != nil {
		return nil, nil, err
	}
	m.studies.RegisterCard(c.ID, dirName)

	info := newInfo(task, studyLabel, c.ID)
	info.Preview = c.Preview

	m.mu.Lock()
	m.dispatches[c.ID] = info
	m.mu.Unlock()

	if m.hub != nil {
		m.hub.BroadcastCardAdd(studyLabel, c)
	}
	return info, c, nil
}

// RunConfig carries the optional overrides a researcher may supply to
// POST /api/agents/{id}/run.
type RunConfig struct {
	Model            string
	Budget           *int
	AdditionalPrompt string
}

// Run transitions a pending dispatch to running: validates concurrency and
// CLI availability, builds the sandbox/paper workspace if needed, spawns
// the child, and starts the stream monitor.
func (m *Manager) Run(cardID string, cfg RunConfig) error {
	m.mu.Lock()
	info, ok := m.dispatches[cardID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no agent dispatch found: %s", cardID)
	}
	if info.snapshotStatus() != Pending {
		m.mu.Unlock()
		return ErrNotPending
	}
	if m.runningCount() >= MaxConcurrent {
		m.mu.Unlock()
		return ErrResourceExhausted
	}
	// Reserve the slot by marking this dispatch Running before releasing
	// m.mu, so a concurrent Run() call's runningCount() check sees it.
	info.setStatus(Running)
	m.mu.Unlock()

	revertToPending := func() {
		info.setStatus(Pending)
	}

	cliPath, err := FindCLI("claude")
	if err != nil {
		revertToPending()
		return err
	}

	info.mu.Lock()
	if cfg.Model != "" {
		info.Model = cfg.Model
	}
	if cfg.Budget != nil {
		info.Budget = cfg.Budget
	}
	if cfg.AdditionalPrompt != "" {
		info.AdditionalPrompt = cfg.AdditionalPrompt
	}
	model, budget, additional := info.Model, info.Budget, info.AdditionalPrompt
	info.mu.Unlock()

	taskCfg := DefaultTaskConfig[info.Task]

	var workDir string
	switch info.Task {
	case "reproduce":
		if dir := m.studies.GetOutputDir(info.Study); dir != "" {
			sandbox, err := CreateSandbox(dir)
			if err == nil {
				workDir = sandbox
				info.mu.Lock()
				info.Extra["sandbox"] = sandbox
				info.mu.Unlock()
			}
		}
	case "paper":
		if dir := m.studies.GetOutputDir(info.Study); dir != "" {
			paperDir, copied, err := CreatePaperWorkspace(dir)
			if err == nil {
				workDir = paperDir
				info.mu.Lock()
				info.Extra["paper_workspace"] = paperDir
				info.Extra["paper_copies"] = joinCSV(copied)
				info.mu.Unlock()
			}
		}
	}

	prompt, err := BuildPrompt(m.skillsDir, info.Task, info.Study, m.studies, workDir, additional)
	if err != nil {
		revertToPending()
		return err
	}

	args := BuildArgs(cliPath, model, taskCfg.Tools, budget)
	proc, err := Spawn(args, prompt)
	if err != nil {
		revertToPending()
		return err
	}

	now := nowISO()
	info.mu.Lock()
	info.Process = proc
	info.Status = Running
	info.StartedAt = now
	info.LastActivityAt = now
	info.Usage = Usage{ContextWindow: ModelContextWindows[model]}
	info.mu.Unlock()

	m.persistUpdate(info, map[string]any{
		"status":           string(Running),
		"model":            model,
		"additional_prompt": additional,
		"budget":           budgetAny(budget),
		"started_at":       now,
		"last_activity_at": now,
		"output":           "*Agent starting...*",
		"usage": map[string]any{
			"input_tokens": 0, "output_tokens": 0,
			"context_window": ModelContextWindows[model], "cost_usd": nil,
		},
	}, taskCfg.Title)

	if m.hub != nil {
		m.hub.BroadcastAgentEvent(info.Study, "agent.started", info.CardID, info.Task, "")
	}

	go m.monitor(info, proc, taskCfg.Title)

	return nil
}

func budgetAny(b *int) any {
	if b == nil {
		return nil
	}
	return *b
}

func joinCSV(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }
