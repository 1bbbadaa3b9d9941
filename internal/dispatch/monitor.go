package dispatch

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hannesill/vitrine/internal/card"
)

// persistUpdate merges updates into info's mirrored preview, writes the
// full preview back to the study's store, and broadcasts the refreshed
// card.
func (m *Manager) persistUpdate(info *Info, updates map[string]any, title string) {
	info.mu.Lock()
	if info.Preview == nil {
		info.Preview = map[string]any{}
	}
	for k, v := range updates {
		info.Preview[k] = v
	}
	preview := cloneAnyMap(info.Preview)
	info.mu.Unlock()

	changes := map[string]any{"preview": preview}
	if title != "" {
		changes["title"] = title
	}

	store := m.studies.GetStoreForCard(info.CardID)
	if store == nil {
		return
	}
	updated, err := store.UpdateCard(info.CardID, changes)
	if err != nil || updated == nil {
		return
	}
	if m.hub != nil {
		m.hub.BroadcastCardUpdate(info.Study, updated)
	}
}

func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// monitor reads the child's merged stdout line by line, updates info's
// accumulated output with a 500ms debounce, and finalizes the dispatch on
// EOF.
func (m *Manager) monitor(info *Info, proc *ManagedProcess, title string) {
	var accumulated strings.Builder
	var finalResult string
	var usage Usage
	usage.ContextWindow = ModelContextWindows[info.Model]

	lastUpdate := time.Now()
	lineCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		for {
			line, err := proc.ReadLine()
			if line != "" {
				lineCh <- line
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

readLoop:
	for {
		select {
		case line := <-lineCh:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			kind, text, eventUsage := ParseLine(line)

			if kind == EventResult {
				finalResult = text
				if eventUsage.HasUsage {
					if eventUsage.CostUSD != nil {
						usage.CostUSD = eventUsage.CostUSD
					}
					if eventUsage.ContextWindow > 0 {
						usage.ContextWindow = eventUsage.ContextWindow
					}
					usage.InputTokens = eventUsage.InputTokens + eventUsage.CacheRead + eventUsage.CacheCreation
					usage.OutputTokens = eventUsage.OutputTokens
				}
				continue
			}

			if eventUsage.HasUsage && kind != EventIgnore {
				usage.InputTokens = eventUsage.InputTokens + eventUsage.CacheRead + eventUsage.CacheCreation
				usage.OutputTokens += eventUsage.OutputTokens
			}

			if kind == EventIgnore || text == "" {
				continue
			}

			accumulated.WriteString(text)
			now := nowISO()
			info.mu.Lock()
			info.AccumulatedOutput = accumulated.String()
			info.LastActivityAt = now
			info.Usage = usage
			info.mu.Unlock()

			if time.Since(lastUpdate) >= UpdateInterval {
				m.persistUpdate(info, map[string]any{
					"output":           accumulated.String(),
					"last_activity_at": now,
					"usage":            usageMap(usage),
				}, title)
				lastUpdate = time.Now()
			}

		case err := <-errCh:
			if err != nil && err != io.EOF {
				// Treat any other read error the same as a clean EOF —
				// the exit code from Wait is what actually classifies
				// completed vs failed.
			}
			break readLoop

		case <-time.After(StreamTimeout):
			// No stdout line within StreamTimeout: the child is hung.
			proc.Terminate()
			break readLoop
		}
	}

	exitCode := proc.Wait()
	if info.snapshotStatus() == Cancelled {
		// Cancel has already written the final card state and cleaned up.
		return
	}
	completedAt := nowISO()

	info.mu.Lock()
	startedAt := info.StartedAt
	info.CompletedAt = completedAt
	duration := durationSeconds(startedAt, completedAt)
	info.mu.Unlock()

	if exitCode == 0 {
		display := finalResult
		if strings.TrimSpace(display) == "" {
			display = accumulated.String()
		}
		if strings.TrimSpace(display) == "" {
			display = "*Agent completed with no output.*"
		}
		info.setStatus(Completed)
		m.persistUpdate(info, map[string]any{
			"status": string(Completed), "output": display,
			"completed_at": completedAt, "duration": duration, "usage": usageMap(usage),
		}, title)
		if m.hub != nil {
			m.hub.BroadcastAgentEvent(info.Study, "agent.completed", info.CardID, info.Task, "")
		}
	} else {
		errMsg := fmt.Sprintf("Process exited with code %d", exitCode)
		errorOutput := accumulated.String() + fmt.Sprintf("\n\n---\n**Error:** %s", errMsg)
		info.mu.Lock()
		info.Error = errMsg
		info.mu.Unlock()
		info.setStatus(Failed)
		m.persistUpdate(info, map[string]any{
			"status": string(Failed), "output": errorOutput,
			"completed_at": completedAt, "duration": duration, "error": errMsg, "usage": usageMap(usage),
		}, title)
		if m.hub != nil {
			m.hub.BroadcastAgentEvent(info.Study, "agent.failed", info.CardID, info.Task, errMsg)
		}
	}

	m.cleanupWorkspaces(info)
}

func usageMap(u Usage) map[string]any {
	var cost any
	if u.CostUSD != nil {
		cost = *u.CostUSD
	}
	return map[string]any{
		"input_tokens": u.InputTokens, "output_tokens": u.OutputTokens,
		"context_window": u.ContextWindow, "cost_usd": cost,
	}
}

func durationSeconds(startISO, endISO string) any {
	start, err1 := time.Parse(time.RFC3339, startISO)
	end, err2 := time.Parse(time.RFC3339, endISO)
	if err1 != nil || err2 != nil {
		return nil
	}
	return end.Sub(start).Seconds()
}

func (m *Manager) cleanupWorkspaces(info *Info) {
	info.mu.Lock()
	paperWS := info.Extra["paper_workspace"]
	paperCopies := info.Extra["paper_copies"]
	sandbox := info.Extra["sandbox"]
	info.mu.Unlock()

	if paperWS != "" && paperCopies != "" {
		CleanupPaperWorkspace(paperWS, strings.Split(paperCopies, ","))
	}
	if sandbox != "" {
		CleanupSandbox(sandbox)
	}
}

// Cancel terminates a running dispatch's child process, marks it cancelled,
// and broadcasts agent.failed with "Cancelled by user".
func (m *Manager) Cancel(cardID string) bool {
	m.mu.Lock()
	info, ok := m.dispatches[cardID]
	m.mu.Unlock()
	if !ok || info.snapshotStatus() != Running {
		return false
	}

	info.mu.Lock()
	proc := info.Process
	info.mu.Unlock()
	info.setStatus(Cancelled)
	if proc != nil {
		proc.Terminate()
	}

	completedAt := nowISO()
	info.mu.Lock()
	startedAt := info.StartedAt
	info.CompletedAt = completedAt
	preserved := info.AccumulatedOutput
	info.mu.Unlock()
	duration := durationSeconds(startedAt, completedAt)

	cancelOutput := "*Cancelled by user.*"
	if strings.TrimSpace(preserved) != "" {
		cancelOutput = preserved + "\n\n---\n*Cancelled by user.*"
	}

	m.cleanupWorkspaces(info)

	taskCfg := DefaultTaskConfig[info.Task]
	m.persistUpdate(info, map[string]any{
		"status": string(Cancelled), "output": cancelOutput,
		"completed_at": completedAt, "duration": duration, "error": "Cancelled by user",
	}, taskCfg.Title)

	if m.hub != nil {
		m.hub.BroadcastAgentEvent(info.Study, "agent.failed", info.CardID, info.Task, "Cancelled by user")
	}
	return true
}

// CancelAll terminates every currently running dispatch. Children are
// spawned in their own process group so they survive the server process
// exiting; without this, a server shutdown would orphan them.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	running := make([]string, 0, len(m.dispatches))
	for id, info := range m.dispatches {
		if info.snapshotStatus() == Running {
			running = append(running, id)
		}
	}
	m.mu.Unlock()

	for _, id := range running {
		m.Cancel(id)
	}
}

// Status returns a snapshot of one dispatch, or nil if unknown.
func (m *Manager) Status(cardID string) *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatches[cardID]
}

// StartWatchdog runs a 30s ticking scan for dispatches whose child died
// without the monitor observing it.
func (m *Manager) StartWatchdog() {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepDead()
			case <-m.stopWatchdog:
				return
			}
		}
	}()
}

// StopWatchdog halts the watchdog goroutine, used during server shutdown.
func (m *Manager) StopWatchdog() {
	close(m.stopWatchdog)
}

func (m *Manager) sweepDead() {
	m.mu.Lock()
	running := make([]*Info, 0)
	for _, d := range m.dispatches {
		if d.snapshotStatus() == Running {
			running = append(running, d)
		}
	}
	m.mu.Unlock()

	for _, info := range running {
		info.mu.Lock()
		proc := info.Process
		info.mu.Unlock()
		if proc == nil || proc.Alive() {
			continue
		}
		errMsg := "Process exited unexpectedly"
		info.mu.Lock()
		info.Error = errMsg
		completedAt := nowISO()
		info.CompletedAt = completedAt
		info.mu.Unlock()
		info.setStatus(Failed)
		taskCfg := DefaultTaskConfig[info.Task]
		m.persistUpdate(info, map[string]any{
			"status": string(Failed), "error": errMsg, "completed_at": completedAt,
		}, taskCfg.Title)
		if m.hub != nil {
			m.hub.BroadcastAgentEvent(info.Study, "agent.failed", info.CardID, info.Task, errMsg)
		}
	}
}

// Reconcile force-fails every AGENT card left in running/pending status
// with no corresponding in-memory dispatch — called once at server startup
// and from the DELETE handler for an orphaned agent card.
func (m *Manager) Reconcile(studyLabel string) int {
	cards, err := m.studies.ListAllCards(studyLabel)
	if err != nil {
		return 0
	}
	fixed := 0
	for _, c := range cards {
		if c.Type != card.Agent {
			continue
		}
		status, _ := c.Preview["status"].(string)
		if status != "running" && status != "pending" {
			continue
		}
		m.mu.Lock()
		_, tracked := m.dispatches[c.ID]
		m.mu.Unlock()
		if tracked {
			continue
		}
		store := m.studies.GetStoreForCard(c.ID)
		if store == nil {
			continue
		}
		preview := cloneAnyMap(c.Preview)
		preview["status"] = "failed"
		preview["error"] = "Server restarted while agent was running"
		updated, err := store.UpdateCard(c.ID, map[string]any{"preview": preview})
		if err != nil || updated == nil {
			continue
		}
		fixed++
		if m.hub != nil {
			m.hub.BroadcastCardUpdate(c.Study, updated)
		}
	}
	return fixed
}
