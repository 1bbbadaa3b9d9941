package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hannesill/vitrine/internal/artifact"
	"github.com/hannesill/vitrine/internal/card"
	"github.com/hannesill/vitrine/internal/render"
)

// allowedWSOrigins restricts WebSocket upgrades to localhost plus any
// VITRINE_ALLOWED_ORIGINS entries: vitrine is a local tool, but a malicious
// page could otherwise script a WS connection to it.
func allowedWSOrigins(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	for _, extra := range strings.Split(os.Getenv("VITRINE_ALLOWED_ORIGINS"), ",") {
		if extra != "" && extra == origin {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{CheckOrigin: allowedWSOrigins}

// handleWebSocket upgrades the connection, replays every non-deleted card,
// then streams broadcasts and dispatches inbound vitrine.event frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, WebSocketBufferSize)}
	s.hub.Register(client)

	cards, _ := s.studies.ListAllCards("")
	for _, c := range cards {
		if c.Deleted {
			continue
		}
		data, err := json.Marshal(WSMessage{Type: "display.add", Study: c.Study, Data: c})
		if err == nil {
			client.send <- data
		}
	}
	if done, err := json.Marshal(WSMessage{Type: "display.replay_done"}); err == nil {
		client.send <- done
	}

	go client.writePump()
	client.readPump(s.handleInboundEvent)
}

type vitrineEvent struct {
	Type      string         `json:"event_type"`
	CardID    string         `json:"card_id"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) storeForStudy(label string) *artifact.Store {
	_, store, err := s.studies.GetOrCreateStudy(label)
	if err != nil {
		return nil
	}
	return store
}

func cardFromMap(m map[string]any) *card.Card {
	c := card.New(card.Markdown)
	raw, err := json.Marshal(m)
	if err != nil {
		return c
	}
	var decoded card.Card
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return c
	}
	if decoded.ID == "" {
		decoded.ID = c.ID
	}
	if decoded.Timestamp == "" {
		decoded.Timestamp = c.Timestamp
	}
	if decoded.Preview == nil {
		decoded.Preview = map[string]any{}
	}
	if decoded.Annotations == nil {
		decoded.Annotations = []card.Annotation{}
	}
	return &decoded
}

// handleInboundEvent dispatches one vitrine.event frame received over /ws.
func (s *Server) handleInboundEvent(raw []byte) {
	var frame struct {
		Type string `json:"type"`
		vitrineEvent
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	if frame.Type != "vitrine.event" {
		return
	}

	switch frame.Type + "." + frame.vitrineEvent.Type {
	case "vitrine.event.response":
		s.handleResponseEvent(frame.CardID, frame.Payload)
	case "vitrine.event.annotation":
		s.handleAnnotationEvent(frame.CardID, frame.Payload)
	case "vitrine.event.rename":
		s.mutateCard(frame.CardID, func(c *card.Card) {
			if title, ok := frame.Payload["title"].(string); ok {
				c.Title = title
			}
		})
	case "vitrine.event.dismiss":
		s.mutateCard(frame.CardID, func(c *card.Card) { c.Dismissed = true })
	case "vitrine.event.delete":
		s.handleDeleteEvent(frame.CardID)
	case "vitrine.event.selection":
		s.handleSelectionEvent(frame.CardID, frame.Payload)
	default:
		s.queueEvent(map[string]any{
			"event_type": frame.vitrineEvent.Type,
			"card_id":    frame.CardID,
			"payload":    frame.Payload,
		})
	}
}

func (s *Server) findCard(cardID string) (*card.Card, *artifact.Store) {
	store := s.studies.GetStoreForCard(cardID)
	if store == nil {
		return nil, nil
	}
	cards, err := store.ListCards("")
	if err != nil {
		return nil, nil
	}
	for _, c := range cards {
		if c.MatchesIDPrefix(cardID) {
			return c, store
		}
	}
	return nil, nil
}

func (s *Server) mutateCard(cardID string, mutate func(*card.Card)) {
	c, store := s.findCard(cardID)
	if c == nil {
		return
	}
	mutate(c)
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	var changes map[string]any
	if err := json.Unmarshal(raw, &changes); err != nil {
		return
	}
	updated, err := store.UpdateCard(c.ID, changes)
	if err != nil || updated == nil {
		return
	}
	s.hub.BroadcastCardUpdate(updated.Study, updated)
}

func (s *Server) handleResponseEvent(cardID string, payload map[string]any) {
	action, _ := payload["action"].(string)
	message, _ := payload["message"].(string)
	summary, _ := payload["summary"].(string)

	c, store := s.findCard(cardID)
	if c == nil {
		return
	}

	values, _ := payload["values"].(map[string]any)
	artifactID := ""
	if rows, ok := payload["selected_rows"].([]any); ok && len(rows) > 0 {
		artifactID = card.ResponseArtifactIDFor(c.ID)
		if t := tableFromRows(rows); t != nil {
			store.StoreSelection(artifactID, t)
		}
	} else if points, ok := payload["points"]; ok {
		artifactID = card.ResponseArtifactIDFor(c.ID)
		store.StoreSelectionJSON(artifactID, points)
	}

	c.SetResponse(action, message, values, summary, artifactID)
	raw, _ := json.Marshal(c)
	var changes map[string]any
	json.Unmarshal(raw, &changes)
	updated, err := store.UpdateCard(c.ID, changes)
	if err == nil && updated != nil {
		s.hub.BroadcastCardUpdate(updated.Study, updated)
	}

	s.futures.Resolve(cardID, map[string]any{
		"action":      action,
		"card_id":     c.ID,
		"message":     message,
		"artifact_id": artifactID,
		"summary":     summary,
		"values":      values,
	})
}

func tableFromRows(rows []any) *render.Table {
	if len(rows) == 0 {
		return nil
	}
	first, ok := rows[0].(map[string]any)
	if !ok {
		return nil
	}
	cols := make([]string, 0, len(first))
	for k := range first {
		cols = append(cols, k)
	}
	t := &render.Table{Columns: cols, Dtypes: make([]string, len(cols))}
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = m[c]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func (s *Server) handleAnnotationEvent(cardID string, payload map[string]any) {
	action, _ := payload["action"].(string)
	s.mutateCard(cardID, func(c *card.Card) {
		switch action {
		case "add":
			text, _ := payload["text"].(string)
			c.Annotations = append(c.Annotations, card.Annotation{
				ID:        card.NewID(),
				Text:      text,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		case "edit":
			id, _ := payload["id"].(string)
			text, _ := payload["text"].(string)
			for i := range c.Annotations {
				if c.Annotations[i].ID == id {
					c.Annotations[i].Text = text
				}
			}
		case "delete":
			id, _ := payload["id"].(string)
			kept := c.Annotations[:0]
			for _, a := range c.Annotations {
				if a.ID != id {
					kept = append(kept, a)
				}
			}
			c.Annotations = kept
		}
	})
}

func (s *Server) handleDeleteEvent(cardID string) {
	c, store := s.findCard(cardID)
	if c == nil {
		return
	}
	if c.Type == card.Agent {
		s.dispatch.Cancel(c.ID)
	}
	c.SoftDelete()
	raw, _ := json.Marshal(c)
	var changes map[string]any
	json.Unmarshal(raw, &changes)
	updated, err := store.UpdateCard(c.ID, changes)
	if err == nil && updated != nil {
		s.hub.BroadcastCardUpdate(updated.Study, updated)
	}
}

func (s *Server) handleSelectionEvent(cardID string, payload map[string]any) {
	raw, ok := payload["indices"].([]any)
	if !ok {
		return
	}
	indices := make([]int, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			indices = append(indices, int(f))
		}
	}
	s.mu.Lock()
	s.selections[cardID] = indices
	s.mu.Unlock()
	s.scheduleSelectionSave()
}

func (s *Server) queueEvent(ev map[string]any) {
	s.eventMu.Lock()
	cb := s.onEvent
	s.events = append(s.events, ev)
	if len(s.events) > EventQueueCap {
		s.events = s.events[len(s.events)-EventQueueDropTo:]
	}
	s.eventMu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.eventMu.Lock()
	drained := s.events
	s.events = nil
	s.eventMu.Unlock()
	s.respondJSON(w, http.StatusOK, drained)
}
