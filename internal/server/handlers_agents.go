package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/hannesill/vitrine/internal/dispatch"
)

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Model            string `json:"model"`
		Budget           *int   `json:"budget"`
		AdditionalPrompt string `json:"additional_prompt"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	err := s.dispatch.Run(id, dispatch.RunConfig{
		Model:            req.Model,
		Budget:           req.Budget,
		AdditionalPrompt: req.AdditionalPrompt,
	})
	if err != nil {
		status := http.StatusBadRequest
		if err == dispatch.ErrResourceExhausted {
			status = http.StatusTooManyRequests
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	info := s.dispatch.Status(id)
	if info == nil {
		s.respondError(w, http.StatusNotFound, "no such dispatch")
		return
	}
	s.respondJSON(w, http.StatusOK, info.Snapshot())
}

func (s *Server) handleAgentCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok := s.dispatch.Cancel(id)
	if !ok {
		// No running dispatch: force-fail the card if it was left orphaned.
		s.dispatch.Reconcile("")
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

// maxWaitResponseTimeout caps how long a long-poll response wait can hold
// its connection and underlying future open.
const maxWaitResponseTimeout = 1800.0

// handleWaitResponse arms (or reattaches to) a future for card_id and awaits
// it with the given timeout.
func (s *Server) handleWaitResponse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	timeoutSec := 30.0
	if v := r.URL.Query().Get("timeout"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			timeoutSec = f
		}
	}
	if timeoutSec > maxWaitResponseTimeout {
		timeoutSec = maxWaitResponseTimeout
	}

	fut, ok := s.futures.Get(id)
	if !ok {
		fut = s.futures.Arm(id)
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(timeoutSec*float64(time.Second)))
	defer cancel()

	value, err := fut.Wait(ctx)
	if err != nil {
		s.futures.Cancel(id)
		s.respondJSON(w, http.StatusOK, map[string]string{"action": "timeout", "card_id": id})
		return
	}
	s.respondJSON(w, http.StatusOK, value)
}

// handleCommand implements the unified push route used by remote agents
// that aren't running in-process: {type: card|section|update, ...}.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd struct {
		Type  string         `json:"type"`
		Study string         `json:"study"`
		Card  map[string]any `json:"card"`
		ID    string         `json:"id"`
		Changes map[string]any `json:"changes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	store := s.storeForStudy(cmd.Study)
	if store == nil {
		s.respondError(w, http.StatusNotFound, "study not found")
		return
	}

	switch cmd.Type {
	case "card", "section":
		c := cardFromMap(cmd.Card)
		c.Study = cmd.Study
		if err := store.AppendCard(c); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.studies.RegisterCard(c.ID, store.DirName())
		if cmd.Type == "section" {
			s.hub.BroadcastSection(cmd.Study, c)
		} else {
			s.hub.BroadcastCardAdd(cmd.Study, c)
		}
		if c.ResponseRequested {
			if err := s.toaster.NotifyResponseRequested(c.Title); err != nil {
				log.Printf("[SERVER] toast notification failed: %v", err)
			}
		}
		s.respondJSON(w, http.StatusCreated, c)
	case "update":
		updated, err := store.UpdateCard(cmd.ID, cmd.Changes)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if updated == nil {
			s.respondError(w, http.StatusNotFound, "card not found")
			return
		}
		s.hub.BroadcastCardUpdate(cmd.Study, updated)
		s.respondJSON(w, http.StatusOK, updated)
	default:
		s.respondError(w, http.StatusBadRequest, "unknown command type")
	}
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"shutting_down": true})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}()
}
