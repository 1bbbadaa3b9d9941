// Package server implements the DisplayServer component: an HTTP + WebSocket
// surface served from one process, with shared state guarded by mutexes.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/hannesill/vitrine/internal/dispatch"
	"github.com/hannesill/vitrine/internal/future"
	"github.com/hannesill/vitrine/internal/notify"
	"github.com/hannesill/vitrine/internal/study"
)

// SelectionDebounce is how long selection mutations are coalesced before
// being flushed to selections.json.
const SelectionDebounce = time.Second

// EventQueueCap and EventQueueDropTo bound the queue drained by
// /api/events: capped at 1000, drops to the newest 500 on overflow.
const (
	EventQueueCap    = 1000
	EventQueueDropTo = 500
)

// Server wires the study manager, dispatch manager, blocking-future
// registry, and WebSocket hub into one HTTP surface.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub

	vitrineDir string
	sessionID  string
	token      string
	startTime  time.Time

	studies  *study.Manager
	dispatch *dispatch.Manager
	futures  *future.Registry
	toaster  *notify.Toaster

	mu         sync.Mutex
	selections map[string][]int
	selTimer   *time.Timer

	eventMu  sync.Mutex
	events   []map[string]any
	onEvent  func(map[string]any)

	stopWatchdog chan struct{}
}

// Config bundles the arguments NewServer needs beyond what it builds itself.
// Hub is optional: callers that need to construct a dispatch.Manager (which
// takes the hub as its Broadcaster) before the server exists should build
// one with NewHub and pass it in here; New falls back to building its own
// otherwise.
type Config struct {
	VitrineDir string
	SessionID  string
	Token      string
	DisplayURL string
	Hub        *Hub
	Studies    *study.Manager
	Dispatch   *dispatch.Manager
	Futures    *future.Registry
}

// New constructs a Server and wires its route table. Call Run to accept
// connections.
func New(cfg Config) *Server {
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{
		hub:          hub,
		vitrineDir:   cfg.VitrineDir,
		sessionID:    cfg.SessionID,
		token:        cfg.Token,
		startTime:    time.Now(),
		studies:      cfg.Studies,
		dispatch:     cfg.Dispatch,
		futures:      cfg.Futures,
		toaster:      notify.NewToaster(cfg.DisplayURL),
		selections:   loadSelections(cfg.VitrineDir),
		stopWatchdog: make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func loadSelections(vitrineDir string) map[string][]int {
	path := filepath.Join(vitrineDir, "selections.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string][]int{}
	}
	var m map[string][]int
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string][]int{}
	}
	return m
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/session", s.handleSession).Methods("GET")
	api.HandleFunc("/cards", s.handleListCards).Methods("GET")
	api.HandleFunc("/card/{id}", s.handleGetCard).Methods("GET")
	api.HandleFunc("/table/{id}", s.handleTablePage).Methods("GET")
	api.HandleFunc("/table/{id}/stats", s.handleTableStats).Methods("GET")
	api.HandleFunc("/table/{id}/selection", s.handleTableSelection).Methods("GET")
	api.HandleFunc("/table/{id}/export", s.handleTableExport).Methods("GET")
	api.HandleFunc("/artifact/{id}", s.handleArtifact).Methods("GET")

	api.Handle("/events", s.authRequired(http.HandlerFunc(s.handleEvents))).Methods("GET")
	api.Handle("/response/{id}", s.authRequired(http.HandlerFunc(s.handleWaitResponse))).Methods("GET")
	api.Handle("/command", s.authRequired(http.HandlerFunc(s.handleCommand))).Methods("POST")
	api.Handle("/shutdown", s.authRequired(http.HandlerFunc(s.handleShutdown))).Methods("POST")

	api.HandleFunc("/studies", s.handleListStudies).Methods("GET")
	api.HandleFunc("/studies/{s}", s.handleDeleteStudy).Methods("DELETE")
	api.HandleFunc("/studies/{s}/rename", s.handleRenameStudy).Methods("PATCH")
	api.HandleFunc("/studies/{s}/context", s.handleStudyContext).Methods("GET")
	api.HandleFunc("/studies/{s}/export", s.handleStudyExport).Methods("GET")
	api.HandleFunc("/studies/{s}/files", s.handleStudyFiles).Methods("GET")
	api.HandleFunc("/studies/{s}/files/{path:.*}", s.handleStudyFile).Methods("GET")
	api.HandleFunc("/studies/{s}/files-archive", s.handleStudyFilesArchive).Methods("GET")
	api.HandleFunc("/studies/{s}/agents", s.handleCreateAgent).Methods("POST")

	api.HandleFunc("/agents/{id}/run", s.handleRunAgent).Methods("POST")
	api.HandleFunc("/agents/{id}", s.handleAgentStatus).Methods("GET")
	api.HandleFunc("/agents/{id}", s.handleAgentCancel).Methods("DELETE")

	s.router.HandleFunc("/ws", s.handleWebSocket)

	static, err := newStaticHandler()
	if err != nil {
		log.Printf("[SERVER] no embedded static assets: %v", err)
	} else {
		s.router.PathPrefix("/").Handler(static)
	}
}

// Hub exposes the WebSocket broadcaster, wired into internal/dispatch.Manager
// as its Broadcaster.
func (s *Server) Hub() *Hub { return s.hub }

// Studies exposes the study manager, so an in-process internal/vclient.Client
// running in the same process can resolve stores without its own duplicate
// *study.Manager.
func (s *Server) Studies() *study.Manager { return s.studies }

// Futures exposes the blocking-response future registry for an in-process
// internal/vclient.Client's WaitFor.
func (s *Server) Futures() *future.Registry { return s.futures }

// SelectionIndices returns the currently selected row indices for cardID, the
// in-process counterpart of GET /api/table/{id}/selection.
func (s *Server) SelectionIndices(cardID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.selections[cardID]...)
}

// RegisterEventCallback sets the in-process callback invoked for every
// vitrine.event frame not otherwise handled (response/annotation/rename/
// dismiss/delete/selection). Intended for internal/vclient's on_event.
func (s *Server) RegisterEventCallback(fn func(map[string]any)) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.onEvent = fn
}

// Run binds addr and blocks until the server shuts down.
func (s *Server) Run(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve blocks, accepting connections on an already-bound listener. Callers
// that need to commit a PID file only after the port is actually held bind
// with net.Listen themselves and pass the listener here instead of calling
// Run.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	go s.hub.Run()
	s.dispatch.StartWatchdog()
	// Agent cards left running by a previous server have no dispatch here.
	s.dispatch.Reconcile("")

	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// dispatchCancelDeadline bounds how long Shutdown waits for running
// dispatches to terminate before moving on.
const dispatchCancelDeadline = 3 * time.Second

// Shutdown cancels the watchdog, terminates every running dispatch so no
// detached child process is left behind, flushes selections, then stops the
// embedded HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.dispatch.StopWatchdog()
	s.cancelDispatchesWithDeadline(dispatchCancelDeadline)

	s.mu.Lock()
	if s.selTimer != nil {
		s.selTimer.Stop()
	}
	s.flushSelectionsLocked()
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) cancelDispatchesWithDeadline(d time.Duration) {
	done := make(chan struct{})
	go func() {
		s.dispatch.CancelAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}

func (s *Server) flushSelectionsLocked() {
	path := filepath.Join(s.vitrineDir, "selections.json")
	data, err := json.MarshalIndent(s.selections, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

func (s *Server) scheduleSelectionSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selTimer != nil {
		s.selTimer.Stop()
	}
	s.selTimer = time.AfterFunc(SelectionDebounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.flushSelectionsLocked()
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

func fmtUptime(start time.Time) float64 {
	return time.Since(start).Seconds()
}
