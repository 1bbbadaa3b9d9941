package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/hannesill/vitrine/internal/artifact"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"session_id":  s.sessionID,
		"uptime":      fmtUptime(s.startTime),
		"study_count": len(s.studies.ListStudies()),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	studies := s.studies.ListStudies()
	labels := make([]string, 0, len(studies))
	for _, st := range studies {
		labels = append(labels, st.Label)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"session_id": s.sessionID,
		"studies":    labels,
	})
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("study")
	cards, err := s.studies.ListAllCards(label)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := cards[:0]
	for _, c := range cards {
		if !c.Deleted {
			out = append(out, c)
		}
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) findCardByPrefix(prefix string) (any, bool) {
	cards, err := s.studies.ListAllCards("")
	if err != nil {
		return nil, false
	}
	for _, c := range cards {
		if c.MatchesIDPrefix(prefix) {
			return c, true
		}
	}
	return nil, false
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, ok := s.findCardByPrefix(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "card not found")
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleTablePage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	store := s.studies.GetStoreForCard(id)
	if store == nil {
		s.respondError(w, http.StatusNotFound, "card not found")
		return
	}
	offset := intQuery(r, "offset", 0)
	limit := intQuery(r, "limit", 100)
	sortCol := r.URL.Query().Get("sort")
	sortAsc := r.URL.Query().Get("order") != "desc"
	search := r.URL.Query().Get("search")

	page, err := store.ReadTablePage(id, offset, limit, sortCol, sortAsc, search)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleTableStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	store := s.studies.GetStoreForCard(id)
	if store == nil {
		s.respondError(w, http.StatusNotFound, "card not found")
		return
	}
	stats, err := store.TableStats(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTableSelection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	store := s.studies.GetStoreForCard(id)
	if store == nil {
		s.respondError(w, http.StatusNotFound, "card not found")
		return
	}
	s.mu.Lock()
	indices := s.selections[id]
	s.mu.Unlock()
	if len(indices) == 0 {
		s.respondJSON(w, http.StatusOK, &artifact.Page{Columns: []string{}, Rows: [][]any{}})
		return
	}
	page, err := store.ReadTablePage(id, 0, 10_000, "", true, "")
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	wanted := map[int]bool{}
	for _, idx := range indices {
		wanted[idx] = true
	}
	rows := make([][]any, 0, len(indices))
	for i, row := range page.Rows {
		if wanted[i] {
			rows = append(rows, row)
		}
	}
	s.respondJSON(w, http.StatusOK, &artifact.Page{Columns: page.Columns, Rows: rows, TotalRows: len(rows)})
}

func (s *Server) handleTableExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	store := s.studies.GetStoreForCard(id)
	if store == nil {
		s.respondError(w, http.StatusNotFound, "card not found")
		return
	}
	sortCol := r.URL.Query().Get("sort")
	sortAsc := r.URL.Query().Get("order") != "desc"
	csv, err := store.ExportTableCSV(id, sortCol, sortAsc, r.URL.Query().Get("search"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+id+".csv\"")
	w.Write([]byte(csv))
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	store := s.studies.GetStoreForCard(id)
	if store == nil {
		s.respondError(w, http.StatusNotFound, "card not found")
		return
	}
	data, err := store.GetArtifact(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if raw, ok := data.([]byte); ok {
		w.Write(raw)
		return
	}
	s.respondJSON(w, http.StatusOK, data)
}
