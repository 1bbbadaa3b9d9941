package server

import (
	"archive/zip"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/hannesill/vitrine/internal/export"
)

func (s *Server) handleListStudies(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.studies.ListStudies())
}

func (s *Server) handleDeleteStudy(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["s"]
	ok, err := s.studies.DeleteStudy(label)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, "study not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleRenameStudy(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["s"]
	var req struct {
		NewLabel string `json:"new_label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, err := s.studies.RenameStudy(label, req.NewLabel)
	if err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, "study not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"renamed": true})
}

func (s *Server) handleStudyContext(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["s"]
	s.studies.Refresh()
	s.respondJSON(w, http.StatusOK, s.studies.BuildContext(label))
}

func (s *Server) handleStudyExport(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["s"]
	format := r.URL.Query().Get("format")
	if format == "json" || format == "zip" {
		dir, err := os.MkdirTemp("", "vitrine-export-*")
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer os.RemoveAll(dir)
		out := filepath.Join(dir, "export")
		if err := export.JSON(s.studies, out, label); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", "attachment; filename=\"vitrine-export.zip\"")
		http.ServeFile(w, r, out+".zip")
		return
	}
	html, err := export.HTMLString(s.studies, label)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func (s *Server) handleStudyFiles(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["s"]
	s.respondJSON(w, http.StatusOK, s.studies.ListOutputFiles(label))
}

func (s *Server) handleStudyFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	label, relPath := vars["s"], vars["path"]
	path, ok := s.studies.GetOutputFilePath(label, relPath)
	if !ok {
		s.respondError(w, http.StatusNotFound, "file not found")
		return
	}
	if r.URL.Query().Get("mode") == "download" {
		w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(path)+"\"")
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleStudyFilesArchive(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["s"]
	outputDir := s.studies.GetOutputDir(label)
	if outputDir == "" {
		s.respondError(w, http.StatusNotFound, "no output directory registered")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+label+"-files.zip\"")

	zw := zip.NewWriter(w)
	defer zw.Close()

	filepath.Walk(outputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return nil
		}
		dst, err := zw.Create(rel)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return err
	})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["s"]
	var req struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	_, c, err := s.dispatch.Create(label, req.Task)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, c)
}
