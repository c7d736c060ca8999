package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ldi/taskdeck/internal/db"
	"github.com/ldi/taskdeck/pkg/models"
)

// Server exposes a read-only JSON view of the tracker over HTTP.
type Server struct {
	db     *db.DB
	server *http.Server
}

func NewServer(database *db.DB) *Server {
	return &Server{db: database}
}

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/features", s.handleFeatures)
	mux.HandleFunc("/api/features/", s.handleFeature)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/ready", s.handleReady)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	var status *models.FeatureStatus
	if q := r.URL.Query().Get("status"); q != "" {
		fs := models.FeatureStatus(q)
		status = &fs
	}
	features, err := s.db.ListFeatures(r.Context(), status)
	s.respond(w, features, err)
}

func (s *Server) handleFeature(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Path[len("/api/features/"):]
	if ref == "" {
		http.NotFound(w, r)
		return
	}
	detail, err := s.db.GetFeatureDetail(r.Context(), ref)
	s.respond(w, detail, err)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	var status *models.TaskStatus
	if q := r.URL.Query().Get("status"); q != "" {
		ts := models.TaskStatus(q)
		status = &ts
	}
	var feature *string
	if q := r.URL.Query().Get("feature"); q != "" {
		feature = &q
	}
	tasks, err := s.db.ListTasks(r.Context(), status, feature)
	s.respond(w, tasks, err)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	var featureID *string
	if q := r.URL.Query().Get("feature"); q != "" {
		id, err := s.db.ResolveFeatureID(r.Context(), q)
		if err != nil {
			s.respond(w, nil, err)
			return
		}
		featureID = &id
	}
	tasks, err := s.db.GetReadyTasks(r.Context(), featureID)
	s.respond(w, tasks, err)
}

func (s *Server) respond(w http.ResponseWriter, data any, err error) {
	if err != nil {
		var notFound *db.NotFoundError
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
