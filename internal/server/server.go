package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bdougie/visionstream/internal/analyzer"
	"github.com/bdougie/visionstream/internal/media"
	"github.com/bdougie/visionstream/internal/models"
	"github.com/bdougie/visionstream/internal/storage"
	"github.com/bdougie/visionstream/internal/uploader"
)

const maxMemory = 32 << 20 // multipart bytes kept in memory before spilling to disk

// Deps are the components the API drives.
type Deps struct {
	Session   *analyzer.Session
	Processor *analyzer.Processor
	Journal   *storage.Journal
	Uploader  uploader.Uploader // optional
	Preset    string
	Logger    *slog.Logger
}

// Server exposes the session, its counters and the job log over HTTP.
type Server struct {
	Deps
	router chi.Router
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Post("/connect", s.handleConnect)
		r.Get("/status", s.handleStatus)
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/logs", s.handleGetLogs)
		r.Delete("/logs", s.handleClearLogs)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusResponse struct {
	Ready bool `json:"ready"`
	Busy  bool `json:"busy"`
	models.Counters
}

type jobRequest struct {
	URL string `json:"url"`
}

type jobResponse struct {
	URL   string `json:"url"`
	Found bool   `json:"found"`
	models.Counters
}

// POST /api/connect
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.Connect(r.Context()); err != nil {
		s.Logger.Error("connect failed", "error", err)
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ready": s.Session.Ready()})
}

// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Ready:    s.Session.Ready(),
		Busy:     s.Processor.Busy(),
		Counters: s.Session.Counters(),
	})
}

// POST /api/jobs with a multipart "file" field, or a JSON {"url": ...} body.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.Processor.Busy() {
		httpError(w, http.StatusConflict, analyzer.ErrJobInProgress.Error())
		return
	}

	file, cleanup, err := s.readVideo(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	if s.Uploader != nil {
		file, err = uploader.Stage(r.Context(), s.Uploader, file, s.Preset, s.Journal)
		if err != nil {
			s.Logger.Error("upload failed", "error", err)
			httpError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	url, err := s.Processor.ProcessVideo(r.Context(), file)
	switch {
	case errors.Is(err, analyzer.ErrJobInProgress):
		httpError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, analyzer.ErrNotConnected):
		httpError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.Logger.Error("job failed", "error", err)
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, jobResponse{
		URL:      url,
		Found:    url != "",
		Counters: s.Session.Counters(),
	})
}

// readVideo returns the submitted video and a cleanup for any temp file.
func (s *Server) readVideo(r *http.Request) (*media.File, func(), error) {
	noop := func() {}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req jobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, noop, errors.New("invalid JSON body")
		}
		f, err := media.FromURL(req.URL)
		return f, noop, err
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, noop, errors.New("expected multipart form with a file field or a JSON body")
	}
	src, header, err := r.FormFile("file")
	if err != nil {
		return nil, noop, errors.New("missing file field")
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "visionstream-*"+filepath.Ext(header.Filename))
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		cleanup()
		return nil, noop, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, noop, err
	}

	f, err := media.Open(tmp.Name())
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	return f, cleanup, nil
}

// GET /api/logs
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.Journal.Entries())
}

// DELETE /api/logs
func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.Journal.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
