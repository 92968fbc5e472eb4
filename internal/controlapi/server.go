// Package controlapi is the optional loopback HTTP surface over the
// search-job facade and download manager: a thin REST binding, not a
// second implementation of either.
package controlapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"project-tachyon/internal/download"
	"project-tachyon/internal/metrics"
	"project-tachyon/internal/searchjob"
	"project-tachyon/internal/security"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config wires the server's collaborators and its auth token. An empty
// Token disables token auth (loopback-only is still enforced).
type Config struct {
	SearchJobs *searchjob.Manager
	Downloads  *download.Manager
	Metrics    *metrics.Registry
	Audit      *security.AuditLogger
	Logger     *slog.Logger
	Token      string
}

// Server is the control API's HTTP server. It always binds loopback-only;
// Start runs it on a background goroutine.
type Server struct {
	cfg    Config
	router *chi.Mux
}

// New builds a Server and wires its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, router: chi.NewRouter()}
	s.setupRoutes()
	return s
}

// Start binds 127.0.0.1:port and serves in the background. It returns once
// the listener is bound, so a caller can rely on the server being ready
// (or log the bind failure) without polling.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control API failed to bind %s: %w", addr, err)
	}
	s.cfg.Logger.Info("control API listening", "addr", addr)
	go func() {
		if err := http.Serve(conn, s.router); err != nil {
			s.cfg.Logger.Error("control API stopped", "error", err)
		}
	}()
	return nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.securityMiddleware)

	s.router.Get("/metrics", s.handleMetrics())

	s.router.Route("/v1/search", func(r chi.Router) {
		r.Post("/", s.handleCreateSearch)
	})
	s.router.Route("/v1/jobs/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetJob)
		r.Post("/cancel", s.handleCancelJob)
	})
	s.router.Route("/v1/downloads", func(r chi.Router) {
		r.Get("/", s.handleListDownloads)
		r.Post("/", s.handleQueueDownload)
		r.Get("/{id}", s.handleGetDownload)
		r.Post("/{id}/control", s.handleControlDownload)
		r.Delete("/{id}", s.handleDeleteDownload)
	})
	s.router.Get("/v1/health", s.handleHealth)
}

// securityMiddleware enforces loopback-only access and, when a token is
// configured, a matching X-Tachyon-Token header. Every request is audit
// logged regardless of outcome.
func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		userAgent := r.UserAgent()
		action := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

		if sourceIP != "127.0.0.1" && sourceIP != "::1" {
			s.auditLog(sourceIP, userAgent, action, http.StatusForbidden, "non-loopback access denied")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if s.cfg.Token != "" {
			if r.Header.Get("X-Tachyon-Token") != s.cfg.Token {
				s.auditLog(sourceIP, userAgent, action, http.StatusUnauthorized, "invalid token")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		s.auditLog(sourceIP, userAgent, action, http.StatusOK, "authorized")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auditLog(sourceIP, userAgent, action string, status int, details string) {
	if s.cfg.Audit != nil {
		s.cfg.Audit.Log(sourceIP, userAgent, action, status, details)
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	if s.cfg.Metrics == nil {
		return func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusServiceUnavailable)
		}
	}
	handler := promhttp.HandlerFor(s.cfg.Metrics.Gatherer(), promhttp.HandlerOpts{})
	return handler.ServeHTTP
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateSearchRequest mirrors searchjob.CreateJobRequest's wire shape.
type CreateSearchRequest struct {
	Query                string   `json:"query"`
	Page                 int      `json:"page"`
	PerPage              int      `json:"per_page"`
	Mode                 string   `json:"mode"`
	SourceTimeoutSeconds float64  `json:"source_timeout_seconds"`
	EnabledSources       []string `json:"enabled_sources"`
	IncludeMedia         bool     `json:"include_media"`
	IncludeCustom        bool     `json:"include_custom"`
	CacheBust            bool     `json:"cache_bust"`
}

func (s *Server) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	var req CreateSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.cfg.SearchJobs.CreateJob(r.Context(), searchjob.CreateJobRequest{
		Query:                req.Query,
		Page:                 req.Page,
		PerPage:              req.PerPage,
		Mode:                 searchjob.Mode(req.Mode),
		SourceTimeoutSeconds: req.SourceTimeoutSeconds,
		EnabledSources:       req.EnabledSources,
		IncludeMedia:         req.IncludeMedia,
		IncludeCustom:        req.IncludeCustom,
		CacheBust:            req.CacheBust,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.cfg.SearchJobs.GetJob(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.cfg.SearchJobs.CancelJob(id) {
		http.Error(w, "job not found or already finished", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// QueueDownloadRequest mirrors download.Manager.Queue's parameters.
type QueueDownloadRequest struct {
	Title            string `json:"title"`
	OutputPath       string `json:"output_path"`
	MagnetSource     string `json:"magnet_source,omitempty"`
	DirectURL        string `json:"direct_url,omitempty"`
	ExpectedChecksum string `json:"expected_checksum,omitempty"`
}

func (s *Server) handleQueueDownload(w http.ResponseWriter, r *http.Request) {
	var req QueueDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.cfg.Downloads.Queue(r.Context(), req.Title, req.OutputPath, req.MagnetSource, req.DirectURL, req.ExpectedChecksum)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Downloads.GetAll())
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.cfg.Downloads.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ControlRequest selects the lifecycle action for a download control call.
type ControlRequest struct {
	Action string `json:"action"` // pause | resume | cancel | retry
}

func (s *Server) handleControlDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	switch req.Action {
	case "pause":
		err = s.cfg.Downloads.Pause(id)
	case "resume":
		err = s.cfg.Downloads.Resume(id)
	case "cancel":
		err = s.cfg.Downloads.Cancel(id)
	case "retry":
		err = s.cfg.Downloads.Retry(r.Context(), id)
	default:
		http.Error(w, "invalid action", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleteFile := r.URL.Query().Get("delete_file") == "true"
	if err := s.cfg.Downloads.Delete(id, deleteFile); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
