package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hochfrequenz/posterbadge/internal/debugcapture"
	"github.com/hochfrequenz/posterbadge/internal/domain"
	"github.com/hochfrequenz/posterbadge/internal/jobstore"
	"github.com/hochfrequenz/posterbadge/internal/orchestrator"
	"github.com/hochfrequenz/posterbadge/internal/progress"
)

// Jobs is the job API the server exposes. *orchestrator.Orchestrator implements it.
type Jobs interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*domain.Job, error)
	Job(ctx context.Context, id string) (*domain.Job, error)
	Jobs(ctx context.Context, opts jobstore.ListOptions) ([]*domain.Job, error)
	Results(ctx context.Context, id string) ([]domain.ItemResult, error)
	Delete(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) (orchestrator.ControlResult, error)
	Resume(ctx context.Context, id string) (orchestrator.ControlResult, error)
	Cancel(ctx context.Context, id string) (orchestrator.ControlResult, error)
	Restart(ctx context.Context, id string) (orchestrator.ControlResult, error)
}

// Debug is the debug capture API. *debugcapture.Capture implements it.
type Debug interface {
	Enable(minutes int) (debugcapture.Session, error)
	Disable()
	Status() debugcapture.Status
	Summary(jobID string) (*debugcapture.Summary, error)
	Log(jobID string) ([]byte, error)
	Cleanup(olderThanDays int) (int, error)
}

// Pinger reports whether the job store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Server. Jobs is required. Events is
// created when nil.
type Deps struct {
	Jobs     Jobs
	Debug    Debug
	Progress *progress.Handler
	Health   Pinger
	Events   *SSEHub
}

// Server is the HTTP API server
type Server struct {
	deps   Deps
	addr   string
	router chi.Router
	sseHub *SSEHub
}

// NewServer creates a new API server
func NewServer(deps Deps, addr string) *Server {
	hub := deps.Events
	if hub == nil {
		hub = NewSSEHub()
	}
	s := &Server{
		deps:   deps,
		addr:   addr,
		router: chi.NewRouter(),
		sseHub: hub,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.healthHandler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.createJobHandler())
		r.Get("/jobs", s.listJobsHandler())
		r.Get("/jobs/{id}", s.getJobHandler())
		r.Delete("/jobs/{id}", s.deleteJobHandler())
		r.Get("/jobs/{id}/results", s.resultsHandler())
		r.Post("/jobs/{id}/pause", s.controlHandler(s.deps.Jobs.Pause))
		r.Post("/jobs/{id}/resume", s.controlHandler(s.deps.Jobs.Resume))
		r.Post("/jobs/{id}/cancel", s.controlHandler(s.deps.Jobs.Cancel))
		r.Post("/jobs/{id}/restart", s.controlHandler(s.deps.Jobs.Restart))
		r.Get("/events", s.sseHandler())

		if s.deps.Debug != nil {
			r.Route("/debug", func(r chi.Router) {
				r.Post("/enable", s.debugEnableHandler())
				r.Post("/disable", s.debugDisableHandler())
				r.Get("/status", s.debugStatusHandler())
				r.Post("/cleanup", s.debugCleanupHandler())
				r.Get("/jobs/{id}/summary", s.debugSummaryHandler())
				r.Get("/jobs/{id}/log", s.debugLogHandler())
			})
		}
	})

	if s.deps.Progress != nil {
		r.Get("/ws/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
			s.deps.Progress.ServeJob(w, r, chi.URLParam(r, "id"))
		})
	}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// SSEHub returns the hub feeding /api/events. Register it as an
// orchestrator listener.
func (s *Server) SSEHub() *SSEHub {
	return s.sseHub
}

// Serve runs the HTTP server until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	go s.sseHub.Run(ctx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("api listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Health != nil {
			if err := s.deps.Health.Ping(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "store unavailable: "+err.Error())
				return
			}
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrJobNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("api: %v", err)
	}
	writeError(w, code, err.Error())
}
