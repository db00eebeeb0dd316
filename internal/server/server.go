// Package server is the HTTP + WebSocket API surface over the orchestrator.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raysh454/miru/internal/app"
	"github.com/raysh454/miru/internal/baseline"
	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

// Server exposes suite runs, baselines and spend statistics.
type Server struct {
	cfg          Config
	orchestrator *app.Orchestrator
	baselines    *baseline.Store
	router       chi.Router
	upgrader     websocket.Upgrader
	logger       logging.Logger
}

// NewServer wires the API over an already-built orchestrator. baselines may
// be nil; the baseline routes then answer 503.
func NewServer(cfg Config, orch *app.Orchestrator, baselines *baseline.Store) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}

	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		baselines:    baselines,
		router:       chi.NewRouter(),
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}
	s.routes()
	return s
}

// Orchestrator returns the underlying orchestrator for advanced use (tests, etc.).
func (s *Server) Orchestrator() *app.Orchestrator {
	return s.orchestrator
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/runs", s.optionsHandler("POST"))
	r.Options("/discover", s.optionsHandler("POST"))
	r.Options("/jobs", s.optionsHandler("GET"))
	r.Options("/jobs/{jobID}", s.optionsHandler("GET, DELETE"))
	r.Options("/baselines", s.optionsHandler("GET"))
	r.Options("/baselines/{test}", s.optionsHandler("DELETE"))
	r.Options("/stats", s.optionsHandler("GET"))
	r.Options("/ws/runs", s.optionsHandler("GET"))

	// Suite runs
	r.Post("/runs", s.handleStartRun)
	r.Post("/discover", s.handleDiscover)

	// Jobs over REST
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{jobID}", s.handleGetJob)
	r.Delete("/jobs/{jobID}", s.handleCancelJob)

	// Baselines
	r.Get("/baselines", s.handleListBaselines)
	r.Delete("/baselines/{test}", s.handleDeleteBaseline)

	// Spend and cache statistics
	r.Get("/stats", s.handleStats)

	// WebSocket run progress
	r.Get("/ws/runs", s.handleRunWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- HTTP handlers ---

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Target == "" && len(body.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, "target or tasks required")
		return
	}

	job, err := s.orchestrator.StartSuiteJob(context.Background(), body.Target, body.Tasks)
	if err != nil {
		s.logger.Warn("starting suite job", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("started suite job",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "target", Value: body.Target})
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var body discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Target == "" {
		writeError(w, http.StatusBadRequest, "target required")
		return
	}

	tasks, err := s.orchestrator.DiscoverTasks(r.Context(), body.Target)
	if err != nil {
		s.logger.Warn("discovering tasks", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("discovered tasks",
		logging.Field{Key: "target", Value: body.Target},
		logging.Field{Key: "count", Value: len(tasks)})
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.orchestrator.ListJobs()
	s.logger.Info("listed jobs", logging.Field{Key: "count", Value: len(jobs)})
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		s.logger.Warn("getting job: not found", logging.Field{Key: "job_id", Value: jobID})
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	s.orchestrator.CancelJob(jobID)
	s.logger.Info("canceled job", logging.Field{Key: "job_id", Value: jobID})
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	if s.baselines == nil {
		writeError(w, http.StatusServiceUnavailable, "baseline store not configured")
		return
	}
	infos, err := s.baselines.List()
	if err != nil {
		s.logger.Warn("listing baselines", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleDeleteBaseline(w http.ResponseWriter, r *http.Request) {
	if s.baselines == nil {
		writeError(w, http.StatusServiceUnavailable, "baseline store not configured")
		return
	}
	test := chi.URLParam(r, "test")
	branch := r.URL.Query().Get("branch")

	if err := s.baselines.Delete(test, branch); err != nil {
		if errors.Is(err, model.ErrBaselineNotFound) {
			writeError(w, http.StatusNotFound, "baseline not found")
			return
		}
		s.logger.Warn("deleting baseline", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("deleted baseline",
		logging.Field{Key: "test", Value: test},
		logging.Field{Key: "branch", Value: branch})
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ai := s.orchestrator.VisionClient()
	if ai == nil {
		writeJSON(w, http.StatusOK, statsResponse{})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Cache:  ai.CacheStats(r.Context()),
		Cost:   ai.CostStats(),
		Budget: ai.BudgetStatus(),
	})
}

// WebSockets

func (s *Server) handleRunWS(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing target query parameter")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	job, err := s.orchestrator.StartSuiteJob(r.Context(), target, nil)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		s.logger.Warn("starting suite job", logging.Field{Key: "error", Value: err.Error()})
		return
	}

	s.logger.Info("started suite job", logging.Field{Key: "job_id", Value: job.ID})
	_ = conn.WriteJSON(job)

	for ev := range job.Events {
		if err := conn.WriteJSON(ev); err != nil {
			// Assume client disconnected; cancel job
			s.orchestrator.CancelJob(job.ID)
			return
		}
	}
}
