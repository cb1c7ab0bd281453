// Package api exposes the operational HTTP surface: health probes,
// Prometheus metrics, ad hoc runs, and scheduler control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
	"github.com/finsight/newsengine/internal/pipeline"
	"github.com/finsight/newsengine/internal/scheduler"
)

const (
	defaultArticleLimit = 50
	maxArticleLimit     = 500
	processTimeout      = 10 * time.Minute
)

// Scheduler is the slice of the governor the API needs.
type Scheduler interface {
	TriggerNow(ctx context.Context, sourceID int64) bool
	Pause(ctx context.Context, sourceID int64) error
	Resume(ctx context.Context, sourceID int64) error
	ListJobs() []scheduler.JobStatus
	SetGlobalPause(paused bool)
	GlobalPaused() bool
}

// Runner executes one ingestion run synchronously.
type Runner interface {
	Run(ctx context.Context, source engine.Source) (*pipeline.RunState, error)
}

// Server wires HTTP handlers to the runner, scheduler, and stores.
type Server struct {
	router    chi.Router
	runner    Runner
	sched     Scheduler
	sources   engine.SourceStore
	articles  engine.ArticleStore
	gatherer  prometheus.Gatherer
	readiness func(context.Context) error
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. readiness
// may be nil; then /readyz always reports ready.
func NewServer(
	runner Runner,
	sched Scheduler,
	sources engine.SourceStore,
	articles engine.ArticleStore,
	gatherer prometheus.Gatherer,
	readiness func(context.Context) error,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:    runner,
		sched:     sched,
		sources:   sources,
		articles:  articles,
		gatherer:  gatherer,
		readiness: readiness,
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/process", s.process)
		r.Get("/articles", s.listArticles)
		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/jobs", s.listJobs)
			r.Post("/pause", s.globalPause(true))
			r.Post("/resume", s.globalPause(false))
		})
		r.Route("/sources/{source_id}", func(r chi.Router) {
			r.Post("/trigger", s.triggerSource)
			r.Post("/pause", s.pauseSource)
			r.Post("/resume", s.resumeSource)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.readiness != nil {
		if err := s.readiness(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type processRequest struct {
	SourceID int64  `json:"source_id,omitempty"`
	URL      string `json:"url,omitempty"`
}

type itemResultDTO struct {
	URL     string `json:"url"`
	Outcome string `json:"outcome"`
}

type processResponse struct {
	RunID   string          `json:"run_id"`
	Status  string          `json:"status"`
	Stage   string          `json:"stage"`
	Items   []itemResultDTO `json:"items"`
	Errors  []string        `json:"errors,omitempty"`
	Elapsed string          `json:"elapsed"`
}

// process runs one source end to end and returns the run summary.
// Accepts either a stored source_id or a bare url for ad hoc runs.
func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var src engine.Source
	switch {
	case req.SourceID > 0:
		var err error
		src, err = s.sources.GetSource(r.Context(), req.SourceID)
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		if err != nil {
			s.logger.Error("source lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "source lookup failed")
			return
		}
	case req.URL != "":
		src = engine.Source{Name: "ad hoc", URL: req.URL, Kind: engine.KindHTML, Status: engine.StatusActive}
	default:
		writeError(w, http.StatusBadRequest, "source_id or url is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), processTimeout)
	defer cancel()

	start := time.Now()
	st, err := s.runner.Run(ctx, src)
	if err != nil {
		s.logger.Error("ad hoc run failed", zap.String("url", src.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := processResponse{
		RunID:   st.RunID,
		Status:  string(st.Status),
		Stage:   string(st.Stage),
		Items:   make([]itemResultDTO, 0, len(st.Results)),
		Errors:  st.Errors,
		Elapsed: time.Since(start).Round(time.Millisecond).String(),
	}
	for _, res := range st.Results {
		resp.Items = append(resp.Items, itemResultDTO{URL: res.URL, Outcome: string(res.Outcome)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	limit := defaultArticleLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxArticleLimit {
			writeError(w, http.StatusBadRequest, "limit must be 1..500")
			return
		}
		limit = n
	}
	articles, err := s.articles.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list articles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles})
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"paused": s.sched.GlobalPaused(),
		"jobs":   s.sched.ListJobs(),
	})
}

func (s *Server) globalPause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.sched.SetGlobalPause(paused)
		writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
	}
}

func (s *Server) sourceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "source_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return 0, false
	}
	return id, true
}

func (s *Server) triggerSource(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sourceID(w, r)
	if !ok {
		return
	}
	if !s.sched.TriggerNow(r.Context(), id) {
		writeError(w, http.StatusConflict, "source unknown or already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"source_id": id, "triggered": true})
}

func (s *Server) pauseSource(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sourceID(w, r)
	if !ok {
		return
	}
	if err := s.sched.Pause(r.Context(), id); err != nil {
		s.sourceActionError(w, id, "pause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_id": id, "status": engine.StatusPaused})
}

func (s *Server) resumeSource(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sourceID(w, r)
	if !ok {
		return
	}
	if err := s.sched.Resume(r.Context(), id); err != nil {
		s.sourceActionError(w, id, "resume", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_id": id, "status": engine.StatusActive})
}

func (s *Server) sourceActionError(w http.ResponseWriter, id int64, action string, err error) {
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	s.logger.Error("source action failed",
		zap.String("action", action), zap.Int64("source_id", id), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "source "+action+" failed")
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
