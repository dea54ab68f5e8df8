package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"price-aggregator/internal/models"
	"price-aggregator/internal/queue"
	"price-aggregator/internal/ratelimit"
	"price-aggregator/internal/sink"
	"price-aggregator/internal/telemetry"
)

// JobQueue is the producer side of the job queue.
type JobQueue interface {
	Enqueue(ctx context.Context, location, query string) (models.Job, error)
	GetState(ctx context.Context, jobID string) (models.JobStateView, error)
	DeadPeek(ctx context.Context, count int64) ([]string, error)
	Ping(ctx context.Context) error
}

// Limiter guards job submission per client.
type Limiter interface {
	Allow(ctx context.Context, client string) (ratelimit.Decision, error)
}

// AuditReader exposes a job's audit trail.
type AuditReader interface {
	AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error)
}

// Server wires HTTP handlers for the request surface.
type Server struct {
	queue   JobQueue
	results sink.Sink
	limiter Limiter
	audit   AuditReader
	logger  *slog.Logger
}

// New constructs the API server. limiter and audit may be nil.
func New(q JobQueue, results sink.Sink, limiter Limiter, audit AuditReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		queue:   q,
		results: results,
		limiter: limiter,
		audit:   audit,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleEnqueue)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/result", s.handleGetResult)
	r.Get("/jobs/{id}/audit", s.handleAudit)
	r.Get("/results/latest", s.handleLatest)
	r.Get("/dlq", s.handleDLQ)

	r.Route("/scrape", func(r chi.Router) {
		r.Get("/start", s.handleLegacyStart)
		r.Get("/status/{jobId}", s.handleLegacyStatus)
		r.Get("/result", s.handleLegacyResult)
	})
	return telemetry.WrapHTTP("aggregator-api", r)
}

type enqueueRequest struct {
	Location string `json:"location"`
	Query    string `json:"query"`
}

type enqueueResponse struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// maxSubmitBytes caps a job submission body.
const maxSubmitBytes = 64 << 10

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	job, status, msg := s.submit(r, req.Location, req.Query)
	if status != http.StatusAccepted {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: job.ID})
}

// submit applies the rate limit and enqueues. It returns the HTTP status to answer with.
func (s *Server) submit(r *http.Request, location, query string) (models.Job, int, string) {
	location = strings.TrimSpace(location)
	query = strings.TrimSpace(query)
	if location == "" || query == "" {
		return models.Job{}, http.StatusBadRequest, "location and query are required"
	}

	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			s.logger.Error("rate limit check", "err", err)
			return models.Job{}, http.StatusServiceUnavailable, "rate limiter unavailable"
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			return models.Job{}, http.StatusTooManyRequests, "rate limited"
		}
	}

	job, err := s.queue.Enqueue(r.Context(), location, query)
	switch {
	case errors.Is(err, queue.ErrInvalidJob):
		return models.Job{}, http.StatusBadRequest, err.Error()
	case err != nil:
		s.logger.Error("enqueue failed", "err", err)
		return models.Job{}, http.StatusServiceUnavailable, "queue unavailable"
	}
	telemetry.EnqueueCounter.Inc()
	s.logger.Info("job enqueued", "job_id", job.ID, "location", job.Location, "query", job.Query)
	return job, http.StatusAccepted, ""
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	view, ok := s.lookup(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, id string) (models.JobStateView, bool) {
	view, err := s.queue.GetState(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return view, false
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return view, false
	}
	return view, true
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.results.Read(r.Context(), chi.URLParam(r, "id"))
	s.writeResult(w, res, err)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	res, err := s.results.ReadLatest(r.Context())
	s.writeResult(w, res, err)
}

func (s *Server) writeResult(w http.ResponseWriter, res models.AggregateResult, err error) {
	switch {
	case errors.Is(err, sink.ErrNotFound):
		writeError(w, http.StatusNotFound, "result not found")
	case err != nil:
		s.logger.Error("read result", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read result")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit trail not enabled")
		return
	}
	rows, err := s.audit.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read audit trail")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

// handleDLQ returns the dead-lettered job ids.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.DeadPeek(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to read dlq")
		return
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleLegacyStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	job, status, msg := s.submit(r, q.Get("pincode"), q.Get("product"))
	if status != http.StatusAccepted {
		if status == http.StatusBadRequest {
			msg = "pincode and product are required"
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobId": job.ID})
}

func (s *Server) handleLegacyStatus(w http.ResponseWriter, r *http.Request) {
	view, ok := s.lookup(w, r, chi.URLParam(r, "jobId"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": view.State, "progress": view.Progress})
}

func (s *Server) handleLegacyResult(w http.ResponseWriter, r *http.Request) {
	s.handleLatest(w, r)
}

// clientKey identifies the submitter for rate limiting.
func clientKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Client-ID")); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
