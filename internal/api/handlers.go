package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/HelloWorldSungin/claude-strategist/internal/delivery"
	"github.com/HelloWorldSungin/claude-strategist/internal/relay"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

var validate = validator.New()

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Dispatcher != nil {
		resp.Admission = s.deps.Dispatcher.Stats()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

// handleCommand runs one chat command and returns every reply segment.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		s.writeError(w, http.StatusNotFound, "command relay not configured")
		return
	}

	var req CommandRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "principal and class are required")
		return
	}

	var buf delivery.Buffer
	out := s.deps.Dispatcher.Dispatch(r.Context(), relay.Request{
		Principal:  req.Principal,
		Class:      relay.Class(req.Class),
		Payload:    req.Payload,
		ReceivedAt: s.now(),
	}, &buf)

	resp := CommandResponse{
		RequestID: out.RequestID,
		Class:     string(out.Class),
		State:     string(out.State),
		Segments:  buf.Segments(),
	}
	if resp.Segments == nil {
		resp.Segments = []string{}
	}
	if out.Err != nil {
		resp.Reason = relay.Classify(out.Err)
	}

	status := statusFor(out)
	if errors.Is(out.Err, relay.ErrRateLimited) {
		if st := s.deps.Dispatcher.Stats(); st.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(st.RetryAfterSeconds))
		}
	}
	respondJSON(w, status, resp)
}

// statusFor maps a relay outcome to an HTTP status.
func statusFor(out relay.Outcome) int {
	switch out.State {
	case relay.StateCompleted:
		return http.StatusOK
	case relay.StateAccepted:
		return http.StatusAccepted
	case relay.StateFailed:
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(out.Err, relay.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(out.Err, relay.ErrRateLimited), errors.Is(out.Err, relay.ErrConcurrencyLimited):
		return http.StatusTooManyRequests
	case errors.Is(out.Err, relay.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(out.Err, relay.ErrExecutorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		s.writeError(w, http.StatusNotFound, "cache not configured")
		return
	}
	entries, err := s.deps.Cache.List()
	if err != nil {
		s.logger.Error("failed to list cache", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list cache")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		s.writeError(w, http.StatusNotFound, "cache not configured")
		return
	}
	name := chi.URLParam(r, "name")
	doc, ok := s.deps.Cache.Read(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no cached document %q", name))
		return
	}
	respondJSON(w, http.StatusOK, CacheResponse{
		Name:       doc.Name,
		ModTime:    doc.ModTime.UTC(),
		AgeSeconds: int64(math.Max(0, s.now().Sub(doc.ModTime).Seconds())),
		Data:       doc.Data,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeError(w, http.StatusNotFound, "run records not configured")
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := s.deps.Runs.Recent(r.Context(), r.URL.Query().Get("job"), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Freshness == nil {
		s.writeError(w, http.StatusNotFound, "freshness watchdog not enabled")
		return
	}
	resp := FreshnessResponse{OK: true, Issues: []string{}}
	if rep, ok := s.deps.Freshness.Last(); ok {
		at := rep.CheckedAt.UTC()
		resp.CheckedAt = &at
		resp.OK = rep.OK()
		if rep.Issues != nil {
			resp.Issues = rep.Issues
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
