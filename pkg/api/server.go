// Package api exposes the retry service over a small JSON HTTP surface.
// Validation outcomes are answers, not errors: a non-resumable execution is a
// 200 with isResumable=false, while only malformed requests and
// infrastructure failures map to error status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/restage/restage/pkg/engine"
	"github.com/restage/restage/pkg/pipeline"
	"github.com/restage/restage/pkg/telemetry"
)

// RetryAPI is the slice of the retry service the HTTP surface needs.
type RetryAPI interface {
	ValidateRetry(ctx context.Context, planExecutionID, pipelineIdentifier string) (pipeline.RetryInfo, error)
	FetchOnlyFailedStages(ctx context.Context, planExecutionID string, retryStages []string) ([]string, error)
	GetRetryHistory(ctx context.Context, rootExecutionID string) (*engine.RetryHistory, error)
	GetRetryLatestExecutionID(ctx context.Context, rootExecutionID string) (string, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP handler set of the service.
type Server struct {
	retry    RetryAPI
	health   HealthChecker
	logger   *telemetry.Logger
	validate *validator.Validate
}

// NewServer creates the HTTP surface over the retry service. tel may be nil.
func NewServer(retry RetryAPI, health HealthChecker, tel *telemetry.Telemetry) *Server {
	s := &Server{
		retry:    retry,
		health:   health,
		validate: validator.New(),
	}
	if tel != nil {
		s.logger = tel.Logger.NewComponentLogger("api")
	} else {
		s.logger = telemetry.FromContext(context.Background())
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /retry/stages", s.handleRetryStages)
	mux.HandleFunc("POST /retry/failed-stages", s.handleFailedStages)
	mux.HandleFunc("GET /retry/history/{rootExecutionId}", s.handleRetryHistory)
	mux.HandleFunc("GET /retry/latest/{rootExecutionId}", s.handleRetryLatest)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// retryStagesRequest asks where a failed execution can resume from.
type retryStagesRequest struct {
	PlanExecutionID    string `json:"planExecutionId" validate:"required"`
	PipelineIdentifier string `json:"pipelineIdentifier" validate:"required"`
}

func (s *Server) handleRetryStages(w http.ResponseWriter, r *http.Request) {
	var req retryStagesRequest
	if !s.decode(w, r, &req) {
		return
	}

	info, err := s.retry.ValidateRetry(r.Context(), req.PlanExecutionID, req.PipelineIdentifier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// failedStagesRequest narrows a parallel-group retry to failed members.
type failedStagesRequest struct {
	PlanExecutionID string   `json:"planExecutionId" validate:"required"`
	RetryStages     []string `json:"retryStages" validate:"required,min=1,dive,required"`
}

type failedStagesResponse struct {
	FailedStages []string `json:"failedStages"`
}

func (s *Server) handleFailedStages(w http.ResponseWriter, r *http.Request) {
	var req failedStagesRequest
	if !s.decode(w, r, &req) {
		return
	}

	failed, err := s.retry.FetchOnlyFailedStages(r.Context(), req.PlanExecutionID, req.RetryStages)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, failedStagesResponse{FailedStages: failed})
}

func (s *Server) handleRetryHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.retry.GetRetryHistory(r.Context(), r.PathValue("rootExecutionId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

type retryLatestResponse struct {
	LatestExecutionID string `json:"latestExecutionId"`
}

func (s *Server) handleRetryLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.retry.GetRetryLatestExecutionID(r.Context(), r.PathValue("rootExecutionId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, retryLatestResponse{LatestExecutionID: latest})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.HealthCheck(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode parses and validates a JSON request body. It writes the 400 itself
// and reports whether the handler should proceed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("malformed request body: "+err.Error()))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid request: "+err.Error()))
		return false
	}
	return true
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func errorBody(msg string) apiError {
	return apiError{Error: msg}
}

// writeError maps the engine error taxonomy onto HTTP status codes: missing
// records are 404, rejected requests 400, everything else is a server-side
// failure.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		switch {
		case engErr.Code == engine.ErrCodeNotFound:
			status = http.StatusNotFound
		case engine.IsPermanent(err):
			status = http.StatusBadRequest
		}
		s.logger.WithError(err).Errorf("%s %s failed", r.Method, r.URL.Path)
		s.writeJSON(w, status, apiError{Error: engErr.Message, Code: engErr.Code})
		return
	}

	s.logger.WithError(err).Errorf("%s %s failed", r.Method, r.URL.Path)
	s.writeJSON(w, status, errorBody("internal error"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
