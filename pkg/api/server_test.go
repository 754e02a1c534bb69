package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/restage/restage/pkg/engine"
	"github.com/restage/restage/pkg/pipeline"
)

type stubRetry struct {
	validateInfo pipeline.RetryInfo
	validateErr  error
	failedStages []string
	failedErr    error
	history      *engine.RetryHistory
	historyErr   error
	latest       string
	latestErr    error
}

func (s *stubRetry) ValidateRetry(_ context.Context, _, _ string) (pipeline.RetryInfo, error) {
	return s.validateInfo, s.validateErr
}

func (s *stubRetry) FetchOnlyFailedStages(_ context.Context, _ string, _ []string) ([]string, error) {
	return s.failedStages, s.failedErr
}

func (s *stubRetry) GetRetryHistory(_ context.Context, _ string) (*engine.RetryHistory, error) {
	return s.history, s.historyErr
}

func (s *stubRetry) GetRetryLatestExecutionID(_ context.Context, _ string) (string, error) {
	return s.latest, s.latestErr
}

type stubHealth struct{ err error }

func (s *stubHealth) HealthCheck(context.Context) error { return s.err }

func newTestServer(retry *stubRetry, health *stubHealth) http.Handler {
	if health == nil {
		health = &stubHealth{}
	}
	return NewServer(retry, health, nil).Handler()
}

func TestServer_RetryStages_Resumable(t *testing.T) {
	retry := &stubRetry{
		validateInfo: pipeline.RetryInfo{
			IsResumable: true,
			Groups: []pipeline.RetryGroup{
				{Info: []pipeline.RetryStageInfo{{Identifier: "build", Status: pipeline.StatusFailed}}},
			},
		},
	}
	handler := newTestServer(retry, nil)

	body := `{"planExecutionId":"exec-1","pipelineIdentifier":"deploy"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retry/stages", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var info pipeline.RetryInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !info.IsResumable || len(info.Groups) != 1 {
		t.Errorf("unexpected response: %+v", info)
	}
}

func TestServer_RetryStages_NotResumableIsStill200(t *testing.T) {
	retry := &stubRetry{
		validateInfo: pipeline.RetryInfo{
			IsResumable:  false,
			ErrorMessage: "Pipeline is updated, cannot retry",
		},
	}
	handler := newTestServer(retry, nil)

	body := `{"planExecutionId":"exec-1","pipelineIdentifier":"deploy"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retry/stages", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("validation outcomes are answers, expected 200, got %d", rec.Code)
	}
	var info pipeline.RetryInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if info.IsResumable || info.ErrorMessage == "" {
		t.Errorf("unexpected response: %+v", info)
	}
}

func TestServer_RetryStages_MissingFields(t *testing.T) {
	handler := newTestServer(&stubRetry{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retry/stages", strings.NewReader(`{"planExecutionId":"exec-1"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing pipelineIdentifier, got %d", rec.Code)
	}
}

func TestServer_RetryStages_MalformedBody(t *testing.T) {
	handler := newTestServer(&stubRetry{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retry/stages", strings.NewReader(`{not json`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestServer_RetryStages_StoreFailureIs500(t *testing.T) {
	retry := &stubRetry{
		validateErr: engine.NewTransientError("store down", nil).WithCode(engine.ErrCodeStoreUnavailable),
	}
	handler := newTestServer(retry, nil)

	body := `{"planExecutionId":"exec-1","pipelineIdentifier":"deploy"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retry/stages", strings.NewReader(body)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for infrastructure failure, got %d", rec.Code)
	}
}

func TestServer_FailedStages(t *testing.T) {
	retry := &stubRetry{failedStages: []string{"unit", "integration"}}
	handler := newTestServer(retry, nil)

	body := `{"planExecutionId":"exec-1","retryStages":["unit","lint","integration"]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retry/failed-stages", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp failedStagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.FailedStages) != 2 {
		t.Errorf("expected 2 failed stages, got %v", resp.FailedStages)
	}
}

func TestServer_FailedStages_InvalidRequestIs400(t *testing.T) {
	retry := &stubRetry{
		failedErr: engine.NewPermanentError("retry stages not found in execution", nil).
			WithCode(engine.ErrCodeInvalidRequest),
	}
	handler := newTestServer(retry, nil)

	body := `{"planExecutionId":"exec-1","retryStages":["stranger"]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retry/failed-stages", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Code != engine.ErrCodeInvalidRequest {
		t.Errorf("expected INVALID_REQUEST code, got %q", resp.Code)
	}
}

func TestServer_FailedStages_EmptyStageList(t *testing.T) {
	handler := newTestServer(&stubRetry{}, nil)

	body := `{"planExecutionId":"exec-1","retryStages":[]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retry/failed-stages", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty stage list, got %d", rec.Code)
	}
}

func TestServer_RetryHistory(t *testing.T) {
	retry := &stubRetry{
		history: &engine.RetryHistory{
			LatestExecutionID: "exec-3",
			Executions: []engine.ExecutionSummary{
				{UUID: "exec-3"}, {UUID: "exec-2"}, {UUID: "exec-1"},
			},
		},
	}
	handler := newTestServer(retry, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/retry/history/exec-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp engine.RetryHistory
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.LatestExecutionID != "exec-3" || len(resp.Executions) != 3 {
		t.Errorf("unexpected history: %+v", resp)
	}
}

func TestServer_RetryLatest_NotFoundIs404(t *testing.T) {
	retry := &stubRetry{
		latestErr: engine.NewPermanentError("no executions recorded", nil).
			WithCode(engine.ErrCodeNotFound),
	}
	handler := newTestServer(retry, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/retry/latest/ghost", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServer_Healthz(t *testing.T) {
	handler := newTestServer(&stubRetry{}, &stubHealth{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServer_Healthz_Unhealthy(t *testing.T) {
	handler := newTestServer(&stubRetry{}, &stubHealth{err: context.DeadlineExceeded})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
