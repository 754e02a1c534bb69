package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/restage/restage/pkg/pipeline"
	"github.com/restage/restage/pkg/plan"
	"github.com/restage/restage/pkg/telemetry"
)

// DefaultMaxRetryAge is how far back an execution may lie and still be
// retried.
const DefaultMaxRetryAge = 30 * 24 * time.Hour

// User-facing validation messages. These travel to the API response verbatim
// inside RetryInfo.ErrorMessage; validation failures are answers, not errors.
const (
	msgPipelineNotFound   = "Pipeline with the given ID: %s does not exist or has been deleted"
	msgNoPlanExecution    = "No Plan Execution exists for id %s"
	msgNotLatestExecution = "This execution is not the latest of all retried execution. You can only retry the latest execution."
	msgExecutionTooOld    = "Execution is more than 30 days old. Cannot retry"
	msgPipelineUpdated    = "Pipeline is updated, cannot retry"
	msgEmptyRetryHistory  = "Nothing to show in retry history"
)

// ResumePlan is the full output of preparing a resumed run: the rewritten
// processed YAML, the transformed plan, and the stages being replayed by
// reference.
type ResumePlan struct {
	// Yaml is the rewritten processed YAML for the resumed run.
	Yaml string `json:"yaml"`

	// Plan is the compiled plan with replayed nodes converted to identity
	// nodes.
	Plan plan.Plan `json:"plan"`

	// SkipUUIDs are the yaml node UUIDs replayed by reference.
	SkipUUIDs []string `json:"skip_uuids"`

	// SkipIdentifiers are the stage identifiers replayed by reference.
	SkipIdentifiers []string `json:"skip_identifiers"`
}

// RetryHistory describes the attempt chain of a logical run.
type RetryHistory struct {
	// ErrorMessage is set when there is no history to show.
	ErrorMessage string `json:"error_message,omitempty"`

	// LatestExecutionID is the most recent attempt's plan execution ID.
	LatestExecutionID string `json:"latest_execution_id,omitempty"`

	// Executions lists all attempts, newest first.
	Executions []ExecutionSummary `json:"executions,omitempty"`
}

// RetryService resolves retryable stages for failed executions and prepares
// resumed runs. All yaml and plan work is delegated to the pure transforms in
// pkg/pipeline and pkg/plan; this layer adds the store lookups, validation
// messages, and instrumentation around them.
type RetryService struct {
	history   ExecutionHistoryStore
	pipelines PipelineStore
	compiler  PlanCompiler

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher

	maxRetryAge time.Duration
}

// RetryServiceOption configures a RetryService.
type RetryServiceOption func(*RetryService)

// WithMaxRetryAge overrides the maximum age an execution may have and still
// be retried.
func WithMaxRetryAge(d time.Duration) RetryServiceOption {
	return func(s *RetryService) {
		s.maxRetryAge = d
	}
}

// NewRetryService creates a retry service over the given stores. tel may be
// nil, in which case the service runs without instrumentation.
func NewRetryService(history ExecutionHistoryStore, pipelines PipelineStore, compiler PlanCompiler, tel *telemetry.Telemetry, opts ...RetryServiceOption) *RetryService {
	s := &RetryService{
		history:     history,
		pipelines:   pipelines,
		compiler:    compiler,
		maxRetryAge: DefaultMaxRetryAge,
	}

	if tel != nil {
		s.logger = tel.Logger.NewComponentLogger("retry_engine")
		s.metrics = tel.Metrics
		s.events = tel.Events
	} else {
		s.logger = telemetry.FromContext(context.Background())
		s.metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
		s.events, _ = telemetry.NewEventPublisher(telemetry.EventsConfig{})
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetRetryStages determines where a failed execution can be resumed from.
// updatedYaml is the pipeline's current processed YAML, executedYaml the one
// recorded for the previous run. An empty planExecutionID means there is no
// retryable run and yields an empty RetryInfo.
func (s *RetryService) GetRetryStages(ctx context.Context, updatedYaml, executedYaml, planExecutionID, pipelineIdentifier string) (pipeline.RetryInfo, error) {
	if planExecutionID == "" {
		return pipeline.RetryInfo{}, nil
	}

	logger := s.logger.WithPlanExecutionID(planExecutionID).WithPipelineID(pipelineIdentifier)

	if !pipeline.ValidateRetry(updatedYaml, executedYaml) {
		logger.Info("Execution not resumable, pipeline structure changed")
		s.metrics.RecordRetryValidation(false)
		_ = s.events.PublishRetryValidated(planExecutionID, false, msgPipelineUpdated)
		return pipeline.RetryInfo{
			IsResumable:  false,
			ErrorMessage: msgPipelineUpdated,
		}, nil
	}

	stages, err := s.history.GetStageDetails(ctx, planExecutionID)
	if err != nil {
		return pipeline.RetryInfo{}, NewTransientError("fetching stage details", err).
			WithCode(ErrCodeStoreUnavailable).
			WithExecution(planExecutionID).
			WithOperation("GetRetryStages")
	}

	info := pipeline.GetRetryInfo(stages)
	s.metrics.RecordRetryValidation(true)
	_ = s.events.PublishRetryValidated(planExecutionID, true, "")
	logger.Debugf("Resolved %d retry groups", len(info.Groups))
	return info, nil
}

// ValidateRetry runs the full precondition chain for retrying a plan
// execution and, when every check passes, returns the grouped retry stages.
// Precondition failures are reported through RetryInfo.ErrorMessage; only
// infrastructure failures surface as errors.
func (s *RetryService) ValidateRetry(ctx context.Context, planExecutionID, pipelineIdentifier string) (pipeline.RetryInfo, error) {
	notResumable := func(msg string) (pipeline.RetryInfo, error) {
		s.metrics.RecordRetryValidation(false)
		_ = s.events.PublishRetryValidated(planExecutionID, false, msg)
		return pipeline.RetryInfo{IsResumable: false, ErrorMessage: msg}, nil
	}

	currentYaml, err := s.pipelines.GetPipelineYaml(ctx, pipelineIdentifier)
	if err != nil {
		if isNotFound(err) {
			return notResumable(fmt.Sprintf(msgPipelineNotFound, pipelineIdentifier))
		}
		return pipeline.RetryInfo{}, NewTransientError("fetching pipeline yaml", err).
			WithCode(ErrCodeStoreUnavailable).
			WithOperation("ValidateRetry")
	}

	summary, err := s.history.GetExecutionSummary(ctx, planExecutionID)
	if err != nil {
		if isNotFound(err) {
			return notResumable(fmt.Sprintf(msgNoPlanExecution, planExecutionID))
		}
		return pipeline.RetryInfo{}, NewTransientError("fetching execution summary", err).
			WithCode(ErrCodeStoreUnavailable).
			WithExecution(planExecutionID).
			WithOperation("ValidateRetry")
	}

	latestID, err := s.GetRetryLatestExecutionID(ctx, summary.RootExecutionID)
	if err != nil {
		return pipeline.RetryInfo{}, err
	}
	if latestID != planExecutionID {
		return notResumable(msgNotLatestExecution)
	}

	if time.Since(summary.StartTS) > s.maxRetryAge {
		return notResumable(msgExecutionTooOld)
	}

	executedYaml, err := s.history.GetProcessedYaml(ctx, planExecutionID)
	if err != nil {
		return pipeline.RetryInfo{}, NewTransientError("fetching processed yaml", err).
			WithCode(ErrCodeStoreUnavailable).
			WithExecution(planExecutionID).
			WithOperation("ValidateRetry")
	}

	return s.GetRetryStages(ctx, currentYaml, executedYaml, planExecutionID, pipelineIdentifier)
}

// FetchOnlyFailedStages narrows a parallel-group retry to its failed members.
// retryStages must all belong to one parallel retry group of the execution.
func (s *RetryService) FetchOnlyFailedStages(ctx context.Context, planExecutionID string, retryStages []string) ([]string, error) {
	stages, err := s.history.GetStageDetails(ctx, planExecutionID)
	if err != nil {
		return nil, NewTransientError("fetching stage details", err).
			WithCode(ErrCodeStoreUnavailable).
			WithExecution(planExecutionID).
			WithOperation("FetchOnlyFailedStages")
	}

	info := pipeline.GetRetryInfo(stages)
	group, ok := groupContaining(info, retryStages)
	if !ok {
		return nil, NewPermanentError("retry stages not found in execution", nil).
			WithCode(ErrCodeInvalidRequest).
			WithExecution(planExecutionID).
			WithDetail("retry_stages", retryStages)
	}

	failed, err := pipeline.FetchOnlyFailedStages(group.Info, retryStages)
	if err != nil {
		return nil, NewPermanentError(err.Error(), err).
			WithCode(ErrCodeInvalidRequest).
			WithExecution(planExecutionID)
	}
	return failed, nil
}

// PrepareResume builds everything a resumed run needs: the rewritten
// processed YAML, the freshly compiled plan with replayed nodes swapped for
// identity nodes, and the skip sets. currentYaml is the re-processed YAML of
// the pipeline as it stands now; retryStages are the stage identifiers the
// run restarts from.
func (s *RetryService) PrepareResume(ctx context.Context, planExecutionID, currentYaml string, retryStages []string) (*ResumePlan, error) {
	logger := s.logger.WithPlanExecutionID(planExecutionID)
	timer := telemetry.NewTimer()

	previousYaml, err := s.history.GetProcessedYaml(ctx, planExecutionID)
	if err != nil {
		return nil, NewTransientError("fetching processed yaml", err).
			WithCode(ErrCodeStoreUnavailable).
			WithExecution(planExecutionID).
			WithOperation("PrepareResume")
	}

	rewrite, err := pipeline.RetryProcessedYaml(previousYaml, currentYaml, retryStages)
	if err != nil {
		s.metrics.RecordYamlRewrite("error", timer.Duration(), 0)
		return nil, NewPermanentError("rewriting processed yaml", err).
			WithCode(ErrCodeInvalidRequest).
			WithExecution(planExecutionID).
			WithOperation("PrepareResume")
	}
	s.metrics.RecordYamlRewrite("success", timer.Duration(), len(rewrite.SkipIdentifiers))
	_ = s.events.PublishYamlRewritten(planExecutionID, len(rewrite.SkipIdentifiers))
	logger.Infof("Rewrote processed yaml, %d stages replayed by reference", len(rewrite.SkipIdentifiers))

	compiled, err := s.compiler.Compile(ctx, rewrite.Yaml)
	if err != nil {
		return nil, NewPermanentError("compiling rewritten yaml", err).
			WithCode(ErrCodeValidation).
			WithExecution(planExecutionID).
			WithOperation("PrepareResume")
	}

	mapping, err := s.history.ResolveNodeExecutionUUIDs(ctx, planExecutionID, rewrite.SkipUUIDs)
	if err != nil {
		return nil, NewTransientError("resolving node execution uuids", err).
			WithCode(ErrCodeStoreUnavailable).
			WithExecution(planExecutionID).
			WithOperation("PrepareResume")
	}

	transformed, err := plan.Transform(compiled, rewrite.SkipUUIDs, mapping)
	if err != nil {
		s.metrics.RecordPlanTransform("error", 0)
		if errors.Is(err, plan.ErrStalePlanReference) {
			return nil, NewInvariantError("plan references an unrecorded execution", err).
				WithCode(ErrCodeStalePlanReference).
				WithExecution(planExecutionID).
				WithOperation("PrepareResume")
		}
		return nil, NewPermanentError("transforming plan", err).
			WithCode(ErrCodeInternal).
			WithExecution(planExecutionID).
			WithOperation("PrepareResume")
	}

	identityNodes := 0
	for _, n := range transformed.Nodes {
		if n.Kind == plan.KindIdentity {
			identityNodes++
		}
	}
	s.metrics.RecordPlanTransform("success", identityNodes)
	_ = s.events.PublishPlanTransformed(planExecutionID, identityNodes)

	return &ResumePlan{
		Yaml:            rewrite.Yaml,
		Plan:            transformed,
		SkipUUIDs:       rewrite.SkipUUIDs,
		SkipIdentifiers: rewrite.SkipIdentifiers,
	}, nil
}

// GetRetryHistory returns the attempt chain for a logical run, newest first.
// A chain of one attempt has no history to show.
func (s *RetryService) GetRetryHistory(ctx context.Context, rootExecutionID string) (*RetryHistory, error) {
	attempts, err := s.history.ListRetryAttempts(ctx, rootExecutionID)
	if err != nil {
		return nil, NewTransientError("listing retry attempts", err).
			WithCode(ErrCodeStoreUnavailable).
			WithOperation("GetRetryHistory")
	}

	if len(attempts) <= 1 {
		return &RetryHistory{ErrorMessage: msgEmptyRetryHistory}, nil
	}

	newest := make([]ExecutionSummary, len(attempts))
	for i, a := range attempts {
		newest[len(attempts)-1-i] = a
	}
	return &RetryHistory{
		LatestExecutionID: newest[0].UUID,
		Executions:        newest,
	}, nil
}

// GetRetryLatestExecutionID returns the most recent attempt of a logical run.
func (s *RetryService) GetRetryLatestExecutionID(ctx context.Context, rootExecutionID string) (string, error) {
	attempts, err := s.history.ListRetryAttempts(ctx, rootExecutionID)
	if err != nil {
		return "", NewTransientError("listing retry attempts", err).
			WithCode(ErrCodeStoreUnavailable).
			WithOperation("GetRetryLatestExecutionID")
	}
	if len(attempts) == 0 {
		return "", NewPermanentError("no executions recorded", nil).
			WithCode(ErrCodeNotFound).
			WithExecution(rootExecutionID)
	}
	return attempts[len(attempts)-1].UUID, nil
}

// groupContaining returns the retry group every requested identifier belongs
// to. Requested identifiers spread over multiple groups match nothing.
func groupContaining(info pipeline.RetryInfo, identifiers []string) (pipeline.RetryGroup, bool) {
	if len(identifiers) == 0 {
		return pipeline.RetryGroup{}, false
	}
	for _, g := range info.Groups {
		members := make(map[string]bool, len(g.Info))
		for _, st := range g.Info {
			members[st.Identifier] = true
		}
		all := true
		for _, id := range identifiers {
			if !members[id] {
				all = false
				break
			}
		}
		if all {
			return g, true
		}
	}
	return pipeline.RetryGroup{}, false
}

// isNotFound reports whether err carries the NOT_FOUND code.
func isNotFound(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeNotFound
	}
	return false
}
