package engine

import (
	"context"
	"time"

	"github.com/restage/restage/pkg/pipeline"
	"github.com/restage/restage/pkg/plan"
)

// ExecutionSummary describes one recorded plan execution attempt.
type ExecutionSummary struct {
	// UUID is the plan execution identifier.
	UUID string `json:"uuid"`

	// PipelineIdentifier is the pipeline this execution ran.
	PipelineIdentifier string `json:"pipeline_identifier"`

	// RootExecutionID ties retry attempts of the same logical run together.
	// The first attempt's root execution ID is its own UUID.
	RootExecutionID string `json:"root_execution_id"`

	// Status is the terminal (or current) status of the execution.
	Status pipeline.ExecutionStatus `json:"status"`

	// StartTS is when the execution started.
	StartTS time.Time `json:"start_ts"`

	// EndTS is when the execution ended; zero while still running.
	EndTS time.Time `json:"end_ts,omitempty"`
}

// ExecutionHistoryStore provides read access to previously recorded plan
// executions. The retry path is read-only against history: it never mutates
// past executions, only derives the inputs for a resumed run from them.
type ExecutionHistoryStore interface {
	// GetStageDetails returns the ordered stage outcomes of a plan
	// execution, in pipeline declaration order.
	GetStageDetails(ctx context.Context, planExecutionID string) ([]pipeline.RetryStageInfo, error)

	// GetProcessedYaml returns the processed pipeline YAML recorded for a
	// plan execution.
	GetProcessedYaml(ctx context.Context, planExecutionID string) (string, error)

	// ResolveNodeExecutionUUIDs maps yaml node UUIDs to the node execution
	// UUIDs recorded for them in the given plan execution. UUIDs with no
	// recorded terminal execution are absent from the result.
	ResolveNodeExecutionUUIDs(ctx context.Context, planExecutionID string, yamlUUIDs []string) (map[string]string, error)

	// GetExecutionSummary returns the summary record for a plan execution,
	// or a NOT_FOUND error if none exists.
	GetExecutionSummary(ctx context.Context, planExecutionID string) (*ExecutionSummary, error)

	// ListRetryAttempts returns every execution attempt sharing the given
	// root execution ID, ordered by start time ascending.
	ListRetryAttempts(ctx context.Context, rootExecutionID string) ([]ExecutionSummary, error)
}

// PipelineStore provides access to current pipeline definitions.
type PipelineStore interface {
	// GetPipelineYaml returns the current YAML of a pipeline, or a
	// NOT_FOUND error if the pipeline does not exist or has been deleted.
	GetPipelineYaml(ctx context.Context, pipelineIdentifier string) (string, error)
}

// PlanCompiler compiles processed pipeline YAML into an executable plan.
// Compilation itself is outside the retry engine; the engine only transforms
// the compiled plan afterwards.
type PlanCompiler interface {
	// Compile builds a plan from processed pipeline YAML.
	Compile(ctx context.Context, processedYaml string) (plan.Plan, error)
}
