package stores

import (
	"context"
	"time"

	"github.com/restage/restage/pkg/engine"
	"github.com/restage/restage/pkg/pipeline"
	"github.com/restage/restage/pkg/waitengine"
)

// Store defines the full persistence surface: pipeline definitions, plan
// execution history, and the wait-engine records. It satisfies
// engine.ExecutionHistoryStore, engine.PipelineStore, and waitengine.Store,
// so one store instance backs the whole service.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Pipeline definitions
	SavePipeline(ctx context.Context, identifier, yaml string) error
	GetPipelineYaml(ctx context.Context, identifier string) (string, error)
	DeletePipeline(ctx context.Context, identifier string) error

	// Plan executions
	RecordExecution(ctx context.Context, summary *engine.ExecutionSummary, processedYaml string) error
	FinishExecution(ctx context.Context, planExecutionID string, status pipeline.ExecutionStatus, endTS time.Time) error
	GetExecutionSummary(ctx context.Context, planExecutionID string) (*engine.ExecutionSummary, error)
	ListRetryAttempts(ctx context.Context, rootExecutionID string) ([]engine.ExecutionSummary, error)
	GetProcessedYaml(ctx context.Context, planExecutionID string) (string, error)

	// Stage and node history
	RecordStageDetail(ctx context.Context, planExecutionID string, seq int, info pipeline.RetryStageInfo) error
	GetStageDetails(ctx context.Context, planExecutionID string) ([]pipeline.RetryStageInfo, error)
	RecordNodeExecution(ctx context.Context, planExecutionID, yamlUUID, nodeExecutionUUID string, status pipeline.ExecutionStatus) error
	ResolveNodeExecutionUUIDs(ctx context.Context, planExecutionID string, yamlUUIDs []string) (map[string]string, error)

	// Wait engine records
	waitengine.Store
}
