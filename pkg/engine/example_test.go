package engine_test

import (
	"context"
	"fmt"
	"time"

	"github.com/restage/restage/pkg/engine"
	"github.com/restage/restage/pkg/pipeline"
)

// historyFixture is a canned ExecutionHistoryStore and PipelineStore for the
// examples below.
type historyFixture struct {
	yaml     string
	stages   []pipeline.RetryStageInfo
	attempts []engine.ExecutionSummary
}

func (f *historyFixture) GetStageDetails(ctx context.Context, planExecutionID string) ([]pipeline.RetryStageInfo, error) {
	return f.stages, nil
}

func (f *historyFixture) GetProcessedYaml(ctx context.Context, planExecutionID string) (string, error) {
	return f.yaml, nil
}

func (f *historyFixture) ResolveNodeExecutionUUIDs(ctx context.Context, planExecutionID string, yamlUUIDs []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (f *historyFixture) GetExecutionSummary(ctx context.Context, planExecutionID string) (*engine.ExecutionSummary, error) {
	for i := range f.attempts {
		if f.attempts[i].UUID == planExecutionID {
			return &f.attempts[i], nil
		}
	}
	return nil, engine.NewPermanentError("execution not found", nil).WithCode(engine.ErrCodeNotFound)
}

func (f *historyFixture) ListRetryAttempts(ctx context.Context, rootExecutionID string) ([]engine.ExecutionSummary, error) {
	return f.attempts, nil
}

func (f *historyFixture) GetPipelineYaml(ctx context.Context, pipelineIdentifier string) (string, error) {
	return f.yaml, nil
}

// Example_retryStages resolves the retry groups of a failed execution. The
// pipeline has not changed since the recorded run, so the execution is
// resumable and its stages are grouped by resume point.
func Example_retryStages() {
	fixture := &historyFixture{
		yaml: `pipeline:
  __uuid: p1
  stages:
    - stage:
        __uuid: s1
        identifier: build
    - stage:
        __uuid: s2
        identifier: deploy
`,
		stages: []pipeline.RetryStageInfo{
			{Name: "Build", Identifier: "build", Status: pipeline.StatusSuccess, NextID: "deploy"},
			{Name: "Deploy", Identifier: "deploy", Status: pipeline.StatusFailed, NextID: ""},
		},
	}

	retry := engine.NewRetryService(fixture, fixture, nil, nil)

	info, err := retry.GetRetryStages(context.Background(), fixture.yaml, fixture.yaml, "exec-1", "deploy-service")
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	for i, group := range info.Groups {
		for _, stage := range group.Info {
			fmt.Printf("group %d: %s (%s)\n", i+1, stage.Identifier, stage.Status)
		}
	}
	// Output:
	// group 1: build (SUCCESS)
	// group 2: deploy (FAILED)
}

// Example_retryHistory lists the attempt chain of a logical run, newest
// first. All attempts of a run share the first attempt's execution ID as
// their root execution ID.
func Example_retryHistory() {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fixture := &historyFixture{
		attempts: []engine.ExecutionSummary{
			{UUID: "exec-1", RootExecutionID: "exec-1", Status: pipeline.StatusFailed, StartTS: start},
			{UUID: "exec-2", RootExecutionID: "exec-1", Status: pipeline.StatusSuccess, StartTS: start.Add(time.Hour)},
		},
	}

	retry := engine.NewRetryService(fixture, fixture, nil, nil)

	history, err := retry.GetRetryHistory(context.Background(), "exec-1")
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println("latest:", history.LatestExecutionID)
	for _, attempt := range history.Executions {
		fmt.Printf("%s %s\n", attempt.UUID, attempt.Status)
	}
	// Output:
	// latest: exec-2
	// exec-2 SUCCESS
	// exec-1 FAILED
}

// Example_errorHandling demonstrates error classification and handling.
func Example_errorHandling() {
	transientErr := engine.NewTransientError("store unavailable", nil).
		WithExecution("exec-1").
		WithOperation("ValidateRetry")

	permanentErr := engine.NewPermanentError("execution not found", nil).
		WithCode(engine.ErrCodeNotFound).
		WithDetail("execution", "exec-missing")

	fmt.Println(engine.IsRetryable(transientErr))
	fmt.Println(engine.IsRetryable(permanentErr))
	// Output:
	// true
	// false
}
