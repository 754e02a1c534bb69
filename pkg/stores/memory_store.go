package stores

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/restage/restage/pkg/engine"
	"github.com/restage/restage/pkg/pipeline"
	"github.com/restage/restage/pkg/waitengine"
)

// MemoryStore is an in-memory Store used by tests. A single mutex guards
// every operation, so the claim and waiting-set mutations get the same
// atomicity the SQLite store gets from conditional UPDATE statements.
type MemoryStore struct {
	mu sync.Mutex

	pipelines  map[string]string
	executions map[string]*memExecution
	stages     map[string][]memStageDetail
	nodes      map[string]map[string]memNodeExecution

	waitInstances   map[string]*memWaitInstance
	notifyResponses map[string]waitengine.NotifyResponse
	progressUpdates map[string]*waitengine.ProgressUpdate
}

type memExecution struct {
	summary       engine.ExecutionSummary
	processedYaml string
}

type memStageDetail struct {
	seq  int
	info pipeline.RetryStageInfo
}

type memNodeExecution struct {
	nodeExecutionUUID string
	status            pipeline.ExecutionStatus
}

type memWaitInstance struct {
	correlationIDs       []string
	waiting              map[string]bool
	progressCallback     string
	callbackProcessingAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines:       make(map[string]string),
		executions:      make(map[string]*memExecution),
		stages:          make(map[string][]memStageDetail),
		nodes:           make(map[string]map[string]memNodeExecution),
		waitInstances:   make(map[string]*memWaitInstance),
		notifyResponses: make(map[string]waitengine.NotifyResponse),
		progressUpdates: make(map[string]*waitengine.ProgressUpdate),
	}
}

// Init is a no-op for the in-memory store.
func (s *MemoryStore) Init(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(_ context.Context) error { return nil }

// HealthCheck always reports healthy.
func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// SavePipeline inserts or replaces a pipeline definition.
func (s *MemoryStore) SavePipeline(_ context.Context, identifier, yaml string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[identifier] = yaml
	return nil
}

// GetPipelineYaml retrieves a pipeline's current YAML.
func (s *MemoryStore) GetPipelineYaml(_ context.Context, identifier string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	yaml, ok := s.pipelines[identifier]
	if !ok {
		return "", engine.NewPermanentError("pipeline not found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithDetail("pipeline", identifier)
	}
	return yaml, nil
}

// DeletePipeline removes a pipeline definition.
func (s *MemoryStore) DeletePipeline(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pipelines, identifier)
	return nil
}

// RecordExecution inserts a new plan execution attempt.
func (s *MemoryStore) RecordExecution(_ context.Context, summary *engine.ExecutionSummary, processedYaml string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *summary
	if copied.RootExecutionID == "" {
		copied.RootExecutionID = copied.UUID
	}
	s.executions[copied.UUID] = &memExecution{summary: copied, processedYaml: processedYaml}
	return nil
}

// FinishExecution records the terminal status of an execution.
func (s *MemoryStore) FinishExecution(_ context.Context, planExecutionID string, status pipeline.ExecutionStatus, endTS time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[planExecutionID]
	if !ok {
		return engine.NewPermanentError("execution not found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithExecution(planExecutionID)
	}
	exec.summary.Status = status
	exec.summary.EndTS = endTS
	return nil
}

// GetExecutionSummary retrieves one execution attempt.
func (s *MemoryStore) GetExecutionSummary(_ context.Context, planExecutionID string) (*engine.ExecutionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[planExecutionID]
	if !ok {
		return nil, engine.NewPermanentError("execution not found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithExecution(planExecutionID)
	}
	summary := exec.summary
	return &summary, nil
}

// ListRetryAttempts lists all attempts of a logical run, oldest first.
func (s *MemoryStore) ListRetryAttempts(_ context.Context, rootExecutionID string) ([]engine.ExecutionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.ExecutionSummary
	for _, exec := range s.executions {
		if exec.summary.RootExecutionID == rootExecutionID {
			out = append(out, exec.summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTS.Before(out[j].StartTS) })
	return out, nil
}

// GetProcessedYaml retrieves the processed YAML recorded for an execution.
func (s *MemoryStore) GetProcessedYaml(_ context.Context, planExecutionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[planExecutionID]
	if !ok {
		return "", engine.NewPermanentError("execution not found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithExecution(planExecutionID)
	}
	return exec.processedYaml, nil
}

// RecordStageDetail inserts one stage outcome of an execution.
func (s *MemoryStore) RecordStageDetail(_ context.Context, planExecutionID string, seq int, info pipeline.RetryStageInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[planExecutionID] = append(s.stages[planExecutionID], memStageDetail{seq: seq, info: info})
	sort.Slice(s.stages[planExecutionID], func(i, j int) bool {
		return s.stages[planExecutionID][i].seq < s.stages[planExecutionID][j].seq
	})
	return nil
}

// GetStageDetails returns the stage outcomes of an execution in declaration order.
func (s *MemoryStore) GetStageDetails(_ context.Context, planExecutionID string) ([]pipeline.RetryStageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	details := s.stages[planExecutionID]
	out := make([]pipeline.RetryStageInfo, 0, len(details))
	for _, d := range details {
		out = append(out, d.info)
	}
	return out, nil
}

// RecordNodeExecution records the node execution that ran a yaml node.
func (s *MemoryStore) RecordNodeExecution(_ context.Context, planExecutionID, yamlUUID, nodeExecutionUUID string, status pipeline.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodes[planExecutionID] == nil {
		s.nodes[planExecutionID] = make(map[string]memNodeExecution)
	}
	s.nodes[planExecutionID][yamlUUID] = memNodeExecution{nodeExecutionUUID: nodeExecutionUUID, status: status}
	return nil
}

// ResolveNodeExecutionUUIDs maps yaml node uuids to terminal node execution uuids.
func (s *MemoryStore) ResolveNodeExecutionUUIDs(_ context.Context, planExecutionID string, yamlUUIDs []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(yamlUUIDs))
	for _, u := range yamlUUIDs {
		if node, ok := s.nodes[planExecutionID][u]; ok && isTerminalStatus(node.status) {
			out[u] = node.nodeExecutionUUID
		}
	}
	return out, nil
}

// SaveWaitInstance persists a new wait instance and its correlation set.
func (s *MemoryStore) SaveWaitInstance(_ context.Context, instance *waitengine.WaitInstance) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiting := make(map[string]bool, len(instance.WaitingOnCorrelationIDs))
	for _, id := range instance.WaitingOnCorrelationIDs {
		waiting[id] = true
	}
	s.waitInstances[instance.UUID] = &memWaitInstance{
		correlationIDs:       append([]string(nil), instance.CorrelationIDs...),
		waiting:              waiting,
		progressCallback:     instance.ProgressCallback,
		callbackProcessingAt: instance.CallbackProcessingAt,
	}
	return instance.UUID, nil
}

// SaveNotifyResponse appends a completion record.
func (s *MemoryStore) SaveNotifyResponse(_ context.Context, response *waitengine.NotifyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *response
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	s.notifyResponses[copied.UUID] = copied
	return nil
}

// SaveProgressUpdate appends a progress update.
func (s *MemoryStore) SaveProgressUpdate(_ context.Context, update *waitengine.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *update
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	s.progressUpdates[copied.CorrelationID] = &copied
	return nil
}

// RemoveWaitingCorrelationID atomically pulls the correlation id off the
// waiting set of the instance awaiting it. Nil means nobody was waiting.
func (s *MemoryStore) RemoveWaitingCorrelationID(_ context.Context, correlationID string) (*waitengine.WaitInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, instance := range s.waitInstances {
		if instance.waiting[correlationID] {
			instance.waiting[correlationID] = false
			return s.snapshotLocked(id), nil
		}
	}
	return nil, nil
}

// RemoveCorrelationIDsFromWaitingSet atomically clears the given correlation
// ids from one instance's waiting set.
func (s *MemoryStore) RemoveCorrelationIDsFromWaitingSet(_ context.Context, waitInstanceID string, correlationIDs []string) (*waitengine.WaitInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.waitInstances[waitInstanceID]
	if !ok {
		return nil, nil
	}
	for _, id := range correlationIDs {
		if _, present := instance.waiting[id]; present {
			instance.waiting[id] = false
		}
	}
	return s.snapshotLocked(waitInstanceID), nil
}

// ClaimWaitInstance takes the callback-processing lease when the current one
// has expired.
func (s *MemoryStore) ClaimWaitInstance(_ context.Context, waitInstanceID string, now, leaseUntil time.Time) (*waitengine.WaitInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.waitInstances[waitInstanceID]
	if !ok {
		return nil, nil
	}
	if !instance.callbackProcessingAt.Before(now) {
		return nil, nil
	}
	instance.callbackProcessingAt = leaseUntil
	return s.snapshotLocked(waitInstanceID), nil
}

// ClaimProgressUpdate takes the oldest claimable progress update under the
// same expired-lease predicate.
func (s *MemoryStore) ClaimProgressUpdate(_ context.Context, busyCorrelationIDs []string, now, leaseUntil time.Time) (*waitengine.ProgressUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	busy := make(map[string]bool, len(busyCorrelationIDs))
	for _, id := range busyCorrelationIDs {
		busy[id] = true
	}
	var oldest *waitengine.ProgressUpdate
	for _, update := range s.progressUpdates {
		if busy[update.CorrelationID] || !update.ExpireProcessing.Before(now) {
			continue
		}
		if oldest == nil || update.CreatedAt.Before(oldest.CreatedAt) {
			oldest = update
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.ExpireProcessing = leaseUntil
	copied := *oldest
	return &copied, nil
}

// GetNotifyResponses reads the responses for the given correlation ids.
func (s *MemoryStore) GetNotifyResponses(_ context.Context, correlationIDs []string, ordered bool) ([]waitengine.NotifyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []waitengine.NotifyResponse
	for _, id := range correlationIDs {
		if r, ok := s.notifyResponses[id]; ok {
			out = append(out, r)
		}
	}
	if ordered {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	}
	return out, nil
}

// DeleteNotifyResponses removes consumed responses and reports the count.
func (s *MemoryStore) DeleteNotifyResponses(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.notifyResponses[id]; ok {
			delete(s.notifyResponses, id)
			n++
		}
	}
	return n, nil
}

// DeleteWaitInstance removes a wait instance and reports the count.
func (s *MemoryStore) DeleteWaitInstance(_ context.Context, waitInstanceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.waitInstances[waitInstanceID]; !ok {
		return 0, nil
	}
	delete(s.waitInstances, waitInstanceID)
	return 1, nil
}

// snapshotLocked builds a caller-owned copy of a wait instance. The caller
// must hold s.mu.
func (s *MemoryStore) snapshotLocked(waitInstanceID string) *waitengine.WaitInstance {
	instance, ok := s.waitInstances[waitInstanceID]
	if !ok {
		return nil
	}
	out := &waitengine.WaitInstance{
		UUID:                 waitInstanceID,
		CorrelationIDs:       append([]string(nil), instance.correlationIDs...),
		ProgressCallback:     instance.progressCallback,
		CallbackProcessingAt: instance.callbackProcessingAt,
	}
	for _, id := range instance.correlationIDs {
		if instance.waiting[id] {
			out.WaitingOnCorrelationIDs = append(out.WaitingOnCorrelationIDs, id)
		}
	}
	return out
}
