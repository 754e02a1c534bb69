package waitengine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/restage/restage/pkg/engine"
	"github.com/restage/restage/pkg/telemetry"
)

// DefaultLeaseDuration is how long a claim on a wait instance or progress
// update remains exclusive before another worker may take it over.
const DefaultLeaseDuration = 10 * time.Minute

// Engine coordinates wait instances over a Store. All concurrency control
// lives in the store's atomic operations; the engine adds validation,
// invariant checks, and instrumentation.
type Engine struct {
	store Store

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher

	leaseDuration time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLeaseDuration overrides the claim lease duration. Tests use short
// leases; production keeps the default.
func WithLeaseDuration(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.leaseDuration = d
	}
}

// NewEngine creates a wait engine over the given store. tel may be nil, in
// which case the engine runs without instrumentation.
func NewEngine(store Store, tel *telemetry.Telemetry, opts ...EngineOption) *Engine {
	e := &Engine{
		store:         store,
		leaseDuration: DefaultLeaseDuration,
	}

	if tel != nil {
		e.logger = tel.Logger.NewComponentLogger("wait_engine")
		e.metrics = tel.Metrics
		e.events = tel.Events
	} else {
		e.logger = telemetry.FromContext(context.Background())
		e.metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
		e.events, _ = telemetry.NewEventPublisher(telemetry.EventsConfig{})
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LeaseDuration returns the configured claim lease duration.
func (e *Engine) LeaseDuration() time.Duration {
	return e.leaseDuration
}

// Save persists a new wait instance and returns its id. A nil waiting set
// defaults to the full correlation set; a waiting set that is not a subset
// of the correlation set is rejected.
func (e *Engine) Save(ctx context.Context, instance *WaitInstance) (string, error) {
	if len(instance.CorrelationIDs) == 0 {
		return "", engine.NewPermanentError("wait instance has no correlation ids", nil).
			WithCode(engine.ErrCodeInvalidRequest)
	}
	if instance.UUID == "" {
		instance.UUID = uuid.New().String()
	}
	if instance.WaitingOnCorrelationIDs == nil {
		instance.WaitingOnCorrelationIDs = append([]string(nil), instance.CorrelationIDs...)
	}

	known := make(map[string]bool, len(instance.CorrelationIDs))
	for _, id := range instance.CorrelationIDs {
		known[id] = true
	}
	for _, id := range instance.WaitingOnCorrelationIDs {
		if !known[id] {
			return "", engine.NewPermanentError(
				fmt.Sprintf("waiting correlation id %q is not in the correlation set", id), nil).
				WithCode(engine.ErrCodeInvalidRequest)
		}
	}

	id, err := e.store.SaveWaitInstance(ctx, instance)
	if err != nil {
		return "", engine.NewTransientError("saving wait instance", err).
			WithCode(engine.ErrCodeStoreUnavailable).
			WithOperation("Save")
	}

	e.metrics.RecordWaitInstanceSaved()
	_ = e.events.PublishWaitRegistered(id, instance.CorrelationIDs)
	e.logger.WithWaitInstanceID(id).Debugf("Registered wait instance for %d correlation ids", len(instance.CorrelationIDs))
	return id, nil
}

// ModifyAndFetchWaitInstance atomically removes a resolved correlation ID
// from the waiting set of the instance awaiting it and returns the
// post-update instance. A nil result means no instance was waiting on the
// ID, which is a normal outcome.
func (e *Engine) ModifyAndFetchWaitInstance(ctx context.Context, resolvedCorrelationID string) (*WaitInstance, error) {
	instance, err := e.store.RemoveWaitingCorrelationID(ctx, resolvedCorrelationID)
	if err != nil {
		return nil, engine.NewTransientError("removing resolved correlation id", err).
			WithCode(engine.ErrCodeStoreUnavailable).
			WithOperation("ModifyAndFetchWaitInstance")
	}
	if instance == nil {
		return nil, nil
	}

	_ = e.events.PublishWaitNotified(instance.UUID, resolvedCorrelationID, len(instance.WaitingOnCorrelationIDs))
	if instance.IsResolved() {
		e.metrics.RecordWaitInstanceResolved()
		_ = e.events.PublishWaitResolved(instance.UUID, 0)
		e.logger.WithWaitInstanceID(instance.UUID).Info("Wait instance resolved")
	}
	return instance, nil
}

// ModifyAndFetchWaitInstanceForExistingResponse handles registration after
// some dependencies already completed: it finds which of correlationIDs
// already have a notify response and atomically removes exactly those from
// the instance's waiting set. A nil result means none of the dependencies
// have responses yet.
func (e *Engine) ModifyAndFetchWaitInstanceForExistingResponse(ctx context.Context, waitInstanceID string, correlationIDs []string) (*WaitInstance, error) {
	responses, err := e.store.GetNotifyResponses(ctx, correlationIDs, false)
	if err != nil {
		return nil, engine.NewTransientError("looking up existing responses", err).
			WithCode(engine.ErrCodeStoreUnavailable).
			WithOperation("ModifyAndFetchWaitInstanceForExistingResponse")
	}
	if len(responses) == 0 {
		return nil, nil
	}

	resolved := make([]string, 0, len(responses))
	for _, r := range responses {
		resolved = append(resolved, r.UUID)
	}

	instance, err := e.store.RemoveCorrelationIDsFromWaitingSet(ctx, waitInstanceID, resolved)
	if err != nil {
		return nil, engine.NewTransientError("removing resolved correlation ids", err).
			WithCode(engine.ErrCodeStoreUnavailable).
			WithOperation("ModifyAndFetchWaitInstanceForExistingResponse")
	}
	if instance == nil {
		return nil, nil
	}

	if instance.IsResolved() {
		e.metrics.RecordWaitInstanceResolved()
		_ = e.events.PublishWaitResolved(instance.UUID, 0)
	}
	return instance, nil
}

// FetchForProcessingWaitInstance claims a wait instance for callback
// processing. The claim succeeds only when the current lease has expired; a
// nil result means the claim was lost or the instance is absent, and the
// caller should simply try again on its next tick.
func (e *Engine) FetchForProcessingWaitInstance(ctx context.Context, waitInstanceID string, now time.Time) (*WaitInstance, error) {
	instance, err := e.store.ClaimWaitInstance(ctx, waitInstanceID, now, now.Add(e.leaseDuration))
	if err != nil {
		return nil, engine.NewTransientError("claiming wait instance", err).
			WithCode(engine.ErrCodeStoreUnavailable).
			WithOperation("FetchForProcessingWaitInstance")
	}
	e.metrics.RecordWaitClaim(instance != nil)
	return instance, nil
}

// FetchForProcessingProgressUpdate claims the oldest pending progress update
// whose correlation ID is not currently busy. A nil result means nothing was
// claimable on this tick.
func (e *Engine) FetchForProcessingProgressUpdate(ctx context.Context, busyCorrelationIDs []string, now time.Time) (*ProgressUpdate, error) {
	update, err := e.store.ClaimProgressUpdate(ctx, busyCorrelationIDs, now, now.Add(e.leaseDuration))
	if err != nil {
		return nil, engine.NewTransientError("claiming progress update", err).
			WithCode(engine.ErrCodeStoreUnavailable).
			WithOperation("FetchForProcessingProgressUpdate")
	}
	e.metrics.RecordProgressClaim(update != nil)
	return update, nil
}

// ProcessMessage bulk-reads every notify response for the instance's
// correlation IDs and aggregates them for the callback dispatcher. Responses
// are read in creation order only when a progress callback is registered;
// final aggregation does not depend on order.
func (e *Engine) ProcessMessage(ctx context.Context, instance *WaitInstance) (*ProcessedMessage, error) {
	timer := telemetry.NewTimer()

	responses, err := e.store.GetNotifyResponses(ctx, instance.CorrelationIDs, instance.ProgressCallback != "")
	if err != nil {
		return nil, engine.NewTransientError("reading notify responses", err).
			WithCode(engine.ErrCodeStoreUnavailable).
			WithOperation("ProcessMessage")
	}

	msg := &ProcessedMessage{
		ResponseDataMap: make(map[string][]byte, len(responses)),
	}
	for _, r := range responses {
		if r.IsError {
			msg.IsError = true
		}
		msg.ResponseDataMap[r.UUID] = r.ResponseData
	}

	e.metrics.RecordCallbackProcessing(timer.Duration())
	return msg, nil
}

// DeleteNotifyResponses removes consumed responses. Removing a different
// number of records than requested is a fatal invariant violation: it means
// a concurrent double-delete or a caller bug, never a condition to retry.
func (e *Engine) DeleteNotifyResponses(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	n, err := e.store.DeleteNotifyResponses(ctx, ids)
	if err != nil {
		return engine.NewTransientError("deleting notify responses", err).
			WithCode(engine.ErrCodeStoreUnavailable).
			WithOperation("DeleteNotifyResponses")
	}
	if n != len(ids) {
		return engine.NewInvariantError(
			fmt.Sprintf("deleted %d notify responses, expected %d", n, len(ids)), nil).
			WithCode(engine.ErrCodePersistenceInvariant).
			WithOperation("DeleteNotifyResponses")
	}
	return nil
}

// DeleteWaitInstance removes a drained wait instance. The caller owns the
// "waiting set is empty" precondition; the engine still rejects a non-empty
// set rather than silently dropping pending work. A delete count other than
// one is a fatal invariant violation.
func (e *Engine) DeleteWaitInstance(ctx context.Context, instance *WaitInstance) error {
	if !instance.IsResolved() {
		return engine.NewPermanentError(
			fmt.Sprintf("wait instance %s still waits on %d correlation ids", instance.UUID, len(instance.WaitingOnCorrelationIDs)), nil).
			WithCode(engine.ErrCodeInvalidRequest)
	}
	n, err := e.store.DeleteWaitInstance(ctx, instance.UUID)
	if err != nil {
		return engine.NewTransientError("deleting wait instance", err).
			WithCode(engine.ErrCodeStoreUnavailable).
			WithOperation("DeleteWaitInstance")
	}
	if n != 1 {
		return engine.NewInvariantError(
			fmt.Sprintf("deleted %d wait instances for id %s, expected 1", n, instance.UUID), nil).
			WithCode(engine.ErrCodePersistenceInvariant).
			WithOperation("DeleteWaitInstance")
	}
	return nil
}
