// Package waitengine implements the persistence-backed wait/notify engine:
// asynchronous units of work register the correlation IDs they are waiting on
// and are woken, exactly once, when all of them resolve. Claims over shared
// records are time-leased rather than locked so crashed workers never strand
// a wait instance.
package waitengine

import (
	"time"
)

// WaitInstance is one waiting party. CorrelationIDs is fixed at creation;
// WaitingOnCorrelationIDs only ever shrinks as dependencies resolve. The
// instance becomes deletable once the waiting set is empty.
type WaitInstance struct {
	// UUID identifies the wait instance.
	UUID string `json:"uuid"`

	// CorrelationIDs is the full set of awaited correlation IDs, immutable
	// once created.
	CorrelationIDs []string `json:"correlation_ids"`

	// WaitingOnCorrelationIDs is the subset of CorrelationIDs not yet
	// resolved.
	WaitingOnCorrelationIDs []string `json:"waiting_on_correlation_ids"`

	// ProgressCallback is an opaque reference to the progress callback
	// registered for this instance; empty means none.
	ProgressCallback string `json:"progress_callback,omitempty"`

	// CallbackProcessingAt is the callback-processing lease expiry. The
	// instance is claimable when this lies in the past.
	CallbackProcessingAt time.Time `json:"callback_processing_at"`
}

// IsResolved reports whether every awaited correlation ID has resolved.
func (w *WaitInstance) IsResolved() bool {
	return len(w.WaitingOnCorrelationIDs) == 0
}

// NotifyResponse records the completion of one unit of asynchronous work.
// It is keyed by correlation ID and append-only; any number of wait
// instances referencing the same correlation ID may read it concurrently.
type NotifyResponse struct {
	// UUID is the correlation ID of the completed work.
	UUID string `json:"uuid"`

	// IsError marks the work as having completed with an error.
	IsError bool `json:"is_error"`

	// ResponseData is the serialized completion payload.
	ResponseData []byte `json:"response_data,omitempty"`

	// CreatedAt is when the response was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// ProgressUpdate is a best-effort intermediate notification, decoupled from
// completion. Updates are claimed oldest-first under the same lease pattern
// as wait instances.
type ProgressUpdate struct {
	// CorrelationID identifies the in-flight work the update belongs to.
	CorrelationID string `json:"correlation_id"`

	// CreatedAt is when the update was recorded.
	CreatedAt time.Time `json:"created_at"`

	// ExpireProcessing is the processing lease expiry.
	ExpireProcessing time.Time `json:"expire_processing"`
}

// ProcessedMessage is the aggregated result of a resolved wait instance,
// handed to the callback dispatcher.
type ProcessedMessage struct {
	// IsError is true when any aggregated response recorded an error.
	IsError bool `json:"is_error"`

	// ResponseDataMap maps each correlation ID to its response payload.
	ResponseDataMap map[string][]byte `json:"response_data_map"`
}
