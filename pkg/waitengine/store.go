package waitengine

import (
	"context"
	"time"
)

// Store is the single persistence abstraction behind the wait engine. Every
// mutating operation listed here must be atomic at the store level: the
// conditional predicate and the mutation execute as one operation, never as a
// read followed by a write in application code. That atomicity is the sole
// mechanism preventing double-fired callbacks and lost wakeups under
// concurrent workers.
type Store interface {
	// SaveWaitInstance persists a new wait instance and returns its id.
	SaveWaitInstance(ctx context.Context, instance *WaitInstance) (string, error)

	// SaveNotifyResponse appends a completion record for a correlation ID.
	SaveNotifyResponse(ctx context.Context, response *NotifyResponse) error

	// SaveProgressUpdate appends a progress update for a correlation ID.
	SaveProgressUpdate(ctx context.Context, update *ProgressUpdate) error

	// RemoveWaitingCorrelationID atomically removes the correlation ID from
	// the waiting set of the instance waiting on it and returns the
	// post-update instance. Returns nil when no instance was waiting on the
	// ID.
	RemoveWaitingCorrelationID(ctx context.Context, correlationID string) (*WaitInstance, error)

	// RemoveCorrelationIDsFromWaitingSet atomically removes the given
	// correlation IDs from one instance's waiting set and returns the
	// post-update instance. Returns nil when the instance does not exist.
	RemoveCorrelationIDsFromWaitingSet(ctx context.Context, waitInstanceID string, correlationIDs []string) (*WaitInstance, error)

	// ClaimWaitInstance atomically sets the instance's callback-processing
	// lease to leaseUntil, but only when the current lease expired before
	// now. Returns nil when the claim is lost or the instance is absent.
	ClaimWaitInstance(ctx context.Context, waitInstanceID string, now, leaseUntil time.Time) (*WaitInstance, error)

	// ClaimProgressUpdate atomically claims the oldest pending progress
	// update whose correlation ID is not in busyCorrelationIDs, under the
	// same expired-lease predicate. Returns nil when nothing is claimable.
	ClaimProgressUpdate(ctx context.Context, busyCorrelationIDs []string, now, leaseUntil time.Time) (*ProgressUpdate, error)

	// GetNotifyResponses returns the responses recorded for the given
	// correlation IDs; when ordered is true they come back sorted by
	// creation time ascending.
	GetNotifyResponses(ctx context.Context, correlationIDs []string, ordered bool) ([]NotifyResponse, error)

	// DeleteNotifyResponses removes the responses with the given IDs and
	// returns how many records were removed.
	DeleteNotifyResponses(ctx context.Context, ids []string) (int, error)

	// DeleteWaitInstance removes a wait instance and returns how many
	// records were removed.
	DeleteWaitInstance(ctx context.Context, waitInstanceID string) (int, error)
}
