package waitengine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/restage/restage/pkg/engine"
	"github.com/restage/restage/pkg/stores"
	"github.com/restage/restage/pkg/waitengine"
)

func newTestEngine(t *testing.T, opts ...waitengine.EngineOption) (*waitengine.Engine, *stores.MemoryStore) {
	t.Helper()
	store := stores.NewMemoryStore()
	return waitengine.NewEngine(store, nil, opts...), store
}

func TestEngine_Save_RejectsEmptyCorrelationSet(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Save(context.Background(), &waitengine.WaitInstance{})
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestEngine_Save_RejectsWaitingOutsideCorrelationSet(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Save(context.Background(), &waitengine.WaitInstance{
		CorrelationIDs:          []string{"corr-a"},
		WaitingOnCorrelationIDs: []string{"corr-a", "corr-b"},
	})
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestEngine_Save_DefaultsWaitingSetAndGeneratesID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	instance := &waitengine.WaitInstance{
		CorrelationIDs: []string{"corr-a", "corr-b"},
	}
	id, err := e.Save(ctx, instance)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}
	if len(instance.WaitingOnCorrelationIDs) != 2 {
		t.Errorf("waiting set should default to the full correlation set, got %v", instance.WaitingOnCorrelationIDs)
	}
}

func TestEngine_ModifyAndFetchWaitInstance_ShrinksWaitingSet(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Save(ctx, &waitengine.WaitInstance{
		UUID:           "wait-1",
		CorrelationIDs: []string{"corr-a", "corr-b"},
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := e.ModifyAndFetchWaitInstance(ctx, "corr-a")
	if err != nil {
		t.Fatalf("modify failed: %v", err)
	}
	if got == nil || got.UUID != id {
		t.Fatalf("expected instance %s back, got %+v", id, got)
	}
	if got.IsResolved() {
		t.Error("instance should not be resolved with one id still pending")
	}
	if len(got.WaitingOnCorrelationIDs) != 1 || got.WaitingOnCorrelationIDs[0] != "corr-b" {
		t.Errorf("waiting set not shrunk: %v", got.WaitingOnCorrelationIDs)
	}

	got, err = e.ModifyAndFetchWaitInstance(ctx, "corr-b")
	if err != nil {
		t.Fatalf("second modify failed: %v", err)
	}
	if got == nil || !got.IsResolved() {
		t.Fatalf("expected resolved instance, got %+v", got)
	}
	if len(got.CorrelationIDs) != 2 {
		t.Errorf("full correlation set must survive resolution: %v", got.CorrelationIDs)
	}
}

func TestEngine_ModifyAndFetchWaitInstance_NobodyWaiting(t *testing.T) {
	e, _ := newTestEngine(t)

	got, err := e.ModifyAndFetchWaitInstance(context.Background(), "corr-unknown")
	if err != nil {
		t.Fatalf("modify errored: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil when no instance waits on the id, got %+v", got)
	}
}

func TestEngine_ModifyAndFetchForExistingResponse(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	// corr-a completed before the instance registered
	if err := store.SaveNotifyResponse(ctx, &waitengine.NotifyResponse{
		UUID:         "corr-a",
		ResponseData: []byte("done"),
	}); err != nil {
		t.Fatalf("save response failed: %v", err)
	}

	id, err := e.Save(ctx, &waitengine.WaitInstance{
		UUID:           "wait-1",
		CorrelationIDs: []string{"corr-a", "corr-b"},
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := e.ModifyAndFetchWaitInstanceForExistingResponse(ctx, id, []string{"corr-a", "corr-b"})
	if err != nil {
		t.Fatalf("existing-response sweep failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected the instance back")
	}
	if len(got.WaitingOnCorrelationIDs) != 1 || got.WaitingOnCorrelationIDs[0] != "corr-b" {
		t.Errorf("pre-completed id should be cleared from the waiting set: %v", got.WaitingOnCorrelationIDs)
	}
}

func TestEngine_ModifyAndFetchForExistingResponse_NoResponses(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Save(ctx, &waitengine.WaitInstance{
		UUID:           "wait-1",
		CorrelationIDs: []string{"corr-a"},
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := e.ModifyAndFetchWaitInstanceForExistingResponse(ctx, id, []string{"corr-a"})
	if err != nil {
		t.Fatalf("sweep errored: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil when no responses exist yet, got %+v", got)
	}
}

func TestEngine_FetchForProcessing_ExactlyOneWinner(t *testing.T) {
	e, _ := newTestEngine(t, waitengine.WithLeaseDuration(time.Minute))
	ctx := context.Background()

	id, err := e.Save(ctx, &waitengine.WaitInstance{
		UUID:           "wait-1",
		CorrelationIDs: []string{"corr-a"},
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	const workers = 16
	now := time.Now()
	var wg sync.WaitGroup
	wins := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			instance, err := e.FetchForProcessingWaitInstance(ctx, id, now)
			if err != nil {
				t.Errorf("claim errored: %v", err)
				return
			}
			if instance != nil {
				wins <- instance.UUID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", len(winners))
	}
	if winners[0] != id {
		t.Errorf("winner claimed wrong instance: %s", winners[0])
	}
}

func TestEngine_FetchForProcessing_LeaseExpiryAllowsTakeover(t *testing.T) {
	e, _ := newTestEngine(t, waitengine.WithLeaseDuration(time.Minute))
	ctx := context.Background()

	id, err := e.Save(ctx, &waitengine.WaitInstance{
		UUID:           "wait-1",
		CorrelationIDs: []string{"corr-a"},
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	now := time.Now()
	first, err := e.FetchForProcessingWaitInstance(ctx, id, now)
	if err != nil || first == nil {
		t.Fatalf("first claim should win: %v, %v", first, err)
	}

	// Within the lease the claim is lost, which is a normal outcome
	lost, err := e.FetchForProcessingWaitInstance(ctx, id, now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("claim inside lease errored: %v", err)
	}
	if lost != nil {
		t.Error("claim inside an active lease should return nil")
	}

	// A crashed worker's lease expires and another takes over
	takeover, err := e.FetchForProcessingWaitInstance(ctx, id, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("takeover errored: %v", err)
	}
	if takeover == nil {
		t.Error("claim after lease expiry should succeed")
	}
}

func TestEngine_FetchForProcessingProgressUpdate(t *testing.T) {
	e, store := newTestEngine(t, waitengine.WithLeaseDuration(time.Minute))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, u := range []waitengine.ProgressUpdate{
		{CorrelationID: "corr-old", CreatedAt: base},
		{CorrelationID: "corr-new", CreatedAt: base.Add(time.Second)},
	} {
		u := u
		if err := store.SaveProgressUpdate(ctx, &u); err != nil {
			t.Fatalf("save progress update failed: %v", err)
		}
	}

	now := base.Add(time.Minute)
	claimed, err := e.FetchForProcessingProgressUpdate(ctx, []string{"corr-old"}, now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed == nil || claimed.CorrelationID != "corr-new" {
		t.Fatalf("busy exclusion ignored, got %+v", claimed)
	}

	// corr-new now holds a lease and corr-old is busy, so nothing claims
	none, err := e.FetchForProcessingProgressUpdate(ctx, []string{"corr-old"}, now)
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil claim, got %+v", none)
	}
}

func TestEngine_ProcessMessage_AggregatesResponses(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	responses := []waitengine.NotifyResponse{
		{UUID: "corr-a", ResponseData: []byte(`{"ok":true}`)},
		{UUID: "corr-b", IsError: true, ResponseData: []byte(`{"ok":false}`)},
	}
	for i := range responses {
		if err := store.SaveNotifyResponse(ctx, &responses[i]); err != nil {
			t.Fatalf("save response failed: %v", err)
		}
	}

	msg, err := e.ProcessMessage(ctx, &waitengine.WaitInstance{
		UUID:           "wait-1",
		CorrelationIDs: []string{"corr-a", "corr-b", "corr-pending"},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !msg.IsError {
		t.Error("any failed response must mark the message as error")
	}
	if len(msg.ResponseDataMap) != 2 {
		t.Fatalf("expected 2 responses aggregated, got %d", len(msg.ResponseDataMap))
	}
	if string(msg.ResponseDataMap["corr-a"]) != `{"ok":true}` {
		t.Errorf("unexpected data for corr-a: %s", msg.ResponseDataMap["corr-a"])
	}
}

func TestEngine_DeleteNotifyResponses_CountMismatchIsInvariant(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	if err := store.SaveNotifyResponse(ctx, &waitengine.NotifyResponse{UUID: "corr-a"}); err != nil {
		t.Fatalf("save response failed: %v", err)
	}

	if err := e.DeleteNotifyResponses(ctx, []string{"corr-a"}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// Deleting again removes zero of one requested, which is corruption,
	// never a retry case
	err := e.DeleteNotifyResponses(ctx, []string{"corr-a"})
	if !engine.IsInvariantViolation(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if engine.IsRetryable(err) {
		t.Error("invariant violations must not be retryable")
	}
}

func TestEngine_DeleteWaitInstance(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Save(ctx, &waitengine.WaitInstance{
		UUID:           "wait-1",
		CorrelationIDs: []string{"corr-a"},
	}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	pending, err := e.ModifyAndFetchWaitInstance(ctx, "corr-a")
	if err != nil || pending == nil {
		t.Fatalf("resolve failed: %v, %v", pending, err)
	}

	if err := e.DeleteWaitInstance(ctx, pending); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// Gone now, so the delete count comes back wrong
	err = e.DeleteWaitInstance(ctx, pending)
	if !engine.IsInvariantViolation(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestEngine_DeleteWaitInstance_RejectsUnresolved(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	instance := &waitengine.WaitInstance{
		UUID:           "wait-1",
		CorrelationIDs: []string{"corr-a"},
	}
	if _, err := e.Save(ctx, instance); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	err := e.DeleteWaitInstance(ctx, instance)
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent rejection of unresolved delete, got %v", err)
	}
}
