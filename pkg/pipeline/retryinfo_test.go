package pipeline

import (
	"errors"
	"testing"
)

func TestGetRetryInfo_BucketsByNextID(t *testing.T) {
	details := []RetryStageInfo{
		{Identifier: "a", Status: StatusSuccess, NextID: "b"},
		{Identifier: "b", Status: StatusSuccess, NextID: ""},
		{Identifier: "c", Status: StatusFailed, NextID: "d"},
		{Identifier: "d", Status: StatusAborted, NextID: ""},
		{Identifier: "e", Status: StatusSuccess, NextID: "b"},
	}

	info := GetRetryInfo(details)
	if !info.IsResumable {
		t.Fatal("expected resumable info")
	}
	if len(info.Groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(info.Groups))
	}

	// First-seen bucket order: nextId b, then the terminal sentinel, then d
	wantGroups := [][]string{{"a", "e"}, {"b", "d"}, {"c"}}
	for gi, want := range wantGroups {
		got := info.Groups[gi].Info
		if len(got) != len(want) {
			t.Fatalf("group %d: expected %v, got %d stages", gi, want, len(got))
		}
		for si, id := range want {
			if got[si].Identifier != id {
				t.Errorf("group %d stage %d: expected %s, got %s", gi, si, id, got[si].Identifier)
			}
		}
	}
}

func TestGetRetryInfo_PartitionsInput(t *testing.T) {
	details := []RetryStageInfo{
		{Identifier: "a", NextID: "b"},
		{Identifier: "b", NextID: "c"},
		{Identifier: "c", NextID: ""},
	}

	info := GetRetryInfo(details)
	seen := make(map[string]int)
	for _, g := range info.Groups {
		for _, s := range g.Info {
			seen[s.Identifier]++
		}
	}
	if len(seen) != len(details) {
		t.Fatalf("expected every stage in some group, got %v", seen)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("stage %s appears %d times", id, n)
		}
	}
}

func TestGetRetryInfo_Empty(t *testing.T) {
	info := GetRetryInfo(nil)
	if !info.IsResumable {
		t.Error("empty history is still resumable")
	}
	if len(info.Groups) != 0 {
		t.Errorf("expected no groups, got %d", len(info.Groups))
	}
}

func TestIsFailedStatus(t *testing.T) {
	failed := []ExecutionStatus{StatusAborted, StatusFailed, StatusExpired, StatusApprovalRejected}
	for _, s := range failed {
		if !IsFailedStatus(s) {
			t.Errorf("%s should count as failed", s)
		}
	}
	notFailed := []ExecutionStatus{StatusSuccess, StatusIgnoreFailed, StatusRunning, StatusQueued}
	for _, s := range notFailed {
		if IsFailedStatus(s) {
			t.Errorf("%s should not count as failed", s)
		}
	}
}

func TestFetchOnlyFailedStages_FiltersToFailed(t *testing.T) {
	group := []RetryStageInfo{
		{Identifier: "unit", Status: StatusFailed},
		{Identifier: "lint", Status: StatusSuccess},
		{Identifier: "integration", Status: StatusAborted},
	}

	failed, err := FetchOnlyFailedStages(group, []string{"unit", "lint", "integration"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 2 || failed[0] != "unit" || failed[1] != "integration" {
		t.Errorf("expected [unit integration], got %v", failed)
	}
}

func TestFetchOnlyFailedStages_StageOutsideGroup(t *testing.T) {
	group := []RetryStageInfo{
		{Identifier: "unit", Status: StatusFailed},
	}

	_, err := FetchOnlyFailedStages(group, []string{"unit", "stranger"})
	if !errors.Is(err, ErrNotInParallelGroup) {
		t.Fatalf("expected ErrNotInParallelGroup, got %v", err)
	}
}

func TestFetchOnlyFailedStages_NoRequestedStages(t *testing.T) {
	group := []RetryStageInfo{
		{Identifier: "unit", Status: StatusFailed},
	}

	_, err := FetchOnlyFailedStages(group, nil)
	if !errors.Is(err, ErrNotInParallelGroup) {
		t.Fatalf("expected ErrNotInParallelGroup, got %v", err)
	}
}

func TestFetchOnlyFailedStages_NothingFailed(t *testing.T) {
	group := []RetryStageInfo{
		{Identifier: "unit", Status: StatusSuccess},
		{Identifier: "lint", Status: StatusIgnoreFailed},
	}

	_, err := FetchOnlyFailedStages(group, []string{"unit", "lint"})
	if !errors.Is(err, ErrNoFailedStages) {
		t.Fatalf("expected ErrNoFailedStages, got %v", err)
	}
}
