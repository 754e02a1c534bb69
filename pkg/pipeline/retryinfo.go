package pipeline

import "errors"

// ErrNotInParallelGroup is returned when a "retry only failed stages" request
// names a stage outside the addressed parallel group.
var ErrNotInParallelGroup = errors.New("run only failed stages is applicable only for failed parallel group stages")

// ErrNoFailedStages is returned when none of the requested stages in a
// parallel group have a failed status.
var ErrNoFailedStages = errors.New("no failed stage found in parallel group")

// GetRetryInfo buckets the ordered stage outcomes of a previous run by resume
// point. Stages sharing a nextId land in the same group, in encounter order;
// terminal stages (empty nextId) are grouped under the LastStageIdentifier
// sentinel. Bucket order follows the first occurrence of each key, so the
// result is a deterministic function of the input order and every input stage
// appears in exactly one group.
func GetRetryInfo(stageDetails []RetryStageInfo) RetryInfo {
	var order []string
	buckets := make(map[string][]RetryStageInfo)
	for _, info := range stageDetails {
		key := info.NextID
		if key == "" {
			key = LastStageIdentifier
		}
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], info)
	}

	groups := make([]RetryGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, RetryGroup{Info: buckets[key]})
	}
	return RetryInfo{IsResumable: true, Groups: groups}
}

// FetchOnlyFailedStages narrows a "retry this parallel group" request down to
// the branches that actually failed. Every requested identifier must belong
// to the supplied group, and at least one of the requested stages must have a
// failed status; both violations are user input errors.
func FetchOnlyFailedStages(group []RetryStageInfo, requestedIdentifiers []string) ([]string, error) {
	inGroup := make(map[string]RetryStageInfo, len(group))
	for _, info := range group {
		inGroup[info.Identifier] = info
	}
	if len(requestedIdentifiers) == 0 {
		return nil, ErrNotInParallelGroup
	}
	for _, id := range requestedIdentifiers {
		if _, ok := inGroup[id]; !ok {
			return nil, ErrNotInParallelGroup
		}
	}

	var failed []string
	for _, id := range requestedIdentifiers {
		if IsFailedStatus(inGroup[id].Status) {
			failed = append(failed, id)
		}
	}
	if len(failed) == 0 {
		return nil, ErrNoFailedStages
	}
	return failed, nil
}
