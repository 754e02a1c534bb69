package pipeline

// ExecutionStatus represents the terminal or in-flight status of a stage
// execution recorded in a previous run.
type ExecutionStatus string

const (
	StatusRunning          ExecutionStatus = "RUNNING"
	StatusQueued           ExecutionStatus = "QUEUED"
	StatusSuccess          ExecutionStatus = "SUCCESS"
	StatusIgnoreFailed     ExecutionStatus = "IGNORE_FAILED"
	StatusFailed           ExecutionStatus = "FAILED"
	StatusAborted          ExecutionStatus = "ABORTED"
	StatusExpired          ExecutionStatus = "EXPIRED"
	StatusApprovalRejected ExecutionStatus = "APPROVAL_REJECTED"
)

// LastStageIdentifier is the synthetic nextId under which the terminal stages
// of a run are grouped. Stages with no successor share this bucket.
const LastStageIdentifier = "last_stage_identifier"

// RetryStageInfo describes one stage's outcome in a previous run. It is
// derived from the execution history at resume-request time and never
// persisted on its own.
type RetryStageInfo struct {
	Name       string          `json:"name"`
	Identifier string          `json:"identifier"`
	Status     ExecutionStatus `json:"status"`
	CreatedAt  int64           `json:"createdAt"`
	ParentID   string          `json:"parentId"`
	// NextID is the identifier of the stage that followed this one, empty for
	// a stage with no successor.
	NextID string `json:"nextId,omitempty"`
}

// RetryGroup collects the stages that share the same resume point.
type RetryGroup struct {
	Info []RetryStageInfo `json:"info"`
}

// RetryInfo is the user-facing answer to "from where can this execution be
// retried". A structurally changed pipeline yields IsResumable=false with an
// explanatory message rather than an error.
type RetryInfo struct {
	IsResumable  bool         `json:"isResumable"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	Groups       []RetryGroup `json:"groups,omitempty"`
}

// IsFailedStatus reports whether a stage status counts as failed for the
// "retry only failed stages" feature.
func IsFailedStatus(status ExecutionStatus) bool {
	switch status {
	case StatusAborted, StatusFailed, StatusExpired, StatusApprovalRejected:
		return true
	default:
		return false
	}
}
