// Package engine provides the retry/resume orchestration layer for failed
// pipeline executions.
//
// # Overview
//
// A pipeline run is recorded as processed YAML whose mapping nodes carry
// synthetic identifiers, plus per-stage outcomes and per-node executions.
// When a run fails, the engine answers "from where can it resume" and
// prepares the resumed run in four steps:
//
//  1. Validate - The current pipeline YAML must carry the exact stage
//     line-up of the executed one (pipeline.ValidateRetry)
//  2. Group - Stage outcomes are bucketed by resume point
//     (pipeline.GetRetryInfo); retrying any member of a group replays
//     everything before it
//  3. Rewrite - The processed YAML is rewritten so every stage before the
//     retry point is replayed by reference (pipeline.RetryProcessedYaml)
//  4. Transform - The freshly compiled plan swaps replayed nodes for
//     identity nodes back-referencing the recorded executions
//     (plan.Transform)
//
// RetryService drives the sequence over an ExecutionHistoryStore and a
// PipelineStore; plan compilation is delegated to a PlanCompiler.
//
// # Validation answers versus errors
//
// Retry preconditions that fail (deleted pipeline, non-latest attempt,
// execution too old, changed pipeline) are answers, reported through
// pipeline.RetryInfo with IsResumable=false and a user-facing message.
// Only infrastructure and invariant failures surface as Go errors.
//
// # Error Classification
//
// Errors are classified for retry logic:
//
//   - Transient: Temporary failures that may succeed on retry
//   - Conflict: State conflicts such as lost lease races
//   - Permanent: Non-recoverable errors such as invalid requests
//   - Invariant: Persisted state contradicting an engine invariant
//
// Use the error helper functions to classify and inspect errors:
//
//	if engine.IsRetryable(err) {
//	    // Retry the operation
//	}
package engine
