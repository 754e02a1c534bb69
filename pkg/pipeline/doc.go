// Package pipeline implements the YAML-side core of the retry/resume engine:
// parsing processed pipeline YAML into an addressable document tree, deciding
// whether an edited pipeline is still structurally resumable, rewriting the
// processed YAML of a new run so that already-executed stages are replayed by
// reference, and grouping historical stages into user-facing resume points.
//
// All transforms in this package are pure: documents are parsed into owned
// tree values and rewritten as new values, never mutated in place.
package pipeline
