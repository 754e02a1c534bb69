// Package plan models the compiled execution plan of a pipeline run and the
// retry-time transform that turns already-executed nodes into identity nodes
// replaying previously recorded results.
//
// Nodes are a tagged variant rather than an interface hierarchy so that plan
// consumers must handle both step and identity nodes explicitly.
package plan
