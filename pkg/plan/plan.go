package plan

import (
	"fmt"
)

// NodeKind discriminates the node variants of a plan.
type NodeKind string

const (
	// KindStep is a regular node that invokes a step executor when reached.
	KindStep NodeKind = "step"

	// KindIdentity is a pass-through node that replays the outcome of a
	// previously recorded node execution instead of running step logic.
	KindIdentity NodeKind = "identity"
)

// Node is one node of a compiled plan. Exactly one of Step and Identity is
// populated, selected by Kind.
type Node struct {
	Kind     NodeKind      `json:"kind"`
	Step     *StepNode     `json:"step,omitempty"`
	Identity *IdentityNode `json:"identity,omitempty"`
}

// StepNode is a plan node that executes step logic through an external step
// executor identified by StepType.
type StepNode struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	StageFQN   string `json:"stageFqn,omitempty"`
	StepType   string `json:"stepType"`
	// Spec is the opaque step configuration handed to the executor.
	Spec map[string]any `json:"spec,omitempty"`
}

// IdentityNode carries the identity metadata of the step node it replaced
// plus the back-reference to the historical node execution whose recorded
// outcome must be reused.
type IdentityNode struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	StageFQN   string `json:"stageFqn,omitempty"`
	StepType   string `json:"stepType"`

	// OriginalNodeExecutionID references the node execution of the previous
	// run that reached a terminal status; the orchestrator copies its outcome
	// instead of invoking a step executor.
	OriginalNodeExecutionID string `json:"originalNodeExecutionId"`
}

// UUID returns the plan-node identifier regardless of variant.
func (n Node) UUID() string {
	switch n.Kind {
	case KindIdentity:
		return n.Identity.UUID
	default:
		return n.Step.UUID
	}
}

// Identifier returns the node identifier regardless of variant.
func (n Node) Identifier() string {
	switch n.Kind {
	case KindIdentity:
		return n.Identity.Identifier
	default:
		return n.Step.Identifier
	}
}

// NewStepNode wraps a step node into the variant.
func NewStepNode(step StepNode) Node {
	return Node{Kind: KindStep, Step: &step}
}

// NewIdentityNode wraps an identity node into the variant.
func NewIdentityNode(identity IdentityNode) Node {
	return Node{Kind: KindIdentity, Identity: &identity}
}

// Plan is the compiled, executable graph of a pipeline run as produced by the
// plan-creation subsystem and, on retry, transformed by Transform.
type Plan struct {
	UUID           string            `json:"uuid"`
	Nodes          []Node            `json:"nodes"`
	StartingNodeID string            `json:"startingNodeId"`
	Abstractions   map[string]string `json:"setupAbstractions,omitempty"`
	GraphLayout    string            `json:"graphLayoutInfo,omitempty"`
	ValidUntil     int64             `json:"validUntil,omitempty"`
	Valid          bool              `json:"valid"`
	ErrorResponse  string            `json:"errorResponse,omitempty"`
}

// Validate checks structural plan invariants: node variants are well-formed,
// node UUIDs are unique, the starting node exists, and every identity node
// carries a back-reference.
func (p Plan) Validate() error {
	seen := make(map[string]bool, len(p.Nodes))
	startingFound := p.StartingNodeID == ""
	for i, n := range p.Nodes {
		switch n.Kind {
		case KindStep:
			if n.Step == nil || n.Identity != nil {
				return fmt.Errorf("node %d: malformed step variant", i)
			}
		case KindIdentity:
			if n.Identity == nil || n.Step != nil {
				return fmt.Errorf("node %d: malformed identity variant", i)
			}
			if n.Identity.OriginalNodeExecutionID == "" {
				return fmt.Errorf("node %d: identity node %q has no original node execution reference", i, n.Identity.UUID)
			}
		default:
			return fmt.Errorf("node %d: unknown node kind %q", i, n.Kind)
		}
		uuid := n.UUID()
		if uuid == "" {
			return fmt.Errorf("node %d has an empty uuid", i)
		}
		if seen[uuid] {
			return fmt.Errorf("duplicate plan node uuid %q", uuid)
		}
		seen[uuid] = true
		if uuid == p.StartingNodeID {
			startingFound = true
		}
	}
	if !startingFound {
		return fmt.Errorf("starting node %q not present in plan", p.StartingNodeID)
	}
	return nil
}
