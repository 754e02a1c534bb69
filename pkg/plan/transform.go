package plan

import "fmt"

// ErrStalePlanReference is wrapped into the error returned by Transform when
// a node marked for replay has no resolvable historical execution. The resume
// hard-fails in that case: silently executing the node fresh could re-run
// side-effecting steps the user believed were being skipped.
var ErrStalePlanReference = fmt.Errorf("stale plan reference")

// Transform rewrites a freshly compiled plan for a resumed run. Every node
// whose UUID is in skipUUIDs becomes an identity node back-referencing the
// node execution recorded for it in the previous run, taken from
// nodeExecutionIDs (yaml node uuid -> node execution uuid, terminal
// executions only). All other nodes, and all plan metadata, pass through
// unchanged.
//
// A skip UUID that never became a plan node is ignored; processed YAML
// carries identifiers for more nodes than the plan materializes. A plan node
// marked for replay without a recorded execution is an ErrStalePlanReference.
func Transform(p Plan, skipUUIDs []string, nodeExecutionIDs map[string]string) (Plan, error) {
	skip := make(map[string]bool, len(skipUUIDs))
	for _, u := range skipUUIDs {
		skip[u] = true
	}

	out := p
	out.Nodes = make([]Node, len(p.Nodes))
	for i, n := range p.Nodes {
		if n.Kind != KindStep || !skip[n.Step.UUID] {
			out.Nodes[i] = n
			continue
		}
		execID, ok := nodeExecutionIDs[n.Step.UUID]
		if !ok {
			return Plan{}, fmt.Errorf("%w: no node execution recorded for plan node %q (%s)",
				ErrStalePlanReference, n.Step.UUID, n.Step.Identifier)
		}
		out.Nodes[i] = NewIdentityNode(IdentityNode{
			UUID:                    n.Step.UUID,
			Name:                    n.Step.Name,
			Identifier:              n.Step.Identifier,
			StageFQN:                n.Step.StageFQN,
			StepType:                n.Step.StepType,
			OriginalNodeExecutionID: execID,
		})
	}
	return out, nil
}
