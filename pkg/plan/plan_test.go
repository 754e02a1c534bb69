package plan

import (
	"errors"
	"strings"
	"testing"
)

func stepPlan() Plan {
	return Plan{
		UUID:           "plan-1",
		StartingNodeID: "node-build",
		Nodes: []Node{
			NewStepNode(StepNode{UUID: "node-build", Name: "Build", Identifier: "build", StepType: "ShellScript"}),
			NewStepNode(StepNode{UUID: "node-test", Name: "Test", Identifier: "test", StepType: "ShellScript"}),
			NewStepNode(StepNode{UUID: "node-deploy", Name: "Deploy", Identifier: "deploy", StepType: "K8sApply"}),
		},
		Abstractions: map[string]string{"accountId": "acc-1"},
		Valid:        true,
	}
}

func TestPlan_Validate_WellFormed(t *testing.T) {
	if err := stepPlan().Validate(); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}
}

func TestPlan_Validate_DuplicateUUID(t *testing.T) {
	p := stepPlan()
	p.Nodes = append(p.Nodes, NewStepNode(StepNode{UUID: "node-build", Identifier: "build-again"}))
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate uuid error, got %v", err)
	}
}

func TestPlan_Validate_MissingStartingNode(t *testing.T) {
	p := stepPlan()
	p.StartingNodeID = "node-ghost"
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "starting node") {
		t.Fatalf("expected starting node error, got %v", err)
	}
}

func TestPlan_Validate_IdentityWithoutBackReference(t *testing.T) {
	p := stepPlan()
	p.Nodes[1] = NewIdentityNode(IdentityNode{UUID: "node-test", Identifier: "test"})
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "original node execution") {
		t.Fatalf("expected back-reference error, got %v", err)
	}
}

func TestPlan_Validate_MalformedVariant(t *testing.T) {
	p := stepPlan()
	p.Nodes[0] = Node{Kind: KindStep}
	if err := p.Validate(); err == nil {
		t.Fatal("step variant without payload must be rejected")
	}

	p = stepPlan()
	p.Nodes[0] = Node{Kind: "mystery", Step: &StepNode{UUID: "node-x"}}
	if err := p.Validate(); err == nil {
		t.Fatal("unknown node kind must be rejected")
	}
}

func TestTransform_ReplacesSkippedNodes(t *testing.T) {
	p := stepPlan()
	mapping := map[string]string{
		"node-build": "exec-build-1",
		"node-test":  "exec-test-1",
	}

	out, err := Transform(p, []string{"node-build", "node-test"}, mapping)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	if out.Nodes[0].Kind != KindIdentity || out.Nodes[1].Kind != KindIdentity {
		t.Fatal("skipped nodes must become identity nodes")
	}
	if out.Nodes[2].Kind != KindStep {
		t.Fatal("unskipped node must stay a step node")
	}

	id := out.Nodes[0].Identity
	if id.OriginalNodeExecutionID != "exec-build-1" {
		t.Errorf("back-reference: want exec-build-1, got %s", id.OriginalNodeExecutionID)
	}
	if id.UUID != "node-build" || id.Identifier != "build" || id.StepType != "ShellScript" {
		t.Errorf("identity node lost step metadata: %+v", id)
	}

	// Plan metadata passes through unchanged
	if out.UUID != p.UUID || out.StartingNodeID != p.StartingNodeID {
		t.Error("plan metadata must be preserved")
	}
	if out.Abstractions["accountId"] != "acc-1" {
		t.Error("setup abstractions must be preserved")
	}

	if err := out.Validate(); err != nil {
		t.Errorf("transformed plan should validate: %v", err)
	}
}

func TestTransform_IgnoresYamlOnlySkipUUIDs(t *testing.T) {
	p := stepPlan()
	mapping := map[string]string{"node-build": "exec-build-1"}

	// entry-1 and spec-1 exist only in the processed yaml, not in the plan
	out, err := Transform(p, []string{"entry-1", "node-build", "spec-1"}, mapping)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if out.Nodes[0].Kind != KindIdentity {
		t.Error("plan node in the skip set must be replaced")
	}
	if len(out.Nodes) != 3 {
		t.Errorf("yaml-only uuids must not change the node count, got %d", len(out.Nodes))
	}
}

func TestTransform_StaleReferenceHardFails(t *testing.T) {
	p := stepPlan()

	_, err := Transform(p, []string{"node-build"}, map[string]string{})
	if !errors.Is(err, ErrStalePlanReference) {
		t.Fatalf("expected ErrStalePlanReference, got %v", err)
	}
}

func TestTransform_LeavesIdentityNodesAlone(t *testing.T) {
	p := stepPlan()
	p.Nodes[0] = NewIdentityNode(IdentityNode{
		UUID: "node-build", Identifier: "build",
		OriginalNodeExecutionID: "exec-earlier",
	})

	// A second resume can see nodes that are already identities
	out, err := Transform(p, []string{"node-build"}, map[string]string{})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if out.Nodes[0].Identity.OriginalNodeExecutionID != "exec-earlier" {
		t.Error("existing identity node must pass through unchanged")
	}
}

func TestTransform_DoesNotMutateInput(t *testing.T) {
	p := stepPlan()
	_, err := Transform(p, []string{"node-build"}, map[string]string{"node-build": "exec-build-1"})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if p.Nodes[0].Kind != KindStep {
		t.Error("input plan must not be mutated")
	}
}
