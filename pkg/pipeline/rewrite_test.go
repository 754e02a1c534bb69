package pipeline

import (
	"reflect"
	"strings"
	"testing"
)

const previousYaml = `pipeline:
  __uuid: pipe-prev
  identifier: deploy
  stages:
    - __uuid: entry-build-prev
      stage:
        __uuid: stage-build-prev
        identifier: build
        spec:
          __uuid: spec-build-prev
          command: make
    - __uuid: entry-par-prev
      parallel:
        - __uuid: branch-unit-prev
          stage:
            __uuid: stage-unit-prev
            identifier: unit
        - __uuid: branch-lint-prev
          stage:
            __uuid: stage-lint-prev
            identifier: lint
    - __uuid: entry-deploy-prev
      stage:
        __uuid: stage-deploy-prev
        identifier: deploy
        spec:
          __uuid: spec-deploy-prev
          target: staging
`

const currentYaml = `pipeline:
  __uuid: pipe-curr
  identifier: deploy
  stages:
    - __uuid: entry-build-curr
      stage:
        __uuid: stage-build-curr
        identifier: build
        spec:
          __uuid: spec-build-curr
          command: make
    - __uuid: entry-par-curr
      parallel:
        - __uuid: branch-unit-curr
          stage:
            __uuid: stage-unit-curr
            identifier: unit
        - __uuid: branch-lint-curr
          stage:
            __uuid: stage-lint-curr
            identifier: lint
    - __uuid: entry-deploy-curr
      stage:
        __uuid: stage-deploy-curr
        identifier: deploy
        spec:
          __uuid: spec-deploy-curr
          target: production
`

func TestRetryProcessedYaml_RetryLastStage(t *testing.T) {
	res, err := RetryProcessedYaml(previousYaml, currentYaml, []string{"deploy"})
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	// Everything before the retry point is replayed wholesale
	wantSkipUUIDs := []string{
		"branch-lint-prev", "branch-unit-prev",
		"entry-build-prev", "entry-par-prev",
		"spec-build-prev",
		"stage-build-prev", "stage-lint-prev", "stage-unit-prev",
	}
	if got := SortedUUIDs(res.SkipUUIDs); !reflect.DeepEqual(got, wantSkipUUIDs) {
		t.Errorf("skip uuids:\n want %v\n got  %v", wantSkipUUIDs, got)
	}
	if want := []string{"build", "unit", "lint"}; !reflect.DeepEqual(res.SkipIdentifiers, want) {
		t.Errorf("skip identifiers: want %v, got %v", want, res.SkipIdentifiers)
	}

	// The replayed stages carry the previous run's subtrees verbatim
	if !strings.Contains(res.Yaml, "spec-build-prev") {
		t.Error("replayed build stage should carry its previous spec")
	}
	if strings.Contains(res.Yaml, "stage-build-curr") {
		t.Error("current build subtree should have been replaced")
	}

	// The retry target keeps its historical top-level identifiers but runs
	// with the freshly compiled body
	if !strings.Contains(res.Yaml, "stage-deploy-prev") {
		t.Error("retry target should keep the previous stage identifier")
	}
	if !strings.Contains(res.Yaml, "spec-deploy-curr") {
		t.Error("retry target should keep the current spec body")
	}
	if !strings.Contains(res.Yaml, "target: production") {
		t.Error("retry target should run the updated spec")
	}
}

func TestRetryProcessedYaml_RetryParallelBranch(t *testing.T) {
	res, err := RetryProcessedYaml(previousYaml, currentYaml, []string{"unit"})
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	// The build stage and the lint branch are replayed; unit runs fresh
	wantSkipUUIDs := []string{
		"branch-lint-prev",
		"entry-build-prev",
		"spec-build-prev",
		"stage-build-prev", "stage-lint-prev",
	}
	if got := SortedUUIDs(res.SkipUUIDs); !reflect.DeepEqual(got, wantSkipUUIDs) {
		t.Errorf("skip uuids:\n want %v\n got  %v", wantSkipUUIDs, got)
	}
	if want := []string{"build", "lint"}; !reflect.DeepEqual(res.SkipIdentifiers, want) {
		t.Errorf("skip identifiers: want %v, got %v", want, res.SkipIdentifiers)
	}

	// The retry branch correlates with its previous execution
	if !strings.Contains(res.Yaml, "stage-unit-prev") {
		t.Error("retry branch should keep the previous stage identifier")
	}

	// The walk halts at the group boundary: deploy stays freshly compiled
	if !strings.Contains(res.Yaml, "stage-deploy-curr") || !strings.Contains(res.Yaml, "spec-deploy-curr") {
		t.Error("stages after the retry point must stay untouched")
	}
	if strings.Contains(res.Yaml, "stage-deploy-prev") {
		t.Error("stages after the retry point must not be replaced")
	}
}

func TestRetryProcessedYaml_RetryFirstStage(t *testing.T) {
	res, err := RetryProcessedYaml(previousYaml, currentYaml, []string{"build"})
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	// Nothing precedes the retry point, so nothing is replayed
	if len(res.SkipUUIDs) != 0 {
		t.Errorf("expected no skip uuids, got %v", res.SkipUUIDs)
	}
	if len(res.SkipIdentifiers) != 0 {
		t.Errorf("expected no skip identifiers, got %v", res.SkipIdentifiers)
	}
	if !strings.Contains(res.Yaml, "stage-build-prev") {
		t.Error("retry target should keep the previous stage identifier")
	}
	if !strings.Contains(res.Yaml, "stage-unit-curr") {
		t.Error("stages after the retry point must stay untouched")
	}
}

func TestRetryProcessedYaml_UnknownRetryStage(t *testing.T) {
	_, err := RetryProcessedYaml(previousYaml, currentYaml, []string{"nonexistent"})
	if err == nil {
		t.Fatal("expected an error for an unknown retry stage")
	}
	if !strings.Contains(err.Error(), "none of the retry stages") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRetryProcessedYaml_StageCountMismatch(t *testing.T) {
	shorter := `pipeline:
  stages:
    - stage:
        identifier: build
`
	_, err := RetryProcessedYaml(shorter, currentYaml, []string{"build"})
	if err == nil || !strings.Contains(err.Error(), "stage count mismatch") {
		t.Fatalf("expected stage count mismatch, got %v", err)
	}
}

func TestRetryProcessedYaml_MarkerRoundTrip(t *testing.T) {
	res, err := RetryProcessedYaml(previousYaml, currentYaml, []string{"deploy"})
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	// The rewritten document must parse back with its identifiers intact
	doc, err := ParseDocument(res.Yaml)
	if err != nil {
		t.Fatalf("rewritten yaml does not parse: %v", err)
	}
	stages, err := stagesOf(doc)
	if err != nil {
		t.Fatalf("rewritten yaml lost its stage list: %v", err)
	}
	if len(stages.Items) != 3 {
		t.Fatalf("expected 3 stages after rewrite, got %d", len(stages.Items))
	}
	if stages.Items[0].UUID != "entry-build-prev" {
		t.Errorf("replayed entry uuid lost: %q", stages.Items[0].UUID)
	}
	if stages.Items[2].UUID != "entry-deploy-prev" {
		t.Errorf("retry target entry uuid not correlated: %q", stages.Items[2].UUID)
	}
}
