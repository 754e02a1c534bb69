package pipeline

import "fmt"

// RewriteResult is the outcome of rewriting a processed YAML document for a
// resumed run.
type RewriteResult struct {
	// Yaml is the rewritten processed YAML for the new run.
	Yaml string

	// SkipUUIDs holds every node identifier found inside the replayed stage
	// subtrees, in document order. The plan transform turns the plan nodes
	// carrying these identifiers into identity nodes.
	SkipUUIDs []string

	// SkipIdentifiers lists the stage identifiers that will be replayed
	// rather than executed, in document order.
	SkipIdentifiers []string
}

// RetryProcessedYaml walks the previous run's stage list in lock-step with
// the current run's and rewrites the current document so that every stage
// before the retry point is replayed by reference:
//
//   - A stage outside the retry set is replaced wholesale by the previous
//     run's subtree and all of its node identifiers are recorded for the plan
//     transform.
//   - The retry target keeps only its historical top-level identifiers so the
//     new plan node correlates with the old one; the traversal then stops and
//     everything after the retry point is left exactly as freshly compiled.
//   - A parallel group descends one level when some of its branches are retry
//     targets, classifying each branch independently, and then stops at the
//     group boundary.
//
// Positional replacement is safe only because ValidateRetry has already
// established identical stage ordering between the two documents; the walk
// still re-checks identifiers and fails on any mismatch rather than guessing.
func RetryProcessedYaml(previousYaml, currentYaml string, retryStages []string) (RewriteResult, error) {
	var res RewriteResult

	previous, err := ParseDocument(previousYaml)
	if err != nil {
		return res, fmt.Errorf("previous processed yaml: %w", err)
	}
	current, err := ParseDocument(currentYaml)
	if err != nil {
		return res, fmt.Errorf("current processed yaml: %w", err)
	}

	retry := make(map[string]bool, len(retryStages))
	for _, id := range retryStages {
		retry[id] = true
	}

	result := current.DeepCopy()
	prevStages, err := stagesOf(previous)
	if err != nil {
		return res, fmt.Errorf("previous processed yaml: %w", err)
	}
	currStages, err := stagesOf(result)
	if err != nil {
		return res, fmt.Errorf("current processed yaml: %w", err)
	}
	if len(prevStages.Items) != len(currStages.Items) {
		return res, fmt.Errorf("stage count mismatch: previous has %d, current has %d",
			len(prevStages.Items), len(currStages.Items))
	}

	halted := false
walk:
	for i, prevEntry := range prevStages.Items {
		currEntry := currStages.Items[i]
		switch {
		case prevEntry.HasField("stage"):
			target, err := rewriteStageEntry(prevEntry, currEntry, retry, currStages, i, &res)
			if err != nil {
				return res, err
			}
			if target {
				halted = true
				break walk
			}
		case prevEntry.HasField("parallel"):
			target, err := rewriteParallelEntry(prevEntry, currEntry, retry, currStages, i, &res)
			if err != nil {
				return res, err
			}
			if target {
				halted = true
				break walk
			}
		default:
			return res, fmt.Errorf("stage entry %d is neither a stage nor a parallel group", i)
		}
	}
	if !halted {
		return res, fmt.Errorf("none of the retry stages %v exist in the pipeline", retryStages)
	}

	out, err := result.Serialize()
	if err != nil {
		return res, err
	}
	res.Yaml = out
	return res, nil
}

// rewriteStageEntry handles one non-parallel stage position. It returns true
// when the stage is the retry target and the walk must stop.
func rewriteStageEntry(prevEntry, currEntry *Node, retry map[string]bool, currStages *Node, i int, res *RewriteResult) (bool, error) {
	prevStage := prevEntry.Field("stage")
	ident := prevStage.StringField("identifier")
	if ident == "" {
		return false, fmt.Errorf("stage entry %d has no identifier", i)
	}
	currStage := currEntry.Field("stage")
	if currStage == nil || currStage.StringField("identifier") != ident {
		return false, fmt.Errorf("stage order mismatch at position %d: previous %q", i, ident)
	}

	if !retry[ident] {
		res.SkipUUIDs = append(res.SkipUUIDs, prevEntry.CollectUUIDs()...)
		res.SkipIdentifiers = append(res.SkipIdentifiers, ident)
		currStages.Items[i] = prevEntry.DeepCopy()
		return false, nil
	}

	// The retry target keeps its historical identifiers so the freshly
	// compiled plan node correlates with the recorded execution.
	currEntry.UUID = prevEntry.UUID
	currStage.UUID = prevStage.UUID
	return true, nil
}

// rewriteParallelEntry handles one parallel-group position. It returns true
// when any branch is a retry target: the branches are classified
// individually and the walk stops at the group boundary.
func rewriteParallelEntry(prevEntry, currEntry *Node, retry map[string]bool, currStages *Node, i int, res *RewriteResult) (bool, error) {
	prevGroup := prevEntry.Field("parallel")
	currGroup := currEntry.Field("parallel")
	if currGroup == nil || len(currGroup.Items) != len(prevGroup.Items) {
		return false, fmt.Errorf("parallel group mismatch at position %d", i)
	}

	anyTarget := false
	for _, branch := range prevGroup.Items {
		if retry[branch.Field("stage").StringField("identifier")] {
			anyTarget = true
			break
		}
	}

	if !anyTarget {
		res.SkipUUIDs = append(res.SkipUUIDs, prevEntry.CollectUUIDs()...)
		for _, branch := range prevGroup.Items {
			res.SkipIdentifiers = append(res.SkipIdentifiers, branch.Field("stage").StringField("identifier"))
		}
		currStages.Items[i] = prevEntry.DeepCopy()
		return false, nil
	}

	currEntry.UUID = prevEntry.UUID
	for j, prevBranch := range prevGroup.Items {
		prevStage := prevBranch.Field("stage")
		ident := prevStage.StringField("identifier")
		currBranch := currGroup.Items[j]
		currStage := currBranch.Field("stage")
		if currStage == nil || currStage.StringField("identifier") != ident {
			return false, fmt.Errorf("stage order mismatch in parallel group %d branch %d: previous %q", i, j, ident)
		}
		if !retry[ident] {
			res.SkipUUIDs = append(res.SkipUUIDs, prevBranch.CollectUUIDs()...)
			res.SkipIdentifiers = append(res.SkipIdentifiers, ident)
			currGroup.Items[j] = prevBranch.DeepCopy()
			continue
		}
		currBranch.UUID = prevBranch.UUID
		currStage.UUID = prevStage.UUID
	}
	return true, nil
}

// stagesOf locates the stages sequence of a pipeline document.
func stagesOf(doc *Node) (*Node, error) {
	stages := doc.Field("pipeline").Field("stages")
	if stages == nil || stages.Kind != KindSequence {
		return nil, fmt.Errorf("document has no pipeline.stages list")
	}
	return stages, nil
}
