package pipeline

import "regexp"

// stageIdentifierPath matches the flattened field paths that denote a
// top-level stage identifier, either directly under the stages list or one
// level down inside a parallel group. Step identifiers and other nested
// fields deliberately do not match: editing the inside of a stage does not
// break resumability, only changing the stage line-up does.
var stageIdentifierPath = regexp.MustCompile(
	`^pipeline/stages/\[\d+\](?:/parallel/\[\d+\])?/stage/identifier$`)

// ValidateRetry reports whether an execution of executedYaml can be resumed
// with updatedYaml. It fails closed: an empty document on either side is not
// resumable. Resumability demands list-equality of the ordered stage
// identifier sequences of both documents; any insertion, deletion, rename, or
// reordering of stages returns false. The strictness is intentional, the
// rewrite in RetryProcessedYaml relies on positional correspondence between
// the two stage lists.
func ValidateRetry(updatedYaml, executedYaml string) bool {
	if updatedYaml == "" || executedYaml == "" {
		return false
	}
	updated, err := stageIdentifierSequence(updatedYaml)
	if err != nil {
		return false
	}
	executed, err := stageIdentifierSequence(executedYaml)
	if err != nil {
		return false
	}
	if len(updated) != len(executed) {
		return false
	}
	for i := range updated {
		if updated[i] != executed[i] {
			return false
		}
	}
	return true
}

// stageIdentifierSequence extracts the ordered stage identifiers of a
// pipeline document from its flattened field paths.
func stageIdentifierSequence(src string) ([]string, error) {
	doc, err := ParseDocument(src)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, fp := range doc.Flatten() {
		if stageIdentifierPath.MatchString(fp.Path) {
			out = append(out, fp.Value)
		}
	}
	return out, nil
}
