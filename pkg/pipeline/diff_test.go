package pipeline

import "testing"

const executedYaml = `pipeline:
  __uuid: pipe-1
  identifier: deploy
  stages:
    - __uuid: entry-build
      stage:
        __uuid: stage-build
        identifier: build
        spec:
          __uuid: spec-build
          command: make
    - __uuid: entry-par
      parallel:
        - __uuid: branch-unit
          stage:
            __uuid: stage-unit
            identifier: unit
        - __uuid: branch-lint
          stage:
            __uuid: stage-lint
            identifier: lint
    - __uuid: entry-deploy
      stage:
        __uuid: stage-deploy
        identifier: deploy
`

func TestValidateRetry_IdenticalStageSequence(t *testing.T) {
	// A changed step body keeps the same stage line-up
	updated := `pipeline:
  identifier: deploy
  stages:
    - stage:
        identifier: build
        spec:
          command: make -j8
    - parallel:
        - stage:
            identifier: unit
        - stage:
            identifier: lint
    - stage:
        identifier: deploy
`
	if !ValidateRetry(updated, executedYaml) {
		t.Error("identical stage sequences must be resumable")
	}
}

func TestValidateRetry_EmptyInputFailsClosed(t *testing.T) {
	if ValidateRetry("", executedYaml) {
		t.Error("empty updated yaml must not be resumable")
	}
	if ValidateRetry(executedYaml, "") {
		t.Error("empty executed yaml must not be resumable")
	}
	if ValidateRetry("", "") {
		t.Error("two empty documents must not be resumable")
	}
}

func TestValidateRetry_StageRenamed(t *testing.T) {
	updated := `pipeline:
  stages:
    - stage:
        identifier: compile
    - parallel:
        - stage:
            identifier: unit
        - stage:
            identifier: lint
    - stage:
        identifier: deploy
`
	if ValidateRetry(updated, executedYaml) {
		t.Error("renamed stage must break resumability")
	}
}

func TestValidateRetry_StageRemoved(t *testing.T) {
	updated := `pipeline:
  stages:
    - stage:
        identifier: build
    - stage:
        identifier: deploy
`
	if ValidateRetry(updated, executedYaml) {
		t.Error("removed stage must break resumability")
	}
}

func TestValidateRetry_StagesReordered(t *testing.T) {
	updated := `pipeline:
  stages:
    - stage:
        identifier: deploy
    - parallel:
        - stage:
            identifier: unit
        - stage:
            identifier: lint
    - stage:
        identifier: build
`
	if ValidateRetry(updated, executedYaml) {
		t.Error("reordered stages must break resumability")
	}
}

func TestValidateRetry_StepIdentifierIgnored(t *testing.T) {
	// Identifiers nested below the stage level are not stage identifiers
	updated := `pipeline:
  stages:
    - stage:
        identifier: build
        spec:
          steps:
            - step:
                identifier: renamed-step
    - parallel:
        - stage:
            identifier: unit
        - stage:
            identifier: lint
    - stage:
        identifier: deploy
`
	if !ValidateRetry(updated, executedYaml) {
		t.Error("step-level identifier changes must not break resumability")
	}
}

func TestValidateRetry_MalformedYaml(t *testing.T) {
	if ValidateRetry("pipeline: [unclosed", executedYaml) {
		t.Error("malformed yaml must fail closed")
	}
}
