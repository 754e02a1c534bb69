package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/restage/restage/pkg/pipeline"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <updated.yaml> <executed.yaml>",
		Short: "Check whether an execution is structurally resumable",
		Long: `Compare the pipeline's current YAML against the YAML recorded for a
previous execution and report whether the execution can be resumed.

Resumability demands an identical ordered stage line-up; editing the inside
of a stage is fine, adding, removing, renaming, or reordering stages is not.`,
		Example: `  # Compare the current pipeline against a recorded run
  restage validate pipeline.yaml executed.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			updated, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read updated yaml: %w", err)
			}
			executed, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read executed yaml: %w", err)
			}

			log.Debug().
				Str("updated", args[0]).
				Str("executed", args[1]).
				Msg("Comparing stage sequences")

			if !pipeline.ValidateRetry(string(updated), string(executed)) {
				fmt.Println("✗ Not resumable: the stage line-up changed between the two documents")
				os.Exit(1)
			}

			fmt.Println("✓ Resumable: stage sequences match")
			return nil
		},
	}

	return cmd
}
