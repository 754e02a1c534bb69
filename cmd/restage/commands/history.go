package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/restage/restage/pkg/engine"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <rootExecutionId>",
		Short: "Show the retry attempt chain of a logical run",
		Long: `List all execution attempts of a logical run, newest first. Attempts of
the same run share the root execution id of the first attempt.`,
		Example: `  # Show the attempt chain
  restage history exec-1

  # Machine-readable output
  restage history exec-1 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rootExecutionID := args[0]

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			retry := engine.NewRetryService(store, store, nil, nil)
			history, err := retry.GetRetryHistory(ctx, rootExecutionID)
			if err != nil {
				return fmt.Errorf("failed to load retry history: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(history)
			}

			if history.ErrorMessage != "" {
				fmt.Println(history.ErrorMessage)
				return nil
			}

			fmt.Printf("Retry history for %s (latest: %s):\n\n", rootExecutionID, history.LatestExecutionID)
			for _, attempt := range history.Executions {
				fmt.Printf("  %-24s %-18s started %s\n",
					attempt.UUID, attempt.Status, attempt.StartTS.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	return cmd
}
