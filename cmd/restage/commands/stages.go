package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/restage/restage/pkg/config"
	"github.com/restage/restage/pkg/pipeline"
	"github.com/restage/restage/pkg/stores"
)

// openStore loads the configuration and opens the SQLite store.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return store, nil
}

func newStagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stages <planExecutionId>",
		Short: "Print the retry-stage groups of an execution",
		Long: `Resolve the retry-stage groups of a recorded execution. Stages sharing a
resume point are grouped together; retrying any stage of a group replays
everything before the group and re-runs the group members.`,
		Example: `  # Show retry groups for an execution
  restage stages exec-42

  # Machine-readable output
  restage stages exec-42 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			planExecutionID := args[0]

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			details, err := store.GetStageDetails(ctx, planExecutionID)
			if err != nil {
				return fmt.Errorf("failed to load stage details: %w", err)
			}
			if len(details) == 0 {
				log.Warn().Str("execution", planExecutionID).Msg("No stage history recorded")
				fmt.Printf("No stage history recorded for execution %s\n", planExecutionID)
				return nil
			}

			info := pipeline.GetRetryInfo(details)

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Printf("Retry groups for execution %s:\n\n", planExecutionID)
			for i, group := range info.Groups {
				fmt.Printf("Group %d:\n", i+1)
				for _, stage := range group.Info {
					marker := " "
					if pipeline.IsFailedStatus(stage.Status) {
						marker = "✗"
					}
					fmt.Printf("  %s %-24s %s\n", marker, stage.Identifier, stage.Status)
				}
			}
			return nil
		},
	}

	return cmd
}
