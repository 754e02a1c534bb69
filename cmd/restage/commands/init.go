package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/restage/restage/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the restage workspace",
		Long: `Initialize a restage workspace: create the data directory, the SQLite
database with its schema, and a starter configuration file.`,
		Example: `  # Initialize in ./data
  restage init

  # Initialize with a custom data directory and config path
  restage init --data-dir /var/lib/restage --config /etc/restage/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("data_dir", dataDir).
				Str("config", configPath).
				Msg("Initializing workspace")

			ctx := context.Background()

			fmt.Printf("Initializing restage workspace in %s\n\n", dataDir)

			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
			}
			fmt.Printf("✓ Created directory: %s\n", dataDir)

			dbPath := filepath.Join(dataDir, "restage.db")
			store, err := stores.NewSQLiteStore(stores.Config{
				Path: dbPath,
			})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			fmt.Printf("✓ Initialized SQLite database: %s\n", dbPath)

			defaultConfig := `# Restage Configuration

server:
  addr: 127.0.0.1:8080
  metricsAddr: 127.0.0.1:9090

database:
  path: %s

retry:
  # Executions older than this cannot be retried
  maxAge: 720h

wait:
  # Callback-processing claims stay exclusive this long
  leaseDuration: 10m
`
			configContent := fmt.Sprintf(defaultConfig, dbPath)

			if configPath == "" {
				configPath = "./restage.yaml"
			}

			if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("✓ Created config file: %s\n", configPath)

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Start the service:\n")
			fmt.Printf("     restage serve --config %s\n\n", configPath)
			fmt.Printf("  2. Check where an execution can resume from:\n")
			fmt.Printf("     curl -X POST localhost:8080/retry/stages -d '{\"planExecutionId\":\"...\",\"pipelineIdentifier\":\"...\"}'\n\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "data directory for the SQLite database")

	return cmd
}
