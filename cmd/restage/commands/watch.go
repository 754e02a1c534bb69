package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/restage/restage/pkg/pipeline"
)

func newWatchCommand() *cobra.Command {
	var (
		executionID string
		watchPath   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch pipeline files and re-check resumability on change",
		Long: `Watch a pipeline YAML file or directory and, on every change, re-check
whether the recorded execution is still structurally resumable against the
edited pipeline. Useful while editing a pipeline whose failed run you intend
to resume.`,
		Example: `  # Re-check resumability of exec-42 whenever pipeline.yaml changes
  restage watch --execution exec-42 --path pipeline.yaml

  # Watch a whole directory of pipelines
  restage watch --execution exec-42 --path ./pipelines`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			executedYaml, err := store.GetProcessedYaml(ctx, executionID)
			if err != nil {
				return fmt.Errorf("failed to load recorded yaml for %s: %w", executionID, err)
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			if err := addWatchPaths(watcher, watchPath); err != nil {
				return err
			}

			log.Info().
				Str("path", watchPath).
				Str("execution", executionID).
				Msg("Watching for pipeline changes")
			fmt.Printf("Watching %s, re-checking resumability of %s on change (Ctrl+C to stop)\n", watchPath, executionID)

			checkResumable(watchPath, executedYaml)
			processWatchEvents(ctx, watcher, executedYaml)
			return nil
		},
	}

	cmd.Flags().StringVar(&executionID, "execution", "", "plan execution id to check resumability against")
	cmd.Flags().StringVar(&watchPath, "path", ".", "pipeline file or directory to watch")
	_ = cmd.MarkFlagRequired("execution")

	return cmd
}

// addWatchPaths registers a file or directory tree with the watcher.
func addWatchPaths(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat watch path: %w", err)
	}
	if !info.IsDir() {
		return watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
}

// processWatchEvents reacts to pipeline file changes with a debounce so a
// burst of editor writes triggers one re-check.
func processWatchEvents(ctx context.Context, watcher *fsnotify.Watcher, executedYaml string) {
	var recheckTimer *time.Timer
	recheckDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				continue
			}

			log.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Pipeline file changed")

			changed := event.Name
			if recheckTimer != nil {
				recheckTimer.Stop()
			}
			recheckTimer = time.AfterFunc(recheckDelay, func() {
				checkResumable(changed, executedYaml)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// checkResumable reports whether the pipeline at path can still resume the
// recorded execution. Directories are silently skipped.
func checkResumable(path string, executedYaml string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	updated, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Failed to read pipeline file")
		return
	}

	if pipeline.ValidateRetry(string(updated), executedYaml) {
		fmt.Printf("✓ %s: still resumable\n", path)
	} else {
		fmt.Printf("✗ %s: stage line-up changed, execution no longer resumable\n", path)
	}
}
