package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"talkreel/internal/daemon"
	"talkreel/internal/extjob"
	"talkreel/internal/logging"
	"talkreel/internal/personas"
	"talkreel/internal/pipeline"
	"talkreel/internal/tasks"
)

const batchPollInterval = 500 * time.Millisecond

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var inputDir string
	var outputDir string
	var pairs int

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Render cross-synthesis clips locally",
		Long: "Pair random audio clips with random videos from the input directory and render each\n" +
			"pair inside one JoyGen worker container. Runs in this process; no daemon is needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			if strings.TrimSpace(inputDir) == "" {
				inputDir = cfg.Paths.InputDir
			}
			if strings.TrimSpace(outputDir) == "" {
				outputDir = daemon.BatchOutputDir(cfg)
			}
			if inputDir, err = filepath.Abs(inputDir); err != nil {
				return err
			}
			if outputDir, err = filepath.Abs(outputDir); err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			catalog, err := personas.Load(cfg.Paths.PersonasFile)
			if err != nil {
				return fmt.Errorf("load personas: %w", err)
			}

			registry := tasks.NewRegistry(tasks.WithLogCapacity(cfg.Registry.LogCapacity))
			runner := extjob.NewRunner(extjob.WithLogger(logging.NewComponentLogger(logger, "extjob")))
			jobs := pipeline.New(registry,
				daemon.NewCollaborators(cfg, runner, nil, catalog, logger),
				pipeline.SettingsFromConfig(cfg),
				pipeline.WithLogger(logging.NewComponentLogger(logger, "pipeline")),
			)

			id := "batch-" + uuid.NewString()[:8]
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch %s: %d pairs from %s into %s\n", id, pairs, inputDir, outputDir)

			done := make(chan struct{})
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				followTask(out, registry, id, done)
			}()
			result, runErr := jobs.Run(cmd.Context(), id, pipeline.Request{
				Kind:      tasks.KindBatch,
				InputDir:  inputDir,
				OutputDir: outputDir,
				Pairs:     pairs,
			})
			close(done)
			<-printed

			if runErr != nil {
				return runErr
			}
			if task, ok := registry.GetTask(id); ok {
				succeeded, _ := task.Detail("clips_succeeded")
				failed, _ := task.Detail("clips_failed")
				fmt.Fprintf(out, "Rendered %v clips, %v failed\n", succeeded, failed)
			}
			fmt.Fprintf(out, "Metadata: %s\n", result.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&inputDir, "input-dir", "", "Directory of source audio and video (defaults to paths.input_dir)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Destination directory (defaults to <output_dir>/cross_synthesis)")
	cmd.Flags().IntVarP(&pairs, "pairs", "n", 5, "Number of audio/video pairs to render")
	return cmd
}

// followTask prints sampled progress until done closes.
func followTask(out io.Writer, registry *tasks.Registry, id string, done <-chan struct{}) {
	sampler := logging.NewProgressSampler(10)
	ticker := time.NewTicker(batchPollInterval)
	defer ticker.Stop()
	lastMessage := ""
	emit := func() {
		task, ok := registry.GetTask(id)
		if !ok || task.Message == lastMessage {
			return
		}
		if sampler.ShouldLog(float64(task.Progress), fmt.Sprintf("step %d", task.CurrentStep)) || task.Status != tasks.StatusRunning {
			lastMessage = task.Message
			fmt.Fprintf(out, "[%3d%%] %s\n", task.Progress, task.Message)
		}
	}
	for {
		select {
		case <-done:
			emit()
			return
		case <-ticker.C:
			emit()
		}
	}
}
