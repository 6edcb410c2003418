package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"talkreel/internal/httpapi"
	"talkreel/internal/tasks"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var req httpapi.JobRequest
	var wait bool
	var interval time.Duration
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job to the running daemon",
		Long: "Submit a dialogue, render, training, or batch job to the running daemon.\n\n" +
			"Examples:\n" +
			"  talkreel submit --text \"hello there\" --persona keqing\n" +
			"  talkreel submit --kind render --audio reply.wav --ref-video host.mp4\n" +
			"  talkreel submit --kind training --video-path host.mp4 --max-steps 2000",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
			if !tasks.Kind(req.Kind).Valid() {
				return fmt.Errorf("unknown job kind %q (dialogue, render, training, batch)", req.Kind)
			}
			if err := absolutizePaths(&req); err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !wait {
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\nTask ID: %s\n", resp.Message, resp.TaskID)
				return nil
			}

			out := cmd.OutOrStdout()
			if !jsonOutput {
				fmt.Fprintf(out, "%s\nTask ID: %s\n", resp.Message, resp.TaskID)
			}
			last := ""
			final, err := client.WaitForTask(cmd.Context(), resp.TaskID, interval, func(view httpapi.TaskView) {
				if jsonOutput || view.Message == last {
					return
				}
				last = view.Message
				fmt.Fprintf(out, "[%3d%%] %s\n", view.Progress, view.Message)
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, final)
			}
			printTaskSummary(cmd, final)
			if final.Status == tasks.StatusFailed {
				return fmt.Errorf("task %s failed: %s", final.ID, final.Message)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Kind, "kind", string(tasks.KindDialogue), "Job kind: dialogue, render, training, or batch")
	flags.StringVar(&req.Text, "text", "", "Dialogue input text (skips recognition)")
	flags.StringVar(&req.AudioPath, "audio-path", "", "Dialogue input recording, or driving audio of a render job")
	flags.StringVar(&req.Language, "language", "", "Recognition language override")
	flags.BoolVar(&req.AudioOnly, "audio-only", false, "Stop after speech synthesis")
	flags.StringVar(&req.PersonaID, "persona", "", "Persona id from the catalog")
	flags.StringVar(&req.CharacterName, "character-name", "", "Character name override")
	flags.StringVar(&req.CharacterPersonality, "character-personality", "", "Character personality override")
	flags.StringVar(&req.RefAudio, "ref-audio", "", "Reference voice clip")
	flags.StringVar(&req.RefAudioText, "ref-audio-text", "", "Transcript of the reference voice clip")
	flags.StringVar(&req.RefVideo, "ref-video", "", "Reference video")
	flags.StringVar(&req.ModelPath, "model-path", "", "Render model directory")
	flags.StringVar(&req.GPU, "gpu", "", "GPU index")
	flags.StringVar(&req.Audio, "audio", "", "Driving audio of a render job (alias of --audio-path)")
	flags.StringVar(&req.VideoPath, "video-path", "", "Training video")
	flags.IntVar(&req.MaxSteps, "max-steps", 0, "Training steps")
	flags.IntVar(&req.BatchSize, "batch-size", 0, "Training batch size")
	flags.StringVar(&req.InputDir, "input-dir", "", "Batch input directory")
	flags.StringVar(&req.OutputDir, "output-dir", "", "Batch output directory")
	flags.IntVar(&req.Pairs, "pairs", 0, "Batch audio/video pairs to render")
	flags.BoolVarP(&wait, "wait", "w", false, "Follow progress until the task finishes")
	flags.DurationVar(&interval, "interval", time.Second, "Polling interval with --wait")
	flags.BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

// absolutizePaths resolves relative paths against the CLI's working
// directory; the daemon runs elsewhere.
func absolutizePaths(req *httpapi.JobRequest) error {
	for _, p := range []*string{
		&req.AudioPath, &req.RefAudio, &req.RefVideo, &req.ModelPath,
		&req.Audio, &req.VideoPath, &req.InputDir, &req.OutputDir,
	} {
		value := strings.TrimSpace(*p)
		if value == "" || filepath.IsAbs(value) {
			continue
		}
		abs, err := filepath.Abs(value)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", value, err)
		}
		*p = abs
	}
	return nil
}
