package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"talkreel/internal/logging"
	"talkreel/internal/progresslog"
	"talkreel/internal/services"
	"talkreel/internal/services/joygen"
	"talkreel/internal/tasks"
)

// runRender renders one video. The tool's own completion keywords may
// finish the task before the video is published, so the expected output
// path is recorded up front.
func (o *Orchestrator) runRender(ctx context.Context, logger *slog.Logger, id string, req Request) (Result, error) {
	render := o.renderRequest(id, req, req.Audio)
	o.registry.UpdateProgress(id, tasks.Update{
		Message: "rendering video",
		Details: map[string]any{
			"audio_path":      render.Audio,
			"ref_video":       render.Video,
			"model_path":      render.ModelPath,
			"expected_output": o.collab.Renderer.Destination(render.Audio, render.Video),
		},
	})
	logger.Info("render job started",
		logging.String("audio", render.Audio),
		logging.String("video", render.Video),
		logging.String("infer_mode", joygen.InferMode(render.ModelPath)),
	)

	interp := progresslog.New(o.registry, id, progresslog.ModeRender, progresslog.WithLogger(logger))
	var path string
	err := o.runStage(ctx, StageRender, func(ctx context.Context) error {
		var err error
		path, err = o.collab.Renderer.Render(ctx, render, interp.Feed)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: ResultVideo, Path: path}, nil
}

func (o *Orchestrator) runTraining(ctx context.Context, logger *slog.Logger, id string, req Request) (Result, error) {
	train := joygen.TrainRequest{
		Video:     req.Video,
		GPU:       firstNonEmpty(req.GPU, o.settings.GPU),
		MaxSteps:  req.MaxSteps,
		BatchSize: req.BatchSize,
		Overrides: o.settings.Overrides,
	}
	if train.MaxSteps <= 0 {
		train.MaxSteps = o.settings.MaxSteps
	}
	if train.BatchSize <= 0 {
		train.BatchSize = o.settings.BatchSize
	}
	if train.Overrides != (joygen.Overrides{}) {
		train.Overrides.MaxSteps = train.MaxSteps
		train.Overrides.BatchSize = train.BatchSize
	}
	o.registry.UpdateProgress(id, tasks.Update{
		Message: fmt.Sprintf("training for %d steps", train.MaxSteps),
		Details: map[string]any{"video_path": train.Video, "max_steps": train.MaxSteps, "batch_size": train.BatchSize},
	})
	logger.Info("training job started",
		logging.String("video", train.Video),
		logging.Int("max_steps", train.MaxSteps),
		logging.Int("batch_size", train.BatchSize),
	)

	interp := progresslog.New(o.registry, id, progresslog.ModeTraining, progresslog.WithLogger(logger))
	var modelDir string
	err := o.runStage(ctx, "training", func(ctx context.Context) error {
		var err error
		modelDir, err = o.collab.Trainer.Train(ctx, train, interp.Feed)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: ResultModel, Path: modelDir}, nil
}

// runBatch renders cross-synthesis pairs inside one worker session. Single
// clip failures are recorded in details; the batch fails only when no clip
// rendered or the session could not start.
func (o *Orchestrator) runBatch(ctx context.Context, logger *slog.Logger, id string, req Request) (Result, error) {
	batchReq := joygen.BatchRequest{InputDir: req.InputDir, OutputDir: req.OutputDir, Pairs: req.Pairs}
	logger.Info("batch job started",
		logging.String("input_dir", req.InputDir),
		logging.String("output_dir", req.OutputDir),
		logging.Int("pairs", req.Pairs),
	)
	o.registry.UpdateProgress(id, tasks.Update{Message: "starting worker session"})

	onClip := func(done, total int, clip joygen.Clip) {
		u := tasks.Update{CurrentStep: tasks.Step(done)}
		if clip.Err != nil {
			message, _ := services.Details(clip.Err)
			u.Message = fmt.Sprintf("clip %d/%d failed: %s", done, total, clip.Name)
			u.Details = map[string]any{"failed_" + clip.Name: message}
		} else {
			u.Message = fmt.Sprintf("clip %d/%d rendered: %s", done, total, clip.Name)
		}
		o.registry.UpdateProgress(id, u)
	}
	interp := progresslog.New(o.registry, id, progresslog.ModeRender,
		progresslog.WithDetailPrefix("clip_"),
		progresslog.WithoutKeywordCompletion(),
		progresslog.WithLogger(logger),
	)

	var batch joygen.BatchResult
	err := o.runStage(ctx, "batch", func(ctx context.Context) error {
		return o.collab.Sessions.WithSession(ctx, func(s joygen.ChainRunner) error {
			o.registry.UpdateProgress(id, tasks.Update{Message: "worker session ready"})
			var err error
			batch, err = o.collab.Batcher.Batch(ctx, s, batchReq, o.rng(), onClip, interp.Feed)
			return err
		})
	})
	if err != nil {
		return Result{}, err
	}
	o.registry.UpdateProgress(id, tasks.Update{Details: map[string]any{
		"clips_succeeded": batch.Succeeded,
		"clips_failed":    batch.Failed,
	}})
	if batch.Succeeded == 0 {
		return Result{}, services.Wrap(services.ErrRender, "batch", "run", fmt.Sprintf("all %d clips failed", batch.Failed), nil)
	}
	result := Result{Kind: ResultBatch, Path: batch.Metadata}
	if batch.Failed > 0 {
		result.Degraded = append(result.Degraded, Degradation{
			Stage:  "batch",
			Reason: fmt.Sprintf("%d of %d clips failed", batch.Failed, batch.Failed+batch.Succeeded),
		})
	}
	return result, nil
}
