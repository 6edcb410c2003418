package daemon

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"talkreel/internal/config"
	"talkreel/internal/extjob"
	"talkreel/internal/logging"
	"talkreel/internal/personas"
	"talkreel/internal/pipeline"
	"talkreel/internal/services/dialogue"
	"talkreel/internal/services/joygen"
	"talkreel/internal/services/synthesis"
	"talkreel/internal/services/whisperx"
	"talkreel/internal/session"
)

// Worker container flags. Shared memory and unlimited locked memory are
// required by the PyTorch dataloaders inside the image.
var workerRunArgs = []string{"--ipc=host", "--ulimit", "memlock=-1", "--ulimit", "stack=67108864"}

// SessionSpec describes the JoyGen worker container.
func SessionSpec(cfg *config.Config) session.Spec {
	return session.Spec{
		Docker:     cfg.Session.Docker,
		Image:      cfg.Session.Image,
		NamePrefix: cfg.Session.NamePrefix,
		Mounts:     session.WorkerMounts(cfg.Session.HostDir, ""),
		// MAX_JOBS caps ninja parallelism when extensions compile on first use.
		Env:        []string{fmt.Sprintf("MAX_JOBS=%d", cfg.Session.MaxJobs)},
		GPUs:       "all",
		ExtraArgs:  append([]string(nil), workerRunArgs...),
		ReadyGrace: config.Seconds(cfg.Session.ReadyGraceSeconds),
	}
}

// NewCollaborators builds the services jobs call. A non-nil worker routes
// renders through that persistent session; otherwise each render runs the
// JoyGen script directly.
func NewCollaborators(cfg *config.Config, runner extjob.JobRunner, worker *session.Session, catalog *personas.Catalog, logger *slog.Logger) pipeline.Collaborators {
	if logger == nil {
		logger = logging.NewNop()
	}
	if runner == nil {
		runner = extjob.NewRunner()
	}

	recognizer := whisperx.NewService(whisperx.Config{
		Model:         cfg.Recognition.Model,
		CUDAEnabled:   cfg.Recognition.CUDA,
		Language:      cfg.Recognition.Language,
		Timeout:       config.Seconds(cfg.Recognition.TimeoutSeconds),
		MinAudioBytes: cfg.Recognition.MinAudioBytes,
	}, cfg.FFmpegBinary(), cfg.UVXBinary(),
		whisperx.WithRunner(runner),
		whisperx.WithLogger(logging.NewComponentLogger(logger, "recognition")),
	)

	responder := dialogue.NewClient(dialogue.Config{
		APIKey:           cfg.Dialogue.APIKey,
		BaseURL:          cfg.Dialogue.BaseURL,
		Model:            cfg.Dialogue.Model,
		Timeout:          config.Seconds(cfg.Dialogue.TimeoutSeconds),
		EmptyInputReply:  cfg.Dialogue.EmptyInputReply,
		Temperature:      cfg.Dialogue.Temperature,
		MaxTokens:        cfg.Dialogue.MaxTokens,
		TopP:             cfg.Dialogue.TopP,
		FrequencyPenalty: cfg.Dialogue.FrequencyPenalty,
		PresencePenalty:  cfg.Dialogue.PresencePenalty,
	}, dialogue.WithLogger(logging.NewComponentLogger(logger, "dialogue")))

	synthesizer := synthesis.NewClient(synthesisConfig(cfg),
		synthesis.WithLogger(logging.NewComponentLogger(logger, "synthesis")))

	renderTimeout := config.Seconds(cfg.Render.TimeoutSeconds)
	renderOpts := []joygen.Option{
		joygen.WithRunner(runner),
		joygen.WithLogger(logging.NewComponentLogger(logger, "render")),
	}
	if worker != nil {
		renderOpts = append(renderOpts, joygen.WithSession(worker))
		renderTimeout = config.Seconds(cfg.Session.StepTimeoutSeconds)
	}
	renderer := joygen.NewRenderer(joygen.Config{
		Dir:       cfg.Render.JoyGenDir,
		HostDir:   cfg.Session.HostDir,
		OutputDir: cfg.Paths.OutputDir,
		Bash:      cfg.BashBinary(),
		GPU:       cfg.Render.GPU,
		Timeout:   renderTimeout,
	}, renderOpts...)

	trainer := joygen.NewTrainer(joygen.TrainerConfig{
		Dir:        cfg.Render.JoyGenDir,
		Bash:       cfg.BashBinary(),
		GPU:        cfg.Render.GPU,
		Timeout:    config.Seconds(cfg.Training.TimeoutSeconds),
		ConfigFile: cfg.Training.ConfigFile,
	}, runner, logging.NewComponentLogger(logger, "training"))

	return pipeline.Collaborators{
		Recognizer:  recognizer,
		Responder:   responder,
		Synthesizer: synthesizer,
		Renderer:    renderer,
		Batcher:     renderer,
		Trainer:     trainer,
		Sessions: pipeline.SessionScope{
			Runner:  runner,
			Spec:    SessionSpec(cfg),
			Options: []session.Option{session.WithLogger(logging.NewComponentLogger(logger, "session"))},
		},
		Personas: catalog,
	}
}

func synthesisConfig(cfg *config.Config) synthesis.Config {
	return synthesis.Config{
		BaseURL:       cfg.Synthesis.BaseURL,
		Timeout:       config.Seconds(cfg.Synthesis.TimeoutSeconds),
		TextLang:      cfg.Synthesis.TextLang,
		PromptLang:    cfg.Synthesis.PromptLang,
		SplitMethod:   cfg.Synthesis.SplitMethod,
		MinAudioBytes: cfg.Synthesis.MinAudioBytes,
	}
}

// BatchOutputDir is the default destination of cross-synthesis clips.
func BatchOutputDir(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.OutputDir, "cross_synthesis")
}
