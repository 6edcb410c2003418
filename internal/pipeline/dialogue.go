package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"talkreel/internal/logging"
	"talkreel/internal/progresslog"
	"talkreel/internal/services"
	"talkreel/internal/services/dialogue"
	"talkreel/internal/services/joygen"
	"talkreel/internal/services/synthesis"
	"talkreel/internal/services/whisperx"
	"talkreel/internal/tasks"
	"talkreel/internal/textutil"
)

const (
	StageRecognition = "recognition"
	StageDialogue    = "dialogue"
	StageSynthesis   = "synthesis"
	StageRender      = "render"
)

// stepper numbers the stages of one job in the task's step counter.
type stepper struct {
	registry Registry
	id       string
	total    int
	n        int
}

func (s *stepper) begin(message string) {
	s.n++
	s.registry.UpdateProgress(s.id, tasks.Update{
		CurrentStep: tasks.Step(s.n),
		Message:     fmt.Sprintf("step %d/%d: %s", s.n, s.total, message),
	})
}

func (o *Orchestrator) runDialogue(ctx context.Context, logger *slog.Logger, id string, req Request) (Result, error) {
	steps := &stepper{registry: o.registry, id: id, total: req.dialogueSteps()}
	result := Result{InputText: req.Text}
	logger.Info("dialogue job started",
		logging.Bool("speech_input", req.Text == ""),
		logging.Bool("audio_only", req.AudioOnly),
		logging.Int("stages", steps.total),
	)

	if result.InputText == "" {
		steps.begin("recognizing speech")
		err := o.runStage(ctx, StageRecognition, func(ctx context.Context) error {
			text, err := o.collab.Recognizer.Recognize(ctx, req.AudioPath, firstNonEmpty(req.Language, o.settings.Language))
			if err != nil {
				return err
			}
			result.InputText = strings.TrimSpace(text)
			if result.InputText == "" {
				return whisperx.ErrNoSpeechDetected
			}
			return nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("speech recognition failed: %w", err)
		}
		o.registry.UpdateProgress(id, tasks.Update{Details: map[string]any{"input_text": result.InputText}})
	}

	steps.begin("generating reply")
	_ = o.runStage(ctx, StageDialogue, func(ctx context.Context) error {
		reply, degraded := o.generateReply(ctx, result.InputText, dialogue.Persona{
			Name:        req.CharacterName,
			Personality: req.CharacterPersonality,
		})
		if degraded != nil {
			result.Degraded = append(result.Degraded, *degraded)
			o.markDegraded(id, *degraded)
		}
		result.Reply = reply
		return nil
	})
	o.registry.UpdateProgress(id, tasks.Update{Details: map[string]any{"reply_text": result.Reply}})

	if req.AudioOnly {
		steps.begin("synthesizing speech")
	} else {
		steps.begin("synthesizing speech for video")
	}
	var audioPath string
	err := o.runStage(ctx, StageSynthesis, func(ctx context.Context) error {
		var err error
		audioPath, err = o.synthesize(ctx, id, req, result.Reply)
		return err
	})
	if err != nil {
		if errors.Is(err, errNoReference) {
			return Result{}, err
		}
		d := o.degrade(ctx, id, StageSynthesis, err, "reply returned as text without audio")
		result.Degraded = append(result.Degraded, d)
		result.Kind = ResultText
		return result, nil
	}
	result.Kind = ResultAudio
	result.Path = audioPath
	o.registry.UpdateProgress(id, tasks.Update{Details: map[string]any{"audio_path": audioPath}})
	if req.AudioOnly {
		return result, nil
	}

	steps.begin("rendering video")
	var videoPath string
	err = o.runStage(ctx, StageRender, func(ctx context.Context) error {
		if o.collab.Renderer == nil {
			return services.Wrap(services.ErrConfiguration, StageRender, "render", "no renderer configured", nil)
		}
		interp := progresslog.New(o.registry, id, progresslog.ModeRender,
			progresslog.WithDetailPrefix("render_"),
			progresslog.WithoutKeywordCompletion(),
			progresslog.WithLogger(logging.WithContext(ctx, o.logger)),
		)
		var err error
		videoPath, err = o.collab.Renderer.Render(ctx, o.renderRequest(id, req, audioPath), interp.Feed)
		return err
	})
	if err != nil {
		d := o.degrade(ctx, id, StageRender, err, "reply returned as audio without video")
		result.Degraded = append(result.Degraded, d)
		return result, nil
	}
	result.Kind = ResultVideo
	result.Path = videoPath
	return result, nil
}

// generateReply asks the provider for a reply, retrying with a fixed delay.
// After the last attempt it returns the fallback reply and the degradation.
func (o *Orchestrator) generateReply(ctx context.Context, prompt string, persona dialogue.Persona) (string, *Degradation) {
	logger := logging.WithContext(ctx, o.logger)
	if o.collab.Responder == nil {
		return o.settings.FallbackReply, &Degradation{Stage: StageDialogue, Reason: "no dialogue provider configured"}
	}
	attempts := o.settings.DialogueAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		reply, err := o.collab.Responder.Reply(ctx, prompt, persona)
		if err == nil {
			if cleaned := textutil.StripAnnotations(reply); cleaned != "" {
				return cleaned, nil
			}
			err = services.Wrap(services.ErrDialogue, StageDialogue, "reply", "reply contained only annotations", nil)
		}
		lastErr = err
		logger.Warn("dialogue attempt failed",
			logging.String(logging.FieldEventType, "dialogue_retry"),
			logging.String(logging.FieldErrorHint, "check the dialogue provider and API key"),
			logging.String(logging.FieldImpact, "the reply is retried"),
			logging.Int("attempt", attempt),
			logging.Int("attempts", attempts),
			logging.Error(err),
		)
		if attempt < attempts {
			if err := o.sleep(ctx, o.settings.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
	}
	message, hint := services.Details(lastErr)
	logging.WarnWithContext(logger, "dialogue provider exhausted, using fallback reply", "dialogue_degraded",
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, "a fixed apology is spoken instead of a generated reply"),
		logging.Error(lastErr),
	)
	return o.settings.FallbackReply, &Degradation{Stage: StageDialogue, Reason: message}
}

var errNoReference = errors.New("no reference voice sample")

// synthesize resolves the reference voice and speaks text into the audio
// output directory. A missing reference is a job failure; every other
// error is a synthesis failure the caller degrades.
func (o *Orchestrator) synthesize(ctx context.Context, id string, req Request, text string) (string, error) {
	if o.collab.Synthesizer == nil {
		return "", services.Wrap(services.ErrConfiguration, StageSynthesis, "synthesize", "no synthesizer configured", nil)
	}
	ref, err := synthesis.ResolveReference(req.RefAudio, o.settings.DefaultRefAudio, synthesis.LatestInput(o.settings.InputDir))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errNoReference, err)
	}
	if ref.Source == synthesis.SourceCopied {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "default reference audio seeded from latest input", "reference_seeded",
			logging.String(logging.FieldErrorHint, "configure synthesis.default_ref_audio with a clean voice sample"),
			logging.String(logging.FieldImpact, "the reply voice follows the latest recording"),
			logging.String("reference", ref.Path),
		)
	}
	promptText := strings.TrimSpace(req.RefAudioText)
	if ref.Source != synthesis.SourceRequest || promptText == "" {
		promptText = o.settings.DefaultPromptText
	}
	o.registry.UpdateProgress(id, tasks.Update{Details: map[string]any{
		"reference_audio":  ref.Path,
		"reference_source": string(ref.Source),
	}})
	return o.collab.Synthesizer.Synthesize(ctx, synthesis.Request{
		Text:       text,
		RefAudio:   ref.Path,
		PromptText: promptText,
		Output:     filepath.Join(o.settings.AudioOutputDir, "reply_"+shortID(id)+".wav"),
	})
}

func (o *Orchestrator) renderRequest(id string, req Request, audio string) joygen.RenderRequest {
	return joygen.RenderRequest{
		Audio:     audio,
		Video:     firstNonEmpty(req.RefVideo, o.settings.DefaultRefVideo),
		ModelPath: firstNonEmpty(req.ModelPath, o.settings.DefaultModelPath),
		GPU:       firstNonEmpty(req.GPU, o.settings.GPU),
		Tag:       shortID(id),
	}
}

// degrade logs a stage failure the job survives and records it on the task.
func (o *Orchestrator) degrade(ctx context.Context, id, stage string, err error, impact string) Degradation {
	message, hint := services.Details(err)
	logging.WarnWithContext(logging.WithContext(services.WithStage(ctx, stage), o.logger), stage+" failed, continuing degraded", stage+"_degraded",
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, impact),
		logging.Error(err),
	)
	d := Degradation{Stage: stage, Reason: message}
	o.markDegraded(id, d)
	return d
}

func (o *Orchestrator) markDegraded(id string, d Degradation) {
	o.registry.UpdateProgress(id, tasks.Update{
		Note:    fmt.Sprintf("%s degraded: %s", d.Stage, d.Reason),
		Details: map[string]any{d.Stage + "_degraded": d.Reason},
	})
}

// runStage brackets fn with stage start and completion logs.
func (o *Orchestrator) runStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx = services.WithStage(ctx, stage)
	logger := logging.WithContext(ctx, o.logger)
	started := time.Now()
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	if err := fn(ctx); err != nil {
		logger.Info("stage ended with error",
			logging.String(logging.FieldEventType, "stage_error"),
			logging.Duration("stage_duration", time.Since(started)),
			logging.Error(err),
		)
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(started)),
	)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// shortID derives a file-name-safe tag from a task id.
func shortID(id string) string {
	return textutil.FileTag(id, 12)
}
