package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"talkreel/internal/config"
	"talkreel/internal/extjob"
	"talkreel/internal/logging"
	"talkreel/internal/personas"
	"talkreel/internal/services"
	"talkreel/internal/services/dialogue"
	"talkreel/internal/services/joygen"
	"talkreel/internal/services/synthesis"
	"talkreel/internal/session"
	"talkreel/internal/tasks"
)

// Registry is the task store the orchestrator reports into.
// *tasks.Registry satisfies it.
type Registry interface {
	CreateTask(id string, kind tasks.Kind, totalSteps int) error
	UpdateProgress(id string, u tasks.Update)
	CompleteTask(id string, success bool, message string)
}

// Recognizer turns speech into text.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath, language string) (string, error)
}

// Responder generates dialogue replies.
type Responder interface {
	Reply(ctx context.Context, prompt string, persona dialogue.Persona) (string, error)
}

// Synthesizer speaks text in a reference voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synthesis.Request) (string, error)
}

// VideoRenderer produces talking-head videos.
type VideoRenderer interface {
	Render(ctx context.Context, req joygen.RenderRequest, onLine func(string)) (string, error)
	Destination(audio, video string) string
}

// BatchRenderer runs cross-synthesis batches inside a worker session.
type BatchRenderer interface {
	Batch(ctx context.Context, s joygen.ChainRunner, req joygen.BatchRequest, rng *rand.Rand, onClip func(done, total int, clip joygen.Clip), onLine func(string)) (joygen.BatchResult, error)
}

// ModelTrainer fine-tunes rendering models.
type ModelTrainer interface {
	Train(ctx context.Context, req joygen.TrainRequest, onLine func(string)) (string, error)
}

// SessionOpener scopes a persistent worker session around fn and stops it on
// every exit path.
type SessionOpener interface {
	WithSession(ctx context.Context, fn func(joygen.ChainRunner) error) error
}

// SessionScope opens docker-backed sessions through session.With.
type SessionScope struct {
	Runner  extjob.JobRunner
	Spec    session.Spec
	Options []session.Option
}

// WithSession implements SessionOpener.
func (s SessionScope) WithSession(ctx context.Context, fn func(joygen.ChainRunner) error) error {
	return session.With(ctx, s.Runner, s.Spec, func(sess *session.Session) error {
		return fn(sess)
	}, s.Options...)
}

// Collaborators are the external services jobs call. Nil members disable
// the job kinds that need them.
type Collaborators struct {
	Recognizer  Recognizer
	Responder   Responder
	Synthesizer Synthesizer
	Renderer    VideoRenderer
	Batcher     BatchRenderer
	Trainer     ModelTrainer
	Sessions    SessionOpener
	Personas    *personas.Catalog
}

// Settings are the job defaults taken from configuration.
type Settings struct {
	Language          string
	DialogueAttempts  int
	RetryDelay        time.Duration
	FallbackReply     string
	DefaultRefAudio   string
	DefaultPromptText string
	InputDir          string
	AudioOutputDir    string
	DefaultRefVideo   string
	DefaultModelPath  string
	GPU               string
	MaxSteps          int
	BatchSize         int
	Overrides         joygen.Overrides
}

// SettingsFromConfig maps configuration onto job defaults.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Language:          cfg.Recognition.Language,
		DialogueAttempts:  cfg.Dialogue.Retries,
		RetryDelay:        config.Seconds(cfg.Dialogue.RetryDelaySeconds),
		FallbackReply:     cfg.Dialogue.FallbackReply,
		DefaultRefAudio:   cfg.Synthesis.DefaultRefAudio,
		DefaultPromptText: cfg.Synthesis.DefaultPromptText,
		InputDir:          cfg.Paths.InputDir,
		AudioOutputDir:    cfg.AudioOutputDir(),
		DefaultRefVideo:   cfg.Render.RefVideo,
		DefaultModelPath:  cfg.Render.ModelPath,
		GPU:               cfg.Render.GPU,
		MaxSteps:          cfg.Training.MaxSteps,
		BatchSize:         cfg.Training.BatchSize,
		// Steps and batch size travel on the command line; they are written
		// into the YAML only alongside these.
		Overrides: joygen.Overrides{
			NumWorkers:         cfg.Training.NumWorkers,
			LR:                 cfg.Training.LR,
			MinLR:              cfg.Training.MinLR,
			CheckpointInterval: cfg.Training.CheckpointInterval,
		},
	}
}

const (
	defaultFallbackReply = "抱歉，我现在无法回答，请稍后再试。"
	defaultPromptText    = "你好"
	defaultAttempts      = 3
	defaultRetryDelay    = 2 * time.Second
)

func (s Settings) normalized() Settings {
	if s.DialogueAttempts <= 0 {
		s.DialogueAttempts = defaultAttempts
	}
	if s.RetryDelay < 0 {
		s.RetryDelay = defaultRetryDelay
	}
	if strings.TrimSpace(s.FallbackReply) == "" {
		s.FallbackReply = defaultFallbackReply
	}
	if strings.TrimSpace(s.DefaultPromptText) == "" {
		s.DefaultPromptText = defaultPromptText
	}
	if s.Language == "" {
		s.Language = "zh-CN"
	}
	if s.MaxSteps <= 0 {
		s.MaxSteps = joygen.DefaultMaxSteps
	}
	if s.BatchSize <= 0 {
		s.BatchSize = joygen.DefaultBatchSize
	}
	return s
}

// Orchestrator runs jobs against a registry.
type Orchestrator struct {
	registry Registry
	collab   Collaborators
	settings Settings
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
	newID    func() string
	rng      func() *rand.Rand

	wg sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSleeper overrides how retry delays are waited out (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithRand makes batch pair selection deterministic.
func WithRand(rng func() *rand.Rand) Option {
	return func(o *Orchestrator) {
		if rng != nil {
			o.rng = rng
		}
	}
}

// New constructs an orchestrator.
func New(registry Registry, collab Collaborators, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		collab:   collab,
		settings: settings.normalized(),
		logger:   logging.NewNop(),
		sleep:    sleepContext,
		newID:    uuid.NewString,
		rng:      func() *rand.Rand { return nil },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates req, creates its task, and starts the job in the
// background. It returns the task id immediately; the outcome is reported
// only through the registry. Jobs outlive the submitting request; ctx
// scopes cancellation of the whole daemon, not of one HTTP call.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	if err := o.prepare(&req); err != nil {
		return "", err
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = o.newID()
	}
	if err := o.registry.CreateTask(id, req.Kind, o.totalSteps(req)); err != nil {
		return "", err
	}
	o.logger.Info("job submitted",
		logging.TaskID(id),
		logging.String(logging.FieldJobKind, string(req.Kind)),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.execute(ctx, id, req)
	}()
	return id, nil
}

// Run executes req synchronously under an existing task id, creating the
// task when it does not exist yet. The task is completed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, id string, req Request) (Result, error) {
	if err := o.prepare(&req); err != nil {
		return Result{}, err
	}
	if err := o.registry.CreateTask(id, req.Kind, o.totalSteps(req)); err != nil && !isDuplicate(err) {
		return Result{}, err
	}
	return o.execute(ctx, id, req)
}

// Wait blocks until every submitted job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) prepare(req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := o.applyPersona(req); err != nil {
		return err
	}
	if req.Kind != tasks.KindDialogue {
		return o.checkKind(req.Kind)
	}
	if req.Text == "" && o.collab.Recognizer == nil {
		return services.Wrap(services.ErrConfiguration, "submit", "validate", "speech input requires a recognizer", nil)
	}
	return nil
}

func (o *Orchestrator) checkKind(kind tasks.Kind) error {
	var ok bool
	switch kind {
	case tasks.KindRender:
		ok = o.collab.Renderer != nil
	case tasks.KindTraining:
		ok = o.collab.Trainer != nil
	case tasks.KindBatch:
		ok = o.collab.Batcher != nil && o.collab.Sessions != nil
	}
	if !ok {
		return services.Wrap(services.ErrConfiguration, "submit", "validate", fmt.Sprintf("%s jobs are not enabled", kind), nil)
	}
	return nil
}

// applyPersona fills unset request fields from the named persona.
func (o *Orchestrator) applyPersona(req *Request) error {
	if strings.TrimSpace(req.PersonaID) == "" || o.collab.Personas == nil {
		return nil
	}
	p, err := o.collab.Personas.Resolve(req.PersonaID)
	if err != nil {
		return err
	}
	fill := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	fill(&req.CharacterName, p.Name)
	fill(&req.CharacterPersonality, p.Personality)
	fill(&req.RefAudio, p.RefAudio)
	fill(&req.RefAudioText, p.RefAudioText)
	fill(&req.RefVideo, p.RefVideo)
	fill(&req.ModelPath, p.ModelPath)
	return nil
}

func (o *Orchestrator) totalSteps(req Request) int {
	switch req.Kind {
	case tasks.KindDialogue:
		return req.dialogueSteps()
	case tasks.KindTraining:
		if req.MaxSteps > 0 {
			return req.MaxSteps
		}
		return o.settings.MaxSteps
	case tasks.KindBatch:
		return req.Pairs * 2
	}
	// Render totals are discovered from the tool's frame counter.
	return 0
}

func (o *Orchestrator) execute(ctx context.Context, id string, req Request) (result Result, err error) {
	ctx = services.WithTaskID(ctx, id)
	logger := logging.WithContext(ctx, o.logger).With(logging.String(logging.FieldJobKind, string(req.Kind)))
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrTransient, string(req.Kind), "run", fmt.Sprintf("panic: %v", r), nil)
		}
		o.finish(logger, id, result, err, time.Since(started))
	}()

	switch req.Kind {
	case tasks.KindDialogue:
		return o.runDialogue(ctx, logger, id, req)
	case tasks.KindRender:
		return o.runRender(ctx, logger, id, req)
	case tasks.KindTraining:
		return o.runTraining(ctx, logger, id, req)
	case tasks.KindBatch:
		return o.runBatch(ctx, logger, id, req)
	}
	return Result{}, services.Wrap(services.ErrValidation, "run", "dispatch", fmt.Sprintf("unknown job kind %q", req.Kind), nil)
}

func (o *Orchestrator) finish(logger *slog.Logger, id string, result Result, err error, elapsed time.Duration) {
	if err != nil {
		message, hint := services.Details(err)
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.String(logging.FieldErrorHint, hint),
			logging.Duration("job_duration", elapsed),
			logging.Error(err),
		)
		o.registry.UpdateProgress(id, tasks.Update{Details: map[string]any{"error_hint": hint}})
		o.registry.CompleteTask(id, false, message)
		return
	}
	o.registry.UpdateProgress(id, tasks.Update{Details: result.details()})
	o.registry.CompleteTask(id, true, completionMessage(result))
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("result_kind", string(result.Kind)),
		logging.String("result_path", result.Path),
		logging.Int("degraded_stages", len(result.Degraded)),
		logging.Duration("job_duration", elapsed),
	)
}

func completionMessage(r Result) string {
	var msg string
	switch r.Kind {
	case ResultVideo:
		msg = "video ready: " + r.Path
	case ResultAudio:
		msg = "audio ready: " + r.Path
	case ResultText:
		msg = "reply ready as text: " + r.Reply
	case ResultModel:
		msg = "model trained: " + r.Path
	case ResultBatch:
		msg = "batch finished: " + r.Path
	default:
		msg = "job finished"
	}
	if len(r.Degraded) > 0 {
		stages := make([]string, 0, len(r.Degraded))
		for _, d := range r.Degraded {
			stages = append(stages, d.Stage)
		}
		msg += " (degraded: " + strings.Join(stages, ", ") + ")"
	}
	return msg
}

func isDuplicate(err error) bool {
	return err != nil && errors.Is(err, services.ErrDuplicateTask)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
