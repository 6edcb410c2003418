package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"talkreel/internal/personas"
	"talkreel/internal/pipeline"
	"talkreel/internal/services"
	"talkreel/internal/services/dialogue"
	"talkreel/internal/services/joygen"
	"talkreel/internal/services/synthesis"
	"talkreel/internal/services/whisperx"
	"talkreel/internal/tasks"
)

type fakeRecognizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, audioPath, language string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeResponder struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	personas []dialogue.Persona
}

func (f *fakeResponder) Reply(ctx context.Context, prompt string, persona dialogue.Persona) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.personas = append(f.personas, persona)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	if len(f.replies) > 0 {
		return f.replies[len(f.replies)-1], nil
	}
	return "", errors.New("no scripted reply")
}

type fakeSynthesizer struct {
	err      error
	requests []synthesis.Request
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req synthesis.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return "", err
	}
	return req.Output, os.WriteFile(req.Output, []byte("RIFF"), 0o644)
}

type fakeRenderer struct {
	lines    []string
	err      error
	requests []joygen.RenderRequest
}

func (f *fakeRenderer) Render(ctx context.Context, req joygen.RenderRequest, onLine func(string)) (string, error) {
	f.requests = append(f.requests, req)
	for _, line := range f.lines {
		onLine(line)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.Destination(req.Audio, req.Video), nil
}

func (f *fakeRenderer) Destination(audio, video string) string {
	return filepath.Join("/out/videos", strings.TrimSuffix(filepath.Base(video), filepath.Ext(video))+"_generated.mp4")
}

type fakeTrainer struct {
	lines    []string
	requests []joygen.TrainRequest
}

func (f *fakeTrainer) Train(ctx context.Context, req joygen.TrainRequest, onLine func(string)) (string, error) {
	f.requests = append(f.requests, req)
	for _, line := range f.lines {
		onLine(line)
	}
	return fmt.Sprintf("/joygen/checkpoints/ref_steps%d", req.MaxSteps), nil
}

type fakeBatcher struct {
	clips []joygen.Clip
}

func (f *fakeBatcher) Batch(ctx context.Context, s joygen.ChainRunner, req joygen.BatchRequest, rng *rand.Rand, onClip func(done, total int, clip joygen.Clip), onLine func(string)) (joygen.BatchResult, error) {
	var result joygen.BatchResult
	for i, clip := range f.clips {
		if clip.Err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
		result.Clips = append(result.Clips, clip)
		onClip(i+1, len(f.clips), clip)
	}
	result.Metadata = filepath.Join(req.OutputDir, "metadata.json")
	return result, nil
}

type fakeSessions struct {
	opened, closed int
}

func (f *fakeSessions) WithSession(ctx context.Context, fn func(joygen.ChainRunner) error) error {
	f.opened++
	defer func() { f.closed++ }()
	return fn(nil)
}

type harness struct {
	registry *tasks.Registry
	recog    *fakeRecognizer
	reply    *fakeResponder
	synth    *fakeSynthesizer
	render   *fakeRenderer
	trainer  *fakeTrainer
	batcher  *fakeBatcher
	sessions *fakeSessions
	sleeps   []time.Duration
	settings pipeline.Settings
	catalog  *personas.Catalog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.wav")
	if err := os.WriteFile(ref, []byte("voice"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &harness{
		registry: tasks.NewRegistry(),
		recog:    &fakeRecognizer{text: "你好"},
		reply:    &fakeResponder{replies: []string{"hi there"}},
		synth:    &fakeSynthesizer{},
		render:   &fakeRenderer{},
		trainer:  &fakeTrainer{},
		batcher:  &fakeBatcher{},
		sessions: &fakeSessions{},
		settings: pipeline.Settings{
			DialogueAttempts: 3,
			RetryDelay:       2 * time.Second,
			DefaultRefAudio:  ref,
			InputDir:         filepath.Join(dir, "input"),
			AudioOutputDir:   filepath.Join(dir, "audio"),
			DefaultRefVideo:  filepath.Join(dir, "ref.mp4"),
		},
	}
}

func (h *harness) orchestrator() *pipeline.Orchestrator {
	return pipeline.New(h.registry, pipeline.Collaborators{
		Recognizer:  h.recog,
		Responder:   h.reply,
		Synthesizer: h.synth,
		Renderer:    h.render,
		Trainer:     h.trainer,
		Batcher:     h.batcher,
		Sessions:    h.sessions,
		Personas:    h.catalog,
	}, h.settings, pipeline.WithSleeper(func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}))
}

func (h *harness) task(t *testing.T, id string) tasks.Task {
	t.Helper()
	task, ok := h.registry.GetTask(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return task
}

func TestTextInputAudioOnly(t *testing.T) {
	h := newHarness(t)
	result, err := h.orchestrator().Run(context.Background(), "job-a", pipeline.Request{
		Text:      "hello",
		AudioOnly: true,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Kind != pipeline.ResultAudio || result.InputText != "hello" || result.Reply != "hi there" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Degraded) != 0 {
		t.Fatalf("expected no degradation, got %+v", result.Degraded)
	}
	if h.recog.calls != 0 {
		t.Fatal("text input must skip recognition")
	}
	if len(h.render.requests) != 0 {
		t.Fatal("audio-only job must not render")
	}
	req := h.synth.requests[0]
	if req.Text != "hi there" || req.PromptText != "你好" || req.RefAudio != h.settings.DefaultRefAudio {
		t.Fatalf("unexpected synthesis request %+v", req)
	}

	task := h.task(t, "job-a")
	if task.Status != tasks.StatusCompleted || task.Progress != 100 {
		t.Fatalf("task status=%s progress=%d", task.Status, task.Progress)
	}
	if task.TotalSteps != 2 || task.CurrentStep != 2 {
		t.Fatalf("steps = %d/%d, want 2/2", task.CurrentStep, task.TotalSteps)
	}
	if task.Details["result_kind"] != "audio" || task.Details["result_path"] != result.Path {
		t.Fatalf("unexpected details %v", task.Details)
	}
	if _, err := os.Stat(result.Path); err != nil {
		t.Fatalf("audio not written: %v", err)
	}
}

func TestRenderFailureDegradesToAudio(t *testing.T) {
	h := newHarness(t)
	h.render.err = fmt.Errorf("%w: no mp4 under results", joygen.ErrArtifactNotFound)
	h.render.lines = []string{"Processing frame 5/50"}

	result, err := h.orchestrator().Run(context.Background(), "job-b", pipeline.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Kind != pipeline.ResultAudio || !result.DegradedStage(pipeline.StageRender) {
		t.Fatalf("expected audio result degraded at render, got %+v", result)
	}
	task := h.task(t, "job-b")
	if task.Status != tasks.StatusCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
	reason, ok := task.Details["render_degraded"].(string)
	if !ok || !strings.Contains(reason, "rendered video not found") {
		t.Fatalf("render degradation not recorded: %v", task.Details)
	}
	if task.Details["render_frame"] != 5 || task.Details["render_total_frames"] != 50 {
		t.Fatalf("render progress not prefixed into details: %v", task.Details)
	}
	if task.TotalSteps != 3 {
		t.Fatalf("frame totals must not replace stage totals, got %d", task.TotalSteps)
	}
	if !strings.Contains(task.Message, "degraded: render") {
		t.Fatalf("message = %q", task.Message)
	}
	if h.render.requests[0].Video != h.settings.DefaultRefVideo {
		t.Fatalf("expected default reference video, got %+v", h.render.requests[0])
	}
}

func TestTextInputVideoSucceeds(t *testing.T) {
	h := newHarness(t)
	result, err := h.orchestrator().Run(context.Background(), "job-v", pipeline.Request{Text: "hello", ModelPath: "/m/pretrained_models/joygen"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != pipeline.ResultVideo || result.Path != "/out/videos/ref_generated.mp4" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := h.render.requests[0]; got.ModelPath != "/m/pretrained_models/joygen" || got.Audio != h.synth.requests[0].Output || got.Tag != "jobv" {
		t.Fatalf("unexpected render request %+v", got)
	}
	task := h.task(t, "job-v")
	if task.CurrentStep != 3 || task.TotalSteps != 3 || task.Details["result_kind"] != "video" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestRecognitionFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	h.recog.err = fmt.Errorf("%w: empty transcript", whisperx.ErrNoSpeechDetected)

	_, err := h.orchestrator().Run(context.Background(), "job-c", pipeline.Request{AudioPath: "/in/input.wav"})
	if !errors.Is(err, whisperx.ErrNoSpeechDetected) || !errors.Is(err, services.ErrRecognition) {
		t.Fatalf("expected recognition failure, got %v", err)
	}
	task := h.task(t, "job-c")
	if task.Status != tasks.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if !strings.Contains(task.Message, "recognition failed") {
		t.Fatalf("message = %q", task.Message)
	}
	if task.TotalSteps != 4 {
		t.Fatalf("speech job with video has 4 stages, got %d", task.TotalSteps)
	}
	if h.reply.calls != 0 || len(h.synth.requests) != 0 {
		t.Fatal("no stage may run after recognition fails")
	}
}

func TestBlankRecognitionFailsJob(t *testing.T) {
	h := newHarness(t)
	h.recog.text = "  \n "

	_, err := h.orchestrator().Run(context.Background(), "job-blank", pipeline.Request{AudioPath: "/in/input.wav", AudioOnly: true})
	if !errors.Is(err, whisperx.ErrNoSpeechDetected) {
		t.Fatalf("expected no-speech failure, got %v", err)
	}
	if task := h.task(t, "job-blank"); task.Status != tasks.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if h.reply.calls != 0 || len(h.synth.requests) != 0 {
		t.Fatal("no reply may be generated for blank speech")
	}
}

func TestSpeechInputUsesRecognizedText(t *testing.T) {
	h := newHarness(t)
	result, err := h.orchestrator().Run(context.Background(), "job-s", pipeline.Request{AudioPath: "/in/input.wav", AudioOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.InputText != "你好" || h.recog.calls != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.task(t, "job-s").Details["input_text"] != "你好" {
		t.Fatal("recognized text not recorded")
	}
}

func TestDialogueRetriesThenFallsBack(t *testing.T) {
	h := newHarness(t)
	h.reply.errs = []error{dialogue.ErrTimeout, dialogue.ErrProviderError, dialogue.ErrProviderError}
	h.settings.FallbackReply = "抱歉"

	result, err := h.orchestrator().Run(context.Background(), "job-d", pipeline.Request{Text: "hello", AudioOnly: true})
	if err != nil {
		t.Fatalf("dialogue failure must not fail the job: %v", err)
	}
	if h.reply.calls != 3 {
		t.Fatalf("attempts = %d, want 3", h.reply.calls)
	}
	if len(h.sleeps) != 2 || h.sleeps[0] != 2*time.Second {
		t.Fatalf("unexpected retry delays %v", h.sleeps)
	}
	if result.Reply != "抱歉" || !result.DegradedStage(pipeline.StageDialogue) {
		t.Fatalf("expected fallback reply, got %+v", result)
	}
	if h.synth.requests[0].Text != "抱歉" {
		t.Fatal("fallback reply must be spoken")
	}
	task := h.task(t, "job-d")
	if task.Status != tasks.StatusCompleted || task.Details["dialogue_degraded"] == nil {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestDialogueRecoversOnRetryAndStripsAnnotations(t *testing.T) {
	h := newHarness(t)
	h.reply.errs = []error{dialogue.ErrProviderError}
	h.reply.replies = []string{"", "（微笑）你好呀 [laughs]"}

	result, err := h.orchestrator().Run(context.Background(), "job-r", pipeline.Request{Text: "hello", AudioOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Reply != "你好呀" || len(result.Degraded) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.reply.calls != 2 || len(h.sleeps) != 1 {
		t.Fatalf("calls=%d sleeps=%d", h.reply.calls, len(h.sleeps))
	}
}

func TestSynthesisFailureReturnsText(t *testing.T) {
	h := newHarness(t)
	h.synth.err = fmt.Errorf("%w: connection refused", synthesis.ErrServiceUnavailable)

	result, err := h.orchestrator().Run(context.Background(), "job-t", pipeline.Request{Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != pipeline.ResultText || result.Path != "" || !result.DegradedStage(pipeline.StageSynthesis) {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(h.render.requests) != 0 {
		t.Fatal("render must not run without audio")
	}
	task := h.task(t, "job-t")
	if task.Status != tasks.StatusCompleted || task.Details["result_kind"] != "text" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestMissingReferenceFailsJob(t *testing.T) {
	h := newHarness(t)
	h.settings.DefaultRefAudio = filepath.Join(t.TempDir(), "missing.wav")

	_, err := h.orchestrator().Run(context.Background(), "job-m", pipeline.Request{Text: "hello", AudioOnly: true})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if h.task(t, "job-m").Status != tasks.StatusFailed {
		t.Fatal("expected failed task")
	}
	if len(h.synth.requests) != 0 {
		t.Fatal("synthesizer must not be called without a reference")
	}
}

func TestPersonaFillsRequest(t *testing.T) {
	h := newHarness(t)
	voice := filepath.Join(t.TempDir(), "xiaoya.wav")
	if err := os.WriteFile(voice, []byte("voice"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.catalog = &personas.Catalog{Characters: []personas.Persona{{
		ID:           "xiaoya",
		Name:         "小雅",
		Personality:  "温柔",
		RefAudio:     voice,
		RefAudioText: "你好，我是小雅",
		RefVideo:     "/refs/xiaoya.mp4",
	}}}

	if _, err := h.orchestrator().Run(context.Background(), "job-p", pipeline.Request{Text: "hi", PersonaID: "xiaoya"}); err != nil {
		t.Fatal(err)
	}
	if got := h.reply.personas[0]; got.Name != "小雅" || got.Personality != "温柔" {
		t.Fatalf("persona not passed to dialogue: %+v", got)
	}
	if got := h.synth.requests[0]; got.RefAudio != voice || got.PromptText != "你好，我是小雅" {
		t.Fatalf("persona voice not used: %+v", got)
	}
	if h.render.requests[0].Video != "/refs/xiaoya.mp4" {
		t.Fatalf("persona video not used: %+v", h.render.requests[0])
	}

	_, err := h.orchestrator().Run(context.Background(), "job-q", pipeline.Request{Text: "hi", PersonaID: "nobody"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown persona, got %v", err)
	}
	if _, ok := h.registry.GetTask("job-q"); ok {
		t.Fatal("rejected request must not create a task")
	}
}

func TestSubmitRunsInBackground(t *testing.T) {
	h := newHarness(t)
	orch := pipeline.New(h.registry, pipeline.Collaborators{Responder: h.reply, Synthesizer: h.synth}, h.settings,
		pipeline.WithIDGenerator(func() string { return "generated" }))

	id, err := orch.Submit(context.Background(), pipeline.Request{Text: "hello", AudioOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if id != "generated" {
		t.Fatalf("id = %q", id)
	}
	orch.Wait()
	if h.task(t, id).Status != tasks.StatusCompleted {
		t.Fatalf("task not completed: %+v", h.task(t, id))
	}

	if _, err := orch.Submit(context.Background(), pipeline.Request{ID: "generated", Text: "again"}); !errors.Is(err, services.ErrDuplicateTask) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := orch.Submit(context.Background(), pipeline.Request{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := orch.Submit(context.Background(), pipeline.Request{AudioPath: "/in/a.wav"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("speech input without a recognizer must be rejected, got %v", err)
	}
	if _, err := orch.Submit(context.Background(), pipeline.Request{Kind: tasks.KindTraining, Video: "v.mp4"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("training without a trainer must be rejected, got %v", err)
	}
}

func TestRenderJobTracksFrames(t *testing.T) {
	h := newHarness(t)
	h.render.lines = []string{"Frame 30 of 200", "Frame 60 of 300"}

	result, err := h.orchestrator().Run(context.Background(), "job-render", pipeline.Request{
		Kind:     tasks.KindRender,
		Audio:    "/in/reply.wav",
		RefVideo: "/in/face.mp4",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != pipeline.ResultVideo {
		t.Fatalf("unexpected result %+v", result)
	}
	task := h.task(t, "job-render")
	if task.TotalSteps != 200 || task.CurrentStep != 60 {
		t.Fatalf("steps = %d/%d, want 60/200", task.CurrentStep, task.TotalSteps)
	}
	if task.Details["expected_output"] != "/out/videos/face_generated.mp4" {
		t.Fatalf("expected output not recorded: %v", task.Details)
	}
	if task.Status != tasks.StatusCompleted || task.Progress != 100 {
		t.Fatalf("unexpected terminal state %+v", task)
	}
}

func TestRenderRequestAcceptsAudioPath(t *testing.T) {
	req := pipeline.Request{Kind: tasks.KindRender, AudioPath: " /tmp/reply.wav "}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if req.Audio != "/tmp/reply.wav" || req.AudioPath != "" {
		t.Fatalf("audio_path not used as render audio: %+v", req)
	}

	empty := pipeline.Request{Kind: tasks.KindRender}
	err := empty.Validate()
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "audio_path") {
		t.Fatalf("expected audio_path validation error, got %v", err)
	}
}

func TestRenderJobKeywordFailureWins(t *testing.T) {
	h := newHarness(t)
	h.render.lines = []string{"Error: CUDA out of memory"}

	if _, err := h.orchestrator().Run(context.Background(), "job-kw", pipeline.Request{Kind: tasks.KindRender, Audio: "/a.wav"}); err != nil {
		t.Fatal(err)
	}
	task := h.task(t, "job-kw")
	if task.Status != tasks.StatusFailed {
		t.Fatalf("keyword failure must stick, got %s", task.Status)
	}
}

func TestTrainingJob(t *testing.T) {
	h := newHarness(t)
	h.trainer.lines = []string{"step: 100, epoch: 2, total loss: 0.54321"}
	h.settings.Overrides = joygen.Overrides{NumWorkers: 1}

	result, err := h.orchestrator().Run(context.Background(), "job-train", pipeline.Request{
		Kind:     tasks.KindTraining,
		Video:    "/in/ref.mp4",
		MaxSteps: 300,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != pipeline.ResultModel || result.Path != "/joygen/checkpoints/ref_steps300" {
		t.Fatalf("unexpected result %+v", result)
	}
	req := h.trainer.requests[0]
	if req.MaxSteps != 300 || req.BatchSize != joygen.DefaultBatchSize {
		t.Fatalf("unexpected train request %+v", req)
	}
	if req.Overrides.NumWorkers != 1 || req.Overrides.MaxSteps != 300 || req.Overrides.BatchSize != joygen.DefaultBatchSize {
		t.Fatalf("unexpected overrides %+v", req.Overrides)
	}
	task := h.task(t, "job-train")
	if task.TotalSteps != 300 || task.CurrentStep != 100 {
		t.Fatalf("steps = %d/%d", task.CurrentStep, task.TotalSteps)
	}
	if task.Details["epoch"] != 2 {
		t.Fatalf("epoch not recorded: %v", task.Details)
	}
	if loss, ok := task.Details["loss"].(float64); !ok || loss < 0.5432 || loss > 0.5433 {
		t.Fatalf("loss = %v", task.Details["loss"])
	}
}

func TestBatchJobRecordsClipFailures(t *testing.T) {
	h := newHarness(t)
	h.batcher.clips = []joygen.Clip{
		{Name: "pair_001_vA_aB.mp4", Path: "/out/pair_001_vA_aB.mp4"},
		{Name: "pair_001_vB_aA.mp4", Err: fmt.Errorf("%w: step 2/4 failed", joygen.ErrToolExitNonZero)},
	}

	result, err := h.orchestrator().Run(context.Background(), "job-batch", pipeline.Request{
		Kind:      tasks.KindBatch,
		InputDir:  "/mid",
		OutputDir: "/out",
		Pairs:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != pipeline.ResultBatch || !result.DegradedStage("batch") {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.sessions.opened != 1 || h.sessions.closed != 1 {
		t.Fatalf("session opened %d closed %d", h.sessions.opened, h.sessions.closed)
	}
	task := h.task(t, "job-batch")
	if task.TotalSteps != 2 || task.CurrentStep != 2 || task.Status != tasks.StatusCompleted {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.Details["failed_pair_001_vB_aA.mp4"] == nil || task.Details["clips_failed"] != 1 {
		t.Fatalf("clip failure not recorded: %v", task.Details)
	}
}

func TestBatchJobFailsWhenEveryClipFails(t *testing.T) {
	h := newHarness(t)
	h.batcher.clips = []joygen.Clip{
		{Name: "a.mp4", Err: joygen.ErrToolExitNonZero},
		{Name: "b.mp4", Err: joygen.ErrToolExitNonZero},
	}
	_, err := h.orchestrator().Run(context.Background(), "job-batch-fail", pipeline.Request{
		Kind: tasks.KindBatch, InputDir: "/mid", OutputDir: "/out", Pairs: 1,
	})
	if !errors.Is(err, services.ErrRender) {
		t.Fatalf("expected render error, got %v", err)
	}
	if h.sessions.closed != 1 {
		t.Fatal("session must be stopped")
	}
}
