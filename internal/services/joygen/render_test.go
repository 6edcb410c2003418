package joygen_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"talkreel/internal/extjob"
	"talkreel/internal/services"
	"talkreel/internal/services/joygen"
	"talkreel/internal/session"
)

type exitStatus int

func (e exitStatus) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitStatus) ExitCode() int { return int(e) }

// fakeScript stands in for run_joygen.sh: it writes a video under the
// results directory of the given inputs unless told otherwise.
type fakeScript struct {
	skipOutput bool
	exitErr    error
	calls      []extjob.Command
}

func (f *fakeScript) Run(ctx context.Context, cmd extjob.Command, onLine func(string)) error {
	f.calls = append(f.calls, cmd)
	onLine("Processing frame 10/20")
	if f.exitErr != nil {
		onLine("CUDA out of memory")
		return f.exitErr
	}
	if f.skipOutput {
		return nil
	}
	audio := argAfter(cmd.Args, "--audio_path")
	video := argAfter(cmd.Args, "--video_path")
	dir := filepath.Join(cmd.Dir, "results", stem(video)+"_"+stem(audio), "talk")
	return writeFile(filepath.Join(dir, "result.mp4"), "rendered")
}

// fakeWorker stands in for a session: it writes the chain's video on the
// host side of the results mount.
type fakeWorker struct {
	hostDir string
	failOn  string

	mu     sync.Mutex
	chains []session.Chain
}

func (f *fakeWorker) Run(ctx context.Context, chain session.Chain, timeout time.Duration, onLine func(string)) (extjob.Outcome, error) {
	f.mu.Lock()
	f.chains = append(f.chains, chain)
	f.mu.Unlock()
	last := chain.Steps[len(chain.Steps)-1].Command
	resultDir := argAfter(strings.Fields(last), "--result_dir")
	if f.failOn != "" && strings.Contains(resultDir, f.failOn) {
		return extjob.Outcome{ExitCode: 1}, &session.StepError{Index: 2, Step: "audio2motion", Total: 4, Err: &extjob.ToolError{Tool: "docker exec", ExitCode: 1}}
	}
	if err := writeFile(filepath.Join(f.hostDir, resultDir, "clip.mp4"), "clip for "+resultDir); err != nil {
		return extjob.Outcome{}, err
	}
	artifact, err := chain.Locate.Locate(time.Time{})
	return extjob.Outcome{Artifact: artifact}, err
}

func argAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func mustWrite(t *testing.T, path, content string) string {
	t.Helper()
	if err := writeFile(path, content); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInferMode(t *testing.T) {
	tests := map[string]string{
		"./JoyGen/pretrained_models/joygen": "infer",
		"checkpoints/xiaoya_steps5000":      "infer_manual",
		"":                                  "infer_manual",
	}
	for model, want := range tests {
		if got := joygen.InferMode(model); got != want {
			t.Errorf("InferMode(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestRenderScriptModePublishesVideo(t *testing.T) {
	root := t.TempDir()
	joyDir := filepath.Join(root, "JoyGen")
	outDir := filepath.Join(root, "out")
	audio := mustWrite(t, filepath.Join(root, "in", "reply.wav"), "wav")
	video := mustWrite(t, filepath.Join(root, "in", "ref.mp4"), "mp4")

	script := &fakeScript{}
	renderer := joygen.NewRenderer(joygen.Config{Dir: joyDir, OutputDir: outDir},
		joygen.WithRunner(extjob.NewRunner(extjob.WithExecutor(script))))

	var lines []string
	path, err := renderer.Render(context.Background(), joygen.RenderRequest{
		Audio:     audio,
		Video:     video,
		ModelPath: "checkpoints/ref_steps5000",
	}, func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	want := filepath.Join(outDir, "videos", "ref_reply_generated.mp4")
	if path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	if data, _ := os.ReadFile(path); string(data) != "rendered" {
		t.Fatalf("published content = %q", data)
	}
	if len(lines) != 1 || lines[0] != "Processing frame 10/20" {
		t.Fatalf("tool output not streamed: %v", lines)
	}

	cmd := script.calls[0]
	if cmd.Binary != "bash" || cmd.Dir != joyDir {
		t.Fatalf("unexpected command %+v", cmd)
	}
	args := strings.Join(cmd.Args, " ")
	wantArgs := "run_joygen.sh infer_manual --audio_path " + audio + " --video_path " + video + " --gpu GPU0"
	if args != wantArgs {
		t.Fatalf("args = %q, want %q", args, wantArgs)
	}
}

func TestRenderScriptModeFailures(t *testing.T) {
	root := t.TempDir()
	audio := mustWrite(t, filepath.Join(root, "a.wav"), "wav")
	video := mustWrite(t, filepath.Join(root, "v.mp4"), "mp4")

	t.Run("non-zero exit", func(t *testing.T) {
		renderer := joygen.NewRenderer(joygen.Config{Dir: filepath.Join(root, "J1"), OutputDir: root},
			joygen.WithRunner(extjob.NewRunner(extjob.WithExecutor(&fakeScript{exitErr: exitStatus(3)}))))
		_, err := renderer.Render(context.Background(), joygen.RenderRequest{Audio: audio, Video: video}, nil)
		if !errors.Is(err, joygen.ErrToolExitNonZero) || !errors.Is(err, services.ErrRender) {
			t.Fatalf("expected tool exit error, got %v", err)
		}
		if !strings.Contains(err.Error(), "CUDA out of memory") {
			t.Fatalf("expected captured output in %v", err)
		}
	})

	t.Run("no video", func(t *testing.T) {
		renderer := joygen.NewRenderer(joygen.Config{Dir: filepath.Join(root, "J2"), OutputDir: root},
			joygen.WithRunner(extjob.NewRunner(extjob.WithExecutor(&fakeScript{skipOutput: true}))))
		_, err := renderer.Render(context.Background(), joygen.RenderRequest{Audio: audio, Video: video}, nil)
		if !errors.Is(err, joygen.ErrArtifactNotFound) {
			t.Fatalf("expected artifact not found, got %v", err)
		}
	})

	t.Run("missing audio", func(t *testing.T) {
		script := &fakeScript{}
		renderer := joygen.NewRenderer(joygen.Config{Dir: filepath.Join(root, "J3"), OutputDir: root},
			joygen.WithRunner(extjob.NewRunner(extjob.WithExecutor(script))))
		_, err := renderer.Render(context.Background(), joygen.RenderRequest{Audio: filepath.Join(root, "gone.wav"), Video: video}, nil)
		if !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if len(script.calls) != 0 {
			t.Fatal("script must not run without inputs")
		}
	})
}

func TestRenderSessionModeStagesInputs(t *testing.T) {
	root := t.TempDir()
	hostDir := filepath.Join(root, "JoyGen")
	audio := mustWrite(t, filepath.Join(root, "in", "reply.wav"), "wav")
	video := mustWrite(t, filepath.Join(root, "in", "ref.mp4"), "mp4")

	worker := &fakeWorker{hostDir: hostDir}
	renderer := joygen.NewRenderer(joygen.Config{Dir: hostDir, OutputDir: filepath.Join(root, "out")}, joygen.WithSession(worker))
	if !renderer.SessionMode() {
		t.Fatal("expected session mode")
	}
	path, err := renderer.Render(context.Background(), joygen.RenderRequest{Audio: audio, Video: video, Tag: "abc"}, nil)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if path != filepath.Join(root, "out", "videos", "ref_reply_generated.mp4") {
		t.Fatalf("unexpected path %q", path)
	}
	for _, staged := range []string{filepath.Join(hostDir, "audio", "reply.wav"), filepath.Join(hostDir, "video", "ref.mp4")} {
		if _, err := os.Stat(staged); err != nil {
			t.Fatalf("input not staged: %v", err)
		}
	}

	chain := worker.chains[0]
	if len(chain.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(chain.Steps))
	}
	if chain.Steps[0].Command != "ffmpeg -i audio/reply.wav -vn -acodec pcm_s16le -ar 16000 -ac 1 -y audio/reply_16k.wav -loglevel error" {
		t.Fatalf("unexpected extract step %q", chain.Steps[0].Command)
	}
	for _, want := range []string{"--drv_aud audio/reply_16k.wav", "--result_dir results/ref_reply_tidabc/a2m", "--exp_file reply.npy"} {
		if !strings.Contains(chain.Steps[1].Command, want) {
			t.Fatalf("audio2motion step missing %q: %s", want, chain.Steps[1].Command)
		}
	}
	if !strings.Contains(chain.Steps[3].Command, "--result_dir results/ref_reply_tidabc/talk") {
		t.Fatalf("joygen step has wrong result dir: %s", chain.Steps[3].Command)
	}
}

func TestInferenceChainQuotesUnsafeNames(t *testing.T) {
	chain := joygen.InferenceChain("my clip.mp4", "voice.mp4", "results/x")
	if !strings.Contains(chain.Steps[2].Command, "--infer_video_path 'video/my clip.mp4'") {
		t.Fatalf("expected quoted video path: %s", chain.Steps[2].Command)
	}
	if !strings.Contains(chain.Script(), "&& ffmpeg -i audio/voice.mp4") {
		t.Fatalf("unexpected script %s", chain.Script())
	}
}
