package progresslog_test

import (
	"math"
	"strings"
	"testing"

	"talkreel/internal/progresslog"
	"talkreel/internal/tasks"
)

func TestParseTraining(t *testing.T) {
	tests := []struct {
		line     string
		ok       bool
		step     int
		epoch    int
		hasEpoch bool
		loss     float64
		hasLoss  bool
	}{
		{line: "step: 100, epoch: 2, total loss: 0.54321", ok: true, step: 100, epoch: 2, hasEpoch: true, loss: 0.54321, hasLoss: true},
		{line: "step: 5, global_step: 1205, epoch: 3", ok: true, step: 1205, epoch: 3, hasEpoch: true},
		{line: "step:7", ok: true, step: 7},
		{line: "epoch: 4 total loss: 1.5", ok: false},
		{line: "loading checkpoint", ok: false},
		{line: "step: 99999999999999999999999", ok: false},
		{line: "step: 3 total loss: 0.25.", ok: true, step: 3, loss: 0.25, hasLoss: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			p, ok := progresslog.ParseTraining(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if p.Step != tt.step || p.Epoch != tt.epoch || p.HasEpoch != tt.hasEpoch || p.HasLoss != tt.hasLoss {
				t.Fatalf("unexpected parse: %+v", p)
			}
			if math.Abs(p.Loss-tt.loss) > 1e-9 {
				t.Fatalf("loss = %v, want %v", p.Loss, tt.loss)
			}
		})
	}
}

func TestParseRender(t *testing.T) {
	tests := []struct {
		line string
		want progresslog.RenderSignal
	}{
		{"Processing frame 12/240", progresslog.RenderSignal{Kind: progresslog.SignalFrames, Current: 12, Total: 240}},
		{"frame 30 of 200", progresslog.RenderSignal{Kind: progresslog.SignalFrames, Current: 30, Total: 200}},
		{"rendered 5/50 FRAMES", progresslog.RenderSignal{Kind: progresslog.SignalFrames, Current: 5, Total: 50}},
		{"progress: 45%", progresslog.RenderSignal{Kind: progresslog.SignalPercent, Percent: 45}},
		{"Frame 3 of 10 error recovered", progresslog.RenderSignal{Kind: progresslog.SignalFrames, Current: 3, Total: 10}},
		{"Start inference", progresslog.RenderSignal{Kind: progresslog.SignalStarted}},
		{"推理开始", progresslog.RenderSignal{Kind: progresslog.SignalStarted}},
		{"finished writing video", progresslog.RenderSignal{Kind: progresslog.SignalFinished}},
		{"生成完成", progresslog.RenderSignal{Kind: progresslog.SignalFinished}},
		{"RuntimeError: CUDA out of memory", progresslog.RenderSignal{Kind: progresslog.SignalFailed}},
		{"error while finishing", progresslog.RenderSignal{Kind: progresslog.SignalFailed}},
		{"发生错误", progresslog.RenderSignal{Kind: progresslog.SignalFailed}},
		{"loading unet weights", progresslog.RenderSignal{Kind: progresslog.SignalNone}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := progresslog.ParseRender(tt.line); got != tt.want {
				t.Fatalf("ParseRender(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseNeverPanicsOnGarbage(t *testing.T) {
	inputs := []string{
		"", "\x00\xff\xfe", "step:", "Frame of", "999999999999999999999/1 frames",
		"Progress: 99999999999999999999%", strings.Repeat("(", 10000), "global_step: -1",
	}
	for _, in := range inputs {
		progresslog.ParseTraining(in)
		progresslog.ParseRender(in)
	}
}

func TestInterpreterTrainingUpdatesRegistry(t *testing.T) {
	r := tasks.NewRegistry()
	if err := r.CreateTask("train", tasks.KindTraining, 1000); err != nil {
		t.Fatal(err)
	}
	in := progresslog.New(r, "train", progresslog.ModeTraining)

	in.Feed("step: 100, epoch: 2, total loss: 0.54321")
	in.Feed("some unrelated warning")
	in.Feed("   ")

	task, _ := r.GetTask("train")
	if task.CurrentStep != 100 || task.Progress != 10 {
		t.Fatalf("unexpected step/progress: %d/%d", task.CurrentStep, task.Progress)
	}
	if task.Details["epoch"] != 2 {
		t.Fatalf("epoch detail = %v", task.Details["epoch"])
	}
	loss, _ := task.Details["loss"].(float64)
	if math.Abs(loss-0.5432) > 0.0001 {
		t.Fatalf("loss detail = %v", task.Details["loss"])
	}
	if !strings.Contains(task.Message, "100") {
		t.Fatalf("message %q should mention the step", task.Message)
	}
	if len(task.Log) != 2 || task.Log[1].Message != "some unrelated warning" {
		t.Fatalf("unparsed line should be logged verbatim: %#v", task.Log)
	}
	if task.Status != tasks.StatusRunning {
		t.Fatal("training lines must not complete the task")
	}
}

func TestInterpreterRenderFramesSetTotalOnce(t *testing.T) {
	r := tasks.NewRegistry()
	if err := r.CreateTask("render", tasks.KindRender, 0); err != nil {
		t.Fatal(err)
	}
	in := progresslog.New(r, "render", progresslog.ModeRender)

	in.Feed("Frame 30 of 200")
	task, _ := r.GetTask("render")
	if task.TotalSteps != 200 || task.CurrentStep != 30 || task.Progress != 15 {
		t.Fatalf("unexpected task: total=%d current=%d progress=%d", task.TotalSteps, task.CurrentStep, task.Progress)
	}

	in.Feed("Processing frame 50/100")
	task, _ = r.GetTask("render")
	if task.TotalSteps != 200 || task.Progress != 25 {
		t.Fatalf("total must stay at first value: total=%d progress=%d", task.TotalSteps, task.Progress)
	}
	if task.Message != "rendering: 50/200 frames" {
		t.Fatalf("unexpected message %q", task.Message)
	}
}

func TestInterpreterKeywordCompletion(t *testing.T) {
	r := tasks.NewRegistry()
	_ = r.CreateTask("ok", tasks.KindRender, 0)
	_ = r.CreateTask("bad", tasks.KindRender, 0)

	progresslog.New(r, "ok", progresslog.ModeRender).Feed("All frames finished")
	bad := progresslog.New(r, "bad", progresslog.ModeRender)
	bad.Feed("Error: missing checkpoint")
	bad.Feed("Frame 10 of 10")

	ok, _ := r.GetTask("ok")
	if ok.Status != tasks.StatusCompleted || ok.Progress != 100 {
		t.Fatalf("finish keyword should complete: %+v", ok)
	}
	failed, _ := r.GetTask("bad")
	if failed.Status != tasks.StatusFailed {
		t.Fatalf("error keyword should fail the task: %+v", failed)
	}
	if failed.CurrentStep != 0 {
		t.Fatalf("structured update after terminal keyword must be ignored, got step %d", failed.CurrentStep)
	}
	if !strings.Contains(failed.Message, "missing checkpoint") {
		t.Fatalf("failure message should carry the tool line: %q", failed.Message)
	}
}

func TestInterpreterDetailPrefixLeavesStepsAlone(t *testing.T) {
	r := tasks.NewRegistry()
	_ = r.CreateTask("job", tasks.KindDialogue, 4)
	r.UpdateProgress("job", tasks.Update{CurrentStep: tasks.Step(3)})

	in := progresslog.New(r, "job", progresslog.ModeRender,
		progresslog.WithDetailPrefix("render_"),
		progresslog.WithoutKeywordCompletion(),
	)
	in.Feed("Frame 50 of 200")
	in.Feed("progress: 80%")
	in.Feed("inference finished")
	in.Feed("error: retrying face detection")

	task, _ := r.GetTask("job")
	if task.Status != tasks.StatusRunning {
		t.Fatalf("keywords must not complete nested jobs: %s", task.Status)
	}
	if task.CurrentStep != 3 || task.TotalSteps != 4 {
		t.Fatalf("steps changed: %d/%d", task.CurrentStep, task.TotalSteps)
	}
	if task.Details["render_frame"] != 50 || task.Details["render_total_frames"] != 200 {
		t.Fatalf("unexpected frame details: %#v", task.Details)
	}
	if task.Details["render_percent"] != 80 {
		t.Fatalf("render_percent = %v", task.Details["render_percent"])
	}
}
