package progresslog

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"talkreel/internal/logging"
	"talkreel/internal/tasks"
)

// Sink receives structured updates. *tasks.Registry satisfies it.
type Sink interface {
	UpdateProgress(id string, u tasks.Update)
	CompleteTask(id string, success bool, message string)
}

// Mode selects which grammar an Interpreter applies.
type Mode int

const (
	ModeTraining Mode = iota
	ModeRender
)

func (m Mode) String() string {
	if m == ModeRender {
		return "render"
	}
	return "training"
}

// Interpreter turns the output lines of one external job into registry
// updates for one task. It is safe to feed from the stdout and stderr
// readers concurrently.
type Interpreter struct {
	sink     Sink
	taskID   string
	mode     Mode
	keywords bool
	prefix   string
	logger   *slog.Logger
	sampler  *logging.ProgressSampler

	mu         sync.Mutex
	frameTotal int
}

// Option customizes an Interpreter.
type Option func(*Interpreter)

// WithoutKeywordCompletion stops completion keywords from finishing the task.
// Jobs nested inside a larger pipeline use this so the pipeline, not a stray
// log line, decides the terminal status.
func WithoutKeywordCompletion() Option {
	return func(i *Interpreter) { i.keywords = false }
}

// WithDetailPrefix reports render progress into details keys
// (<prefix>frame, <prefix>total_frames, <prefix>percent) instead of the
// task's step counters, leaving steps to the owner of the task.
func WithDetailPrefix(prefix string) Option {
	return func(i *Interpreter) { i.prefix = prefix }
}

// WithLogger logs sampled progress lines.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interpreter) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New constructs an interpreter bound to one task.
func New(sink Sink, taskID string, mode Mode, opts ...Option) *Interpreter {
	i := &Interpreter{
		sink:     sink,
		taskID:   taskID,
		mode:     mode,
		keywords: true,
		logger:   logging.NewNop(),
		sampler:  logging.NewProgressSampler(5),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Feed interprets one output line. Lines without structured content are
// appended to the task log unchanged.
func (i *Interpreter) Feed(line string) {
	if i == nil || i.sink == nil {
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if i.mode == ModeTraining {
		i.feedTraining(line)
		return
	}
	i.feedRender(line)
}

func (i *Interpreter) feedTraining(line string) {
	p, ok := ParseTraining(line)
	if !ok {
		i.sink.UpdateProgress(i.taskID, tasks.Update{Note: line})
		return
	}
	i.sink.UpdateProgress(i.taskID, tasks.Update{
		CurrentStep: tasks.Step(p.Step),
		Message:     p.Message(),
		Details:     p.Details(),
	})
	i.logProgress(-1, "training", p.Message())
}

func (i *Interpreter) feedRender(line string) {
	signal := ParseRender(line)
	switch signal.Kind {
	case SignalFrames:
		total := i.recordTotal(signal.Total)
		msg := fmt.Sprintf("rendering: %d/%d frames", signal.Current, total)
		percent := -1
		if total > 0 {
			percent = min(100, signal.Current*100/total)
		}
		if i.prefix != "" {
			details := map[string]any{
				i.prefix + "frame":        signal.Current,
				i.prefix + "total_frames": total,
			}
			if percent >= 0 {
				details[i.prefix+"percent"] = percent
			}
			i.sink.UpdateProgress(i.taskID, tasks.Update{Message: msg, Details: details})
		} else {
			i.sink.UpdateProgress(i.taskID, tasks.Update{
				CurrentStep: tasks.Step(signal.Current),
				TotalSteps:  signal.Total,
				Message:     msg,
			})
		}
		i.logProgress(float64(percent), "render", msg)
	case SignalPercent:
		msg := fmt.Sprintf("rendering: %d%%", signal.Percent)
		if i.prefix != "" {
			i.sink.UpdateProgress(i.taskID, tasks.Update{
				Message: msg,
				Details: map[string]any{i.prefix + "percent": signal.Percent},
			})
		} else {
			i.sink.UpdateProgress(i.taskID, tasks.Update{Percent: tasks.Step(signal.Percent), Message: msg})
		}
		i.logProgress(float64(signal.Percent), "render", msg)
	case SignalStarted, SignalFinished, SignalFailed:
		if !i.keywords {
			i.sink.UpdateProgress(i.taskID, tasks.Update{Note: line})
			return
		}
		switch signal.Kind {
		case SignalStarted:
			i.sink.UpdateProgress(i.taskID, tasks.Update{Message: "render started", Note: line})
		case SignalFinished:
			i.sink.CompleteTask(i.taskID, true, "render finished")
		case SignalFailed:
			i.sink.CompleteTask(i.taskID, false, "render failed: "+truncate(line, 200))
		}
	default:
		i.sink.UpdateProgress(i.taskID, tasks.Update{Note: line})
	}
}

// recordTotal keeps the first total seen for this job.
func (i *Interpreter) recordTotal(total int) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.frameTotal <= 0 && total > 0 {
		i.frameTotal = total
	}
	return i.frameTotal
}

func (i *Interpreter) logProgress(percent float64, phase, message string) {
	if !i.sampler.ShouldLog(percent, phase) {
		return
	}
	i.logger.Debug("job progress",
		logging.TaskID(i.taskID),
		logging.String("phase", phase),
		logging.String("progress_message", message),
	)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
