package progresslog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	stepPattern       = regexp.MustCompile(`step:\s*(\d+)`)
	globalStepPattern = regexp.MustCompile(`global_step:\s*(\d+)`)
	epochPattern      = regexp.MustCompile(`epoch:\s*(\d+)`)
	lossPattern       = regexp.MustCompile(`total loss:\s*([\d.]+)`)

	framePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Processing frame (\d+)/(\d+)`),
		regexp.MustCompile(`(?i)Frame (\d+) of (\d+)`),
		regexp.MustCompile(`(?i)(\d+)/(\d+) frames`),
	}
	percentPattern = regexp.MustCompile(`(?i)Progress:\s*(\d+)%`)
)

// TrainingProgress is the structured content of one training log line.
type TrainingProgress struct {
	Step     int
	Epoch    int
	HasEpoch bool
	Loss     float64
	HasLoss  bool
}

// Message renders a compact human-readable summary.
func (p TrainingProgress) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "training: step %d", p.Step)
	if p.HasEpoch {
		fmt.Fprintf(&b, ", epoch %d", p.Epoch)
	}
	if p.HasLoss {
		fmt.Fprintf(&b, ", loss %.4f", p.Loss)
	}
	return b.String()
}

// Details returns the numeric fields suitable for merging into task details.
func (p TrainingProgress) Details() map[string]any {
	details := map[string]any{"step": p.Step}
	if p.HasEpoch {
		details["epoch"] = p.Epoch
	}
	if p.HasLoss {
		details["loss"] = p.Loss
	}
	return details
}

// ParseTraining extracts step, epoch, and loss from a training log line. The
// line is only considered progress when it carries a step counter; a
// global_step counter wins over a plain step counter.
func ParseTraining(line string) (TrainingProgress, bool) {
	var p TrainingProgress
	step, ok := firstInt(globalStepPattern, line)
	if !ok {
		step, ok = firstInt(stepPattern, line)
	}
	if !ok {
		return p, false
	}
	p.Step = step
	if epoch, ok := firstInt(epochPattern, line); ok {
		p.Epoch, p.HasEpoch = epoch, true
	}
	if m := lossPattern.FindStringSubmatch(line); m != nil {
		if loss, err := strconv.ParseFloat(strings.TrimRight(m[1], "."), 64); err == nil {
			p.Loss, p.HasLoss = loss, true
		}
	}
	return p, true
}

// SignalKind classifies a render log line.
type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalFrames
	SignalPercent
	SignalStarted
	SignalFinished
	SignalFailed
)

func (k SignalKind) String() string {
	switch k {
	case SignalFrames:
		return "frames"
	case SignalPercent:
		return "percent"
	case SignalStarted:
		return "started"
	case SignalFinished:
		return "finished"
	case SignalFailed:
		return "failed"
	default:
		return "none"
	}
}

// RenderSignal is the structured content of one render log line.
type RenderSignal struct {
	Kind    SignalKind
	Current int
	Total   int
	Percent int
}

// ParseRender classifies a render log line. Structured frame or percentage
// tokens win; keywords are consulted only when no token is present, failure
// keywords first so "error while finishing" reads as a failure.
func ParseRender(line string) RenderSignal {
	for _, pattern := range framePatterns {
		m := pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		current, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		return RenderSignal{Kind: SignalFrames, Current: current, Total: total}
	}
	if percent, ok := firstInt(percentPattern, line); ok {
		return RenderSignal{Kind: SignalPercent, Percent: percent}
	}

	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(line, "错误"):
		return RenderSignal{Kind: SignalFailed}
	case strings.Contains(lower, "finish") || strings.Contains(line, "完成"):
		return RenderSignal{Kind: SignalFinished}
	case strings.Contains(lower, "start") || strings.Contains(line, "开始"):
		return RenderSignal{Kind: SignalStarted}
	}
	return RenderSignal{Kind: SignalNone}
}

func firstInt(pattern *regexp.Regexp, line string) (int, bool) {
	m := pattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
