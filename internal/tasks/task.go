package tasks

import (
	"maps"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind tags the job family a task belongs to.
type Kind string

const (
	KindDialogue Kind = "dialogue"
	KindRender   Kind = "render"
	KindTraining Kind = "training"
	KindBatch    Kind = "batch"
)

// Valid reports whether k is one of the known job kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindDialogue, KindRender, KindTraining, KindBatch:
		return true
	}
	return false
}

// LogEntry is one timestamped line of a task's progress log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Task is a snapshot of one tracked job. Values returned by the registry are
// copies; mutating them has no effect on the registry.
type Task struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	Status      Status         `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep int            `json:"currentStep"`
	TotalSteps  int            `json:"totalSteps"`
	Message     string         `json:"message"`
	Log         []LogEntry     `json:"log"`
	Details     map[string]any `json:"details"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     time.Time      `json:"endTime"`
}

// Elapsed returns how long the task ran, or has been running as of now.
func (t Task) Elapsed(now time.Time) time.Duration {
	end := t.EndTime
	if end.IsZero() {
		end = now
	}
	if end.Before(t.StartTime) {
		return 0
	}
	return end.Sub(t.StartTime)
}

// Detail returns the details value stored under key.
func (t Task) Detail(key string) (any, bool) {
	v, ok := t.Details[key]
	return v, ok
}

func (t *Task) clone() Task {
	out := *t
	out.Log = append([]LogEntry(nil), t.Log...)
	out.Details = maps.Clone(t.Details)
	if out.Details == nil {
		out.Details = map[string]any{}
	}
	return out
}

// Update carries an incremental progress change. Zero-valued fields leave the
// task untouched.
type Update struct {
	// CurrentStep sets the current step when non-nil.
	CurrentStep *int
	// TotalSteps is recorded only while the task's total is still unknown.
	TotalSteps int
	// Percent sets progress directly when the job reports a percentage
	// rather than steps. Ignored when both step counters are known.
	Percent *int
	// Message replaces the status message and is appended to the log.
	Message string
	// Note is appended to the log without changing the status message.
	Note string
	// Details are merged into the task details.
	Details map[string]any
}

// Step is a convenience for building Update.CurrentStep and Update.Percent.
func Step(n int) *int {
	return &n
}
