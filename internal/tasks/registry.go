package tasks

import (
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"talkreel/internal/services"
)

const (
	defaultLogCapacity = 50
	defaultCapacity    = 1000
	defaultTTL         = time.Hour
)

// ErrRegistryFull is returned by CreateTask when every slot is held by a
// running task and nothing can be evicted.
var ErrRegistryFull = fmt.Errorf("%w: task registry full", services.ErrTransient)

// Hook observes a task snapshot after a lifecycle event. Hooks run after the
// registry lock is released and may call back into the registry.
type Hook func(Task)

// Registry is the concurrency-safe store of job state keyed by task id.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*record

	now         func() time.Time
	logCapacity int
	capacity    int
	ttl         time.Duration
	onComplete  []Hook
	onEvict     []Hook
}

type record struct {
	task Task
	// ring holds the log; head is the index of the oldest entry once full.
	ring []LogEntry
	head int
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogCapacity bounds the per-task progress log.
func WithLogCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.logCapacity = n
		}
	}
}

// WithCapacity bounds the number of tasks held in memory.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithTTL sets how long terminal tasks are retained before Sweep drops them.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithCompletionHook registers a callback invoked once per task when it
// reaches a terminal status.
func WithCompletionHook(h Hook) Option {
	return func(r *Registry) {
		if h != nil {
			r.onComplete = append(r.onComplete, h)
		}
	}
}

// WithEvictionHook registers a callback invoked for every task removed by
// capacity eviction or Sweep.
func WithEvictionHook(h Hook) Option {
	return func(r *Registry) {
		if h != nil {
			r.onEvict = append(r.onEvict, h)
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tasks:       make(map[string]*record),
		now:         time.Now,
		logCapacity: defaultLogCapacity,
		capacity:    defaultCapacity,
		ttl:         defaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateTask inserts a running task with zero progress. totalSteps <= 0 means
// the total is not yet known.
func (r *Registry) CreateTask(id string, kind Kind, totalSteps int) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return services.Wrap(services.ErrValidation, "registry", "create task", "task id is required", nil)
	}

	r.mu.Lock()
	if _, exists := r.tasks[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", services.ErrDuplicateTask, id)
	}
	var evicted []Task
	if len(r.tasks) >= r.capacity {
		victim, ok := r.oldestTerminalLocked()
		if !ok {
			r.mu.Unlock()
			return ErrRegistryFull
		}
		evicted = append(evicted, r.snapshotLocked(victim))
		delete(r.tasks, victim.task.ID)
	}
	if totalSteps < 0 {
		totalSteps = 0
	}
	r.tasks[id] = &record{task: Task{
		ID:         id,
		Kind:       kind,
		Status:     StatusRunning,
		TotalSteps: totalSteps,
		Details:    map[string]any{},
		StartTime:  r.now(),
	}}
	r.mu.Unlock()

	r.fire(r.onEvict, evicted)
	return nil
}

// UpdateProgress applies an incremental update. Unknown ids and terminal
// tasks are ignored.
func (r *Registry) UpdateProgress(id string, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[id]
	if !ok || rec.task.Status.Terminal() {
		return
	}
	t := &rec.task

	if u.TotalSteps > 0 && t.TotalSteps <= 0 {
		t.TotalSteps = u.TotalSteps
	}
	if u.CurrentStep != nil {
		step := *u.CurrentStep
		if step < 0 {
			step = 0
		}
		t.CurrentStep = step
	}
	switch {
	case u.CurrentStep != nil && t.TotalSteps > 0:
		t.Progress = keepComplete(t.Progress, stepPercent(t.CurrentStep, t.TotalSteps))
	case u.Percent != nil:
		t.Progress = keepComplete(t.Progress, clampPercent(*u.Percent))
	}

	if len(u.Details) > 0 {
		maps.Copy(t.Details, u.Details)
	}
	if msg := strings.TrimSpace(u.Message); msg != "" {
		t.Message = msg
		r.appendLogLocked(rec, msg)
	}
	if note := strings.TrimSpace(u.Note); note != "" {
		r.appendLogLocked(rec, note)
	}
}

// CompleteTask moves a running task to its terminal status. Progress becomes
// 100 only on success. Calls on unknown or already terminal tasks are no-ops.
func (r *Registry) CompleteTask(id string, success bool, message string) {
	r.mu.Lock()
	rec, ok := r.tasks[id]
	if !ok || rec.task.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	t := &rec.task
	if success {
		t.Status = StatusCompleted
		t.Progress = 100
	} else {
		t.Status = StatusFailed
	}
	t.EndTime = r.now()
	if msg := strings.TrimSpace(message); msg != "" {
		t.Message = msg
		r.appendLogLocked(rec, msg)
	}
	snapshot := r.snapshotLocked(rec)
	r.mu.Unlock()

	r.fire(r.onComplete, []Task{snapshot})
}

// GetTask returns a copy of the task.
func (r *Registry) GetTask(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return r.snapshotLocked(rec), true
}

// List returns copies of every task, newest first.
func (r *Registry) List() []Task {
	r.mu.Lock()
	out := make([]Task, 0, len(r.tasks))
	for _, rec := range r.tasks {
		out = append(out, r.snapshotLocked(rec))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Counts returns the number of tasks per status.
func (r *Registry) Counts() map[Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Status]int, 3)
	for _, rec := range r.tasks {
		counts[rec.task.Status]++
	}
	return counts
}

// Sweep drops terminal tasks whose end time is older than the TTL and
// returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var evicted []Task
	for id, rec := range r.tasks {
		if !rec.task.Status.Terminal() {
			continue
		}
		if now.Sub(rec.task.EndTime) < r.ttl {
			continue
		}
		evicted = append(evicted, r.snapshotLocked(rec))
		delete(r.tasks, id)
	}
	r.mu.Unlock()

	r.fire(r.onEvict, evicted)
	return len(evicted)
}

// Delete removes a task regardless of status. It reports whether the id was present.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.tasks, id)
	return true
}

// Len returns the number of tasks held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Registry) appendLogLocked(rec *record, message string) {
	entry := LogEntry{Time: r.now(), Message: message}
	if len(rec.ring) < r.logCapacity {
		rec.ring = append(rec.ring, entry)
		return
	}
	rec.ring[rec.head] = entry
	rec.head = (rec.head + 1) % len(rec.ring)
}

func (r *Registry) snapshotLocked(rec *record) Task {
	out := rec.task.clone()
	out.Log = make([]LogEntry, 0, len(rec.ring))
	out.Log = append(out.Log, rec.ring[rec.head:]...)
	out.Log = append(out.Log, rec.ring[:rec.head]...)
	return out
}

func (r *Registry) oldestTerminalLocked() (*record, bool) {
	var victim *record
	for _, rec := range r.tasks {
		if !rec.task.Status.Terminal() {
			continue
		}
		if victim == nil || rec.task.EndTime.Before(victim.task.EndTime) {
			victim = rec
		}
	}
	return victim, victim != nil
}

func (r *Registry) fire(hooks []Hook, snapshots []Task) {
	for _, snapshot := range snapshots {
		for _, hook := range hooks {
			hook(snapshot)
		}
	}
}

func stepPercent(current, total int) int {
	switch {
	case total <= 0 || current <= 0:
		return 0
	case current >= total:
		return 100
	}
	if current > math.MaxInt/100 {
		return clampPercent(int(float64(current) / float64(total) * 100))
	}
	return clampPercent(current * 100 / total)
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func keepComplete(previous, next int) int {
	if previous >= 100 {
		return 100
	}
	return next
}
