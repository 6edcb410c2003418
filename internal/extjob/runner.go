package extjob

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"talkreel/internal/logging"
	"talkreel/internal/services"
)

const defaultTailLines = 20

// Runner executes external jobs and classifies their outcome. It never
// retries; retry policy belongs to the caller.
type Runner struct {
	exec       Executor
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	tailLines  int
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// WithHTTPClient overrides the client used by Call.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Runner) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTailLines sets how many trailing output lines are kept for errors.
func WithTailLines(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.tailLines = n
		}
	}
}

// NewRunner constructs a runner backed by os/exec and net/http.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		exec:       commandExecutor{},
		httpClient: &http.Client{},
		logger:     logging.NewNop(),
		now:        time.Now,
		tailLines:  defaultTailLines,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the descriptor, streaming each output line to onLine, and
// returns an Outcome. A non-zero exit, a timeout, or a missing artifact is an
// error; the Outcome still carries the captured output tail.
func (r *Runner) Run(ctx context.Context, d Descriptor, onLine func(string)) (Outcome, error) {
	if err := d.validate(); err != nil {
		return Outcome{ExitCode: -1}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{ExitCode: -1}, services.Wrap(services.ErrTransient, "extjob", d.name(), "context closed before start", err)
	}

	runCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	logger := logging.WithContext(ctx, r.logger).With(logging.String("tool", d.name()))
	logger.Debug("external job started",
		logging.String("binary", d.Binary),
		logging.String("args", strings.Join(d.Args, " ")),
		logging.String("dir", d.Dir),
	)

	tail := newTail(r.tailLines)
	started := r.now()
	err := r.exec.Run(runCtx, Command{Binary: d.Binary, Args: d.Args, Dir: d.Dir, Env: d.Env}, func(line string) {
		tail.add(line)
		if onLine != nil {
			onLine(line)
		}
	})
	outcome := Outcome{Output: tail.lines(), Duration: r.now().Sub(started)}

	if err != nil {
		toolErr := &ToolError{Tool: d.name(), ExitCode: -1, Output: strings.Join(outcome.Output, "\n"), Err: err}
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) && coder.ExitCode() >= 0 {
			toolErr.ExitCode = coder.ExitCode()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			toolErr.TimedOut = true
			toolErr.Timeout = d.Timeout
		}
		outcome.ExitCode = toolErr.ExitCode
		logger.Warn("external job failed",
			logging.String(logging.FieldEventType, "external_job_failed"),
			logging.String(logging.FieldErrorHint, "inspect the captured tool output in the task log"),
			logging.Int("exit_code", toolErr.ExitCode),
			logging.Bool("timed_out", toolErr.TimedOut),
			logging.Duration("duration", outcome.Duration),
		)
		return outcome, toolErr
	}

	if d.Locate != nil {
		artifact, err := d.Locate.Locate(started)
		if err != nil {
			logger.Warn("external job left no artifact",
				logging.String(logging.FieldEventType, "artifact_missing"),
				logging.String(logging.FieldErrorHint, "check the tool's results directory"),
				logging.Error(err),
			)
			return outcome, err
		}
		outcome.Artifact = artifact
	}

	logger.Debug("external job finished",
		logging.Duration("duration", outcome.Duration),
		logging.String("artifact", outcome.Artifact),
	)
	return outcome, nil
}

// tail keeps the last n lines; both output streams write to it concurrently.
type tail struct {
	mu    sync.Mutex
	n     int
	buf   []string
	start int
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) < t.n {
		t.buf = append(t.buf, line)
		return
	}
	t.buf[t.start] = line
	t.start = (t.start + 1) % t.n
}

func (t *tail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.buf))
	out = append(out, t.buf[t.start:]...)
	out = append(out, t.buf[:t.start]...)
	return out
}

// JobRunner is the process half of *Runner. Collaborators that only launch
// tools accept it so tests can substitute a fake.
type JobRunner interface {
	Run(ctx context.Context, d Descriptor, onLine func(string)) (Outcome, error)
}
