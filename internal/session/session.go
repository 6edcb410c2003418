package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"talkreel/internal/extjob"
	"talkreel/internal/logging"
	"talkreel/internal/services"
)

const (
	defaultDocker       = "docker"
	defaultWorkDir      = "/app"
	defaultNamePrefix   = "worker"
	defaultProbeEvery   = 500 * time.Millisecond
	defaultStartTimeout = 2 * time.Minute
	defaultStopTimeout  = 30 * time.Second
)

// ErrClosed is returned by Run after Stop.
var ErrClosed = errors.New("session closed")

// Mount binds a host directory into the container.
type Mount struct {
	Host      string
	Container string
}

// Spec describes the container backing a session.
type Spec struct {
	Docker     string
	Image      string
	Name       string
	NamePrefix string
	WorkDir    string
	Mounts     []Mount
	Env        []string
	// GPUs is passed to --gpus; empty disables GPU access.
	GPUs      string
	ExtraArgs []string
	// ReadyGrace bounds how long Start waits for the container to accept
	// exec calls. Start returns once it does or the grace elapses.
	ReadyGrace   time.Duration
	StartTimeout time.Duration
}

// WorkerMounts binds the audio, video, results, and pretrained_models
// directories of hostDir under workDir.
func WorkerMounts(hostDir, workDir string) []Mount {
	if workDir == "" {
		workDir = defaultWorkDir
	}
	names := []string{"audio", "video", "results", "pretrained_models"}
	mounts := make([]Mount, 0, len(names))
	for _, name := range names {
		mounts = append(mounts, Mount{
			Host:      filepath.Join(hostDir, name),
			Container: workDir + "/" + name,
		})
	}
	return mounts
}

// Session is a running container that executes command chains. Chains run
// one at a time.
type Session struct {
	spec   Spec
	name   string
	runner extjob.JobRunner
	logger *slog.Logger

	// mu serializes chains.
	mu     sync.Mutex
	jobs   atomic.Int64
	closed atomic.Bool

	stopOnce sync.Once
	stopErr  error
}

// Option configures Start.
type Option func(*startOptions)

type startOptions struct {
	logger     *slog.Logger
	probeEvery time.Duration
	sleep      func(context.Context, time.Duration) error
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *startOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithProbeInterval sets how often readiness is probed during Start.
func WithProbeInterval(d time.Duration) Option {
	return func(o *startOptions) {
		if d > 0 {
			o.probeEvery = d
		}
	}
}

// WithSleeper overrides how Start waits between readiness probes.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(o *startOptions) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// Start launches the container detached and waits for it to accept exec
// calls. A failing launch command is reported as services.ErrSessionStart.
func Start(ctx context.Context, runner extjob.JobRunner, spec Spec, opts ...Option) (*Session, error) {
	options := startOptions{logger: logging.NewNop(), probeEvery: defaultProbeEvery, sleep: sleepContext}
	for _, opt := range opts {
		opt(&options)
	}
	if runner == nil {
		return nil, services.Wrap(services.ErrSessionStart, "session", "start", "runner required", nil)
	}
	spec = normalizeSpec(spec)
	if spec.Image == "" {
		return nil, services.Wrap(services.ErrSessionStart, "session", "start", "image required", nil)
	}

	s := &Session{
		spec:   spec,
		name:   spec.Name,
		runner: runner,
	}
	s.logger = options.logger.With(logging.String("session", s.name))

	_, err := runner.Run(ctx, extjob.Descriptor{
		Name:    "docker run",
		Binary:  spec.Docker,
		Args:    runArgs(spec),
		Timeout: spec.StartTimeout,
	}, nil)
	if err != nil {
		logging.ErrorWithContext(s.logger, "session start failed", "session_start_failed",
			logging.String(logging.FieldErrorHint, "check that docker is running and the image exists"),
			logging.String("image", spec.Image),
			logging.Error(err),
		)
		return nil, services.Wrap(services.ErrSessionStart, "session", "start", fmt.Sprintf("launch %s", spec.Image), err)
	}

	if ready := s.awaitReady(ctx, options); !ready {
		s.logger.Warn("session readiness not confirmed; continuing after grace period",
			logging.String(logging.FieldEventType, "session_ready_grace"),
			logging.String(logging.FieldErrorHint, "the first job may fail if the container is still booting"),
			logging.String(logging.FieldImpact, "jobs run against an unconfirmed container"),
			logging.Duration("grace", spec.ReadyGrace),
		)
	}
	s.logger.Info("session started",
		logging.String(logging.FieldEventType, "session_started"),
		logging.String("image", spec.Image),
	)
	return s, nil
}

// awaitReady probes the container with a no-op exec until it answers or the
// grace period elapses.
func (s *Session) awaitReady(ctx context.Context, options startOptions) bool {
	if s.spec.ReadyGrace <= 0 {
		return true
	}
	deadline := time.Now().Add(s.spec.ReadyGrace)
	for {
		probeTimeout := min(s.spec.ReadyGrace, 10*time.Second)
		_, err := s.runner.Run(ctx, extjob.Descriptor{
			Name:    "docker exec",
			Binary:  s.spec.Docker,
			Args:    []string{"exec", s.name, "true"},
			Timeout: probeTimeout,
		}, nil)
		if err == nil {
			return true
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return false
		}
		if err := options.sleep(ctx, options.probeEvery); err != nil {
			return false
		}
	}
}

// Name returns the container name.
func (s *Session) Name() string { return s.name }

// Jobs returns how many chains have run in this session.
func (s *Session) Jobs() int {
	return int(s.jobs.Load())
}

// Run executes chain inside the container. Steps run in order and the chain
// stops at the first failing step, reported as a *StepError. Calls are
// serialized.
func (s *Session) Run(ctx context.Context, chain Chain, timeout time.Duration, onLine func(string)) (extjob.Outcome, error) {
	if err := chain.validate(); err != nil {
		return extjob.Outcome{ExitCode: -1}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return extjob.Outcome{ExitCode: -1}, ErrClosed
	}
	s.jobs.Add(1)

	tracker := &stepTracker{chain: chain}
	outcome, err := s.runner.Run(ctx, extjob.Descriptor{
		Name:    "docker exec",
		Binary:  s.spec.Docker,
		Args:    []string{"exec", s.name, "/bin/bash", "-c", chain.Script()},
		Timeout: timeout,
		Locate:  chain.Locate,
	}, func(line string) {
		if tracker.observe(line) {
			return
		}
		if onLine != nil {
			onLine(line)
		}
	})
	if err != nil {
		var toolErr *extjob.ToolError
		if errors.As(err, &toolErr) {
			index, step := tracker.current()
			return outcome, &StepError{Index: index, Step: step, Total: len(chain.Steps), Err: err}
		}
		return outcome, err
	}
	return outcome, nil
}

// Stop removes the container, interrupting a running chain. Only the first
// call does work; later calls return the first result.
func (s *Session) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		_, err := s.runner.Run(ctx, extjob.Descriptor{
			Name:    "docker stop",
			Binary:  s.spec.Docker,
			Args:    []string{"stop", s.name},
			Timeout: defaultStopTimeout,
		}, nil)
		if err != nil {
			s.stopErr = fmt.Errorf("stop session %s: %w", s.name, err)
			s.logger.Warn("session stop failed",
				logging.String(logging.FieldEventType, "session_stop_failed"),
				logging.String(logging.FieldErrorHint, "remove the container manually with docker rm -f"),
				logging.String(logging.FieldImpact, "a worker container may still hold GPU memory"),
				logging.Error(err),
			)
			return
		}
		s.logger.Info("session stopped", logging.Int("jobs", s.Jobs()))
	})
	return s.stopErr
}

// With starts a session, passes it to fn, and stops it on every exit path,
// including a panic in fn or cancellation of ctx.
func With(ctx context.Context, runner extjob.JobRunner, spec Spec, fn func(*Session) error, opts ...Option) (err error) {
	s, err := Start(ctx, runner, spec, opts...)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultStopTimeout)
		defer cancel()
		if stopErr := s.Stop(stopCtx); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	return fn(s)
}

func normalizeSpec(spec Spec) Spec {
	spec.Docker = strings.TrimSpace(spec.Docker)
	if spec.Docker == "" {
		spec.Docker = defaultDocker
	}
	spec.Image = strings.TrimSpace(spec.Image)
	if spec.WorkDir == "" {
		spec.WorkDir = defaultWorkDir
	}
	if spec.Name == "" {
		prefix := strings.TrimSpace(spec.NamePrefix)
		if prefix == "" {
			prefix = defaultNamePrefix
		}
		spec.Name = prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	}
	if spec.StartTimeout <= 0 {
		spec.StartTimeout = defaultStartTimeout
	}
	return spec
}

func runArgs(spec Spec) []string {
	args := []string{"run", "-d", "--rm"}
	if spec.GPUs != "" {
		args = append(args, "--gpus", spec.GPUs)
	}
	args = append(args, spec.ExtraArgs...)
	args = append(args, "--name", spec.Name)
	for _, env := range spec.Env {
		args = append(args, "-e", env)
	}
	for _, m := range spec.Mounts {
		args = append(args, "-v", m.Host+":"+m.Container)
	}
	args = append(args, "-w", spec.WorkDir, spec.Image, "tail", "-f", "/dev/null")
	return args
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
