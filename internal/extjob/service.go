package extjob

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"talkreel/internal/logging"
	"talkreel/internal/services"
)

const (
	defaultPollInterval = time.Second
	defaultStopGrace    = 5 * time.Second
)

// ReadyFunc reports nil once a started service answers.
type ReadyFunc func(ctx context.Context) error

// Service is a long-lived process started by StartService.
type Service struct {
	name   string
	cmd    *exec.Cmd
	done   chan struct{}
	output chan struct{}
	tail   *tail
	logger *slog.Logger

	stopOnce sync.Once
	waitErr  error
}

// ServiceOption configures StartService.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	poll   time.Duration
	grace  time.Duration
	logger *slog.Logger
}

// WithPollInterval sets how often readiness is probed.
func WithPollInterval(d time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithStopGrace sets how long Stop waits after SIGTERM before SIGKILL.
func WithStopGrace(d time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if d > 0 {
			o.grace = d
		}
	}
}

// WithServiceLogger receives the service's output at debug level.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// StartService launches d in the background and blocks until ready reports
// success, the process exits, or d.Timeout elapses. On any failure the
// process group is killed before returning.
func StartService(ctx context.Context, d Descriptor, ready ReadyFunc, opts ...ServiceOption) (*Service, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if ready == nil {
		return nil, services.Wrap(services.ErrValidation, "extjob", d.name(), "readiness probe required", nil)
	}
	options := serviceOptions{poll: defaultPollInterval, grace: defaultStopGrace, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&options)
	}

	cmd := exec.Command(d.Binary, d.Args...) //nolint:gosec
	cmd.Dir = d.Dir
	if len(d.Env) > 0 {
		cmd.Env = append(os.Environ(), d.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, &ToolError{Tool: d.name(), ExitCode: -1, Err: err}
	}

	s := &Service{
		name:   d.name(),
		cmd:    cmd,
		done:   make(chan struct{}),
		output: make(chan struct{}),
		tail:   newTail(defaultTailLines),
		logger: options.logger.With(logging.String("service", d.name())),
	}
	go func() {
		defer close(s.output)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			s.tail.add(line)
			s.logger.Debug("service output", logging.String("line", line))
		}
		_, _ = io.Copy(io.Discard, pr)
	}()
	go func() {
		s.waitErr = cmd.Wait()
		_ = pw.Close()
		close(s.done)
	}()

	startCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	ticker := time.NewTicker(options.poll)
	defer ticker.Stop()
	for {
		if err := ready(startCtx); err == nil {
			s.logger.Info("service ready", logging.Int("pid", cmd.Process.Pid))
			return s, nil
		}
		select {
		case <-s.done:
			return nil, s.exitError()
		case <-startCtx.Done():
			_ = s.Stop(context.Background(), options.grace)
			<-s.output
			if errors.Is(startCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, &ToolError{
					Tool:     s.name,
					ExitCode: -1,
					TimedOut: true,
					Timeout:  d.Timeout,
					Output:   strings.Join(s.tail.lines(), "\n"),
				}
			}
			return nil, services.Wrap(services.ErrTransient, "extjob", s.name, "start interrupted", startCtx.Err())
		case <-ticker.C:
		}
	}
}

// Done is closed when the process exits.
func (s *Service) Done() <-chan struct{} { return s.done }

// Pid returns the process id.
func (s *Service) Pid() int { return s.cmd.Process.Pid }

// Stop sends SIGTERM to the process group, escalating to SIGKILL after
// grace. It is safe to call more than once.
func (s *Service) Stop(ctx context.Context, grace time.Duration) error {
	if s == nil {
		return nil
	}
	if grace <= 0 {
		grace = defaultStopGrace
	}
	s.stopOnce.Do(func() {
		pid := s.cmd.Process.Pid
		select {
		case <-s.done:
			return
		default:
		}
		_ = unix.Kill(-pid, unix.SIGTERM)
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			_ = unix.Kill(-pid, unix.SIGKILL)
			<-s.done
		case <-ctx.Done():
			_ = unix.Kill(-pid, unix.SIGKILL)
			<-s.done
		}
		s.logger.Info("service stopped")
	})
	return nil
}

func (s *Service) exitError() error {
	<-s.output
	err := &ToolError{Tool: s.name, ExitCode: -1, Output: strings.Join(s.tail.lines(), "\n"), Err: s.waitErr}
	var exitErr *exec.ExitError
	if errors.As(s.waitErr, &exitErr) {
		err.ExitCode = exitErr.ExitCode()
	}
	if s.waitErr == nil {
		err.ExitCode = 0
		err.Err = fmt.Errorf("exited before becoming ready")
	}
	return err
}
