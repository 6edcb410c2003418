package extjob_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"talkreel/internal/extjob"
	"talkreel/internal/services"
)

func TestStartServiceWaitsForReadiness(t *testing.T) {
	var probes atomic.Int32
	ready := func(context.Context) error {
		if probes.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}
	svc, err := extjob.StartService(context.Background(), extjob.Descriptor{
		Name:    "tts",
		Binary:  "sh",
		Args:    []string{"-c", "echo booting; sleep 30"},
		Timeout: 5 * time.Second,
	}, ready, extjob.WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("StartService returned error: %v", err)
	}
	if probes.Load() < 3 {
		t.Fatalf("expected readiness to be polled, got %d probes", probes.Load())
	}
	if svc.Pid() <= 0 {
		t.Fatal("expected a pid")
	}

	if err := svc.Stop(context.Background(), time.Second); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	select {
	case <-svc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("service did not exit after Stop")
	}
	if err := svc.Stop(context.Background(), time.Second); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
}

func TestStartServiceReportsEarlyExit(t *testing.T) {
	never := func(context.Context) error { return errors.New("not ready") }
	_, err := extjob.StartService(context.Background(), extjob.Descriptor{
		Name:    "tts",
		Binary:  "sh",
		Args:    []string{"-c", "echo 'ModuleNotFoundError: No module named fastapi'; exit 2"},
		Timeout: 5 * time.Second,
	}, never, extjob.WithPollInterval(10*time.Millisecond))
	var toolErr *extjob.ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolError, got %v", err)
	}
	if toolErr.ExitCode != 2 {
		t.Fatalf("exit code = %d, want 2", toolErr.ExitCode)
	}
	if !strings.Contains(err.Error(), "ModuleNotFoundError") {
		t.Fatalf("expected captured output in error: %v", err)
	}
}

func TestStartServiceTimesOut(t *testing.T) {
	never := func(context.Context) error { return errors.New("not ready") }
	start := time.Now()
	_, err := extjob.StartService(context.Background(), extjob.Descriptor{
		Binary:  "sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 100 * time.Millisecond,
	}, never, extjob.WithPollInterval(10*time.Millisecond), extjob.WithStopGrace(100*time.Millisecond))
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("StartService did not give up promptly")
	}
}

func TestStartServiceRequiresProbe(t *testing.T) {
	_, err := extjob.StartService(context.Background(), extjob.Descriptor{Binary: "sh"}, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
