package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestTeeCollapsesTrivialSinks(t *testing.T) {
	if _, ok := tee(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected no-op handler when every sink is nil")
	}
	inner := slog.NewJSONHandler(&bytes.Buffer{}, nil)
	if tee(nil, inner) != slog.Handler(inner) {
		t.Fatal("a single sink should be used directly")
	}
}

func TestTeeFiltersPerSink(t *testing.T) {
	var console, runLog bytes.Buffer
	h := tee(
		slog.NewJSONHandler(&console, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(&runLog, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled on both sinks")
	}

	logger := slog.New(h).With(String(FieldTaskID, "job-7"))
	logger.Info("transcription finished")
	if console.Len() != 0 {
		t.Fatalf("console should skip info, got %q", console.String())
	}
	if !bytes.Contains(runLog.Bytes(), []byte(`"task_id":"job-7"`)) {
		t.Fatalf("expected task id on run log, got %q", runLog.String())
	}

	logger.Warn("tts unavailable")
	if !bytes.Contains(console.Bytes(), []byte("tts unavailable")) {
		t.Fatalf("console should receive warnings, got %q", console.String())
	}
}

func TestTeeLoggerWithoutBase(t *testing.T) {
	var buf bytes.Buffer
	TeeLogger(nil, slog.NewTextHandler(&buf, nil)).Info("hello")
	if buf.Len() == 0 {
		t.Fatal("expected output through tee")
	}
}
