package main

import (
	"fmt"
	"strings"
	"testing"

	"talkreel/internal/httpapi"
	"talkreel/internal/tasks"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestDependencyLines(t *testing.T) {
	deps := []httpapi.DependencyStatus{
		{Name: "FFmpeg", Available: false},
		{Name: "uvx", Available: true, Command: "uvx"},
		{Name: "Docker", Available: false, Optional: true, Detail: "script mode"},
	}
	lines := dependencyLines(deps, false)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR] 1 required missing") {
		t.Fatalf("expected summary line first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR] not available") {
		t.Fatalf("unexpected second line %q", lines[1])
	}
	if !strings.Contains(lines[2], "[OK] Ready (command: uvx)") {
		t.Fatalf("unexpected third line %q", lines[2])
	}
	if !strings.Contains(lines[3], "[WARN] script mode") {
		t.Fatalf("unexpected fourth line %q", lines[3])
	}
}

func TestTaskStatusKind(t *testing.T) {
	tests := []struct {
		name string
		view httpapi.TaskView
		want statusKind
	}{
		{"running", httpapi.TaskView{Status: tasks.StatusRunning}, statusInfo},
		{"completed", httpapi.TaskView{Status: tasks.StatusCompleted}, statusOK},
		{"failed", httpapi.TaskView{Status: tasks.StatusFailed}, statusError},
		{"degraded", httpapi.TaskView{
			Status:  tasks.StatusCompleted,
			Details: map[string]any{"degraded_stages": []any{"synthesis"}},
		}, statusWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := taskStatusKind(tt.view); got != tt.want {
				t.Fatalf("taskStatusKind = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetailRowsSkipsDegradationFlags(t *testing.T) {
	rows := detailRows(map[string]any{
		"reply_text":         "hi",
		"synthesis_degraded": true,
		"degraded_stages":    []any{"synthesis"},
		"clips_succeeded":    float64(3),
		"ratio":              0.5,
	})
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %v", rows)
	}
	if rows[0][0] != "clips_succeeded" || rows[0][1] != "3" {
		t.Fatalf("unexpected first row %v", rows[0])
	}
	if rows[1][1] != "0.5" || rows[2][1] != "hi" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestDependencyLinesPreferVersionDetail(t *testing.T) {
	lines := dependencyLines([]httpapi.DependencyStatus{
		{Name: "FFmpeg", Available: true, Command: "/usr/bin/ffmpeg", Detail: "ffmpeg version 6.1"},
	}, false)
	if !strings.Contains(lines[0], "[OK] All available") {
		t.Fatalf("unexpected summary %q", lines[0])
	}
	if !strings.Contains(lines[1], "Ready (ffmpeg version 6.1)") {
		t.Fatalf("unexpected dependency line %q", lines[1])
	}
}

func TestRenderSectionHeader(t *testing.T) {
	lines := renderSectionHeader(" Checks ", false)
	if len(lines) != 2 || lines[0] != "== Checks ==" || lines[1] != strings.Repeat("-", len("== Checks ==")) {
		t.Fatalf("unexpected header %q", lines)
	}
}
