package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"talkreel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "rendering", "joygen", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"rendering", "joygen", "failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestWrapKeepsDerivedMarkers(t *testing.T) {
	noSpeech := fmt.Errorf("%w: no speech detected", services.ErrRecognition)
	err := services.Wrap(noSpeech, "input", "recognize", "", nil)
	if !errors.Is(err, noSpeech) || !errors.Is(err, services.ErrRecognition) {
		t.Fatalf("expected both derived and family markers, got %v", err)
	}
}

func TestDetailsHints(t *testing.T) {
	tests := []struct {
		name string
		err  error
		hint string
	}{
		{"nil", nil, ""},
		{"not found", services.Wrap(services.ErrNotFound, "synthesis", "reference", "missing", nil), "referenced file"},
		{"recognition", fmt.Errorf("%w: empty", services.ErrRecognition), "submit text"},
		{"session", services.Wrap(services.ErrSessionStart, "session", "docker run", "", errors.New("exit 125")), "docker"},
		{"unknown", errors.New("plain"), "daemon logs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, hint := services.Details(tt.err)
			if tt.hint == "" {
				if hint != "" {
					t.Fatalf("expected empty hint, got %q", hint)
				}
				return
			}
			if !strings.Contains(hint, tt.hint) {
				t.Fatalf("hint %q does not mention %q", hint, tt.hint)
			}
		})
	}
}
