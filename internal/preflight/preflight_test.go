package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"talkreel/internal/services/synthesis"
	"talkreel/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDialogue_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" || r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckDialogue(context.Background(), srv.URL, "good-key")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckDialogue_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := CheckDialogue(context.Background(), srv.URL, "bad-key")
	if result.Passed {
		t.Fatal("expected failure for bad key")
	}
	if result.Detail != "auth failed (invalid api key)" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDialogue_MissingKey(t *testing.T) {
	result := CheckDialogue(context.Background(), "https://api.example.com", "")
	if result.Passed {
		t.Fatal("expected failure for missing key")
	}
}

func TestCheckSynthesis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	client := synthesis.NewClient(synthesis.Config{BaseURL: srv.URL})
	if result := CheckSynthesis(context.Background(), client); !result.Passed {
		t.Fatalf("expected any answer to count as up, got %s", result.Detail)
	}
	srv.Close()
	if result := CheckSynthesis(context.Background(), client); result.Passed {
		t.Fatal("expected failure once the service is gone")
	}
}

func TestCheckJoyGen(t *testing.T) {
	dir := t.TempDir()
	if result := CheckJoyGen(dir); result.Passed {
		t.Fatal("expected failure without entry script")
	}
	if err := os.WriteFile(filepath.Join(dir, "run_joygen.sh"), []byte("#!/bin/bash\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if result := CheckJoyGen(dir); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	if result := CheckJoyGen(""); result.Passed {
		t.Fatal("expected failure for unset dir")
	}
}

func TestCheckPersonas(t *testing.T) {
	dir := t.TempDir()
	missing := CheckPersonas(filepath.Join(dir, "personas.yaml"))
	if !missing.Passed || missing.Detail != "using built-in default" {
		t.Fatalf("unexpected result for missing catalog: %+v", missing)
	}

	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("characters: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckPersonas(broken); result.Passed {
		t.Fatal("expected failure for malformed catalog")
	}
}

func TestCheckReferenceAudio(t *testing.T) {
	dir := t.TempDir()
	inputDir := filepath.Join(dir, "input")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if result := CheckReferenceAudio("", inputDir); result.Passed {
		t.Fatal("expected failure with no reference and no recordings")
	}
	ref := filepath.Join(dir, "ref.wav")
	testsupport.WriteMedia(t, ref, 2048)
	if result := CheckReferenceAudio(ref, inputDir); !result.Passed || result.Detail != ref {
		t.Fatalf("expected configured reference, got %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReportsDirectoriesAndServices(t *testing.T) {
	tts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer tts.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithDirectories())
	cfg.Synthesis.BaseURL = tts.URL
	cfg.Dialogue.APIKey = ""

	results := RunAll(context.Background(), cfg)
	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"Input directory", "Output directory", "State directory", "Personas", "TTS service"} {
		if r, ok := byName[name]; !ok || !r.Passed {
			t.Errorf("check %q: %+v", name, r)
		}
	}
	if byName["Dialogue API"].Passed {
		t.Error("expected dialogue check to fail without API key")
	}
	if _, ok := byName["Container runtime"]; ok {
		t.Error("container runtime is only checked in session mode")
	}
	failed := Failed(results)
	if len(failed) == 0 {
		t.Fatal("expected failed checks")
	}
}
