package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"talkreel/internal/config"
)

// ConfigOption adjusts a generated test configuration.
type ConfigOption func(t testing.TB, cfg *config.Config)

// NewConfig returns a default config whose directories all live under a
// fresh temp dir (cfg.Paths.DataDir). The API binds an ephemeral port and
// no .env file is read.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = root
	cfg.Paths.InputDir = filepath.Join(root, "input")
	cfg.Paths.OutputDir = filepath.Join(root, "output")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.StateDir = filepath.Join(root, "state")
	cfg.Paths.PersonasFile = filepath.Join(root, "personas.yaml")
	cfg.Paths.EnvFile = ""
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Dialogue.APIKey = "test"
	cfg.Synthesis.DefaultRefAudio = filepath.Join(root, "ref", "default.wav")
	cfg.Synthesis.ServiceDir = filepath.Join(root, "GPT-SoVITS")
	cfg.Render.JoyGenDir = filepath.Join(root, "JoyGen")

	for _, opt := range opts {
		opt(t, &cfg)
	}
	return &cfg
}

// WithAPIToken requires a bearer token on the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}

// WithSessionMode routes renders through the persistent worker container.
func WithSessionMode() ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Render.Mode = config.RenderModeSession
		cfg.Session.HostDir = filepath.Join(cfg.Paths.DataDir, "session")
	}
}

// WithDirectories creates every directory the daemon expects.
func WithDirectories() ConfigOption {
	return func(t testing.TB, cfg *config.Config) {
		if err := cfg.EnsureDirectories(); err != nil {
			t.Fatalf("ensure directories: %v", err)
		}
	}
}

// WithStubbedBinaries puts no-op executables first on PATH. Without names,
// ffmpeg, uvx, and docker are stubbed. Each stub prints "<name> stub" so
// version probes succeed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(t testing.TB, cfg *config.Config) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "uvx", "docker"}
		}
		bin := filepath.Join(cfg.Paths.DataDir, "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", bin, err)
		}
		for _, name := range names {
			script := "#!/bin/sh\necho '" + name + " stub'\nexit 0\n"
			if err := os.WriteFile(filepath.Join(bin, name), []byte(script), 0o755); err != nil {
				t.Fatalf("write stub %s: %v", name, err)
			}
		}
		t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}
