package preflight

import (
	"context"

	"talkreel/internal/config"
	"talkreel/internal/services/synthesis"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Input directory", cfg.Paths.InputDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckPersonas(cfg.Paths.PersonasFile),
		CheckReferenceAudio(cfg.Synthesis.DefaultRefAudio, cfg.Paths.InputDir),
		CheckDialogue(ctx, cfg.Dialogue.BaseURL, cfg.Dialogue.APIKey),
		CheckJoyGen(cfg.Render.JoyGenDir),
	}

	client := synthesis.NewClient(synthesis.Config{BaseURL: cfg.Synthesis.BaseURL})
	tts := CheckSynthesis(ctx, client)
	if !tts.Passed && cfg.Synthesis.Autostart {
		tts.Passed = true
		tts.Detail += " (autostart enabled)"
	}
	results = append(results, tts)

	if cfg.SessionMode() {
		results = append(results, CheckContainerRuntime(ctx, cfg.Session.Docker))
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
