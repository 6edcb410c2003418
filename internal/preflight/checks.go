package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"talkreel/internal/config"
	"talkreel/internal/deps"
	"talkreel/internal/personas"
	"talkreel/internal/services/joygen"
	"talkreel/internal/services/synthesis"
)

// CheckDialogue verifies that the chat-completion API is reachable and the
// key is accepted. It lists models with a single attempt and a short timeout.
func CheckDialogue(ctx context.Context, baseURL, apiKey string) Result {
	const name = "Dialogue API"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base_url"}
	}
	if strings.TrimSpace(apiKey) == "" {
		return Result{Name: name, Detail: "API key missing (replies fall back to the fixed apology)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/models", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%v)", err)}
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(apiKey))

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: name, Passed: true, Detail: "API reachable"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api key)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%d)", resp.StatusCode)}
	}
}

// CheckSynthesis reports whether the TTS service answers.
func CheckSynthesis(ctx context.Context, client *synthesis.Client) Result {
	const name = "TTS service"
	if err := client.Health(ctx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable", client.BaseURL())}
	}
	return Result{Name: name, Passed: true, Detail: client.BaseURL()}
}

// CheckJoyGen verifies the JoyGen checkout holds its entry script.
func CheckJoyGen(dir string) Result {
	const name = "JoyGen"
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return Result{Name: name, Detail: "render.joygen_dir not set"}
	}
	script := filepath.Join(dir, joygen.ScriptName)
	info, err := os.Stat(script)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s missing)", dir, joygen.ScriptName)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s is a directory", script)}
	}
	return Result{Name: name, Passed: true, Detail: dir}
}

// CheckPersonas loads the persona catalog. A missing file passes with the
// built-in default.
func CheckPersonas(path string) Result {
	const name = "Personas"
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Result{Name: name, Passed: true, Detail: "using built-in default"}
	}
	catalog, err := personas.Load(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d characters, default %s", len(catalog.Characters), catalog.DefaultPersona().ID)}
}

// CheckReferenceAudio reports which reference voice synthesis falls back to.
func CheckReferenceAudio(defaultRef, inputDir string) Result {
	const name = "Reference voice"
	defaultRef = strings.TrimSpace(defaultRef)
	if defaultRef != "" {
		if info, err := os.Stat(defaultRef); err == nil && !info.IsDir() {
			return Result{Name: name, Passed: true, Detail: defaultRef}
		}
	}
	if latest := synthesis.LatestInput(inputDir); latest != "" {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("seeded from latest input %s", filepath.Base(latest))}
	}
	return Result{Name: name, Detail: "no default_ref_audio and no recordings in input_dir"}
}

// CheckContainerRuntime verifies the docker daemon answers.
func CheckContainerRuntime(ctx context.Context, docker string) Result {
	const name = "Container runtime"
	docker = strings.TrimSpace(docker)
	if docker == "" {
		docker = "docker"
	}
	status := deps.CheckBinaries([]deps.Requirement{{Name: name, Command: docker}})[0]
	if !status.Available {
		return Result{Name: name, Detail: status.Detail}
	}
	version, err := deps.ServerVersion(ctx, docker)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("daemon unreachable (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: "server " + version}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries for the given config.
// Both the daemon and the CLI doctor command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "uvx",
			Command:     cfg.UVXBinary(),
			Description: "Runs WhisperX for speech recognition",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "bash",
			Command:     cfg.BashBinary(),
			Description: "Runs JoyGen render and training scripts",
		},
		{
			Name:        "docker",
			Command:     cfg.Session.Docker,
			Description: "Hosts the persistent render worker",
			Optional:    !cfg.SessionMode(),
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "python",
			Command:     cfg.Synthesis.Python,
			Description: "Launches the TTS service when autostart is enabled",
			Optional:    !cfg.Synthesis.Autostart,
			VersionArgs: []string{"--version"},
		},
	}
	statuses := []deps.Status{deps.CheckFFmpeg(ctx, cfg.FFmpegBinary())}
	return append(statuses, deps.Probe(ctx, requirements, true)...)
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (API unreachable)"
	}
	return err.Error()
}
