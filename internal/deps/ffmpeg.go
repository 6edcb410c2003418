package deps

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const versionProbeTimeout = 5 * time.Second

// CheckFFmpeg resolves the ffmpeg binary used to convert recordings and
// reports its version line. A bare name is looked up on PATH.
func CheckFFmpeg(ctx context.Context, binary string) Status {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return Probe(ctx, []Requirement{{
		Name:        "FFmpeg",
		Command:     binary,
		Description: "Converts recordings to 16 kHz WAV before recognition",
		VersionArgs: []string{"-version"},
	}}, true)[0]
}

func resolveBinary(binary string) (string, bool) {
	if binary == "" {
		return "", false
	}
	if strings.ContainsRune(binary, filepath.Separator) {
		info, err := os.Stat(binary)
		if err != nil || !isExecutable(info) {
			return binary, false
		}
		return binary, true
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return binary, false
	}
	return resolved, true
}

// versionLine returns the first output line of binary args, or "" when the
// probe fails. A failing probe does not make the binary unavailable.
func versionLine(ctx context.Context, binary string, args ...string) string {
	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, binary, args...).Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line)
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
