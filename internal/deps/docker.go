package deps

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ServerVersion asks the container daemon for its version. It fails when
// the client binary works but the daemon is down or unreachable.
func ServerVersion(ctx context.Context, docker string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, docker, "version", "--format", "{{.Server.Version}}").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg := strings.TrimSpace(string(exitErr.Stderr)); msg != "" {
				line, _, _ := strings.Cut(msg, "\n")
				return "", errors.New(line)
			}
		}
		return "", err
	}
	version := strings.TrimSpace(string(out))
	if version == "" {
		return "", errors.New("empty server version")
	}
	return version, nil
}
