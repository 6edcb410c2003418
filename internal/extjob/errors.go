package extjob

import (
	"fmt"
	"strings"
	"time"

	"talkreel/internal/services"
)

var (
	// ErrArtifactNotFound means the job exited cleanly but left no output.
	ErrArtifactNotFound = fmt.Errorf("%w: artifact not found", services.ErrNotFound)
	// ErrMalformedResponse means a service answered 2xx with a body that
	// cannot be the requested artifact.
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", services.ErrExternalTool)
	// ErrUnavailable means a service could not be reached.
	ErrUnavailable = fmt.Errorf("%w: service unavailable", services.ErrTransient)
)

// ToolError reports a process that exited non-zero, failed to start, or ran
// past its timeout. Output holds the captured tail for operators.
type ToolError struct {
	Tool     string
	ExitCode int
	TimedOut bool
	Timeout  time.Duration
	Output   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	switch {
	case e.TimedOut:
		fmt.Fprintf(&b, "%s timed out after %s", e.Tool, e.Timeout)
	case e.ExitCode >= 0:
		fmt.Fprintf(&b, "%s exited with code %d", e.Tool, e.ExitCode)
	default:
		fmt.Fprintf(&b, "%s failed", e.Tool)
		if e.Err != nil {
			fmt.Fprintf(&b, ": %v", e.Err)
		}
	}
	if out := lastLine(e.Output); out != "" {
		b.WriteString(": ")
		b.WriteString(out)
	}
	return b.String()
}

// Unwrap exposes both the classification marker and the underlying cause.
func (e *ToolError) Unwrap() []error {
	marker := services.ErrExternalTool
	if e.TimedOut {
		marker = services.ErrTimeout
	}
	if e.Err == nil {
		return []error{marker}
	}
	return []error{marker, e.Err}
}

// StatusError reports a service response with a non-2xx status.
type StatusError struct {
	Service    string
	StatusCode int
	Snippet    string
}

func (e *StatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("%s: http %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Service, e.StatusCode, e.Snippet)
}

// Unwrap classifies 5xx and 429 as transient and everything else as a tool
// failure.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 500 || e.StatusCode == 429 {
		return ErrUnavailable
	}
	return services.ErrExternalTool
}

func lastLine(output string) string {
	output = strings.TrimSpace(output)
	if idx := strings.LastIndexByte(output, '\n'); idx >= 0 {
		output = output[idx+1:]
	}
	return truncate(strings.TrimSpace(output), 300)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
