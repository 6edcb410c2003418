package deps

import (
	"context"
	"fmt"
	"strings"
)

// Requirement names a program the pipeline launches. VersionArgs, when
// set, are passed to the resolved binary and the first output line is
// reported as the status detail.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	VersionArgs []string
}

// Status is the probe result for one Requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Blocking reports whether the missing dependency prevents jobs from running.
func (s Status) Blocking() bool {
	return !s.Available && !s.Optional
}

// CheckBinaries resolves each requirement without probing versions.
func CheckBinaries(requirements []Requirement) []Status {
	return Probe(context.Background(), requirements, false)
}

// Probe resolves each requirement from PATH or its explicit location. When
// withVersion is set, available binaries with VersionArgs are executed once
// to capture a version line.
func Probe(ctx context.Context, requirements []Requirement, withVersion bool) []Status {
	out := make([]Status, len(requirements))
	for i, req := range requirements {
		st := Status{
			Name:        req.Name,
			Command:     strings.TrimSpace(req.Command),
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch resolved, ok := resolveBinary(st.Command); {
		case st.Command == "":
			st.Detail = "command not configured"
		case !ok:
			st.Detail = fmt.Sprintf("binary %q not found", st.Command)
		default:
			st.Command = resolved
			st.Available = true
			if withVersion && len(req.VersionArgs) > 0 {
				st.Detail = versionLine(ctx, resolved, req.VersionArgs...)
			}
		}
		out[i] = st
	}
	return out
}

// Blocking lists the names of required dependencies that are unavailable.
func Blocking(statuses []Status) []string {
	var names []string
	for _, s := range statuses {
		if s.Blocking() {
			names = append(names, s.Name)
		}
	}
	return names
}
