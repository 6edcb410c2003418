package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"talkreel/internal/httpapi"
	"talkreel/internal/tasks"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var statusStyles = map[statusKind]struct{ label, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

// renderStatusLine formats "  Label:   [KIND] message", colored per kind
// when writing to a terminal.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style, ok := statusStyles[kind]
	if !ok {
		style = statusStyles[statusInfo]
	}
	badge := "[" + style.label + "]"
	if message != "" {
		badge += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", badge)
	return paint(line, style.color, colorize)
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	return []string{
		paint(heading, ansiBlue, colorize),
		paint(strings.Repeat("-", len(heading)), ansiBlue, colorize),
	}
}

func paint(s, color string, colorize bool) string {
	if !colorize || color == "" {
		return s
	}
	return color + s + ansiReset
}

// taskStatusKind maps a task to a line color. A completed task with
// degraded stages is a warning.
func taskStatusKind(view httpapi.TaskView) statusKind {
	switch view.Status {
	case tasks.StatusCompleted:
		if len(degradedStages(view)) > 0 {
			return statusWarn
		}
		return statusOK
	case tasks.StatusFailed:
		return statusError
	default:
		return statusInfo
	}
}

// degradedStages reads the degraded_stages detail, which arrives from JSON
// as []any.
func degradedStages(view httpapi.TaskView) []string {
	raw, ok := view.Details["degraded_stages"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// dependencyLines renders a summary followed by one line per dependency.
func dependencyLines(deps []httpapi.DependencyStatus, colorize bool) []string {
	if len(deps) == 0 {
		return []string{renderStatusLine("Dependencies", statusInfo, "none checked", colorize)}
	}
	missingRequired := 0
	missingOptional := 0
	for _, dep := range deps {
		if dep.Available {
			continue
		}
		if dep.Optional {
			missingOptional++
		} else {
			missingRequired++
		}
	}

	lines := make([]string, 0, len(deps)+1)
	switch {
	case missingRequired > 0:
		lines = append(lines, renderStatusLine("Summary", statusError, fmt.Sprintf("%d required missing", missingRequired), colorize))
	case missingOptional > 0:
		lines = append(lines, renderStatusLine("Summary", statusWarn, fmt.Sprintf("%d optional missing", missingOptional), colorize))
	default:
		lines = append(lines, renderStatusLine("Summary", statusOK, "All available", colorize))
	}

	for _, dep := range deps {
		if dep.Available {
			msg := "Ready"
			switch {
			case strings.TrimSpace(dep.Detail) != "":
				msg = fmt.Sprintf("Ready (%s)", strings.TrimSpace(dep.Detail))
			case dep.Command != "":
				msg = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, msg, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func checkLines(checks []httpapi.CheckResult, colorize bool) []string {
	lines := make([]string, 0, len(checks))
	for _, c := range checks {
		kind := statusOK
		if !c.Passed {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(c.Name, kind, c.Detail, colorize))
	}
	return lines
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
