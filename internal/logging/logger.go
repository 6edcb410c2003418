package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"talkreel/internal/config"
)

// Options describes logger construction parameters. Outputs accepts
// "stdout", "stderr", or file paths; files are appended to and their
// directories created.
type Options struct {
	Level       string
	Format      string
	Outputs     []string
	Development bool
}

// New builds a console or JSON logger. Caller locations are included in
// development mode and at debug level.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))
	addSource := opts.Development || level.Level() <= slog.LevelDebug

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format != "" && format != "console" && format != "json" {
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	w, err := openOutputs(opts.Outputs)
	if err != nil {
		return nil, err
	}
	if format == "json" {
		return slog.New(newJSONHandler(w, level, addSource)), nil
	}
	return slog.New(newConsoleHandler(w, level, addSource)), nil
}

// NewFromConfig creates the logger for commands that run work in the CLI
// process. Console output goes to stderr in the configured format; when a log
// directory is set the same records are also appended to talkreel-cli.log as
// JSON. talkreel.log is reserved for the daemon's current run.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Outputs: []string{"stderr"}})
	}
	console, err := New(Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: []string{"stderr"},
	})
	if err != nil || strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return console, err
	}
	file, err := New(Options{
		Level:   cfg.Logging.Level,
		Format:  "json",
		Outputs: []string{filepath.Join(cfg.Paths.LogDir, "talkreel-cli.log")},
	})
	if err != nil {
		return nil, err
	}
	return TeeLogger(console, file.Handler()), nil
}

func parseLevel(level string) slog.Level {
	var out slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	}
	if err := out.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return out
}

func openOutputs(targets []string) (io.Writer, error) {
	var writers []io.Writer
	var seen []string
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" || slices.Contains(seen, target) {
			continue
		}
		seen = append(seen, target)
		switch target {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, fmt.Errorf("ensure log directory: %w", err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", target, err)
			}
			writers = append(writers, f)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

// newJSONHandler writes the run-log schema read back by the logs package:
// ts, level (lowercase), msg, and source as file:line.
func newJSONHandler(w io.Writer, level slog.Leveler, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
				if a.Value.Kind() == slog.KindTime {
					a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
				}
			case slog.LevelKey:
				a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
			case slog.SourceKey:
				if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
					a.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return a
		},
	})
}
