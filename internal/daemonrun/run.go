package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"talkreel/internal/config"
	"talkreel/internal/daemon"
	"talkreel/internal/logging"
	"talkreel/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the talkreel daemon and blocks until SIGINT, SIGTERM, or
// cancellation of cmdCtx, then stops it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("talkreel-%s.log", runID))
	logger, err := newLogger(cfg, opts, logPath)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update talkreel.log link: %v\n", err)
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "talkreel.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logDependencySnapshot(signalCtx, logger, cfg)
	logPreflight(signalCtx, logger, cfg)

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.String(logging.FieldErrorHint, "check the lock file, api_bind, and session image"),
			logging.Error(err),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("talkreel daemon shutting down")
	d.Stop()
	return nil
}

// newLogger writes console output in the configured format and a JSON copy
// to the per-run log file.
func newLogger(cfg *config.Config, opts Options, logPath string) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	console, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Outputs:     []string{"stdout"},
		Development: opts.Development,
	})
	if err != nil {
		return nil, err
	}
	file, err := logging.New(logging.Options{
		Level:       level,
		Format:      "json",
		Outputs:     []string{logPath},
		Development: opts.Development,
	})
	if err != nil {
		return nil, err
	}
	return logging.TeeLogger(console, file.Handler()), nil
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, r := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run talkreel doctor for details"),
			logging.String(logging.FieldImpact, "jobs depending on this check may fail or degrade"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "talkreel.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("dialogue_key_present", strings.TrimSpace(cfg.Dialogue.APIKey) != ""),
		logging.String("render_mode", cfg.Render.Mode),
		logging.Bool("tts_autostart", cfg.Synthesis.Autostart),
		logging.Bool("whisperx_cuda", cfg.Recognition.CUDA),
	}
	for _, s := range preflight.CheckSystemDeps(ctx, cfg) {
		attrs = append(attrs,
			logging.Bool(s.Name+"_available", s.Available),
			logging.String(s.Name+"_binary", s.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
