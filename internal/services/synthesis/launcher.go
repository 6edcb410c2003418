package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"talkreel/internal/extjob"
	"talkreel/internal/logging"
	"talkreel/internal/services"
)

const DefaultStartupTimeout = 60 * time.Second

// LauncherConfig describes how to start the service locally.
type LauncherConfig struct {
	Python         string
	ServiceDir     string
	Script         string
	StartupTimeout time.Duration
	PollInterval   time.Duration
}

// Launcher starts GPT-SoVITS when it is not already answering.
type Launcher struct {
	cfg    LauncherConfig
	client *Client
	logger *slog.Logger
}

// NewLauncher binds a launcher to the client whose endpoint it serves.
func NewLauncher(cfg LauncherConfig, client *Client, logger *slog.Logger) *Launcher {
	if cfg.Python == "" {
		cfg.Python = "python"
	}
	if cfg.Script == "" {
		cfg.Script = "api_v2.py"
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Launcher{cfg: cfg, client: client, logger: logger}
}

// Ensure returns nil, nil when the service already answers. Otherwise it
// starts the process and waits until Health succeeds; the caller owns the
// returned process and must Stop it.
func (l *Launcher) Ensure(ctx context.Context) (*extjob.Service, error) {
	if err := l.client.Health(ctx); err == nil {
		l.logger.Info("tts service already running", logging.String("url", l.client.BaseURL()))
		return nil, nil
	}
	host, port, err := hostPort(l.client.BaseURL())
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "synthesis", "autostart", "parse base_url", err)
	}
	if strings.TrimSpace(l.cfg.ServiceDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "synthesis", "autostart", "service_dir required", nil)
	}

	opts := []extjob.ServiceOption{extjob.WithServiceLogger(l.logger)}
	if l.cfg.PollInterval > 0 {
		opts = append(opts, extjob.WithPollInterval(l.cfg.PollInterval))
	}
	l.logger.Info("starting tts service",
		logging.String("dir", l.cfg.ServiceDir),
		logging.String("url", l.client.BaseURL()),
	)
	svc, err := extjob.StartService(ctx, extjob.Descriptor{
		Name:    "gpt-sovits",
		Binary:  l.cfg.Python,
		Args:    []string{l.cfg.Script, "-a", host, "-p", port},
		Dir:     l.cfg.ServiceDir,
		Timeout: l.cfg.StartupTimeout,
	}, l.client.Health, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: autostart: %w", ErrServiceUnavailable, err)
	}
	return svc, nil
}

func hostPort(base string) (string, string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", "", err
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		host = u.Hostname()
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	if host == "" {
		return "", "", fmt.Errorf("no host in %q", base)
	}
	return host, port, nil
}
