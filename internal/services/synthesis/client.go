package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"talkreel/internal/extjob"
	"talkreel/internal/logging"
	"talkreel/internal/services"
)

const (
	DefaultBaseURL     = "http://127.0.0.1:9880"
	DefaultTimeout     = 60 * time.Second
	DefaultLang        = "zh"
	DefaultSplitMethod = "cut5"
	DefaultMinBytes    = 1024

	healthTimeout = 5 * time.Second
)

var (
	// ErrServiceUnavailable means the service could not be reached, timed out,
	// or rejected the request.
	ErrServiceUnavailable = fmt.Errorf("%w: tts service unavailable", services.ErrSynthesis)
	// ErrMalformedResponse means the service answered 2xx with something that
	// is not plausible audio.
	ErrMalformedResponse = fmt.Errorf("%w: malformed tts response", services.ErrSynthesis)
)

// Config captures the service endpoint and request defaults.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	TextLang    string
	PromptLang  string
	SplitMethod string
	// MinAudioBytes rejects bodies too short to be a WAV file.
	MinAudioBytes int64
}

// Request is one synthesis call.
type Request struct {
	Text string
	// RefAudio must be an absolute path readable by the service process.
	RefAudio   string
	PromptText string
	// Output receives the WAV file.
	Output string
}

type ttsPayload struct {
	Text            string `json:"text"`
	TextLang        string `json:"text_lang"`
	RefAudioPath    string `json:"ref_audio_path"`
	PromptText      string `json:"prompt_text"`
	PromptLang      string `json:"prompt_lang"`
	TextSplitMethod string `json:"text_split_method"`
	BatchSize       int    `json:"batch_size"`
	MediaType       string `json:"media_type"`
	StreamingMode   bool   `json:"streaming_mode"`
}

// Caller is the HTTP half of *extjob.Runner.
type Caller interface {
	Call(ctx context.Context, req extjob.Request) (extjob.Response, error)
}

// Client wraps the GPT-SoVITS HTTP API.
type Client struct {
	cfg    Config
	caller Caller
	logger *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithCaller injects the HTTP caller (primarily for tests).
func WithCaller(caller Caller) Option {
	return func(c *Client) {
		if caller != nil {
			c.caller = caller
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a client. Blank fields take the package defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TextLang == "" {
		cfg.TextLang = DefaultLang
	}
	if cfg.PromptLang == "" {
		cfg.PromptLang = DefaultLang
	}
	if cfg.SplitMethod == "" {
		cfg.SplitMethod = DefaultSplitMethod
	}
	if cfg.MinAudioBytes <= 0 {
		cfg.MinAudioBytes = DefaultMinBytes
	}
	c := &Client{
		cfg:    cfg,
		caller: extjob.NewRunner(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Synthesize renders req.Text in the reference voice and writes the WAV to
// req.Output. It returns the written path.
func (c *Client) Synthesize(ctx context.Context, req Request) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", services.Wrap(services.ErrValidation, "synthesis", "synthesize", "text required", nil)
	}
	if strings.TrimSpace(req.Output) == "" {
		return "", services.Wrap(services.ErrValidation, "synthesis", "synthesize", "output path required", nil)
	}
	if strings.TrimSpace(req.RefAudio) == "" {
		return "", services.Wrap(services.ErrNotFound, "synthesis", "synthesize", "reference audio required", nil)
	}

	logger := logging.WithContext(ctx, c.logger)
	started := time.Now()
	resp, err := c.caller.Call(ctx, extjob.Request{
		Name:    "gpt-sovits",
		URL:     c.cfg.BaseURL + "/tts",
		Timeout: c.cfg.Timeout,
		Body: ttsPayload{
			Text:            text,
			TextLang:        c.cfg.TextLang,
			RefAudioPath:    req.RefAudio,
			PromptText:      req.PromptText,
			PromptLang:      c.cfg.PromptLang,
			TextSplitMethod: c.cfg.SplitMethod,
			BatchSize:       1,
			MediaType:       "wav",
			StreamingMode:   false,
		},
		MinBytes:     c.cfg.MinAudioBytes,
		ContentTypes: []string{"audio/", "application/octet-stream"},
		Destination:  req.Output,
	})
	if err != nil {
		return "", classify(err)
	}
	logger.Info("speech synthesized",
		logging.String("output", resp.Path),
		logging.Int64("bytes", resp.Size),
		logging.Duration("duration", time.Since(started)),
	)
	return resp.Path, nil
}

// Health reports nil when the service answers at all. GPT-SoVITS has no
// health route, so a non-2xx reply from its root still counts as up.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.caller.Call(ctx, extjob.Request{
		Name:    "gpt-sovits",
		URL:     c.cfg.BaseURL + "/",
		Timeout: healthTimeout,
	})
	var statusErr *extjob.StatusError
	if err == nil || errors.As(err, &statusErr) {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
}

func classify(err error) error {
	if errors.Is(err, extjob.ErrMalformedResponse) {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if errors.Is(err, services.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
}
