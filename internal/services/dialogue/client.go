package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"talkreel/internal/logging"
	"talkreel/internal/services"
)

const (
	DefaultBaseURL = "https://api.deepseek.com"
	DefaultModel   = "deepseek-chat"
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrTimeout means the provider did not answer within the configured timeout.
	ErrTimeout = fmt.Errorf("%w: %w", services.ErrDialogue, services.ErrTimeout)
	// ErrProviderError covers rejected requests, server errors, and empty replies.
	ErrProviderError = fmt.Errorf("%w: provider error", services.ErrDialogue)
)

// Persona alters the system instruction.
type Persona struct {
	Name        string
	Personality string
}

// Config captures provider settings and sampling parameters.
type Config struct {
	APIKey           string
	BaseURL          string
	Model            string
	Timeout          time.Duration
	EmptyInputReply  string
	Temperature      float64
	MaxTokens        int64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// DefaultConfig returns the sampling defaults used for short spoken replies.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Model:            DefaultModel,
		Timeout:          DefaultTimeout,
		EmptyInputReply:  "请问有什么可以帮助您的？",
		Temperature:      1.0,
		MaxTokens:        100,
		TopP:             0.95,
		FrequencyPenalty: 0.5,
		PresencePenalty:  0.3,
	}
}

// Client wraps the chat completion endpoint.
type Client struct {
	cfg        Config
	api        openai.Client
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the time embedded in the system prompt.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
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

// NewClient constructs a client. Blank fields fall back to DefaultConfig.
func NewClient(cfg Config, opts ...Option) *Client {
	defaults := DefaultConfig()
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if strings.TrimSpace(cfg.EmptyInputReply) == "" {
		cfg.EmptyInputReply = defaults.EmptyInputReply
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.api = openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	)
	return c
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Reply returns the assistant's answer to prompt. An empty prompt returns the
// canned greeting without calling the provider. The reply is returned as the
// provider produced it; annotation stripping is the caller's concern.
func (c *Client) Reply(ctx context.Context, prompt string, persona Persona) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return c.cfg.EmptyInputReply, nil
	}
	if c.cfg.APIKey == "" {
		return "", services.Wrap(ErrProviderError, "dialogue", "reply", "api key required", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(c.now(), persona)),
			openai.UserMessage(prompt),
		},
		Temperature:      openai.Float(c.cfg.Temperature),
		MaxTokens:        openai.Int(c.cfg.MaxTokens),
		TopP:             openai.Float(c.cfg.TopP),
		FrequencyPenalty: openai.Float(c.cfg.FrequencyPenalty),
		PresencePenalty:  openai.Float(c.cfg.PresencePenalty),
	}

	started := time.Now()
	completion, err := c.api.Chat.Completions.New(callCtx, params)
	if err != nil {
		return "", c.classify(ctx, callCtx, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrProviderError)
	}
	choice := completion.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content (finish_reason=%q, refusal=%q)", ErrProviderError, choice.FinishReason, choice.Message.Refusal)
	}

	logging.WithContext(ctx, c.logger).Debug("dialogue reply received",
		logging.String("model", c.cfg.Model),
		logging.Int("chars", len([]rune(content))),
		logging.Duration("latency", time.Since(started)),
	)
	return content, nil
}

func (c *Client) classify(parent, callCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, c.cfg.Timeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout {
			return fmt.Errorf("%w: http %d", ErrTimeout, apiErr.StatusCode)
		}
		return fmt.Errorf("%w: http %d: %w", ErrProviderError, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%w: %w", ErrProviderError, err)
}
