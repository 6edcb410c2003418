package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, state, and bind address configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	InputDir     string `toml:"input_dir"`
	OutputDir    string `toml:"output_dir"`
	LogDir       string `toml:"log_dir"`
	StateDir     string `toml:"state_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
	PersonasFile string `toml:"personas_file"`
	EnvFile      string `toml:"env_file"`
}

// Registry controls in-memory task retention.
type Registry struct {
	LogCapacity          int `toml:"log_capacity"`
	TTLMinutes           int `toml:"ttl_minutes"`
	Capacity             int `toml:"capacity"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	// ArchiveRetentionDays prunes archived tasks older than this; zero keeps
	// them forever.
	ArchiveRetentionDays int `toml:"archive_retention_days"`
}

// Recognition configures speech-to-text through WhisperX.
type Recognition struct {
	Language       string `toml:"language"`
	Model          string `toml:"model"`
	CUDA           bool   `toml:"cuda"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MinAudioBytes  int64  `toml:"min_audio_bytes"`
}

// Dialogue configures the chat-completion provider.
type Dialogue struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	Retries           int     `toml:"retries"`
	RetryDelaySeconds int     `toml:"retry_delay_seconds"`
	FallbackReply     string  `toml:"fallback_reply"`
	EmptyInputReply   string  `toml:"empty_input_reply"`
	Temperature       float64 `toml:"temperature"`
	MaxTokens         int64   `toml:"max_tokens"`
	TopP              float64 `toml:"top_p"`
	FrequencyPenalty  float64 `toml:"frequency_penalty"`
	PresencePenalty   float64 `toml:"presence_penalty"`
}

// Synthesis configures the GPT-SoVITS text-to-speech service.
type Synthesis struct {
	BaseURL               string `toml:"base_url"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	TextLang              string `toml:"text_lang"`
	PromptLang            string `toml:"prompt_lang"`
	SplitMethod           string `toml:"split_method"`
	DefaultRefAudio       string `toml:"default_ref_audio"`
	DefaultPromptText     string `toml:"default_prompt_text"`
	MinAudioBytes         int64  `toml:"min_audio_bytes"`
	Autostart             bool   `toml:"autostart"`
	ServiceDir            string `toml:"service_dir"`
	Python                string `toml:"python"`
	StartupTimeoutSeconds int    `toml:"startup_timeout_seconds"`
}

// Render configures talking-head video generation.
type Render struct {
	Mode           string `toml:"mode"`
	JoyGenDir      string `toml:"joygen_dir"`
	GPU            string `toml:"gpu"`
	ModelPath      string `toml:"model_path"`
	RefVideo       string `toml:"ref_video"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Session configures the persistent container used for session-mode renders
// and cross-synthesis batches.
type Session struct {
	Image              string `toml:"image"`
	Docker             string `toml:"docker"`
	HostDir            string `toml:"host_dir"`
	NamePrefix         string `toml:"name_prefix"`
	MaxJobs            int    `toml:"max_jobs"`
	ReadyGraceSeconds  int    `toml:"ready_grace_seconds"`
	StepTimeoutSeconds int    `toml:"step_timeout_seconds"`
}

// Training configures JoyGen fine-tuning jobs.
type Training struct {
	MaxSteps           int     `toml:"max_steps"`
	BatchSize          int     `toml:"batch_size"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	ConfigFile         string  `toml:"config_file"`
	NumWorkers         int     `toml:"num_workers"`
	LR                 float64 `toml:"lr"`
	MinLR              float64 `toml:"min_lr"`
	CheckpointInterval int     `toml:"checkpoint_interval"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	TaskCompleted  bool   `toml:"task_completed"`
	TaskFailed     bool   `toml:"task_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for talkreel.
//
// Configuration sections by subsystem:
//   - Paths: data directories, state, and API bind address
//   - Registry: task retention and progress log size
//   - Recognition: WhisperX speech-to-text
//   - Dialogue: chat-completion provider and retry policy
//   - Synthesis: GPT-SoVITS service endpoint and launcher
//   - Render: JoyGen script/session dispatch
//   - Session: persistent docker worker
//   - Training: JoyGen fine-tuning defaults
//   - Notifications: ntfy push settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Registry      Registry      `toml:"registry"`
	Recognition   Recognition   `toml:"recognition"`
	Dialogue      Dialogue      `toml:"dialogue"`
	Synthesis     Synthesis     `toml:"synthesis"`
	Render        Render        `toml:"render"`
	Session       Session       `toml:"session"`
	Training      Training      `toml:"training"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/talkreel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("talkreel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.InputDir,
		c.AudioOutputDir(),
		c.VideoOutputDir(),
		c.Paths.LogDir,
		c.Paths.StateDir,
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// AudioOutputDir is where synthesized replies are published.
func (c *Config) AudioOutputDir() string {
	return filepath.Join(c.Paths.OutputDir, "audio")
}

// VideoOutputDir is where rendered videos are published.
func (c *Config) VideoOutputDir() string {
	return filepath.Join(c.Paths.OutputDir, "videos")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "talkreel.lock")
}

// ArchivePath returns the SQLite archive of terminal tasks.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.Paths.StateDir, "tasks.db")
}

// FFmpegBinary returns the ffmpeg executable name used for audio conversion.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// BashBinary returns the shell used to run JoyGen scripts.
func (c *Config) BashBinary() string {
	return "bash"
}

// UVXBinary returns the uv tool runner used to launch WhisperX.
func (c *Config) UVXBinary() string {
	return "uvx"
}

// SessionMode reports whether renders run inside the persistent container.
func (c *Config) SessionMode() bool {
	return c.Render.Mode == RenderModeSession
}

// Seconds converts a positive second count to a duration; non-positive values
// yield zero, which callers treat as "no limit".
func Seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
