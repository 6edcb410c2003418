package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"talkreel/internal/extjob"
	"talkreel/internal/logging"
	"talkreel/internal/services"
)

var (
	// ErrNoSpeechDetected means the recognizer ran but heard nothing usable.
	ErrNoSpeechDetected = fmt.Errorf("%w: no speech detected", services.ErrRecognition)
	// ErrServiceUnavailable means ffmpeg or WhisperX failed or timed out.
	ErrServiceUnavailable = fmt.Errorf("%w: recognition service unavailable", services.ErrRecognition)
)

// Service provides WhisperX recognition.
type Service struct {
	cfg          Config
	ffmpegBinary string
	uvxBinary    string
	runner       extjob.JobRunner
	logger       *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithRunner injects the job runner (primarily for tests).
func WithRunner(runner extjob.JobRunner) Option {
	return func(s *Service) {
		if runner != nil {
			s.runner = runner
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config, ffmpegBinary, uvxBinary string, opts ...Option) *Service {
	if ffmpegBinary == "" {
		ffmpegBinary = FFmpegCommand
	}
	if uvxBinary == "" {
		uvxBinary = UVXCommand
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = DefaultLanguage
	}
	s := &Service{
		cfg:          cfg,
		ffmpegBinary: ffmpegBinary,
		uvxBinary:    uvxBinary,
		runner:       extjob.NewRunner(),
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	return s.cfg.Model
}

// Recognize returns the text spoken in audioPath. language is a BCP 47 hint;
// empty uses the configured default.
func (s *Service) Recognize(ctx context.Context, audioPath, lang string) (string, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, "recognition", "open audio", audioPath, err)
		}
		return "", services.Wrap(services.ErrRecognition, "recognition", "open audio", audioPath, err)
	}
	logger := logging.WithContext(ctx, s.logger)
	if s.cfg.MinAudioBytes > 0 && info.Size() < s.cfg.MinAudioBytes {
		logging.WarnWithContext(logger, "input audio is suspiciously small", "recognition_small_input",
			logging.String(logging.FieldErrorHint, "check the microphone recording"),
			logging.String(logging.FieldImpact, "recognition may return no speech"),
			logging.Int64("bytes", info.Size()),
		)
	}
	if strings.TrimSpace(lang) == "" {
		lang = s.cfg.Language
	}

	workDir, err := os.MkdirTemp("", "talkreel-asr-*")
	if err != nil {
		return "", services.Wrap(services.ErrRecognition, "recognition", "create work dir", "", err)
	}
	defer os.RemoveAll(workDir)

	wavPath := filepath.Join(workDir, "input.wav")
	if _, err := s.runner.Run(ctx, extjob.Descriptor{
		Name:    "ffmpeg",
		Binary:  s.ffmpegBinary,
		Args:    buildExtractArgs(audioPath, wavPath),
		Timeout: s.cfg.Timeout,
		Locate:  extjob.ExactFile(wavPath),
	}, nil); err != nil {
		return "", fmt.Errorf("%w: convert audio: %w", ErrServiceUnavailable, err)
	}

	jsonPath := filepath.Join(workDir, "input.json")
	if _, err := s.runner.Run(ctx, extjob.Descriptor{
		Name:    "whisperx",
		Binary:  s.uvxBinary,
		Args:    s.buildArgs(wavPath, workDir, lang),
		Env:     []string{"TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1"},
		Timeout: s.cfg.Timeout,
		Locate:  extjob.ExactFile(jsonPath),
	}, nil); err != nil {
		return "", fmt.Errorf("%w: transcribe: %w", ErrServiceUnavailable, err)
	}

	text, err := loadTranscriptText(jsonPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	if text == "" {
		return "", ErrNoSpeechDetected
	}
	logger.Info("speech recognized",
		logging.String("model", s.cfg.Model),
		logging.Int("chars", len([]rune(text))),
	)
	return text, nil
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir, lang string) []string {
	args := make([]string, 0, 32)

	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.cfg.Model,
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--beam_size", BeamSize,
		"--temperature", Temperature,
		"--vad_method", VADMethodSilero,
	)

	if code := isoLanguage(lang); code != "" {
		args = append(args, "--language", code)
	}

	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}

	return args
}

// isoLanguage reduces a BCP 47 tag such as "zh-CN" to the two-letter code
// WhisperX accepts.
func isoLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	base, confidence := parsed.Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperXPayload struct {
	Segments []Segment `json:"segments"`
}

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, err
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload.Segments, nil
}

func loadTranscriptText(jsonPath string) (string, error) {
	segments, err := LoadSegments(jsonPath)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
