package whisperx

import "time"

// Config captures runtime settings for WhisperX recognition.
type Config struct {
	// Model is the WhisperX model to use (e.g., "small", "large-v3").
	Model string
	// CUDAEnabled enables GPU acceleration.
	CUDAEnabled bool
	// Language is the default BCP 47 hint, e.g. "zh-CN".
	Language string
	// Timeout bounds conversion and transcription separately.
	Timeout time.Duration
	// MinAudioBytes is the size below which input is logged as suspicious.
	MinAudioBytes int64
}

// WhisperX configuration constants.
const (
	DefaultModel      = "small"
	DefaultLanguage   = "zh-CN"
	CUDAIndexURL      = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL      = "https://pypi.org/simple"
	BatchSize         = "4"
	BeamSize          = "5"
	Temperature       = "0.0"
	SegmentResolution = "sentence"
	OutputFormat      = "json"
	CPUDevice         = "cpu"
	CUDADevice        = "cuda"
	CPUComputeType    = "float32"
	VADMethodSilero   = "silero"
)

// Command names for external tools.
const (
	UVXCommand    = "uvx"
	FFmpegCommand = "ffmpeg"
)
