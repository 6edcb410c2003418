package joygen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"talkreel/internal/extjob"
	"talkreel/internal/fileutil"
	"talkreel/internal/logging"
	"talkreel/internal/services"
)

const (
	DefaultMaxSteps       = 5000
	DefaultBatchSize      = 2
	DefaultTrainTimeout   = 24 * time.Hour
	DefaultTrainingConfig = "config/joygen.yaml"
)

// Overrides are written into the training YAML before launch. Zero values
// leave the file's value alone.
type Overrides struct {
	BatchSize          int
	NumWorkers         int
	MaxSteps           int
	LR                 float64
	MinLR              float64
	CheckpointInterval int
}

func (o Overrides) empty() bool {
	return o == Overrides{}
}

// TrainRequest is one fine-tuning run.
type TrainRequest struct {
	Video     string
	GPU       string
	MaxSteps  int
	BatchSize int
	Overrides Overrides
}

// TrainerConfig locates the JoyGen checkout.
type TrainerConfig struct {
	Dir     string
	Bash    string
	GPU     string
	Timeout time.Duration
	// ConfigFile is relative to Dir unless absolute.
	ConfigFile string
}

// Trainer runs run_joygen.sh train.
type Trainer struct {
	cfg    TrainerConfig
	runner extjob.JobRunner
	logger *slog.Logger
}

// NewTrainer constructs a trainer. A nil runner uses extjob.NewRunner.
func NewTrainer(cfg TrainerConfig, runner extjob.JobRunner, logger *slog.Logger) *Trainer {
	if cfg.Bash == "" {
		cfg.Bash = "bash"
	}
	if cfg.GPU == "" {
		cfg.GPU = DefaultGPU
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTrainTimeout
	}
	if cfg.ConfigFile == "" {
		cfg.ConfigFile = DefaultTrainingConfig
	}
	if runner == nil {
		runner = extjob.NewRunner()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Trainer{cfg: cfg, runner: runner, logger: logger}
}

// Steps returns the step count a request will train for.
func (req TrainRequest) Steps() int {
	if req.MaxSteps > 0 {
		return req.MaxSteps
	}
	return DefaultMaxSteps
}

// Train fine-tunes a model and returns its checkpoint directory,
// <dir>/checkpoints/<video-stem>_steps<N>.
func (t *Trainer) Train(ctx context.Context, req TrainRequest, onLine func(string)) (string, error) {
	video := strings.TrimSpace(req.Video)
	if video == "" {
		return "", services.Wrap(services.ErrValidation, "training", "train", "video path required", nil)
	}
	abs, err := filepath.Abs(video)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "training", "train", video, err)
	}
	if ok, _ := fileutil.NonEmpty(abs); !ok {
		return "", services.Wrap(services.ErrNotFound, "training", "train", "video "+abs+" does not exist", nil)
	}
	steps := req.Steps()
	batch := req.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	gpu := req.GPU
	if gpu == "" {
		gpu = t.cfg.GPU
	}

	logger := logging.WithContext(ctx, t.logger)
	if !req.Overrides.empty() {
		configPath := t.cfg.ConfigFile
		if !filepath.IsAbs(configPath) {
			configPath = filepath.Join(t.cfg.Dir, configPath)
		}
		if err := UpdateTrainingConfig(configPath, req.Overrides); err != nil {
			return "", err
		}
		logger.Info("training config updated", logging.String("path", configPath))
	}

	started := time.Now()
	if _, err := t.runner.Run(ctx, extjob.Descriptor{
		Name:   "joygen train",
		Binary: t.cfg.Bash,
		Args: []string{
			ScriptName, "train",
			"--video_path", abs,
			"--gpu", gpu,
			"--max_steps", strconv.Itoa(steps),
			"--batch_size", strconv.Itoa(batch),
		},
		Dir:     t.cfg.Dir,
		Timeout: t.cfg.Timeout,
	}, onLine); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTrainingFailed, err)
	}

	modelDir := filepath.Join(t.cfg.Dir, "checkpoints", fmt.Sprintf("%s_steps%d", stem(abs), steps))
	if info, err := os.Stat(modelDir); err != nil || !info.IsDir() {
		logging.WarnWithContext(logger, "training finished but checkpoint directory is missing", "checkpoint_missing",
			logging.String(logging.FieldErrorHint, "check run_joygen.sh checkpoint naming"),
			logging.String(logging.FieldImpact, "renders with this model path will fail"),
			logging.String("model_dir", modelDir),
		)
	}
	logger.Info("training finished",
		logging.String("model_dir", modelDir),
		logging.Int("steps", steps),
		logging.Duration("duration", time.Since(started)),
	)
	return modelDir, nil
}

// UpdateTrainingConfig rewrites the JoyGen training YAML at path with o,
// keeping key order and comments.
func UpdateTrainingConfig(path string, o Overrides) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "training", "update config", path, err)
		}
		return services.Wrap(services.ErrConfiguration, "training", "update config", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return services.Wrap(services.ErrConfiguration, "training", "parse config", path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return services.Wrap(services.ErrConfiguration, "training", "parse config", path+" is not a mapping", nil)
	}
	root := doc.Content[0]

	setInt := func(keys []string, v int) {
		if v > 0 {
			setScalar(root, keys, "!!int", strconv.Itoa(v))
		}
	}
	setFloat := func(keys []string, v float64) {
		if v > 0 {
			setScalar(root, keys, "!!float", formatFloat(v))
		}
	}
	setInt([]string{"dataset", "batch_size"}, o.BatchSize)
	setInt([]string{"dataset", "num_workers"}, o.NumWorkers)
	setInt([]string{"opti", "max_steps"}, o.MaxSteps)
	setFloat([]string{"opti", "lr"}, o.LR)
	setFloat([]string{"opti", "min_lr"}, o.MinLR)
	setInt([]string{"checkpoint_save_interval"}, o.CheckpointInterval)
	setInt([]string{"checkpoint_valiation_interval"}, o.CheckpointInterval)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return services.Wrap(services.ErrConfiguration, "training", "encode config", path, err)
	}
	if err := enc.Close(); err != nil {
		return services.Wrap(services.ErrConfiguration, "training", "encode config", path, err)
	}
	if _, err := fileutil.WriteAtomic(path, &buf); err != nil {
		return services.Wrap(services.ErrConfiguration, "training", "write config", path, err)
	}
	return nil
}

// setScalar sets the value at keys, creating intermediate mappings and
// appending missing keys after the existing ones.
func setScalar(m *yaml.Node, keys []string, tag, value string) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != keys[0] {
			continue
		}
		node := m.Content[i+1]
		if len(keys) == 1 {
			node.Kind = yaml.ScalarNode
			node.Tag = tag
			node.Value = value
			node.Style = 0
			node.Content = nil
			return
		}
		if node.Kind != yaml.MappingNode {
			node.Kind = yaml.MappingNode
			node.Tag = "!!map"
			node.Value = ""
			node.Content = nil
		}
		setScalar(node, keys[1:], tag, value)
		return
	}
	key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: keys[0]}
	if len(keys) == 1 {
		m.Content = append(m.Content, key, &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value})
		return
	}
	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, key, child)
	setScalar(child, keys[1:], tag, value)
}

// formatFloat renders exponents with a decimal point; YAML 1.1 readers treat
// "1e-05" as a string.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	i := strings.IndexAny(s, "eE")
	switch {
	case i >= 0 && !strings.Contains(s[:i], "."):
		s = s[:i] + ".0" + s[i:]
	case i < 0 && !strings.Contains(s, "."):
		s += ".0"
	}
	return s
}
