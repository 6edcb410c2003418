package joygen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"talkreel/internal/extjob"
	"talkreel/internal/fileutil"
	"talkreel/internal/logging"
	"talkreel/internal/services"
	"talkreel/internal/session"
)

const (
	DefaultGPU     = "GPU0"
	DefaultTimeout = 30 * time.Minute
	// ScriptName is the JoyGen entry script for renders and training.
	ScriptName     = "run_joygen.sh"
)

// Config locates the JoyGen checkout and the output tree.
type Config struct {
	// Dir is the JoyGen checkout holding run_joygen.sh, results/ and
	// checkpoints/.
	Dir string
	// HostDir is the directory mounted into session containers. It defaults
	// to Dir.
	HostDir   string
	OutputDir string
	Bash      string
	GPU       string
	Timeout   time.Duration
}

// RenderRequest is one audio-driven render.
type RenderRequest struct {
	Audio     string
	Video     string
	ModelPath string
	GPU       string
	// Tag distinguishes result directories of session renders that share
	// the same inputs.
	Tag string
}

// ChainRunner executes command chains inside a persistent worker.
type ChainRunner interface {
	Run(ctx context.Context, chain session.Chain, timeout time.Duration, onLine func(string)) (extjob.Outcome, error)
}

// Renderer produces talking-head videos.
type Renderer struct {
	cfg     Config
	runner  extjob.JobRunner
	session ChainRunner
	logger  *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithRunner injects the job runner used in script mode.
func WithRunner(runner extjob.JobRunner) Option {
	return func(r *Renderer) {
		if runner != nil {
			r.runner = runner
		}
	}
}

// WithSession switches the renderer to session mode.
func WithSession(s ChainRunner) Option {
	return func(r *Renderer) {
		if s != nil {
			r.session = s
		}
	}
}

// WithLogger sets the renderer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRenderer constructs a renderer.
func NewRenderer(cfg Config, opts ...Option) *Renderer {
	if cfg.Bash == "" {
		cfg.Bash = "bash"
	}
	if cfg.GPU == "" {
		cfg.GPU = DefaultGPU
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HostDir == "" {
		cfg.HostDir = cfg.Dir
	}
	r := &Renderer{
		cfg:    cfg,
		runner: extjob.NewRunner(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionMode reports whether renders run in a persistent worker.
func (r *Renderer) SessionMode() bool {
	return r.session != nil
}

// Render runs JoyGen for req, streaming tool output to onLine, and returns
// the published video path under <output>/videos.
func (r *Renderer) Render(ctx context.Context, req RenderRequest, onLine func(string)) (string, error) {
	audio, video, err := resolveInputs(req.Audio, req.Video)
	if err != nil {
		return "", err
	}
	dest := r.Destination(audio, video)

	logger := logging.WithContext(ctx, r.logger)
	started := time.Now()
	var artifact string
	if r.session != nil {
		artifact, err = r.renderInSession(ctx, r.session, video, audio, req.Tag, onLine)
	} else {
		artifact, err = r.renderScript(ctx, req, video, audio, onLine)
	}
	if err != nil {
		return "", err
	}
	if err := fileutil.PublishFile(artifact, dest); err != nil {
		return "", services.Wrap(services.ErrRender, "render", "publish video", dest, err)
	}
	logger.Info("video rendered",
		logging.String("video", dest),
		logging.Bool("session", r.session != nil),
		logging.Duration("duration", time.Since(started)),
	)
	return dest, nil
}

// Destination returns where Render publishes the video for audio and video.
func (r *Renderer) Destination(audio, video string) string {
	return filepath.Join(r.cfg.OutputDir, "videos", fmt.Sprintf("%s_%s_generated.mp4", stem(video), stem(audio)))
}

// InferMode picks the run_joygen.sh subcommand for a model path.
func InferMode(modelPath string) string {
	if strings.Contains(modelPath, "pretrained_models") {
		return "infer"
	}
	return "infer_manual"
}

func (r *Renderer) renderScript(ctx context.Context, req RenderRequest, video, audio string, onLine func(string)) (string, error) {
	gpu := req.GPU
	if gpu == "" {
		gpu = r.cfg.GPU
	}
	resultDir := filepath.Join(r.cfg.Dir, "results", stem(video)+"_"+stem(audio), "talk")
	outcome, err := r.runner.Run(ctx, extjob.Descriptor{
		Name:   "joygen",
		Binary: r.cfg.Bash,
		Args: []string{
			ScriptName, InferMode(req.ModelPath),
			"--audio_path", audio,
			"--video_path", video,
			"--gpu", gpu,
		},
		Dir:     r.cfg.Dir,
		Timeout: r.cfg.Timeout,
		Locate:  extjob.NewestMatch(resultDir, "*.mp4", false),
	}, onLine)
	if err != nil {
		return "", classify(err)
	}
	return outcome.Artifact, nil
}

func (r *Renderer) renderInSession(ctx context.Context, s ChainRunner, video, audio, tag string, onLine func(string)) (string, error) {
	videoName, audioName, err := r.stageInputs(video, audio)
	if err != nil {
		return "", err
	}
	resultName := stem(videoName) + "_" + stem(audioName)
	if tag != "" {
		resultName += "_tid" + tag
	}
	chain := InferenceChain(videoName, audioName, "results/"+resultName)
	chain.Locate = extjob.NewestMatch(filepath.Join(r.cfg.HostDir, "results", resultName, "talk"), "*.mp4", true)
	outcome, err := s.Run(ctx, chain, r.cfg.Timeout, onLine)
	if err != nil {
		return "", classify(err)
	}
	return outcome.Artifact, nil
}

// stageInputs copies the inputs into the mounted audio/ and video/
// directories and returns their base names.
func (r *Renderer) stageInputs(video, audio string) (string, string, error) {
	stage := func(src, sub string) (string, error) {
		name := filepath.Base(src)
		dst := filepath.Join(r.cfg.HostDir, sub, name)
		if sameFile(src, dst) {
			return name, nil
		}
		if err := fileutil.PublishFile(src, dst); err != nil {
			return "", services.Wrap(services.ErrRender, "render", "stage input", dst, err)
		}
		return name, nil
	}
	videoName, err := stage(video, "video")
	if err != nil {
		return "", "", err
	}
	audioName, err := stage(audio, "audio")
	if err != nil {
		return "", "", err
	}
	return videoName, audioName, nil
}

// InferenceChain builds the session command chain for one render. Paths are
// relative to the container work dir.
func InferenceChain(videoName, audioName, resultDir string) session.Chain {
	audioStem := stem(audioName)
	rawAudio := "audio/" + audioName
	wav := "audio/" + audioStem + ".wav"
	if strings.EqualFold(filepath.Ext(audioName), ".wav") {
		// ffmpeg cannot convert a file onto itself.
		wav = "audio/" + audioStem + "_16k.wav"
	}
	videoPath := "video/" + videoName
	return session.Chain{Steps: []session.Step{
		{
			Name: "extract audio",
			Command: fmt.Sprintf("ffmpeg -i %s -vn -acodec pcm_s16le -ar 16000 -ac 1 -y %s -loglevel error",
				shellQuote(rawAudio), shellQuote(wav)),
		},
		{
			Name: "audio2motion",
			Command: fmt.Sprintf("python inference_audio2motion.py"+
				" --a2m_ckpt ./pretrained_models/audio2motion/240210_real3dportrait_orig/audio2secc_vae"+
				" --hubert_path ./pretrained_models/audio2motion/hubert"+
				" --drv_aud %s --seed 0 --result_dir %s --exp_file %s",
				shellQuote(wav), shellQuote(resultDir+"/a2m"), shellQuote(audioStem+".npy")),
		},
		{
			Name: "edit expression",
			Command: fmt.Sprintf("python -u inference_edit_expression.py"+
				" --name face_recon_feat0.2_augment --epoch=20 --use_opengl False"+
				" --checkpoints_dir ./pretrained_models --bfm_folder ./pretrained_models/BFM"+
				" --infer_video_path %s --infer_exp_coeff_path %s --infer_result_dir %s",
				shellQuote(videoPath), shellQuote(resultDir+"/a2m/"+audioStem+".npy"), shellQuote(resultDir+"/edit_expression")),
		},
		{
			Name: "joygen",
			Command: fmt.Sprintf("python -u inference_joygen.py"+
				" --unet_model_path pretrained_models/joygen --vae_model_path pretrained_models/sd-vae-ft-mse"+
				" --intermediate_dir %s --audio_path %s --video_path %s --enable_pose_driven"+
				" --result_dir %s --img_size 256 --gpu_id 0",
				shellQuote(resultDir+"/edit_expression"), shellQuote(wav), shellQuote(videoPath), shellQuote(resultDir+"/talk")),
		},
	}}
}

func resolveInputs(audio, video string) (string, string, error) {
	check := func(label, path string) (string, error) {
		path = strings.TrimSpace(path)
		if path == "" {
			return "", services.Wrap(services.ErrValidation, "render", "resolve inputs", label+" path required", nil)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "render", "resolve inputs", path, err)
		}
		if ok, _ := fileutil.NonEmpty(abs); !ok {
			return "", services.Wrap(services.ErrNotFound, "render", "resolve inputs", label+" "+abs+" does not exist", nil)
		}
		return abs, nil
	}
	a, err := check("audio", audio)
	if err != nil {
		return "", "", err
	}
	v, err := check("video", video)
	if err != nil {
		return "", "", err
	}
	return a, v, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// shellQuote leaves plain tokens untouched and single-quotes the rest.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '_' || r == '-' || r == '=' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
