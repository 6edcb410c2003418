package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.loadEnvFile(); err != nil {
		return err
	}
	c.applyEnvOverrides()
	c.normalizeRecognition()
	c.normalizeDialogue()
	if err := c.normalizeSynthesis(); err != nil {
		return err
	}
	if err := c.normalizeRender(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	derived := []struct {
		key   string
		value *string
		def   string
	}{
		{"paths.input_dir", &c.Paths.InputDir, "input"},
		{"paths.output_dir", &c.Paths.OutputDir, "output"},
		{"paths.log_dir", &c.Paths.LogDir, "logs"},
		{"paths.state_dir", &c.Paths.StateDir, "state"},
		{"paths.personas_file", &c.Paths.PersonasFile, "personas.yaml"},
	}
	for _, d := range derived {
		if strings.TrimSpace(*d.value) == "" {
			*d.value = filepath.Join(c.Paths.DataDir, d.def)
		}
		if *d.value, err = expandPath(strings.TrimSpace(*d.value)); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}
	if c.Paths.EnvFile, err = expandPath(strings.TrimSpace(c.Paths.EnvFile)); err != nil {
		return fmt.Errorf("paths.env_file: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

// loadEnvFile reads KEY=VALUE secrets into the process environment. Variables
// already present in the environment win over the file.
func (c *Config) loadEnvFile() error {
	if c.Paths.EnvFile == "" {
		return nil
	}
	if _, err := os.Stat(c.Paths.EnvFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("paths.env_file: %w", err)
	}
	if err := godotenv.Load(c.Paths.EnvFile); err != nil {
		return fmt.Errorf("load env file %s: %w", c.Paths.EnvFile, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if value, ok := lookupEnv("DEEPSEEK_API_KEY"); ok {
		c.Dialogue.APIKey = value
	}
	if value, ok := lookupEnv("TALKREEL_API_TOKEN"); ok {
		c.Paths.APIToken = value
	}
	if value, ok := lookupEnv("TALKREEL_NTFY_TOPIC"); ok {
		c.Notifications.NtfyTopic = value
	}
	c.Dialogue.APIKey = strings.TrimSpace(c.Dialogue.APIKey)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (c *Config) normalizeRecognition() {
	c.Recognition.Language = strings.TrimSpace(c.Recognition.Language)
	if c.Recognition.Language == "" {
		c.Recognition.Language = defaultRecognitionLanguage
	}
	c.Recognition.Model = strings.TrimSpace(c.Recognition.Model)
	if c.Recognition.Model == "" {
		c.Recognition.Model = defaultRecognitionModel
	}
}

func (c *Config) normalizeDialogue() {
	c.Dialogue.BaseURL = strings.TrimRight(strings.TrimSpace(c.Dialogue.BaseURL), "/")
	if c.Dialogue.BaseURL == "" {
		c.Dialogue.BaseURL = defaultDialogueBaseURL
	}
	c.Dialogue.Model = strings.TrimSpace(c.Dialogue.Model)
	if c.Dialogue.Model == "" {
		c.Dialogue.Model = defaultDialogueModel
	}
	if strings.TrimSpace(c.Dialogue.FallbackReply) == "" {
		c.Dialogue.FallbackReply = defaultFallbackReply
	}
	if strings.TrimSpace(c.Dialogue.EmptyInputReply) == "" {
		c.Dialogue.EmptyInputReply = defaultEmptyInputReply
	}
	if c.Dialogue.RetryDelaySeconds < 0 {
		c.Dialogue.RetryDelaySeconds = 0
	}
}

func (c *Config) normalizeSynthesis() error {
	var err error
	c.Synthesis.BaseURL = strings.TrimRight(strings.TrimSpace(c.Synthesis.BaseURL), "/")
	if c.Synthesis.BaseURL == "" {
		c.Synthesis.BaseURL = defaultSynthesisBaseURL
	}
	if strings.TrimSpace(c.Synthesis.DefaultPromptText) == "" {
		c.Synthesis.DefaultPromptText = defaultPromptText
	}
	if strings.TrimSpace(c.Synthesis.SplitMethod) == "" {
		c.Synthesis.SplitMethod = defaultSplitMethod
	}
	if c.Synthesis.DefaultRefAudio, err = expandPath(strings.TrimSpace(c.Synthesis.DefaultRefAudio)); err != nil {
		return fmt.Errorf("synthesis.default_ref_audio: %w", err)
	}
	if c.Synthesis.ServiceDir, err = expandPath(strings.TrimSpace(c.Synthesis.ServiceDir)); err != nil {
		return fmt.Errorf("synthesis.service_dir: %w", err)
	}
	if strings.TrimSpace(c.Synthesis.Python) == "" {
		c.Synthesis.Python = defaultPython
	}
	return nil
}

func (c *Config) normalizeRender() error {
	var err error
	c.Render.Mode = strings.ToLower(strings.TrimSpace(c.Render.Mode))
	if c.Render.Mode == "" {
		c.Render.Mode = RenderModeScript
	}
	if strings.TrimSpace(c.Render.JoyGenDir) == "" {
		c.Render.JoyGenDir = defaultJoyGenDir
	}
	if c.Render.JoyGenDir, err = expandPath(strings.TrimSpace(c.Render.JoyGenDir)); err != nil {
		return fmt.Errorf("render.joygen_dir: %w", err)
	}
	if c.Render.RefVideo, err = expandPath(strings.TrimSpace(c.Render.RefVideo)); err != nil {
		return fmt.Errorf("render.ref_video: %w", err)
	}
	c.Render.ModelPath = strings.TrimSpace(c.Render.ModelPath)
	c.Render.GPU = strings.TrimSpace(c.Render.GPU)
	if c.Render.GPU == "" {
		c.Render.GPU = defaultGPU
	}
	if strings.TrimSpace(c.Session.HostDir) == "" {
		c.Session.HostDir = c.Render.JoyGenDir
	}
	if c.Session.HostDir, err = expandPath(strings.TrimSpace(c.Session.HostDir)); err != nil {
		return fmt.Errorf("session.host_dir: %w", err)
	}
	if strings.TrimSpace(c.Session.Docker) == "" {
		c.Session.Docker = defaultDocker
	}
	if strings.TrimSpace(c.Session.NamePrefix) == "" {
		c.Session.NamePrefix = defaultSessionNamePrefix
	}
	if strings.TrimSpace(c.Training.ConfigFile) == "" {
		c.Training.ConfigFile = defaultTrainingConfigFile
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "console", "json":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
