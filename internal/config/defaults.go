package config

const (
	RenderModeScript  = "script"
	RenderModeSession = "session"
)

const (
	defaultDataDir              = "~/.local/share/talkreel"
	defaultAPIBind              = "127.0.0.1:7860"
	defaultEnvFile              = ".env"
	defaultLogCapacity          = 50
	defaultTTLMinutes           = 60
	defaultRegistryCapacity     = 1000
	defaultSweepIntervalSeconds = 60
	defaultArchiveRetention     = 30
	defaultRecognitionLanguage  = "zh-CN"
	defaultRecognitionModel     = "small"
	defaultRecognitionTimeout   = 300
	defaultRecognitionMinBytes  = 1000
	defaultDialogueBaseURL      = "https://api.deepseek.com"
	defaultDialogueModel        = "deepseek-chat"
	defaultDialogueTimeout      = 30
	defaultDialogueRetries      = 3
	defaultDialogueRetryDelay   = 2
	defaultFallbackReply        = "抱歉，我现在无法回答，请稍后再试。"
	defaultEmptyInputReply      = "请问有什么可以帮助您的？"
	defaultSynthesisBaseURL     = "http://127.0.0.1:9880"
	defaultSynthesisTimeout     = 60
	defaultSynthesisLang        = "zh"
	defaultSplitMethod          = "cut5"
	defaultPromptText           = "你好"
	defaultSynthesisMinBytes    = 1024
	defaultSynthesisServiceDir  = "./GPT-SoVITS"
	defaultPython               = "python"
	defaultSynthesisStartup     = 60
	defaultJoyGenDir            = "./JoyGen"
	defaultGPU                  = "GPU0"
	defaultRenderTimeout        = 1800
	defaultSessionImage         = "joygen:v1.0"
	defaultDocker               = "docker"
	defaultSessionNamePrefix    = "joygen_worker"
	defaultSessionMaxJobs       = 2
	defaultSessionReadyGrace    = 10
	defaultSessionStepTimeout   = 1800
	defaultTrainingMaxSteps     = 5000
	defaultTrainingBatchSize    = 2
	defaultTrainingTimeout      = 86400
	defaultTrainingConfigFile   = "config/joygen.yaml"
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults. Directory
// fields left empty are derived from data_dir during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			APIBind: defaultAPIBind,
			EnvFile: defaultEnvFile,
		},
		Registry: Registry{
			LogCapacity:          defaultLogCapacity,
			TTLMinutes:           defaultTTLMinutes,
			Capacity:             defaultRegistryCapacity,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
			ArchiveRetentionDays: defaultArchiveRetention,
		},
		Recognition: Recognition{
			Language:       defaultRecognitionLanguage,
			Model:          defaultRecognitionModel,
			TimeoutSeconds: defaultRecognitionTimeout,
			MinAudioBytes:  defaultRecognitionMinBytes,
		},
		Dialogue: Dialogue{
			BaseURL:           defaultDialogueBaseURL,
			Model:             defaultDialogueModel,
			TimeoutSeconds:    defaultDialogueTimeout,
			Retries:           defaultDialogueRetries,
			RetryDelaySeconds: defaultDialogueRetryDelay,
			FallbackReply:     defaultFallbackReply,
			EmptyInputReply:   defaultEmptyInputReply,
			Temperature:       1.0,
			MaxTokens:         100,
			TopP:              0.95,
			FrequencyPenalty:  0.5,
			PresencePenalty:   0.3,
		},
		Synthesis: Synthesis{
			BaseURL:               defaultSynthesisBaseURL,
			TimeoutSeconds:        defaultSynthesisTimeout,
			TextLang:              defaultSynthesisLang,
			PromptLang:            defaultSynthesisLang,
			SplitMethod:           defaultSplitMethod,
			DefaultPromptText:     defaultPromptText,
			MinAudioBytes:         defaultSynthesisMinBytes,
			ServiceDir:            defaultSynthesisServiceDir,
			Python:                defaultPython,
			StartupTimeoutSeconds: defaultSynthesisStartup,
		},
		Render: Render{
			Mode:           RenderModeScript,
			JoyGenDir:      defaultJoyGenDir,
			GPU:            defaultGPU,
			TimeoutSeconds: defaultRenderTimeout,
		},
		Session: Session{
			Image:              defaultSessionImage,
			Docker:             defaultDocker,
			NamePrefix:         defaultSessionNamePrefix,
			MaxJobs:            defaultSessionMaxJobs,
			ReadyGraceSeconds:  defaultSessionReadyGrace,
			StepTimeoutSeconds: defaultSessionStepTimeout,
		},
		Training: Training{
			MaxSteps:       defaultTrainingMaxSteps,
			BatchSize:      defaultTrainingBatchSize,
			TimeoutSeconds: defaultTrainingTimeout,
			ConfigFile:     defaultTrainingConfigFile,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			TaskCompleted:  true,
			TaskFailed:     true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
