package config

const (
	defaultDataDir           = "~/.local/share/genflow"
	defaultLogDir            = "~/.local/share/genflow/logs"
	defaultLogRetentionDays  = 30
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultAPIBind           = "127.0.0.1:7591"
	defaultConcurrencyLimit  = 3
	defaultHistoryLimit      = 100
	defaultJobTimeoutSeconds = 600
	defaultPersistLimit      = 1000
	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "google/gemini-3-flash-preview"
	defaultLLMReferer        = "https://github.com/genflow/genflow"
	defaultLLMTitle          = "genflow"
	defaultLLMTimeoutSeconds = 120
	defaultLLMMaxRetries     = 3
	defaultMockStepMillis    = 250
	defaultMockCostText      = 0.002
	defaultMockCostImage     = 0.04
	defaultMockCostVideo     = 0.5
	defaultRedisAddr         = "127.0.0.1:6379"
	defaultRedisChannel      = "genflow:records"
	defaultServiceName       = "genflow"
	defaultNtfyTimeout       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Engine: Engine{
			ConcurrencyLimit:  defaultConcurrencyLimit,
			HistoryLimit:      defaultHistoryLimit,
			JobTimeoutSeconds: defaultJobTimeoutSeconds,
		},
		History: History{
			Enabled:      true,
			PersistLimit: defaultPersistLimit,
		},
		Providers: Providers{
			LLM: LLM{
				BaseURL:        defaultLLMBaseURL,
				Model:          defaultLLMModel,
				Referer:        defaultLLMReferer,
				Title:          defaultLLMTitle,
				TimeoutSeconds: defaultLLMTimeoutSeconds,
				MaxRetries:     defaultLLMMaxRetries,
			},
			Mock: Mock{
				Enabled:      true,
				StepMillis:   defaultMockStepMillis,
				CostPerText:  defaultMockCostText,
				CostPerImage: defaultMockCostImage,
				CostPerVideo: defaultMockCostVideo,
			},
		},
		Events: Events{
			RedisAddr:    defaultRedisAddr,
			RedisChannel: defaultRedisChannel,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
		},
		Tracing: Tracing{
			ServiceName: defaultServiceName,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
