package config

const (
	defaultStateDir                = "~/.local/share/crest/state"
	defaultLogDir                  = "~/.local/share/crest/logs"
	defaultAPIBind                 = "127.0.0.1:7319"
	defaultCollectorTimeoutSeconds = 120
	defaultDiscoverLimit           = 20
	defaultDeepLimit               = 50
	defaultMinViews                = 5000
	defaultEmbeddingTimeoutSeconds = 30
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultRescanDelayMinutes      = 120
	defaultRescanTimeoutSeconds    = 180
	defaultNtfyTimeoutSeconds      = 10
	defaultHighScoreThreshold      = 90.0
	defaultSimilarityThreshold     = 0.85
	defaultEmbeddingDim            = 512
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Collector: Collector{
			TimeoutSeconds: defaultCollectorTimeoutSeconds,
			DiscoverLimit:  defaultDiscoverLimit,
			DeepLimit:      defaultDeepLimit,
			MinViews:       defaultMinViews,
		},
		Embedding: Embedding{
			Enabled:        false,
			TimeoutSeconds: defaultEmbeddingTimeoutSeconds,
		},
		Scoring: Scoring{
			WeightViralLift:    30,
			WeightVelocity:     20,
			WeightRetention:    20,
			WeightCascade:      15,
			WeightStability:    15,
			WeightSaturation:   20,
			LiftSaturation:     100,
			VelocityScale:      10000,
			RetentionCap:       20,
			CascadeKnee:        10,
			SaturationCascade:  25,
			SaturationViews:    5_000_000,
			ExpectedGrowthRate: 0.01,
			ExpectedDecayHours: 12,
		},
		Clustering: Clustering{
			SimilarityThreshold: defaultSimilarityThreshold,
			EmbeddingDim:        defaultEmbeddingDim,
		},
		Rescan: Rescan{
			DelayMinutes:            defaultRescanDelayMinutes,
			CollectorTimeoutSeconds: defaultRescanTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			HighScoreThreshold:    defaultHighScoreThreshold,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
