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

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Collector contains configuration for the engagement acquisition service.
type Collector struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	DiscoverLimit  int    `toml:"discover_limit"`
	DeepLimit      int    `toml:"deep_limit"`
	MinViews       int64  `toml:"min_views"`
}

// Embedding contains configuration for the visual embedding sidecar.
type Embedding struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Scoring contains the UTS layer weights and saturation curve knobs.
//
// Weights are reference values meant to be tuned empirically; the positive
// layers sum to a 100-point scale and the saturation weight scales the
// subtracted penalty.
type Scoring struct {
	WeightViralLift  float64 `toml:"weight_viral_lift"`
	WeightVelocity   float64 `toml:"weight_velocity"`
	WeightRetention  float64 `toml:"weight_retention"`
	WeightCascade    float64 `toml:"weight_cascade"`
	WeightStability  float64 `toml:"weight_stability"`
	WeightSaturation float64 `toml:"weight_saturation"`

	// LiftSaturation is the views-to-followers multiple that maxes L1.
	LiftSaturation float64 `toml:"lift_saturation"`
	// VelocityScale is the views-per-hour delta that maxes L2.
	VelocityScale float64 `toml:"velocity_scale"`
	// RetentionCap is the engagement percentage that maxes L3.
	RetentionCap float64 `toml:"retention_cap"`
	// CascadeKnee is the co-occurring video count past which L4 flattens.
	CascadeKnee int `toml:"cascade_knee"`
	// SaturationCascade and SaturationViews are the crowding thresholds
	// feeding the L5 penalty.
	SaturationCascade int   `toml:"saturation_cascade"`
	SaturationViews   int64 `toml:"saturation_views"`
	// ExpectedGrowthRate and ExpectedDecayHours seed the L7 expected
	// growth curve (fraction of Point A views per hour, decay constant).
	ExpectedGrowthRate float64 `toml:"expected_growth_rate"`
	ExpectedDecayHours float64 `toml:"expected_decay_hours"`
}

// Clustering contains configuration for visual similarity grouping.
type Clustering struct {
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	EmbeddingDim        int     `toml:"embedding_dim"`
}

// Rescan contains configuration for delayed re-acquisition batches.
type Rescan struct {
	DelayMinutes            int `toml:"delay_minutes"`
	CollectorTimeoutSeconds int `toml:"collector_timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
// An empty topic disables notifications. HighScoreThreshold is the UTS score
// at or above which a reconciled record triggers its own push; zero disables
// per-record pushes.
type Notifications struct {
	NtfyTopic             string  `toml:"ntfy_topic"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	HighScoreThreshold    float64 `toml:"high_score_threshold"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Crest.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and the daemon API bind address
//   - Collector: acquisition service endpoint, limits, and view floor
//   - Embedding: visual embedding sidecar endpoint
//   - Scoring: UTS layer weights and saturation curves
//   - Clustering: cosine threshold and embedding dimensionality
//   - Rescan: Point B delay and per-batch collector timeout
//   - Notifications: ntfy topic for batch lifecycle pushes
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Collector     Collector     `toml:"collector"`
	Embedding     Embedding     `toml:"embedding"`
	Scoring       Scoring       `toml:"scoring"`
	Clustering    Clustering    `toml:"clustering"`
	Rescan        Rescan        `toml:"rescan"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/crest/config.toml")
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

	projectPath, err := filepath.Abs("crest.toml")
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
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CollectorTimeout returns the bounded timeout for discover calls.
func (c *Config) CollectorTimeout() time.Duration {
	return time.Duration(c.Collector.TimeoutSeconds) * time.Second
}

// RescanDelay returns how long after a deep scan the Point B pass runs.
func (c *Config) RescanDelay() time.Duration {
	return time.Duration(c.Rescan.DelayMinutes) * time.Minute
}

// RescanCollectorTimeout bounds the reacquire call of a fired batch.
func (c *Config) RescanCollectorTimeout() time.Duration {
	return time.Duration(c.Rescan.CollectorTimeoutSeconds) * time.Second
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

// CreateSample writes a sample configuration file to the given path.
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
