package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCollector(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateClustering(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCollector() error {
	if c.Collector.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/crest/config.toml"
		}
		return fmt.Errorf("collector.base_url is required. Edit %s (create with 'crest config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateScoring() error {
	weights := []struct {
		name  string
		value float64
	}{
		{"scoring.weight_viral_lift", c.Scoring.WeightViralLift},
		{"scoring.weight_velocity", c.Scoring.WeightVelocity},
		{"scoring.weight_retention", c.Scoring.WeightRetention},
		{"scoring.weight_cascade", c.Scoring.WeightCascade},
		{"scoring.weight_stability", c.Scoring.WeightStability},
		{"scoring.weight_saturation", c.Scoring.WeightSaturation},
	}
	for _, w := range weights {
		if w.value < 0 {
			return fmt.Errorf("%s must not be negative", w.name)
		}
	}
	positive := c.Scoring.WeightViralLift + c.Scoring.WeightVelocity +
		c.Scoring.WeightRetention + c.Scoring.WeightCascade + c.Scoring.WeightStability
	if positive <= 0 {
		return errors.New("scoring weights must include at least one positive layer")
	}
	if c.Scoring.LiftSaturation <= 1 {
		return errors.New("scoring.lift_saturation must be greater than 1")
	}
	if c.Scoring.VelocityScale <= 0 {
		return errors.New("scoring.velocity_scale must be positive")
	}
	if c.Scoring.RetentionCap <= 0 {
		return errors.New("scoring.retention_cap must be positive")
	}
	if c.Scoring.CascadeKnee < 1 {
		return errors.New("scoring.cascade_knee must be at least 1")
	}
	if c.Scoring.SaturationCascade < 1 {
		return errors.New("scoring.saturation_cascade must be at least 1")
	}
	if c.Scoring.SaturationViews < 1 {
		return errors.New("scoring.saturation_views must be at least 1")
	}
	if c.Scoring.ExpectedGrowthRate < 0 {
		return errors.New("scoring.expected_growth_rate must not be negative")
	}
	if c.Scoring.ExpectedDecayHours <= 0 {
		return errors.New("scoring.expected_decay_hours must be positive")
	}
	return nil
}

func (c *Config) validateClustering() error {
	if c.Clustering.SimilarityThreshold <= 0 || c.Clustering.SimilarityThreshold > 1 {
		return errors.New("clustering.similarity_threshold must be between 0 and 1")
	}
	if c.Clustering.EmbeddingDim < 1 {
		return errors.New("clustering.embedding_dim must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
