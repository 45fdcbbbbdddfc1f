package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCollector()
	c.normalizeEmbedding()
	c.normalizeRescan()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeCollector() {
	c.Collector.BaseURL = strings.TrimRight(strings.TrimSpace(c.Collector.BaseURL), "/")
	c.Collector.APIToken = strings.TrimSpace(c.Collector.APIToken)
	if c.Collector.APIToken == "" {
		c.Collector.APIToken = strings.TrimSpace(os.Getenv("CREST_COLLECTOR_TOKEN"))
	}
	if c.Collector.TimeoutSeconds <= 0 {
		c.Collector.TimeoutSeconds = defaultCollectorTimeoutSeconds
	}
	if c.Collector.DiscoverLimit <= 0 {
		c.Collector.DiscoverLimit = defaultDiscoverLimit
	}
	if c.Collector.DeepLimit <= 0 {
		c.Collector.DeepLimit = defaultDeepLimit
	}
	if c.Collector.MinViews < 0 {
		c.Collector.MinViews = 0
	}
}

func (c *Config) normalizeEmbedding() {
	c.Embedding.BaseURL = strings.TrimRight(strings.TrimSpace(c.Embedding.BaseURL), "/")
	if c.Embedding.TimeoutSeconds <= 0 {
		c.Embedding.TimeoutSeconds = defaultEmbeddingTimeoutSeconds
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.Enabled = false
	}
}

func (c *Config) normalizeRescan() {
	if c.Rescan.DelayMinutes <= 0 {
		c.Rescan.DelayMinutes = defaultRescanDelayMinutes
	}
	if c.Rescan.CollectorTimeoutSeconds <= 0 {
		c.Rescan.CollectorTimeoutSeconds = defaultRescanTimeoutSeconds
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
	if c.Notifications.HighScoreThreshold < 0 {
		c.Notifications.HighScoreThreshold = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
