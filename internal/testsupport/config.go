// Package testsupport provides shared helpers for package tests: temp-dir
// configs, pre-opened stores, and observation fixtures.
package testsupport

import (
	"path/filepath"
	"testing"

	"crest/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Collector.BaseURL = "http://collector.test"
	cfgVal.Collector.APIToken = "test-token"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithCollectorBase overrides the collector endpoint on the test config.
func WithCollectorBase(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Collector.BaseURL = baseURL
	}
}

// WithEmbeddingBase enables the embedding service at the given endpoint.
func WithEmbeddingBase(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Embedding.Enabled = true
		b.cfg.Embedding.BaseURL = baseURL
	}
}

// WithRescanDelayMinutes overrides the point B delay on the test config.
func WithRescanDelayMinutes(minutes int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Rescan.DelayMinutes = minutes
	}
}
