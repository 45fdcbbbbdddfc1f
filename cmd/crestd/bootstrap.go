package main

import (
	"fmt"
	"log/slog"

	"crest/internal/collector"
	"crest/internal/config"
	"crest/internal/daemon"
	"crest/internal/embedding"
	"crest/internal/ledger"
	"crest/internal/pipeline"
	"crest/internal/rescan"
	"crest/internal/uts"
)

// buildDaemon opens the stores and assembles the full processing stack.
func buildDaemon(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	records, err := ledger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open trend ledger: %w", err)
	}
	batches, err := rescan.OpenStore(cfg)
	if err != nil {
		records.Close()
		return nil, fmt.Errorf("open rescan store: %w", err)
	}

	svc, err := collector.New(cfg.Collector)
	if err != nil {
		records.Close()
		batches.Close()
		return nil, fmt.Errorf("create collector client: %w", err)
	}

	var vectorizer embedding.Vectorizer
	if cfg.Embedding.Enabled {
		client, err := embedding.New(cfg.Embedding)
		if err != nil {
			records.Close()
			batches.Close()
			return nil, fmt.Errorf("create embedding client: %w", err)
		}
		vectorizer = client
	}

	scorer := uts.NewScorer(cfg.Scoring)
	scheduler := rescan.NewScheduler(cfg, batches, records, svc, scorer, logger)
	processor := pipeline.New(cfg, logger, svc, vectorizer, records, scheduler)

	return daemon.New(cfg, records, batches, scheduler, processor, logger)
}
