// Package pipeline orchestrates the scan flows: quick keyword scans ranked
// by a lightweight engagement score, and deep scans that persist trend
// records, cluster covers, and enroll the batch for temporal re-evaluation.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"crest/internal/cascade"
	"crest/internal/cluster"
	"crest/internal/collector"
	"crest/internal/config"
	"crest/internal/embedding"
	"crest/internal/ledger"
	"crest/internal/logging"
	"crest/internal/observation"
	"crest/internal/rescan"
	"crest/internal/services"
	"crest/internal/uts"
)

// Processor wires the scan components. All fields are injected; it keeps no
// state of its own between calls.
type Processor struct {
	cfg        *config.Config
	logger     *slog.Logger
	collector  collector.Service
	vectorizer embedding.Vectorizer
	scorer     *uts.Scorer
	assigner   *cluster.Assigner
	records    *ledger.Store
	scheduler  *rescan.Scheduler
}

// New builds a processor. vectorizer may be nil when the embedding service is
// disabled; deep scans then skip clustering. scheduler may be nil for
// one-shot CLI use; deep scans then skip rescan enrollment.
func New(cfg *config.Config, logger *slog.Logger, svc collector.Service, vectorizer embedding.Vectorizer, records *ledger.Store, scheduler *rescan.Scheduler) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		collector:  svc,
		vectorizer: vectorizer,
		scorer:     uts.NewScorer(cfg.Scoring),
		assigner:   cluster.NewAssigner(cfg.Clustering.SimilarityThreshold),
		records:    records,
		scheduler:  scheduler,
	}
}

// LightResult is one quick-scan hit. Nothing about it is persisted.
type LightResult struct {
	Video observation.Video
	Score float64
}

// QuickScan runs a discovery search and ranks the hits by engagement alone.
// It writes nothing to the ledger.
func (p *Processor) QuickScan(ctx context.Context, owner string, keywords []string) ([]LightResult, error) {
	logger := logging.WithContext(services.WithOwner(ctx, owner), p.logger)

	raws, err := p.collector.Discover(ctx, keywords, p.cfg.Collector.DiscoverLimit)
	if err != nil {
		return nil, err
	}

	videos := p.normalizeBatch(logger, raws)
	results := make([]LightResult, 0, len(videos))
	for _, video := range videos {
		results = append(results, LightResult{
			Video: video,
			Score: uts.LightScore(video.Observation),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	logger.Info("quick scan complete",
		logging.Int("raw", len(raws)),
		logging.Int("ranked", len(results)))
	return results, nil
}

// ClusterSummary describes one visual cluster produced by a deep scan.
type ClusterSummary struct {
	ClusterID     int
	Size          int
	TopPlatformID string
	TopScore      float64
	MeanScore     float64
}

// DeepScanResult is what a deep scan hands back to the caller: the persisted
// records in score order, the cluster summaries, and the rescan batch id when
// one was enrolled.
type DeepScanResult struct {
	Records  []*ledger.Record
	Clusters []ClusterSummary
	BatchID  string
}

// DeepScan discovers videos for the keywords, scores them with point A data,
// persists them as trend records, clusters their covers, and schedules the
// point B rescan. Per-record failures are dropped and logged; they never
// abort the batch.
func (p *Processor) DeepScan(ctx context.Context, owner string, keywords []string) (*DeepScanResult, error) {
	ctx = services.WithOwner(ctx, owner)
	logger := logging.WithContext(ctx, p.logger)

	raws, err := p.collector.Discover(ctx, keywords, p.cfg.Collector.DeepLimit)
	if err != nil {
		return nil, err
	}
	videos, err := p.dropEnrolled(ctx, logger, owner, p.normalizeBatch(logger, raws))
	if err != nil {
		return nil, err
	}

	// Cascade and cluster grouping need the whole batch materialized, so
	// everything below works on the filtered slice at once.
	counts := cascade.Counts(videos)

	records := make([]*ledger.Record, 0, len(videos))
	kept := make([]observation.Video, 0, len(videos))
	for i, video := range videos {
		breakdown, err := p.scorer.Score(video.Observation, nil, counts[i])
		if err != nil {
			if errors.Is(err, uts.ErrInvalidObservation) {
				logger.Warn("dropping unscorable video",
					logging.String(logging.FieldPlatformID, video.PlatformID))
				continue
			}
			return nil, err
		}
		records = append(records, ledger.NewRecord(owner, video, counts[i], breakdown))
		kept = append(kept, video)
	}

	assignment := p.clusterCovers(ctx, logger, kept, records)

	for _, record := range records {
		if err := p.records.Upsert(ctx, record); err != nil {
			return nil, err
		}
	}

	batchID := ""
	if p.scheduler != nil && len(records) > 0 {
		urls := make([]string, 0, len(records))
		for _, record := range records {
			urls = append(urls, record.URL)
		}
		batch, err := p.scheduler.Schedule(ctx, owner, urls)
		if err != nil {
			// The records are persisted and scorable without point B; a
			// scheduling failure downgrades the scan, not fails it.
			logger.Error("failed to schedule rescan batch", logging.Error(err))
		} else if batch != nil {
			batchID = batch.BatchID
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UTSScore > records[j].UTSScore
	})

	result := &DeepScanResult{
		Records:  records,
		Clusters: summarizeClusters(assignment, records),
		BatchID:  batchID,
	}
	logger.Info("deep scan complete",
		logging.Int("raw", len(raws)),
		logging.Int("records", len(records)),
		logging.Int("clusters", len(result.Clusters)),
		logging.String(logging.FieldBatchID, batchID))
	return result, nil
}

// clusterCovers fetches embeddings and writes cluster ids onto the records.
// Any embedding failure leaves the whole batch unclustered rather than
// failing the scan.
func (p *Processor) clusterCovers(ctx context.Context, logger *slog.Logger, videos []observation.Video, records []*ledger.Record) cluster.Assignment {
	if p.vectorizer == nil || len(videos) == 0 {
		return cluster.Assignment{}
	}

	covers := make([]string, len(videos))
	for i, video := range videos {
		covers[i] = video.CoverURL
	}
	embeddings, err := p.vectorizer.VectorizeBatch(ctx, covers)
	if err != nil {
		logger.Warn("skipping clustering for batch", logging.Error(err))
		return cluster.Assignment{}
	}

	assignment := p.assigner.Assign(embeddings)
	for i, id := range assignment.ClusterIDs {
		if id == cluster.Unclustered {
			continue
		}
		clusterID := id
		records[i].ClusterID = &clusterID
	}
	return assignment
}

func summarizeClusters(assignment cluster.Assignment, records []*ledger.Record) []ClusterSummary {
	if assignment.Clusters() == 0 {
		return nil
	}
	summaries := make([]ClusterSummary, assignment.Clusters())
	for id := range summaries {
		summaries[id] = ClusterSummary{ClusterID: id, Size: assignment.Sizes[id], TopScore: -1}
	}
	// records are already sorted by score, so the first member seen per
	// cluster is its representative.
	for _, record := range records {
		if record.ClusterID == nil {
			continue
		}
		summary := &summaries[*record.ClusterID]
		if summary.TopPlatformID == "" {
			summary.TopPlatformID = record.PlatformID
			summary.TopScore = record.UTSScore
		}
		summary.MeanScore += record.UTSScore
	}
	for id := range summaries {
		if size := summaries[id].Size; size > 0 {
			summaries[id].MeanScore /= float64(size)
		}
	}
	return summaries
}

// normalizeBatch converts raw records, dropping malformed ones with a log
// line and filtering out videos below the configured view floor.
func (p *Processor) normalizeBatch(logger *slog.Logger, raws []observation.RawRecord) []observation.Video {
	capturedAt := time.Now().UTC()
	videos := make([]observation.Video, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		video, err := observation.Normalize(raw, capturedAt)
		if err != nil {
			logger.Warn("dropping malformed record", logging.Error(err))
			continue
		}
		if video.Views < p.cfg.Collector.MinViews {
			continue
		}
		if _, ok := seen[video.PlatformID]; ok {
			continue
		}
		seen[video.PlatformID] = struct{}{}
		videos = append(videos, video)
	}
	return videos
}

// dropEnrolled filters out videos whose ledger record is already enrolled in
// an unfired rescan batch. Touching those would overwrite the point A baseline
// mid-lifecycle; they surface through Results until their batch settles.
func (p *Processor) dropEnrolled(ctx context.Context, logger *slog.Logger, owner string, videos []observation.Video) ([]observation.Video, error) {
	kept := videos[:0]
	for _, video := range videos {
		existing, err := p.records.GetByPlatformID(ctx, owner, video.PlatformID)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Pending {
			logger.Info("skipping video enrolled in an open rescan batch",
				logging.String(logging.FieldPlatformID, video.PlatformID))
			continue
		}
		kept = append(kept, video)
	}
	return kept, nil
}

// Results drains the owner's buffer. Reconciled records are atomically
// deleted on this read; one that a concurrent reader drained first is left
// out so reconciled data is delivered exactly once. Saved records are exempt
// and stay put.
func (p *Processor) Results(ctx context.Context, owner string) ([]*ledger.Record, error) {
	records, err := p.records.SearchBuffer(ctx, owner)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(services.WithOwner(ctx, owner), p.logger)
	out := records[:0]
	for _, record := range records {
		if !record.Reconciled() {
			out = append(out, record)
			continue
		}
		consumed, err := p.records.ConsumeReconciled(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		if !consumed {
			// Another reader drained this record between the query and the
			// delete; it already delivered the data once.
			logger.Debug("record consumed concurrently",
				logging.String(logging.FieldPlatformID, record.PlatformID))
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// Save promotes a buffered record into the persistent collection, exempting
// it from read-once deletion.
func (p *Processor) Save(ctx context.Context, owner, platformID string) (*ledger.Record, error) {
	record, err := p.records.GetByPlatformID(ctx, owner, platformID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "save", "no record for "+platformID, nil)
	}
	if err := p.records.MarkSaved(ctx, record.ID); err != nil {
		return nil, err
	}
	record.Saved = true
	return record, nil
}

// Saved lists the owner's persistent collection.
func (p *Processor) Saved(ctx context.Context, owner string) ([]*ledger.Record, error) {
	return p.records.ListSaved(ctx, owner)
}

// Clear drops the owner's unsaved buffer and returns the removed count.
func (p *Processor) Clear(ctx context.Context, owner string) (int64, error) {
	return p.records.ClearBuffer(ctx, owner)
}
