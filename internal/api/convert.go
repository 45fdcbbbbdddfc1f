// Package api defines the transport DTOs shared by the daemon's HTTP surface
// and the CLI, plus the converters from internal records.
package api

import (
	"crest/internal/ledger"
	"crest/internal/observation"
	"crest/internal/pipeline"
	"crest/internal/rescan"
)

// FromObservation converts a snapshot to its API representation.
func FromObservation(o observation.Observation) Snapshot {
	return Snapshot{
		CapturedAt: o.CapturedAt.UTC().Format(dateTimeFormat),
		Views:      o.Views,
		Likes:      o.Likes,
		Comments:   o.Comments,
		Shares:     o.Shares,
		Saves:      o.Saves,
		Followers:  o.AuthorFollowers,
	}
}

// FromRecord converts a ledger record to its API representation.
func FromRecord(record *ledger.Record) TrendRecord {
	if record == nil {
		return TrendRecord{}
	}

	dto := TrendRecord{
		ID:             record.ID,
		PlatformID:     record.PlatformID,
		URL:            record.URL,
		Description:    record.Description,
		AuthorUsername: record.AuthorUsername,
		CoverURL:       record.CoverURL,
		AudioTitle:     record.AudioTitle,
		Score:          record.UTSScore,
		Breakdown: Breakdown{
			ViralLift:  record.Breakdown.ViralLift,
			Velocity:   record.Breakdown.Velocity,
			Retention:  record.Breakdown.Retention,
			Cascade:    record.Breakdown.Cascade,
			Saturation: record.Breakdown.Saturation,
			Stability:  record.Breakdown.Stability,
		},
		CascadeCount: record.CascadeCount,
		ClusterID:    record.ClusterID,
		PointA:       FromObservation(record.PointA),
		Saved:        record.Saved,
		Pending:      record.Pending,
	}
	if record.PointB != nil {
		pointB := FromObservation(*record.PointB)
		dto.PointB = &pointB
	}
	if record.ReconciledAt != nil {
		dto.ReconciledAt = record.ReconciledAt.UTC().Format(dateTimeFormat)
	}
	if !record.CreatedAt.IsZero() {
		dto.CreatedAt = record.CreatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromRecords converts a slice of ledger records into API DTOs.
func FromRecords(records []*ledger.Record) []TrendRecord {
	if len(records) == 0 {
		return nil
	}
	out := make([]TrendRecord, 0, len(records))
	for _, record := range records {
		out = append(out, FromRecord(record))
	}
	return out
}

// FromQuickResults converts quick-scan hits into API DTOs.
func FromQuickResults(results []pipeline.LightResult) []QuickHit {
	if len(results) == 0 {
		return nil
	}
	out := make([]QuickHit, 0, len(results))
	for _, result := range results {
		out = append(out, QuickHit{
			PlatformID:     result.Video.PlatformID,
			URL:            result.Video.URL,
			Description:    result.Video.Description,
			AuthorUsername: result.Video.AuthorUsername,
			Views:          result.Video.Views,
			Score:          result.Score,
		})
	}
	return out
}

// FromDeepScan converts a deep-scan result into its API response.
func FromDeepScan(result *pipeline.DeepScanResult) DeepScanResponse {
	if result == nil {
		return DeepScanResponse{}
	}
	resp := DeepScanResponse{
		BatchID: result.BatchID,
		Records: FromRecords(result.Records),
	}
	for _, summary := range result.Clusters {
		resp.Clusters = append(resp.Clusters, Cluster{
			ClusterID:     summary.ClusterID,
			Size:          summary.Size,
			TopPlatformID: summary.TopPlatformID,
			TopScore:      summary.TopScore,
			MeanScore:     summary.MeanScore,
		})
	}
	return resp
}

// FromBatchStats converts rescan batch counters into a string-keyed map for
// JSON transport.
func FromBatchStats(stats map[rescan.State]int) map[string]int {
	out := make(map[string]int, len(stats))
	for state, count := range stats {
		out[string(state)] = count
	}
	return out
}

// FromLedgerStats converts ledger counters to their API representation.
func FromLedgerStats(stats ledger.Stats) RecordStats {
	return RecordStats{
		Total:      stats.Total,
		Saved:      stats.Saved,
		Pending:    stats.Pending,
		Reconciled: stats.Reconciled,
	}
}
