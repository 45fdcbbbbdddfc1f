// Package ledger persists trend records in SQLite. It is the only shared
// mutable state in the engine; every other component is a pure function or a
// scheduler over this store.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"crest/internal/config"
	"crest/internal/observation"
	"crest/internal/uts"
)

// Store manages trend record persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the trend database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "trends.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const recordColumns = `id, owner_context, platform_id, url, description, author_username,
    cover_url, audio_title, point_a, point_b, cascade_count, cluster_id,
    uts_score, uts_breakdown, saved, pending, reconciled_at, created_at, updated_at`

// Upsert inserts the record, or replaces the existing row for the same
// (owner_context, platform_id). A replaced row keeps its saved flag so an
// explicit save is not silently undone by a later scan, and keeps its pending
// flag so a record enrolled in an unfired rescan batch stays ineligible for a
// second one.
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	pointA, pointB, breakdown, err := marshalPayloads(record)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO trend_records (
            owner_context, platform_id, url, description, author_username,
            cover_url, audio_title, point_a, point_b, cascade_count, cluster_id,
            uts_score, uts_breakdown, saved, pending, reconciled_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (owner_context, platform_id) DO UPDATE SET
            url = excluded.url,
            description = excluded.description,
            author_username = excluded.author_username,
            cover_url = excluded.cover_url,
            audio_title = excluded.audio_title,
            point_a = excluded.point_a,
            point_b = excluded.point_b,
            cascade_count = excluded.cascade_count,
            cluster_id = excluded.cluster_id,
            uts_score = excluded.uts_score,
            uts_breakdown = excluded.uts_breakdown,
            reconciled_at = excluded.reconciled_at,
            updated_at = excluded.updated_at`,
		record.OwnerContext,
		record.PlatformID,
		nullableString(record.URL),
		nullableString(record.Description),
		nullableString(record.AuthorUsername),
		nullableString(record.CoverURL),
		nullableString(record.AudioTitle),
		pointA,
		pointB,
		record.CascadeCount,
		nullableInt(record.ClusterID),
		record.UTSScore,
		breakdown,
		boolToInt(record.Saved),
		boolToInt(record.Pending),
		nullableTime(record.ReconciledAt),
		record.CreatedAt.Format(time.RFC3339Nano),
		record.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert trend record: %w", err)
	}

	if record.ID == 0 {
		// An upsert that hit the conflict branch reuses the existing row, so
		// the id has to be read back rather than taken from LastInsertId.
		stored, err := s.GetByPlatformID(ctx, record.OwnerContext, record.PlatformID)
		if err != nil {
			return err
		}
		if stored != nil {
			record.ID = stored.ID
			record.Saved = stored.Saved
			record.Pending = stored.Pending
			record.CreatedAt = stored.CreatedAt
		}
	}
	return nil
}

// GetByID fetches a record by its row id.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM trend_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trend record %d: %w", id, err)
	}
	return record, nil
}

// GetByPlatformID fetches the record for a video within one owner context.
func (s *Store) GetByPlatformID(ctx context.Context, owner, platformID string) (*Record, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+recordColumns+` FROM trend_records WHERE owner_context = ? AND platform_id = ?`,
		owner, platformID,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trend record %s/%s: %w", owner, platformID, err)
	}
	return record, nil
}

// Update persists all mutable fields of a record previously loaded from the
// store.
func (s *Store) Update(ctx context.Context, record *Record) error {
	record.UpdatedAt = time.Now().UTC()

	pointA, pointB, breakdown, err := marshalPayloads(record)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE trend_records SET
            url = ?, description = ?, author_username = ?, cover_url = ?,
            audio_title = ?, point_a = ?, point_b = ?, cascade_count = ?,
            cluster_id = ?, uts_score = ?, uts_breakdown = ?, saved = ?,
            pending = ?, reconciled_at = ?, updated_at = ?
        WHERE id = ?`,
		nullableString(record.URL),
		nullableString(record.Description),
		nullableString(record.AuthorUsername),
		nullableString(record.CoverURL),
		nullableString(record.AudioTitle),
		pointA,
		pointB,
		record.CascadeCount,
		nullableInt(record.ClusterID),
		record.UTSScore,
		breakdown,
		boolToInt(record.Saved),
		boolToInt(record.Pending),
		nullableTime(record.ReconciledAt),
		record.UpdatedAt.Format(time.RFC3339Nano),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update trend record %d: %w", record.ID, err)
	}
	return nil
}

// MarkReconciled writes back the rescan result in one statement: the point B
// snapshot, the recomputed score, the reconciliation time, and the pending
// flag reset.
func (s *Store) MarkReconciled(ctx context.Context, id int64, pointB observation.Observation, breakdown uts.Breakdown, at time.Time) error {
	pointBJSON, err := json.Marshal(pointB)
	if err != nil {
		return fmt.Errorf("marshal point b: %w", err)
	}
	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE trend_records SET
            point_b = ?, uts_score = ?, uts_breakdown = ?, pending = 0,
            reconciled_at = ?, updated_at = ?
        WHERE id = ?`,
		string(pointBJSON),
		breakdown.FinalScore,
		string(breakdownJSON),
		at.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark reconciled %d: %w", id, err)
	}
	return nil
}

// SetPending flips the rescan-enrollment flag for a set of records.
func (s *Store) SetPending(ctx context.Context, pending bool, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, boolToInt(pending), time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE trend_records SET pending = ?, updated_at = ? WHERE id IN (`+makePlaceholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("set pending: %w", err)
	}
	return nil
}

// MarkSaved promotes a record out of the read-once buffer lifecycle.
func (s *Store) MarkSaved(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE trend_records SET saved = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark saved %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("mark saved %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

// ConsumeReconciled atomically deletes a reconciled, unsaved record. The
// conditional delete keyed by id means a second concurrent reader cannot
// double-consume. Returns true when this call removed the row.
func (s *Store) ConsumeReconciled(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM trend_records WHERE id = ? AND reconciled_at IS NOT NULL AND saved = 0`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("consume trend record %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume trend record %d: %w", id, err)
	}
	return affected > 0, nil
}

// SearchBuffer lists an owner's unsaved records ranked by score.
func (s *Store) SearchBuffer(ctx context.Context, owner string) ([]*Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM trend_records
         WHERE owner_context = ? AND saved = 0
         ORDER BY uts_score DESC, id ASC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("search buffer: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListByURLs fetches an owner's records whose point A URL is in the given
// set. Used by the rescan path to pair collector results with point A data.
func (s *Store) ListByURLs(ctx context.Context, owner string, urls []string) ([]*Record, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(urls)+1)
	args = append(args, owner)
	for _, url := range urls {
		args = append(args, url)
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM trend_records
         WHERE owner_context = ? AND url IN (`+makePlaceholders(len(urls))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list by urls: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListSaved lists an owner's explicitly saved records, newest first.
func (s *Store) ListSaved(ctx context.Context, owner string) ([]*Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM trend_records
         WHERE owner_context = ? AND saved = 1
         ORDER BY updated_at DESC, id ASC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list saved: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ClearBuffer removes all unsaved records for an owner, returning the count.
func (s *Store) ClearBuffer(ctx context.Context, owner string) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM trend_records WHERE owner_context = ? AND saved = 0`,
		owner,
	)
	if err != nil {
		return 0, fmt.Errorf("clear buffer: %w", err)
	}
	return res.RowsAffected()
}

// Stats summarizes the store for status reporting.
type Stats struct {
	Total      int
	Saved      int
	Pending    int
	Reconciled int
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
        COUNT(1),
        COALESCE(SUM(saved), 0),
        COALESCE(SUM(pending), 0),
        COALESCE(SUM(CASE WHEN reconciled_at IS NOT NULL THEN 1 ELSE 0 END), 0)
    FROM trend_records`)

	var stats Stats
	if err := row.Scan(&stats.Total, &stats.Saved, &stats.Pending, &stats.Reconciled); err != nil {
		return Stats{}, fmt.Errorf("collect stats: %w", err)
	}
	return stats, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trend record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id             int64
		owner          string
		platformID     string
		url            sql.NullString
		description    sql.NullString
		authorUsername sql.NullString
		coverURL       sql.NullString
		audioTitle     sql.NullString
		pointARaw      string
		pointBRaw      sql.NullString
		cascadeCount   int
		clusterID      sql.NullInt64
		utsScore       float64
		breakdownRaw   sql.NullString
		saved          sql.NullInt64
		pending        sql.NullInt64
		reconciledRaw  sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&owner,
		&platformID,
		&url,
		&description,
		&authorUsername,
		&coverURL,
		&audioTitle,
		&pointARaw,
		&pointBRaw,
		&cascadeCount,
		&clusterID,
		&utsScore,
		&breakdownRaw,
		&saved,
		&pending,
		&reconciledRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &Record{
		ID:             id,
		OwnerContext:   owner,
		PlatformID:     platformID,
		URL:            url.String,
		Description:    description.String,
		AuthorUsername: authorUsername.String,
		CoverURL:       coverURL.String,
		AudioTitle:     audioTitle.String,
		CascadeCount:   cascadeCount,
		UTSScore:       utsScore,
		Saved:          saved.Valid && saved.Int64 != 0,
		Pending:        pending.Valid && pending.Int64 != 0,
	}

	if err := json.Unmarshal([]byte(pointARaw), &record.PointA); err != nil {
		return nil, fmt.Errorf("unmarshal point a: %w", err)
	}
	if pointBRaw.Valid && pointBRaw.String != "" {
		var pointB observation.Observation
		if err := json.Unmarshal([]byte(pointBRaw.String), &pointB); err != nil {
			return nil, fmt.Errorf("unmarshal point b: %w", err)
		}
		record.PointB = &pointB
	}
	if breakdownRaw.Valid && breakdownRaw.String != "" {
		if err := json.Unmarshal([]byte(breakdownRaw.String), &record.Breakdown); err != nil {
			return nil, fmt.Errorf("unmarshal breakdown: %w", err)
		}
	}
	if clusterID.Valid {
		cid := int(clusterID.Int64)
		record.ClusterID = &cid
	}
	if reconciledRaw.Valid {
		if at, err := parseTimeString(reconciledRaw.String); err == nil {
			record.ReconciledAt = &at
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func marshalPayloads(record *Record) (string, any, any, error) {
	pointA, err := json.Marshal(record.PointA)
	if err != nil {
		return "", nil, nil, fmt.Errorf("marshal point a: %w", err)
	}
	var pointB any
	if record.PointB != nil {
		data, err := json.Marshal(record.PointB)
		if err != nil {
			return "", nil, nil, fmt.Errorf("marshal point b: %w", err)
		}
		pointB = string(data)
	}
	breakdown, err := json.Marshal(record.Breakdown)
	if err != nil {
		return "", nil, nil, fmt.Errorf("marshal breakdown: %w", err)
	}
	return string(pointA), pointB, string(breakdown), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
