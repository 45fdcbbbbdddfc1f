package rescan

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
)

const schema = `
CREATE TABLE IF NOT EXISTS rescan_batches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL UNIQUE,
    owner_context TEXT NOT NULL,
    urls TEXT NOT NULL,
    run_at TEXT NOT NULL,
    state TEXT NOT NULL,
    error TEXT,
    fired_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rescan_batches_state ON rescan_batches(state);
`

// Store persists rescan batches so pending work survives a daemon restart.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore initializes or connects to the rescan job database.
func OpenStore(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "rescan.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply rescan schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const batchColumns = `id, batch_id, owner_context, urls, run_at, state, error, fired_at, created_at, updated_at`

// Create persists a new pending batch.
func (s *Store) Create(ctx context.Context, batch *Batch) error {
	now := time.Now().UTC()
	batch.State = StatePending
	batch.CreatedAt = now
	batch.UpdatedAt = now

	urls, err := json.Marshal(batch.URLs)
	if err != nil {
		return fmt.Errorf("marshal batch urls: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO rescan_batches (
            batch_id, owner_context, urls, run_at, state, error, fired_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.BatchID,
		batch.OwnerContext,
		string(urls),
		batch.RunAt.UTC().Format(time.RFC3339Nano),
		batch.State,
		nil,
		nil,
		batch.CreatedAt.Format(time.RFC3339Nano),
		batch.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert rescan batch: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		batch.ID = id
	}
	return nil
}

// GetByBatchID fetches a batch by its public identifier.
func (s *Store) GetByBatchID(ctx context.Context, batchID string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM rescan_batches WHERE batch_id = ?`, batchID)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rescan batch %s: %w", batchID, err)
	}
	return batch, nil
}

// ListByState returns batches in the given state, oldest run first.
func (s *Store) ListByState(ctx context.Context, state State) ([]*Batch, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+batchColumns+` FROM rescan_batches WHERE state = ? ORDER BY run_at ASC, id ASC`,
		state,
	)
	if err != nil {
		return nil, fmt.Errorf("list rescan batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rescan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// MarkFired transitions a batch from pending to fired. The conditional update
// is what makes firing exactly-once: only one caller wins the transition.
func (s *Store) MarkFired(ctx context.Context, batchID string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE rescan_batches SET state = ?, fired_at = ?, updated_at = ? WHERE batch_id = ? AND state = ?`,
		StateFired, now, now, batchID, StatePending,
	)
	if err != nil {
		return false, fmt.Errorf("mark fired %s: %w", batchID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark fired %s: %w", batchID, err)
	}
	return affected > 0, nil
}

// Finish records the terminal state of a fired batch.
func (s *Store) Finish(ctx context.Context, batchID string, state State, errMsg string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE rescan_batches SET state = ?, error = ?, updated_at = ? WHERE batch_id = ?`,
		state,
		nullableString(errMsg),
		time.Now().UTC().Format(time.RFC3339Nano),
		batchID,
	)
	if err != nil {
		return fmt.Errorf("finish rescan batch %s: %w", batchID, err)
	}
	return nil
}

// Cancel transitions a still-pending batch to cancelled. Fired batches run to
// completion, so cancellation of those reports false.
func (s *Store) Cancel(ctx context.Context, batchID string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE rescan_batches SET state = ?, updated_at = ? WHERE batch_id = ? AND state = ?`,
		StateCancelled,
		time.Now().UTC().Format(time.RFC3339Nano),
		batchID,
		StatePending,
	)
	if err != nil {
		return false, fmt.Errorf("cancel rescan batch %s: %w", batchID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel rescan batch %s: %w", batchID, err)
	}
	return affected > 0, nil
}

// FailInterrupted marks batches stuck in the fired state as failed and
// returns them so the caller can release their enrolled records. Called on
// startup: a fired batch from a previous process died mid-flight, and the
// ledger's reconciled_at check makes re-running it unnecessary.
func (s *Store) FailInterrupted(ctx context.Context) ([]*Batch, error) {
	interrupted, err := s.ListByState(ctx, StateFired)
	if err != nil {
		return nil, err
	}
	if len(interrupted) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE rescan_batches SET state = ?, error = ?, updated_at = ? WHERE state = ?`,
		StateFailed,
		"interrupted by restart",
		time.Now().UTC().Format(time.RFC3339Nano),
		StateFired,
	)
	if err != nil {
		return nil, fmt.Errorf("fail interrupted batches: %w", err)
	}
	for _, batch := range interrupted {
		batch.State = StateFailed
		batch.Error = "interrupted by restart"
	}
	return interrupted, nil
}

// Stats counts batches per state for status reporting.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM rescan_batches GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("rescan stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan rescan stats: %w", err)
		}
		stats[State(state)] = count
	}
	return stats, rows.Err()
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		id         int64
		batchID    string
		owner      string
		urlsRaw    string
		runAtRaw   string
		state      string
		errMsg     sql.NullString
		firedRaw   sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id, &batchID, &owner, &urlsRaw, &runAtRaw, &state,
		&errMsg, &firedRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	batch := &Batch{
		ID:           id,
		BatchID:      batchID,
		OwnerContext: owner,
		State:        State(state),
		Error:        errMsg.String,
	}
	if err := json.Unmarshal([]byte(urlsRaw), &batch.URLs); err != nil {
		return nil, fmt.Errorf("unmarshal batch urls: %w", err)
	}
	if runAt, err := time.Parse(time.RFC3339Nano, runAtRaw); err == nil {
		batch.RunAt = runAt
	}
	if firedRaw.Valid {
		if fired, err := time.Parse(time.RFC3339Nano, firedRaw.String); err == nil {
			batch.FiredAt = &fired
		}
	}
	if createdRaw.Valid {
		if created, err := time.Parse(time.RFC3339Nano, createdRaw.String); err == nil {
			batch.CreatedAt = created
		}
	}
	if updatedRaw.Valid {
		if updated, err := time.Parse(time.RFC3339Nano, updatedRaw.String); err == nil {
			batch.UpdatedAt = updated
		}
	}
	return batch, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
