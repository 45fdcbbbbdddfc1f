// Package rescan schedules and executes the delayed point B acquisition:
// each batch fires once after a configurable delay, re-fetches its URLs, and
// reconciles the temporal score layers against the stored point A snapshots.
package rescan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"crest/internal/collector"
	"crest/internal/config"
	"crest/internal/ledger"
	"crest/internal/logging"
	"crest/internal/notifications"
	"crest/internal/observation"
	"crest/internal/services"
	"crest/internal/uts"
)

// Scheduler owns the mapping from batch id to pending one-shot timer. Fired
// jobs run their collector call, scoring, and ledger write as one sequential
// unit; batches are independent of each other.
type Scheduler struct {
	cfg       *config.Config
	store     *Store
	records   *ledger.Store
	collector collector.Service
	scorer    *uts.Scorer
	logger    *slog.Logger
	notifier  notifications.Service

	mu      sync.Mutex
	timers  map[string]*time.Timer
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler wires a scheduler; Start must be called before Schedule.
func NewScheduler(cfg *config.Config, store *Store, records *ledger.Store, svc collector.Service, scorer *uts.Scorer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		records:   records,
		collector: svc,
		scorer:    scorer,
		logger:    logging.NewComponentLogger(logger, "rescan"),
		notifier:  notifications.NewService(cfg),
		timers:    make(map[string]*time.Timer),
	}
}

// SetNotifier overrides the notification service, primarily for tests.
func (s *Scheduler) SetNotifier(n notifications.Service) {
	if n != nil {
		s.notifier = n
	}
}

// Start recovers persisted batches and begins accepting new ones. Batches
// interrupted mid-flight by a previous process are marked failed; pending
// batches are re-armed, overdue ones firing immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.baseCtx != nil {
		s.mu.Unlock()
		return fmt.Errorf("rescan scheduler already started")
	}
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	interrupted, err := s.store.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	for _, batch := range interrupted {
		// Release the enrolled records so a later scan can re-enroll them.
		if err := s.clearPending(ctx, batch); err != nil {
			return err
		}
		s.logger.Warn("failed interrupted rescan batch",
			logging.String(logging.FieldBatchID, batch.BatchID))
	}

	pending, err := s.store.ListByState(ctx, StatePending)
	if err != nil {
		return err
	}
	for _, batch := range pending {
		s.arm(batch)
		s.logger.Info("re-armed rescan batch",
			logging.String(logging.FieldBatchID, batch.BatchID),
			logging.String("run_at", batch.RunAt.Format(time.RFC3339)))
	}
	return nil
}

// Stop cancels unfired timers and waits for in-flight jobs to complete.
// Pending batches stay persisted and re-arm on the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Schedule enrolls the URLs of freshly scored records into a delayed batch.
// Records already pending in an unfired batch are skipped so one record never
// belongs to two batch lifecycles at once. Returns nil when nothing is
// eligible.
func (s *Scheduler) Schedule(ctx context.Context, owner string, urls []string) (*Batch, error) {
	s.mu.Lock()
	started := s.baseCtx != nil
	s.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("rescan scheduler not started")
	}

	urls = dedupe(urls)
	if len(urls) == 0 {
		return nil, nil
	}

	records, err := s.records.ListByURLs(ctx, owner, urls)
	if err != nil {
		return nil, err
	}
	eligible := make([]string, 0, len(urls))
	ids := make([]int64, 0, len(records))
	byURL := make(map[string]*ledger.Record, len(records))
	for _, record := range records {
		byURL[record.URL] = record
	}
	for _, url := range urls {
		record, ok := byURL[url]
		if !ok || record.Pending || record.Reconciled() {
			continue
		}
		eligible = append(eligible, url)
		ids = append(ids, record.ID)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	batch := &Batch{
		BatchID:      uuid.NewString(),
		OwnerContext: owner,
		URLs:         eligible,
		RunAt:        time.Now().UTC().Add(s.cfg.RescanDelay()),
	}
	if err := s.store.Create(ctx, batch); err != nil {
		return nil, err
	}
	if err := s.records.SetPending(ctx, true, ids...); err != nil {
		return nil, err
	}

	s.arm(batch)
	s.logger.Info("scheduled rescan batch",
		logging.String(logging.FieldBatchID, batch.BatchID),
		logging.String(logging.FieldOwner, owner),
		logging.Int("urls", len(eligible)),
		logging.String("run_at", batch.RunAt.Format(time.RFC3339)))
	return batch, nil
}

// Cancel tears down a still-pending batch and releases its records for
// re-enrollment. A fired batch runs to completion and reports false.
func (s *Scheduler) Cancel(ctx context.Context, batchID string) (bool, error) {
	cancelled, err := s.store.Cancel(ctx, batchID)
	if err != nil || !cancelled {
		return false, err
	}

	s.mu.Lock()
	if timer, ok := s.timers[batchID]; ok {
		timer.Stop()
		delete(s.timers, batchID)
	}
	s.mu.Unlock()

	batch, err := s.store.GetByBatchID(ctx, batchID)
	if err != nil {
		return true, err
	}
	if batch != nil {
		if err := s.clearPending(ctx, batch); err != nil {
			return true, err
		}
	}
	s.logger.Info("cancelled rescan batch", logging.String(logging.FieldBatchID, batchID))
	return true, nil
}

func (s *Scheduler) arm(batch *Batch) {
	delay := time.Until(batch.RunAt)
	if delay < 0 {
		delay = 0
	}

	batchID := batch.BatchID
	s.mu.Lock()
	if s.baseCtx == nil || s.baseCtx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.timers[batchID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, batchID)
		stopped := s.baseCtx.Err() != nil
		if !stopped {
			s.wg.Add(1)
		}
		s.mu.Unlock()
		if stopped {
			return
		}
		defer s.wg.Done()
		s.fire(batchID)
	})
	s.mu.Unlock()
}

// fire executes one batch end to end. The pending-to-fired transition in the
// store is conditional, so a batch dispatches at most once per lifetime.
func (s *Scheduler) fire(batchID string) {
	// A job that already dispatched runs to completion; Stop cancelling the
	// base context must not fail its ledger and store writes midway.
	ctx := services.WithBatchID(context.WithoutCancel(s.baseCtx), batchID)
	logger := logging.WithContext(ctx, s.logger)

	fired, err := s.store.MarkFired(ctx, batchID)
	if err != nil {
		logger.Error("failed to mark batch fired", logging.Error(err))
		return
	}
	if !fired {
		return
	}

	batch, err := s.store.GetByBatchID(ctx, batchID)
	if err != nil || batch == nil {
		logger.Error("failed to load fired batch", logging.Error(err))
		return
	}

	state, reconciled, total, runErr := s.reconcile(ctx, batch)
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := s.store.Finish(ctx, batchID, state, errMsg); err != nil {
		logger.Error("failed to record batch outcome", logging.Error(err))
	}

	var notifyErr error
	switch state {
	case StateReconciled:
		logger.Info("rescan batch reconciled", logging.Int("urls", len(batch.URLs)))
		notifyErr = s.notifier.NotifyBatchReconciled(ctx, batchID, reconciled, total)
	case StatePartial:
		logger.Warn("rescan batch partially reconciled", logging.Int("urls", len(batch.URLs)))
		notifyErr = s.notifier.NotifyBatchReconciled(ctx, batchID, reconciled, total)
	default:
		logger.Error("rescan batch failed", logging.Error(runErr))
		notifyErr = s.notifier.NotifyBatchFailed(ctx, batchID, errMsg)
	}
	if notifyErr != nil {
		logger.Warn("failed to send batch notification", logging.Error(notifyErr))
	}
}

// reconcile re-fetches the batch URLs and writes point B snapshots back onto
// the ledger. A collector failure leaves every record's point A untouched.
// Returns the batch state plus reconciled and total record counts.
func (s *Scheduler) reconcile(ctx context.Context, batch *Batch) (State, int, int, error) {
	logger := logging.WithContext(ctx, s.logger)

	records, err := s.records.ListByURLs(ctx, batch.OwnerContext, batch.URLs)
	if err != nil {
		return StateFailed, 0, 0, err
	}
	if len(records) == 0 {
		return StateReconciled, 0, 0, nil
	}

	collectCtx, cancel := context.WithTimeout(ctx, s.cfg.RescanCollectorTimeout())
	raws, err := s.collector.Reacquire(collectCtx, batch.URLs)
	cancel()
	if err != nil {
		// Release the pending flags so the records stay eligible for a
		// future retry; their point A data is still readable.
		if clearErr := s.clearPending(ctx, batch); clearErr != nil {
			logger.Error("failed to release pending records", logging.Error(clearErr))
		}
		return StateFailed, 0, len(records), err
	}

	capturedAt := time.Now().UTC()
	snapshots := make(map[string]observation.Video, len(raws))
	for _, raw := range raws {
		video, err := observation.Normalize(raw, capturedAt)
		if err != nil {
			logger.Warn("dropping malformed reacquired record", logging.Error(err))
			continue
		}
		snapshots[video.PlatformID] = video
		if video.URL != "" {
			snapshots[video.URL] = video
		}
	}

	reconciled := 0
	var unmatched []int64
	for _, record := range records {
		video, ok := snapshots[record.PlatformID]
		if !ok {
			video, ok = snapshots[record.URL]
		}
		if !ok {
			unmatched = append(unmatched, record.ID)
			continue
		}

		breakdown, err := s.scorer.Score(record.PointA, &video.Observation, record.CascadeCount)
		if err != nil {
			logger.Warn("dropping unscorable point b",
				logging.String(logging.FieldPlatformID, record.PlatformID),
				logging.Error(err))
			unmatched = append(unmatched, record.ID)
			continue
		}
		if err := s.records.MarkReconciled(ctx, record.ID, video.Observation, breakdown, capturedAt); err != nil {
			return StateFailed, reconciled, len(records), err
		}
		reconciled++

		if threshold := s.cfg.Notifications.HighScoreThreshold; threshold > 0 && breakdown.FinalScore >= threshold {
			if err := s.notifier.NotifyHighScore(ctx, record.PlatformID, breakdown.FinalScore); err != nil {
				logger.Warn("failed to send high score notification", logging.Error(err))
			}
		}
	}

	if len(unmatched) > 0 {
		if err := s.records.SetPending(ctx, false, unmatched...); err != nil {
			logger.Error("failed to release unmatched records", logging.Error(err))
		}
	}
	if reconciled < len(records) {
		return StatePartial, reconciled, len(records), nil
	}
	return StateReconciled, reconciled, len(records), nil
}

func (s *Scheduler) clearPending(ctx context.Context, batch *Batch) error {
	records, err := s.records.ListByURLs(ctx, batch.OwnerContext, batch.URLs)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(records))
	for _, record := range records {
		if record.Pending {
			ids = append(ids, record.ID)
		}
	}
	return s.records.SetPending(ctx, false, ids...)
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}
