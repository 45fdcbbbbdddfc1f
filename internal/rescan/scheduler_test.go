package rescan_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crest/internal/config"
	"crest/internal/ledger"
	"crest/internal/observation"
	"crest/internal/rescan"
	"crest/internal/testsupport"
	"crest/internal/uts"
)

type stubCollector struct {
	mu      sync.Mutex
	calls   [][]string
	records []observation.RawRecord
	err     error

	// Optional gates for tests that need a call held mid-flight.
	entered chan struct{}
	release chan struct{}
}

func (s *stubCollector) Discover(ctx context.Context, keywords []string, limit int) ([]observation.RawRecord, error) {
	return nil, errors.New("not used")
}

func (s *stubCollector) Reacquire(ctx context.Context, urls []string) ([]observation.RawRecord, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, urls)
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func (s *stubCollector) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixture struct {
	cfg       *config.Config
	ledger    *ledger.Store
	store     *rescan.Store
	collector *stubCollector
	scheduler *rescan.Scheduler
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()

	opts = append([]testsupport.ConfigOption{testsupport.WithRescanDelayMinutes(0)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	f := &fixture{
		cfg:       cfg,
		ledger:    testsupport.MustOpenLedger(t, cfg),
		store:     testsupport.MustOpenRescanStore(t, cfg),
		collector: &stubCollector{},
	}
	f.scheduler = rescan.NewScheduler(cfg, f.store, f.ledger, f.collector, uts.NewScorer(cfg.Scoring), nil)
	if err := f.scheduler.Start(t.Context()); err != nil {
		t.Fatalf("scheduler.Start: %v", err)
	}
	t.Cleanup(f.scheduler.Stop)
	return f
}

func (f *fixture) seed(t *testing.T, owner, platformID string) *ledger.Record {
	t.Helper()

	video := testsupport.Video(platformID, "sound-1", 10000, 1000)
	record := ledger.NewRecord(owner, video, 3, uts.Breakdown{FinalScore: 40})
	if err := f.ledger.Upsert(t.Context(), record); err != nil {
		t.Fatalf("seed %s: %v", platformID, err)
	}
	return record
}

func waitForState(t *testing.T, store *rescan.Store, batchID string, want rescan.State) *rescan.Batch {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		batch, err := store.GetByBatchID(context.Background(), batchID)
		if err != nil {
			t.Fatalf("GetByBatchID: %v", err)
		}
		if batch != nil && batch.State == want {
			return batch
		}
		time.Sleep(10 * time.Millisecond)
	}
	batch, _ := store.GetByBatchID(context.Background(), batchID)
	t.Fatalf("batch %s never reached %s (last: %+v)", batchID, want, batch)
	return nil
}

func TestBatchReconcilesRecords(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, "owner-1", "v1")
	f.collector.records = []observation.RawRecord{
		testsupport.RawRecord("v1", "sound-1", 30000, 1000),
	}

	batch, err := f.scheduler.Schedule(t.Context(), "owner-1", []string{record.URL})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if batch == nil {
		t.Fatal("expected a batch")
	}
	waitForState(t, f.store, batch.BatchID, rescan.StateReconciled)

	got, err := f.ledger.GetByID(t.Context(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.PointB == nil || got.PointB.Views != 30000 {
		t.Fatalf("point b = %+v", got.PointB)
	}
	if !got.Reconciled() {
		t.Fatal("expected reconciled timestamp")
	}
	if got.Pending {
		t.Fatal("pending flag should clear on reconciliation")
	}
	if got.UTSScore == 40 {
		t.Fatal("score should be recomputed with the temporal layers")
	}
	if f.collector.callCount() != 1 {
		t.Fatalf("collector calls = %d, want 1", f.collector.callCount())
	}
}

func TestCollectorFailureLeavesPointAUntouched(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, "owner-1", "v1")
	f.collector.err = errors.New("collector unreachable")

	batch, err := f.scheduler.Schedule(t.Context(), "owner-1", []string{record.URL})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitForState(t, f.store, batch.BatchID, rescan.StateFailed)

	got, err := f.ledger.GetByID(t.Context(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("failure must not delete the record")
	}
	if got.PointB != nil || got.Reconciled() {
		t.Fatalf("failure must not fabricate point b: %+v", got)
	}
	if got.Pending {
		t.Fatal("failure should release the record for a future retry")
	}
}

func TestPartialAcquisition(t *testing.T) {
	f := newFixture(t)
	matched := f.seed(t, "owner-1", "v1")
	missing := f.seed(t, "owner-1", "v2")
	f.collector.records = []observation.RawRecord{
		testsupport.RawRecord("v1", "sound-1", 25000, 1000),
	}

	batch, err := f.scheduler.Schedule(t.Context(), "owner-1", []string{matched.URL, missing.URL})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitForState(t, f.store, batch.BatchID, rescan.StatePartial)

	gotMatched, _ := f.ledger.GetByID(t.Context(), matched.ID)
	if gotMatched.PointB == nil {
		t.Fatal("matched record should reconcile")
	}
	gotMissing, _ := f.ledger.GetByID(t.Context(), missing.ID)
	if gotMissing.PointB != nil || gotMissing.Reconciled() {
		t.Fatalf("missing record must stay unreconciled: %+v", gotMissing)
	}
	if gotMissing.Pending {
		t.Fatal("missing record should be released for retry")
	}
}

func TestPendingRecordsAreNotReenrolled(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, "owner-1", "v1")
	if err := f.ledger.SetPending(t.Context(), true, record.ID); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	batch, err := f.scheduler.Schedule(t.Context(), "owner-1", []string{record.URL})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if batch != nil {
		t.Fatalf("pending record must not join a second batch: %+v", batch)
	}
}

func TestScheduleDeduplicatesURLs(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, "owner-1", "v1")
	f.collector.records = []observation.RawRecord{
		testsupport.RawRecord("v1", "sound-1", 25000, 1000),
	}

	batch, err := f.scheduler.Schedule(t.Context(), "owner-1", []string{record.URL, record.URL, ""})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(batch.URLs) != 1 {
		t.Fatalf("urls = %v, want single deduplicated entry", batch.URLs)
	}
	waitForState(t, f.store, batch.BatchID, rescan.StateReconciled)
}

func TestCancelBeforeFiring(t *testing.T) {
	f := newFixture(t, testsupport.WithRescanDelayMinutes(60))
	record := f.seed(t, "owner-1", "v1")

	batch, err := f.scheduler.Schedule(t.Context(), "owner-1", []string{record.URL})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	cancelled, err := f.scheduler.Cancel(t.Context(), batch.BatchID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("pending batch should cancel")
	}

	got, _ := f.store.GetByBatchID(t.Context(), batch.BatchID)
	if got.State != rescan.StateCancelled {
		t.Fatalf("state = %s, want cancelled", got.State)
	}
	release, _ := f.ledger.GetByID(t.Context(), record.ID)
	if release.Pending {
		t.Fatal("cancellation should release the record")
	}
	if f.collector.callCount() != 0 {
		t.Fatal("cancelled batch must never call the collector")
	}
}

func TestStartReArmsPersistedBatches(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRescanDelayMinutes(0))
	ledgerStore := testsupport.MustOpenLedger(t, cfg)
	batchStore := testsupport.MustOpenRescanStore(t, cfg)
	stub := &stubCollector{records: []observation.RawRecord{
		testsupport.RawRecord("v1", "sound-1", 25000, 1000),
	}}

	video := testsupport.Video("v1", "sound-1", 10000, 1000)
	record := ledger.NewRecord("owner-1", video, 3, uts.Breakdown{FinalScore: 40})
	if err := ledgerStore.Upsert(t.Context(), record); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// An overdue batch persisted by a previous process.
	batch := &rescan.Batch{
		BatchID:      "persisted-batch",
		OwnerContext: "owner-1",
		URLs:         []string{record.URL},
		RunAt:        time.Now().UTC().Add(-time.Minute),
	}
	if err := batchStore.Create(t.Context(), batch); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ledgerStore.SetPending(t.Context(), true, record.ID); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	scheduler := rescan.NewScheduler(cfg, batchStore, ledgerStore, stub, uts.NewScorer(cfg.Scoring), nil)
	if err := scheduler.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(scheduler.Stop)

	waitForState(t, batchStore, batch.BatchID, rescan.StateReconciled)
	got, _ := ledgerStore.GetByID(t.Context(), record.ID)
	if got.PointB == nil {
		t.Fatal("recovered batch should reconcile its records")
	}
}

func TestRestartRecoveryReleasesInterruptedRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRescanDelayMinutes(0))
	ledgerStore := testsupport.MustOpenLedger(t, cfg)
	batchStore := testsupport.MustOpenRescanStore(t, cfg)

	video := testsupport.Video("v1", "sound-1", 10000, 1000)
	record := ledger.NewRecord("owner-1", video, 3, uts.Breakdown{FinalScore: 40})
	if err := ledgerStore.Upsert(t.Context(), record); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// A batch a previous process fired but never finished.
	batch := &rescan.Batch{
		BatchID:      "interrupted-batch",
		OwnerContext: "owner-1",
		URLs:         []string{record.URL},
		RunAt:        time.Now().UTC().Add(-time.Minute),
	}
	if err := batchStore.Create(t.Context(), batch); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := batchStore.MarkFired(t.Context(), batch.BatchID); err != nil {
		t.Fatalf("MarkFired: %v", err)
	}
	if err := ledgerStore.SetPending(t.Context(), true, record.ID); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	stub := &stubCollector{records: []observation.RawRecord{
		testsupport.RawRecord("v1", "sound-1", 25000, 1000),
	}}
	scheduler := rescan.NewScheduler(cfg, batchStore, ledgerStore, stub, uts.NewScorer(cfg.Scoring), nil)
	if err := scheduler.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(scheduler.Stop)

	got, err := batchStore.GetByBatchID(t.Context(), batch.BatchID)
	if err != nil {
		t.Fatalf("GetByBatchID: %v", err)
	}
	if got.State != rescan.StateFailed {
		t.Fatalf("interrupted batch state = %s, want failed", got.State)
	}
	released, err := ledgerStore.GetByID(t.Context(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if released.Pending {
		t.Fatal("recovery must release records from interrupted batches")
	}

	retry, err := scheduler.Schedule(t.Context(), "owner-1", []string{record.URL})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if retry == nil {
		t.Fatal("released record should be eligible for re-enrollment")
	}
	waitForState(t, batchStore, retry.BatchID, rescan.StateReconciled)
}

func TestStopWaitsForInFlightJob(t *testing.T) {
	f := newFixture(t)
	f.collector.entered = make(chan struct{}, 1)
	f.collector.release = make(chan struct{})
	f.collector.records = []observation.RawRecord{
		testsupport.RawRecord("v1", "sound-1", 25000, 1000),
	}
	record := f.seed(t, "owner-1", "v1")

	batch, err := f.scheduler.Schedule(t.Context(), "owner-1", []string{record.URL})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	select {
	case <-f.collector.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("collector was never called")
	}

	done := make(chan struct{})
	go func() {
		f.scheduler.Stop()
		close(done)
	}()
	close(f.collector.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	got, err := f.store.GetByBatchID(context.Background(), batch.BatchID)
	if err != nil {
		t.Fatalf("GetByBatchID: %v", err)
	}
	if got.State != rescan.StateReconciled {
		t.Fatalf("state = %s, an in-flight job must finish its writes during Stop", got.State)
	}
	rec, err := f.ledger.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.PointB == nil || rec.Pending {
		t.Fatalf("record should be fully reconciled after Stop: %+v", rec)
	}
}

type stubNotifier struct {
	mu         sync.Mutex
	reconciled []string
	failed     []string
	highScores []string
}

func (n *stubNotifier) NotifyBatchReconciled(ctx context.Context, batchID string, reconciled, total int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reconciled = append(n.reconciled, batchID)
	return nil
}

func (n *stubNotifier) NotifyBatchFailed(ctx context.Context, batchID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, batchID)
	return nil
}

func (n *stubNotifier) NotifyHighScore(ctx context.Context, platformID string, score float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.highScores = append(n.highScores, platformID)
	return nil
}

func (n *stubNotifier) TestNotification(ctx context.Context) error { return nil }

func TestBatchOutcomeNotifications(t *testing.T) {
	f := newFixture(t)
	notifier := &stubNotifier{}
	f.scheduler.SetNotifier(notifier)

	record := f.seed(t, "owner-1", "v1")
	f.collector.records = []observation.RawRecord{
		testsupport.RawRecord("v1", "sound-1", 20000, 1000),
	}

	batch, err := f.scheduler.Schedule(t.Context(), "owner-1", []string{record.URL})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitForState(t, f.store, batch.BatchID, rescan.StateReconciled)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.reconciled) != 1 || notifier.reconciled[0] != batch.BatchID {
		t.Fatalf("reconciled notifications = %v", notifier.reconciled)
	}
	if len(notifier.failed) != 0 {
		t.Fatalf("unexpected failure notifications: %v", notifier.failed)
	}
}

func TestHighScoreNotification(t *testing.T) {
	f := newFixture(t)
	f.cfg.Notifications.HighScoreThreshold = 1
	notifier := &stubNotifier{}
	f.scheduler.SetNotifier(notifier)

	record := f.seed(t, "owner-1", "v1")
	f.collector.records = []observation.RawRecord{
		testsupport.RawRecord("v1", "sound-1", 30000, 1000),
	}

	batch, err := f.scheduler.Schedule(t.Context(), "owner-1", []string{record.URL})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitForState(t, f.store, batch.BatchID, rescan.StateReconciled)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.highScores) != 1 || notifier.highScores[0] != "v1" {
		t.Fatalf("high score notifications = %v", notifier.highScores)
	}
}

func TestFailedBatchNotifies(t *testing.T) {
	f := newFixture(t)
	notifier := &stubNotifier{}
	f.scheduler.SetNotifier(notifier)

	record := f.seed(t, "owner-1", "v1")
	f.collector.err = errors.New("collector unreachable")

	batch, err := f.scheduler.Schedule(t.Context(), "owner-1", []string{record.URL})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitForState(t, f.store, batch.BatchID, rescan.StateFailed)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.failed) != 1 || notifier.failed[0] != batch.BatchID {
		t.Fatalf("failed notifications = %v", notifier.failed)
	}
}
