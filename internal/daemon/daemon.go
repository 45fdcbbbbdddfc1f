// Package daemon coordinates the long-running engine: the rescan scheduler,
// the HTTP API surface, and single-instance enforcement via a lock file.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"crest/internal/config"
	"crest/internal/ledger"
	"crest/internal/logging"
	"crest/internal/pipeline"
	"crest/internal/rescan"
)

// Daemon enforces single-instance execution and owns the background services.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	records   *ledger.Store
	batches   *rescan.Store
	scheduler *rescan.Scheduler
	processor *pipeline.Processor

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	TrendDBPath  string
	LockFilePath string
	Records      ledger.Stats
	Batches      map[rescan.State]int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, records *ledger.Store, batches *rescan.Store, scheduler *rescan.Scheduler, processor *pipeline.Processor, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || records == nil || batches == nil || scheduler == nil || processor == nil {
		return nil, errors.New("daemon requires config, stores, scheduler, and processor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "crestd.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		records:   records,
		batches:   batches,
		scheduler: scheduler,
		processor: processor,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}

	srv, err := newAPIServer(cfg, d, d.logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock, recovers persisted rescan batches, and
// begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("another crest daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.scheduler.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}
	if err := d.api.start(d.ctx); err != nil {
		d.scheduler.Stop()
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("crest daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down background processing and releases the daemon lock.
// In-flight rescan jobs run to completion first.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("crest daemon stopped")
}

// Close releases resources after Stop.
func (d *Daemon) Close() error {
	var errs []error
	if err := d.records.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.batches.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// APIAddr reports the bound API address, empty until Start.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status reports runtime state plus store counters.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		TrendDBPath:  filepath.Join(d.cfg.Paths.StateDir, "trends.db"),
		LockFilePath: d.lockPath,
	}
	if stats, err := d.records.Stats(ctx); err == nil {
		status.Records = stats
	}
	if stats, err := d.batches.Stats(ctx); err == nil {
		status.Batches = stats
	}
	return status
}
