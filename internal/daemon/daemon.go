package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"gifswap/internal/config"
	"gifswap/internal/detect"
	"gifswap/internal/imageio"
	"gifswap/internal/logging"
	"gifswap/internal/queue"
	"gifswap/internal/staging"
	"gifswap/internal/workflow"
)

// Daemon ties together the job store, workflow manager, HTTP API, and
// retention sweeps, and enforces single-instance execution via a lock file.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	manager  *workflow.Manager
	detector detect.Detector
	fetcher  *imageio.Fetcher
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, manager *workflow.Manager, detector detect.Detector, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil || detector == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, and detector")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "gifswapd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		manager:  manager,
		detector: detector,
		fetcher: imageio.NewFetcher(&http.Client{},
			int64(cfg.Processing.MaxDownloadMB)<<20),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the workflow manager, API
// server, and retention sweeps.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another gifswap daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			_ = d.lock.Unlock()
			cancel()
			d.cancel = nil
			return err
		}
	}

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if err := d.manager.Run(runCtx); err != nil {
			d.logger.Error("workflow manager exited with error", logging.Error(err))
		}
	}()
	go func() {
		defer d.wg.Done()
		d.runSweeps(runCtx)
	}()

	d.running.Store(true)
	d.logger.Info("gifswap daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddr()))
	return nil
}

// Stop shuts down background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("gifswap daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// runSweeps periodically removes stale staging directories, expired outputs,
// and finished job rows.
func (d *Daemon) runSweeps(ctx context.Context) {
	interval := time.Duration(d.cfg.Retention.SweepInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stagingMaxAge := time.Duration(d.cfg.Retention.StagingMaxAgeSeconds) * time.Second
		outputRetention := time.Duration(d.cfg.Retention.OutputSeconds) * time.Second

		staging.CleanStale(d.cfg.Paths.StagingDir, stagingMaxAge, d.logger)
		staging.SweepOutputs(d.cfg.Paths.OutputDir, outputRetention, d.logger)
		if outputRetention > 0 {
			if _, err := d.store.DeleteCompleted(ctx, outputRetention); err != nil {
				d.logger.Warn("failed to prune finished jobs", logging.Error(err))
			}
		}
	}
}
