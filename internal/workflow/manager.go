package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gifswap/internal/config"
	"gifswap/internal/logging"
	"gifswap/internal/queue"
)

const pollInterval = 2 * time.Second

// Manager drains the job queue, running each claimed job on its own
// goroutine. Concurrency is bounded by processing.max_concurrent_jobs.
type Manager struct {
	cfg       *config.Config
	store     *queue.Store
	processor *Processor
	logger    *slog.Logger

	wake chan struct{}
	sem  chan struct{}
	wg   sync.WaitGroup
}

// NewManager constructs a Manager around an existing processor.
func NewManager(cfg *config.Config, store *queue.Store, processor *Processor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	limit := cfg.Processing.MaxConcurrentJobs
	if limit < 1 {
		limit = 1
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		processor: processor,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		sem:       make(chan struct{}, limit),
	}
}

// Wake nudges the manager to poll immediately instead of waiting out the
// current tick. Safe to call from any goroutine.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled, then waits for in-flight jobs
// and fails anything still marked processing.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		m.drain(ctx)
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return m.shutdown()
		case <-ticker.C:
		case <-m.wake:
		}
	}
}

// drain claims pending jobs until the queue is empty or all worker slots are
// taken.
func (m *Manager) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m.sem <- struct{}{}:
		}

		job, err := m.store.NextPending(ctx)
		if err != nil {
			<-m.sem
			if ctx.Err() == nil {
				m.logger.Error("failed to claim pending job", logging.Error(err))
			}
			return
		}
		if job == nil {
			<-m.sem
			return
		}

		m.wg.Add(1)
		go func(job *queue.Job) {
			defer m.wg.Done()
			defer func() { <-m.sem }()
			// Errors are persisted on the job row; nothing more to do here.
			_ = m.processor.Process(ctx, job)
		}(job)
	}
}

func (m *Manager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := m.store.FailProcessing(ctx, queue.DaemonStopReason)
	if err != nil {
		return err
	}
	if count > 0 {
		m.logger.Warn("failed in-flight jobs on shutdown", logging.Int64("count", count))
	}
	return nil
}
