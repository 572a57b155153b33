package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNoJobsAvailable means the queue had nothing due on this poll.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Worker polls one queue with a fixed number of goroutines. A stopped Worker
// cannot be started again.
type Worker struct {
	store    Store
	config   WorkerConfig
	handlers map[string]JobHandler

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewWorker(store Store, config WorkerConfig) *Worker {
	defaults := DefaultWorkerConfig()
	if config.Queue == "" {
		config.Queue = defaults.Queue
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &Worker{
		store:    store,
		config:   config,
		handlers: make(map[string]JobHandler),
	}
}

func (w *Worker) RegisterHandler(handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[handler.GetType()] = handler
	log.Info().Str("queue", w.config.Queue).Str("type", handler.GetType()).Msg("✅ Registered job handler")
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return fmt.Errorf("worker for queue %s is stopped, cannot restart", w.config.Queue)
	}

	log.Info().Str("queue", w.config.Queue).Int("workers", w.config.Concurrency).Msg("🚀 Starting job worker")
	for i := 1; i <= w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
	return nil
}

// Stop lets running jobs finish and waits for every goroutine to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	log.Info().Str("queue", w.config.Queue).Msg("🛑 Stopping job worker...")
	w.wg.Wait()
	log.Info().Str("queue", w.config.Queue).Msg("✅ Job worker stopped")
}

func (w *Worker) isStopped() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopped
}

func (w *Worker) loop(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if w.isStopped() {
			return
		}
		if err := w.runNext(ctx, workerID); err != nil && !errors.Is(err, ErrNoJobsAvailable) {
			log.Warn().Err(err).Int("worker", workerID).Str("queue", w.config.Queue).Msg("⚠️ Worker error")
		}
	}
}

// runNext claims one job and settles it. Handler errors are recorded on the
// job, not returned.
func (w *Worker) runNext(ctx context.Context, workerID int) error {
	job, err := w.store.Dequeue(ctx, w.config.Queue)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNoJobsAvailable
	}

	logger := log.With().Int("worker", workerID).Str("job_id", job.ID.String()).Str("type", job.Type).Logger()
	logger.Info().Int("attempt", job.Attempts).Msg("🔨 Processing job")

	w.mu.RLock()
	handler, ok := w.handlers[job.Type]
	w.mu.RUnlock()
	if !ok {
		logger.Error().Msg("❌ No handler registered for job type")
		if err := w.store.MarkFailed(ctx, job.ID, fmt.Errorf("no handler registered for job type %q", job.Type)); err != nil {
			logger.Warn().Err(err).Msg("⚠️ Failed to mark job as failed")
		}
		return nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	start := time.Now()
	result, err := handler.Handle(jobCtx, job)
	took := time.Since(start)

	if err != nil {
		logger.Error().Err(err).Dur("duration", took).Msg("❌ Job failed")
		if markErr := w.store.MarkFailed(ctx, job.ID, err); markErr != nil {
			logger.Warn().Err(markErr).Msg("⚠️ Failed to mark job as failed")
		}
		return nil
	}

	logger.Info().Dur("duration", took).Msg("✅ Job completed")
	if err := w.store.MarkCompleted(ctx, job.ID, result); err != nil {
		logger.Warn().Err(err).Msg("⚠️ Failed to mark job as completed")
	}
	return nil
}
