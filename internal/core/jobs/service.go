package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service is the detection job queue plus the workers draining it.
type Service struct {
	backend Backend

	mu      sync.Mutex
	workers []*Worker
}

// NewService uses the Postgres queue in db.
func NewService(db *gorm.DB) *Service {
	return NewServiceWithBackend(NewQueue(db))
}

func NewServiceWithBackend(backend Backend) *Service {
	return &Service{backend: backend}
}

func (s *Service) Enqueue(ctx context.Context, jobType string, payload interface{}, opts EnqueueOptions) (*Job, error) {
	return s.backend.Enqueue(ctx, jobType, payload, opts)
}

// EnqueueDelayed holds the job back until delay has passed. A delay of zero
// or less enqueues it right away.
func (s *Service) EnqueueDelayed(ctx context.Context, jobType string, payload interface{}, delay time.Duration, opts EnqueueOptions) (*Job, error) {
	if delay > 0 {
		at := time.Now().Add(delay)
		opts.ScheduleAt = &at
	}
	return s.Enqueue(ctx, jobType, payload, opts)
}

// Cancel returns ErrJobNotFound or ErrJobNotCancellable when nothing changed.
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return s.backend.Cancel(ctx, jobID)
}

func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	return s.backend.GetJob(ctx, jobID)
}

func (s *Service) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	filter.Limit = listLimit(filter.Limit)
	return s.backend.ListJobs(ctx, filter)
}

func (s *Service) GetStats(ctx context.Context) (*JobStats, error) {
	return s.backend.GetStats(ctx)
}

// RegisterWorker adds a worker for config.Queue running handlers. It starts
// with StartWorkers.
func (s *Service) RegisterWorker(config WorkerConfig, handlers ...JobHandler) *Worker {
	w := NewWorker(s.backend, config)
	for _, h := range handlers {
		w.RegisterHandler(h)
	}

	s.mu.Lock()
	s.workers = append(s.workers, w)
	s.mu.Unlock()
	return w
}

func (s *Service) StartWorkers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}
	return nil
}

// StopWorkers stops every worker in parallel and waits for running jobs.
func (s *Service) StopWorkers() {
	s.mu.Lock()
	workers := append([]*Worker(nil), s.workers...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

// Cleanup deletes finished jobs older than olderThan. Stored images and
// detection records are not touched.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.backend.DeleteOldJobs(ctx, olderThan)
}
