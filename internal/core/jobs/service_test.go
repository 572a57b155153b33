package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memBackend keeps every job in memory; workers drain it through memStore.
type memBackend struct {
	*memStore
	jobs       map[uuid.UUID]*Job
	lastFilter JobFilter
}

func newMemBackend() *memBackend {
	return &memBackend{memStore: newMemStore(), jobs: make(map[uuid.UUID]*Job)}
}

func (b *memBackend) Enqueue(ctx context.Context, jobType string, payload interface{}, opts EnqueueOptions) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:          uuid.New(),
		Queue:       opts.Queue,
		Type:        jobType,
		Payload:     body,
		Status:      StatusPending,
		MaxRetries:  opts.MaxRetries,
		ScheduledAt: opts.ScheduleAt,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.ID] = job
	b.pending = append(b.pending, job)
	return job, nil
}

func (b *memBackend) Cancel(ctx context.Context, jobID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if !job.Status.Cancellable() {
		return fmt.Errorf("%w: job is %s", ErrJobNotCancellable, job.Status)
	}
	job.Status = StatusCancelled
	return nil
}

func (b *memBackend) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if job, ok := b.jobs[jobID]; ok {
		return job, nil
	}
	return nil, ErrJobNotFound
}

func (b *memBackend) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFilter = filter
	var out []Job
	for _, j := range b.jobs {
		if filter.Status == "" || j.Status == filter.Status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (b *memBackend) GetStats(ctx context.Context) (*JobStats, error) {
	return &JobStats{}, nil
}

func (b *memBackend) DeleteOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func TestServiceEnqueueDelayed(t *testing.T) {
	tests := []struct {
		name      string
		delay     time.Duration
		scheduled bool
	}{
		{"immediate", 0, false},
		{"negative", -time.Minute, false},
		{"delayed", 30 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewServiceWithBackend(newMemBackend())
			before := time.Now()
			job, err := svc.EnqueueDelayed(context.Background(), "detect_plate", map[string]string{"image_path": "a.jpg"}, tt.delay, DefaultEnqueueOptions())
			if err != nil {
				t.Fatal(err)
			}
			if got := job.ScheduledAt != nil; got != tt.scheduled {
				t.Fatalf("scheduled: got %v, want %v", got, tt.scheduled)
			}
			if tt.scheduled && job.ScheduledAt.Before(before.Add(tt.delay)) {
				t.Errorf("scheduled at %v, want at least %v", job.ScheduledAt, before.Add(tt.delay))
			}
			if job.Queue != DefaultQueue {
				t.Errorf("queue: got %q, want %q", job.Queue, DefaultQueue)
			}
		})
	}
}

func TestServiceCancel(t *testing.T) {
	backend := newMemBackend()
	svc := NewServiceWithBackend(backend)
	ctx := context.Background()

	pending, _ := svc.Enqueue(ctx, "detect_plate", nil, DefaultEnqueueOptions())
	running, _ := svc.Enqueue(ctx, "detect_plate", nil, DefaultEnqueueOptions())
	running.Status = StatusProcessing

	tests := []struct {
		name string
		id   uuid.UUID
		want error
	}{
		{"pending", pending.ID, nil},
		{"already cancelled", pending.ID, ErrJobNotCancellable},
		{"running", running.ID, ErrJobNotCancellable},
		{"unknown", uuid.New(), ErrJobNotFound},
	}
	for _, tt := range tests {
		err := svc.Cancel(ctx, tt.id)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
	if pending.Status != StatusCancelled {
		t.Errorf("status: got %s, want cancelled", pending.Status)
	}
}

func TestServiceListJobsClampsLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{10, 10},
		{10000, MaxListLimit},
	}
	for _, tt := range tests {
		backend := newMemBackend()
		svc := NewServiceWithBackend(backend)
		if _, err := svc.ListJobs(context.Background(), JobFilter{Limit: tt.in}); err != nil {
			t.Fatal(err)
		}
		if backend.lastFilter.Limit != tt.want {
			t.Errorf("limit %d: got %d, want %d", tt.in, backend.lastFilter.Limit, tt.want)
		}
	}
}

func TestServiceWorkersDrainQueue(t *testing.T) {
	backend := newMemBackend()
	svc := NewServiceWithBackend(backend)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := svc.Enqueue(ctx, "echo", map[string]string{"msg": "plate"}, DefaultEnqueueOptions())
	if err != nil {
		t.Fatal(err)
	}
	svc.RegisterWorker(WorkerConfig{PollInterval: 5 * time.Millisecond}, echoHandler{})
	if err := svc.StartWorkers(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for backend.done() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	svc.StopWorkers()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if _, ok := backend.completed[job.ID]; !ok {
		t.Error("job on the default queue was not completed")
	}
}
