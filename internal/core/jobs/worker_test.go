package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	mu        sync.Mutex
	pending   []*Job
	completed map[uuid.UUID]interface{}
	failed    map[uuid.UUID]error
}

func newMemStore(jobs ...*Job) *memStore {
	return &memStore{
		pending:   jobs,
		completed: make(map[uuid.UUID]interface{}),
		failed:    make(map[uuid.UUID]error),
	}
}

func (m *memStore) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, j := range m.pending {
		if j.Queue == queueName {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			j.Attempts++
			return j, nil
		}
	}
	return nil, nil
}

func (m *memStore) MarkCompleted(ctx context.Context, jobID uuid.UUID, result interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[jobID] = result
	return nil
}

func (m *memStore) MarkFailed(ctx context.Context, jobID uuid.UUID, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[jobID] = err
	return nil
}

func (m *memStore) done() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed) + len(m.failed)
}

type echoHandler struct{}

func (echoHandler) GetType() string { return "echo" }

func (echoHandler) Handle(ctx context.Context, job *Job) (interface{}, error) {
	var p map[string]string
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, err
	}
	if p["fail"] == "yes" {
		return nil, errors.New("asked to fail")
	}
	return p, nil
}

func TestWorkerProcessesJobs(t *testing.T) {
	ok := &Job{ID: uuid.New(), Queue: "plates", Type: "echo", Payload: []byte(`{"msg":"hi"}`)}
	bad := &Job{ID: uuid.New(), Queue: "plates", Type: "echo", Payload: []byte(`{"fail":"yes"}`)}
	unknown := &Job{ID: uuid.New(), Queue: "plates", Type: "mystery", Payload: []byte(`{}`)}
	other := &Job{ID: uuid.New(), Queue: "elsewhere", Type: "echo", Payload: []byte(`{}`)}
	store := newMemStore(ok, bad, unknown, other)

	w := NewWorker(store, WorkerConfig{Queue: "plates", Concurrency: 2, PollInterval: 5 * time.Millisecond})
	w.RegisterHandler(echoHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.done() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	if res, ok2 := store.completed[ok.ID]; !ok2 {
		t.Error("ok job not completed")
	} else if res.(map[string]string)["msg"] != "hi" {
		t.Errorf("result: got %v", res)
	}
	if store.failed[bad.ID] == nil {
		t.Error("bad job should fail")
	}
	if store.failed[unknown.ID] == nil {
		t.Error("job without handler should fail")
	}
	if len(store.pending) != 1 || store.pending[0].ID != other.ID {
		t.Error("job on another queue should be left alone")
	}
}

func TestWorkerCannotRestartAfterStop(t *testing.T) {
	w := NewWorker(newMemStore(), WorkerConfig{PollInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	if err := w.Start(ctx); err == nil {
		t.Error("expected error restarting a stopped worker")
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{5, 32 * time.Second},
		{11, 2048 * time.Second},
		{12, time.Hour},
		{64, time.Hour},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.attempts); got != tt.want {
			t.Errorf("retryDelay(%d): got %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestAggregateStats(t *testing.T) {
	stats := aggregateStats([]statsRow{
		{Queue: "plates", Type: "detect_plate", Status: StatusPending, Count: 2},
		{Queue: "plates", Type: "detect_plate", Status: StatusCompleted, Count: 5},
		{Queue: "plates", Type: "detect_plate", Status: StatusCancelled, Count: 1},
		{Queue: "reprocess", Type: "detect_plate", Status: StatusFailed, Count: 3},
	})

	if stats.TotalJobs != 11 {
		t.Errorf("TotalJobs: got %d, want 11", stats.TotalJobs)
	}
	if stats.PendingJobs != 2 || stats.CompletedJobs != 5 || stats.CancelledJobs != 1 || stats.FailedJobs != 3 {
		t.Errorf("by status: got %+v", stats)
	}
	if stats.JobsByQueue["plates"] != 8 || stats.JobsByQueue["reprocess"] != 3 {
		t.Errorf("JobsByQueue: got %v", stats.JobsByQueue)
	}
	if stats.JobsByType["detect_plate"] != 11 {
		t.Errorf("JobsByType: got %v", stats.JobsByType)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want JobStatus
		ok   bool
	}{
		{"pending", StatusPending, true},
		{" Cancelled ", StatusCancelled, true},
		{"done", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseStatus(%q): got %q %v, want %q %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
