package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobStatus is where a job is in its lifecycle: pending or retrying jobs wait
// to be claimed, processing jobs are held by a worker, the rest are final.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusRetrying   JobStatus = "retrying"
	StatusCancelled  JobStatus = "cancelled"
)

// JobPriority orders claiming; higher runs first.
type JobPriority int

const (
	PriorityLow      JobPriority = 0
	PriorityNormal   JobPriority = 5
	PriorityHigh     JobPriority = 10
	PriorityCritical JobPriority = 20
)

// Job is one queued detection. Payload is the request body of /detect/async
// and Result the summary the handler returned.
type Job struct {
	ID      uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Queue   string         `json:"queue" gorm:"type:varchar(100);not null;index"`
	Type    string         `json:"type" gorm:"type:varchar(100);not null"`
	Payload datatypes.JSON `json:"payload" gorm:"type:jsonb"`

	Status   JobStatus   `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	Priority JobPriority `json:"priority" gorm:"type:int;not null;default:5;index"`

	Attempts   int `json:"attempts" gorm:"not null;default:0"`
	MaxRetries int `json:"max_retries" gorm:"not null;default:3"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty" gorm:"index"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	Error    string         `json:"error,omitempty" gorm:"type:text"`
	Result   datatypes.JSON `json:"result,omitempty" gorm:"type:jsonb"`
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// JobHandler runs one job type. The returned value is stored as the job result.
type JobHandler interface {
	Handle(ctx context.Context, job *Job) (interface{}, error)
	GetType() string
}

// Store is what a Worker claims and settles jobs through.
type Store interface {
	Dequeue(ctx context.Context, queueName string) (*Job, error)
	MarkCompleted(ctx context.Context, jobID uuid.UUID, result interface{}) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, err error) error
}

// Backend is the full queue behind a Service. Queue is the Postgres one.
type Backend interface {
	Store
	Enqueue(ctx context.Context, jobType string, payload interface{}, opts EnqueueOptions) (*Job, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	GetStats(ctx context.Context) (*JobStats, error)
	DeleteOldJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

const (
	// DefaultQueue is where detection jobs go unless told otherwise.
	DefaultQueue      = "plates"
	DefaultMaxRetries = 3

	DefaultListLimit = 50
	MaxListLimit     = 200
)

// EnqueueOptions control where and when a job runs.
type EnqueueOptions struct {
	Queue      string
	Priority   JobPriority
	MaxRetries int
	ScheduleAt *time.Time
	Metadata   map[string]interface{}
}

func DefaultEnqueueOptions() EnqueueOptions {
	return EnqueueOptions{
		Queue:      DefaultQueue,
		Priority:   PriorityNormal,
		MaxRetries: DefaultMaxRetries,
	}
}

// JobFilter narrows ListJobs. Empty fields match everything.
type JobFilter struct {
	Queue    string
	Type     string
	Status   JobStatus
	Priority *JobPriority
	Limit    int
}

// ParseStatus accepts a known status name, case-insensitively.
func ParseStatus(s string) (JobStatus, bool) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying, StatusCancelled:
		return st, true
	}
	return "", false
}

// Cancellable reports whether a job has not been picked up yet.
func (s JobStatus) Cancellable() bool {
	return s == StatusPending || s == StatusRetrying
}

// JobStats is the queue overview served by /jobs/stats.
type JobStats struct {
	TotalJobs       int64            `json:"total_jobs"`
	PendingJobs     int64            `json:"pending_jobs"`
	ProcessingJobs  int64            `json:"processing_jobs"`
	RetryingJobs    int64            `json:"retrying_jobs"`
	CompletedJobs   int64            `json:"completed_jobs"`
	FailedJobs      int64            `json:"failed_jobs"`
	CancelledJobs   int64            `json:"cancelled_jobs"`
	JobsByQueue     map[string]int64 `json:"jobs_by_queue"`
	JobsByType      map[string]int64 `json:"jobs_by_type"`
	AverageWaitTime float64          `json:"average_wait_time_seconds"`
}

// WorkerConfig sizes the goroutines polling one queue.
type WorkerConfig struct {
	Queue        string
	Concurrency  int
	PollInterval time.Duration
	// Timeout bounds a single detection, download and OCR retries included.
	Timeout time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Queue:        DefaultQueue,
		Concurrency:  2,
		PollInterval: time.Second,
		Timeout:      10 * time.Minute,
	}
}
