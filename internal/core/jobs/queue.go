package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancellable is returned for jobs that already started or finished.
	ErrJobNotCancellable = errors.New("job can no longer be cancelled")
)

// maxRetryDelay caps the wait before a failed detection is claimed again.
const maxRetryDelay = time.Hour

// Queue is the Postgres job table. Workers claim rows with
// FOR UPDATE SKIP LOCKED so the API and extra worker processes can share it.
type Queue struct {
	db *gorm.DB
}

func NewQueue(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}, opts EnqueueOptions) (*Job, error) {
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", jobType, err)
	}

	job := &Job{
		Queue:       opts.Queue,
		Type:        jobType,
		Payload:     body,
		Status:      StatusPending,
		Priority:    opts.Priority,
		MaxRetries:  opts.MaxRetries,
		ScheduledAt: opts.ScheduleAt,
	}
	if opts.Metadata != nil {
		if job.Metadata, err = json.Marshal(opts.Metadata); err != nil {
			return nil, fmt.Errorf("failed to encode job metadata: %w", err)
		}
	}

	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Dequeue claims the most urgent runnable job of queueName and marks it
// processing. It returns nil, nil when nothing is due.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	var job Job

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND status IN ?", queueName, []JobStatus{StatusPending, StatusRetrying}).
			Where("scheduled_at IS NULL OR scheduled_at <= ?", now).
			Order("priority DESC, created_at ASC").
			First(&job).Error
		if err != nil {
			return err
		}

		job.Status = StatusProcessing
		job.StartedAt = &now
		job.Attempts++
		return tx.Save(&job).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	return &job, nil
}

func (q *Queue) MarkCompleted(ctx context.Context, jobID uuid.UUID, result interface{}) error {
	updates := map[string]interface{}{
		"status":       StatusCompleted,
		"completed_at": time.Now(),
		"error":        "",
	}
	if result != nil {
		body, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode job result: %w", err)
		}
		updates["result"] = body
	}
	return q.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error
}

// MarkFailed records cause and either reschedules the job with backoff or
// fails it for good once its attempts are used up.
func (q *Queue) MarkFailed(ctx context.Context, jobID uuid.UUID, cause error) error {
	var job Job
	if err := q.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	now := time.Now()
	job.Error = cause.Error()
	job.FailedAt = &now
	if job.Attempts < job.MaxRetries {
		next := now.Add(retryDelay(job.Attempts))
		job.Status = StatusRetrying
		job.ScheduledAt = &next
	} else {
		job.Status = StatusFailed
	}
	return q.db.WithContext(ctx).Save(&job).Error
}

// Cancel stops a job that no worker has claimed yet.
func (q *Queue) Cancel(ctx context.Context, jobID uuid.UUID) error {
	res := q.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", jobID, []JobStatus{StatusPending, StatusRetrying}).
		Update("status", StatusCancelled)
	if res.Error != nil {
		return fmt.Errorf("failed to cancel job: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job is %s", ErrJobNotCancellable, job.Status)
}

func (q *Queue) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	var job Job
	err := q.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns the newest jobs matching filter.
func (q *Queue) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	query := q.db.WithContext(ctx).Model(&Job{})
	if filter.Queue != "" {
		query = query.Where("queue = ?", filter.Queue)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Priority != nil {
		query = query.Where("priority = ?", *filter.Priority)
	}

	var list []Job
	err := query.Order("created_at DESC").Limit(listLimit(filter.Limit)).Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return list, nil
}

func (q *Queue) GetStats(ctx context.Context) (*JobStats, error) {
	db := q.db.WithContext(ctx)

	var rows []statsRow
	err := db.Model(&Job{}).
		Select("queue, type, status, COUNT(*) AS count").
		Group("queue, type, status").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	stats := aggregateStats(rows)

	var avgWait *float64
	err = db.Model(&Job{}).
		Select("AVG(EXTRACT(EPOCH FROM (started_at - created_at)))").
		Where("started_at IS NOT NULL").
		Scan(&avgWait).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute job wait time: %w", err)
	}
	if avgWait != nil {
		stats.AverageWaitTime = *avgWait
	}
	return stats, nil
}

// DeleteOldJobs removes finished jobs last updated before now - olderThan.
func (q *Queue) DeleteOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := q.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []JobStatus{StatusCompleted, StatusFailed, StatusCancelled}, cutoff).
		Delete(&Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

type statsRow struct {
	Queue  string
	Type   string
	Status JobStatus
	Count  int64
}

func aggregateStats(rows []statsRow) *JobStats {
	stats := &JobStats{
		JobsByQueue: make(map[string]int64),
		JobsByType:  make(map[string]int64),
	}
	for _, r := range rows {
		stats.TotalJobs += r.Count
		stats.JobsByQueue[r.Queue] += r.Count
		stats.JobsByType[r.Type] += r.Count
		switch r.Status {
		case StatusPending:
			stats.PendingJobs += r.Count
		case StatusProcessing:
			stats.ProcessingJobs += r.Count
		case StatusRetrying:
			stats.RetryingJobs += r.Count
		case StatusCompleted:
			stats.CompletedJobs += r.Count
		case StatusFailed:
			stats.FailedJobs += r.Count
		case StatusCancelled:
			stats.CancelledJobs += r.Count
		}
	}
	return stats
}

// retryDelay doubles per attempt from one second, capped at maxRetryDelay.
func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= 12 {
		return maxRetryDelay
	}
	d := time.Duration(1<<attempts) * time.Second
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func listLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}
