package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler runs named maintenance tasks on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	tasks   map[string]cron.EntryID // task name -> entry_id
	tasksMu sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()), // Support seconds in cron expressions
		tasks: make(map[string]cron.EntryID),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	log.Info().Msg("⏰ Starting scheduler...")
	s.cron.Start()
	log.Info().Msg("✅ Scheduler started")
}

// Stop stops the scheduler and waits for running tasks
func (s *Scheduler) Stop() {
	log.Info().Msg("⏰ Stopping scheduler...")
	<-s.cron.Stop().Done()
	log.Info().Msg("✅ Scheduler stopped")
}

// AddTask schedules task under name, replacing any previous task with that name.
// schedule is a six-field cron expression (e.g. "0 0 3 * * *" for daily at 3 AM)
func (s *Scheduler) AddTask(name, schedule string, task func()) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	if entryID, exists := s.tasks[name]; exists {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
	}

	entryID, err := s.cron.AddFunc(schedule, task)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.tasks[name] = entryID
	log.Info().Str("task", name).Str("schedule", schedule).Msg("✅ Scheduled task")
	return nil
}

// RemoveTask removes a task from the scheduler
func (s *Scheduler) RemoveTask(name string) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	if entryID, exists := s.tasks[name]; exists {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
		log.Info().Str("task", name).Msg("✅ Removed scheduled task")
	}
}

// GetScheduledTasks returns all currently scheduled task names
func (s *Scheduler) GetScheduledTasks() []string {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// Cleaner removes finished queue jobs older than a cutoff.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupTaskName is the name the queue cleanup is registered under.
const CleanupTaskName = "job-cleanup"

// AddJobCleanup prunes finished jobs older than retention. Only queue rows are
// removed; stored plate crops and results are left alone.
func (s *Scheduler) AddJobCleanup(schedule string, cleaner Cleaner, retention time.Duration) error {
	return s.AddTask(CleanupTaskName, schedule, func() {
		runCleanup(cleaner, retention)
	})
}

func runCleanup(cleaner Cleaner, retention time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := cleaner.Cleanup(ctx, retention)
	if err != nil {
		log.Error().Err(err).Msg("❌ Job cleanup failed")
		return
	}
	log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("🧹 Job cleanup complete")
}
