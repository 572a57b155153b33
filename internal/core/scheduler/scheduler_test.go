package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCleaner struct {
	calls     int32
	olderThan time.Duration
	err       error
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	f.olderThan = olderThan
	return 3, f.err
}

func TestAddTaskReplacesByName(t *testing.T) {
	s := NewScheduler()

	if err := s.AddTask("a", "0 0 3 * * *", func() {}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTask("a", "0 30 3 * * *", func() {}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTask("b", "*/5 * * * * *", func() {}); err != nil {
		t.Fatal(err)
	}

	names := s.GetScheduledTasks()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("got %v, want [a b]", names)
	}
	if len(s.cron.Entries()) != 2 {
		t.Errorf("cron entries: got %d, want 2", len(s.cron.Entries()))
	}

	s.RemoveTask("a")
	if got := s.GetScheduledTasks(); len(got) != 1 || got[0] != "b" {
		t.Errorf("got %v, want [b]", got)
	}
}

func TestAddTaskRejectsBadSchedule(t *testing.T) {
	s := NewScheduler()
	// five fields are not enough with seconds enabled
	if err := s.AddTask("bad", "0 3 * * *", func() {}); err == nil {
		t.Error("expected error for five-field schedule")
	}
	if len(s.GetScheduledTasks()) != 0 {
		t.Error("bad task should not be registered")
	}
}

func TestJobCleanupRuns(t *testing.T) {
	s := NewScheduler()
	cleaner := &fakeCleaner{}
	if err := s.AddJobCleanup("* * * * * *", cleaner, 48*time.Hour); err != nil {
		t.Fatal(err)
	}

	s.Start()
	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&cleaner.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()

	if atomic.LoadInt32(&cleaner.calls) == 0 {
		t.Fatal("cleanup never ran")
	}
	if cleaner.olderThan != 48*time.Hour {
		t.Errorf("retention: got %v, want %v", cleaner.olderThan, 48*time.Hour)
	}
}

func TestRunCleanupSurvivesErrors(t *testing.T) {
	cleaner := &fakeCleaner{err: errors.New("db down")}
	runCleanup(cleaner, time.Hour)
	if cleaner.calls != 1 {
		t.Errorf("calls: got %d, want 1", cleaner.calls)
	}
}
