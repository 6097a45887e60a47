package timer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rallypoint/rallypoint/internal/core"
)

func startScheduler(t *testing.T, workers, backlog int) *Scheduler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(workers, backlog, core.DiscardLogger())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	return s
}

func TestScheduler_AfterRunsInDeadlineOrder(t *testing.T) {
	s := startScheduler(t, 1, 8)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	record := func(n int) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, n)
			if len(got) == 3 {
				close(done)
			}
		}
	}
	s.After(60*time.Millisecond, record(3))
	s.After(20*time.Millisecond, record(1))
	s.After(40*time.Millisecond, record(2))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
		t.Errorf("unexpected order; diff:\n%s", diff)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := startScheduler(t, 1, 8)

	var fired atomic.Bool
	h := s.After(30*time.Millisecond, func() { fired.Store(true) })
	if !s.Cancel(h) {
		t.Fatal("expected Cancel() to report a scheduled task")
	}
	if s.Cancel(h) {
		t.Error("expected a second Cancel() to report false")
	}

	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled task ran")
	}
}

func TestScheduler_Every(t *testing.T) {
	s := startScheduler(t, 2, 8)

	var count atomic.Int32
	h := s.Every(10*time.Millisecond, func() { count.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for count.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("periodic task only ran %d times", count.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Cancel(h)
	time.Sleep(30 * time.Millisecond)
	after := count.Load()
	time.Sleep(50 * time.Millisecond)
	if count.Load() != after {
		t.Errorf("periodic task kept running after Cancel()")
	}
}

func TestScheduler_SaturatedWorkersDelayTasks(t *testing.T) {
	s := startScheduler(t, 1, 0)

	release := make(chan struct{})
	var ran atomic.Int32
	s.After(time.Millisecond, func() {
		<-release
		ran.Add(1)
	})
	for i := 0; i < 3; i++ {
		s.After(time.Millisecond, func() { ran.Add(1) })
	}

	time.Sleep(50 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatalf("expected no task to complete while the worker is blocked, got %d", ran.Load())
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for ran.Load() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("expected all 4 tasks to run, got %d", ran.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := startScheduler(t, 1, 4)

	s.After(time.Millisecond, func() { panic("boom") })
	done := make(chan struct{})
	s.After(20*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}
