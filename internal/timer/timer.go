// Package timer runs delayed and periodic tasks. A single goroutine tracks
// deadlines and hands due tasks to a bounded pool of workers, so a slow task
// never delays the others.
package timer

import (
	"container/heap"
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// How long a due task waits before being offered to the workers again when
// all of them are busy and the backlog is full.
const retryDelay = 10 * time.Millisecond

// Handle refers to a scheduled task.
type Handle struct {
	at     time.Time
	period time.Duration
	fn     func()
	index  int
}

type Scheduler struct {
	logger  *logrus.Logger
	workers int

	mu    sync.Mutex
	queue taskQueue
	wake  chan struct{}
	work  chan func()
	wg    sync.WaitGroup
}

// NewScheduler returns a scheduler with the given number of workers and
// room for backlog due tasks waiting for one.
func NewScheduler(workers, backlog int, logger *logrus.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		logger:  logger,
		workers: workers,
		wake:    make(chan struct{}, 1),
		work:    make(chan func(), backlog),
	}
}

// Start launches the scheduler until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(s.workers + 1)
	for i := 0; i < s.workers; i++ {
		go s.worker()
	}
	go s.run(ctx)
}

// Wait blocks until the scheduler and its workers have exited.
func (s *Scheduler) Wait() { s.wg.Wait() }

// After runs fn once d has elapsed.
func (s *Scheduler) After(d time.Duration, fn func()) *Handle {
	return s.schedule(&Handle{at: time.Now().Add(d), fn: fn})
}

// Every runs fn every period, starting one period from now.
func (s *Scheduler) Every(period time.Duration, fn func()) *Handle {
	return s.schedule(&Handle{at: time.Now().Add(period), period: period, fn: fn})
}

func (s *Scheduler) schedule(h *Handle) *Handle {
	s.mu.Lock()
	heap.Push(&s.queue, h)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return h
}

// Cancel removes a task that has not fired yet and stops a periodic one.
// It reports whether the task was still scheduled. A task already handed to
// a worker still runs.
func (s *Scheduler) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.index < 0 {
		return false
	}
	heap.Remove(&s.queue, h.index)
	return true
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.work)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next := s.fireDue(time.Now())
		if next > 0 {
			timer.Reset(next)
		} else {
			timer.Stop()
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// fireDue hands every due task to the workers and returns the delay until
// the next deadline, or zero when nothing is scheduled.
func (s *Scheduler) fireDue(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) > 0 {
		h := s.queue[0]
		if h.at.After(now) {
			return h.at.Sub(now)
		}

		select {
		case s.work <- h.fn:
			if h.period > 0 {
				h.at = h.at.Add(h.period)
				heap.Fix(&s.queue, 0)
			} else {
				heap.Pop(&s.queue)
			}
		default:
			s.logger.Debug("timer workers are saturated, delaying due task")
			h.at = now.Add(retryDelay)
			heap.Fix(&s.queue, 0)
		}
	}
	return 0
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for fn := range s.work {
		s.execute(fn)
	}
}

func (s *Scheduler) execute(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			s.logger.Errorf("timer task panicked: %v, trace: %s", err, debug.Stack())
		}
	}()
	fn()
}

// taskQueue orders handles by deadline.
type taskQueue []*Handle

func (q taskQueue) Len() int           { return len(q) }
func (q taskQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	h := x.(*Handle)
	h.index = len(*q)
	*q = append(*q, h)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*q = old[:n-1]
	return h
}
