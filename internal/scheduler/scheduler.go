// Package scheduler implements the cron-like task dispatcher and
// the daily auto-irrigation service.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/model"
	"github.com/irrignode/controller/internal/worker"
)

var log = logging.New("task-scheduler")

// loopInterval is how often the scheduler wakes up to check whether any
// registered task is due.
const loopInterval = 1 * time.Second

// Task is one periodic background job.
type Task struct {
	Name     string
	Fn       func(ctx context.Context)
	Interval time.Duration

	lastRun time.Time
}

// Scheduler runs one SCHEDULER worker that dispatches registered tasks at
// their configured interval, each task body running as its own GENERAL
// worker through the thread manager so a slow task never blocks the
// scheduler loop itself.
type Scheduler struct {
	workers *worker.Manager

	mu    sync.Mutex
	tasks map[string]*Task
}

// New returns a scheduler dispatching through workers.
func New(workers *worker.Manager) *Scheduler {
	return &Scheduler{workers: workers, tasks: make(map[string]*Task)}
}

// Register adds a periodic task. It is an error to register the same
// name twice.
func (s *Scheduler) Register(name string, interval time.Duration, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %q is already registered", name)
	}
	s.tasks[name] = &Task{Name: name, Fn: fn, Interval: interval}
	log.Debugf("registered task %q with interval %s", name, interval)
	return nil
}

// Start spawns the scheduler's SCHEDULER worker.
func (s *Scheduler) Start() error {
	_, err := s.workers.Start(model.TaskScheduler, "main", s.runLoop, nil)
	return err
}

// Stop signals the scheduler loop to exit and waits for it to finish.
func (s *Scheduler) Stop(timeout time.Duration) error {
	return s.workers.Stop(model.TaskScheduler, "main", timeout)
}

func (s *Scheduler) runLoop(ctx context.Context) error {
	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if t.lastRun.IsZero() || now.Sub(t.lastRun) >= t.Interval {
			t.lastRun = now
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		fn := t.Fn
		name := t.Name
		_, err := s.workers.Start(model.TaskGeneral, name+"-"+now.Format("150405.000"), func(ctx context.Context) error {
			fn(ctx)
			return nil
		}, nil)
		if err != nil {
			log.Errorf("failed to dispatch task %q: %v", name, err)
		}
	}
}
