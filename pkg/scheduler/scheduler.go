// Package scheduler runs periodic background tasks, each on its own
// goroutine.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/logging"
	"github.com/sirupsen/logrus"
)

// Task is one invocation of periodic work. The context is cancelled when
// the scheduler shuts down.
type Task func(ctx context.Context) error

// TaskID identifies a scheduled task.
type TaskID uint64

// TaskInfo describes a scheduled task for status output.
type TaskInfo struct {
	ID       TaskID        `json:"id"`
	Name     string        `json:"name"`
	Period   time.Duration `json:"period"`
	Runs     uint64        `json:"runs"`
	Failures uint64        `json:"failures"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
}

type entry struct {
	info   TaskInfo
	cancel context.CancelFunc
}

// Scheduler owns a set of periodic tasks.
type Scheduler struct {
	ctx    context.Context
	stop   context.CancelFunc
	logger *logrus.Entry

	mu     sync.Mutex
	nextID TaskID
	tasks  map[TaskID]*entry
	closed bool
	wg     sync.WaitGroup
}

// New creates a scheduler. Tasks start running as soon as they are scheduled.
func New() *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		stop:   stop,
		logger: logging.NewLogger("scheduler"),
		tasks:  make(map[TaskID]*entry),
	}
}

// Schedule runs task every period until cancelled. The first run happens
// after one period. Scheduling on a shut down scheduler returns 0.
func (s *Scheduler) Schedule(period time.Duration, name string, task Task) TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || period <= 0 {
		return 0
	}

	s.nextID++
	id := s.nextID
	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		info:   TaskInfo{ID: id, Name: name, Period: period},
		cancel: cancel,
	}
	s.tasks[id] = e

	s.wg.Add(1)
	go s.loop(ctx, e, task)
	return id
}

func (s *Scheduler) loop(ctx context.Context, e *entry, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.info.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Runs see the scheduler context, not the task's, so Cancel
			// lets an in-flight run finish.
			err := task(s.ctx)
			s.record(e, err)
		}
	}
}

func (s *Scheduler) record(e *entry, err error) {
	s.mu.Lock()
	e.info.Runs++
	e.info.LastRun = time.Now()
	e.info.LastErr = ""
	if err != nil {
		e.info.Failures++
		e.info.LastErr = err.Error()
	}
	name := e.info.Name
	s.mu.Unlock()

	if err != nil {
		s.logger.WithField("task", name).Warnf("Task failed: %v", err)
	}
}

// Cancel stops future runs of id. A run already in progress completes.
func (s *Scheduler) Cancel(id TaskID) bool {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if ok {
		e.cancel()
	}
	return ok
}

// Tasks returns a snapshot of the scheduled tasks.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for id := TaskID(1); id <= s.nextID; id++ {
		if e, ok := s.tasks[id]; ok {
			out = append(out, e.info)
		}
	}
	return out
}

// Shutdown stops every task and waits up to timeout for in-flight runs.
// It returns SHUTDOWN_TIMEOUT when they do not finish in time.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.closed = true
	s.tasks = make(map[TaskID]*entry)
	s.mu.Unlock()

	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.ShutdownTimeout("scheduler", timeout)
	}
}
