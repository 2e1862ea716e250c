// Package scheduler runs the controller's perpetual tasks and the short-lived
// sub-tasks they spawn.
//
// Each top-level task is a loop of Step followed by a yield of Interval. A
// failing or panicking step is logged and counted and the loop carries on:
// nothing a task does can stop the scheduler. Sub-tasks run concurrently with
// their spawner and are tracked so shutdown can drain them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-tacton/pkg/events"
)

// Task is a perpetual behaviour driven by the scheduler.
type Task interface {
	// Name identifies the task in logs and stats.
	Name() string

	// Interval is the yield between two steps.
	Interval() time.Duration

	// Step runs one iteration. Errors are logged, never fatal.
	Step(ctx context.Context) error
}

// Spawner starts sub-tasks. Scheduler implements it; tests can fake it.
type Spawner interface {
	Spawn(name string, fn func(ctx context.Context) error)
}

// TaskStats counts what one top-level task has done.
type TaskStats struct {
	Steps     uint64 `json:"steps"`
	Errors    uint64 `json:"errors"`
	Panics    uint64 `json:"panics"`
	LastError string `json:"last_error,omitempty"`
}

// Stats is a snapshot of scheduler activity.
type Stats struct {
	Tasks     map[string]TaskStats `json:"tasks"`
	Spawned   uint64               `json:"spawned"`
	Completed uint64               `json:"completed"`
	Failed    uint64               `json:"failed"`
	Dropped   uint64               `json:"dropped"`
	Running   int64                `json:"running"`
}

type taskState struct {
	task Task
	mu   sync.Mutex
	st   TaskStats
}

// Scheduler multiplexes top-level tasks and spawned sub-tasks.
type Scheduler struct {
	log  *slog.Logger
	sink events.Sink

	tasks []*taskState

	mu     sync.Mutex
	ctx    context.Context
	closed bool
	subs   sync.WaitGroup

	spawned   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	running   atomic.Int64
}

// New creates a scheduler for the given top-level tasks.
func New(log *slog.Logger, sink events.Sink, tasks ...Task) *Scheduler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if sink == nil {
		sink = events.Nop
	}
	s := &Scheduler{
		log:  log,
		sink: sink,
		ctx:  context.Background(),
	}
	for _, t := range tasks {
		s.tasks = append(s.tasks, &taskState{task: t})
	}
	return s
}

// Add registers another top-level task. Call before Run.
func (s *Scheduler) Add(t Task) {
	s.tasks = append(s.tasks, &taskState{task: t})
}

// Run drives every top-level task until ctx is cancelled, then waits for
// in-flight sub-tasks to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already stopped")
	}
	s.ctx = ctx
	s.mu.Unlock()

	s.log.Info("scheduler started", "tasks", len(s.tasks))

	var loops sync.WaitGroup
	for _, ts := range s.tasks {
		loops.Add(1)
		go func(ts *taskState) {
			defer loops.Done()
			s.loop(ctx, ts)
		}(ts)
	}
	loops.Wait()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.subs.Wait()

	s.log.Info("scheduler stopped",
		"spawned", s.spawned.Load(),
		"completed", s.completed.Load(),
		"failed", s.failed.Load())
	return ctx.Err()
}

// Spawn starts fn concurrently with the caller. The spawner gets no handle:
// failures are logged and counted here. Spawns after shutdown are dropped.
func (s *Scheduler) Spawn(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.dropped.Add(1)
		s.log.Debug("sub-task dropped after shutdown", "task", name)
		return
	}
	ctx := s.ctx
	s.subs.Add(1)
	s.mu.Unlock()

	s.spawned.Add(1)
	s.running.Add(1)

	go func() {
		defer s.subs.Done()
		defer s.running.Add(-1)

		if err := s.guard(ctx, fn); err != nil {
			s.failed.Add(1)
			s.log.Warn("sub-task failed", "task", name, "error", err)
			s.sink.Emit(events.New(events.TaskFailed, "task", name, "error", err.Error()))
			return
		}
		s.completed.Add(1)
	}()
}

// Stats returns a snapshot of counters.
func (s *Scheduler) Stats() Stats {
	out := Stats{
		Tasks:     make(map[string]TaskStats, len(s.tasks)),
		Spawned:   s.spawned.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
		Running:   s.running.Load(),
	}
	for _, ts := range s.tasks {
		ts.mu.Lock()
		out.Tasks[ts.task.Name()] = ts.st
		ts.mu.Unlock()
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, ts *taskState) {
	name := ts.task.Name()
	log := s.log.With("task", name)
	log.Debug("task started", "interval", ts.task.Interval())

	for {
		if ctx.Err() != nil {
			log.Debug("task stopped")
			return
		}

		err := s.guard(ctx, ts.task.Step)

		ts.mu.Lock()
		ts.st.Steps++
		if err != nil {
			ts.st.Errors++
			ts.st.LastError = err.Error()
			if _, ok := err.(*PanicError); ok {
				ts.st.Panics++
			}
		}
		errCount := ts.st.Errors
		ts.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			// Sensors fail in bursts; keep the log readable.
			if errCount <= 3 || errCount%100 == 0 {
				log.Warn("task step failed", "error", err, "errors", errCount)
			}
		}

		if err := Yield(ctx, ts.task.Interval()); err != nil {
			log.Debug("task stopped")
			return
		}
	}
}

// guard runs fn and converts a panic into an error.
func (s *Scheduler) guard(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// PanicError is returned for a step or sub-task that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("scheduler: panic: %v", e.Value)
}

// Yield suspends the caller for d, returning early with ctx.Err() on
// cancellation. A non-positive d only checks ctx.
func Yield(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
