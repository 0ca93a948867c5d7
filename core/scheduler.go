package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// SchedulerState is the lifecycle position of a Scheduler. States only move
// forward.
type SchedulerState int32

const (
	SchedulerIdle SchedulerState = iota
	SchedulerRunning
	SchedulerStopping
	SchedulerStopped
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerRunning:
		return "running"
	case SchedulerStopping:
		return "stopping"
	case SchedulerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type inFlightEntry struct {
	seq  uint64
	desc *Description
}

// Scheduler dispatches the children of one tree node through its
// SchedulingStrategy and keeps track of which children are in flight.
// Schedulers of nested nodes register with their parent's Scheduler so a
// shutdown reaches the whole tree.
type Scheduler struct {
	name     string
	describe func() *Description
	strategy *SchedulingStrategy

	state atomic.Int32

	mu              sync.Mutex
	parent          *Scheduler
	children        []*Scheduler
	inFlight        map[TaskID]inFlightEntry
	nextSeq         uint64
	shutdown        bool
	interrupt       bool
	shutdownHandler func(*Description)

	scheduled atomic.Int64
	rejected  atomic.Int64

	history executionHistory
	metrics Metrics
	logger  Logger
}

// NewScheduler returns an idle Scheduler. describe is called lazily by
// Describe, so it may reflect child changes made before the node starts.
func NewScheduler(name string, describe func() *Description, strategy *SchedulingStrategy) *Scheduler {
	if strategy == nil {
		strategy = NewSequentialStrategy()
	}
	if describe == nil {
		describe = func() *Description { return ForName(name).CreateSuiteDescription() }
	}
	return &Scheduler{
		name:     name,
		describe: describe,
		strategy: strategy,
		inFlight: make(map[TaskID]inFlightEntry),
		history:  newExecutionHistory(defaultTaskHistoryCapacity),
		metrics:  &NilMetrics{},
		logger:   NewNoOpLogger(),
	}
}

// SetMetrics sets the metrics sink. Call before the first Schedule.
func (s *Scheduler) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// SetLogger sets the logger. Call before the first Schedule.
func (s *Scheduler) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetShutdownHandler sets the callback for children that will not run because
// of a shutdown: rejected by Schedule after Shutdown, or abandoned by a pool.
func (s *Scheduler) SetShutdownHandler(fn func(*Description)) {
	s.mu.Lock()
	s.shutdownHandler = fn
	s.mu.Unlock()
}

func (s *Scheduler) Name() string                  { return s.name }
func (s *Scheduler) Strategy() *SchedulingStrategy { return s.strategy }
func (s *Scheduler) Describe() *Description        { return s.describe() }

func (s *Scheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// advance moves the state forward to next; backward moves are ignored.
func (s *Scheduler) advance(next SchedulerState) {
	for {
		cur := s.state.Load()
		if SchedulerState(cur) >= next {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// Register attaches child so that shutting s down also shuts child down. If s
// is already shut down, child is shut down at once and false is returned.
func (s *Scheduler) Register(child *Scheduler) bool {
	s.mu.Lock()
	if s.shutdown {
		interrupt := s.interrupt
		s.mu.Unlock()
		child.Shutdown(interrupt)
		return false
	}
	s.children = append(s.children, child)
	s.mu.Unlock()

	child.mu.Lock()
	child.parent = s
	child.mu.Unlock()
	return true
}

func (s *Scheduler) unregister(child *Scheduler) {
	s.mu.Lock()
	s.children = slices.DeleteFunc(s.children, func(c *Scheduler) bool { return c == child })
	s.mu.Unlock()
}

// Schedule dispatches task for the child described by desc. Sequential
// strategies run it before returning. A rejection is returned to the caller,
// which must report it; rejections caused by shutdown wrap
// ErrSchedulerShutdown and have already been passed to the shutdown handler.
func (s *Scheduler) Schedule(ctx context.Context, desc *Description, task Task) error {
	s.advance(SchedulerRunning)

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.reject(desc, "shutdown")
		return fmt.Errorf("%w: %w", ErrRejectedExecution, ErrSchedulerShutdown)
	}
	id := GenerateTaskID()
	s.nextSeq++
	s.inFlight[id] = inFlightEntry{seq: s.nextSeq, desc: desc}
	s.mu.Unlock()

	observed := wrapObservedTask(task, id, desc.DisplayName(), s.name, s.strategy.Kind().String(), s.record)
	item := TaskItem{
		ID: id,
		Task: func(ctx context.Context) {
			defer s.untrack(id)
			observed(ctx)
		},
		OnAbandon: func() {
			s.untrack(id)
			s.notifyShutdown(desc)
		},
	}

	if err := s.strategy.ScheduleItem(ctx, item); err != nil {
		s.untrack(id)
		if s.isShutdown() {
			s.reject(desc, "shutdown")
			return fmt.Errorf("%w: %w", err, ErrSchedulerShutdown)
		}
		s.rejected.Add(1)
		s.metrics.RecordTaskRejected(s.name, "stopped")
		s.logger.Debug("child rejected", F("scheduler", s.name), F("child", desc.DisplayName()), F("error", err.Error()))
		return err
	}
	s.scheduled.Add(1)
	return nil
}

func (s *Scheduler) reject(desc *Description, reason string) {
	s.rejected.Add(1)
	s.metrics.RecordTaskRejected(s.name, reason)
	s.logger.Debug("child rejected", F("scheduler", s.name), F("child", desc.DisplayName()), F("reason", reason))
	s.notifyShutdown(desc)
}

func (s *Scheduler) notifyShutdown(desc *Description) {
	s.mu.Lock()
	handler := s.shutdownHandler
	s.mu.Unlock()
	if handler != nil {
		handler(desc)
	}
}

func (s *Scheduler) untrack(id TaskID) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Scheduler) record(rec TaskExecutionRecord) {
	s.history.Add(rec)
	s.metrics.RecordTaskDuration(s.name, rec.Duration)
}

func (s *Scheduler) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Finished stops the strategy and waits until every dispatched child
// completed. It returns whether the strategy was still active when called;
// false usually means a shutdown got there first.
func (s *Scheduler) Finished(ctx context.Context) (bool, error) {
	s.advance(SchedulerStopping)
	wasActive, err := s.strategy.Finished(ctx)
	if err == nil {
		s.advance(SchedulerStopped)
	}

	s.mu.Lock()
	parent := s.parent
	s.mu.Unlock()
	if parent != nil && err == nil {
		parent.unregister(s)
	}
	return wasActive, err
}

// Shutdown stops s and, top-down, every registered descendant. With interrupt
// set, private pools also cancel their running tasks. It returns the
// descriptions of children dispatched but not yet finished, s's first. Calling
// it again returns what is still in flight at that time.
func (s *Scheduler) Shutdown(interrupt bool) []*Description {
	s.mu.Lock()
	s.shutdown = true
	s.interrupt = s.interrupt || interrupt
	entries := make([]inFlightEntry, 0, len(s.inFlight))
	for _, e := range s.inFlight {
		entries = append(entries, e)
	}
	children := slices.Clone(s.children)
	s.mu.Unlock()

	s.advance(SchedulerStopping)
	if interrupt {
		s.strategy.StopNow()
	} else {
		s.strategy.Stop()
	}

	slices.SortFunc(entries, func(a, b inFlightEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	out := make([]*Description, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.desc)
	}
	for _, child := range children {
		out = append(out, child.Shutdown(interrupt)...)
	}
	return out
}

// InFlight returns the descriptions of children dispatched but not finished.
func (s *Scheduler) InFlight() []*Description {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Description, 0, len(s.inFlight))
	for _, e := range s.inFlight {
		out = append(out, e.desc)
	}
	return out
}

// Stats returns a snapshot for observability exporters.
func (s *Scheduler) Stats() SchedulerStats {
	st := s.strategy.Stats()

	s.mu.Lock()
	inFlight := len(s.inFlight)
	closed := s.shutdown
	s.mu.Unlock()

	stats := SchedulerStats{
		Name:      s.name,
		Strategy:  st.Kind,
		State:     s.State().String(),
		Pending:   st.Pending,
		Running:   st.Running,
		InFlight:  inFlight,
		Scheduled: s.scheduled.Load(),
		Rejected:  s.rejected.Load(),
		Closed:    closed || !st.Active,
	}
	if last, ok := s.history.Last(); ok {
		stats.LastTaskName = last.Name
		stats.LastTaskAt = last.FinishedAt
	}
	return stats
}

// RecentTasks returns up to limit execution records, newest first.
func (s *Scheduler) RecentTasks(limit int) []TaskExecutionRecord {
	return s.history.Recent(limit)
}

// IsShutdownRejection reports whether err is a rejection caused by shutdown.
func IsShutdownRejection(err error) bool {
	return errors.Is(err, ErrSchedulerShutdown)
}
