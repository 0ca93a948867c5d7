package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// StrategyKind tags the variant of a SchedulingStrategy.
type StrategyKind int

const (
	// StrategySequential runs every task on the calling goroutine.
	StrategySequential StrategyKind = iota

	// StrategyPrivatePool submits to a pool owned by the strategy alone.
	StrategyPrivatePool

	// StrategySharedPool submits to a pool other strategies also use.
	StrategySharedPool
)

func (k StrategyKind) String() string {
	switch k {
	case StrategySequential:
		return "sequential"
	case StrategyPrivatePool:
		return "private_pool"
	case StrategySharedPool:
		return "shared_pool"
	default:
		return "unknown"
	}
}

// SchedulingStrategy decides how the children of one node execute. An
// instance serves exactly one Scheduler.
//
// Lifecycle: active (accepting Schedule) -> stopping (Stop or StopNow) ->
// stopped (AwaitStopped observed every accepted task finish or get abandoned).
type SchedulingStrategy struct {
	kind StrategyKind
	pool ThreadPool

	// limit caps concurrently submitted tasks of this strategy; 0 means the
	// pool alone bounds them.
	limit int

	active atomic.Bool

	mu          sync.Mutex
	pending     *FIFOTaskQueue
	running     int
	outstanding int
	stopped     bool
	drained     chan struct{}
	drainOnce   sync.Once
}

// NewSequentialStrategy returns a strategy running tasks inline.
func NewSequentialStrategy() *SchedulingStrategy {
	return newStrategy(StrategySequential, nil, 0)
}

// NewPrivatePoolStrategy returns a strategy owning pool. Stopping the
// strategy shuts the pool down.
func NewPrivatePoolStrategy(pool ThreadPool) *SchedulingStrategy {
	if pool == nil {
		panic("NewPrivatePoolStrategy: pool must not be nil")
	}
	return newStrategy(StrategyPrivatePool, pool, 0)
}

// NewSharedPoolStrategy returns a tenant of pool that keeps at most limit of
// its tasks submitted at once (0 = no own limit). The pool is never shut down
// by the strategy.
func NewSharedPoolStrategy(pool ThreadPool, limit int) *SchedulingStrategy {
	if pool == nil {
		panic("NewSharedPoolStrategy: pool must not be nil")
	}
	if limit < 0 {
		limit = 0
	}
	return newStrategy(StrategySharedPool, pool, limit)
}

func newStrategy(kind StrategyKind, pool ThreadPool, limit int) *SchedulingStrategy {
	s := &SchedulingStrategy{
		kind:    kind,
		pool:    pool,
		limit:   limit,
		pending: NewFIFOTaskQueue(),
		drained: make(chan struct{}),
	}
	s.active.Store(true)
	return s
}

func (s *SchedulingStrategy) Kind() StrategyKind { return s.kind }

// Pool returns the backing pool, or nil for a sequential strategy.
func (s *SchedulingStrategy) Pool() ThreadPool { return s.pool }

// HasSharedThreadPool reports whether other strategies may run on the same
// pool. Such a pool must never be shut down through this strategy.
func (s *SchedulingStrategy) HasSharedThreadPool() bool {
	return s.kind == StrategySharedPool
}

// CanSchedule is true until Stop/StopNow was called or the pool became unusable.
func (s *SchedulingStrategy) CanSchedule() bool {
	if !s.active.Load() {
		return false
	}
	return s.pool == nil || !s.pool.IsShutdown()
}

// Schedule runs task inline (sequential) or submits it without blocking
// (pooled). A rejected task never runs.
func (s *SchedulingStrategy) Schedule(ctx context.Context, task Task) error {
	return s.ScheduleItem(ctx, TaskItem{ID: GenerateTaskID(), Task: task})
}

// ScheduleItem is Schedule for a prepared item. item.OnAbandon is called if
// the item is accepted but later dropped by its pool.
func (s *SchedulingStrategy) ScheduleItem(ctx context.Context, item TaskItem) error {
	if item.Task == nil {
		return fmt.Errorf("%w: nil task", ErrRejectedExecution)
	}
	if item.ID.IsZero() {
		item.ID = GenerateTaskID()
	}
	if !s.active.Load() {
		return fmt.Errorf("%w: strategy stopped", ErrRejectedExecution)
	}
	if s.kind == StrategySequential {
		item.Task(ctx)
		return nil
	}
	if s.pool.IsShutdown() {
		return fmt.Errorf("%w: pool %s is shut down", ErrRejectedExecution, s.pool.ID())
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: strategy stopped", ErrRejectedExecution)
	}
	s.outstanding++
	s.pending.Push(item)
	ready := s.takeReadyLocked()
	s.mu.Unlock()

	s.submit(ready)
	return nil
}

// takeReadyLocked pops as many pending items as the limit allows.
func (s *SchedulingStrategy) takeReadyLocked() []TaskItem {
	var ready []TaskItem
	for s.limit == 0 || s.running < s.limit {
		item, ok := s.pending.Pop()
		if !ok {
			break
		}
		s.running++
		ready = append(ready, item)
	}
	return ready
}

func (s *SchedulingStrategy) submit(items []TaskItem) {
	for _, item := range items {
		item := item
		wrapped := TaskItem{
			ID: item.ID,
			Task: func(ctx context.Context) {
				defer s.onDone()
				item.Task(ctx)
			},
			OnAbandon: func() {
				item.Abandon()
				s.onDone()
			},
		}
		if err := s.pool.Submit(wrapped); err != nil {
			wrapped.Abandon()
		}
	}
}

func (s *SchedulingStrategy) onDone() {
	s.mu.Lock()
	s.running--
	s.outstanding--
	ready := s.takeReadyLocked()
	s.checkDrainedLocked()
	s.mu.Unlock()

	s.submit(ready)
}

func (s *SchedulingStrategy) checkDrainedLocked() {
	if s.stopped && s.outstanding == 0 {
		s.drainOnce.Do(func() { close(s.drained) })
	}
}

func (s *SchedulingStrategy) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.checkDrainedLocked()
	s.mu.Unlock()
}

// Stop disables further scheduling. A private pool stops accepting work but
// completes what it already has. It returns whether this call performed the
// stop; for a shared pool that someone else already shut down it is false.
func (s *SchedulingStrategy) Stop() bool {
	wasActive := s.active.Swap(false)
	s.markStopped()

	switch s.kind {
	case StrategyPrivatePool:
		if wasActive {
			s.pool.Shutdown()
		}
		return wasActive
	case StrategySharedPool:
		return wasActive && !s.pool.IsShutdown()
	default:
		return wasActive
	}
}

// StopNow is Stop plus interruption of running tasks on a private pool.
// Shared and sequential strategies behave exactly like Stop.
func (s *SchedulingStrategy) StopNow() bool {
	if s.kind != StrategyPrivatePool {
		return s.Stop()
	}
	wasActive := s.active.Swap(false)
	s.markStopped()
	s.pool.ShutdownNow()
	return wasActive
}

// AwaitStopped blocks until every task accepted by this strategy finished or
// was abandoned. It only suspends the caller; when the caller itself runs on a
// pool that lends slots, its slot is released for the duration of the wait.
// A cancelled ctx ends the wait with ErrInterrupted.
func (s *SchedulingStrategy) AwaitStopped(ctx context.Context) error {
	if s.kind == StrategySequential {
		return nil
	}

	err := ManagedBlock(ctx, func() error {
		select {
		case <-s.drained:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
	})
	if err != nil {
		return err
	}

	if s.kind == StrategyPrivatePool {
		if err := s.pool.AwaitTermination(ctx); err != nil {
			if errors.Is(err, ErrInterrupted) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
	}
	return nil
}

// Finished stops the strategy and waits for it to drain. The bool is Stop's
// result.
func (s *SchedulingStrategy) Finished(ctx context.Context) (bool, error) {
	wasRunning := s.Stop()
	return wasRunning, s.AwaitStopped(ctx)
}

// Stats returns the current accounting snapshot.
func (s *SchedulingStrategy) Stats() StrategyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StrategyStats{
		Kind:        s.kind.String(),
		Limit:       s.limit,
		Pending:     s.pending.Len(),
		Running:     s.running,
		Outstanding: s.outstanding,
		Active:      s.active.Load(),
	}
}
