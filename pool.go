package suiterunner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Swind/go-suite-runner/core"
	"golang.org/x/sync/semaphore"
)

// GoroutineThreadPool runs submitted items on goroutines, at most capacity at
// a time (0 = unbounded). A dispatcher goroutine pulls items from the
// core.TaskScheduler in FIFO order and starts each one once a permit is free.
type GoroutineThreadPool struct {
	id        string
	capacity  int
	scheduler *core.TaskScheduler
	permits   *semaphore.Weighted

	// lendSlots lets a task give its permit back while it waits on nested work.
	lendSlots bool

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
	done      chan struct{}
	stopOnce  sync.Once

	panicHandler core.PanicHandler
	metrics      core.Metrics
	logger       core.Logger
}

// PoolOption configures a GoroutineThreadPool.
type PoolOption func(*GoroutineThreadPool)

// WithSlotLending installs a core.ManagedBlocker into every task context so
// tasks blocked in core.ManagedBlock free their permit. Pools shared by
// several tree levels need it to avoid starving children of their parents' slots.
func WithSlotLending() PoolOption {
	return func(p *GoroutineThreadPool) { p.lendSlots = true }
}

// NewGoroutineThreadPool creates a new GoroutineThreadPool
func NewGoroutineThreadPool(id string, capacity int, opts ...PoolOption) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, capacity, core.DefaultTaskSchedulerConfig(), opts...)
}

// NewGoroutineThreadPoolWithConfig creates a pool whose panics, metrics and
// logs go to the handlers of config.
func NewGoroutineThreadPoolWithConfig(id string, capacity int, config *core.TaskSchedulerConfig, opts ...PoolOption) *GoroutineThreadPool {
	config = config.WithDefaults()
	if capacity < 0 {
		capacity = 0
	}
	p := &GoroutineThreadPool{
		id:           id,
		capacity:     capacity,
		scheduler:    core.NewFIFOTaskSchedulerWithConfig(id, config),
		done:         make(chan struct{}),
		panicHandler: config.PanicHandler,
		metrics:      config.Metrics,
		logger:       config.Logger,
	}
	if capacity > 0 {
		p.permits = semaphore.NewWeighted(int64(capacity))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ core.ThreadPool = (*GoroutineThreadPool)(nil)

// Start starts the dispatcher. Task contexts derive from ctx.
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return // Already running
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	go tg.dispatchLoop(tg.ctx)
}

// Submit queues item. It fails with core.ErrRejectedExecution after Shutdown.
func (tg *GoroutineThreadPool) Submit(item core.TaskItem) error {
	if item.ID.IsZero() {
		item.ID = core.GenerateTaskID()
	}
	return tg.scheduler.PostInternal(item)
}

// Shutdown stops accepting items. Queued and running items complete.
func (tg *GoroutineThreadPool) Shutdown() {
	tg.scheduler.Shutdown()

	tg.runningMu.RLock()
	started := tg.running
	tg.runningMu.RUnlock()
	if !started {
		tg.abandonQueued()
		tg.stopOnce.Do(func() { close(tg.done) })
	}
}

// ShutdownNow stops accepting items, cancels the context of running items and
// abandons queued ones. Running items are not stopped forcibly.
func (tg *GoroutineThreadPool) ShutdownNow() int {
	tg.scheduler.Shutdown()

	tg.runningMu.RLock()
	cancel := tg.cancel
	started := tg.running
	tg.runningMu.RUnlock()

	if cancel != nil {
		cancel()
	}
	n := tg.abandonQueued()
	if !started {
		tg.stopOnce.Do(func() { close(tg.done) })
	}
	if n > 0 {
		tg.logger.Info("pool abandoned queued tasks", core.F("pool", tg.id), core.F("count", n))
	}
	return n
}

func (tg *GoroutineThreadPool) abandonQueued() int {
	items := tg.scheduler.Abandon()
	for _, item := range items {
		item.Abandon()
	}
	return len(items)
}

// AwaitTermination blocks until the pool is shut down and every accepted item
// finished or was abandoned.
func (tg *GoroutineThreadPool) AwaitTermination(ctx context.Context) error {
	select {
	case <-tg.done:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", core.ErrInterrupted, ctx.Err())
	}

	finished := make(chan struct{})
	go func() {
		tg.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", core.ErrInterrupted, ctx.Err())
	}
}

// IsShutdown reports whether Shutdown or ShutdownNow was called.
func (tg *GoroutineThreadPool) IsShutdown() bool {
	return tg.scheduler.IsShuttingDown()
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// Capacity returns the permit count, 0 when unbounded.
func (tg *GoroutineThreadPool) Capacity() int {
	return tg.capacity
}

// IsRunning returns whether the dispatcher is running
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.scheduler.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.scheduler.ActiveTaskCount()
}

// Stats returns a snapshot for observability exporters.
func (tg *GoroutineThreadPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:       tg.id,
		Capacity: tg.capacity,
		Queued:   tg.QueuedTaskCount(),
		Active:   tg.ActiveTaskCount(),
		Running:  tg.IsRunning() && !tg.IsShutdown(),
	}
}

// dispatchLoop hands queued items to goroutines as permits free up.
func (tg *GoroutineThreadPool) dispatchLoop(ctx context.Context) {
	defer func() {
		tg.runningMu.Lock()
		tg.running = false
		tg.runningMu.Unlock()
		tg.stopOnce.Do(func() { close(tg.done) })
	}()
	stopCh := ctx.Done()

	for {
		item, ok := tg.scheduler.GetWork(stopCh)
		if !ok {
			tg.abandonQueued()
			return
		}

		if tg.permits != nil {
			if err := tg.permits.Acquire(ctx, 1); err != nil {
				item.Abandon()
				tg.abandonQueued()
				return
			}
		}

		tg.wg.Add(1)
		go tg.runTask(ctx, item)
	}
}

func (tg *GoroutineThreadPool) runTask(ctx context.Context, item core.TaskItem) {
	defer tg.wg.Done()

	s := &slot{permits: tg.permits, held: tg.permits != nil}
	defer s.Release()

	taskCtx := ctx
	if tg.lendSlots && tg.permits != nil {
		taskCtx = core.WithManagedBlocker(ctx, s)
	}

	tg.scheduler.OnTaskStart()
	defer tg.scheduler.OnTaskEnd()

	defer func() {
		if r := recover(); r != nil {
			tg.metrics.RecordTaskPanic(tg.id, r)
			tg.panicHandler.HandlePanic(taskCtx, tg.id, item.ID, r, debug.Stack())
		}
	}()
	item.Task(taskCtx)
}

// slot is the permit held by one running task. It is only touched by the
// goroutine running that task.
type slot struct {
	permits *semaphore.Weighted
	held    bool
}

func (s *slot) Release() bool {
	if !s.held {
		return false
	}
	s.held = false
	s.permits.Release(1)
	return true
}

func (s *slot) Reacquire() {
	if s.held {
		return
	}
	// Never fails with a background context.
	_ = s.permits.Acquire(context.Background(), 1)
	s.held = true
}
