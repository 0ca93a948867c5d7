package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// TaskScheduler is the work source a pool dispatcher pulls from. It owns the
// FIFO queue, wakes the dispatcher through a signal channel and tracks
// queued/active counts.
type TaskScheduler struct {
	name   string
	queue  *FIFOTaskQueue
	signal chan struct{}

	metricQueued int32 // Waiting in queue
	metricActive int32 // Executing on the pool

	// Handlers and Metrics
	panicHandler PanicHandler
	metrics      Metrics
	logger       Logger

	// Lifecycle
	mu           sync.Mutex // orders PostInternal against Shutdown
	shuttingDown int32      // atomic flag
	closing      chan struct{}
	closeOnce    sync.Once
}

func NewFIFOTaskScheduler(name string) *TaskScheduler {
	return NewFIFOTaskSchedulerWithConfig(name, DefaultTaskSchedulerConfig())
}

func NewFIFOTaskSchedulerWithConfig(name string, config *TaskSchedulerConfig) *TaskScheduler {
	config = config.WithDefaults()
	return &TaskScheduler{
		name:         name,
		queue:        NewFIFOTaskQueue(),
		signal:       make(chan struct{}, 1),
		closing:      make(chan struct{}),
		panicHandler: config.PanicHandler,
		metrics:      config.Metrics,
		logger:       config.Logger,
	}
}

// PostInternal queues an item. It fails with ErrRejectedExecution once
// Shutdown has been called.
func (s *TaskScheduler) PostInternal(item TaskItem) error {
	s.mu.Lock()
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		s.mu.Unlock()
		s.metrics.RecordTaskRejected(s.name, "shutdown")
		s.logger.Debug("task rejected", F("pool", s.name), F("task_id", item.ID.String()))
		return fmt.Errorf("%w: pool %s is shut down", ErrRejectedExecution, s.name)
	}
	depth := atomic.AddInt32(&s.metricQueued, 1) // Metric++ before the item becomes visible to GetWork
	s.queue.Push(item)
	s.mu.Unlock()

	s.metrics.RecordQueueDepth(s.name, int(depth))

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal already pending; the dispatcher drains the queue on wake-up.
	}
	return nil
}

// GetWork blocks until an item is available. It returns false once stopCh is
// closed, or once the scheduler is shutting down and the queue is empty.
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (TaskItem, bool) {
	for {
		// Try to pop one task
		if item, ok := s.queue.Pop(); ok {
			depth := atomic.AddInt32(&s.metricQueued, -1) // Metric-- (Left Queue)
			s.metrics.RecordQueueDepth(s.name, int(depth))
			return item, true
		}
		if s.drained() {
			return TaskItem{}, false
		}

		select {
		case <-s.signal:
			continue
		case <-s.closing:
			continue
		case <-stopCh:
			return TaskItem{}, false
		}
	}
}

// Shutdown stops accepting new items. Queued items are still handed out by
// GetWork until the queue is empty.
func (s *TaskScheduler) Shutdown() {
	s.mu.Lock()
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closing) })
}

// drained reports whether no item can ever be handed out again.
func (s *TaskScheduler) drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomic.LoadInt32(&s.shuttingDown) == 1 && s.queue.IsEmpty()
}

// Abandon removes every queued item without running it and returns them.
func (s *TaskScheduler) Abandon() []TaskItem {
	items := s.queue.Drain()
	if len(items) > 0 {
		depth := atomic.AddInt32(&s.metricQueued, -int32(len(items)))
		s.metrics.RecordQueueDepth(s.name, int(depth))
	}
	return items
}

// IsShuttingDown reports whether Shutdown was called.
func (s *TaskScheduler) IsShuttingDown() bool {
	return atomic.LoadInt32(&s.shuttingDown) == 1
}

// Metrics
func (s *TaskScheduler) QueuedTaskCount() int { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *TaskScheduler) ActiveTaskCount() int { return int(atomic.LoadInt32(&s.metricActive)) }

func (s *TaskScheduler) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

func (s *TaskScheduler) OnTaskEnd() {
	atomic.AddInt32(&s.metricActive, -1)
}

// GetPanicHandler returns the panic handler for this scheduler
func (s *TaskScheduler) GetPanicHandler() PanicHandler {
	return s.panicHandler
}

// GetMetrics returns the metrics collector for this scheduler
func (s *TaskScheduler) GetMetrics() Metrics {
	return s.metrics
}

// GetLogger returns the logger for this scheduler
func (s *TaskScheduler) GetLogger() Logger {
	return s.logger
}
