package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics on a pool worker.
// Test bodies never reach it: leaf tests recover their own panics and report
// them as failures. It catches panics escaping raw pool tasks.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task
	// - poolName: The ID of the pool where the panic occurred
	// - taskID: The ID of the panicking task
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, poolName string, taskID TaskID, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics through a Logger.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, poolName string, taskID TaskID, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("pool", poolName),
		F("task_id", taskID.String()),
		F("panic", fmt.Sprint(panicInfo)),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduling metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskDuration records how long a scheduled child took to execute.
	//
	// Parameters:
	// - schedulerName: The name of the scheduler that dispatched the child
	// - duration: How long the child took to execute
	RecordTaskDuration(schedulerName string, duration time.Duration)

	// RecordTaskPanic records that a pool task panicked.
	RecordTaskPanic(poolName string, panicInfo any)

	// RecordQueueDepth records the current queue depth of a pool.
	RecordQueueDepth(poolName string, depth int)

	// RecordTaskRejected records that a child could not be scheduled.
	//
	// Parameters:
	// - schedulerName: The name of the scheduler
	// - reason: Why the task was rejected ("shutdown", "stopped", "pool")
	RecordTaskRejected(schedulerName string, reason string)

	// RecordListenerFailure records a run listener that returned an error or panicked.
	RecordListenerFailure(listener string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordTaskDuration is a no-op.
func (m *NilMetrics) RecordTaskDuration(schedulerName string, duration time.Duration) {}

// RecordTaskPanic is a no-op.
func (m *NilMetrics) RecordTaskPanic(poolName string, panicInfo any) {}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(poolName string, depth int) {}

// RecordTaskRejected is a no-op.
func (m *NilMetrics) RecordTaskRejected(schedulerName string, reason string) {}

// RecordListenerFailure is a no-op.
func (m *NilMetrics) RecordListenerFailure(listener string) {}

// =============================================================================
// TaskSchedulerConfig: Configuration for TaskScheduler and pools
// =============================================================================

// TaskSchedulerConfig holds configuration options for TaskScheduler and the
// pools built on it. All handlers are optional; if not provided, default
// implementations will be used.
type TaskSchedulerConfig struct {
	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// Logger receives lifecycle and rejection logs. Defaults to DefaultLogger.
	Logger Logger
}

// DefaultTaskSchedulerConfig returns a config with default handlers.
func DefaultTaskSchedulerConfig() *TaskSchedulerConfig {
	logger := NewDefaultLogger()
	return &TaskSchedulerConfig{
		PanicHandler: &DefaultPanicHandler{Logger: logger},
		Metrics:      &NilMetrics{},
		Logger:       logger,
	}
}

// WithDefaults returns a copy of c with every unset handler filled in.
// A nil receiver yields the defaults.
func (c *TaskSchedulerConfig) WithDefaults() *TaskSchedulerConfig {
	out := TaskSchedulerConfig{}
	if c != nil {
		out = *c
	}
	if out.Logger == nil {
		out.Logger = NewDefaultLogger()
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	return &out
}
