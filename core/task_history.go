package core

import (
	"context"
	"sync"
	"time"
)

const defaultTaskHistoryCapacity = 100

type executionHistory struct {
	mu    sync.Mutex
	items []TaskExecutionRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return executionHistory{items: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		return
	}

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskExecutionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *executionHistory) Last() (TaskExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return TaskExecutionRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

// wrapObservedTask times task and hands the record to record, also when the
// task panics. The panic is re-raised after recording.
func wrapObservedTask(
	task Task,
	taskID TaskID,
	name string,
	schedulerName string,
	strategy string,
	record func(TaskExecutionRecord),
) Task {
	if name == "" {
		name = "anonymous"
	}

	return func(ctx context.Context) {
		startedAt := time.Now()
		panicked := true

		defer func() {
			finishedAt := time.Now()
			record(TaskExecutionRecord{
				TaskID:        taskID,
				Name:          name,
				SchedulerName: schedulerName,
				Strategy:      strategy,
				StartedAt:     startedAt,
				FinishedAt:    finishedAt,
				Duration:      finishedAt.Sub(startedAt),
				Panicked:      panicked,
			})
		}()

		task(ctx)
		panicked = false
	}
}
