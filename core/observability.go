package core

import "time"

// TaskExecutionRecord captures one completed child execution on a scheduler.
type TaskExecutionRecord struct {
	TaskID        TaskID
	Name          string
	SchedulerName string
	Strategy      string
	StartedAt     time.Time
	FinishedAt    time.Time
	Duration      time.Duration
	Panicked      bool
}

// SchedulerStats represents runtime observability state for a Scheduler.
type SchedulerStats struct {
	Name         string
	Strategy     string
	State        string
	Pending      int
	Running      int
	InFlight     int
	Scheduled    int64
	Rejected     int64
	Closed       bool
	LastTaskName string
	LastTaskAt   time.Time
}

// StrategyStats is the accounting snapshot of one SchedulingStrategy.
type StrategyStats struct {
	Kind        string
	Limit       int
	Pending     int
	Running     int
	Outstanding int
	Active      bool
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID       string
	Capacity int
	Queued   int
	Active   int
	Running  bool
}
