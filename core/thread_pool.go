package core

import "context"

// ThreadPool is the pool handle a SchedulingStrategy submits to.
// Implementations must run submitted items concurrently, up to Capacity at a
// time, in submission order.
type ThreadPool interface {
	ID() string

	// Submit queues an item. It fails with ErrRejectedExecution after Shutdown.
	Submit(item TaskItem) error

	// Shutdown stops accepting items; queued and running items complete.
	Shutdown()

	// ShutdownNow stops accepting items, cancels the context of running items,
	// and abandons queued items. It returns the number of abandoned items.
	ShutdownNow() int

	// AwaitTermination blocks until every accepted item finished or was abandoned.
	AwaitTermination(ctx context.Context) error

	IsShutdown() bool

	// Capacity is the maximum number of concurrently running items; 0 means unbounded.
	Capacity() int

	Stats() PoolStats
}
