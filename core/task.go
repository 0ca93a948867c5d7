package core

import (
	"context"

	"github.com/google/uuid"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// TaskID identifies one accepted task for its whole lifetime, including
// in-flight tracking and execution history.
type TaskID uuid.UUID

// GenerateTaskID returns a new random TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.New())
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether the id was never assigned.
func (id TaskID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// =============================================================================
// Managed blocking
// =============================================================================

// ManagedBlocker is installed by a pool into the context of every task it runs
// when slots may be lent out. Release gives the task's slot back to the pool and
// reports whether it was held; Reacquire takes a slot again before the task
// continues.
type ManagedBlocker interface {
	Release() bool
	Reacquire()
}

type managedBlockerKeyType struct{}

var managedBlockerKey managedBlockerKeyType

// WithManagedBlocker returns a context carrying b.
func WithManagedBlocker(ctx context.Context, b ManagedBlocker) context.Context {
	return context.WithValue(ctx, managedBlockerKey, b)
}

// ManagedBlock runs wait with the caller's pool slot released, if the caller
// runs on a pool that lends slots. The slot is taken back before returning.
func ManagedBlock(ctx context.Context, wait func() error) error {
	if b, ok := ctx.Value(managedBlockerKey).(ManagedBlocker); ok && b != nil {
		if b.Release() {
			defer b.Reacquire()
		}
	}
	return wait()
}
