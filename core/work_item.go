package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the depth class of a node's children in the tree.
type Level int

const (
	LevelSuites Level = iota
	LevelClasses
	LevelMethods
)

// Levels lists every level, outermost first.
var Levels = []Level{LevelSuites, LevelClasses, LevelMethods}

func (l Level) String() string {
	switch l {
	case LevelSuites:
		return "suites"
	case LevelClasses:
		return "classes"
	case LevelMethods:
		return "methods"
	default:
		return "unknown"
	}
}

// WorkItem is one executable node of the tree.
type WorkItem interface {
	Describe() *Description

	// Run executes the item and reports through exec.Notifier. parent is the
	// Scheduler that dispatched the item, nil for the root.
	Run(ctx context.Context, exec *Execution, parent *Scheduler)
}

// SchedulerFactory builds the Scheduler for the children of a container.
// Implementations register it with parent (when non-nil) so shutdown can
// reach it.
type SchedulerFactory interface {
	NewScheduler(ctx context.Context, parent *Scheduler, node *Container) *Scheduler
}

// Execution carries the run-scoped collaborators through the tree.
type Execution struct {
	Notifier   *RunNotifier
	Schedulers SchedulerFactory
}

// SequentialSchedulers runs every container's children one at a time on the
// calling goroutine.
type SequentialSchedulers struct{}

func (SequentialSchedulers) NewScheduler(ctx context.Context, parent *Scheduler, node *Container) *Scheduler {
	s := NewScheduler(node.Describe().DisplayName(), node.Describe, NewSequentialStrategy())
	if parent != nil {
		parent.Register(s)
	}
	return s
}

// =============================================================================
// Container
// =============================================================================

// ContainerKind distinguishes suites from classes.
type ContainerKind int

const (
	KindSuite ContainerKind = iota
	KindClass
)

// Container is a non-leaf node: a suite of suites/classes, or a class of
// methods. Its children may be sorted or filtered until it starts running.
type Container struct {
	kind     ContainerKind
	name     string
	uniqueID string

	mu       sync.Mutex
	children []WorkItem
	desc     *Description
	started  atomic.Bool
}

// NewSuite returns a suite container.
func NewSuite(name string, children ...WorkItem) *Container {
	return &Container{kind: KindSuite, name: name, uniqueID: name, children: children}
}

// NewClass returns a class container.
func NewClass(name string, methods ...WorkItem) *Container {
	return &Container{kind: KindClass, name: name, uniqueID: name, children: methods}
}

// WithUniqueID sets the unique ID used in the container's description.
func (c *Container) WithUniqueID(id string) *Container {
	c.mu.Lock()
	c.uniqueID = id
	c.desc = nil
	c.mu.Unlock()
	return c
}

func (c *Container) Kind() ContainerKind { return c.kind }
func (c *Container) Name() string        { return c.name }

// Children returns the current children in dispatch order.
func (c *Container) Children() []WorkItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.children)
}

// Add appends children. It fails with ErrIllegalState once the container started.
func (c *Container) Add(children ...WorkItem) error {
	return c.mutate(func(cur []WorkItem) []WorkItem {
		return append(cur, children...)
	})
}

// Sort reorders the children with cmp, stably. Nested containers are sorted too.
func (c *Container) Sort(cmp func(a, b *Description) int) error {
	if err := c.mutate(func(cur []WorkItem) []WorkItem {
		slices.SortStableFunc(cur, func(a, b WorkItem) int {
			return cmp(a.Describe(), b.Describe())
		})
		return cur
	}); err != nil {
		return err
	}
	for _, child := range c.Children() {
		if nested, ok := child.(*Container); ok {
			if err := nested.Sort(cmp); err != nil {
				return err
			}
		}
	}
	return nil
}

// Filter keeps the leaves for which keep returns true. Nested containers are
// filtered recursively and dropped once empty.
func (c *Container) Filter(keep func(*Description) bool) error {
	if c.started.Load() {
		return fmt.Errorf("%w: %s already started", ErrIllegalState, c.name)
	}
	for _, child := range c.Children() {
		if nested, ok := child.(*Container); ok {
			if err := nested.Filter(keep); err != nil {
				return err
			}
		}
	}
	return c.mutate(func(cur []WorkItem) []WorkItem {
		return slices.DeleteFunc(cur, func(child WorkItem) bool {
			if nested, ok := child.(*Container); ok {
				return len(nested.Children()) == 0
			}
			return !keep(child.Describe())
		})
	})
}

func (c *Container) mutate(fn func([]WorkItem) []WorkItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.Load() {
		return fmt.Errorf("%w: %s already started", ErrIllegalState, c.name)
	}
	c.children = fn(c.children)
	c.desc = nil
	return nil
}

// Describe returns the suite description of the current children. It is
// rebuilt after any change to the child set.
func (c *Container) Describe() *Description {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.desc == nil {
		descs := make([]*Description, 0, len(c.children))
		for _, child := range c.children {
			descs = append(descs, child.Describe())
		}
		c.desc = ForName(c.name).WithUniqueID(c.uniqueID).CreateSuiteDescription(descs...)
	}
	return c.desc
}

// ChildLevel is the level whose parallelism governs c's children: methods
// for a class, suites for a suite holding suites, classes otherwise.
func (c *Container) ChildLevel() Level {
	if c.kind == KindClass {
		return LevelMethods
	}
	hasContainer := false
	for _, child := range c.Children() {
		if nested, ok := child.(*Container); ok {
			if nested.kind == KindSuite {
				return LevelSuites
			}
			hasContainer = true
		}
	}
	if hasContainer {
		return LevelClasses
	}
	return LevelMethods
}

// Run dispatches every child through a Scheduler obtained from
// exec.Schedulers and waits until each has finished or been abandoned. Rejected children are reported:
// ignored when the rejection came from a shutdown, failed otherwise.
func (c *Container) Run(ctx context.Context, exec *Execution, parent *Scheduler) {
	c.started.Store(true)
	sched := exec.Schedulers.NewScheduler(ctx, parent, c)

	for _, child := range c.Children() {
		if exec.Notifier.IsStopRequested() {
			break
		}
		child := child
		desc := child.Describe()
		err := sched.Schedule(ctx, desc, func(taskCtx context.Context) {
			child.Run(taskCtx, exec, sched)
		})
		if err != nil && !IsShutdownRejection(err) {
			exec.Notifier.FireTestFailure(NewFailure(desc, err))
		}
	}

	// The wait outlives cancellation of ctx: a forced shutdown interrupts the
	// children through their own pools, and the container must not report
	// done before they do.
	if _, err := sched.Finished(context.WithoutCancel(ctx)); err != nil {
		exec.Notifier.FireTestFailure(NewFailure(c.Describe(), err))
	}
}

// =============================================================================
// Method
// =============================================================================

// TestFunc is the body of a leaf test. It should return promptly once ctx is
// done; nothing stops it forcibly.
type TestFunc func(ctx context.Context) error

// MethodOption configures a Method.
type MethodOption func(*Method)

// WithTimeout fails the test with ErrTestTimedOut if it runs longer than d.
func WithTimeout(d time.Duration) MethodOption {
	return func(m *Method) { m.timeout = d }
}

// Ignored marks the test as ignored; it is reported and never started.
func Ignored() MethodOption {
	return func(m *Method) { m.ignored = true }
}

// Method is a leaf test.
type Method struct {
	desc    *Description
	fn      TestFunc
	timeout time.Duration
	ignored bool
}

// NewMethod returns the leaf test method of className.
func NewMethod(className, method string, fn TestFunc, opts ...MethodOption) *Method {
	m := &Method{desc: NewTestDescription(className, method), fn: fn}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Method) Describe() *Description { return m.desc }

// Run executes the test and emits its events. A test that cannot start
// because a stop was requested emits nothing.
func (m *Method) Run(ctx context.Context, exec *Execution, parent *Scheduler) {
	n := exec.Notifier
	if m.ignored {
		n.FireTestIgnored(m.desc)
		return
	}
	if err := n.FireTestStarted(m.desc); err != nil {
		return
	}
	defer n.FireTestFinished(m.desc)

	err := m.invoke(WithNotifier(ctx, n))
	switch {
	case err == nil:
	case errors.Is(err, ErrAssumptionViolated):
		n.FireTestAssumptionFailed(NewFailure(m.desc, err))
	default:
		n.FireTestFailure(NewFailure(m.desc, err))
	}
}

func (m *Method) invoke(ctx context.Context) error {
	if m.fn == nil {
		return nil
	}
	if m.timeout <= 0 {
		return m.call(ctx)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(parent, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.call(ctx) }()

	// A test returning because its own deadline passed counts as timed out,
	// whichever branch wins.
	timedOut := func() bool {
		return parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
	}
	select {
	case err := <-done:
		if err == nil || !timedOut() {
			return err
		}
	case <-ctx.Done():
		if !timedOut() {
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
	}
	return fmt.Errorf("%w after %v", ErrTestTimedOut, m.timeout)
}

func (m *Method) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test panicked: %v\n%s", r, debug.Stack())
		}
	}()
	err = m.fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) && !errors.Is(err, ErrInterrupted) {
		err = fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return err
}
