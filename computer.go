package suiterunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Swind/go-suite-runner/core"
)

// ParallelComputer runs work-item trees according to an AllocationPlan.
// Several runs may share one computer; each gets its own notifier, shared
// pool and scheduler tree.
type ParallelComputer struct {
	plan   AllocationPlan
	config *core.TaskSchedulerConfig
	logger core.Logger

	mu   sync.Mutex
	runs map[*run]struct{}
}

func newParallelComputer(plan AllocationPlan, config *core.TaskSchedulerConfig) *ParallelComputer {
	return &ParallelComputer{
		plan:   plan,
		config: config,
		logger: config.Logger,
		runs:   make(map[*run]struct{}),
	}
}

// Plan returns the allocation plan fixed at Build.
func (c *ParallelComputer) Plan() AllocationPlan { return c.plan }

// PoolCapacity is the shared pool capacity, 0 when pools are split.
func (c *ParallelComputer) PoolCapacity() int { return c.plan.PoolCapacity() }

// SplitPool reports whether levels get independent pools.
func (c *ParallelComputer) SplitPool() bool { return c.plan.SplitPool() }

// Run executes root and returns the aggregated result. notifier may be nil;
// callers that want to add listeners or call PleaseStop pass their own. The
// result collector is installed ahead of every other listener.
func (c *ParallelComputer) Run(ctx context.Context, root core.WorkItem, notifier *core.RunNotifier) *core.Result {
	if notifier == nil {
		notifier = core.NewRunNotifierWithConfig(&core.NotifierConfig{Logger: c.logger, Metrics: c.config.Metrics})
	}
	result := core.NewResult()
	notifier.AddFirstListener(result.CreateListener())

	r := c.startRun(ctx, notifier)
	defer c.finishRun(r)

	c.logger.Debug("run started",
		core.F("run_id", notifier.RunID()),
		core.F("root", root.Describe().DisplayName()),
		core.F("tests", root.Describe().TestCount()))

	notifier.FireTestRunStarted(root.Describe())
	root.Run(ctx, &core.Execution{Notifier: notifier, Schedulers: r}, nil)
	notifier.FireTestRunFinished(result)

	c.logger.Debug("run finished",
		core.F("run_id", notifier.RunID()),
		core.F("run_count", result.RunCount()),
		core.F("failures", result.FailureCount()),
		core.F("ignored", result.IgnoreCount()))
	return result
}

func (c *ParallelComputer) startRun(ctx context.Context, notifier *core.RunNotifier) *run {
	r := &run{computer: c, ctx: ctx, notifier: notifier}
	if c.plan.UsesSharedPool() {
		r.sharedPool = NewGoroutineThreadPoolWithConfig(
			fmt.Sprintf("shared-%s", notifier.RunID()[:8]),
			c.plan.PoolCapacity(),
			c.config,
			WithSlotLending(),
		)
		r.sharedPool.Start(ctx)
	}

	c.mu.Lock()
	c.runs[r] = struct{}{}
	c.mu.Unlock()
	return r
}

func (c *ParallelComputer) finishRun(r *run) {
	c.mu.Lock()
	delete(c.runs, r)
	c.mu.Unlock()

	if r.sharedPool != nil {
		r.sharedPool.Shutdown()
		if err := r.sharedPool.AwaitTermination(context.Background()); err != nil {
			c.logger.Warn("shared pool did not terminate", core.F("pool", r.sharedPool.ID()), core.F("error", err.Error()))
		}
	}
}

// Shutdown stops every active run's scheduler tree top-down and returns the
// descriptions dispatched but not yet finished. With interrupt set, private
// pools cancel their running tasks; shared pools stop accepting work but are
// never interrupted. Calling it again is safe and returns what is still in
// flight.
func (c *ParallelComputer) Shutdown(interrupt bool) []*core.Description {
	c.mu.Lock()
	runs := make([]*run, 0, len(c.runs))
	for r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	var out []*core.Description
	seen := make(map[string]bool)
	for _, r := range runs {
		for _, d := range r.shutdown(interrupt) {
			if seen[d.UniqueID()] {
				continue
			}
			seen[d.UniqueID()] = true
			out = append(out, d)
		}
	}

	c.logger.Info("shutdown requested",
		core.F("interrupt", interrupt),
		core.F("runs", len(runs)),
		core.F("in_flight", len(out)))
	return out
}

// ShutdownAfter arms a watchdog that calls Shutdown(interrupt) after d. The
// returned function disarms it.
func (c *ParallelComputer) ShutdownAfter(d time.Duration, interrupt bool) (cancel func()) {
	timer := time.AfterFunc(d, func() {
		inFlight := c.Shutdown(interrupt)
		names := make([]string, 0, len(inFlight))
		for _, desc := range inFlight {
			names = append(names, desc.DisplayName())
		}
		c.logger.Warn("run timed out", core.F("after", d.String()), core.F("in_flight", names))
	})
	return func() { timer.Stop() }
}

// SharedPoolStats returns the stats of every active run's shared pool.
func (c *ParallelComputer) SharedPoolStats() []core.PoolStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.PoolStats
	for r := range c.runs {
		if r.sharedPool != nil {
			out = append(out, r.sharedPool.Stats())
		}
	}
	return out
}

// SchedulerStats returns the stats of every active run's root scheduler.
func (c *ParallelComputer) SchedulerStats() []core.SchedulerStats {
	c.mu.Lock()
	runs := make([]*run, 0, len(c.runs))
	for r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	var out []core.SchedulerStats
	for _, r := range runs {
		r.mu.Lock()
		roots := append([]*core.Scheduler(nil), r.roots...)
		r.mu.Unlock()
		for _, s := range roots {
			out = append(out, s.Stats())
		}
	}
	return out
}

// =============================================================================
// run
// =============================================================================

// run holds the state of one execution and builds its schedulers.
type run struct {
	computer   *ParallelComputer
	ctx        context.Context
	notifier   *core.RunNotifier
	sharedPool *GoroutineThreadPool

	mu         sync.Mutex
	roots      []*core.Scheduler
	stopped    bool
	interrupt  bool
	poolSerial int
}

var _ core.SchedulerFactory = (*run)(nil)

// NewScheduler builds the scheduler for node's children from the plan of
// node's child level.
func (r *run) NewScheduler(ctx context.Context, parent *core.Scheduler, node *core.Container) *core.Scheduler {
	c := r.computer
	level := node.ChildLevel()
	lp := c.plan.Level(level)

	var strategy *core.SchedulingStrategy
	switch lp.Mode {
	case core.StrategyPrivatePool:
		capacity := int(lp.Effective)
		if lp.Effective == Unbounded {
			capacity = 0
		}
		r.mu.Lock()
		r.poolSerial++
		id := fmt.Sprintf("%s-%d", level, r.poolSerial)
		r.mu.Unlock()
		pool := NewGoroutineThreadPoolWithConfig(id, capacity, c.config)
		pool.Start(ctx)
		strategy = core.NewPrivatePoolStrategy(pool)
	case core.StrategySharedPool:
		strategy = core.NewSharedPoolStrategy(r.sharedPool, int(lp.Effective))
	default:
		strategy = core.NewSequentialStrategy()
	}

	s := core.NewScheduler(node.Describe().DisplayName(), node.Describe, strategy)
	s.SetMetrics(c.config.Metrics)
	s.SetLogger(c.logger)
	s.SetShutdownHandler(r.notifier.FireTestIgnored)

	if parent != nil {
		parent.Register(s)
		return s
	}

	r.mu.Lock()
	if r.stopped {
		interrupt := r.interrupt
		r.mu.Unlock()
		s.Shutdown(interrupt)
		return s
	}
	r.roots = append(r.roots, s)
	r.mu.Unlock()
	return s
}

func (r *run) shutdown(interrupt bool) []*core.Description {
	r.mu.Lock()
	r.stopped = true
	r.interrupt = r.interrupt || interrupt
	roots := append([]*core.Scheduler(nil), r.roots...)
	r.mu.Unlock()

	var out []*core.Description
	for _, s := range roots {
		out = append(out, s.Shutdown(interrupt)...)
	}
	if interrupt && r.sharedPool != nil {
		r.sharedPool.Shutdown()
	}
	return out
}
