package suiterunner

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Swind/go-suite-runner/core"
)

// Parallelism is the requested concurrency of one level: Sequential, a
// positive bound, or Unbounded.
type Parallelism int

const (
	Sequential Parallelism = 0
	Unbounded  Parallelism = -1
)

// ParseParallelism accepts "sequential", "unbounded" or a non-negative integer.
func ParseParallelism(s string) (Parallelism, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential", "none":
		return Sequential, nil
	case "unbounded", "unlimited", "max":
		return Unbounded, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Sequential, fmt.Errorf("invalid parallelism %q: %w", s, err)
	}
	if n < 0 {
		return Sequential, fmt.Errorf("invalid parallelism %q: must not be negative", s)
	}
	return Parallelism(n), nil
}

// IsParallel reports whether the request asks for more than one concurrent child.
func (p Parallelism) IsParallel() bool {
	return p == Unbounded || p > 1
}

func (p Parallelism) String() string {
	switch {
	case p == Unbounded:
		return "unbounded"
	case p <= 1:
		return "sequential"
	default:
		return strconv.Itoa(int(p))
	}
}

// Level aliases core.Level.
type Level = core.Level

const (
	Suites  = core.LevelSuites
	Classes = core.LevelClasses
	Methods = core.LevelMethods
)

// =============================================================================
// Allocation plan
// =============================================================================

// LevelPlan is the decision for one level.
type LevelPlan struct {
	Level     Level
	Requested Parallelism
	// Effective is the concurrency the level actually gets: Sequential,
	// a bound, or Unbounded (only without a shared pool).
	Effective Parallelism
	Mode      core.StrategyKind
}

// AllocationPlan maps each level to its strategy. It is immutable.
type AllocationPlan struct {
	levels       [3]LevelPlan
	poolCapacity int
}

// Level returns the plan of l. An unknown level is sequential.
func (p AllocationPlan) Level(l Level) LevelPlan {
	if l < core.LevelSuites || int(l) >= len(p.levels) {
		return LevelPlan{Level: l, Effective: Sequential, Mode: core.StrategySequential}
	}
	return p.levels[l]
}

// Levels returns the plans of all levels, outermost first.
func (p AllocationPlan) Levels() []LevelPlan {
	return append([]LevelPlan(nil), p.levels[:]...)
}

// PoolCapacity is the shared pool capacity, 0 when none was configured.
func (p AllocationPlan) PoolCapacity() int {
	return p.poolCapacity
}

// SplitPool reports whether levels get independent pools.
func (p AllocationPlan) SplitPool() bool {
	return p.poolCapacity == 0
}

// UsesSharedPool reports whether any level draws from the shared pool.
func (p AllocationPlan) UsesSharedPool() bool {
	for _, lp := range p.levels {
		if lp.Mode == core.StrategySharedPool {
			return true
		}
	}
	return false
}

// PlanAllocation computes the plan for per-level requests and an optional
// shared capacity (0 = none).
//
// Without a shared pool every parallel level gets a private pool per node,
// sized to the request. With one, every parallel level draws from the single
// pool of capacity C and gets min(requested, C); Unbounded becomes C. A level
// asking for 1 or less is sequential either way.
func PlanAllocation(requests map[Level]Parallelism, capacity int) AllocationPlan {
	plan := AllocationPlan{poolCapacity: max(capacity, 0)}
	for _, l := range core.Levels {
		req := requests[l]
		lp := LevelPlan{Level: l, Requested: req, Effective: Sequential, Mode: core.StrategySequential}
		switch {
		case !req.IsParallel():
		case plan.poolCapacity == 0:
			lp.Mode = core.StrategyPrivatePool
			lp.Effective = req
		default:
			lp.Mode = core.StrategySharedPool
			if req == Unbounded || int(req) > plan.poolCapacity {
				lp.Effective = Parallelism(plan.poolCapacity)
			} else {
				lp.Effective = req
			}
			if !lp.Effective.IsParallel() {
				lp.Mode = core.StrategySequential
				lp.Effective = Sequential
			}
		}
		plan.levels[l] = lp
	}
	return plan
}

// =============================================================================
// Builder
// =============================================================================

// ParallelComputerBuilder collects the parallelism configuration. Every
// method fails with core.ErrIllegalState once Build has been called.
type ParallelComputerBuilder struct {
	mu           sync.Mutex
	requests     map[Level]Parallelism
	poolCapacity int
	built        bool

	logger       core.Logger
	metrics      core.Metrics
	panicHandler core.PanicHandler
}

func NewParallelComputerBuilder() *ParallelComputerBuilder {
	return &ParallelComputerBuilder{requests: make(map[Level]Parallelism)}
}

// UseOnePool makes every parallel level share one pool of capacity threads.
func (b *ParallelComputerBuilder) UseOnePool(capacity int) error {
	return b.set(func() error {
		if capacity < 1 {
			return fmt.Errorf("pool capacity must be positive, got %d", capacity)
		}
		b.poolCapacity = capacity
		return nil
	})
}

// Parallel sets the requested concurrency of level.
func (b *ParallelComputerBuilder) Parallel(level Level, p Parallelism) error {
	return b.set(func() error {
		if level < core.LevelSuites || level > core.LevelMethods {
			return fmt.Errorf("unknown level %d", level)
		}
		if p < Unbounded {
			return fmt.Errorf("invalid parallelism %d for %s", p, level)
		}
		b.requests[level] = p
		return nil
	})
}

// ParallelAll sets the same request on every level.
func (b *ParallelComputerBuilder) ParallelAll(p Parallelism) error {
	for _, l := range core.Levels {
		if err := b.Parallel(l, p); err != nil {
			return err
		}
	}
	return nil
}

func (b *ParallelComputerBuilder) SetLogger(l core.Logger) error {
	return b.set(func() error {
		b.logger = l
		return nil
	})
}

func (b *ParallelComputerBuilder) SetMetrics(m core.Metrics) error {
	return b.set(func() error {
		b.metrics = m
		return nil
	})
}

func (b *ParallelComputerBuilder) SetPanicHandler(h core.PanicHandler) error {
	return b.set(func() error {
		b.panicHandler = h
		return nil
	})
}

// set applies fn unless the computer was already built; the built check
// comes first so late calls fail with ErrIllegalState whatever their arguments.
func (b *ParallelComputerBuilder) set(fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built {
		return fmt.Errorf("%w: configuration is final once the computer is built", core.ErrIllegalState)
	}
	return fn()
}

// Build finalizes the plan and returns the computer. It may be called once.
func (b *ParallelComputerBuilder) Build() (*ParallelComputer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built {
		return nil, fmt.Errorf("%w: computer already built", core.ErrIllegalState)
	}
	b.built = true

	config := (&core.TaskSchedulerConfig{
		PanicHandler: b.panicHandler,
		Metrics:      b.metrics,
		Logger:       b.logger,
	}).WithDefaults()

	return newParallelComputer(PlanAllocation(b.requests, b.poolCapacity), config), nil
}
