package suiterunner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-suite-runner/core"
)

func TestParseParallelism(t *testing.T) {
	tests := []struct {
		in      string
		want    Parallelism
		wantErr bool
	}{
		{in: "", want: Sequential},
		{in: "sequential", want: Sequential},
		{in: "Unbounded", want: Unbounded},
		{in: "max", want: Unbounded},
		{in: " 4 ", want: 4},
		{in: "1", want: 1},
		{in: "-2", wantErr: true},
		{in: "lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseParallelism(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParallelism_String(t *testing.T) {
	assert.Equal(t, "sequential", Sequential.String())
	assert.Equal(t, "sequential", Parallelism(1).String())
	assert.Equal(t, "unbounded", Unbounded.String())
	assert.Equal(t, "7", Parallelism(7).String())
}

// TestPlanAllocation verifies effective concurrency per level
// Given: Per-level requests and an optional shared capacity
// When: PlanAllocation is called
// Then: Each level gets the expected mode and effective concurrency
func TestPlanAllocation(t *testing.T) {
	type want struct {
		mode      core.StrategyKind
		effective Parallelism
	}
	tests := []struct {
		name     string
		requests map[Level]Parallelism
		capacity int
		want     [3]want
		shared   bool
	}{
		{
			name:     "all sequential",
			requests: map[Level]Parallelism{},
			want: [3]want{
				{core.StrategySequential, Sequential},
				{core.StrategySequential, Sequential},
				{core.StrategySequential, Sequential},
			},
		},
		{
			name:     "split pools keep requests",
			requests: map[Level]Parallelism{Classes: 4, Methods: Unbounded},
			want: [3]want{
				{core.StrategySequential, Sequential},
				{core.StrategyPrivatePool, 4},
				{core.StrategyPrivatePool, Unbounded},
			},
		},
		{
			name:     "shared pool caps requests to capacity",
			requests: map[Level]Parallelism{Suites: Unbounded, Classes: 2, Methods: 8},
			capacity: 4,
			shared:   true,
			want: [3]want{
				{core.StrategySharedPool, 4},
				{core.StrategySharedPool, 2},
				{core.StrategySharedPool, 4},
			},
		},
		{
			name:     "request of one is sequential",
			requests: map[Level]Parallelism{Methods: 1},
			capacity: 4,
			want: [3]want{
				{core.StrategySequential, Sequential},
				{core.StrategySequential, Sequential},
				{core.StrategySequential, Sequential},
			},
		},
		{
			name:     "capacity of one degrades to sequential",
			requests: map[Level]Parallelism{Suites: Unbounded, Classes: Unbounded, Methods: Unbounded},
			capacity: 1,
			want: [3]want{
				{core.StrategySequential, Sequential},
				{core.StrategySequential, Sequential},
				{core.StrategySequential, Sequential},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanAllocation(tt.requests, tt.capacity)

			for i, level := range core.Levels {
				lp := plan.Level(level)
				assert.Equal(t, tt.want[i].mode, lp.Mode, "mode of %s", level)
				assert.Equal(t, tt.want[i].effective, lp.Effective, "effective of %s", level)
				assert.Equal(t, tt.requests[level], lp.Requested, "requested of %s", level)
			}
			assert.Equal(t, tt.shared, plan.UsesSharedPool())
			assert.Equal(t, tt.capacity == 0, plan.SplitPool())
		})
	}
}

// TestParallelComputerBuilder_IllegalStateAfterBuild verifies the plan is
// final once built
func TestParallelComputerBuilder_IllegalStateAfterBuild(t *testing.T) {
	b := NewParallelComputerBuilder()
	require.NoError(t, b.Parallel(Methods, 4))
	require.NoError(t, b.UseOnePool(2))

	computer, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 2, computer.PoolCapacity())
	assert.Equal(t, Parallelism(2), computer.Plan().Level(Methods).Effective)

	assert.True(t, errors.Is(b.Parallel(Classes, 2), core.ErrIllegalState))
	assert.True(t, errors.Is(b.ParallelAll(Unbounded), core.ErrIllegalState))
	assert.True(t, errors.Is(b.UseOnePool(8), core.ErrIllegalState))
	assert.True(t, errors.Is(b.SetLogger(core.NewNoOpLogger()), core.ErrIllegalState))

	_, err = b.Build()
	assert.ErrorIs(t, err, core.ErrIllegalState)

	// Invalid arguments after Build still report the illegal state.
	assert.ErrorIs(t, b.UseOnePool(0), core.ErrIllegalState)
	assert.ErrorIs(t, b.Parallel(Level(7), 2), core.ErrIllegalState)
	assert.ErrorIs(t, b.Parallel(Methods, -5), core.ErrIllegalState)

	// The built plan is unaffected.
	assert.Equal(t, Sequential, computer.Plan().Level(Classes).Effective)
}

func TestParallelComputerBuilder_InvalidArguments(t *testing.T) {
	b := NewParallelComputerBuilder()

	assert.Error(t, b.UseOnePool(0))
	assert.Error(t, b.Parallel(Methods, -5))
	assert.Error(t, b.Parallel(Level(9), 2))
}

func TestAllocationPlan_UnknownLevelIsSequential(t *testing.T) {
	plan := PlanAllocation(map[Level]Parallelism{Methods: Unbounded}, 4)

	for _, l := range []Level{Level(3), Level(-1)} {
		lp := plan.Level(l)
		assert.Equal(t, l, lp.Level)
		assert.Equal(t, Sequential, lp.Effective)
		assert.Equal(t, core.StrategySequential, lp.Mode)
	}
}
