package sqlitestore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Swind/go-suite-runner/core"
	"github.com/Swind/go-suite-runner/reporting/sqlitestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestStore_RunRoundTrip verifies run rows are stored and updated
func TestStore_RunRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	started := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, s.StartRun(ctx, "run-1", "AllTests", started))
	require.NoError(t, s.FinishRun(ctx, sqlitestore.Run{
		ID:           "run-1",
		FinishedAt:   started.Add(2 * time.Second),
		RunCount:     3,
		FailureCount: 1,
		IgnoreCount:  1,
		Duration:     2 * time.Second,
	}))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "AllTests", got.Name)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, 3, got.RunCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, 1, got.IgnoreCount)
	assert.Equal(t, 2*time.Second, got.Duration)
}

// TestStore_MissingRun verifies ErrNotFound for unknown runs
func TestStore_MissingRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, sqlitestore.ErrNotFound)

	err = s.FinishRun(ctx, sqlitestore.Run{ID: "nope", FinishedAt: time.Now()})
	assert.ErrorIs(t, err, sqlitestore.ErrNotFound)
}

// TestStore_RunsNewestFirst verifies run listing order and limit
func TestStore_RunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.StartRun(ctx, id, id, base.Add(time.Duration(i)*time.Minute)))
	}

	runs, err := s.Runs(ctx, 2)

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

// TestListener_RecordsRun verifies the listener adapter
// Given: A notifier with a store listener
// When: A run with passing, failing, ignored and assumption-failed tests is fired
// Then: Each test is stored with its status and the run totals are written
func TestListener_RecordsRun(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := openStore(t)
	notifier := core.NewRunNotifier()
	result := core.NewResult()
	notifier.AddListener(result.CreateListener())
	notifier.AddListener(s.Listener(ctx, "run-42"))

	root := core.ForName("Root").CreateSuiteDescription()
	pass := core.NewTestDescription("C", "pass")
	fail := core.NewTestDescription("C", "fail")
	skip := core.NewTestDescription("C", "skip")
	assume := core.NewTestDescription("C", "assume")

	// Act
	notifier.FireTestRunStarted(root)
	require.NoError(t, notifier.FireTestStarted(pass))
	notifier.FireTestFinished(pass)
	require.NoError(t, notifier.FireTestStarted(fail))
	notifier.FireTestFailure(core.NewFailure(fail, errors.New("bad value")))
	notifier.FireTestFinished(fail)
	notifier.FireTestIgnored(skip)
	require.NoError(t, notifier.FireTestStarted(assume))
	notifier.FireTestAssumptionFailed(core.NewFailure(assume, core.AssumptionViolated("offline")))
	notifier.FireTestFinished(assume)
	notifier.FireTestRunFinished(result)

	// Assert
	run, err := s.GetRun(ctx, "run-42")
	require.NoError(t, err)
	assert.Equal(t, "Root", run.Name)
	assert.Equal(t, 3, run.RunCount)
	assert.Equal(t, 1, run.FailureCount)
	assert.Equal(t, 1, run.IgnoreCount)
	assert.Equal(t, 1, run.AssumptionFailureCount)

	tests, err := s.Tests(ctx, "run-42")
	require.NoError(t, err)
	status := make(map[string]string, len(tests))
	for _, rec := range tests {
		status[rec.Name] = rec.Status
	}
	assert.Equal(t, map[string]string{
		"pass(C)":   sqlitestore.StatusPassed,
		"fail(C)":   sqlitestore.StatusFailed,
		"skip(C)":   sqlitestore.StatusIgnored,
		"assume(C)": sqlitestore.StatusAssumptionFailed,
	}, status)
}
