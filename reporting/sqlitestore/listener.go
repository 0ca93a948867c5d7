package sqlitestore

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-suite-runner/core"
)

// Listener writes the events of one run into a Store. Write errors are
// returned to the notifier, which reports them as test mechanism failures.
type Listener struct {
	store *Store
	runID string
	ctx   context.Context

	mu      sync.Mutex
	pending map[string]*TestRecord
	started map[string]time.Time
}

var _ core.ThreadSafeListener = (*Listener)(nil)

// Listener returns a RunListener recording into s under runID.
func (s *Store) Listener(ctx context.Context, runID string) *Listener {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Listener{
		store:   s,
		runID:   runID,
		ctx:     ctx,
		pending: make(map[string]*TestRecord),
		started: make(map[string]time.Time),
	}
}

func (l *Listener) ThreadSafe() {}

func (l *Listener) TestRunStarted(desc *core.Description) error {
	return l.store.StartRun(l.ctx, l.runID, desc.DisplayName(), time.Now())
}

func (l *Listener) TestRunFinished(result *core.Result) error {
	return l.store.FinishRun(l.ctx, Run{
		ID:                     l.runID,
		FinishedAt:             time.Now(),
		RunCount:               result.RunCount(),
		FailureCount:           result.FailureCount(),
		IgnoreCount:            result.IgnoreCount(),
		AssumptionFailureCount: result.AssumptionFailureCount(),
		Duration:               result.RunTime(),
	})
}

func (l *Listener) TestStarted(desc *core.Description) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started[desc.UniqueID()] = time.Now()
	l.pending[desc.UniqueID()] = &TestRecord{
		RunID:  l.runID,
		TestID: desc.UniqueID(),
		Name:   desc.DisplayName(),
		Status: StatusPassed,
	}
	return nil
}

func (l *Listener) TestFinished(desc *core.Description) error {
	l.mu.Lock()
	rec, ok := l.pending[desc.UniqueID()]
	startedAt := l.started[desc.UniqueID()]
	delete(l.pending, desc.UniqueID())
	delete(l.started, desc.UniqueID())
	l.mu.Unlock()
	if !ok {
		return nil
	}
	rec.FinishedAt = time.Now()
	rec.Duration = rec.FinishedAt.Sub(startedAt)
	return l.store.PutTest(l.ctx, *rec)
}

func (l *Listener) TestFailure(failure *core.Failure) error {
	return l.mark(failure.Description, StatusFailed, failure.Message())
}

func (l *Listener) TestAssumptionFailure(failure *core.Failure) error {
	return l.mark(failure.Description, StatusAssumptionFailed, failure.Message())
}

func (l *Listener) TestIgnored(desc *core.Description) error {
	return l.mark(desc, StatusIgnored, "")
}

// mark updates a running test, or stores a row at once for descriptions that
// never started.
func (l *Listener) mark(desc *core.Description, status, message string) error {
	l.mu.Lock()
	if rec, ok := l.pending[desc.UniqueID()]; ok {
		if rec.Status != StatusFailed {
			rec.Status = status
		}
		if message != "" {
			if rec.Message != "" {
				rec.Message += "; "
			}
			rec.Message += message
		}
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	return l.store.PutTest(l.ctx, TestRecord{
		RunID:      l.runID,
		TestID:     desc.UniqueID(),
		Name:       desc.DisplayName(),
		Status:     status,
		Message:    message,
		FinishedAt: time.Now(),
	})
}
