package core

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Failure pairs a description with the error that failed it.
type Failure struct {
	Description *Description
	Err         error
}

// NewFailure returns a Failure for desc.
func NewFailure(desc *Description, err error) *Failure {
	return &Failure{Description: desc, Err: err}
}

// Message returns the error text, or "" for a nil error.
func (f *Failure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

func (f *Failure) String() string {
	return f.Description.String() + ": " + f.Message()
}

// Result aggregates the outcome of one run. It is filled in by the listener
// returned from CreateListener.
type Result struct {
	runCount               atomic.Int64
	ignoreCount            atomic.Int64
	assumptionFailureCount atomic.Int64

	mu        sync.Mutex
	failures  []*Failure
	startedAt time.Time
	runTime   time.Duration
}

func NewResult() *Result {
	return &Result{}
}

// RunCount returns the number of tests that finished.
func (r *Result) RunCount() int { return int(r.runCount.Load()) }

// IgnoreCount returns the number of tests reported ignored.
func (r *Result) IgnoreCount() int { return int(r.ignoreCount.Load()) }

// AssumptionFailureCount returns the number of tests whose assumptions failed.
func (r *Result) AssumptionFailureCount() int { return int(r.assumptionFailureCount.Load()) }

// FailureCount returns the number of recorded failures.
func (r *Result) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

// Failures returns a copy of the recorded failures in arrival order.
func (r *Result) Failures() []*Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.failures)
}

// RunTime returns the wall time between run start and run finish.
func (r *Result) RunTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runTime
}

// WasSuccessful reports whether no failure was recorded.
func (r *Result) WasSuccessful() bool {
	return r.FailureCount() == 0
}

// CreateListener returns the collector feeding r. It is safe for concurrent
// use and is meant to be registered with AddFirstListener.
func (r *Result) CreateListener() RunListener {
	return &resultListener{result: r}
}

type resultListener struct {
	result *Result
}

func (l *resultListener) ThreadSafe() {}

func (l *resultListener) TestRunStarted(desc *Description) error {
	l.result.mu.Lock()
	l.result.startedAt = time.Now()
	l.result.mu.Unlock()
	return nil
}

func (l *resultListener) TestRunFinished(result *Result) error {
	l.result.mu.Lock()
	if !l.result.startedAt.IsZero() {
		l.result.runTime = time.Since(l.result.startedAt)
	}
	l.result.mu.Unlock()
	return nil
}

func (l *resultListener) TestStarted(desc *Description) error { return nil }

func (l *resultListener) TestFinished(desc *Description) error {
	l.result.runCount.Add(1)
	return nil
}

func (l *resultListener) TestFailure(failure *Failure) error {
	l.result.mu.Lock()
	l.result.failures = append(l.result.failures, failure)
	l.result.mu.Unlock()
	return nil
}

func (l *resultListener) TestAssumptionFailure(failure *Failure) error {
	l.result.assumptionFailureCount.Add(1)
	return nil
}

func (l *resultListener) TestIgnored(desc *Description) error {
	l.result.ignoreCount.Add(1)
	return nil
}
