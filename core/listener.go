package core

import "sync"

// RunListener observes the lifecycle events of a run. A returned error (or a
// panic) is isolated by the RunNotifier and reported as a failure of
// TestMechanism; it never aborts the run.
//
// Listeners are compared by identity when removed, so implementations should
// be pointer types.
type RunListener interface {
	TestRunStarted(desc *Description) error
	TestRunFinished(result *Result) error
	TestStarted(desc *Description) error
	TestFinished(desc *Description) error
	TestFailure(failure *Failure) error
	TestAssumptionFailure(failure *Failure) error
	TestIgnored(desc *Description) error
}

// ThreadSafeListener marks a listener that may be invoked from several
// goroutines at once. Listeners without the marker are serialized.
type ThreadSafeListener interface {
	RunListener
	ThreadSafe()
}

// BaseRunListener implements every callback as a no-op. Embed it to
// override only the events of interest.
type BaseRunListener struct{}

func (BaseRunListener) TestRunStarted(desc *Description) error       { return nil }
func (BaseRunListener) TestRunFinished(result *Result) error         { return nil }
func (BaseRunListener) TestStarted(desc *Description) error          { return nil }
func (BaseRunListener) TestFinished(desc *Description) error         { return nil }
func (BaseRunListener) TestFailure(failure *Failure) error           { return nil }
func (BaseRunListener) TestAssumptionFailure(failure *Failure) error { return nil }
func (BaseRunListener) TestIgnored(desc *Description) error          { return nil }

// synchronizedListener invokes its delegate under a mutex.
type synchronizedListener struct {
	mu       sync.Mutex
	delegate RunListener
}

func wrapIfNotThreadSafe(l RunListener) RunListener {
	if _, ok := l.(ThreadSafeListener); ok {
		return l
	}
	return &synchronizedListener{delegate: l}
}

// unwrapListener returns the listener a registry entry stands for.
func unwrapListener(l RunListener) RunListener {
	if s, ok := l.(*synchronizedListener); ok {
		return s.delegate
	}
	return l
}

func (s *synchronizedListener) TestRunStarted(desc *Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate.TestRunStarted(desc)
}

func (s *synchronizedListener) TestRunFinished(result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate.TestRunFinished(result)
}

func (s *synchronizedListener) TestStarted(desc *Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate.TestStarted(desc)
}

func (s *synchronizedListener) TestFinished(desc *Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate.TestFinished(desc)
}

func (s *synchronizedListener) TestFailure(failure *Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate.TestFailure(failure)
}

func (s *synchronizedListener) TestAssumptionFailure(failure *Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate.TestAssumptionFailure(failure)
}

func (s *synchronizedListener) TestIgnored(desc *Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate.TestIgnored(desc)
}
