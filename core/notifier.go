package core

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// NotifierConfig holds optional collaborators of a RunNotifier.
type NotifierConfig struct {
	// Logger receives listener failures. Defaults to DefaultLogger.
	Logger Logger

	// Metrics counts listener failures. Defaults to NilMetrics.
	Metrics Metrics
}

// RunNotifier fans lifecycle events out to the registered listeners and
// carries the run-scoped stop flag. One notifier exists per run; it must not
// be shared between concurrent runs.
//
// The registry is copy-on-write: every notification pass iterates the slice
// that was current when the pass started, so AddListener and RemoveListener
// never wait for listener code and never disturb a pass in progress.
type RunNotifier struct {
	runID string

	writeMu   sync.Mutex // serializes registry writers
	listeners atomic.Pointer[[]RunListener]

	// wrappers keeps one synchronized wrapper per listener for the whole run,
	// so a listener registered twice is still invoked by one goroutine at a
	// time. Guarded by writeMu.
	wrappers map[RunListener]RunListener

	pleaseStop atomic.Bool

	logger  Logger
	metrics Metrics
}

func NewRunNotifier() *RunNotifier {
	return NewRunNotifierWithConfig(nil)
}

func NewRunNotifierWithConfig(config *NotifierConfig) *RunNotifier {
	n := &RunNotifier{runID: uuid.NewString(), wrappers: make(map[RunListener]RunListener)}
	if config != nil {
		n.logger = config.Logger
		n.metrics = config.Metrics
	}
	if n.logger == nil {
		n.logger = NewDefaultLogger()
	}
	if n.metrics == nil {
		n.metrics = &NilMetrics{}
	}
	empty := []RunListener{}
	n.listeners.Store(&empty)
	return n
}

// RunID identifies the run this notifier belongs to.
func (n *RunNotifier) RunID() string {
	return n.runID
}

// =============================================================================
// Registry
// =============================================================================

// AddListener appends l to the registry.
func (n *RunNotifier) AddListener(l RunListener) {
	if l == nil {
		return
	}
	n.update(func(cur []RunListener) []RunListener {
		return append(slices.Clone(cur), n.wrapLocked(l))
	})
}

// AddFirstListener inserts l ahead of every registered listener, so it
// observes each event before any of them.
func (n *RunNotifier) AddFirstListener(l RunListener) {
	if l == nil {
		return
	}
	n.update(func(cur []RunListener) []RunListener {
		return append([]RunListener{n.wrapLocked(l)}, cur...)
	})
}

// RemoveListener removes every registration of l.
func (n *RunNotifier) RemoveListener(l RunListener) {
	if l == nil {
		return
	}
	n.update(func(cur []RunListener) []RunListener {
		return slices.DeleteFunc(slices.Clone(cur), func(entry RunListener) bool {
			return unwrapListener(entry) == l
		})
	})
}

// Listeners returns the registered listeners in delivery order.
func (n *RunNotifier) Listeners() []RunListener {
	cur := *n.listeners.Load()
	out := make([]RunListener, len(cur))
	for i, l := range cur {
		out[i] = unwrapListener(l)
	}
	return out
}

// wrapLocked returns the registry entry for l, reusing the wrapper made at
// an earlier registration of the same listener.
func (n *RunNotifier) wrapLocked(l RunListener) RunListener {
	if w, ok := n.wrappers[l]; ok {
		return w
	}
	w := wrapIfNotThreadSafe(l)
	n.wrappers[l] = w
	return w
}

func (n *RunNotifier) update(fn func([]RunListener) []RunListener) {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	next := fn(*n.listeners.Load())
	n.listeners.Store(&next)
}

// =============================================================================
// Stop flag
// =============================================================================

// PleaseStop asks the run to stop starting new tests. It is irreversible and
// interrupts nothing.
func (n *RunNotifier) PleaseStop() {
	if n.pleaseStop.CompareAndSwap(false, true) {
		n.logger.Info("stop requested", F("run_id", n.runID))
	}
}

// IsStopRequested reports whether PleaseStop was called.
func (n *RunNotifier) IsStopRequested() bool {
	return n.pleaseStop.Load()
}

// =============================================================================
// Events
// =============================================================================

func (n *RunNotifier) FireTestRunStarted(desc *Description) {
	n.safeNotify(n.snapshot(), func(l RunListener) error { return l.TestRunStarted(desc) })
}

func (n *RunNotifier) FireTestRunFinished(result *Result) {
	n.safeNotify(n.snapshot(), func(l RunListener) error { return l.TestRunFinished(result) })
}

// FireTestStarted announces that desc is about to run. After PleaseStop it
// returns ErrStoppedByUser without notifying anyone, and the test must not run.
func (n *RunNotifier) FireTestStarted(desc *Description) error {
	if n.pleaseStop.Load() {
		return fmt.Errorf("%w: %s not started", ErrStoppedByUser, desc)
	}
	n.safeNotify(n.snapshot(), func(l RunListener) error { return l.TestStarted(desc) })
	return nil
}

func (n *RunNotifier) FireTestFailure(failure *Failure) {
	n.fireTestFailures(n.snapshot(), []*Failure{failure})
}

func (n *RunNotifier) FireTestAssumptionFailed(failure *Failure) {
	n.safeNotify(n.snapshot(), func(l RunListener) error { return l.TestAssumptionFailure(failure) })
}

func (n *RunNotifier) FireTestIgnored(desc *Description) {
	n.safeNotify(n.snapshot(), func(l RunListener) error { return l.TestIgnored(desc) })
}

func (n *RunNotifier) FireTestFinished(desc *Description) {
	n.safeNotify(n.snapshot(), func(l RunListener) error { return l.TestFinished(desc) })
}

func (n *RunNotifier) fireTestFailures(listeners []RunListener, failures []*Failure) {
	if len(failures) == 0 {
		return
	}
	n.safeNotify(listeners, func(l RunListener) error {
		for _, f := range failures {
			if err := l.TestFailure(f); err != nil {
				return err
			}
		}
		return nil
	})
}

func (n *RunNotifier) snapshot() []RunListener {
	return *n.listeners.Load()
}

// safeNotify delivers one event to every listener in order. A listener that
// fails is skipped for the rest of this pass only; its failure is attributed
// to TestMechanism and delivered to the listeners that succeeded.
func (n *RunNotifier) safeNotify(listeners []RunListener, notify func(RunListener) error) {
	succeeded := make([]RunListener, 0, len(listeners))
	var failures []*Failure

	for _, l := range listeners {
		if err := n.invoke(l, notify); err != nil {
			failures = append(failures, NewFailure(TestMechanism, err))
			name := fmt.Sprintf("%T", unwrapListener(l))
			n.metrics.RecordListenerFailure(name)
			n.logger.Warn("listener failed",
				F("run_id", n.runID),
				F("listener", name),
				F("error", err.Error()))
			continue
		}
		succeeded = append(succeeded, l)
	}

	n.fireTestFailures(succeeded, failures)
}

func (n *RunNotifier) invoke(l RunListener, notify func(RunListener) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return notify(l)
}

// =============================================================================
// Context Helper
// =============================================================================

type notifierKeyType struct{}

var notifierKey notifierKeyType

// WithNotifier returns a context carrying n, for test bodies that want to
// report through the run they belong to.
func WithNotifier(ctx context.Context, n *RunNotifier) context.Context {
	return context.WithValue(ctx, notifierKey, n)
}

// NotifierFromContext returns the notifier stored by WithNotifier, or nil.
func NotifierFromContext(ctx context.Context) *RunNotifier {
	if n, ok := ctx.Value(notifierKey).(*RunNotifier); ok {
		return n
	}
	return nil
}
