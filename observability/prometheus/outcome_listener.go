package prometheus

import (
	"sync"
	"time"

	"github.com/Swind/go-suite-runner/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// OutcomeListener is a core.RunListener counting test outcomes.
type OutcomeListener struct {
	core.BaseRunListener

	testsStarted  prom.Counter
	testsFinished prom.Counter
	testOutcomes  *prom.CounterVec
	inProgress    prom.Gauge
	testDuration  prom.Histogram

	mu      sync.Mutex
	started map[string]time.Time
}

var _ core.ThreadSafeListener = (*OutcomeListener)(nil)

// NewOutcomeListener creates and registers the test outcome collectors.
func NewOutcomeListener(namespace string, reg prom.Registerer, opts ExporterOptions) (*OutcomeListener, error) {
	if namespace == "" {
		namespace = "suiterunner"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	started := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tests_started_total",
		Help:      "Total number of tests started.",
	})
	finished := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tests_finished_total",
		Help:      "Total number of tests finished.",
	})
	outcomes := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "test_outcomes_total",
		Help:      "Test outcomes other than success, by kind.",
	}, []string{"outcome"})
	inProgress := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "tests_in_progress",
		Help:      "Tests started and not yet finished.",
	})
	duration := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "test_duration_seconds",
		Help:      "Test duration in seconds.",
		Buckets:   buckets,
	})

	var err error
	if started, err = registerCollector(reg, started); err != nil {
		return nil, err
	}
	if finished, err = registerCollector(reg, finished); err != nil {
		return nil, err
	}
	if outcomes, err = registerCollector(reg, outcomes); err != nil {
		return nil, err
	}
	if inProgress, err = registerCollector(reg, inProgress); err != nil {
		return nil, err
	}
	if duration, err = registerCollector(reg, duration); err != nil {
		return nil, err
	}

	return &OutcomeListener{
		testsStarted:  started,
		testsFinished: finished,
		testOutcomes:  outcomes,
		inProgress:    inProgress,
		testDuration:  duration,
		started:       make(map[string]time.Time),
	}, nil
}

func (l *OutcomeListener) ThreadSafe() {}

func (l *OutcomeListener) TestStarted(desc *core.Description) error {
	l.testsStarted.Inc()
	l.inProgress.Inc()
	l.mu.Lock()
	l.started[desc.UniqueID()] = time.Now()
	l.mu.Unlock()
	return nil
}

func (l *OutcomeListener) TestFinished(desc *core.Description) error {
	l.testsFinished.Inc()
	l.inProgress.Dec()
	l.mu.Lock()
	startedAt, ok := l.started[desc.UniqueID()]
	delete(l.started, desc.UniqueID())
	l.mu.Unlock()
	if ok {
		l.testDuration.Observe(time.Since(startedAt).Seconds())
	}
	return nil
}

func (l *OutcomeListener) TestFailure(failure *core.Failure) error {
	l.testOutcomes.WithLabelValues("failed").Inc()
	return nil
}

func (l *OutcomeListener) TestAssumptionFailure(failure *core.Failure) error {
	l.testOutcomes.WithLabelValues("assumption_failed").Inc()
	return nil
}

func (l *OutcomeListener) TestIgnored(desc *core.Description) error {
	l.testOutcomes.WithLabelValues("ignored").Inc()
	return nil
}
