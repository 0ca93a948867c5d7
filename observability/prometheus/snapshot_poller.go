package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-suite-runner/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SchedulerSetProvider lists schedulers whose membership changes over time,
// such as the root schedulers of a computer's active runs.
type SchedulerSetProvider func() []core.SchedulerStats

// PoolSetProvider lists pools whose membership changes over time, such as
// the per-run shared pools of a computer.
type PoolSetProvider func() []core.PoolStats

// SnapshotPoller periodically exports scheduler/pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu  sync.RWMutex
	schedulers    map[string]SchedulerSnapshotProvider
	schedulerSets []SchedulerSetProvider

	poolsMu  sync.RWMutex
	pools    map[string]PoolSnapshotProvider
	poolSets []PoolSetProvider

	schedulerPending  *prom.GaugeVec
	schedulerRunning  *prom.GaugeVec
	schedulerInFlight *prom.GaugeVec
	schedulerRejected *prom.GaugeVec
	schedulerClosed   *prom.GaugeVec

	poolQueued   *prom.GaugeVec
	poolActive   *prom.GaugeVec
	poolCapacity *prom.GaugeVec
	poolRunning  *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "suiterunner",
			Name:      name,
			Help:      help,
		}, labels)
	}

	p := &SnapshotPoller{
		interval:          interval,
		schedulers:        make(map[string]SchedulerSnapshotProvider),
		pools:             make(map[string]PoolSnapshotProvider),
		schedulerPending:  gauge("scheduler_pending", "Children waiting for a per-node slot.", "scheduler", "strategy"),
		schedulerRunning:  gauge("scheduler_running", "Children submitted to a pool and not finished.", "scheduler", "strategy"),
		schedulerInFlight: gauge("scheduler_in_flight", "Children dispatched and not finished.", "scheduler", "strategy"),
		schedulerRejected: gauge("scheduler_rejected_total", "Scheduler rejected child count snapshot.", "scheduler", "strategy"),
		schedulerClosed:   gauge("scheduler_closed", "Scheduler closed state (1=closed, 0=open).", "scheduler", "strategy"),
		poolQueued:        gauge("pool_queued", "Queued tasks per pool.", "pool"),
		poolActive:        gauge("pool_active", "Active tasks per pool.", "pool"),
		poolCapacity:      gauge("pool_capacity", "Slot count per pool (0=unbounded).", "pool"),
		poolRunning:       gauge("pool_running", "Pool running state (1=running, 0=stopped).", "pool"),
	}

	for _, target := range []**prom.GaugeVec{
		&p.schedulerPending, &p.schedulerRunning, &p.schedulerInFlight, &p.schedulerRejected, &p.schedulerClosed,
		&p.poolQueued, &p.poolActive, &p.poolCapacity, &p.poolRunning,
	} {
		registered, err := registerCollector(reg, *target)
		if err != nil {
			return nil, err
		}
		*target = registered
	}
	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// RemoveScheduler stops polling name.
func (p *SnapshotPoller) RemoveScheduler(name string) {
	if p == nil {
		return
	}
	p.schedulersMu.Lock()
	delete(p.schedulers, normalizeLabel(name, "scheduler"))
	p.schedulersMu.Unlock()
}

// AddSchedulerSet polls a changing set of schedulers, labelled by their names.
func (p *SnapshotPoller) AddSchedulerSet(provider SchedulerSetProvider) {
	if p == nil || provider == nil {
		return
	}
	p.schedulersMu.Lock()
	p.schedulerSets = append(p.schedulerSets, provider)
	p.schedulersMu.Unlock()
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// AddPoolSet polls a changing set of pools, labelled by their IDs.
func (p *SnapshotPoller) AddPoolSet(provider PoolSetProvider) {
	if p == nil || provider == nil {
		return
	}
	p.poolsMu.Lock()
	p.poolSets = append(p.poolSets, provider)
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		p.setScheduler(name, provider.Stats())
	}
	for _, set := range p.schedulerSets {
		for _, stats := range set() {
			p.setScheduler(normalizeLabel(stats.Name, "scheduler"), stats)
		}
	}
	p.schedulersMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		p.setPool(name, provider.Stats())
	}
	for _, set := range p.poolSets {
		for _, stats := range set() {
			p.setPool(normalizeLabel(stats.ID, "pool"), stats)
		}
	}
	p.poolsMu.RUnlock()
}

func (p *SnapshotPoller) setScheduler(name string, stats core.SchedulerStats) {
	strategy := normalizeLabel(stats.Strategy, "unknown")
	p.schedulerPending.WithLabelValues(name, strategy).Set(float64(stats.Pending))
	p.schedulerRunning.WithLabelValues(name, strategy).Set(float64(stats.Running))
	p.schedulerInFlight.WithLabelValues(name, strategy).Set(float64(stats.InFlight))
	p.schedulerRejected.WithLabelValues(name, strategy).Set(float64(stats.Rejected))
	p.schedulerClosed.WithLabelValues(name, strategy).Set(boolGauge(stats.Closed))
}

func (p *SnapshotPoller) setPool(name string, stats core.PoolStats) {
	p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
	p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
	p.poolCapacity.WithLabelValues(name).Set(float64(stats.Capacity))
	p.poolRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
