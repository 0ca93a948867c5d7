package core

import (
	"context"
	"fmt"
	"sync"
)

// manualPool queues submitted items until the test runs them. It lets tests
// control exactly when each task executes.
type manualPool struct {
	mu       sync.Mutex
	items    []TaskItem
	shutdown bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newManualPool() *manualPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &manualPool{ctx: ctx, cancel: cancel}
}

func (p *manualPool) ID() string { return "manual" }

func (p *manualPool) Submit(item TaskItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return fmt.Errorf("%w: manual pool", ErrRejectedExecution)
	}
	p.wg.Add(1)
	p.items = append(p.items, item)
	return nil
}

// runNext runs the oldest queued item on the calling goroutine.
func (p *manualPool) runNext() bool {
	p.mu.Lock()
	if len(p.items) == 0 {
		p.mu.Unlock()
		return false
	}
	item := p.items[0]
	p.items = p.items[1:]
	p.mu.Unlock()

	defer p.wg.Done()
	item.Task(p.ctx)
	return true
}

func (p *manualPool) runAll() int {
	n := 0
	for p.runNext() {
		n++
	}
	return n
}

func (p *manualPool) queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *manualPool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
}

func (p *manualPool) ShutdownNow() int {
	p.mu.Lock()
	p.shutdown = true
	items := p.items
	p.items = nil
	p.mu.Unlock()

	p.cancel()
	for _, item := range items {
		item.Abandon()
		p.wg.Done()
	}
	return len(items)
}

func (p *manualPool) AwaitTermination(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
}

func (p *manualPool) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

func (p *manualPool) Capacity() int { return 0 }

func (p *manualPool) Stats() PoolStats {
	return PoolStats{ID: p.ID(), Queued: p.queued(), Running: !p.IsShutdown()}
}

// goPool runs every submitted item on its own goroutine.
type goPool struct {
	mu       sync.Mutex
	shutdown bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newGoPool() *goPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &goPool{ctx: ctx, cancel: cancel}
}

func (p *goPool) ID() string { return "go" }

func (p *goPool) Submit(item TaskItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return fmt.Errorf("%w: go pool", ErrRejectedExecution)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		item.Task(p.ctx)
	}()
	return nil
}

func (p *goPool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
}

func (p *goPool) ShutdownNow() int {
	p.Shutdown()
	p.cancel()
	return 0
}

func (p *goPool) AwaitTermination(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
}

func (p *goPool) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

func (p *goPool) Capacity() int    { return 0 }
func (p *goPool) Stats() PoolStats { return PoolStats{ID: p.ID(), Running: !p.IsShutdown()} }

// recordingListener records every event as a string, optionally failing.
type recordingListener struct {
	mu     sync.Mutex
	name   string
	events []string
	fail   func(event string) error
}

func newRecordingListener(name string) *recordingListener {
	return &recordingListener{name: name}
}

func (l *recordingListener) record(event string) error {
	l.mu.Lock()
	l.events = append(l.events, event)
	fail := l.fail
	l.mu.Unlock()
	if fail != nil {
		return fail(event)
	}
	return nil
}

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingListener) TestRunStarted(desc *Description) error {
	return l.record("runStarted " + desc.DisplayName())
}
func (l *recordingListener) TestRunFinished(result *Result) error { return l.record("runFinished") }
func (l *recordingListener) TestStarted(desc *Description) error {
	return l.record("started " + desc.DisplayName())
}
func (l *recordingListener) TestFinished(desc *Description) error {
	return l.record("finished " + desc.DisplayName())
}
func (l *recordingListener) TestFailure(f *Failure) error {
	return l.record("failure " + f.Description.DisplayName())
}
func (l *recordingListener) TestAssumptionFailure(f *Failure) error {
	return l.record("assumption " + f.Description.DisplayName())
}
func (l *recordingListener) TestIgnored(desc *Description) error {
	return l.record("ignored " + desc.DisplayName())
}

func newTestNotifier() *RunNotifier {
	return NewRunNotifierWithConfig(&NotifierConfig{Logger: NewNoOpLogger()})
}
