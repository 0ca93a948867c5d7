// Package tracing records runs as OpenTelemetry spans: one span for the run
// and a child span per test.
package tracing

import (
	"context"
	"sync"

	"github.com/Swind/go-suite-runner/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Swind/go-suite-runner"

// SpanListener is a core.RunListener emitting spans.
type SpanListener struct {
	tracer trace.Tracer
	parent context.Context

	mu      sync.Mutex
	runCtx  context.Context
	runSpan trace.Span
	spans   map[string]trace.Span
}

var _ core.ThreadSafeListener = (*SpanListener)(nil)

// NewSpanListener returns a listener whose run span is a child of the span in
// parent, if any. A nil tracer uses the global provider.
func NewSpanListener(parent context.Context, tracer trace.Tracer) *SpanListener {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	if parent == nil {
		parent = context.Background()
	}
	return &SpanListener{
		tracer: tracer,
		parent: parent,
		runCtx: parent,
		spans:  make(map[string]trace.Span),
	}
}

func (l *SpanListener) ThreadSafe() {}

func (l *SpanListener) TestRunStarted(desc *core.Description) error {
	ctx, span := l.tracer.Start(l.parent, "run "+desc.DisplayName(),
		trace.WithAttributes(
			attribute.String("suite.name", desc.DisplayName()),
			attribute.Int("suite.test_count", desc.TestCount()),
		))
	l.mu.Lock()
	l.runCtx, l.runSpan = ctx, span
	l.mu.Unlock()
	return nil
}

func (l *SpanListener) TestRunFinished(result *core.Result) error {
	l.mu.Lock()
	span := l.runSpan
	l.runSpan = nil
	open := l.spans
	l.spans = make(map[string]trace.Span)
	l.mu.Unlock()

	for _, s := range open {
		s.SetStatus(codes.Error, "test did not finish")
		s.End()
	}
	if span == nil {
		return nil
	}
	span.SetAttributes(
		attribute.Int("run.count", result.RunCount()),
		attribute.Int("run.failures", result.FailureCount()),
		attribute.Int("run.ignored", result.IgnoreCount()),
		attribute.Int("run.assumption_failures", result.AssumptionFailureCount()),
	)
	if !result.WasSuccessful() {
		span.SetStatus(codes.Error, "run had failures")
	}
	span.End()
	return nil
}

func (l *SpanListener) TestStarted(desc *core.Description) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, span := l.tracer.Start(l.runCtx, desc.DisplayName(),
		trace.WithAttributes(attribute.String("test.id", desc.UniqueID())))
	l.spans[desc.UniqueID()] = span
	return nil
}

func (l *SpanListener) TestFinished(desc *core.Description) error {
	l.mu.Lock()
	span, ok := l.spans[desc.UniqueID()]
	delete(l.spans, desc.UniqueID())
	l.mu.Unlock()
	if ok {
		span.End()
	}
	return nil
}

func (l *SpanListener) TestFailure(failure *core.Failure) error {
	span := l.spanFor(failure.Description)
	span.RecordError(failure.Err, trace.WithAttributes(attribute.String("test.id", failure.Description.UniqueID())))
	span.SetStatus(codes.Error, failure.Message())
	return nil
}

func (l *SpanListener) TestAssumptionFailure(failure *core.Failure) error {
	span := l.spanFor(failure.Description)
	span.AddEvent("assumption failed", trace.WithAttributes(
		attribute.String("test.id", failure.Description.UniqueID()),
		attribute.String("reason", failure.Message()),
	))
	span.SetAttributes(attribute.String("test.outcome", "assumption_failed"))
	return nil
}

func (l *SpanListener) TestIgnored(desc *core.Description) error {
	l.mu.Lock()
	ctx := l.runCtx
	l.mu.Unlock()
	_, span := l.tracer.Start(ctx, desc.DisplayName(), trace.WithAttributes(
		attribute.String("test.id", desc.UniqueID()),
		attribute.String("test.outcome", "ignored"),
	))
	span.End()
	return nil
}

// spanFor returns the open span of desc, or the run span for descriptions
// that never started (containers, the test mechanism).
func (l *SpanListener) spanFor(desc *core.Description) trace.Span {
	l.mu.Lock()
	defer l.mu.Unlock()
	if span, ok := l.spans[desc.UniqueID()]; ok {
		return span
	}
	if l.runSpan != nil {
		return l.runSpan
	}
	return trace.SpanFromContext(l.parent)
}
