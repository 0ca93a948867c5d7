package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/Swind/go-suite-runner/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestSpanListener_RunAndTestSpans verifies span shape of a run
// Given: A class with one passing and one failing method
// When: The tree runs with a SpanListener on a recording provider
// Then: Each test gets a child span of the run span, failures carry error status
func TestSpanListener_RunAndTestSpans(t *testing.T) {
	// Arrange
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	listener := NewSpanListener(context.Background(), provider.Tracer("test"))
	notifier := core.NewRunNotifierWithConfig(&core.NotifierConfig{Logger: core.NewNoOpLogger()})
	result := core.NewResult()
	notifier.AddFirstListener(result.CreateListener())
	notifier.AddListener(listener)

	root := core.NewClass("Sample",
		core.NewMethod("Sample", "passes", func(ctx context.Context) error { return nil }),
		core.NewMethod("Sample", "fails", func(ctx context.Context) error { return errors.New("boom") }),
	)

	// Act
	notifier.FireTestRunStarted(root.Describe())
	root.Run(context.Background(), &core.Execution{Notifier: notifier, Schedulers: core.SequentialSchedulers{}}, nil)
	notifier.FireTestRunFinished(result)

	// Assert
	ended := recorder.Ended()
	require.Len(t, ended, 3)

	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range ended {
		byName[s.Name()] = s
	}
	run := byName["run Sample"]
	require.NotNil(t, run)
	assert.Equal(t, codes.Error, run.Status().Code)

	passed := byName["passes(Sample)"]
	failed := byName["fails(Sample)"]
	require.NotNil(t, passed)
	require.NotNil(t, failed)
	assert.Equal(t, run.SpanContext().SpanID(), passed.Parent().SpanID())
	assert.Equal(t, codes.Unset, passed.Status().Code)
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "boom", failed.Status().Description)
}

// TestSpanListener_IgnoredTest verifies ignored tests get a marker span
// Given: An ignored method
// When: The tree runs
// Then: A span with outcome "ignored" is recorded
func TestSpanListener_IgnoredTest(t *testing.T) {
	// Arrange
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	listener := NewSpanListener(context.Background(), provider.Tracer("test"))
	notifier := core.NewRunNotifierWithConfig(&core.NotifierConfig{Logger: core.NewNoOpLogger()})
	notifier.AddListener(listener)
	root := core.NewClass("Sample", core.NewMethod("Sample", "later", nil, core.Ignored()))

	// Act
	root.Run(context.Background(), &core.Execution{Notifier: notifier, Schedulers: core.SequentialSchedulers{}}, nil)

	// Assert
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	found := false
	for _, kv := range ended[0].Attributes() {
		if string(kv.Key) == "test.outcome" && kv.Value.AsString() == "ignored" {
			found = true
		}
	}
	assert.True(t, found, "ignored span should carry test.outcome=ignored")
}
