package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// logSpanProcessor logs every ended span at debug level.
type logSpanProcessor struct {
	logger *logrus.Logger
}

var _ sdktrace.SpanProcessor = (*logSpanProcessor)(nil)

func newLogSpanProcessor(logger *logrus.Logger) *logSpanProcessor {
	return &logSpanProcessor{logger: logger}
}

func (p *logSpanProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	entry := p.logger.WithFields(logrus.Fields{
		"span":     s.Name(),
		"trace_id": s.SpanContext().TraceID().String(),
		"duration": s.EndTime().Sub(s.StartTime()).String(),
	})
	for _, kv := range s.Attributes() {
		entry = entry.WithField(string(kv.Key), kv.Value.Emit())
	}
	if s.Status().Code == codes.Error {
		entry.WithField("error", s.Status().Description).Debug("span failed")
		return
	}
	entry.Debug("span ended")
}

func (p *logSpanProcessor) Shutdown(ctx context.Context) error   { return nil }
func (p *logSpanProcessor) ForceFlush(ctx context.Context) error { return nil }
