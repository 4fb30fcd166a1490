package telemetry

import "context"

// NoopLogger discards everything. It is the default for in-memory
// component constructors and tests.
type NoopLogger struct{}

func NewNoopLogger() Logger { return NoopLogger{} }

func (NoopLogger) Debug(context.Context, string, ...KV) {}
func (NoopLogger) Info(context.Context, string, ...KV)  {}
func (NoopLogger) Warn(context.Context, string, ...KV)  {}
func (NoopLogger) Error(context.Context, string, ...KV) {}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func NewNoopMetrics() Metrics { return NoopMetrics{} }

func (NoopMetrics) IncCounter(context.Context, string, int64, ...KV)    {}
func (NoopMetrics) RecordGauge(context.Context, string, float64, ...KV) {}
func (NoopMetrics) RecordDuration(context.Context, string, int64, ...KV) {}

// NoopTracer produces spans that do nothing.
type NoopTracer struct{}

func NewNoopTracer() Tracer { return NoopTracer{} }

func (NoopTracer) Start(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End()                        {}
func (noopSpan) SetAttribute(string, any)    {}
func (noopSpan) RecordError(error)           {}
