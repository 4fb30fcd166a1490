// Package telemetry defines the logging, metrics, and tracing
// interfaces used across hub components, with noop, clue-backed, and
// OpenTelemetry-backed implementations.
package telemetry

import "context"

// KV is a single structured logging field.
type KV struct {
	K string
	V any
}

// Logger is a structured, leveled logger.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...KV)
	Info(ctx context.Context, msg string, fields ...KV)
	Warn(ctx context.Context, msg string, fields ...KV)
	Error(ctx context.Context, msg string, fields ...KV)
}

// Metrics records counters, gauges, and timers.
type Metrics interface {
	IncCounter(ctx context.Context, name string, delta int64, tags ...KV)
	RecordGauge(ctx context.Context, name string, value float64, tags ...KV)
	RecordDuration(ctx context.Context, name string, nanos int64, tags ...KV)
}

// Span is a single unit of tracing work.
type Span interface {
	End()
	SetAttribute(key string, value any)
	RecordError(err error)
}

// Tracer starts spans.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}
