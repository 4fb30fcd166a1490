package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OTelMetrics records counters, gauges, and durations through an
// OpenTelemetry Meter.
type OTelMetrics struct {
	meter     metric.Meter
	counters  map[string]metric.Int64Counter
	gauges    map[string]metric.Float64Gauge
	durations map[string]metric.Int64Histogram
}

// NewOTelMetrics builds an OTelMetrics bound to the named meter.
func NewOTelMetrics(meter metric.Meter) *OTelMetrics {
	return &OTelMetrics{
		meter:     meter,
		counters:  make(map[string]metric.Int64Counter),
		gauges:    make(map[string]metric.Float64Gauge),
		durations: make(map[string]metric.Int64Histogram),
	}
}

func attrsOf(tags []KV) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(tags))
	for _, t := range tags {
		switch v := t.V.(type) {
		case string:
			out = append(out, attribute.String(t.K, v))
		case int:
			out = append(out, attribute.Int(t.K, v))
		case int64:
			out = append(out, attribute.Int64(t.K, v))
		case float64:
			out = append(out, attribute.Float64(t.K, v))
		case bool:
			out = append(out, attribute.Bool(t.K, v))
		default:
			out = append(out, attribute.String(t.K, toString(v)))
		}
	}
	return out
}

func toString(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}

func (m *OTelMetrics) IncCounter(ctx context.Context, name string, delta int64, tags ...KV) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Int64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(ctx, delta, metric.WithAttributes(attrsOf(tags)...))
}

func (m *OTelMetrics) RecordGauge(ctx context.Context, name string, value float64, tags ...KV) {
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		m.gauges[name] = g
	}
	g.Record(ctx, value, metric.WithAttributes(attrsOf(tags)...))
}

func (m *OTelMetrics) RecordDuration(ctx context.Context, name string, nanos int64, tags ...KV) {
	h, ok := m.durations[name]
	if !ok {
		var err error
		h, err = m.meter.Int64Histogram(name, metric.WithUnit("ns"))
		if err != nil {
			return
		}
		m.durations[name] = h
	}
	h.Record(ctx, nanos, metric.WithAttributes(attrsOf(tags)...))
}

// OTelTracer starts spans through an OpenTelemetry Tracer.
type OTelTracer struct {
	tracer trace.Tracer
}

func NewOTelTracer(tracer trace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

func (t *OTelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case time.Duration:
		s.span.SetAttributes(attribute.Int64(key, v.Nanoseconds()))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}
