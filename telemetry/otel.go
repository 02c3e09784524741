package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/hupe1980/agentweave"

// Config controls the OpenTelemetry bootstrap.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Setup installs global tracer and meter providers and returns a shutdown
// function that flushes both. When disabled a noop tracer provider is
// installed and shutdown is free.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	switch cfg.Exporter {
	case "stdout":
	case "noop", "":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// StartSpan starts a named span from the globally installed tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// OTel is an Observer that annotates the active span with each event and
// aggregates the canonical execution events into metric instruments.
type OTel struct {
	metrics *Metrics
}

// NewOTel constructs the observer, registering its instruments with the
// globally installed meter provider.
func NewOTel() (*OTel, error) {
	metrics, err := NewMetrics()
	if err != nil {
		return nil, err
	}

	return &OTel{metrics: metrics}, nil
}

// RecordEvent implements Observer.
func (o *OTel) RecordEvent(ctx context.Context, name string, attrs map[string]any) {
	kvs := toAttributes(attrs)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(kvs...))
	}

	o.metrics.record(ctx, name, attrs)
}

// Metrics holds the execution-level instruments.
type Metrics struct {
	executionsStarted   metric.Int64Counter
	executionsCompleted metric.Int64Counter
	executionsFailed    metric.Int64Counter
	executionDuration   metric.Float64Histogram
	framesEmitted       metric.Int64Counter
	modelCalls          metric.Int64Counter
	toolCalls           metric.Int64Counter
}

// NewMetrics registers the instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	executionsStarted, err := meter.Int64Counter(
		"agentweave.executions.started",
		metric.WithDescription("Total number of pattern executions started"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	executionsCompleted, err := meter.Int64Counter(
		"agentweave.executions.completed",
		metric.WithDescription("Total number of pattern executions that finished successfully"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	executionsFailed, err := meter.Int64Counter(
		"agentweave.executions.failed",
		metric.WithDescription("Total number of pattern executions that ended in a failure frame"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	executionDuration, err := meter.Float64Histogram(
		"agentweave.execution.duration",
		metric.WithDescription("Duration of pattern executions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	framesEmitted, err := meter.Int64Counter(
		"agentweave.frames.emitted",
		metric.WithDescription("Total number of stream frames emitted"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}

	modelCalls, err := meter.Int64Counter(
		"agentweave.model.calls",
		metric.WithDescription("Total number of model invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	toolCalls, err := meter.Int64Counter(
		"agentweave.tool.calls",
		metric.WithDescription("Total number of dispatched tool calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		executionsStarted:   executionsStarted,
		executionsCompleted: executionsCompleted,
		executionsFailed:    executionsFailed,
		executionDuration:   executionDuration,
		framesEmitted:       framesEmitted,
		modelCalls:          modelCalls,
		toolCalls:           toolCalls,
	}, nil
}

func (m *Metrics) record(ctx context.Context, name string, attrs map[string]any) {
	opt := metric.WithAttributes(metricAttributes(attrs)...)

	switch name {
	case EventExecutionStart:
		m.executionsStarted.Add(ctx, 1, opt)
	case EventExecutionComplete:
		m.executionsCompleted.Add(ctx, 1, opt)
		if s, ok := durationSeconds(attrs); ok {
			m.executionDuration.Record(ctx, s, opt)
		}
	case EventExecutionFailed:
		m.executionsFailed.Add(ctx, 1, opt)
		if s, ok := durationSeconds(attrs); ok {
			m.executionDuration.Record(ctx, s, opt)
		}
	case EventModelCall:
		m.modelCalls.Add(ctx, 1, opt)
	case EventToolCall:
		m.toolCalls.Add(ctx, 1, opt)
	case EventFrameEmitted:
		m.framesEmitted.Add(ctx, 1, opt)
	}
}

// metricAttributes keeps only low-cardinality dimensions; per-execution ids
// stay on spans and logs.
func metricAttributes(attrs map[string]any) []attribute.KeyValue {
	var kvs []attribute.KeyValue

	for _, key := range []string{"pattern", "profile", "provider", "tool", "error_code"} {
		if v, ok := attrs[key]; ok {
			kvs = append(kvs, attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}

	return kvs
}

func durationSeconds(attrs map[string]any) (float64, bool) {
	switch v := attrs["duration"].(type) {
	case time.Duration:
		return v.Seconds(), true
	case float64:
		return v, true
	}

	return 0, false
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			kvs = append(kvs, attribute.String(k, v))
		case bool:
			kvs = append(kvs, attribute.Bool(k, v))
		case int:
			kvs = append(kvs, attribute.Int(k, v))
		case int64:
			kvs = append(kvs, attribute.Int64(k, v))
		case float64:
			kvs = append(kvs, attribute.Float64(k, v))
		case time.Duration:
			kvs = append(kvs, attribute.String(k, v.String()))
		default:
			kvs = append(kvs, attribute.String(k, fmt.Sprintf("%v", v)))
		}
	}

	return kvs
}
