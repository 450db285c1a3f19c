// Package otelobs records wrapper call outcomes into OpenTelemetry.
package otelobs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/mcpwrap/proxy"
)

// CallObserver implements proxy.Observer, recording one counter increment,
// one latency sample, and one span per forwarded tool call.
type CallObserver struct {
	tracer trace.Tracer

	calls   metric.Int64Counter
	latency metric.Float64Histogram
}

// NewCallObserver creates a call observer bound to the provided meter/tracer.
func NewCallObserver(meter metric.Meter, tracer trace.Tracer) (*CallObserver, error) {
	calls, err := meter.Int64Counter(
		"mcpwrap.tool.calls",
		metric.WithDescription("Number of forwarded tool calls"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"mcpwrap.tool.latency",
		metric.WithDescription("Tool call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &CallObserver{
		tracer:  tracer,
		calls:   calls,
		latency: latency,
	}, nil
}

// ObserveCall records one call outcome.
func (o *CallObserver) ObserveCall(observation proxy.Observation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.Tool),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorKind != "" {
		attrs = append(attrs, attribute.String("error_kind", observation.ErrorKind))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.calls.Add(ctx, 1, options)
	o.latency.Record(ctx, observation.Duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "tool.call", trace.WithAttributes(attrs...))
	if observation.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, observation.ErrorKind)
	}
	span.End()
}
