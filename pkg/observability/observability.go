// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability wires OpenTelemetry tracing and metrics behind
// the loop package's thin SpanRecorder/MetricsRecorder seams, exporting
// metrics over Prometheus the way the teacher's pkg/observability does.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider bundles a tracer and meter for the agentic loop engine and
// adapts them to loop.SpanRecorder/loop.MetricsRecorder.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter

	iterations        metric.Int64Counter
	toolCalls         metric.Int64Counter
	retries           metric.Int64Counter
	circuitBreakTrips metric.Int64Counter
	checkpointSaves   metric.Int64Counter
	turnDuration      metric.Float64Histogram
}

// NewProvider sets up an SDK tracer provider (console-free, batching to
// whatever span processor the caller attaches) and a Prometheus-backed
// meter provider, registering the counters/histograms SPEC_FULL names.
func NewProvider(serviceName string) (*Provider, *sdktrace.TracerProvider, *sdkmetric.MeterProvider, error) {
	res, err := resource.New(context.Background(), resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("observability: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("observability: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	p := &Provider{
		tracer: tp.Tracer("github.com/kestrelrun/agentloop"),
		meter:  mp.Meter("github.com/kestrelrun/agentloop"),
	}

	if p.iterations, err = p.meter.Int64Counter("agentloop.iterations"); err != nil {
		return nil, nil, nil, err
	}
	if p.toolCalls, err = p.meter.Int64Counter("agentloop.tool_calls"); err != nil {
		return nil, nil, nil, err
	}
	if p.retries, err = p.meter.Int64Counter("agentloop.retries"); err != nil {
		return nil, nil, nil, err
	}
	if p.circuitBreakTrips, err = p.meter.Int64Counter("agentloop.circuit_breaker_trips"); err != nil {
		return nil, nil, nil, err
	}
	if p.checkpointSaves, err = p.meter.Int64Counter("agentloop.checkpoint_saves"); err != nil {
		return nil, nil, nil, err
	}
	if p.turnDuration, err = p.meter.Float64Histogram("agentloop.turn_duration_seconds"); err != nil {
		return nil, nil, nil, err
	}

	return p, tp, mp, nil
}

// StartSpan implements loop.SpanRecorder.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

// IncCounter implements loop.MetricsRecorder, routing well-known names to
// their dedicated instruments and falling back to the iteration counter
// for anything unrecognized (a defensive default, not a new metric).
func (p *Provider) IncCounter(name string, attrs map[string]any) {
	ctx := context.Background()
	opt := metric.WithAttributes(toAttributes(attrs)...)
	switch name {
	case "agentloop.tool_calls":
		p.toolCalls.Add(ctx, 1, opt)
	case "agentloop.retries":
		p.retries.Add(ctx, 1, opt)
	case "agentloop.circuit_breaker_trips":
		p.circuitBreakTrips.Add(ctx, 1, opt)
	case "agentloop.checkpoint.save":
		p.checkpointSaves.Add(ctx, 1, opt)
	case "agentloop.run.terminated":
		p.iterations.Add(ctx, 0, opt)
	default:
		p.iterations.Add(ctx, 1, opt)
	}
}

// ObserveDuration implements loop.MetricsRecorder.
func (p *Provider) ObserveDuration(name string, d time.Duration, attrs map[string]any) {
	p.turnDuration.Record(context.Background(), d.Seconds(), metric.WithAttributes(toAttributes(attrs)...))
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return out
}
