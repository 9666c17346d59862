package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// exporter dials are bounded so a collector that is down fails the
// setup quickly instead of hanging a cli invocation.
const exporterDialTimeout = time.Second * 3

const metricExportInterval = time.Second * 5

// endpoints names one otlp destination out of telemetry.json5. The
// grpc endpoint wins when both are set.
type endpoints struct {
	GrpcEndpoint string            `json:"grpc_endpoint"`
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

type config struct {
	Otlp struct {
		Traces  endpoints `json:"traces"`
		Metrics endpoints `json:"metrics"`
	} `json:"otlp"`
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

func newTraceProvider(ctx context.Context, r *resource.Resource, c config) (*trace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterDialTimeout)
	defer cancel()

	target := c.Otlp.Traces
	var exporter trace.SpanExporter
	var err error
	if target.GrpcEndpoint != "" {
		slog.Info("exporting traces", "type", "grpc", "endpoint", target.GrpcEndpoint)
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpointURL(target.GrpcEndpoint),
			otlptracegrpc.WithHeaders(target.Headers),
		)
	} else {
		slog.Info("exporting traces", "type", "http", "endpoint", target.HttpEndpoint)
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(target.HttpEndpoint),
			otlptracehttp.WithHeaders(target.Headers),
		)
	}
	if err != nil {
		return nil, err
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	), nil
}

func newMetricProvider(ctx context.Context, r *resource.Resource, c config) (*metric.MeterProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterDialTimeout)
	defer cancel()

	target := c.Otlp.Metrics
	var exporter metric.Exporter
	var err error
	if target.GrpcEndpoint != "" {
		slog.Info("exporting metrics", "type", "grpc", "endpoint", target.GrpcEndpoint)
		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpointURL(target.GrpcEndpoint),
			otlpmetricgrpc.WithHeaders(target.Headers),
		)
	} else {
		slog.Info("exporting metrics", "type", "http", "endpoint", target.HttpEndpoint)
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpointURL(target.HttpEndpoint),
			otlpmetrichttp.WithHeaders(target.Headers),
		)
	}
	if err != nil {
		return nil, err
	}

	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(metricExportInterval))),
		metric.WithResource(r),
	), nil
}
