package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"legalmind/internal/infra/config"
)

const tracerName = "legalmind"

// Setup installs the global tracer provider and returns its shutdown func.
// Disabled tracing and the "noop" exporter install a noop provider.
func Setup(ctx context.Context, cfg config.TracerConfig) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.Exporter == "" || cfg.Exporter == "noop" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if cfg.Exporter != "stdout" {
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", tracerName))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// sampler samples whole runs: child spans follow the run span's decision.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError marks span failed with err.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetOK(span trace.Span) { span.SetStatus(codes.Ok, "") }

func StringAttr(key, value string) attribute.KeyValue { return attribute.String(key, value) }

func IntAttr(key string, value int) attribute.KeyValue { return attribute.Int(key, value) }

// RunAttrs returns the attributes shared by every span of an orchestration run.
func RunAttrs(runID, sessionID, profile string) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.session_id", sessionID),
		attribute.String("run.profile", profile),
	)
}
