package tracer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"legalmind/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupExporters(t *testing.T) {
	for _, exporter := range []string{"noop", "", "stdout"} {
		shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exporter})
		if err != nil {
			t.Fatalf("Setup(%q): %v", exporter, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown(%q): %v", exporter, err)
		}
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "invalid"})
	if err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestStartSpanAndHelpers(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())

	ctx, span := StartSpan(context.Background(), "run", RunAttrs("r1", "s1", "chatbot"))
	if ctx == nil {
		t.Error("context should not be nil")
	}

	SetOK(span)
	RecordError(span, errors.New("test error"))
	span.End()
}

func TestAttrHelpers(t *testing.T) {
	if s := StringAttr("key", "value"); string(s.Key) != "key" {
		t.Errorf("StringAttr key = %q, want %q", s.Key, "key")
	}
	if i := IntAttr("count", 42); i.Value.AsInt64() != 42 {
		t.Errorf("IntAttr value = %d, want 42", i.Value.AsInt64())
	}
}

func TestSampler(t *testing.T) {
	for _, r := range []float64{0, 1, 2} {
		if got := sampler(r).Description(); got != "AlwaysOnSampler" {
			t.Errorf("sampler(%v) = %s, want AlwaysOnSampler", r, got)
		}
	}
	if got := sampler(0.25).Description(); !strings.Contains(got, "TraceIDRatioBased{0.25}") {
		t.Errorf("sampler(0.25) = %s", got)
	}
}
