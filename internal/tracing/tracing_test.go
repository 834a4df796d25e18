package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Tracer() == nil {
		t.Fatal("Tracer() is nil")
	}

	_, span := p.StartSpan(context.Background(), "noop")
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestTraceRun(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProviderWithExporter(context.Background(), Config{}, exporter)
	if err != nil {
		t.Fatalf("NewProviderWithExporter() error = %v", err)
	}
	defer p.Shutdown(context.Background())

	ctx, span := TraceRun(context.Background(), p.Tracer(), "auth.log", 5)
	SetAttributes(ctx, attribute.Int("run.alerts", 2))
	AddEvent(ctx, "alert", attribute.String("source.address", "10.0.0.99"))
	RecordError(ctx, errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}

	got := spans[0]
	if got.Name != "analyzer.run" {
		t.Errorf("span name = %q, want analyzer.run", got.Name)
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range got.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if attrs["input.source"].AsString() != "auth.log" {
		t.Errorf("input.source = %v", attrs["input.source"])
	}
	if attrs["analysis.threshold"].AsInt64() != 5 {
		t.Errorf("analysis.threshold = %v", attrs["analysis.threshold"])
	}
	if attrs["run.alerts"].AsInt64() != 2 {
		t.Errorf("run.alerts = %v", attrs["run.alerts"])
	}

	// one explicit event plus the recorded error
	if len(got.Events) != 2 {
		t.Errorf("Expected 2 span events, got %d", len(got.Events))
	}
}

func TestTraceOutput(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProviderWithExporter(context.Background(), Config{}, exporter)
	if err != nil {
		t.Fatalf("NewProviderWithExporter() error = %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := TraceOutput(context.Background(), p.Tracer(), "kafka", "alert")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "output.send" {
		t.Fatalf("Expected one output.send span, got %+v", spans)
	}
}
