package otelx

import (
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Disabled

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(t.Context(), Options{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	fields := map[string]bool{}
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	if !fields["traceparent"] || !fields["baggage"] {
		t.Fatalf("propagator fields = %v", fields)
	}
}

// Enabled

func TestInit_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"sample above one", Options{Enabled: true, Sample: 1.5, Endpoint: "localhost:4317"}},
		{"negative sample", Options{Enabled: true, Sample: -0.1, Endpoint: "localhost:4317"}},
		{"no endpoint", Options{Enabled: true, Sample: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Init(t.Context(), tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestInit_ExporterReceivesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := Init(t.Context(), Options{
		Enabled:  true,
		Sample:   1,
		Service:  "sitedeploy",
		Version:  "test",
		Exporter: exp,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("provider = %T, want SDK provider", otel.GetTracerProvider())
	}

	_, span := otel.Tracer("test").Start(t.Context(), "deploy.batch")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "deploy.batch" {
		t.Fatalf("exported spans = %v", spans)
	}
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_ZeroSampleDropsRootSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := Init(t.Context(), Options{Enabled: true, Sample: 0, Exporter: exp})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(t.Context())

	_, span := otel.Tracer("test").Start(t.Context(), "dropped")
	span.End()
	if n := len(exp.GetSpans()); n != 0 {
		t.Fatalf("exported %d spans, want 0", n)
	}
}
