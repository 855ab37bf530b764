// Package otelx installs the global tracer provider for one deploy run.
// Spans are exported over OTLP/gRPC, usually to a local collector.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

type Options struct {
	Enabled  bool
	Endpoint string
	Insecure bool

	// Sample is the head sampling ratio in [0, 1]
	Sample float64

	Service string
	Version string

	// Exporter replaces the OTLP exporter, spans are exported synchronously
	Exporter sdktrace.SpanExporter
}

// Shutdown flushes pending spans; a deploy should call it before exit
// so the last batch is not lost.
type Shutdown func(context.Context) error

func Init(ctx context.Context, o Options) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	if !o.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if o.Sample < 0 || o.Sample > 1 {
		return nil, xerrors.Newf("trace sample %v must be within [0, 1]", o.Sample)
	}

	var spanOpt sdktrace.TracerProviderOption
	if o.Exporter != nil {
		spanOpt = sdktrace.WithSyncer(o.Exporter)
	} else {
		if o.Endpoint == "" {
			return nil, xerrors.New("otlp endpoint is required when tracing is enabled")
		}
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(o.Endpoint),
		}
		if o.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}

		// the exporter dial blocks without a deadline
		dialCtx, dialCancel := context.WithTimeout(ctx, 3*time.Second)
		defer dialCancel()
		exp, err := otlptracegrpc.New(dialCtx, opts...)
		if err != nil {
			return nil, xerrors.Wrapf(err, "create otlp exporter for %s", o.Endpoint)
		}
		spanOpt = sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(4096),
			sdktrace.WithBatchTimeout(2*time.Second),
		)
	}

	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.Service),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(o.Sample),
		)),
		spanOpt,
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
