// Package tracing wraps endpoint invocations in OpenTelemetry spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/next-trace/scg-micro/contract/transport"
	"github.com/next-trace/scg-micro/servicekit"
)

const instrumentation = "github.com/next-trace/scg-micro/tracing"

// Setup installs a global tracer provider exporting to the OTLP/HTTP endpoint.
// Tracing is opt-in: with an empty endpoint Setup returns a no-op shutdown function.
func Setup(ctx context.Context, serviceName, endpoint string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

type options struct {
	provider   trace.TracerProvider
	propagator propagation.TextMapPropagator
}

// Option configures the tracing middleware.
type Option func(*options)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.provider = tp }
}

// WithPropagator overrides the global text-map propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) { o.propagator = p }
}

// Middleware starts a server span per invocation, continuing the trace carried in the
// request headers.
func Middleware(opts ...Option) servicekit.Middleware {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next servicekit.Invoker) servicekit.Invoker {
		return func(ctx context.Context, req transport.Request) (servicekit.Result, error) {
			tp, prop := o.provider, o.propagator
			if tp == nil {
				tp = otel.GetTracerProvider()
			}

			if prop == nil {
				prop = otel.GetTextMapPropagator()
			}

			info, _ := servicekit.EndpointFromContext(ctx)
			if h := req.Headers(); len(h) > 0 {
				ctx = prop.Extract(ctx, transport.HeaderCarrier(h))
			}

			ctx, span := tp.Tracer(instrumentation).Start(ctx, info.Subject,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("micro.service", info.Service),
					attribute.String("micro.service.version", info.Version),
					attribute.String("micro.endpoint", info.Endpoint),
					attribute.Int("micro.request.size", len(req.Data())),
				))
			defer span.End()

			res, err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())

				return res, err
			}

			span.SetAttributes(attribute.String("micro.result", res.Kind().String()))

			return res, nil
		}
	}
}
