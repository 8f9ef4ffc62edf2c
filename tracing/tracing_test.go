package tracing_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/next-trace/scg-micro/memory"
	"github.com/next-trace/scg-micro/servicekit"
	"github.com/next-trace/scg-micro/tracing"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := tracing.Setup(context.Background(), "test-service", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestMiddleware_RecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	mw := tracing.Middleware(tracing.WithTracerProvider(tp), tracing.WithPropagator(propagation.TraceContext{}))

	var handlerSpan trace.SpanContext

	r := servicekit.NewRegistry(servicekit.WithMiddleware(mw))
	s := r.DeclareService("sample", servicekit.Version("2.0.0"))
	_, _ = s.Endpoint("ok", func(ctx context.Context) string {
		handlerSpan = trace.SpanContextFromContext(ctx)

		return "fine"
	})
	_, _ = s.Endpoint("fail", func() error { return errors.New("boom") })

	tr, cleanup, err := memory.New(t.Context(), r)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	defer cleanup()

	parent := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	_, _ = tr.Request(t.Context(), "sample.ok", nil, map[string][]string{"traceparent": {parent}})
	_, _ = tr.Request(t.Context(), "sample.fail", nil, nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans: got %d want 2", len(spans))
	}

	ok, failed := spans[0], spans[1]

	if ok.Name() != "sample.ok" || ok.SpanKind() != trace.SpanKindServer {
		t.Fatalf("ok span: %s %s", ok.Name(), ok.SpanKind())
	}

	if got := ok.Parent().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("parent trace id: %s", got)
	}

	if handlerSpan.SpanID() != ok.SpanContext().SpanID() {
		t.Fatal("handler should run inside the endpoint span")
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ok.Attributes() {
		attrs[kv.Key] = kv.Value
	}

	if attrs["micro.service.version"].AsString() != "2.0.0" || attrs["micro.result"].AsString() != "payload" {
		t.Fatalf("attributes: %v", ok.Attributes())
	}

	if failed.Status().Code != codes.Error || len(failed.Events()) == 0 {
		t.Fatalf("failed span status: %+v", failed.Status())
	}
}
