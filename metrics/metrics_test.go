package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/next-trace/scg-micro/memory"
	"github.com/next-trace/scg-micro/metrics"
	"github.com/next-trace/scg-micro/servicekit"
)

func TestMiddlewareCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	r := servicekit.NewRegistry(servicekit.WithMiddleware(m.Middleware()))
	s := r.DeclareService("calc")
	_, _ = s.Endpoint("add", func(a, b int) int { return a + b }, servicekit.Params("a", "b"))
	_, _ = s.Endpoint("fail", func() error { return errors.New("boom") })

	tr, cleanup, err := memory.New(t.Context(), r)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	defer cleanup()

	_, _ = tr.Request(t.Context(), "calc.add", []byte(`{"a":1,"b":2}`), nil)
	_, _ = tr.Request(t.Context(), "calc.add", []byte(`{"a":1}`), nil)
	_, _ = tr.Request(t.Context(), "calc.fail", nil, nil)

	want := `
# HELP scg_micro_endpoint_requests_total Endpoint invocations by outcome.
# TYPE scg_micro_endpoint_requests_total counter
scg_micro_endpoint_requests_total{endpoint="add",outcome="error",service="calc"} 1
scg_micro_endpoint_requests_total{endpoint="add",outcome="ok",service="calc"} 1
scg_micro_endpoint_requests_total{endpoint="fail",outcome="error",service="calc"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "scg_micro_endpoint_requests_total"); err != nil {
		t.Fatalf("requests: %v", err)
	}

	n, err := testutil.GatherAndCount(reg, "scg_micro_endpoint_duration_seconds")
	if err != nil || n != 2 {
		t.Fatalf("duration series: got %d want 2 (%v)", n, err)
	}
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	if _, err := metrics.New(reg); err != nil {
		t.Fatalf("first: %v", err)
	}

	if _, err := metrics.New(reg); err != nil {
		t.Fatalf("second registration should reuse collectors: %v", err)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := metrics.New(reg)

	r := servicekit.NewRegistry(servicekit.WithMiddleware(m.Middleware()))
	_, _ = r.DeclareService("s").Endpoint("ping", func() string { return "pong" })

	tr, cleanup, _ := memory.New(t.Context(), r)
	defer cleanup()

	_, _ = tr.Request(t.Context(), "s.ping", nil, nil)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `scg_micro_endpoint_requests_total{endpoint="ping",outcome="ok",service="s"} 1`) {
		t.Fatalf("unexpected metrics response %d:\n%s", rec.Code, rec.Body.String())
	}
}
