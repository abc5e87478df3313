package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/keranjang-dev/keranjang/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("keranjang", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/healthz"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/healthz", "204"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}

	samples := testutil.CollectAndCount(metrics.ReqDur)
	if samples == 0 {
		t.Fatalf("expected histogram sample")
	}

	if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
		t.Fatalf("expected no in-flight requests, got %v", val)
	}
}

func TestCartMetricsObservations(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewCartMetrics("keranjang", registry)

	metrics.ObserveMutation("add")
	metrics.ObserveMutation("add")
	metrics.ObserveMutation("remove")
	metrics.ObserveDestroy()
	metrics.ObserveCompute(250 * time.Microsecond)

	if got := testutil.ToFloat64(metrics.Mutations.WithLabelValues("add")); got != 2 {
		t.Fatalf("expected 2 add mutations, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Mutations.WithLabelValues("remove")); got != 1 {
		t.Fatalf("expected 1 remove mutation, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Destroys); got != 1 {
		t.Fatalf("expected 1 destroy, got %v", got)
	}
	if samples := testutil.CollectAndCount(metrics.ComputeDur); samples == 0 {
		t.Fatalf("expected compute duration sample")
	}
}

func TestCartMetricsNilReceiver(t *testing.T) {
	var metrics *obs.CartMetrics
	metrics.ObserveMutation("add")
	metrics.ObserveDestroy()
	metrics.ObserveCompute(time.Millisecond)
}
