package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/calder-labs/billing-gateway/internal/obs"
)

func instrumentedHandler(metrics *obs.HTTPMetrics, status int) http.Handler {
	return obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
}

func TestHTTPMetricsLabelledByRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("billing", []float64{1, 10}, registry)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/webhooks/billing"))
	rr := httptest.NewRecorder()
	instrumentedHandler(metrics, http.StatusNoContent).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/api/v1/webhooks/billing", "204"))
	if total != 1 {
		t.Fatalf("expected counter 1, got %v", total)
	}
	if samples := testutil.CollectAndCount(metrics.ReqDur); samples == 0 {
		t.Fatal("expected a latency sample")
	}
	if inflight := testutil.ToFloat64(metrics.InFlight); inflight != 0 {
		t.Fatalf("expected in-flight gauge back to zero, got %v", inflight)
	}
}

func TestHTTPMetricsUnmatchedRouteCollapses(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("billing", nil, registry)

	req := httptest.NewRequest(http.MethodGet, "/nope/12345", nil)
	rr := httptest.NewRecorder()
	instrumentedHandler(metrics, http.StatusNotFound).ServeHTTP(rr, req)

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "unknown", "404"))
	if total != 1 {
		t.Fatalf("expected unmatched request under the unknown route, got %v", total)
	}
}

func TestParseBucketsCSV(t *testing.T) {
	got := obs.ParseBucketsCSV("10, 50,junk,-5, 250")
	want := []float64{10, 50, 250}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
