package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testCollector(enabled bool) *Collector {
	return NewCollector(&config.MetricsConfig{Enabled: enabled, Namespace: "test"}, prometheus.NewRegistry())
}

func TestCollector_RecordRequest(t *testing.T) {
	c := testCollector(true)

	c.RecordRequest("success", 200*time.Millisecond)
	c.RecordRequest("success", time.Second)
	c.RecordRequest("exhausted", 10*time.Millisecond)

	if got := testutil.ToFloat64(c.proxy.requestsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("success requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.proxy.requestsTotal.WithLabelValues("exhausted")); got != 1 {
		t.Errorf("exhausted requests = %v, want 1", got)
	}
}

func TestCollector_RecordAttempt(t *testing.T) {
	c := testCollector(true)

	c.RecordAttempt("work", "rate_limited")
	c.RecordAttempt("work", "success")
	c.RecordAttempt("home", "success")

	if got := testutil.ToFloat64(c.proxy.attemptsTotal.WithLabelValues("work", "rate_limited")); got != 1 {
		t.Errorf("rate limited attempts = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.proxy.attemptsTotal); got != 3 {
		t.Errorf("attempt series = %d, want 3", got)
	}
}

func TestCollector_WorkerMetrics(t *testing.T) {
	c := testCollector(true)

	c.RecordWorkerStart("inprocess")
	c.RecordWorkerFault()
	c.RecordWorkerForcedStop()
	c.RecordWorkerDropped("chunk")
	c.RecordWorkerEvent("summary")
	c.RecordUnauthenticated()

	if got := testutil.ToFloat64(c.worker.startsTotal.WithLabelValues("inprocess")); got != 1 {
		t.Errorf("starts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.worker.faultsTotal); got != 1 {
		t.Errorf("faults = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.worker.forcedStopsTotal); got != 1 {
		t.Errorf("forced stops = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.worker.droppedTotal.WithLabelValues("chunk")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.proxy.unauthenticatedTotal); got != 1 {
		t.Errorf("unauthenticated = %v, want 1", got)
	}
}

func TestCollector_RecordUsage(t *testing.T) {
	c := testCollector(true)

	c.RecordUsage("work", "claude-sonnet-4", 100, 50, 10, 5, 0.25)

	if got := testutil.ToFloat64(c.usage.tokensTotal.WithLabelValues("work", "claude-sonnet-4", "output")); got != 50 {
		t.Errorf("output tokens = %v, want 50", got)
	}
	if got := testutil.ToFloat64(c.usage.costTotal.WithLabelValues("work", "claude-sonnet-4")); got != 0.25 {
		t.Errorf("cost = %v, want 0.25", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	c := testCollector(false)

	c.RecordRequest("success", time.Second)
	c.RecordAttempt("work", "success")

	if got := testutil.CollectAndCount(c.proxy.requestsTotal); got != 0 {
		t.Errorf("disabled collector recorded %d series", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordRequest("success", time.Second)
	c.RecordAttempt("a", "success")
	c.RecordWorkerFault()
	c.RecordUsage("a", "m", 1, 1, 1, 1, 1)
}

func TestCollector_Handler(t *testing.T) {
	c := testCollector(true)
	c.RecordRequest("success", time.Second)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_proxy_requests_total") {
		t.Errorf("expected request counter in exposition:\n%s", rec.Body.String())
	}
}
