package monitoring

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistryProducesIndependentInstances(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.QueriesStarted.Inc()
	if got := testutilCounterValue(t, a); got != 1 {
		t.Fatalf("registry a counter = %v, want 1", got)
	}
	if got := testutilCounterValue(t, b); got != 0 {
		t.Fatalf("registry b counter = %v, want 0 (registries must not share state)", got)
	}
}

func TestHandlerServesPrometheusExposition(t *testing.T) {
	r := NewRegistry()
	r.QueriesStarted.Inc()
	r.QueriesStarted.Inc()
	r.InstancesDispatched.Inc()
	r.ActiveQueries.Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"distq_coordinator_queries_started_total 2",
		"distq_coordinator_instances_dispatched_total 1",
		"distq_coordinator_active_queries 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("response body missing %q:\n%s", want, body)
		}
	}
}

func TestHandlerExposesUnincrementedCountersAsZero(t *testing.T) {
	r := NewRegistry()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "distq_coordinator_queries_failed_total 0") {
		t.Fatalf("expected a fresh counter to be exposed at 0:\n%s", rec.Body.String())
	}
}

// testutilCounterValue scrapes a registry's own HTTP handler to read back a
// counter's value, avoiding a direct dependency on client_golang/prometheus's
// internal proto-based introspection helpers.
func testutilCounterValue(t *testing.T, r *Registry) float64 {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "distq_coordinator_queries_started_total ") {
			var v float64
			parts := strings.Fields(line)
			if len(parts) != 2 {
				t.Fatalf("unexpected metric line %q", line)
			}
			if _, err := fmt.Sscanf(parts[1], "%g", &v); err != nil {
				t.Fatalf("parsing metric value %q: %v", parts[1], err)
			}
			return v
		}
	}
	return 0
}
