package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	type testCase struct {
		name     string
		method   string
		path     string
		status   int
		wantPath string
	}

	cases := []testCase{
		{name: "root path", method: "get", path: "/", status: 200, wantPath: "/"},
		{name: "empty path", method: "GET", path: "", status: 200, wantPath: "/"},
		{name: "route words survive", method: "post", path: "/v1/conversions", status: 200, wantPath: "/v1/conversions"},
		{name: "camera id", method: "POST", path: "/v1/cameras/cam.front/conversion", status: 404, wantPath: "/v1/cameras/:id/conversion"},
		{name: "numeric id and trailing slash", method: "DELETE", path: "/v1/items/12345/", status: 204, wantPath: "/v1/items/:id"},
		{name: "relative path", method: "GET", path: "healthz", status: 200, wantPath: "/healthz"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder.ObserveRequest(tc.method, tc.path, tc.status, 10*time.Millisecond)
			if got := normalizePath(tc.path); got != tc.wantPath {
				t.Fatalf("normalizePath(%q) = %q, want %q", tc.path, got, tc.wantPath)
			}
		})
	}

	if got := testutil.ToFloat64(recorder.httpRequests.WithLabelValues("GET", "/", "200")); got != 2 {
		t.Fatalf("expected root and empty path to share a series, got %v", got)
	}
}

func TestRelayCounters(t *testing.T) {
	recorder := New()

	recorder.ObserveRegistration("success")
	recorder.ObserveRegistration("failure")
	recorder.ObserveRegistration("")
	recorder.ObserveDeregistration("not_found")
	recorder.ObserveCacheLookup(true)
	recorder.ObserveCacheLookup(true)
	recorder.ObserveCacheLookup(false)
	recorder.ObserveEviction("idle", 3)
	recorder.ObserveEviction("teardown", 0)
	recorder.SetActiveConversions(4)
	recorder.SetActiveConversions(-1)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"registrations success", testutil.ToFloat64(recorder.registrations.WithLabelValues("success")), 1},
		{"registrations unknown", testutil.ToFloat64(recorder.registrations.WithLabelValues("unknown")), 1},
		{"deregistrations not_found", testutil.ToFloat64(recorder.deregistrations.WithLabelValues("not_found")), 1},
		{"cache hits", testutil.ToFloat64(recorder.cacheLookups.WithLabelValues("hit")), 2},
		{"cache misses", testutil.ToFloat64(recorder.cacheLookups.WithLabelValues("miss")), 1},
		{"idle evictions", testutil.ToFloat64(recorder.evictions.WithLabelValues("idle")), 3},
		{"active conversions clamp", testutil.ToFloat64(recorder.activeConversion), 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	if n := testutil.CollectAndCount(recorder.evictions); n != 1 {
		t.Fatalf("expected zero-count teardown eviction to create no series, got %d series", n)
	}
}

func TestHandlerExposesRelayMetrics(t *testing.T) {
	recorder := New()
	recorder.ObserveRegistration("success")
	recorder.SetActiveConversions(2)

	rr := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{
		`zowie_relay_registrations_total{result="success"} 1`,
		"zowie_relay_active_conversions 2",
		"# TYPE zowie_relay_active_conversions gauge",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected exposition to contain %q", want)
		}
	}
}

func TestRecorderConcurrentObservations(t *testing.T) {
	recorder := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recorder.ObserveCacheLookup(i%2 == 0)
			recorder.ObserveRequest("GET", "/healthz", 200, time.Millisecond)
		}(i)
	}
	wg.Wait()

	hits := testutil.ToFloat64(recorder.cacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(recorder.cacheLookups.WithLabelValues("miss"))
	if hits+misses != 50 {
		t.Fatalf("expected 50 lookups, got %v", hits+misses)
	}
	if got := testutil.ToFloat64(recorder.httpRequests.WithLabelValues("GET", "/healthz", "200")); got != 50 {
		t.Fatalf("expected 50 requests, got %v", got)
	}
}
