package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zowie"

// Recorder owns a private Prometheus registry holding HTTP request metrics
// and the relay cache lifecycle counters. Each Recorder registers its
// collectors independently so tests can build isolated instances.
type Recorder struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	registrations    *prometheus.CounterVec
	deregistrations  *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	evictions        *prometheus.CounterVec
	activeConversion prometheus.Gauge
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// New constructs a Recorder backed by a fresh registry. Go runtime and
// process collectors are included so /metrics is useful without extra setup.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed by the bridge API.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "registrations_total",
			Help:      "Relay stream registrations by result.",
		}, []string{"result"}),
		deregistrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deregistrations_total",
			Help:      "Relay stream deregistrations by result.",
		}, []string{"result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "cache_lookups_total",
			Help:      "Conversion cache lookups by result (hit or miss).",
		}, []string{"result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "evictions_total",
			Help:      "Conversions removed from the cache by reason.",
		}, []string{"reason"}),
		activeConversion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active_conversions",
			Help:      "Current number of cached relay conversions.",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpRequests,
		r.httpDuration,
		r.registrations,
		r.deregistrations,
		r.cacheLookups,
		r.evictions,
		r.activeConversion,
	)
	return r
}

// Default returns the process-wide Recorder used by the package helpers.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the process-wide Recorder. Passing nil is ignored.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = r
	defaultMu.Unlock()
}

// Registry exposes the underlying registry for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRequest normalizes the request label set and records count and
// latency by HTTP method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": strings.ToUpper(method),
		"path":   normalizePath(path),
		"status": strconv.Itoa(status),
	}
	r.httpRequests.With(labels).Inc()
	r.httpDuration.With(labels).Observe(duration.Seconds())
}

// ObserveRegistration counts a relay registration attempt; result is
// typically "success" or "failure".
func (r *Recorder) ObserveRegistration(result string) {
	r.registrations.WithLabelValues(normalizeName(result)).Inc()
}

// ObserveDeregistration counts a relay deregistration attempt.
func (r *Recorder) ObserveDeregistration(result string) {
	r.deregistrations.WithLabelValues(normalizeName(result)).Inc()
}

// ObserveCacheLookup counts a conversion cache hit or miss.
func (r *Recorder) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveEviction counts entries removed from the cache: "idle" from the
// reaper, "teardown" from a flush, "removed" for a single explicit removal.
func (r *Recorder) ObserveEviction(reason string, count int) {
	if count <= 0 {
		return
	}
	r.evictions.WithLabelValues(normalizeName(reason)).Add(float64(count))
}

// SetActiveConversions reports the current cache size.
func (r *Recorder) SetActiveConversions(n int) {
	if n < 0 {
		n = 0
	}
	r.activeConversion.Set(float64(n))
}

// Handler exposes the Recorder's registry in Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// looksLikeIdentifier flags path segments that would explode label
// cardinality. Dotted segments cover camera resource IDs like cam.front.
func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 || strings.Contains(segment, ".") {
		return !isRouteWord(segment)
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

var routeWords = map[string]struct{}{
	"conversion":  {},
	"conversions": {},
	"playback":    {},
}

func isRouteWord(segment string) bool {
	_, ok := routeWords[segment]
	return ok
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	Default().ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return Default().Handler()
}
