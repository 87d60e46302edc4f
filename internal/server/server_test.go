package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"zowie-bridge/internal/api"
	"zowie-bridge/internal/observability/logging"
	"zowie-bridge/internal/observability/metrics"
	"zowie-bridge/internal/platform"
	"zowie-bridge/internal/relay"
	"zowie-bridge/internal/testsupport/relaystub"
)

func newTestHandler(t *testing.T) (*api.Handler, *relaystub.Relay) {
	t.Helper()
	stub := relaystub.Start(relaystub.Options{})
	t.Cleanup(stub.Close)

	host := platform.NewStaticHost(platform.Config{
		RelayEnabled: true,
		RelayURL:     stub.BaseURL(),
		InternalURL:  "http://192.168.1.50:8123",
		Cameras:      []string{"camera.front_door"},
	}, logging.Discard())
	manager := relay.NewManager(relay.Options{Platform: host, Logger: logging.Discard(), Metrics: metrics.New()})
	t.Cleanup(func() { manager.Stop(context.Background()) })
	return api.NewHandler(manager, nil, logging.Discard()), stub
}

func newTestServer(t *testing.T, cfg Config) (*Server, *relaystub.Relay) {
	t.Helper()
	handler, stub := newTestHandler(t)
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv, stub
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
	if _, err := New(&api.Handler{}, Config{}); err == nil {
		t.Fatal("expected error when handler has no relay manager")
	}
}

func TestServerRoutesConversionRequests(t *testing.T) {
	recorder := metrics.New()
	srv, stub := newTestServer(t, Config{Metrics: recorder})

	body := bytes.NewBufferString(`{"source":"https://example.net/live.m3u8"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/conversions", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
	assertDefaultSecurityHeaders(t, rec.Result())
	if stub.Count(relaystub.KindRegister) != 1 {
		t.Fatalf("expected one registration, got %d", stub.Count(relaystub.KindRegister))
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cameras/camera.front_door/conversion", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected camera conversion 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `zowie_http_requests_total{method="POST",path="/v1/conversions",status="200"} 1`) {
		t.Fatalf("expected request metric in exposition")
	}
	if !strings.Contains(rec.Body.String(), "zowie_relay_active_conversions") {
		t.Fatalf("expected relay gauge in exposition")
	}
}

func TestServerHealthz(t *testing.T) {
	srv, _ := newTestServer(t, Config{Metrics: metrics.New()})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
}

func TestServerLogsRequestsExceptProbes(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Writer: &buf, Level: "info"})
	srv, _ := newTestServer(t, Config{Logger: logger, Metrics: metrics.New()})

	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/conversions", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one request log line, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"path":"/v1/conversions"`) {
		t.Fatalf("expected conversions request to be logged, got %s", lines[0])
	}
}

func TestConversionRateLimit(t *testing.T) {
	srv, stub := newTestServer(t, Config{
		Metrics:   metrics.New(),
		RateLimit: RateLimitConfig{ConversionLimit: 1, ConversionWindow: time.Hour},
	})

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/conversions", bytes.NewBufferString(`{"source":"http://example.net/a.ts"}`))
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := send("10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rec.Code)
	}
	rec := send("10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retryAfter < 3599 || retryAfter > 3601 {
		t.Fatalf("expected Retry-After to cover the hour-long refill, got %q", rec.Header().Get("Retry-After"))
	}
	if rec := send("10.0.0.2"); rec.Code != http.StatusOK {
		t.Fatalf("expected other client to be allowed, got %d", rec.Code)
	}
	if stub.Count(relaystub.KindRegister) != 1 {
		t.Fatalf("expected cache hit for the second client, got %d registrations", stub.Count(relaystub.KindRegister))
	}

	get := httptest.NewRecorder()
	srv.Handler().ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/v1/conversions", nil))
	if get.Code != http.StatusOK {
		t.Fatalf("expected listing to bypass the conversion limit, got %d", get.Code)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Config{
		Metrics:   metrics.New(),
		RateLimit: RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1},
	})

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", first.Code)
	}
	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if !strings.Contains(second.Body.String(), "global rate limit exceeded") {
		t.Fatalf("expected JSON error body, got %s", second.Body.String())
	}
}

func TestIsConversionRequest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodPost, "/v1/conversions", true},
		{http.MethodPost, "/v1/playback/plan", true},
		{http.MethodPost, "/v1/cameras/camera.front/conversion", true},
		{http.MethodGet, "/v1/conversions", false},
		{http.MethodDelete, "/v1/conversions/abc", false},
		{http.MethodPost, "/v1/cameras/camera.front/snapshot", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := isConversionRequest(req); got != tc.want {
			t.Errorf("isConversionRequest(%s %s) = %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestExtractClientIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if got := extractClientIP(req); got != "192.0.2.7" {
		t.Fatalf("expected remote addr host, got %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.2")
	if got := extractClientIP(req); got != "198.51.100.2" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := extractClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}
