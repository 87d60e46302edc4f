package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"zowie-bridge/internal/observability/tracing"
)

const (
	// DefaultRequestTimeout bounds every management API call.
	DefaultRequestTimeout = 10 * time.Second

	streamsPath  = "/api/streams"
	maxErrorBody = 4 << 10
	tracerName   = "zowie-bridge/relay"
	opRegister   = "register"
	opDeregister = "deregister"
)

// ErrNotFound matches an APIError for a stream the relay does not know.
var ErrNotFound = errors.New("relay stream not found")

// APIError is a non-2xx answer from the relay management API.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("relay %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("relay %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client talks to the relay's stream management API. Calls are not retried.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewClient builds a Client. A nil httpClient uses http.DefaultClient; the
// per-call timeout is applied through the request context either way.
func NewClient(httpClient *http.Client, timeout time.Duration, tracer trace.Tracer, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{httpClient: httpClient, timeout: timeout, tracer: tracer, logger: logger}
}

// Register asks the relay at base to expose source under name.
func (c *Client) Register(ctx context.Context, base, source, name string) error {
	query := url.Values{}
	query.Set("src", source)
	query.Set("name", name)
	return c.do(ctx, opRegister, http.MethodPut, base, query, name,
		tracing.AttrRelaySource.String(source))
}

// Deregister removes the stream called name from the relay at base. A
// missing stream yields an error matching ErrNotFound.
func (c *Client) Deregister(ctx context.Context, base, name string) error {
	query := url.Values{}
	query.Set("src", name)
	return c.do(ctx, opDeregister, http.MethodDelete, base, query, name)
}

func (c *Client) do(ctx context.Context, op, method, base string, query url.Values, name string, attrs ...attribute.KeyValue) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "relay."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(tracing.AttrRelayOperation.String(op), tracing.AttrRelayStream.String(name))
	span.SetAttributes(attrs...)

	endpoint := strings.TrimRight(base, "/") + streamsPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return fmt.Errorf("relay %s: build request: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("relay %s: %w", op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(tracing.AttrRelayStatusCode.Int(resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	if !errors.Is(apiErr, ErrNotFound) {
		span.SetStatus(codes.Error, apiErr.Error())
	}
	c.logger.Debug("relay request rejected", "method", method, "operation", op, "stream", name, "status", resp.StatusCode)
	return apiErr
}
