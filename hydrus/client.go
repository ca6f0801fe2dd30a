// Package hydrus is a client for the tagged-file store's HTTP API.
package hydrus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cloudchase/hydrus-nodes/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AccessKeyHeader carries the API key on every request.
const AccessKeyHeader = "Hydrus-Client-API-Access-Key"

var tracer = otel.Tracer("hydrus-nodes/hydrus")

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrus_requests_total",
		Help: "Store API requests by endpoint and result",
	}, []string{"endpoint", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hydrus_request_duration_seconds",
		Help:    "Store API request latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"endpoint"})
)

// APIError is a non-2xx reply from the store.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: store returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// NotFound reports whether the store answered 404.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// Client talks to one store instance with one access key.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// DefaultTimeout is the per-request timeout of the default HTTP client.
const DefaultTimeout = 60 * time.Second

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client. It has
// no effect when WithHTTPClient supplies the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for creds.
func NewClient(creds config.Credentials, opts ...Option) *Client {
	c := &Client{
		timeout: DefaultTimeout,
		baseURL: creds.BaseURL,
		apiKey:  creds.APIKey,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// BaseURL returns the store address the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// call performs one request and returns the response body. Non-2xx replies
// become *APIError.
func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "hydrus "+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("hydrus.endpoint", endpoint))

	start := time.Now()
	data, err := c.do(ctx, method, endpoint, query, body, contentType)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("store request failed", "endpoint", endpoint, "error", err)
		return nil, err
	}
	requestsTotal.WithLabelValues(endpoint, "ok").Inc()
	c.logger.Debug("store request", "endpoint", endpoint, "bytes", len(data), "elapsed", time.Since(start))
	return data, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set(AccessKeyHeader, c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	data, err := c.call(ctx, http.MethodGet, endpoint, query, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", endpoint, err)
	}
	data, err := c.call(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// jsonParam encodes v as a JSON query parameter value.
func jsonParam(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
