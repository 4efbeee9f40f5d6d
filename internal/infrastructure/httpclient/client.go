// Package httpclient is the shared outbound HTTP client for provider calls.
// Non-2xx responses are returned as data; only connection level failures and
// timeouts become errors.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/Zhima-Mochi/otpbroker/internal/observability/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

const (
	DefaultTimeout = 30 * time.Second
	componentName  = "provider_client"
)

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("httpclient: decode body (http %d): %w", r.StatusCode, err)
	}
	return nil
}

type Options struct {
	BaseURL string
	// Headers are sent on every request, e.g. a static API key.
	Headers map[string]string
	Timeout time.Duration
	// Target labels metrics and spans.
	Target string
}

// Client holds one pooled *http.Client shared by every caller.
type Client struct {
	http    *http.Client
	base    string
	headers map[string]string
	timeout time.Duration
	target  string

	tracer       observability.Tracer
	log          observability.Logger
	reqCounter   observability.Counter   // external_requests_total{target,method,outcome}
	durHistogram observability.Histogram // external_request_duration_seconds{target,method}
}

func New(opts Options, tel observability.Observability) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	target := opts.Target
	if target == "" {
		target = hostOf(opts.BaseURL)
	}
	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}
	metrics := observability.MetricsOf(tel)

	return &Client{
		// Timeout is left unset: every request is bounded by its own context.
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		base:         strings.TrimRight(opts.BaseURL, "/"),
		headers:      headers,
		timeout:      timeout,
		target:       target,
		tracer:       observability.TracerOf(tel),
		log:          observability.LoggerOf(tel).With(observability.F("component", componentName)),
		reqCounter:   metrics.Counter(observability.MExternalRequests),
		durHistogram: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.resolve(path), nil, "")
}

// Post sends body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	payload, err := encodeJSON(body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, c.resolve(path), payload, "application/json")
}

// PostForm sends form url-encoded. target may be an absolute URL outside the base.
func (c *Client) PostForm(ctx context.Context, target string, form url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, c.resolve(target), strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

// Patch sends body encoded as JSON. A nil body sends no payload.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	payload, err := encodeJSON(body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPatch, c.resolve(path), payload, "application/json")
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, contentType string) (_ *Response, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "HTTP "+method+" "+c.target,
		attribute.String("http.method", method),
		attribute.String("http.url", target),
		attribute.String("peer.service", c.target),
	)
	start := time.Now()
	outcome := "success"
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		c.reqCounter.Add(1,
			observability.L("target", c.target),
			observability.L("method", method),
			observability.L("outcome", outcome),
		)
		c.durHistogram.Observe(time.Since(start).Seconds(),
			observability.L("target", c.target),
			observability.L("method", method),
		)
	}()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		outcome = "error"
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if contentType != "" && body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = "transport_error"
		logctx.FromOr(ctx, c.log).Warn("provider_request_failed",
			observability.F("method", method),
			observability.F("target", c.target),
			observability.F("error", err),
		)
		return nil, fmt.Errorf("%w: %s %s: %w", provider.ErrTransport, method, c.target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "transport_error"
		return nil, fmt.Errorf("%w: read body: %w", provider.ErrTransport, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 300 {
		outcome = "non_2xx"
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.base + "/" + strings.TrimLeft(path, "/")
}

func encodeJSON(body any) (io.Reader, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: encode body: %w", err)
	}
	return bytes.NewReader(data), nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "provider"
	}
	return strings.Split(u.Host, ":")[0]
}
