// Package qhttp is the authenticated REST transport shared by the storage,
// automation and auth clients. It speaks JSON, injects bearer tokens through
// an oauth2.TokenSource and turns non-2xx responses into coded errors.
package qhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent = "apsflow"
	DefaultTimeout   = 30 * time.Second
)

// Client performs JSON requests relative to a base URL.
type Client struct {
	base        *url.URL
	http        *http.Client
	tokens      oauth2.TokenSource
	userAgent   string
	contentType string
	headers     http.Header
	limiter     *rate.Limiter
	maxRetries  int
	logger      *qlog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. The token transport, if
// any, wraps its Transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenSource authenticates every request with a bearer token.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithContentType replaces application/json as the request body type, e.g.
// application/vnd.api+json for JSON:API endpoints.
func WithContentType(ct string) Option {
	return func(c *Client) {
		c.contentType = ct
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetries retries idempotent requests (GET, HEAD) up to n times on 429
// and 5xx gateway errors. Other methods are never retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n < 0 {
			n = 0
		}
		c.maxRetries = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *qlog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, qerr.New(qerr.CodeConfiguration, fmt.Errorf("invalid base url %q: %w", baseURL, err))
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, qerr.Newf(qerr.CodeConfiguration, "base url %q must be absolute", baseURL)
	}

	c := &Client{
		base:        u,
		http:        &http.Client{Timeout: DefaultTimeout},
		userAgent:   DefaultUserAgent,
		contentType: "application/json",
		headers:     make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = qlog.OrDefault(c.logger)

	if c.tokens != nil {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc := *c.http
		hc.Transport = &oauth2.Transport{Source: c.tokens, Base: base}
		c.http = &hc
	}
	return c, nil
}

// BaseURL returns the base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// URL resolves a relative path against the base URL. Absolute URLs, such as
// pagination links, are returned unchanged.
func (c *Client) URL(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL
	}
	if !strings.HasPrefix(pathOrURL, "/") {
		pathOrURL = "/" + pathOrURL
	}
	return c.base.String() + pathOrURL
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, query url.Values, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, query, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, nil, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, out)
}

// Do sends one request. body is JSON-encoded when non-nil; out receives the
// decoded response when non-nil and the response has content. Non-2xx
// responses yield an *qerr.HTTPError coded CodeTransport, or
// CodeUnauthorized for 401.
func (c *Client) Do(ctx context.Context, method, pathOrURL string, query url.Values, body, out any) error {
	target := c.URL(pathOrURL)
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return qerr.New(qerr.CodeConfiguration, fmt.Errorf("encoding %s %s body: %w", method, target, err))
		}
	}

	once := func() error {
		return c.send(ctx, method, target, payload, body != nil, out)
	}

	if c.maxRetries == 0 || !idempotent(method) {
		return once()
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)
	return backoff.RetryNotify(func() error {
		err := once()
		if err != nil && !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		c.logger.Debug("retrying request", "method", method, "url", target, "wait", wait, "error", err)
	})
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte, hasBody bool, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var rdr io.Reader
	if hasBody {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return qerr.New(qerr.CodeConfiguration, err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if hasBody {
		req.Header.Set("Content-Type", c.contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return qerr.New(qerr.CodeTransport, fmt.Errorf("%s %s: %w", method, target, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return qerr.New(qerr.CodeTransport, fmt.Errorf("reading %s %s response: %w", method, target, err))
	}

	c.logger.Debug("http", "method", method, "url", target, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := qerr.CodeTransport
		if resp.StatusCode == http.StatusUnauthorized {
			code = qerr.CodeUnauthorized
		}
		return qerr.New(code, &qerr.HTTPError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		})
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if dst, ok := out.(*[]byte); ok {
		*dst = raw
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return qerr.New(qerr.CodeTransport, fmt.Errorf("decoding %s %s response: %w", method, target, err))
	}
	return nil
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch qerr.StatusCode(err) {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case 0:
		// network failure without a response
		return qerr.IsCode(err, qerr.CodeTransport) && !errors.Is(err, context.Canceled)
	default:
		return false
	}
}
