// Package httpx is the HTTP transport for the AuthKit client: JSON
// requests against a fixed base URL, bearer-token injection, timeout
// cancellation, uniform error shaping, and an explicit middleware chain
// that the reactive refresh interceptor composes onto.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a request when neither the context nor an option
// provides a deadline.
const DefaultTimeout = 30 * time.Second

// Request describes one logical call. The body is serialized per attempt so
// a retried request re-marshals cleanly.
type Request struct {
	Method string
	Path   string
	Body   any

	// SkipRefresh opts the request out of reactive 401 handling. Auth
	// verbs set it: a 401 from login is bad credentials, not an expired
	// session, and the refresh call itself must never recurse.
	SkipRefresh bool
}

// Response carries the status, headers and fully-read body of a 2xx reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DoFunc executes one request attempt.
type DoFunc func(ctx context.Context, req *Request) (*Response, error)

// Middleware wraps a DoFunc; the refresh interceptor is one of these.
type Middleware func(next DoFunc) DoFunc

// TokenSource yields the current access token; empty means unauthenticated.
type TokenSource func() string

// Client executes JSON requests against the backend.
type Client struct {
	baseURL     string
	http        *http.Client
	tokenSource TokenSource
	limiter     *rate.Limiter
	timeout     time.Duration
	logger      *slog.Logger
	middlewares []Middleware

	do DoFunc // exec wrapped by the middleware chain
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource injects Authorization: Bearer headers from the source.
// The source is consulted per attempt, so a retry after a token refresh
// automatically carries the new token.
func WithTokenSource(src TokenSource) Option {
	return func(c *Client) { c.tokenSource = src }
}

// WithTimeout sets the per-request deadline applied when the caller's
// context has none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit throttles outgoing requests client-side.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMiddleware appends middlewares; the first listed is outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mw...) }
}

// WithCredentials attaches a cookie jar so httpOnly session cookies (the
// cookie-based refresh deployment) survive across calls.
func WithCredentials() Option {
	return func(c *Client) {
		if c.http.Jar == nil {
			// cookiejar.New with nil options never fails.
			c.http.Jar, _ = cookiejar.New(nil)
		}
	}
}

// New creates a transport bound to baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpx: base URL is required")
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.do = c.exec
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		c.do = c.middlewares[i](c.do)
	}

	return c, nil
}

// Do runs the request through the middleware chain and unmarshals a 2xx
// body into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	return c.DoRequest(ctx, &Request{Method: method, Path: path, Body: body}, out)
}

// DoRequest is Do for callers that need the full Request shape, e.g. to set
// SkipRefresh on auth verbs.
func (c *Client) DoRequest(ctx context.Context, req *Request, out any) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("httpx: decode %s %s response: %w", req.Method, req.Path, err)
	}
	return nil
}

// exec is the innermost DoFunc: one real HTTP attempt.
func (c *Client) exec(ctx context.Context, req *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpx: encode %s %s body: %w", req.Method, req.Path, err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("httpx: build %s %s: %w", req.Method, req.Path, err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", newRequestID())
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.tokenSource != nil {
		if token := c.tokenSource(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("httpx: %s %s: connection error: %w", req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("httpx: read %s %s response: %w", req.Method, req.Path, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := shapeError(httpResp.StatusCode, raw)
		c.logger.Debug("request failed",
			"method", req.Method,
			"path", req.Path,
			"status", httpResp.StatusCode,
			"message", apiErr.Message,
		)
		return nil, apiErr
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       raw,
	}, nil
}

// HasToken reports whether the token source currently yields a token.
func (c *Client) HasToken() bool {
	return c.tokenSource != nil && c.tokenSource() != ""
}
