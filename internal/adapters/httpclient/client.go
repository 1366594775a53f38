// Package httpclient implements the retryable HTTP adapter of §4.5: typed
// GET/POST/PUT/DELETE over a pooled transport, retrying network errors,
// 503, 429 (respecting Retry-After), and timeouts with exponential
// backoff+jitter — never retrying 4xx.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/omninode-ai/omniintelligence-core/pkg/fn"
)

// Opts configures the retryable adapter.
type Opts struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	MaxConnections  int
	MaxIdleConns    int
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
}

// DefaultOpts matches the spec's documented defaults: 3 attempts, 1s/2s/4s
// backoff capped at 10s (§4.5).
var DefaultOpts = Opts{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     10 * time.Second,
	MaxConnections: 100,
	MaxIdleConns:   100,
	ConnectTimeout: 10 * time.Second,
	RequestTimeout: 30 * time.Second,
}

// Metrics is a point-in-time snapshot of adapter counters (§4.5).
type Metrics struct {
	TotalRequests    int64
	Successful       int64
	Failed           int64
	TimeoutErrors    int64
	RetriesAttempted int64
	CumulativeDuration time.Duration
}

// Client is a shared, process-wide HTTP client pool for one downstream
// service, wrapped with retry policy and metrics (§5 "Shared resources").
type Client struct {
	http *http.Client
	opts Opts

	totalRequests    atomic.Int64
	successful       atomic.Int64
	failed           atomic.Int64
	timeoutErrors    atomic.Int64
	retriesAttempted atomic.Int64
	cumulativeNanos  atomic.Int64
}

// New creates a Client with a pooled transport sized per opts.
func New(opts Opts) *Client {
	if opts.MaxAttempts <= 0 {
		opts = DefaultOpts
	}
	transport := &http.Transport{
		MaxConnsPerHost:     opts.MaxConnections,
		MaxIdleConnsPerHost: opts.MaxIdleConns,
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
	}
	return &Client{
		http: &http.Client{Transport: transport, Timeout: opts.RequestTimeout},
		opts: opts,
	}
}

// Metrics returns a snapshot of the client's cumulative counters.
func (c *Client) Metrics() Metrics {
	return Metrics{
		TotalRequests:      c.totalRequests.Load(),
		Successful:         c.successful.Load(),
		Failed:             c.failed.Load(),
		TimeoutErrors:      c.timeoutErrors.Load(),
		RetriesAttempted:   c.retriesAttempted.Load(),
		CumulativeDuration: time.Duration(c.cumulativeNanos.Load()),
	}
}

// Response is the minimal decoded response the adapter returns to callers.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (c *Client) Get(ctx context.Context, url string, headers http.Header) fn.Result[Response] {
	return c.do(ctx, http.MethodGet, url, nil, headers)
}

func (c *Client) Post(ctx context.Context, url string, body []byte, headers http.Header) fn.Result[Response] {
	return c.do(ctx, http.MethodPost, url, body, headers)
}

func (c *Client) Put(ctx context.Context, url string, body []byte, headers http.Header) fn.Result[Response] {
	return c.do(ctx, http.MethodPut, url, body, headers)
}

func (c *Client) Delete(ctx context.Context, url string, headers http.Header) fn.Result[Response] {
	return c.do(ctx, http.MethodDelete, url, nil, headers)
}

// do executes method/url with the configured retry policy.
func (c *Client) do(ctx context.Context, method, url string, body []byte, headers http.Header) fn.Result[Response] {
	c.totalRequests.Add(1)
	start := time.Now()
	defer func() { c.cumulativeNanos.Add(int64(time.Since(start))) }()

	var lastErr error
	wait := c.opts.InitialBackoff

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		resp, err := c.attempt(ctx, method, url, body, headers)
		if err == nil && !isRetryableStatus(resp.StatusCode) {
			c.successful.Add(1)
			return fn.Ok(resp)
		}

		if err == nil {
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			if retryAfter, ok := parseRetryAfter(resp.Header); ok && resp.StatusCode == http.StatusTooManyRequests {
				wait = retryAfter
			}
		} else {
			lastErr = err
			if isTimeout(err) {
				c.timeoutErrors.Add(1)
			}
			if !isRetryableError(err) {
				c.failed.Add(1)
				return fn.Err[Response](err)
			}
		}

		if attempt == c.opts.MaxAttempts {
			break
		}
		c.retriesAttempted.Add(1)

		sleep := wait
		if wait > 0 {
			sleep += time.Duration(rand.Int63n(int64(wait)/2 + 1))
		}
		select {
		case <-ctx.Done():
			c.failed.Add(1)
			return fn.Err[Response](ctx.Err())
		case <-time.After(sleep):
		}
		wait *= 2
		if wait > c.opts.MaxBackoff {
			wait = c.opts.MaxBackoff
		}
	}

	c.failed.Add(1)
	return fn.Err[Response](fmt.Errorf("httpclient: exhausted %d attempts: %w", c.opts.MaxAttempts, lastErr))
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, headers http.Header) (Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Response{}, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: resp.StatusCode, Body: data, Header: resp.Header}, nil
}

// isRetryableStatus reports whether status is one of 503/429 per §4.5.
// 4xx other than 429 is never retried.
func isRetryableStatus(status int) bool {
	return status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests
}

// isRetryableError reports whether err is a network error or timeout,
// explicitly excluding context cancellation (not a server fault).
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter parses the Retry-After header as a duration in seconds.
func parseRetryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
