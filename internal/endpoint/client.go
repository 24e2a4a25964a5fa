// Package endpoint talks to the remote activation and login endpoints.
//
// Callers always get a structured Response or a *Failure; undecodable bodies are
// folded into a synthetic failed Response instead of an error.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Proton-105/claim-bot/pkg/metrics"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxIdleConns = 20
	maxBodyBytes        = 1 << 20
)

// Options configures the Client.
type Options struct {
	Timeout      time.Duration
	MaxIdleConns int
	UserAgent    string
	// Transport overrides the pooled transport, mainly for tests.
	Transport http.RoundTripper
}

// Failure is returned when no response could be obtained at all.
type Failure struct {
	URL     string
	Cause   string
	Timeout bool
	Err     error
}

func (f *Failure) Error() string {
	return "request failed: " + f.Cause
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Client issues requests through a single lazily created connection pool.
type Client struct {
	opts Options
	log  *slog.Logger

	mu   sync.Mutex
	http *http.Client
}

// NewClient builds a Client; the pool itself is created on first use.
func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = defaultMaxIdleConns
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{opts: opts, log: log}
}

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil)
}

// PostForm posts form-encoded values to rawURL.
func (c *Client) PostForm(ctx context.Context, rawURL string, values url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, values)
}

// Target is a configured remote endpoint.
type Target struct {
	URL    string
	Method string
}

// Call sends params to t, in the query string for GET and as a form body for POST.
func (c *Client) Call(ctx context.Context, t Target, params url.Values) (*Response, error) {
	if strings.EqualFold(t.Method, http.MethodPost) {
		return c.PostForm(ctx, t.URL, params)
	}

	target, err := BuildURL(t.URL, params)
	if err != nil {
		return nil, &Failure{URL: t.URL, Cause: err.Error(), Err: err}
	}
	return c.Get(ctx, target)
}

// Close releases pooled connections. Later calls are no-ops until the pool is recreated.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.http == nil {
		return nil
	}
	c.http.CloseIdleConnections()
	c.http = nil
	c.log.Info("endpoint client pool closed")
	return nil
}

func (c *Client) pool() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.http == nil {
		transport := c.opts.Transport
		if transport == nil {
			transport = &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          c.opts.MaxIdleConns,
				MaxIdleConnsPerHost:   c.opts.MaxIdleConns,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: c.opts.Timeout,
			}
		}
		c.http = &http.Client{Transport: transport}
	}
	return c.http
}

func (c *Client) do(ctx context.Context, method, rawURL string, form url.Values) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	label := endpointLabel(rawURL)
	start := time.Now()

	resp, err := c.roundTrip(ctx, method, rawURL, form)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "transport_error"
	case !resp.Decoded():
		outcome = "decode_error"
	}
	metrics.ObserveEndpointRequest(label, outcome, time.Since(start))

	if err != nil {
		c.log.Warn("endpoint request failed",
			slog.String("endpoint", label),
			slog.String("method", method),
			slog.Any("error", err),
		)
		return nil, err
	}

	c.log.Debug("endpoint request completed",
		slog.String("endpoint", label),
		slog.String("method", method),
		slog.Int("status", resp.HTTPStatus),
		slog.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, method, rawURL string, form url.Values) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return nil, &Failure{URL: rawURL, Cause: fmt.Sprintf("invalid request: %v", err), Err: err}
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	httpResp, err := c.pool().Do(req)
	if err != nil {
		return nil, c.failure(ctx, rawURL, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.failure(ctx, rawURL, err)
	}

	return decodeBody(data, httpResp.StatusCode), nil
}

func (c *Client) failure(parent context.Context, rawURL string, err error) *Failure {
	switch {
	case parent.Err() != nil:
		return &Failure{URL: rawURL, Cause: "request cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return &Failure{
			URL:     rawURL,
			Cause:   fmt.Sprintf("request timed out after %s", c.opts.Timeout),
			Timeout: true,
			Err:     err,
		}
	default:
		cause := err.Error()
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Err != nil {
			cause = urlErr.Err.Error()
		}
		return &Failure{URL: rawURL, Cause: cause, Err: err}
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// BuildURL merges params into the query string of base.
func BuildURL(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint url %q is not absolute", base)
	}

	query := u.Query()
	for key, values := range params {
		query.Del(key)
		for _, v := range values {
			query.Add(key, v)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host + u.Path
}
