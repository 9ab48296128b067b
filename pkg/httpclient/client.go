package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
)

// Config holds HTTP client configuration
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int
}

// DefaultConfig returns sensible defaults for HTTP client
func DefaultConfig() Config {
	return Config{
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    2 * time.Second,
		MaxConnsPerHost: 16,
	}
}

// Client sends requests through a middleware chain ending in a retrying transport.
type Client struct {
	httpClient *http.Client
	config     Config
	handler    Handler
}

// New creates a client whose requests pass through chain before reaching the network.
func New(cfg Config, chain Chain) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		config: cfg,
	}
	c.handler = chain.Then(c.send)
	return c
}

// NewWithHTTPClient is like New but sends through hc. Tests use it to point
// the client at an httptest server transport.
func NewWithHTTPClient(cfg Config, chain Chain, hc *http.Client) *Client {
	c := &Client{httpClient: hc, config: cfg}
	c.handler = chain.Then(c.send)
	return c
}

// Do executes req through the middleware chain. Requests that never get a
// response come back wrapped with ErrTransport.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.handler(req.WithContext(ctx))
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) || ctx.Err() != nil {
			return nil, err
		}
		return nil, apperrors.Transport(err)
	}
	return resp, nil
}

// Get performs HTTP GET request
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// Post performs HTTP POST request. POST is never retried by the transport.
func (c *Client) Post(ctx context.Context, url string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create POST request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(ctx, req)
}

// send is the final handler. Only idempotent methods are retried, so a toggle
// like POST .../likes/ is attempted exactly once.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	maxRetries := c.config.MaxRetries
	if !isIdempotent(req.Method) {
		maxRetries = 0
	}

	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.config.RetryWaitMin * time.Duration(1<<uint(attempt-1))
			if wait > c.config.RetryWaitMax {
				wait = c.config.RetryWaitMax
			}

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			if req, err = rewind(req); err != nil {
				return nil, err
			}
		}

		resp, err = c.httpClient.Do(req)
		if err != nil {
			if isRetryableError(err) && attempt < maxRetries {
				continue
			}
			return nil, fmt.Errorf("http request failed after %d attempts: %w", attempt+1, err)
		}

		// Retry on 5xx errors (except 501 Not Implemented)
		if resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented && attempt < maxRetries {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			continue
		}

		return resp, nil
	}

	return resp, err
}

// rewind returns a copy of req with a fresh body for another attempt.
func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body for %s %s cannot be replayed", req.Method, req.URL.Path)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	out := req.Clone(req.Context())
	out.Body = body
	return out, nil
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// isRetryableError determines if an error is retryable
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
