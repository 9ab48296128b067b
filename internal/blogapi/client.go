// Package blogapi is a typed client for the blog REST API. Requests go through
// an HTTPDoer, normally an httpclient.Client whose chain carries the session
// middlewares, so callers never handle tokens themselves.
package blogapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/desurestar/RSOD-project/pkg/httpclient"
	"github.com/desurestar/RSOD-project/pkg/pagination"
)

// DefaultBaseURL is the API root of a local backend.
const DefaultBaseURL = "http://localhost:8000/api/"

// maxListPages bounds how many next links a single list call follows.
const maxListPages = 100

// HTTPDoer is the interface for executing HTTP requests.
// httpclient.Client satisfies it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client calls the blog API.
type Client struct {
	httpClient HTTPDoer
	base       *url.URL
	logger     *slog.Logger
}

// New creates a client for the API rooted at baseURL.
func New(httpClient HTTPDoer, baseURL string, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse base url: %q is not absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return &Client{httpClient: httpClient, base: base, logger: logger}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) resolve(path string, query url.Values) *url.URL {
	u := c.base.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

// send performs one call. in, when non-nil, is sent as a JSON body; the
// bytes.Reader lets the session middleware replay it after a refresh. A
// non-2xx answer is returned as the AppError decoded from its body.
func (c *Client) send(ctx context.Context, endpoint, method string, u *url.URL, in any) ([]byte, error) {
	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", endpoint, err)
	}
	if !httpclient.IsSuccess(resp.StatusCode) {
		return nil, httpclient.ParseResponseError(resp, endpoint)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return raw, nil
}

// sameOrigin reports whether u has the scheme and host of the API root.
func (c *Client) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.base.Scheme) && strings.EqualFold(u.Host, c.base.Host)
}

// call sends a request to path and decodes the JSON answer into out.
func (c *Client) call(ctx context.Context, endpoint, method, path string, query url.Values, in, out any) error {
	raw, err := c.send(ctx, endpoint, method, c.resolve(path, query), in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// page fetches one list page, accepting both envelopes and bare arrays.
func page[T any](ctx context.Context, c *Client, endpoint, path string, query url.Values) (pagination.Page[T], error) {
	raw, err := c.send(ctx, endpoint, http.MethodGet, c.resolve(path, query), nil)
	if err != nil {
		return pagination.Page[T]{}, err
	}
	p, err := pagination.Decode[T](raw)
	if err != nil {
		return pagination.Page[T]{}, fmt.Errorf("%s: %w", endpoint, err)
	}
	return p, nil
}

// all collects every item of a list, following next links.
func all[T any](ctx context.Context, c *Client, endpoint, path string) ([]T, error) {
	u := c.resolve(path, nil)
	var items []T
	for range maxListPages {
		raw, err := c.send(ctx, endpoint, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		p, err := pagination.Decode[T](raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
		items = append(items, p.Results...)
		if !p.HasNext() {
			return items, nil
		}

		next, err := u.Parse(*p.Next)
		if err != nil {
			return nil, fmt.Errorf("%s: bad next link %q: %w", endpoint, *p.Next, err)
		}
		if !c.sameOrigin(next) {
			return nil, fmt.Errorf("%s: next link %q leaves %s", endpoint, *p.Next, c.base.Host)
		}
		c.logger.DebugContext(ctx, "following next link",
			slog.String("endpoint", endpoint),
			slog.String("next", next.String()),
		)
		u = next
	}
	return nil, fmt.Errorf("%s: more than %d pages", endpoint, maxListPages)
}
