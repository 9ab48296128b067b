package pagination

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// DefaultPageSize is used when a request does not set one.
const DefaultPageSize = 10

// Request holds page-number pagination parameters sent as query strings.
type Request struct {
	Page     int
	PageSize int
}

// DefaultRequest returns the first page with the default size.
func DefaultRequest() Request {
	return Request{Page: 1, PageSize: DefaultPageSize}
}

// Normalize clamps non-positive values to their defaults.
func (r Request) Normalize() Request {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize < 1 {
		r.PageSize = DefaultPageSize
	}
	return r
}

// Apply writes page and page_size into q.
func (r Request) Apply(q url.Values) {
	r = r.Normalize()
	q.Set("page", strconv.Itoa(r.Page))
	q.Set("page_size", strconv.Itoa(r.PageSize))
}

// Page is the list envelope returned by the API:
// {count, next: url|null, previous: url|null, results: [...]}.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// HasNext reports whether the server advertised a following page.
func (p Page[T]) HasNext() bool {
	return p.Next != nil && *p.Next != ""
}

// envelope accepts both the paginated shape and the legacy {data: [...]} shape.
type envelope[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
	Data     []T     `json:"data"`
}

// Decode parses a list response. A bare JSON array is accepted as a single,
// final page. Object responses use results, falling back to data.
func Decode[T any](body []byte) (Page[T], error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Page[T]{}, fmt.Errorf("decode page: empty body")
	}

	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Page[T]{}, fmt.Errorf("decode page: %w", err)
		}
		return Page[T]{Count: len(items), Results: items}, nil
	}

	var env envelope[T]
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Page[T]{}, fmt.Errorf("decode page: %w", err)
	}

	items := env.Results
	if items == nil {
		items = env.Data
	}
	count := env.Count
	if count == 0 {
		count = len(items)
	}
	return Page[T]{Count: count, Next: env.Next, Previous: env.Previous, Results: items}, nil
}
