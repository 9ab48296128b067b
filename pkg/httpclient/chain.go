package httpclient

import "net/http"

// Handler sends a request and returns its response. It is the unit every
// middleware wraps.
type Handler func(req *http.Request) (*http.Response, error)

// RoundTrip lets a Handler stand in for an http.RoundTripper.
func (h Handler) RoundTrip(req *http.Request) (*http.Response, error) {
	return h(req)
}

// Middleware sees the request before next and the response after it.
// A middleware may call next more than once (replay) or not at all.
type Middleware func(req *http.Request, next Handler) (*http.Response, error)

// Chain is an ordered list of middlewares. The first element is outermost.
type Chain []Middleware

// Then composes the chain around final.
func (c Chain) Then(final Handler) Handler {
	h := final
	for i := len(c) - 1; i >= 0; i-- {
		h = wrap(c[i], h)
	}
	return h
}

// Append returns a new chain with mws added after the existing middlewares.
func (c Chain) Append(mws ...Middleware) Chain {
	out := make(Chain, 0, len(c)+len(mws))
	out = append(out, c...)
	return append(out, mws...)
}

func wrap(m Middleware, next Handler) Handler {
	return func(req *http.Request) (*http.Response, error) {
		return m(req, next)
	}
}
