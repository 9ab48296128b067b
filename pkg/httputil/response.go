// Package httputil writes JSON responses in the blog API's wire format:
// plain resources, {"detail": ...} errors, field-keyed validation errors and
// {count, next, previous, results} pages.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
	"github.com/desurestar/RSOD-project/pkg/logger"
	"github.com/desurestar/RSOD-project/pkg/pagination"
)

// Detail is the error body used for everything except validation failures.
type Detail struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDetail writes {"detail": message}.
func WriteDetail(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Detail{Detail: message})
}

// WriteFieldErrors writes a 400 whose body maps each field to its messages.
func WriteFieldErrors(w http.ResponseWriter, fields map[string][]string) {
	WriteJSON(w, http.StatusBadRequest, fields)
}

// WriteError writes err in wire format. Validation errors keep their field
// map. Internal errors are logged and their message hidden.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() {
		l = fallback
	}

	if fields := apperrors.FieldErrors(err); len(fields) > 0 {
		WriteFieldErrors(w, fields)
		return
	}

	status := apperrors.HTTPStatus(err)
	message := http.StatusText(status)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		message = "A server error occurred."
	}

	WriteDetail(w, status, message)
}

// ParseID reads a positive integer path parameter. On failure it writes the
// 404 the API uses for unmatched ids and returns false.
func ParseID(w http.ResponseWriter, param string) (int64, bool) {
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id < 1 {
		WriteDetail(w, http.StatusNotFound, "Not found.")
		return 0, false
	}
	return id, true
}

// ParsePage reads page and page_size from the query, clamping page_size to
// maxSize and defaulting it to defaultSize.
func ParsePage(r *http.Request, defaultSize, maxSize int) pagination.Request {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	if size < 1 {
		size = defaultSize
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	return pagination.Request{Page: page, PageSize: size}.Normalize()
}

// NewPage slices all into the requested page and links its neighbours. It
// returns false when the page is past the end; the API answers those with 404
// "Invalid page.".
func NewPage[T any](r *http.Request, all []T, req pagination.Request) (pagination.Page[T], bool) {
	req = req.Normalize()
	start := (req.Page - 1) * req.PageSize
	if start > len(all) || (start == len(all) && req.Page > 1) {
		return pagination.Page[T]{}, false
	}
	end := min(start+req.PageSize, len(all))

	results := make([]T, end-start)
	copy(results, all[start:end])

	page := pagination.Page[T]{Count: len(all), Results: results}
	if end < len(all) {
		page.Next = pageLink(r, req.Page+1)
	}
	if req.Page > 1 {
		page.Previous = pageLink(r, req.Page-1)
	}
	return page, true
}

func pageLink(r *http.Request, page int) *string {
	u := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path}
	if r.TLS != nil {
		u.Scheme = "https"
	}
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	s := u.String()
	return &s
}
