package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
)

// maxErrorBody bounds how much of an error body is read.
const maxErrorBody = 1 << 20

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an AppError. The API reports errors in two shapes:
//
//	{"detail": "Authentication credentials were not provided."}
//	{"username": ["This field is required."], "non_field_errors": ["..."]}
//
// The first keeps its message. The second becomes a validation error carrying
// the field map. Anything else falls back to the raw body as the message.
//
// The caller should only invoke this when resp.StatusCode indicates an error.
// The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, endpoint string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", endpoint, resp.StatusCode, err)
	}

	detail, fields := decodeErrorBody(bodyBytes)
	if detail == "" && len(fields) == 0 {
		detail = strings.TrimSpace(string(bodyBytes))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
	}

	return mapStatus(resp.StatusCode, endpoint, detail, fields)
}

func decodeErrorBody(body []byte) (string, map[string][]string) {
	var raw map[string]json.RawMessage
	if json.Unmarshal(body, &raw) != nil {
		return "", nil
	}

	var detail string
	if msg, ok := raw["detail"]; ok {
		_ = json.Unmarshal(msg, &detail)
		delete(raw, "detail")
	}

	fields := make(map[string][]string, len(raw))
	for name, value := range raw {
		if msgs := messages(value); len(msgs) > 0 {
			fields[name] = msgs
		}
	}
	if len(fields) == 0 {
		fields = nil
	}
	return detail, fields
}

// messages accepts "msg", ["msg", ...] or a nested object of those.
func messages(value json.RawMessage) []string {
	var one string
	if json.Unmarshal(value, &one) == nil {
		return []string{one}
	}
	var many []string
	if json.Unmarshal(value, &many) == nil {
		return many
	}
	var nested map[string]json.RawMessage
	if json.Unmarshal(value, &nested) == nil {
		var out []string
		for key, v := range nested {
			for _, m := range messages(v) {
				out = append(out, key+": "+m)
			}
		}
		return out
	}
	return nil
}

func mapStatus(status int, endpoint, detail string, fields map[string][]string) error {
	qualifiedMsg := fmt.Sprintf("%s: %s", endpoint, detail)

	switch {
	case status == http.StatusBadRequest && len(fields) > 0:
		return apperrors.Validation(fields)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(qualifiedMsg)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(qualifiedMsg)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(qualifiedMsg)
	case status == http.StatusNotFound:
		return &apperrors.AppError{
			Code:    "NOT_FOUND",
			Message: qualifiedMsg,
			Status:  http.StatusNotFound,
			Err:     apperrors.ErrNotFound,
		}
	case status == http.StatusConflict:
		return apperrors.Conflict(qualifiedMsg)
	case status == http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(qualifiedMsg)
	case status >= 500:
		return &apperrors.AppError{
			Code:    "SERVER_ERROR",
			Message: qualifiedMsg,
			Status:  status,
			Err:     apperrors.ErrInternal,
		}
	default:
		return &apperrors.AppError{
			Code:    fmt.Sprintf("HTTP_%d", status),
			Message: qualifiedMsg,
			Fields:  fields,
			Status:  status,
		}
	}
}

// IsSuccess reports whether status is a 2xx code.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
