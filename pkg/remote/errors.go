package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrEmptyProfile is returned when the profile endpoint answered 2xx
	// without a user.
	ErrEmptyProfile = errors.New("remote: empty profile")

	// ErrResponseTooLarge is returned when a response body exceeds the
	// client's limit.
	ErrResponseTooLarge = errors.New("remote: response too large")
)

// ErrorItem is one entry of the API's "errors" array.
type ErrorItem struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// APIError is returned for every non-2xx response.
type APIError struct {
	Status int
	Errors []ErrorItem
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("remote: status %d", e.Status)
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		if item.Extensions.Code != "" {
			msgs = append(msgs, item.Extensions.Code+": "+item.Message)
		} else {
			msgs = append(msgs, item.Message)
		}
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, strings.Join(msgs, "; "))
}

// Code returns the first error code, if any.
func (e *APIError) Code() string {
	for _, item := range e.Errors {
		if item.Extensions.Code != "" {
			return item.Extensions.Code
		}
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0 when err did not come
// from an API response.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 or 403 from the API, or a
// GraphQL error reporting an expired token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return apiErr.Code() == "TOKEN_EXPIRED"
}

func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var payload struct {
		Errors []ErrorItem `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		e.Errors = payload.Errors
	}
	if len(e.Errors) == 0 {
		if msg := strings.TrimSpace(string(body)); msg != "" && len(msg) < 512 {
			e.Errors = []ErrorItem{{Message: msg}}
		}
	}
	return e
}
