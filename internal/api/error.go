package api

import (
	"fmt"
	"net/http"
)

var (
	ErrBadRequest   = &HTTPError{StatusCode: http.StatusBadRequest}
	ErrUnauthorized = &HTTPError{StatusCode: http.StatusUnauthorized}
	ErrForbidden    = &HTTPError{StatusCode: http.StatusForbidden}
	ErrNotFound     = &HTTPError{StatusCode: http.StatusNotFound}
	ErrConflict     = &HTTPError{StatusCode: http.StatusConflict}
	ErrServer       = &HTTPError{StatusCode: http.StatusInternalServerError}
)

// HTTPError is a non-2xx response. Message is the server's "message" or
// "error" field, or a generic text.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (http status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Is matches HTTP errors by status code, so errors.Is(err, ErrNotFound)
// works for any 404.
func (e *HTTPError) Is(target error) bool {
	if t, ok := target.(*HTTPError); ok {
		return e.StatusCode == t.StatusCode
	}
	return false
}
