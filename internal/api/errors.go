// Package api provides an HTTP client for the file-browser resource API:
// URL construction, authenticated request execution, error classification,
// and the resource, tus, share, and raw endpoints built on top of them.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrConflict) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrServerError  = errors.New("api: server error")

	// ErrServerRejected is the catch-all for non-2xx responses that have no
	// more specific sentinel. Every *APIError matches it.
	ErrServerRejected = errors.New("api: server rejected request")

	// ErrConnectionAborted means no response was received at all.
	ErrConnectionAborted = errors.New("api: 001 connection aborted")

	// ErrAborted means the caller canceled the request.
	ErrAborted = errors.New("api: request aborted")

	// ErrProtocolNegotiation means a tus upload session could not be created.
	ErrProtocolNegotiation = errors.New("api: resumable upload negotiation failed")
)

// APIError wraps a sentinel error with the HTTP status code and the raw
// response body so callers can display the server's message verbatim.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: HTTP %d", e.StatusCode)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes both the status sentinel and ErrServerRejected.
func (e *APIError) Unwrap() []error {
	if e.Err == nil || e.Err == ErrServerRejected {
		return []error{ErrServerRejected}
	}

	return []error{e.Err, ErrServerRejected}
}

// IsConflict reports whether err is a 409 destination-exists failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// StatusCode extracts the HTTP status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}

// newAPIError builds an APIError for a non-success response.
func newAPIError(code int, body []byte) *APIError {
	return &APIError{
		StatusCode: code,
		Message:    string(body),
		Err:        classifyStatus(code),
	}
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrServerRejected
	}
}
