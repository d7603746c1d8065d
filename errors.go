package lighter

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfig is returned for invalid backend configuration, such as a
	// missing endpoint or empty credentials. Fails fast, never retryable.
	ErrConfig = errors.New("invalid configuration")
	// ErrInvalidInput is returned when a key, name, or request parameter is malformed
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when the requested object does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the backend refuses to overwrite an existing object
	ErrConflict = errors.New("conflict")
	// ErrNotSupported is returned when the backend lacks the requested capability
	ErrNotSupported = errors.New("not supported")
	// ErrProtocol is returned for unexpected backend responses, such as
	// malformed XML or a missing ETag
	ErrProtocol = errors.New("protocol error")
	// ErrUnauthorized is returned when credentials or an API key are rejected
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is an unexpected HTTP response from a storage backend. Op and
// Key identify the offending operation; Body carries a trimmed response
// excerpt for diagnostics.
type StatusError struct {
	Op         string
	Key        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Op, e.Key, e.StatusCode, e.Body)
}

// Is maps status codes onto the package sentinels so callers can use
// errors.Is without knowing which backend produced the response. It also
// matches another *StatusError with the same status code.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrConflict:
		return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusPreconditionFailed
	}
	var t *StatusError
	if errors.As(target, &t) {
		return t.StatusCode == e.StatusCode
	}
	return false
}
