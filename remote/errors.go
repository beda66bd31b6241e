package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized matches responses rejected with 401 or 403.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying later.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

// NotFound reports whether the entity no longer exists on the server.
func (e *StatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// NetworkError wraps failures that happened before a response arrived.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string   { return "network: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error   { return e.Err }
func (e *NetworkError) Transient() bool { return true }

// IsTransient reports whether err is a network failure or a retryable status.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}
