// Package api implements the remote usage API client.
//
// Five logical fetch operations share one request path: a fixed-timeout
// HTTPS call authenticated by a session cookie, with failures classified
// into a small taxonomy that drives the retry policy. The auth token is
// never included in any error or log line.
package api

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrCredentialMissing means no auth token was available. No network call
// is made; the user must act before a sync can succeed.
var ErrCredentialMissing = errors.New("api: credential missing")

// UnauthorizedError means the server rejected the token (401/403). Never
// retried: the token is likely invalid or expired.
type UnauthorizedError struct {
	Status int
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("api: unauthorized (status %d), re-authenticate", e.Status)
}

// TimeoutError wraps a request that exceeded the fixed timeout. Retryable.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("api: %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response outside the unauthorized class. Carries
// the status and a truncated body for diagnosis. Retried only for 408,
// 429, and 5xx.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api: http %d: %s", e.Status, e.Body)
}

// ParseError means the response body was not valid JSON or failed
// structural validation. Never retried: it indicates upstream contract
// drift, and the snippet (never the token) is what a human needs to
// diagnose it.
type ParseError struct {
	Op      string
	Err     error
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("api: %s returned unparseable response: %v (body: %s)", e.Op, e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsRetryable reports whether an error is worth retrying: timeouts, the
// transient HTTP statuses, and connection-level network failures. Missing
// credentials, auth rejections, and parse errors are never retryable.
func IsRetryable(err error) bool {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 408 || httpErr.Status == 429 || httpErr.Status >= 500
	}

	var unauthorized *UnauthorizedError
	if errors.As(err, &unauthorized) {
		return false
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	if errors.Is(err, ErrCredentialMissing) {
		return false
	}

	// Transient connection failures.
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
