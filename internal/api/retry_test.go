package api

import (
	"errors"
	"io"
	"log"
	"testing"
)

func TestWithRetryRecoversTransientFailures(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	attempts := 0
	got, err := WithRetry(logger, "test op", func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", &HTTPError{Status: 500, Body: "boom"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("WithRetry() error: %v", err)
	}
	if got != "ok" {
		t.Errorf("WithRetry() = %q, want ok", got)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", attempts)
	}
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	attempts := 0
	_, err := WithRetry(logger, "test op", func() (string, error) {
		attempts++
		return "", &HTTPError{Status: 503, Body: "unavailable"}
	})
	if err == nil {
		t.Fatal("WithRetry() succeeded, want final error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 503 {
		t.Errorf("final error = %v, want the last HTTPError", err)
	}
}

func TestWithRetryDoesNotRetryPermanentFailures(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	tests := []struct {
		name string
		err  error
	}{
		{"client error", &HTTPError{Status: 400, Body: "bad request"}},
		{"unauthorized", &UnauthorizedError{Status: 401}},
		{"parse error", &ParseError{Op: "events", Err: errors.New("bad json")}},
		{"credential missing", ErrCredentialMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			_, err := WithRetry(logger, "test op", func() (int, error) {
				attempts++
				return 0, tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want %v propagated", err, tt.err)
			}
			if attempts != 1 {
				t.Errorf("attempts = %d, want 1 (no retries)", attempts)
			}
		})
	}
}

func TestWithRetryRetriesTimeouts(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	attempts := 0
	got, err := WithRetry(logger, "test op", func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, &TimeoutError{Op: "GET /x", Err: errors.New("deadline exceeded")}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("WithRetry() error: %v", err)
	}
	if got != 42 || attempts != 2 {
		t.Errorf("got %d after %d attempts, want 42 after 2", got, attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"http 408", &HTTPError{Status: 408}, true},
		{"http 429", &HTTPError{Status: 429}, true},
		{"http 500", &HTTPError{Status: 500}, true},
		{"http 400", &HTTPError{Status: 400}, false},
		{"http 404", &HTTPError{Status: 404}, false},
		{"timeout", &TimeoutError{Op: "x", Err: errors.New("t")}, true},
		{"unauthorized", &UnauthorizedError{Status: 403}, false},
		{"parse", &ParseError{Op: "x", Err: errors.New("p")}, false},
		{"credential missing", ErrCredentialMissing, false},
		{"generic", errors.New("something"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
