// Package retry classifies transient provider failures and re-runs
// idempotent calls with exponential backoff. Streaming completions are never
// retried; a stream that breaks mid-flight surfaces as a terminal error
// chunk. Only idempotent probes (credential validation, model listing) go
// through Do.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Config controls retry behaviour for idempotent provider calls.
type Config struct {
	MaxRetries     int           `json:"maxRetries"`     // 0 = no retries
	InitialBackoff time.Duration `json:"initialBackoff"` // delay before first retry
	MaxBackoff     time.Duration `json:"maxBackoff"`     // upper bound on backoff
	Multiplier     float64       `json:"multiplier"`     // e.g. 2.0 for exponential
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Validate checks that all Config fields are within acceptable ranges.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("retry: MaxRetries must be >= 0")
	}
	if c.InitialBackoff <= 0 {
		return errors.New("retry: InitialBackoff must be > 0")
	}
	if c.MaxBackoff <= 0 {
		return errors.New("retry: MaxBackoff must be > 0")
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	return nil
}

// retryableStatusCodes are HTTP status codes that indicate a transient
// failure. Matched as substrings since they arrive wrapped in error text.
var retryableStatusCodes = []string{"429", "500", "502", "503", "504", "529"}

// sleep is swappable so tests do not wait out real backoffs.
var sleep = time.Sleep

// IsRetryable returns true when err represents a transient failure that may
// succeed on retry (5xx, 429, timeout, connection refused, EOF). Context
// errors (Canceled, DeadlineExceeded) are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()

	for _, code := range retryableStatusCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}

	if strings.Contains(msg, "connection refused") {
		return true
	}
	if strings.Contains(msg, "EOF") {
		return true
	}

	return false
}

// Do runs fn, retrying transient failures with exponential backoff. Returns
// the first successful result, or the last error once retries are exhausted
// or a non-retryable error is hit.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		sleep(backoff)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		next := time.Duration(float64(backoff) * cfg.Multiplier)
		if next > cfg.MaxBackoff {
			next = cfg.MaxBackoff
		}
		backoff = next
	}
	return zero, lastErr
}
