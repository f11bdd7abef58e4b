package transport

import (
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// RetryConfig configures transport-level retries of failed sends. Retries of
// whole operation calls are the iteration engine's job; this layer only
// repeats a single send on connection errors and retryable statuses.
type RetryConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	ShouldRetry func(resp *http.Response, err error) bool
}

// NoRetry returns a configuration that sends exactly once.
func NoRetry() RetryConfig {
	return RetryConfig{ShouldRetry: func(*http.Response, error) bool { return false }}
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		RetryDelay:  1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		ShouldRetry: RetryTransient,
	}
}

// RetryTransient retries connection errors, 5xx responses and 429.
func RetryTransient(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// backoff returns the jittered delay before the given attempt (1-based).
func (c RetryConfig) backoff(attempt int) time.Duration {
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(c.RetryDelay) * math.Pow(multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	// Add jitter (±25%)
	jitter := delay * 0.25
	delay += (rand.Float64()*2 - 1) * jitter
	return time.Duration(delay)
}
