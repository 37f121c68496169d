// Package backoff computes the delay schedules used by the delivery
// engine: per-item retry backoff and the global rate-limit pause.
package backoff

import (
	"math/rand/v2"
	"time"
)

const (
	// RetryBase is the first retry delay.
	RetryBase = time.Second
	// RetryCap bounds the per-item retry delay.
	RetryCap = 30 * time.Second
	// retryJitterFraction spreads retry delays by +/-10%.
	retryJitterFraction = 0.10

	// PauseBase is the first rate-limit pause.
	PauseBase = 30 * time.Second
	// PauseCap bounds the rate-limit pause.
	PauseCap = 180 * time.Second
	// pauseJitterMax is the additive jitter applied to every pause.
	pauseJitterMax = 5 * time.Second
)

// Delay returns the wait before retry number attempt of a single item,
// RetryBase doubled attempt times. attempt counts completed failed
// attempts, so the first retry passes 1 and waits ~2s. The schedule
// saturates at RetryCap and is jittered by +/-10% to avoid synchronized
// retries.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := doubling(RetryBase, attempt, RetryCap)

	jitter := 1 + retryJitterFraction*(2*rand.Float64()-1)
	delay := time.Duration(float64(base) * jitter)
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return delay
}

// RateLimitPause returns the global pause after the given number of
// consecutive rate-limit responses. hits counts this response, so the
// first pause passes 1. The schedule doubles from PauseBase, saturates
// at PauseCap, and adds up to pauseJitterMax of random slack.
func RateLimitPause(hits int) time.Duration {
	if hits < 1 {
		hits = 1
	}
	base := doubling(PauseBase, hits-1, PauseCap)
	return base + rand.N(pauseJitterMax)
}

// doubling computes base * 2^exp saturating at limit.
func doubling(base time.Duration, exp int, limit time.Duration) time.Duration {
	if exp > 30 {
		return limit
	}
	d := base << uint(exp)
	if d <= 0 || d > limit {
		return limit
	}
	return d
}
