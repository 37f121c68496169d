package backoff_test

import (
	"testing"
	"time"

	"courier/internal/backoff"
)

func TestDelayGrowsAndSaturates(t *testing.T) {
	cases := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tc := range cases {
		for range 50 {
			got := backoff.Delay(tc.attempt)
			lo := time.Duration(float64(tc.base) * 0.9)
			hi := time.Duration(float64(tc.base) * 1.1)
			if got < lo || got > hi {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", tc.attempt, got, lo, hi)
			}
		}
	}
}

func TestDelayClampsAttempt(t *testing.T) {
	for _, attempt := range []int{-3, 0} {
		got := backoff.Delay(attempt)
		if got < 900*time.Millisecond || got > 1100*time.Millisecond {
			t.Fatalf("Delay(%d) = %v, want near 1s", attempt, got)
		}
	}
}

func TestDelayNeverExceedsJitteredCap(t *testing.T) {
	limit := 30 * time.Second
	upper := limit + limit/10
	for attempt := 1; attempt < 64; attempt++ {
		if got := backoff.Delay(attempt); got <= 0 || got > upper {
			t.Fatalf("Delay(%d) = %v, want (0, %v]", attempt, got, upper)
		}
	}
}

func TestRateLimitPauseTiers(t *testing.T) {
	cases := []struct {
		hits int
		base time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 180 * time.Second},
		{9, 180 * time.Second},
	}

	for _, tc := range cases {
		for range 50 {
			got := backoff.RateLimitPause(tc.hits)
			if got < tc.base || got >= tc.base+5*time.Second {
				t.Fatalf("RateLimitPause(%d) = %v, want [%v, %v)", tc.hits, got, tc.base, tc.base+5*time.Second)
			}
		}
	}
}

func TestRateLimitPauseClampsHits(t *testing.T) {
	got := backoff.RateLimitPause(0)
	if got < 30*time.Second || got >= 35*time.Second {
		t.Fatalf("RateLimitPause(0) = %v, want first tier", got)
	}
}
