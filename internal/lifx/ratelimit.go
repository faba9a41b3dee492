package lifx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ErrRateLimited is returned when the cloud quota is exhausted. New dispatches
// fail fast instead of queuing; use RetryAfter from the wrapping RateLimitError.
var ErrRateLimited = errors.New("lifx: rate limited")

// RateLimitError carries the time until the quota window resets
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("lifx: rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// QuotaTracker tracks the remaining request quota reported by the LIFX cloud
// via X-RateLimit-Remaining / X-RateLimit-Reset response headers.
type QuotaTracker struct {
	mu        sync.Mutex
	max       int
	remaining int
	resetAt   time.Time

	now func() time.Time // overridable in tests
}

// NewQuotaTracker creates a tracker that assumes max requests are available
// until the first response headers say otherwise.
func NewQuotaTracker(max int) *QuotaTracker {
	return &QuotaTracker{
		max:       max,
		remaining: max,
		now:       time.Now,
	}
}

// UpdateFromHeaders records the quota metadata from a cloud response
func (t *QuotaTracker) UpdateFromHeaders(h http.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.resetAt = time.Unix(unix, 0)
		}
	}
}

// Reserve checks whether a request may be dispatched. When the quota is
// exhausted it returns a RateLimitError without blocking.
func (t *QuotaTracker) Reserve() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.After(t.resetAt) {
		// Window rolled over; assume a fresh quota until headers tell us more
		t.remaining = t.max
		return nil
	}
	if t.remaining > 0 {
		return nil
	}
	return &RateLimitError{RetryAfter: t.resetAt.Sub(now)}
}

// Remaining returns the currently known remaining quota
func (t *QuotaTracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}
