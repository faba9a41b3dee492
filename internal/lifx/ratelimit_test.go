package lifx

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headersWith(remaining int, reset time.Time) http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	return h
}

func TestQuotaReserveBeforeFirstResponse(t *testing.T) {
	// Until headers arrive the window is unknown and dispatch is allowed
	q := NewQuotaTracker(2)

	require.NoError(t, q.Reserve())
	require.NoError(t, q.Reserve())
	require.NoError(t, q.Reserve())
}

func TestQuotaExhaustedFailsFast(t *testing.T) {
	q := NewQuotaTracker(120)
	reset := time.Now().Add(45 * time.Second)

	q.UpdateFromHeaders(headersWith(0, reset))

	err := q.Reserve()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, 40*time.Second)
}

func TestQuotaUpdateFromHeaders(t *testing.T) {
	q := NewQuotaTracker(120)
	reset := time.Now().Add(time.Minute)

	q.UpdateFromHeaders(headersWith(5, reset))
	assert.Equal(t, 5, q.Remaining())

	q.UpdateFromHeaders(headersWith(0, reset))
	assert.ErrorIs(t, q.Reserve(), ErrRateLimited)
}

func TestQuotaWindowRollover(t *testing.T) {
	q := NewQuotaTracker(120)
	now := time.Now()
	q.now = func() time.Time { return now }

	q.UpdateFromHeaders(headersWith(0, now.Add(30*time.Second)))
	assert.ErrorIs(t, q.Reserve(), ErrRateLimited)

	// Once the reset passes, the full quota is assumed again
	now = now.Add(31 * time.Second)
	assert.NoError(t, q.Reserve())
}

func TestQuotaIgnoresMissingHeaders(t *testing.T) {
	q := NewQuotaTracker(120)
	q.UpdateFromHeaders(http.Header{})
	assert.Equal(t, 120, q.Remaining())
}

func TestRateLimitErrorUnwraps(t *testing.T) {
	err := &RateLimitError{RetryAfter: 10 * time.Second}
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "10s")
}
