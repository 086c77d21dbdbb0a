package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryDelayNeverExceedsCap(t *testing.T) {
	initialInterval := 100 * time.Millisecond
	maxInterval := 2 * time.Second

	for attempt := 1; attempt <= 20; attempt++ {
		delay := retryDelay(attempt, initialInterval, maxInterval)
		require.LessOrEqual(t, delay, maxInterval, "attempt %d exceeded cap", attempt)
		require.Greater(t, delay, time.Duration(0))
	}
}

func TestRetryDelayGrowsWithAttempts(t *testing.T) {
	initialInterval := time.Second
	maxInterval := time.Minute

	first := retryDelay(1, initialInterval, maxInterval)
	later := retryDelay(10, initialInterval, maxInterval)

	require.Greater(t, later, first, "backoff should grow with attempt count before hitting the cap")
}

func TestRetryDelayHonorsInitialInterval(t *testing.T) {
	small := retryDelay(1, 10*time.Millisecond, time.Minute)
	large := retryDelay(1, time.Second, time.Minute)

	require.Less(t, small, large, "a larger initial interval should produce a larger first delay")
}
