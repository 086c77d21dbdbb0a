package outbox

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryDelay computes the next-attempt delay for a transient failure on an
// event that has already failed attempt times, using an exponential backoff
// with jitter starting at initialInterval and capped at maxInterval.
// attempt counts from 1 (the first retry after the initial failed attempt).
func retryDelay(attempt int, initialInterval, maxInterval time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	if initialInterval > 0 {
		b.InitialInterval = initialInterval
	}

	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0 // never give up based on elapsed time; MaxAttempts governs that
	b.Reset()

	delay := b.NextBackOff()

	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}

	if delay == backoff.Stop || (maxInterval > 0 && delay > maxInterval) {
		return maxInterval
	}

	return delay
}
