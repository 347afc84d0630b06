package worker

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff spaces retries 1s, 2s, 4s, ... capped at one minute,
// with 0-250ms jitter to avoid thundering herds.
func ExponentialBackoff(attempt int) time.Duration {
	base := time.Second

	capDelay := time.Minute

	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay {
		delay = capDelay
	}

	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
