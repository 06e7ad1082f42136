package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackoff builds the exponential schedule for a Policy. A zero
// MaxElapsedTime bounds attempts by count alone.
func newBackoff(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}
