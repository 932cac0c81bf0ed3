package session

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectBackoff computes the delay between reconnect attempts: an
// exponential backoff capped at a configured maximum, plus additive uniform
// jitter. The exponential curve itself is delegated to backoff.
// ExponentialBackOff with RandomizationFactor left at zero, since the
// jitter here is additive rather than the library's multiplicative
// randomization.
type reconnectBackoff struct {
	eb     *backoff.ExponentialBackOff
	jitter time.Duration
}

func newReconnectBackoff(initial, max, jitter time.Duration) *reconnectBackoff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = max
	eb.Multiplier = 1.7
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0 // never stop retrying
	eb.Reset()
	return &reconnectBackoff{eb: eb, jitter: jitter}
}

// next returns the delay to sleep before the next reconnect attempt, and
// advances the underlying exponential curve.
func (r *reconnectBackoff) next() time.Duration {
	d := r.eb.NextBackOff()
	if d == backoff.Stop {
		d = r.eb.MaxInterval
	}
	if r.jitter > 0 {
		d += time.Duration(rand.Int64N(int64(r.jitter) + 1))
	}
	return d
}

// reset restores the backoff to its initial interval, called after a
// session connects successfully.
func (r *reconnectBackoff) reset() {
	r.eb.Reset()
}
