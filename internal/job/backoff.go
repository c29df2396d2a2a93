package job

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before a failed job becomes eligible again:
// min(Base * 2^(attempts-1), Cap), plus a bounded random offset of up to
// Jitter to spread re-claims and avoid a thundering herd. Stateless and safe
// for concurrent use.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration
}

// DefaultBackoff returns the backoff used when none is configured:
// 1s doubling up to 5m, with up to 1s of jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   time.Second,
		Cap:    5 * time.Minute,
		Jitter: time.Second,
	}
}

// Delay returns the wait before retry given the number of attempts already
// made (1-indexed; attempt 1 is the first failure).
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	d := time.Duration(float64(b.Base) * math.Pow(2, float64(attempts-1)))
	// Overflow from the float conversion shows up as a negative duration.
	if b.Cap > 0 && (d > b.Cap || d < 0) {
		d = b.Cap
	}

	if b.Jitter > 0 {
		d += rand.N(b.Jitter)
	}
	return d
}
