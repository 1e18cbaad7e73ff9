// Package backoff computes retry delays for queued webhook deliveries.
// Policies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"time"
)

// Policy maps a retry count to the delay before the next delivery attempt.
// Delay(0) is the minimum delay applied to a freshly enqueued entry.
type Policy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// NewPolicy creates an exponential backoff policy.
// Delay = min(Base * Multiplier^retryCount, Max).
func NewPolicy(base time.Duration, multiplier float64, maxDelay time.Duration) Policy {
	return Policy{Base: base, Multiplier: multiplier, Max: maxDelay}
}

// Default returns the policy used when nothing is configured:
// 30s base, doubling, capped at 30m.
func Default() Policy {
	return NewPolicy(30*time.Second, 2, 30*time.Minute)
}

// Delay returns the delay before attempt retryCount+1. It is deterministic
// and non-decreasing in retryCount, constant once the cap is reached.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	d := time.Duration(float64(p.Base) * math.Pow(p.Multiplier, float64(retryCount)))
	if d < 0 || (p.Max > 0 && d > p.Max) {
		// Negative means the float64 product overflowed time.Duration.
		return p.Max
	}

	return d
}
