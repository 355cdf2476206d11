package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy names accepted by Compute. Unknown names fall back to exp_full_jitter.
const (
	Fixed          = "fixed"
	Linear         = "linear"
	Exponential    = "exponential"
	ExpEqualJitter = "exp_equal_jitter"
	ExpFullJitter  = "exp_full_jitter"
)

// Compute returns the delay before retry number attempts (0-based) for the
// given policy, capped at ceiling.
func Compute(policy string, base, ceiling time.Duration, attempts int, rng *rand.Rand) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if ceiling <= 0 {
		ceiling = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case Fixed:
		return minDuration(base, ceiling)
	case Linear:
		return minDuration(base*time.Duration(maxInt(1, attempts)), ceiling)
	case Exponential:
		return exponential(base, ceiling, attempts)
	case ExpEqualJitter:
		ceil := exponential(base, ceiling, attempts)
		half := ceil / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default:
		ceil := exponential(base, ceiling, attempts)
		if ceil <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(ceil) + 1))
	}
}

func exponential(base, ceiling time.Duration, attempts int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempts))
	if d >= float64(ceiling) || math.IsInf(d, 0) {
		return ceiling
	}
	return time.Duration(d)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
