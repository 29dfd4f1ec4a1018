package resilience

import (
	"math"
	"time"
)

// maxShift bounds the exponent; delays stop growing after 2^30 * Initial.
const maxShift = 30

// Backoff computes capped exponential delays without jitter. Max <= 0 leaves
// the delay uncapped.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before attempt n (1-indexed): min(Initial*2^(n-1), Max).
// Attempts below 1 are treated as the first attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Initial <= 0 {
		return 0
	}
	shift := min(attempt-1, maxShift)
	limit := b.Max
	if limit <= 0 {
		limit = math.MaxInt64
	}
	// Compare before shifting so Initial<<shift cannot wrap.
	if b.Initial > limit>>shift {
		return limit
	}
	return b.Initial << shift
}
