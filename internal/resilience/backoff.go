package resilience

import (
	"math/rand"
	"time"
)

// maxBackoffShift bounds the exponent so the delay cannot overflow.
const maxBackoffShift = 20

// Backoff returns base doubled for every attempt after the first. jitterPct
// spreads the result by up to that fraction either way (0.2 is ±20%).
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := base << shift
	if jitterPct <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * float64(d) * jitterPct
	return d + time.Duration(delta)
}
