package llm

import (
	"math"
	"math/rand"
	"time"
)

// delay returns the backoff delay before retry attempt (1-based),
// exponential with optional +/-25% jitter.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))

	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if p.Jitter {
		jitter := d * 0.25
		d = d + (rand.Float64()*2-1)*jitter
	}

	if d < float64(p.InitialDelay) {
		d = float64(p.InitialDelay)
	}

	return time.Duration(d)
}
