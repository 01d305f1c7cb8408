package llm

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter combines a request-rate limiter with a fixed-window token
// budget. It is owned by the provider actor and only touched from inside
// its mailbox, so it needs no locking of its own.
type rateLimiter struct {
	requests *rate.Limiter

	tokensPerMinute int
	windowStart     time.Time
	tokensInWindow  int

	now func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	l := &rateLimiter{
		tokensPerMinute: cfg.TokensPerMinute,
		now:             time.Now,
	}
	if cfg.RequestsPerMinute > 0 {
		// Burst of one: requests are admitted at a steady per-minute pace
		// rather than in bursts that upstream providers would reject.
		l.requests = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return l
}

// reserve admits a request costing estTokens, or reports how long the
// caller should wait before asking again. Token budget is checked first so
// a token-exhausted request does not consume a request slot.
func (l *rateLimiter) reserve(estTokens int) (time.Duration, bool) {
	now := l.now()

	if l.tokensPerMinute > 0 {
		if now.Sub(l.windowStart) >= time.Minute {
			l.windowStart = now
			l.tokensInWindow = 0
		}
		if l.tokensInWindow+estTokens > l.tokensPerMinute {
			wait := time.Minute - now.Sub(l.windowStart)
			if wait < 0 {
				wait = 0
			}
			return wait, false
		}
	}

	if l.requests != nil {
		r := l.requests.ReserveN(now, 1)
		if !r.OK() {
			return time.Minute, false
		}
		if d := r.DelayFrom(now); d > 0 {
			r.CancelAt(now)
			return d, false
		}
	}

	l.tokensInWindow += estTokens
	return 0, true
}
