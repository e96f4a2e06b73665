package http

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter caps accepted requests per minute. A zero limit disables it.
type rateLimiter struct {
	lim *rate.Limiter
}

func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		return &rateLimiter{}
	}
	return &rateLimiter{
		lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

// allow reports whether a request may proceed and, if not, how long the
// caller should wait before retrying.
func (r *rateLimiter) allow() (bool, time.Duration) {
	if r == nil || r.lim == nil {
		return true, 0
	}
	res := r.lim.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}
