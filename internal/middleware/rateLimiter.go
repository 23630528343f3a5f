package middleware

import (
	"sync/atomic"
	"time"
)

// RateLimiter is a lock-free token bucket: one token is added every rate up
// to burst, and Allow spends one.
type RateLimiter struct {
	token    int32
	rate     time.Duration
	burst    int32
	lastTick int64
}

func NewRatelimiter(burst int32, rate time.Duration) *RateLimiter {
	return &RateLimiter{
		token:    burst,
		rate:     rate,
		lastTick: time.Now().UnixNano(),
		burst:    burst,
	}
}

func (l *RateLimiter) Allow() bool {
	now := time.Now().UnixNano()

	last := atomic.LoadInt64(&l.lastTick)

	elapsed := now - last

	generated := int32(elapsed / int64(l.rate))

	if generated > 0 {
		// Advance by whole intervals only so partial progress is kept.
		next := last + int64(generated)*int64(l.rate)
		if atomic.CompareAndSwapInt64(&l.lastTick, last, next) {
			for {
				current := atomic.LoadInt32(&l.token)
				newBalance := current + generated
				if newBalance > l.burst {
					newBalance = l.burst
				}
				if atomic.CompareAndSwapInt32(&l.token, current, newBalance) {
					break
				}
			}
		}
	}

	for {
		current := atomic.LoadInt32(&l.token)

		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.token, current, current-1) {
			return true
		}
	}
}
