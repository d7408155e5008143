package gateway

import "time"

// SetClock replaces the limiter's time source.
func (rl *RateLimitMiddleware) SetClock(now func() time.Time) { rl.now = now }
