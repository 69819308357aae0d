package devserver

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket. Allow never blocks: a request either takes a
// token or is refused.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
	now      func() time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	rl := &RateLimiter{
		tokens: float64(maxBurst),
		max:    float64(maxBurst),
		rate:   ratePerMinute / 60.0,
		now:    time.Now,
	}
	rl.lastTime = rl.now()
	return rl
}

// Allow takes one token if available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

// RetryAfter estimates how long until the next token is available.
func (rl *RateLimiter) RetryAfter() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	missing := 1.0 - rl.tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / rl.rate * float64(time.Second))
}

// idle reports whether the bucket has been untouched for longer than d.
func (rl *RateLimiter) idle(d time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.now().Sub(rl.lastTime) > d
}

// clientLimiters keeps one bucket per client address.
type clientLimiters struct {
	mu         sync.Mutex
	buckets    map[string]*RateLimiter
	burst      int
	perMinute  float64
	lastSweep  time.Time
	sweepEvery time.Duration
}

func newClientLimiters(burst int, perMinute float64) *clientLimiters {
	return &clientLimiters{
		buckets:    make(map[string]*RateLimiter),
		burst:      burst,
		perMinute:  perMinute,
		lastSweep:  time.Now(),
		sweepEvery: 10 * time.Minute,
	}
}

func (c *clientLimiters) get(key string) *RateLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastSweep) > c.sweepEvery {
		for k, b := range c.buckets {
			if b.idle(c.sweepEvery) {
				delete(c.buckets, k)
			}
		}
		c.lastSweep = time.Now()
	}

	b, ok := c.buckets[key]
	if !ok {
		b = NewRateLimiter(c.burst, c.perMinute)
		c.buckets[key] = b
	}
	return b
}
