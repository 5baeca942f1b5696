package relay

import (
	"sync"
	"time"
)

// tokenBucket implements the per-source rate limiter of spec §4.D step 2:
// refill = elapsed * rate, clamped to burst; consuming one token fails
// when the bucket is empty.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(rate, burst float64) *tokenBucket {
	return &tokenBucket{rate: rate, burst: burst, tokens: burst, lastRefill: time.Now()}
}

// allow attempts to consume one token, returning true if successful.
func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}
