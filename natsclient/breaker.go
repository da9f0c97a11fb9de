package natsclient

import (
	"sync"
	"time"
)

// breaker opens after threshold consecutive failures and stays open for a
// backoff that doubles on each reopening, capped at max.
type breaker struct {
	mu        sync.Mutex
	threshold int
	max       time.Duration
	failures  int
	delay     time.Duration
	openUntil time.Time
}

func newBreaker(threshold int, max time.Duration) breaker {
	return breaker{threshold: threshold, max: max, delay: time.Second}
}

// allow reports whether an attempt may proceed at now
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !now.Before(b.openUntil)
}

// fail records a failure and reports whether the breaker opened
func (b *breaker) fail(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures < b.threshold {
		return false
	}
	b.openUntil = now.Add(b.delay)
	b.failures = 0
	b.delay = min(b.delay*2, b.max)
	return true
}

func (b *breaker) backoff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delay
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.delay = time.Second
	b.openUntil = time.Time{}
}
