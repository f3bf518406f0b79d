package mcp

import (
	"fmt"
	"sync"
	"time"
)

// limiter is a token bucket. It is safe for concurrent use.
type limiter struct {
	mu        sync.Mutex
	rate      float64 // tokens per second
	burst     float64 // capacity, and the initial token count
	tokens    float64
	lastCheck time.Time
	now       func() time.Time
}

func newLimiter(rate float64, burst int) *limiter {
	return &limiter{rate: rate, burst: float64(burst), tokens: float64(burst), now: time.Now}
}

// allow takes one token if available.
func (l *limiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.lastCheck.IsZero() {
		if elapsed := now.Sub(l.lastCheck).Seconds(); elapsed > 0 {
			l.tokens = min(l.burst, l.tokens+l.rate*elapsed)
		}
	}
	l.lastCheck = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// toolLimiters maps tool names to their buckets.
type toolLimiters map[string]*limiter

// newToolLimiters sizes buckets by cost: a full simulation is far heavier
// than counting or explaining one scenario.
func newToolLimiters() toolLimiters {
	return toolLimiters{
		toolCount:    newLimiter(1.0, 10),      // 60/minute, burst 10
		toolMatrix:   newLimiter(1.0, 10),      // 60/minute, burst 10
		toolSimulate: newLimiter(6.0/60.0, 2), // 6/minute, burst 2
	}
}

// check returns an error when tool is over its limit. Tools without a
// bucket are never limited.
func (tl toolLimiters) check(tool string) error {
	l, ok := tl[tool]
	if !ok {
		return nil
	}
	if !l.allow() {
		return fmt.Errorf("rate limit exceeded for %s, please try again shortly", tool)
	}
	return nil
}
