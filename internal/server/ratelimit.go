package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"soulseer/internal/api"
	"soulseer/internal/clock"
	"soulseer/internal/logger"
)

// RateLimiter keeps one token bucket per client IP. It owns no goroutine
// until Start, and Stop ends the sweeper that evicts idle visitors.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	clock    clock.Clock

	cancel context.CancelFunc
	done   chan struct{}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rps float64, burst int, ttl time.Duration, clk clock.Clock) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		clock:    clk,
	}
}

// Start runs the eviction sweep every interval until Stop or ctx ends.
func (rl *RateLimiter) Start(ctx context.Context, interval time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.cancel != nil {
		return
	}
	ctx, rl.cancel = context.WithCancel(ctx)
	rl.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := rl.Sweep(); n > 0 {
					logger.Debug("rate limiter evicted idle visitors", "count", n)
				}
			}
		}
	}(rl.done)
}

func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	cancel, done := rl.cancel, rl.done
	rl.cancel, rl.done = nil, nil
	rl.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep evicts visitors idle longer than the ttl and reports how many went.
func (rl *RateLimiter) Sweep() int {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.ttl {
			delete(rl.visitors, ip)
			n++
		}
	}
	return n
}

func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func (rl *RateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (rl *RateLimiter) Allow(ip string) bool {
	return rl.getVisitor(ip).Allow()
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, api.ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
