package http

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultRateLimit  = 60
	defaultRateWindow = time.Minute
)

// rateLimiter counts requests per client IP in fixed windows. A client's
// window opens with its first request and lasts rl.window.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	counters map[string]*windowCounter

	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type windowCounter struct {
	opened time.Time
	seen   time.Time
	count  int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	rl := &rateLimiter{
		limit:       limit,
		window:      window,
		counters:    make(map[string]*windowCounter),
		stopCleanup: make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// idleAfter is how long a counter may sit unused before it is dropped.
func (rl *rateLimiter) idleAfter() time.Duration {
	return 10 * rl.window
}

func (rl *rateLimiter) sweepLoop() {
	ticker := time.NewTicker(5 * rl.window)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			rl.sweep(now)
		case <-rl.stopCleanup:
			return
		}
	}
}

// sweep drops counters idle for longer than idleAfter and returns how many
// went.
func (rl *rateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	dropped := 0
	for ip, c := range rl.counters {
		if now.Sub(c.seen) > rl.idleAfter() {
			delete(rl.counters, ip)
			dropped++
		}
	}
	return dropped
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// allow records a request from clientIP at now. When the client is over the
// limit it returns false and the time left until its window resets.
func (rl *rateLimiter) allow(clientIP string, now time.Time, metrics *securityMetrics) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.counters[clientIP]
	if !ok || now.Sub(c.opened) >= rl.window {
		rl.counters[clientIP] = &windowCounter{opened: now, seen: now, count: 1}
		return true, 0
	}

	c.seen = now
	c.count++
	if c.count <= rl.limit {
		return true, 0
	}

	if metrics != nil {
		atomic.AddInt64(&metrics.rateLimitHits, 1)
	}
	return false, c.opened.Add(rl.window).Sub(now)
}
