package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/metrics"
	"golang.org/x/time/rate"
)

// limitKey prefers the authenticated subject (NAT-friendly per-user
// limiting) and falls back to the client IP.
func limitKey(c *gin.Context) string {
	if sub := UserID(c); sub != "" {
		return "sub:" + sub
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// limiterIdleTTL is how long a key's bucket survives without requests.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// memoryLimiter holds one token bucket per key and sweeps idle keys at most
// once per ttl.
type memoryLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newMemoryLimiter(rps float64, burst int, ttl time.Duration, now func() time.Time) *memoryLimiter {
	return &memoryLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		ttl:       ttl,
		now:       now,
		entries:   map[string]*limiterEntry{},
		lastSweep: now(),
	}
}

func (m *memoryLimiter) allow(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.now()
	if ts.Sub(m.lastSweep) >= m.ttl {
		for k, e := range m.entries {
			if ts.Sub(e.lastSeen) >= m.ttl {
				delete(m.entries, k)
			}
		}
		m.lastSweep = ts
	}
	e, ok := m.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(m.rps, m.burst)}
		m.entries[key] = e
	}
	e.lastSeen = ts
	return e.limiter.AllowN(ts, 1)
}

func (m *memoryLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RateLimitMiddleware returns a Gin middleware enforcing a token-bucket per-key limit.
// rps = allowed events per second, burst = maximum tokens in bucket. Buckets
// idle for limiterIdleTTL are dropped.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	return rateLimitHandler(newMemoryLimiter(rps, burst, limiterIdleTTL, time.Now))
}

func rateLimitHandler(l *memoryLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(limitKey(c)) {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		c.Next()
	}
}
