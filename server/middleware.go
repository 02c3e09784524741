package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/hupe1980/agentweave/logging"
)

// clientLimiter keeps one token bucket per client address. Idle buckets are
// pruned so the map does not grow with one-off clients.
type clientLimiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastPrune time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		ttl:       10 * time.Minute,
		clients:   make(map[string]*clientBucket),
		lastPrune: time.Now(),
	}
}

func (l *clientLimiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastPrune) > l.ttl {
		for key, bucket := range l.clients {
			if now.Sub(bucket.lastSeen) > l.ttl {
				delete(l.clients, key)
			}
		}
		l.lastPrune = now
	}

	bucket, ok := l.clients[client]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = bucket
	}
	bucket.lastSeen = now

	return bucket.limiter.Allow()
}

// rateLimitMiddleware rejects clients that exceed their token bucket.
func rateLimitMiddleware(limiter *clientLimiter, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			logger.Warn("http.rate_limited", "client_ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorEnvelope("rate limit exceeded"))
			return
		}

		c.Next()
	}
}

// requestLogMiddleware logs one line per request after it completes.
func requestLogMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("http.request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// recoveryMiddleware converts panics into the JSON error envelope instead of
// gin's default HTML page.
func recoveryMiddleware(logger logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("http.panic", "panic", recovered, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorEnvelope("internal server error"))
	})
}
