// Package ratelimit provides per-client rate limiting middleware for the risk API.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerSecond is the sustained rate per client IP
	RequestsPerSecond float64
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to drop idle clients
	CleanupInterval time.Duration
	// IdleTTL is how long a client may stay silent before its bucket is dropped
	IdleTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 100,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
		IdleTTL:           2 * time.Minute,
	}
}

// Limiter tracks one token bucket per key
type Limiter struct {
	cfg      Config
	mu       sync.Mutex
	clients  map[string]*clientState
	stop     chan struct{}
	stopOnce sync.Once
}

type clientState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a new rate limiter and starts its cleanup loop
func New(cfg Config) *Limiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup removes idle entries periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.prune(time.Now().Add(-l.cfg.IdleTTL))
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) prune(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, state := range l.clients {
		if state.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow checks if a request for key should be allowed
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	state, exists := l.clients[key]
	if !exists {
		state = &clientState{
			limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.BurstSize),
		}
		l.clients[key] = state
	}
	state.lastSeen = time.Now()
	l.mu.Unlock()

	return state.limiter.Allow()
}

// Middleware returns a Gin middleware that rate limits by client IP
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			return
		}

		c.Next()
	}
}
