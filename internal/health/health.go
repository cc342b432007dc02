// Package health provides a registry of named subsystem health checkers.
package health

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCheckTimeout bounds a single ping-style checker.
const DefaultCheckTimeout = 2 * time.Second

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		if statuses[i].Name == "" {
			statuses[i].Name = nc.name
		}
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}

// PingChecker turns a ping function into a Checker bounded by timeout.
func PingChecker(name string, timeout time.Duration, ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := ping(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Postgres checks the database connection pool.
func Postgres(db *sql.DB) Checker {
	return PingChecker("postgres", DefaultCheckTimeout, db.PingContext)
}

// Redis checks the Redis connection.
func Redis(client redis.UniversalClient) Checker {
	return PingChecker("redis", DefaultCheckTimeout, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}
