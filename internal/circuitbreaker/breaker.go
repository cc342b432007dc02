// Package circuitbreaker provides a per-key circuit breaker used to stop
// calling signal sources that keep failing.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are short-circuited
	StateHalfOpen              // one probe call in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "blockvest",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks consecutive failures per key. A key opens after threshold
// failures and, once cooldown has elapsed, admits a single probe.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	cooldown     time.Duration
	now          func() time.Time
	onTransition func(key string, from, to State)
}

// New creates a breaker. Non-positive arguments fall back to 5 failures
// and a 30 second cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// OnTransition sets a callback invoked asynchronously on state changes.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a call for key may proceed. An open circuit whose
// cooldown has elapsed moves to half-open and admits exactly one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) >= b.cooldown {
			b.setState(c, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess clears the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	c.failures = 0
	if c.state != StateClosed {
		b.setState(c, key, StateClosed)
	}
}

// RecordFailure counts a failure. A failed probe reopens the circuit; a
// closed circuit opens once failures reach the threshold.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	switch {
	case c.state == StateHalfOpen:
		c.openedAt = b.now()
		b.setState(c, key, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		c.openedAt = b.now()
		b.setState(c, key, StateOpen)
	}
}

// State returns the current state for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// setState must be called with b.mu held.
func (b *Breaker) setState(c *circuit, key string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	transitionsTotal.WithLabelValues(key, from.String(), to.String()).Inc()
	if fn := b.onTransition; fn != nil {
		go fn(key, from, to)
	}
}
