// Package breaker implements per-subagent circuit breakers. A breaker
// trips after consecutive failures so a struggling upstream stops
// receiving traffic, then lets a single probe through after a cooldown.
package breaker

import (
	"sync"
	"time"
)

// Status is the breaker state for one subagent identity.
type Status int

const (
	// StatusClosed allows all calls.
	StatusClosed Status = iota
	// StatusOpen short-circuits all calls until the cooldown elapses.
	StatusOpen
	// StatusHalfOpen allows exactly one probe call.
	StatusHalfOpen
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusOpen:
		return "open"
	case StatusHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before allowing a
	// half-open probe.
	Cooldown time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

type entry struct {
	status        Status
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// Registry tracks one breaker per subagent identity. Process-wide and
// shared across requests; all methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	entries map[string]*entry

	// onTransition, if set, observes state changes (for metrics/logs).
	onTransition func(identity string, from, to Status)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithTransitionHook observes every state change.
func WithTransitionHook(fn func(identity string, from, to Status)) Option {
	return func(r *Registry) { r.onTransition = fn }
}

// NewRegistry creates a Registry with the given thresholds.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	r := &Registry{
		cfg:     cfg,
		clock:   SystemClock(),
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) get(identity string) *entry {
	e, ok := r.entries[identity]
	if !ok {
		e = &entry{status: StatusClosed}
		r.entries[identity] = e
	}
	return e
}

func (r *Registry) transition(identity string, e *entry, to Status) {
	from := e.status
	if from == to {
		return
	}
	e.status = to
	if r.onTransition != nil {
		r.onTransition(identity, from, to)
	}
}

// Allow reports whether a call for identity may proceed. An open breaker
// whose cooldown has elapsed moves to half-open and admits one probe;
// further calls are rejected until the probe resolves.
func (r *Registry) Allow(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(identity)
	switch e.status {
	case StatusClosed:
		return true
	case StatusOpen:
		if r.clock.Now().Sub(e.openedAt) < r.cfg.Cooldown {
			return false
		}
		r.transition(identity, e, StatusHalfOpen)
		e.probeInFlight = true
		return true
	case StatusHalfOpen:
		if e.probeInFlight {
			return false
		}
		e.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess resets the breaker after a successful call.
func (r *Registry) RecordSuccess(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(identity)
	e.failures = 0
	e.probeInFlight = false
	r.transition(identity, e, StatusClosed)
}

// RecordFailure counts a failed call. Reaching the threshold opens the
// breaker; a failed half-open probe re-opens it immediately.
func (r *Registry) RecordFailure(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(identity)
	switch e.status {
	case StatusHalfOpen:
		e.probeInFlight = false
		e.openedAt = r.clock.Now()
		r.transition(identity, e, StatusOpen)
	case StatusClosed:
		e.failures++
		if e.failures >= r.cfg.FailureThreshold {
			e.openedAt = r.clock.Now()
			r.transition(identity, e, StatusOpen)
		}
	case StatusOpen:
		// Rejected calls are not failures; nothing to count.
	}
}

// Status returns the current state for identity.
func (r *Registry) Status(identity string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(identity).status
}

// Failures returns the consecutive-failure count for identity.
func (r *Registry) Failures(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(identity).failures
}

// Snapshot returns the status of every tracked identity.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.status
	}
	return out
}
