// Package health runs the dependency checks behind the liveness and
// readiness endpoints.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// checkTimeout bounds a single dependency check.
const checkTimeout = 5 * time.Second

// Status is the health of one dependency. Degraded dependencies keep
// the service ready; down dependencies do not.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) Status

// Checker runs named dependency checks concurrently.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	logger zerolog.Logger
}

// NewChecker creates an empty checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunAll executes every check concurrently, each under its own timeout.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			s := f(checkCtx)
			if s != StatusOK {
				c.logger.Warn().Str("check", n).Str("status", string(s)).Msg("dependency unhealthy")
			}
			mu.Lock()
			results[n] = s
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()
	return results
}

// IsReady reports whether no dependency is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	return c.Report(ctx).Ready
}

// Report is the readiness payload.
type Report struct {
	Ready  bool              `json:"-"`
	Status string            `json:"status"`
	Checks map[string]Status `json:"checks"`
}

// Report runs every check and folds the results into one verdict.
func (c *Checker) Report(ctx context.Context) Report {
	results := c.RunAll(ctx)
	r := Report{Ready: true, Status: "ready", Checks: results}
	for _, s := range results {
		if s == StatusDown {
			r.Ready = false
			r.Status = "not_ready"
			break
		}
	}
	return r
}
