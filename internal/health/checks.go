package health

import (
	"context"
	"database/sql"

	"github.com/knearme/showcase/internal/breaker"
)

// Database is the slice of the store readiness needs.
type Database interface {
	DB() *sql.DB
	DBSizeBytes() (int64, error)
}

// DatabaseCheck pings the store. A database that answers but has grown
// past warnBytes reports degraded; warnBytes <= 0 disables the size
// check.
func DatabaseCheck(db Database, warnBytes int64) CheckFunc {
	return func(ctx context.Context) Status {
		if err := db.DB().PingContext(ctx); err != nil {
			return StatusDown
		}
		if warnBytes > 0 {
			if size, err := db.DBSizeBytes(); err == nil && size > warnBytes {
				return StatusDegraded
			}
		}
		return StatusOK
	}
}

// BreakerCheck reports degraded while any subagent circuit is open. The
// engine still serves turns through the compositor, so an open circuit
// never takes readiness down.
func BreakerCheck(reg *breaker.Registry) CheckFunc {
	return func(context.Context) Status {
		for _, st := range reg.Snapshot() {
			if st == breaker.StatusOpen {
				return StatusDegraded
			}
		}
		return StatusOK
	}
}

// ProviderCheck reports degraded when no model provider is configured
// and every turn falls through to the compositor.
func ProviderCheck(configured bool) CheckFunc {
	return func(context.Context) Status {
		if !configured {
			return StatusDegraded
		}
		return StatusOK
	}
}
