package extract

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connector holds the shared connection pool and read policy for one source
// category. All reads are bounded by a per-query timeout and retried a small
// number of times; the queries are side-effect-free so retrying is safe.
type Connector struct {
	pool       *pgxpool.Pool
	timeout    time.Duration
	maxRetries int
}

func newConnector(pool *pgxpool.Pool, timeout time.Duration, maxRetries int) Connector {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return Connector{pool: pool, timeout: timeout, maxRetries: maxRetries}
}

// withRetry runs a read operation with the connector's timeout and retry
// policy. Context cancellation is not retried.
func (c *Connector) withRetry(ctx context.Context, what string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if attempt < c.maxRetries {
			log.Printf("Retrying %s after error (attempt %d/%d): %v", what, attempt, c.maxRetries, err)
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, c.maxRetries, lastErr)
}
