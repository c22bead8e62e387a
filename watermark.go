package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// etlLockID is the advisory lock key guarding the watermark set. A run holds
// it from extraction through load so overlapping runs cannot interleave.
const etlLockID = 0x5745_4c4c // "WELL"

// WatermarkStore persists the high-water mark per (source, table).
// Watermarks are read before extraction and advanced only by the
// orchestrator after the whole run succeeds.
type WatermarkStore struct {
	pool *pgxpool.Pool

	// lockConn pins the advisory lock to one session for the run's
	// duration; advisory locks are session-scoped so the unlock must go
	// through the same connection.
	lockConn *pgxpool.Conn
}

// NewWatermarkStore creates a watermark store backed by the warehouse
func NewWatermarkStore(pool *pgxpool.Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

// Get returns the stored watermark for a (source, table) pair.
// The second return is false when no watermark has been recorded yet.
func (s *WatermarkStore) Get(ctx context.Context, source, table string) (time.Time, bool, error) {
	var value time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT watermark_value FROM etl_watermarks
		 WHERE source_name = $1 AND table_name = $2`,
		source, table,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read watermark for %s.%s: %w", source, table, err)
	}
	return value, true, nil
}

// Advance upserts the watermark for a (source, table) pair, recording the
// run that set it. Called only after the run fully succeeds for that table.
func (s *WatermarkStore) Advance(ctx context.Context, source, table, trackingColumn string, value time.Time, runID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO etl_watermarks (source_name, table_name, tracking_column, watermark_value, last_run_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (source_name, table_name) DO UPDATE SET
			tracking_column = EXCLUDED.tracking_column,
			watermark_value = EXCLUDED.watermark_value,
			last_run_id     = EXCLUDED.last_run_id,
			updated_at      = now()`,
		source, table, trackingColumn, value, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to advance watermark for %s.%s: %w", source, table, err)
	}
	return nil
}

// AcquireRunLock takes the exclusive advisory lock for the watermark set.
// Returns an error if another run already holds it.
func (s *WatermarkStore) AcquireRunLock(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, etlLockID).Scan(&acquired); err != nil {
		conn.Release()
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return fmt.Errorf("another ETL run is already in progress")
	}

	s.lockConn = conn
	return nil
}

// ReleaseRunLock releases the advisory lock taken by AcquireRunLock
func (s *WatermarkStore) ReleaseRunLock(ctx context.Context) error {
	if s.lockConn == nil {
		return nil
	}
	defer func() {
		s.lockConn.Release()
		s.lockConn = nil
	}()
	if _, err := s.lockConn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, etlLockID); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
