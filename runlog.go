package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunCounts aggregates the row totals reported at run completion
type RunCounts struct {
	Extracted   int64
	Transformed int64
	Loaded      int64
	Rejected    int64
}

// RunLog writes the three append-only observability logs (run, step, error).
// A run row is created at start and updated exactly once at completion; step
// and error rows are never mutated after insert.
type RunLog struct {
	pool          *pgxpool.Pool
	correlationID string
}

// NewRunLog creates a run log writer with a fresh correlation id
func NewRunLog(pool *pgxpool.Pool) *RunLog {
	return &RunLog{
		pool:          pool,
		correlationID: uuid.NewString(),
	}
}

// CorrelationID returns the correlation id stamped on this run's error rows
func (l *RunLog) CorrelationID() string {
	return l.correlationID
}

// StartRun inserts the run row and returns its id
func (l *RunLog) StartRun(ctx context.Context, mode string) (int64, error) {
	var runID int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO etl_run_log (mode, status, started_at)
		 VALUES ($1, $2, now())
		 RETURNING run_id`,
		mode, string(StateExtracting),
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("failed to create run log entry: %w", err)
	}
	return runID, nil
}

// CompleteRun records the terminal status and row totals for a run
func (l *RunLog) CompleteRun(ctx context.Context, runID int64, status RunState, counts RunCounts, errMsg string) error {
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	_, err := l.pool.Exec(ctx,
		`UPDATE etl_run_log SET
			status = $2, completed_at = now(),
			rows_extracted = $3, rows_transformed = $4,
			rows_loaded = $5, rows_rejected = $6,
			error_message = $7
		 WHERE run_id = $1`,
		runID, string(status),
		counts.Extracted, counts.Transformed, counts.Loaded, counts.Rejected, msg,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run log entry: %w", err)
	}
	return nil
}

// LogStep appends a step row and returns its id for error correlation
func (l *RunLog) LogStep(ctx context.Context, runID int64, name, stepType, status string,
	processed, inserted, rejected int64, duration time.Duration, errMsg string) (int64, error) {

	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	var stepID int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO etl_step_log
			(run_id, step_name, step_type, status, rows_processed,
			 rows_inserted, rows_rejected, duration_seconds, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING step_id`,
		runID, name, stepType, status, processed, inserted, rejected,
		duration.Seconds(), msg,
	).Scan(&stepID)
	if err != nil {
		return 0, fmt.Errorf("failed to log step %s: %w", name, err)
	}
	return stepID, nil
}

// LogError appends one error row. Failures here are logged and swallowed so
// a broken error sink cannot take the run down with it.
func (l *RunLog) LogError(ctx context.Context, runID, stepID int64,
	errType, code, severity, message, entity, recordKey string) {

	var step *int64
	if stepID > 0 {
		step = &stepID
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO etl_error_log
			(run_id, step_id, error_type, error_code, severity, message,
			 source_entity, source_record_key, correlation_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		runID, step, errType, code, severity, message, entity, recordKey, l.correlationID,
	)
	if err != nil {
		log.Printf("Failed to write error log row (%s/%s): %v", errType, code, err)
	}
}
