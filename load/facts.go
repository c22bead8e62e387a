package load

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Loan fact event types. A loan yields an origination event and, once its
// status dimension entry is terminal, a status-change event.
const (
	EventOrigination  = "origination"
	EventStatusChange = "status_change"
)

// FactResult reports a fact load outcome. UnresolvedBorrowers lists the
// valid staged loans whose borrower has no current user dimension row; they
// cannot be loaded this run and the caller must surface each one.
type FactResult struct {
	Loaded              int64
	Skipped             int64
	UnresolvedBorrowers []int64
}

// FactLoader performs the set-based insert from staging into the
// date-partitioned fact table. Facts are append-only: the existence check on
// the natural (loan_id, event_type) pair makes re-runs idempotent, and a
// fact keeps whichever dimension version was current at load time even after
// that version is later closed.
type FactLoader struct {
	pool *pgxpool.Pool
}

// NewFactLoader creates a fact loader
func NewFactLoader(pool *pgxpool.Pool) *FactLoader {
	return &FactLoader{pool: pool}
}

const factInsertColumns = `
	(loan_id, event_type, event_date, date_key, user_key, status_key,
	 currency_key, principal_amount, principal_usd, interest_amount,
	 total_amount, interest_rate, benchmark_spread, outstanding_balance,
	 fx_rate, term_months, run_id)`

const factStagingJoin = `
	FROM etl_staging_loan s
	JOIN dim_user du
		ON du.user_id = s.borrower_id AND du.is_current
	LEFT JOIN dim_loan_status ds
		ON ds.status_code = s.status
	LEFT JOIN dim_currency dc
		ON dc.currency_code = s.currency_code
	WHERE s.run_id = $1 AND s.is_valid`

// LoadLoanFacts inserts the run's valid staged loans as fact rows, skipping
// any (loan_id, event_type) pair that already exists
func (f *FactLoader) LoadLoanFacts(ctx context.Context, runID int64) (FactResult, error) {
	var result FactResult

	if err := f.ensurePartitions(ctx, runID); err != nil {
		return result, err
	}

	// Valid staged loans whose borrower never resolved to a current user
	// dimension row fall out of the joins below; report them so no valid
	// record disappears without an audit trail.
	unresolved, err := f.unresolvedBorrowers(ctx, runID)
	if err != nil {
		return result, err
	}
	result.UnresolvedBorrowers = unresolved

	// Origination events: every valid staged loan is a candidate.
	var candidates int64
	err = f.pool.QueryRow(ctx,
		`SELECT COUNT(*) `+factStagingJoin, runID,
	).Scan(&candidates)
	if err != nil {
		return result, fmt.Errorf("failed to count fact candidates: %w", err)
	}

	originated, err := f.pool.Exec(ctx, `
		INSERT INTO fact_loan_transactions `+factInsertColumns+`
		SELECT s.loan_id, '`+EventOrigination+`', s.event_date, s.date_key,
			du.user_key, ds.status_key, dc.currency_key,
			s.principal_amount, s.principal_usd, s.interest_amount,
			s.total_amount, s.interest_rate, s.benchmark_spread,
			s.outstanding_balance, s.fx_rate, s.term_months, $1
		`+factStagingJoin+`
		  AND NOT EXISTS (
			SELECT 1 FROM fact_loan_transactions f
			WHERE f.loan_id = s.loan_id AND f.event_type = '`+EventOrigination+`')`,
		runID)
	if err != nil {
		return result, fmt.Errorf("failed to load origination facts: %w", err)
	}
	result.Loaded += originated.RowsAffected()
	result.Skipped += candidates - originated.RowsAffected()

	// Status-change events for loans whose status is terminal. Terminality
	// comes from the status dimension, so new terminal statuses need no
	// code change.
	var terminalCandidates int64
	err = f.pool.QueryRow(ctx,
		`SELECT COUNT(*) `+factStagingJoin+` AND ds.is_terminal`, runID,
	).Scan(&terminalCandidates)
	if err != nil {
		return result, fmt.Errorf("failed to count status-change candidates: %w", err)
	}

	statusChanged, err := f.pool.Exec(ctx, `
		INSERT INTO fact_loan_transactions `+factInsertColumns+`
		SELECT s.loan_id, '`+EventStatusChange+`', s.event_date, s.date_key,
			du.user_key, ds.status_key, dc.currency_key,
			s.principal_amount, s.principal_usd, s.interest_amount,
			s.total_amount, s.interest_rate, s.benchmark_spread,
			s.outstanding_balance, s.fx_rate, s.term_months, $1
		`+factStagingJoin+`
		  AND ds.is_terminal
		  AND NOT EXISTS (
			SELECT 1 FROM fact_loan_transactions f
			WHERE f.loan_id = s.loan_id AND f.event_type = '`+EventStatusChange+`')`,
		runID)
	if err != nil {
		return result, fmt.Errorf("failed to load status-change facts: %w", err)
	}
	result.Loaded += statusChanged.RowsAffected()
	result.Skipped += terminalCandidates - statusChanged.RowsAffected()

	return result, nil
}

// unresolvedBorrowers returns the loan ids of valid staged rows with no
// current user dimension row for their borrower
func (f *FactLoader) unresolvedBorrowers(ctx context.Context, runID int64) ([]int64, error) {
	rows, err := f.pool.Query(ctx, `
		SELECT s.loan_id
		FROM etl_staging_loan s
		WHERE s.run_id = $1 AND s.is_valid
		  AND NOT EXISTS (
			SELECT 1 FROM dim_user du
			WHERE du.user_id = s.borrower_id AND du.is_current)`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to find unresolved borrowers: %w", err)
	}
	defer rows.Close()

	var loanIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan unresolved loan id: %w", err)
		}
		loanIDs = append(loanIDs, id)
	}
	return loanIDs, rows.Err()
}

// ensurePartitions creates the monthly partitions covering the run's staged
// event dates before the set-based insert runs
func (f *FactLoader) ensurePartitions(ctx context.Context, runID int64) error {
	var minDate, maxDate *time.Time
	err := f.pool.QueryRow(ctx,
		`SELECT MIN(event_date), MAX(event_date)
		 FROM etl_staging_loan WHERE run_id = $1 AND is_valid`, runID,
	).Scan(&minDate, &maxDate)
	if err != nil {
		return fmt.Errorf("failed to determine partition range: %w", err)
	}
	if minDate == nil || maxDate == nil {
		return nil
	}

	for _, month := range MonthStarts(*minDate, *maxDate) {
		next := month.AddDate(0, 1, 0)
		stmt := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s
			PARTITION OF fact_loan_transactions
			FOR VALUES FROM ('%s') TO ('%s')`,
			PartitionName(month),
			month.Format("2006-01-02"), next.Format("2006-01-02"))
		if _, err := f.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create fact partition %s: %w", PartitionName(month), err)
		}
	}
	return nil
}

// MonthStarts returns the first day of every month spanned by [from, to]
func MonthStarts(from, to time.Time) []time.Time {
	if to.Before(from) {
		return nil
	}
	var months []time.Time
	month := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !month.After(last) {
		months = append(months, month)
		month = month.AddDate(0, 1, 0)
	}
	return months
}

// PartitionName returns the fact partition name for a month start
func PartitionName(month time.Time) string {
	return fmt.Sprintf("fact_loan_transactions_y%04dm%02d", month.Year(), int(month.Month()))
}
