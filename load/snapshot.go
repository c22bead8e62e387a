package load

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendsight/star-etl/transform"
)

// SnapshotRefresher recomputes the daily portfolio snapshot from current
// fact and dimension state. Refresh is replace-by-date: the date's row is
// deleted and reinserted in one transaction, so exactly one row per date
// survives and re-running for the same date is idempotent.
type SnapshotRefresher struct {
	pool *pgxpool.Pool
}

// NewSnapshotRefresher creates a snapshot refresher
func NewSnapshotRefresher(pool *pgxpool.Pool) *SnapshotRefresher {
	return &SnapshotRefresher{pool: pool}
}

// Refresh replaces the portfolio snapshot row for the given date.
// A loan's current state is taken from its most recently loaded fact event.
func (r *SnapshotRefresher) Refresh(ctx context.Context, date time.Time) error {
	dateKey := transform.DateKey(date)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot refresh: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM fact_daily_portfolio WHERE date_key = $1`, dateKey); err != nil {
		return fmt.Errorf("failed to clear snapshot for date %d: %w", dateKey, err)
	}

	_, err = tx.Exec(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (loan_id)
				loan_id, status_key, principal_amount, principal_usd,
				outstanding_balance, interest_rate
			FROM fact_loan_transactions
			WHERE event_date <= $2::date
			ORDER BY loan_id, loaded_at DESC
		),
		loans AS (
			SELECT l.*, ds.status_code
			FROM latest l
			LEFT JOIN dim_loan_status ds ON ds.status_key = l.status_key
		),
		users AS (
			SELECT
				COUNT(*) AS total_users,
				COUNT(*) FILTER (WHERE role = 'borrower' AND is_active) AS active_borrowers,
				COUNT(*) FILTER (WHERE role = 'lender' AND is_active)   AS active_lenders,
				AVG(credit_score) FILTER (WHERE credit_score IS NOT NULL) AS avg_credit_score
			FROM dim_user WHERE is_current
		)
		INSERT INTO fact_daily_portfolio
			(date_key, snapshot_date, total_users, active_borrowers, active_lenders,
			 total_loans, active_loans, loans_defaulted, loans_paid_off,
			 total_principal, total_outstanding, total_repaid,
			 default_rate, avg_loan_size, avg_interest_rate, weighted_avg_credit_score)
		SELECT
			$1, $2::date,
			u.total_users, u.active_borrowers, u.active_lenders,
			COUNT(l.loan_id),
			COUNT(*) FILTER (WHERE l.status_code = 'active'),
			COUNT(*) FILTER (WHERE l.status_code = 'defaulted'),
			COUNT(*) FILTER (WHERE l.status_code = 'paid_off'),
			COALESCE(SUM(l.principal_amount), 0),
			COALESCE(SUM(l.outstanding_balance) FILTER (WHERE l.status_code = 'active'), 0),
			COALESCE(SUM(l.principal_amount), 0)
				- COALESCE(SUM(l.outstanding_balance) FILTER (WHERE l.status_code = 'active'), 0),
			CASE WHEN COUNT(l.loan_id) > 0
				THEN ROUND((COUNT(*) FILTER (WHERE l.status_code = 'defaulted'))::numeric
					/ COUNT(l.loan_id), 4)
				ELSE 0 END,
			COALESCE(AVG(l.principal_amount), 0),
			COALESCE(AVG(l.interest_rate), 0),
			COALESCE(u.avg_credit_score, 0)
		FROM users u
		LEFT JOIN loans l ON TRUE
		GROUP BY u.total_users, u.active_borrowers, u.active_lenders, u.avg_credit_score`,
		dateKey, date)
	if err != nil {
		return fmt.Errorf("failed to compute snapshot for date %d: %w", dateKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot refresh: %w", err)
	}
	return nil
}
