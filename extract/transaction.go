package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionSource reads the OLTP tables of the lending application.
// Each table supports a full scan and a watermark-bounded incremental scan;
// both materialize the result so a retried step can re-iterate safely.
type TransactionSource struct {
	Connector
}

// NewTransactionSource creates a connector over the transactional database
func NewTransactionSource(pool *pgxpool.Pool, timeout time.Duration, maxRetries int) *TransactionSource {
	return &TransactionSource{Connector: newConnector(pool, timeout, maxRetries)}
}

// incrementalClause bounds a scan to rows past the watermark, ordered by the
// tracking column so last-write-wins batch semantics follow extraction order.
func incrementalClause(trackingColumn string) string {
	return fmt.Sprintf(" WHERE %s > $1 ORDER BY %s", trackingColumn, trackingColumn)
}

const userColumns = `id, email, full_name, role, credit_score, region_code, is_active, created_at, updated_at`

// ScanUsersFull reads every user row
func (s *TransactionSource) ScanUsersFull(ctx context.Context) ([]User, error) {
	return s.scanUsers(ctx, "")
}

// ScanUsersIncremental reads user rows updated after the watermark
func (s *TransactionSource) ScanUsersIncremental(ctx context.Context, watermark time.Time) ([]User, error) {
	return s.scanUsers(ctx, incrementalClause(TableUsers.TrackingColumn), watermark)
}

func (s *TransactionSource) scanUsers(ctx context.Context, clause string, args ...any) ([]User, error) {
	var users []User
	err := s.withRetry(ctx, "scan users", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users`+clause, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		users = users[:0]
		for rows.Next() {
			var u User
			if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.CreditScore,
				&u.RegionCode, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract users: %w", err)
	}
	return users, nil
}

const loanColumns = `id, application_id, borrower_id, lender_id, principal_amount,
	interest_rate, term_months, monthly_payment, outstanding_balance,
	status, currency_code, disbursed_at, maturity_date, created_at, updated_at`

// ScanLoansFull reads every loan row
func (s *TransactionSource) ScanLoansFull(ctx context.Context) ([]Loan, error) {
	return s.scanLoans(ctx, "")
}

// ScanLoansIncremental reads loan rows updated after the watermark
func (s *TransactionSource) ScanLoansIncremental(ctx context.Context, watermark time.Time) ([]Loan, error) {
	return s.scanLoans(ctx, incrementalClause(TableLoans.TrackingColumn), watermark)
}

func (s *TransactionSource) scanLoans(ctx context.Context, clause string, args ...any) ([]Loan, error) {
	var loans []Loan
	err := s.withRetry(ctx, "scan loans", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `SELECT `+loanColumns+` FROM loans`+clause, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		loans = loans[:0]
		for rows.Next() {
			var l Loan
			if err := rows.Scan(&l.ID, &l.ApplicationID, &l.BorrowerID, &l.LenderID,
				&l.PrincipalAmount, &l.InterestRate, &l.TermMonths, &l.MonthlyPayment,
				&l.OutstandingBalance, &l.Status, &l.CurrencyCode, &l.DisbursedAt,
				&l.MaturityDate, &l.CreatedAt, &l.UpdatedAt); err != nil {
				return err
			}
			loans = append(loans, l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract loans: %w", err)
	}
	return loans, nil
}

const applicationColumns = `id, applicant_id, amount, purpose, term_months,
	interest_rate, status, reviewed_by, created_at, updated_at`

// ScanApplicationsFull reads every loan application row
func (s *TransactionSource) ScanApplicationsFull(ctx context.Context) ([]Application, error) {
	return s.scanApplications(ctx, "")
}

// ScanApplicationsIncremental reads application rows updated after the watermark
func (s *TransactionSource) ScanApplicationsIncremental(ctx context.Context, watermark time.Time) ([]Application, error) {
	return s.scanApplications(ctx, incrementalClause(TableApplications.TrackingColumn), watermark)
}

func (s *TransactionSource) scanApplications(ctx context.Context, clause string, args ...any) ([]Application, error) {
	var apps []Application
	err := s.withRetry(ctx, "scan loan applications", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `SELECT `+applicationColumns+` FROM loan_applications`+clause, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		apps = apps[:0]
		for rows.Next() {
			var a Application
			if err := rows.Scan(&a.ID, &a.ApplicantID, &a.Amount, &a.Purpose, &a.TermMonths,
				&a.InterestRate, &a.Status, &a.ReviewedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
				return err
			}
			apps = append(apps, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract loan applications: %w", err)
	}
	return apps, nil
}

const ledgerColumns = `id, wallet_id, loan_id, transaction_type, amount,
	balance_before, balance_after, reference_number, created_at`

// ScanLedgerFull reads every wallet ledger row
func (s *TransactionSource) ScanLedgerFull(ctx context.Context) ([]LedgerEntry, error) {
	return s.scanLedger(ctx, "")
}

// ScanLedgerIncremental reads ledger rows created after the watermark
func (s *TransactionSource) ScanLedgerIncremental(ctx context.Context, watermark time.Time) ([]LedgerEntry, error) {
	return s.scanLedger(ctx, incrementalClause(TableLedger.TrackingColumn), watermark)
}

func (s *TransactionSource) scanLedger(ctx context.Context, clause string, args ...any) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := s.withRetry(ctx, "scan transaction ledger", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `SELECT `+ledgerColumns+` FROM transaction_ledger`+clause, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			var e LedgerEntry
			if err := rows.Scan(&e.ID, &e.WalletID, &e.LoanID, &e.TransactionType,
				&e.Amount, &e.BalanceBefore, &e.BalanceAfter, &e.ReferenceNumber,
				&e.CreatedAt); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract transaction ledger: %w", err)
	}
	return entries, nil
}

const repaymentColumns = `id, loan_id, installment_number, due_date, principal_amount,
	interest_amount, total_amount, paid_amount, status, paid_at, created_at`

// ScanRepaymentsFull reads every repayment schedule row
func (s *TransactionSource) ScanRepaymentsFull(ctx context.Context) ([]Repayment, error) {
	return s.scanRepayments(ctx, "")
}

// ScanRepaymentsIncremental reads repayment rows created after the watermark
func (s *TransactionSource) ScanRepaymentsIncremental(ctx context.Context, watermark time.Time) ([]Repayment, error) {
	return s.scanRepayments(ctx, incrementalClause(TableRepayments.TrackingColumn), watermark)
}

func (s *TransactionSource) scanRepayments(ctx context.Context, clause string, args ...any) ([]Repayment, error) {
	var repayments []Repayment
	err := s.withRetry(ctx, "scan repayment schedule", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `SELECT `+repaymentColumns+` FROM repayment_schedule`+clause, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		repayments = repayments[:0]
		for rows.Next() {
			var r Repayment
			if err := rows.Scan(&r.ID, &r.LoanID, &r.InstallmentNumber, &r.DueDate,
				&r.PrincipalAmount, &r.InterestAmount, &r.TotalAmount, &r.PaidAmount,
				&r.Status, &r.PaidAt, &r.CreatedAt); err != nil {
				return err
			}
			repayments = append(repayments, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract repayment schedule: %w", err)
	}
	return repayments, nil
}
