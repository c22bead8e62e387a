// Package load owns the warehouse-side set operations: staging writes,
// dimension resolution (SCD Type 2 for users, overwrite for the rest), fact
// loading and the daily portfolio snapshot refresh. Everything operates on
// whole batches; nothing loads row by row.
package load

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StagedUser is one landing-zone user row: the transformed payload plus its
// validation verdict. Invalid rows are staged too, for auditability.
type StagedUser struct {
	UserID       int64
	Email        *string
	FullName     *string
	Role         *string
	CreditScore  *int
	CreditTier   string
	RegionPath   string
	IsActive     bool
	IsValid      bool
	ErrorCode    *string
	ErrorMessage *string
}

// StagedLoan is one landing-zone loan row with its derived measures and
// validation verdict
type StagedLoan struct {
	LoanID             int64
	ApplicationID      *int64
	BorrowerID         *int64
	PrincipalAmount    *float64
	PrincipalUSD       float64
	InterestAmount     float64
	TotalAmount        float64
	InterestRate       *float64
	BenchmarkSpread    float64
	TermMonths         *int
	TermCategory       string
	OutstandingBalance *float64
	Status             *string
	CurrencyCode       string
	FXRate             float64
	EventDate          time.Time
	DateKey            int
	IsValid            bool
	ErrorCode          *string
	ErrorMessage       *string
}

// StagedPayment is one landing-zone repayment row with its validation verdict
type StagedPayment struct {
	RepaymentID       int64
	LoanID            *int64
	InstallmentNumber *int
	DueDate           *time.Time
	PrincipalAmount   *float64
	InterestAmount    *float64
	TotalAmount       *float64
	PaidAmount        *float64
	Status            *string
	PaidAt            *time.Time
	DateKey           int
	IsValid           bool
	ErrorCode         *string
	ErrorMessage      *string
}

var stagingUserColumns = []string{
	"run_id", "user_id", "email", "full_name", "role", "credit_score",
	"credit_tier", "region_path", "is_active", "is_valid", "error_code", "error_message",
}

var stagingLoanColumns = []string{
	"run_id", "loan_id", "application_id", "borrower_id", "principal_amount",
	"principal_usd", "interest_amount", "total_amount", "interest_rate",
	"benchmark_spread", "term_months", "term_category", "outstanding_balance",
	"status", "currency_code", "fx_rate", "event_date", "date_key",
	"is_valid", "error_code", "error_message",
}

var stagingPaymentColumns = []string{
	"run_id", "repayment_id", "loan_id", "installment_number", "due_date",
	"principal_amount", "interest_amount", "total_amount", "paid_amount",
	"status", "paid_at", "date_key", "is_valid", "error_code", "error_message",
}

// StagingWriter bulk-writes the landing zone via COPY, batched by the
// configured batch size. Staging writes for one entity kind are serialized
// by the orchestrator, so the writer itself needs no locking.
type StagingWriter struct {
	pool      *pgxpool.Pool
	batchSize int
}

// NewStagingWriter creates a staging writer
func NewStagingWriter(pool *pgxpool.Pool, batchSize int) *StagingWriter {
	return &StagingWriter{pool: pool, batchSize: batchSize}
}

// StageUsers copies user rows into the landing zone and returns the count staged
func (w *StagingWriter) StageUsers(ctx context.Context, runID int64, users []StagedUser) (int64, error) {
	var staged int64
	for start := 0; start < len(users); start += w.batchSize {
		end := min(start+w.batchSize, len(users))
		batch := make([][]any, 0, end-start)
		for _, u := range users[start:end] {
			batch = append(batch, []any{
				runID, u.UserID, u.Email, u.FullName, u.Role, u.CreditScore,
				u.CreditTier, u.RegionPath, u.IsActive, u.IsValid, u.ErrorCode, u.ErrorMessage,
			})
		}
		n, err := w.pool.CopyFrom(ctx,
			pgx.Identifier{"etl_staging_user"}, stagingUserColumns,
			pgx.CopyFromRows(batch))
		if err != nil {
			return staged, fmt.Errorf("failed to stage users: %w", err)
		}
		staged += n
	}
	return staged, nil
}

// StageLoans copies loan rows into the landing zone and returns the count staged
func (w *StagingWriter) StageLoans(ctx context.Context, runID int64, loans []StagedLoan) (int64, error) {
	var staged int64
	for start := 0; start < len(loans); start += w.batchSize {
		end := min(start+w.batchSize, len(loans))
		batch := make([][]any, 0, end-start)
		for _, l := range loans[start:end] {
			batch = append(batch, []any{
				runID, l.LoanID, l.ApplicationID, l.BorrowerID, l.PrincipalAmount,
				l.PrincipalUSD, l.InterestAmount, l.TotalAmount, l.InterestRate,
				l.BenchmarkSpread, l.TermMonths, l.TermCategory, l.OutstandingBalance,
				l.Status, l.CurrencyCode, l.FXRate, l.EventDate, l.DateKey,
				l.IsValid, l.ErrorCode, l.ErrorMessage,
			})
		}
		n, err := w.pool.CopyFrom(ctx,
			pgx.Identifier{"etl_staging_loan"}, stagingLoanColumns,
			pgx.CopyFromRows(batch))
		if err != nil {
			return staged, fmt.Errorf("failed to stage loans: %w", err)
		}
		staged += n
	}
	return staged, nil
}

// StagePayments copies repayment rows into the landing zone and returns the
// count staged
func (w *StagingWriter) StagePayments(ctx context.Context, runID int64, payments []StagedPayment) (int64, error) {
	var staged int64
	for start := 0; start < len(payments); start += w.batchSize {
		end := min(start+w.batchSize, len(payments))
		batch := make([][]any, 0, end-start)
		for _, p := range payments[start:end] {
			batch = append(batch, []any{
				runID, p.RepaymentID, p.LoanID, p.InstallmentNumber, p.DueDate,
				p.PrincipalAmount, p.InterestAmount, p.TotalAmount, p.PaidAmount,
				p.Status, p.PaidAt, p.DateKey, p.IsValid, p.ErrorCode, p.ErrorMessage,
			})
		}
		n, err := w.pool.CopyFrom(ctx,
			pgx.Identifier{"etl_staging_payment"}, stagingPaymentColumns,
			pgx.CopyFromRows(batch))
		if err != nil {
			return staged, fmt.Errorf("failed to stage payments: %w", err)
		}
		staged += n
	}
	return staged, nil
}

// Clear removes one run's rows from the landing zone. Called after the load
// phase completes, and best-effort when a run is abandoned.
func (w *StagingWriter) Clear(ctx context.Context, runID int64) error {
	for _, table := range []string{"etl_staging_user", "etl_staging_loan", "etl_staging_payment"} {
		if _, err := w.pool.Exec(ctx, `DELETE FROM `+table+` WHERE run_id = $1`, runID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
