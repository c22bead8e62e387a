// Package extract provides read-only connectors over the three operational
// source categories: transactional tables, slow-changing reference tables
// and externally supplied market-rate feeds.
package extract

import "time"

// Table identifies a source table and the column its watermark tracks
type Table struct {
	Source         string
	Name           string
	TrackingColumn string
}

// Watermarked transactional tables
var (
	TableUsers        = Table{"transaction_db", "users", "updated_at"}
	TableLoans        = Table{"transaction_db", "loans", "updated_at"}
	TableApplications = Table{"transaction_db", "loan_applications", "updated_at"}
	TableLedger       = Table{"transaction_db", "transaction_ledger", "created_at"}
	TableRepayments   = Table{"transaction_db", "repayment_schedule", "created_at"}
)

// User is a raw operational user row. Nullable source columns are pointers
// so the validator can distinguish absent from zero.
type User struct {
	ID          int64
	Email       *string
	FullName    *string
	Role        *string
	CreditScore *int
	RegionCode  *string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TrackingValue returns the watermark column value for this row
func (u User) TrackingValue() time.Time { return u.UpdatedAt }

// Loan is a raw operational loan row
type Loan struct {
	ID                 int64
	ApplicationID      *int64
	BorrowerID         *int64
	LenderID           *int64
	PrincipalAmount    *float64
	InterestRate       *float64
	TermMonths         *int
	MonthlyPayment     *float64
	OutstandingBalance *float64
	Status             *string
	CurrencyCode       *string
	DisbursedAt        *time.Time
	MaturityDate       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TrackingValue returns the watermark column value for this row
func (l Loan) TrackingValue() time.Time { return l.UpdatedAt }

// Application is a raw loan application row
type Application struct {
	ID           int64
	ApplicantID  *int64
	Amount       *float64
	Purpose      *string
	TermMonths   *int
	InterestRate *float64
	Status       *string
	ReviewedBy   *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TrackingValue returns the watermark column value for this row
func (a Application) TrackingValue() time.Time { return a.UpdatedAt }

// LedgerEntry is a raw wallet transaction row
type LedgerEntry struct {
	ID              int64
	WalletID        *int64
	LoanID          *int64
	TransactionType *string
	Amount          *float64
	BalanceBefore   *float64
	BalanceAfter    *float64
	ReferenceNumber *string
	CreatedAt       time.Time
}

// TrackingValue returns the watermark column value for this row
func (e LedgerEntry) TrackingValue() time.Time { return e.CreatedAt }

// Repayment is a raw repayment schedule row
type Repayment struct {
	ID                int64
	LoanID            *int64
	InstallmentNumber *int
	DueDate           *time.Time
	PrincipalAmount   *float64
	InterestAmount    *float64
	TotalAmount       *float64
	PaidAmount        *float64
	Status            *string
	PaidAt            *time.Time
	CreatedAt         time.Time
}

// TrackingValue returns the watermark column value for this row
func (r Repayment) TrackingValue() time.Time { return r.CreatedAt }

// Currency is a reference currency row
type Currency struct {
	Code   string
	Name   *string
	Symbol *string
}

// Product is a reference loan product row
type Product struct {
	Code             string
	Name             *string
	Category         *string
	MinAmount        *float64
	MaxAmount        *float64
	MaxTermMonths    *int
	BaseInterestRate *float64
}

// Region is a reference region row; regions form a parent-id adjacency tree
type Region struct {
	ID       int64
	Code     string
	Name     *string
	ParentID *int64
}

// CreditTier is a reference credit tier boundary row
type CreditTier struct {
	Name     string
	MinScore int
	MaxScore int
}

// FXRate is a market currency rate row, quoted against USD
type FXRate struct {
	QuoteCurrency string
	Rate          float64
	RateDate      time.Time
}

// Benchmark is a market interest benchmark row
type Benchmark struct {
	Name          string
	Rate          float64
	EffectiveDate time.Time
}

// CreditSpread is a market credit spread row keyed by tier
type CreditSpread struct {
	Tier          string
	SpreadBps     float64
	EffectiveDate time.Time
}

// Tracked is implemented by rows carrying a watermark tracking value
type Tracked interface {
	TrackingValue() time.Time
}

// Watermark returns the max tracking value in a scanned batch, or the zero
// time when the batch is empty.
func Watermark[T Tracked](rows []T) time.Time {
	var max time.Time
	for _, r := range rows {
		if v := r.TrackingValue(); v.After(max) {
			max = v
		}
	}
	return max
}
