package transform

import (
	"testing"
	"time"

	"github.com/lendsight/star-etl/extract"
)

func strPtr(s string) *string    { return &s }
func intPtr(i int) *int          { return &i }
func int64Ptr(i int64) *int64    { return &i }
func floatPtr(f float64) *float64 { return &f }

var defaultStatuses = []string{
	"pending", "approved", "rejected", "withdrawn",
	"active", "paid_off", "defaulted", "cancelled",
}

func testSnapshot(users []extract.User) *ReferenceSnapshot {
	return NewReferenceSnapshot(users, defaultStatuses, nil, nil, nil, nil, nil, nil, nil)
}

func validLoan(id int64, borrower int64) extract.Loan {
	return extract.Loan{
		ID:              id,
		BorrowerID:      int64Ptr(borrower),
		PrincipalAmount: floatPtr(10000),
		InterestRate:    floatPtr(12.5),
		TermMonths:      intPtr(12),
		Status:          strPtr("active"),
		CreatedAt:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestValidateUser(t *testing.T) {
	snap := testSnapshot(nil)

	tests := []struct {
		name     string
		user     extract.User
		wantCode string
	}{
		{
			name: "valid user",
			user: extract.User{
				ID: 1, Email: strPtr("a@example.com"), Role: strPtr("borrower"),
				CreditScore: intPtr(700),
			},
			wantCode: "",
		},
		{
			name:     "missing email",
			user:     extract.User{ID: 2, Role: strPtr("borrower")},
			wantCode: CodeMissingEmail,
		},
		{
			name:     "missing role",
			user:     extract.User{ID: 3, Email: strPtr("b@example.com")},
			wantCode: CodeMissingRole,
		},
		{
			name: "credit score below range",
			user: extract.User{
				ID: 4, Email: strPtr("c@example.com"), Role: strPtr("lender"),
				CreditScore: intPtr(299),
			},
			wantCode: CodeInvalidCreditScore,
		},
		{
			name: "credit score above range",
			user: extract.User{
				ID: 5, Email: strPtr("d@example.com"), Role: strPtr("lender"),
				CreditScore: intPtr(851),
			},
			wantCode: CodeInvalidCreditScore,
		},
		{
			name: "credit score at lower bound",
			user: extract.User{
				ID: 6, Email: strPtr("e@example.com"), Role: strPtr("borrower"),
				CreditScore: intPtr(300),
			},
			wantCode: "",
		},
		{
			name: "unknown role",
			user: extract.User{
				ID: 7, Email: strPtr("f@example.com"), Role: strPtr("auditor"),
			},
			wantCode: CodeInvalidRole,
		},
		{
			name:     "null credit score is allowed",
			user:     extract.User{ID: 8, Email: strPtr("g@example.com"), Role: strPtr("admin")},
			wantCode: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := ValidateUser(tt.user, snap)
			if tt.wantCode == "" {
				if !verdict.Valid() {
					t.Errorf("ValidateUser() rejected valid user: %v", verdict.Errors)
				}
				return
			}
			if verdict.Valid() {
				t.Fatalf("ValidateUser() accepted invalid user, want code %s", tt.wantCode)
			}
			if verdict.Code() != tt.wantCode {
				t.Errorf("ValidateUser() code = %s, want %s", verdict.Code(), tt.wantCode)
			}
		})
	}
}

func TestValidateLoan(t *testing.T) {
	users := []extract.User{
		{ID: 1, Email: strPtr("a@example.com"), Role: strPtr("borrower")},
	}
	snap := testSnapshot(users)

	tests := []struct {
		name     string
		mutate   func(*extract.Loan)
		wantCode string
	}{
		{
			name:     "valid loan",
			mutate:   func(l *extract.Loan) {},
			wantCode: "",
		},
		{
			name:     "borrower not in snapshot",
			mutate:   func(l *extract.Loan) { l.BorrowerID = int64Ptr(99999) },
			wantCode: CodeInvalidBorrower,
		},
		{
			name:     "interest rate above range",
			mutate:   func(l *extract.Loan) { l.InterestRate = floatPtr(150.0) },
			wantCode: CodeInvalidRate,
		},
		{
			name:     "negative interest rate",
			mutate:   func(l *extract.Loan) { l.InterestRate = floatPtr(-1) },
			wantCode: CodeInvalidRate,
		},
		{
			name:     "zero interest rate is allowed",
			mutate:   func(l *extract.Loan) { l.InterestRate = floatPtr(0) },
			wantCode: "",
		},
		{
			name:     "missing borrower",
			mutate:   func(l *extract.Loan) { l.BorrowerID = nil },
			wantCode: CodeMissingBorrower,
		},
		{
			name:     "missing principal",
			mutate:   func(l *extract.Loan) { l.PrincipalAmount = nil },
			wantCode: CodeMissingPrincipal,
		},
		{
			name:     "zero principal",
			mutate:   func(l *extract.Loan) { l.PrincipalAmount = floatPtr(0) },
			wantCode: CodeInvalidPrincipal,
		},
		{
			name:     "negative principal",
			mutate:   func(l *extract.Loan) { l.PrincipalAmount = floatPtr(-500) },
			wantCode: CodeInvalidPrincipal,
		},
		{
			name:     "zero term",
			mutate:   func(l *extract.Loan) { l.TermMonths = intPtr(0) },
			wantCode: CodeInvalidTerm,
		},
		{
			name:     "status not in dimension",
			mutate:   func(l *extract.Loan) { l.Status = strPtr("frozen") },
			wantCode: CodeInvalidStatus,
		},
		{
			name:     "null status is allowed",
			mutate:   func(l *extract.Loan) { l.Status = nil },
			wantCode: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loan := validLoan(1, 1)
			tt.mutate(&loan)
			verdict := ValidateLoan(loan, snap)
			if tt.wantCode == "" {
				if !verdict.Valid() {
					t.Errorf("ValidateLoan() rejected valid loan: %v", verdict.Errors)
				}
				return
			}
			if verdict.Valid() {
				t.Fatalf("ValidateLoan() accepted invalid loan, want code %s", tt.wantCode)
			}
			if verdict.Code() != tt.wantCode {
				t.Errorf("ValidateLoan() code = %s, want %s", verdict.Code(), tt.wantCode)
			}
		})
	}
}

func TestValidateLoanCurrency(t *testing.T) {
	users := []extract.User{{ID: 1}}
	currencies := []extract.Currency{{Code: "USD"}, {Code: "EUR"}}
	snap := NewReferenceSnapshot(users, defaultStatuses, currencies, nil, nil, nil, nil, nil, nil)

	loan := validLoan(1, 1)
	loan.CurrencyCode = strPtr("XYZ")
	verdict := ValidateLoan(loan, snap)
	if verdict.Code() != CodeInvalidCurrency {
		t.Errorf("ValidateLoan() code = %s, want %s", verdict.Code(), CodeInvalidCurrency)
	}

	// Without currency reference data the check is skipped entirely.
	bare := testSnapshot(users)
	if verdict := ValidateLoan(loan, bare); !verdict.Valid() {
		t.Errorf("ValidateLoan() without currency reference rejected loan: %v", verdict.Errors)
	}
}

func TestValidateLoanRuleOrder(t *testing.T) {
	// A loan failing several rules reports the null-check failure first.
	snap := testSnapshot(nil)
	loan := extract.Loan{
		ID:           10,
		InterestRate: floatPtr(150),
		Status:       strPtr("frozen"),
	}
	verdict := ValidateLoan(loan, snap)
	if verdict.Code() != CodeMissingBorrower {
		t.Errorf("first code = %s, want %s", verdict.Code(), CodeMissingBorrower)
	}
	if len(verdict.Errors) < 4 {
		t.Errorf("got %d errors, want at least 4", len(verdict.Errors))
	}
}

func TestValidateRepayment(t *testing.T) {
	tests := []struct {
		name     string
		payment  extract.Repayment
		wantCode string
	}{
		{
			name: "valid repayment",
			payment: extract.Repayment{
				ID: 1, LoanID: int64Ptr(10), TotalAmount: floatPtr(500), PaidAmount: floatPtr(500),
			},
			wantCode: "",
		},
		{
			name:     "missing loan",
			payment:  extract.Repayment{ID: 2, TotalAmount: floatPtr(500)},
			wantCode: CodeMissingLoan,
		},
		{
			name: "negative total amount",
			payment: extract.Repayment{
				ID: 3, LoanID: int64Ptr(10), TotalAmount: floatPtr(-1),
			},
			wantCode: CodeInvalidAmount,
		},
		{
			name: "negative paid amount",
			payment: extract.Repayment{
				ID: 4, LoanID: int64Ptr(10), PaidAmount: floatPtr(-100),
			},
			wantCode: CodeInvalidAmount,
		},
		{
			name:     "null amounts are allowed",
			payment:  extract.Repayment{ID: 5, LoanID: int64Ptr(10)},
			wantCode: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := ValidateRepayment(tt.payment)
			if tt.wantCode == "" {
				if !verdict.Valid() {
					t.Errorf("ValidateRepayment() rejected valid payment: %v", verdict.Errors)
				}
				return
			}
			if verdict.Code() != tt.wantCode {
				t.Errorf("ValidateRepayment() code = %s, want %s", verdict.Code(), tt.wantCode)
			}
		})
	}
}

func TestDedupeUsers(t *testing.T) {
	users := []extract.User{
		{ID: 1, Email: strPtr("first@example.com")},
		{ID: 2, Email: strPtr("other@example.com")},
		{ID: 1, Email: strPtr("second@example.com")},
	}

	kept, superseded, dups := DedupeUsers(users)
	if len(kept) != 2 {
		t.Fatalf("DedupeUsers() kept %d users, want 2", len(kept))
	}
	if len(dups) != 1 || len(superseded) != 1 {
		t.Fatalf("DedupeUsers() reported %d duplicates and %d superseded rows, want 1 each",
			len(dups), len(superseded))
	}
	if dups[0].Code != CodeDuplicateKey {
		t.Errorf("duplicate code = %s, want %s", dups[0].Code, CodeDuplicateKey)
	}

	// Last write wins: the later occurrence of id 1 survives and the
	// earlier one comes back superseded, aligned with its error.
	for _, u := range kept {
		if u.ID == 1 && *u.Email != "second@example.com" {
			t.Errorf("kept email = %s, want second@example.com", *u.Email)
		}
	}
	if superseded[0].ID != 1 || *superseded[0].Email != "first@example.com" {
		t.Errorf("superseded row = (%d, %s), want (1, first@example.com)",
			superseded[0].ID, *superseded[0].Email)
	}
	if dups[0].RecordKey != "1" {
		t.Errorf("duplicate record key = %s, want 1", dups[0].RecordKey)
	}
}

func TestDedupeLoans(t *testing.T) {
	loans := []extract.Loan{
		{ID: 5, PrincipalAmount: floatPtr(100)},
		{ID: 5, PrincipalAmount: floatPtr(200)},
		{ID: 5, PrincipalAmount: floatPtr(300)},
		{ID: 6, PrincipalAmount: floatPtr(400)},
	}

	kept, superseded, dups := DedupeLoans(loans)
	if len(kept) != 2 {
		t.Fatalf("DedupeLoans() kept %d loans, want 2", len(kept))
	}
	if len(dups) != 2 || len(superseded) != 2 {
		t.Fatalf("DedupeLoans() reported %d duplicates and %d superseded rows, want 2 each",
			len(dups), len(superseded))
	}
	for _, l := range kept {
		if l.ID == 5 && *l.PrincipalAmount != 300 {
			t.Errorf("kept principal = %.0f, want 300", *l.PrincipalAmount)
		}
	}
	// Superseded rows preserve extraction order: 100 first, then 200.
	if *superseded[0].PrincipalAmount != 100 || *superseded[1].PrincipalAmount != 200 {
		t.Errorf("superseded principals = (%.0f, %.0f), want (100, 200)",
			*superseded[0].PrincipalAmount, *superseded[1].PrincipalAmount)
	}
}
