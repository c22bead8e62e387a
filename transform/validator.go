package transform

import (
	"fmt"
	"strconv"

	"github.com/lendsight/star-etl/extract"
)

// Stable validation error codes. Rule order is fixed: null checks first,
// then range, enum, foreign-key and finally duplicate checks, so the first
// error on a verdict always names the earliest failing rule.
const (
	CodeMissingEmail       = "MISSING_EMAIL"
	CodeMissingRole        = "MISSING_ROLE"
	CodeMissingBorrower    = "MISSING_BORROWER"
	CodeMissingPrincipal   = "MISSING_PRINCIPAL"
	CodeMissingRate        = "MISSING_RATE"
	CodeMissingTerm        = "MISSING_TERM"
	CodeInvalidCreditScore = "INVALID_CREDIT_SCORE"
	CodeInvalidPrincipal   = "INVALID_PRINCIPAL"
	CodeInvalidRate        = "INVALID_RATE"
	CodeInvalidTerm        = "INVALID_TERM"
	CodeInvalidRole        = "INVALID_ROLE"
	CodeInvalidStatus      = "INVALID_STATUS"
	CodeInvalidBorrower    = "INVALID_BORROWER"
	CodeInvalidCurrency    = "INVALID_CURRENCY"
	CodeMissingLoan        = "MISSING_LOAN"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeDuplicateKey       = "DUPLICATE_KEY"
	CodeUnresolvedBorrower = "UNRESOLVED_BORROWER"
)

// Credit score bounds per the operational schema
const (
	minCreditScore = 300
	maxCreditScore = 850
)

// validRoles is the fixed role set of the operational user table
var validRoles = map[string]struct{}{
	"borrower": {},
	"lender":   {},
	"admin":    {},
}

// ValidationError describes one failed rule on one record
type ValidationError struct {
	Entity    string
	RecordKey string
	Field     string
	Code      string
	Message   string
}

// Verdict is the outcome of validating one record. A record with a non-empty
// error list is staged invalid but never dropped.
type Verdict struct {
	Errors []ValidationError
}

// Valid reports whether every rule passed
func (v Verdict) Valid() bool { return len(v.Errors) == 0 }

// Code returns the code of the first failing rule, or "" when valid
func (v Verdict) Code() string {
	if len(v.Errors) == 0 {
		return ""
	}
	return v.Errors[0].Code
}

// Message returns the message of the first failing rule, or "" when valid
func (v Verdict) Message() string {
	if len(v.Errors) == 0 {
		return ""
	}
	return v.Errors[0].Message
}

func (v *Verdict) add(entity, key, field, code, msg string) {
	v.Errors = append(v.Errors, ValidationError{
		Entity:    entity,
		RecordKey: key,
		Field:     field,
		Code:      code,
		Message:   msg,
	})
}

// ValidateUser checks one raw user row against the reference snapshot
func ValidateUser(u extract.User, ref *ReferenceSnapshot) Verdict {
	var verdict Verdict
	key := strconv.FormatInt(u.ID, 10)

	// Null checks
	if u.Email == nil {
		verdict.add("user", key, "email", CodeMissingEmail, "required field email is null")
	}
	if u.Role == nil {
		verdict.add("user", key, "role", CodeMissingRole, "required field role is null")
	}

	// Range checks
	if u.CreditScore != nil && (*u.CreditScore < minCreditScore || *u.CreditScore > maxCreditScore) {
		verdict.add("user", key, "credit_score", CodeInvalidCreditScore,
			fmt.Sprintf("credit_score %d outside range [%d, %d]", *u.CreditScore, minCreditScore, maxCreditScore))
	}

	// Enum checks
	if u.Role != nil {
		if _, ok := validRoles[*u.Role]; !ok {
			verdict.add("user", key, "role", CodeInvalidRole,
				fmt.Sprintf("role %q is not a recognized role", *u.Role))
		}
	}

	return verdict
}

// ValidateLoan checks one raw loan row against the reference snapshot.
// Status membership is looked up against the loan-status dimension snapshot,
// borrower existence against the extracted user set.
func ValidateLoan(l extract.Loan, ref *ReferenceSnapshot) Verdict {
	var verdict Verdict
	key := strconv.FormatInt(l.ID, 10)

	// Null checks
	if l.BorrowerID == nil {
		verdict.add("loan", key, "borrower_id", CodeMissingBorrower, "required field borrower_id is null")
	}
	if l.PrincipalAmount == nil {
		verdict.add("loan", key, "principal_amount", CodeMissingPrincipal, "required field principal_amount is null")
	}
	if l.InterestRate == nil {
		verdict.add("loan", key, "interest_rate", CodeMissingRate, "required field interest_rate is null")
	}
	if l.TermMonths == nil {
		verdict.add("loan", key, "term_months", CodeMissingTerm, "required field term_months is null")
	}

	// Range checks
	if l.PrincipalAmount != nil && *l.PrincipalAmount <= 0 {
		verdict.add("loan", key, "principal_amount", CodeInvalidPrincipal,
			fmt.Sprintf("principal_amount %.2f must be positive", *l.PrincipalAmount))
	}
	if l.InterestRate != nil && (*l.InterestRate < 0 || *l.InterestRate > 100) {
		verdict.add("loan", key, "interest_rate", CodeInvalidRate,
			fmt.Sprintf("interest_rate %.2f outside range [0, 100]", *l.InterestRate))
	}
	if l.TermMonths != nil && *l.TermMonths <= 0 {
		verdict.add("loan", key, "term_months", CodeInvalidTerm,
			fmt.Sprintf("term_months %d must be positive", *l.TermMonths))
	}

	// Enum checks
	if l.Status != nil && !ref.StatusKnown(*l.Status) {
		verdict.add("loan", key, "status", CodeInvalidStatus,
			fmt.Sprintf("status %q not present in loan status dimension", *l.Status))
	}

	// Foreign-key checks
	if l.BorrowerID != nil && !ref.UserExists(*l.BorrowerID) {
		verdict.add("loan", key, "borrower_id", CodeInvalidBorrower,
			fmt.Sprintf("borrower_id %d not found in user snapshot", *l.BorrowerID))
	}
	if l.CurrencyCode != nil && len(ref.Currencies) > 0 && !ref.CurrencyKnown(*l.CurrencyCode) {
		verdict.add("loan", key, "currency_code", CodeInvalidCurrency,
			fmt.Sprintf("currency_code %q not found in currency reference", *l.CurrencyCode))
	}

	return verdict
}

// ValidateRepayment checks one raw repayment schedule row. Repayments have a
// small rule set: they must reference a loan, and amounts cannot be negative.
func ValidateRepayment(r extract.Repayment) Verdict {
	var verdict Verdict
	key := strconv.FormatInt(r.ID, 10)

	if r.LoanID == nil {
		verdict.add("payment", key, "loan_id", CodeMissingLoan, "required field loan_id is null")
	}

	if r.TotalAmount != nil && *r.TotalAmount < 0 {
		verdict.add("payment", key, "total_amount", CodeInvalidAmount,
			fmt.Sprintf("total_amount %.2f must not be negative", *r.TotalAmount))
	}
	if r.PaidAmount != nil && *r.PaidAmount < 0 {
		verdict.add("payment", key, "paid_amount", CodeInvalidAmount,
			fmt.Sprintf("paid_amount %.2f must not be negative", *r.PaidAmount))
	}

	return verdict
}

// DedupeUsers splits one extracted batch on duplicate natural keys. Policy
// is last-write-wins by extraction order: the latest occurrence is treated
// as a correction and kept, every earlier occurrence comes back as a
// superseded row with an index-aligned DUPLICATE_KEY error, so callers can
// stage both sides of the collision.
func DedupeUsers(users []extract.User) (kept, superseded []extract.User, dups []ValidationError) {
	lastIndex := make(map[int64]int, len(users))
	for i, u := range users {
		lastIndex[u.ID] = i
	}

	kept = make([]extract.User, 0, len(lastIndex))
	for i, u := range users {
		if lastIndex[u.ID] != i {
			superseded = append(superseded, u)
			dups = append(dups, ValidationError{
				Entity:    "user",
				RecordKey: strconv.FormatInt(u.ID, 10),
				Field:     "id",
				Code:      CodeDuplicateKey,
				Message:   fmt.Sprintf("user id %d appears more than once in batch; superseded by later record", u.ID),
			})
			continue
		}
		kept = append(kept, u)
	}
	return kept, superseded, dups
}

// DedupeLoans splits one extracted batch on duplicate natural keys,
// last-write-wins by extraction order; superseded rows and their errors are
// index-aligned
func DedupeLoans(loans []extract.Loan) (kept, superseded []extract.Loan, dups []ValidationError) {
	lastIndex := make(map[int64]int, len(loans))
	for i, l := range loans {
		lastIndex[l.ID] = i
	}

	kept = make([]extract.Loan, 0, len(lastIndex))
	for i, l := range loans {
		if lastIndex[l.ID] != i {
			superseded = append(superseded, l)
			dups = append(dups, ValidationError{
				Entity:    "loan",
				RecordKey: strconv.FormatInt(l.ID, 10),
				Field:     "id",
				Code:      CodeDuplicateKey,
				Message:   fmt.Sprintf("loan id %d appears more than once in batch; superseded by later record", l.ID),
			})
			continue
		}
		kept = append(kept, l)
	}
	return kept, superseded, dups
}
