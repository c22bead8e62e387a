package transform

import (
	"math"
	"time"

	"github.com/lendsight/star-etl/extract"
)

// EnrichedUser is a validated user with its derived dimension attributes
type EnrichedUser struct {
	User       extract.User
	CreditTier string
	RegionPath string
}

// EnrichedLoan is a validated loan with its derived measures. Enrichment is
// only applied to records that passed validation, so the required pointer
// fields are guaranteed non-nil here.
type EnrichedLoan struct {
	Loan            extract.Loan
	CurrencyCode    string
	FXRate          float64
	PrincipalUSD    float64
	InterestAmount  float64
	TotalAmount     float64
	BenchmarkSpread float64
	TermCategory    string
	EventDate       time.Time
	DateKey         int
}

// EnrichUser derives the credit tier and region path for a validated user.
// A missing credit score classifies as NO_SCORE rather than rejecting.
func EnrichUser(u extract.User, ref *ReferenceSnapshot) EnrichedUser {
	enriched := EnrichedUser{User: u, CreditTier: "NO_SCORE"}
	if u.CreditScore != nil {
		enriched.CreditTier = ref.CreditTierFor(*u.CreditScore)
	}
	if u.RegionCode != nil {
		enriched.RegionPath = ref.RegionPath(*u.RegionCode)
	}
	return enriched
}

// EnrichLoan computes the derived measures for a validated loan. Enrichment
// inputs that cannot be found fall back to soft defaults (FX rate 1.0, zero
// benchmark spread); these are not validation gates.
func EnrichLoan(l extract.Loan, ref *ReferenceSnapshot) EnrichedLoan {
	principal := *l.PrincipalAmount
	rate := *l.InterestRate
	term := *l.TermMonths

	currency := "USD"
	if l.CurrencyCode != nil {
		currency = *l.CurrencyCode
	}

	// FX rates are quoted as units of currency per USD
	fxRate := 1.0
	if r, ok := ref.FXRates[currency]; ok && r > 0 {
		fxRate = r
	}

	interestAmount := round2(principal * (rate / 100) * (float64(term) / 12))

	spread := 0.0
	if base, ok := ref.Benchmarks[primeBenchmark]; ok {
		spread = round2(rate - base)
	}

	eventDate := EventDate(l)

	return EnrichedLoan{
		Loan:            l,
		CurrencyCode:    currency,
		FXRate:          fxRate,
		PrincipalUSD:    round2(principal / fxRate),
		InterestAmount:  interestAmount,
		TotalAmount:     round2(principal + interestAmount),
		BenchmarkSpread: spread,
		TermCategory:    TermCategory(term),
		EventDate:       eventDate,
		DateKey:         DateKey(eventDate),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
