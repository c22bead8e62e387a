// Package transform holds the pure validation and enrichment logic applied
// to extracted records. Nothing here touches a database: every function is a
// function of the record and a point-in-time reference/market snapshot, so
// the rules are unit-testable without a live connection.
package transform

import (
	"github.com/lendsight/star-etl/extract"
)

// primeBenchmark is the benchmark rate loans are spread against
const primeBenchmark = "PRIME"

// ReferenceSnapshot is the point-in-time reference and market state one run
// validates and enriches against. Built once per run, read-only afterwards,
// safe to share across workers.
type ReferenceSnapshot struct {
	UserIDs     map[int64]struct{}
	Statuses    map[string]struct{}
	Currencies  map[string]extract.Currency
	Products    map[string]extract.Product
	CreditTiers []extract.CreditTier // ordered by MinScore descending
	FXRates     map[string]float64
	Benchmarks  map[string]float64
	Spreads     map[string]float64
	Regions     map[string]extract.Region // keyed by region code
	regionsByID map[int64]extract.Region
}

// NewReferenceSnapshot assembles the lookup structures for one run.
// Status codes come from the loan-status dimension rather than a hard-coded
// list, so statuses added to the dimension need no code change.
func NewReferenceSnapshot(
	users []extract.User,
	statusCodes []string,
	currencies []extract.Currency,
	products []extract.Product,
	tiers []extract.CreditTier,
	fxRates []extract.FXRate,
	benchmarks []extract.Benchmark,
	spreads []extract.CreditSpread,
	regions []extract.Region,
) *ReferenceSnapshot {
	snap := &ReferenceSnapshot{
		UserIDs:     make(map[int64]struct{}, len(users)),
		Statuses:    make(map[string]struct{}, len(statusCodes)),
		Currencies:  make(map[string]extract.Currency, len(currencies)),
		Products:    make(map[string]extract.Product, len(products)),
		CreditTiers: tiers,
		FXRates:     make(map[string]float64, len(fxRates)),
		Benchmarks:  make(map[string]float64, len(benchmarks)),
		Spreads:     make(map[string]float64, len(spreads)),
		Regions:     make(map[string]extract.Region, len(regions)),
		regionsByID: make(map[int64]extract.Region, len(regions)),
	}
	for _, u := range users {
		snap.UserIDs[u.ID] = struct{}{}
	}
	for _, s := range statusCodes {
		snap.Statuses[s] = struct{}{}
	}
	for _, c := range currencies {
		snap.Currencies[c.Code] = c
	}
	for _, p := range products {
		snap.Products[p.Code] = p
	}
	for _, r := range fxRates {
		snap.FXRates[r.QuoteCurrency] = r.Rate
	}
	for _, b := range benchmarks {
		snap.Benchmarks[b.Name] = b.Rate
	}
	for _, sp := range spreads {
		snap.Spreads[sp.Tier] = sp.SpreadBps
	}
	for _, r := range regions {
		snap.Regions[r.Code] = r
		snap.regionsByID[r.ID] = r
	}
	return snap
}

// UserExists reports whether a natural user key is present in the snapshot
func (s *ReferenceSnapshot) UserExists(id int64) bool {
	_, ok := s.UserIDs[id]
	return ok
}

// StatusKnown reports whether a status code is a member of the loan-status
// dimension snapshot
func (s *ReferenceSnapshot) StatusKnown(code string) bool {
	_, ok := s.Statuses[code]
	return ok
}

// CurrencyKnown reports whether a currency code exists in reference data
func (s *ReferenceSnapshot) CurrencyKnown(code string) bool {
	_, ok := s.Currencies[code]
	return ok
}
