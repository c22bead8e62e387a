package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MarketSource reads the externally supplied market-rate feeds. Each feed is
// append-only upstream; the pipeline always takes the latest effective set.
type MarketSource struct {
	Connector
}

// NewMarketSource creates a connector over the market database
func NewMarketSource(pool *pgxpool.Pool, timeout time.Duration, maxRetries int) *MarketSource {
	return &MarketSource{Connector: newConnector(pool, timeout, maxRetries)}
}

// ScanFXRates reads the FX rates for the most recent rate date
func (s *MarketSource) ScanFXRates(ctx context.Context) ([]FXRate, error) {
	var rates []FXRate
	err := s.withRetry(ctx, "scan fx rates", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT quote_currency, rate, rate_date FROM market_fx_rates
			 WHERE rate_date = (SELECT MAX(rate_date) FROM market_fx_rates)`)
		if err != nil {
			return err
		}
		defer rows.Close()

		rates = rates[:0]
		for rows.Next() {
			var r FXRate
			if err := rows.Scan(&r.QuoteCurrency, &r.Rate, &r.RateDate); err != nil {
				return err
			}
			rates = append(rates, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract fx rates: %w", err)
	}
	return rates, nil
}

// ScanBenchmarks reads the interest benchmarks for the most recent effective date
func (s *MarketSource) ScanBenchmarks(ctx context.Context) ([]Benchmark, error) {
	var benchmarks []Benchmark
	err := s.withRetry(ctx, "scan interest benchmarks", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT benchmark_name, rate, effective_date FROM market_interest_benchmarks
			 WHERE effective_date = (SELECT MAX(effective_date) FROM market_interest_benchmarks)`)
		if err != nil {
			return err
		}
		defer rows.Close()

		benchmarks = benchmarks[:0]
		for rows.Next() {
			var b Benchmark
			if err := rows.Scan(&b.Name, &b.Rate, &b.EffectiveDate); err != nil {
				return err
			}
			benchmarks = append(benchmarks, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract interest benchmarks: %w", err)
	}
	return benchmarks, nil
}

// ScanCreditSpreads reads the credit spreads for the most recent effective date
func (s *MarketSource) ScanCreditSpreads(ctx context.Context) ([]CreditSpread, error) {
	var spreads []CreditSpread
	err := s.withRetry(ctx, "scan credit spreads", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT credit_tier, spread_bps, effective_date FROM market_credit_spreads
			 WHERE effective_date = (SELECT MAX(effective_date) FROM market_credit_spreads)`)
		if err != nil {
			return err
		}
		defer rows.Close()

		spreads = spreads[:0]
		for rows.Next() {
			var sp CreditSpread
			if err := rows.Scan(&sp.Tier, &sp.SpreadBps, &sp.EffectiveDate); err != nil {
				return err
			}
			spreads = append(spreads, sp)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract credit spreads: %w", err)
	}
	return spreads, nil
}
