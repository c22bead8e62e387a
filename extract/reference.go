package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ReferenceSource reads the slow-changing reference tables. Reference data
// is small and read-only for the pipeline, so every scan is a full scan.
type ReferenceSource struct {
	Connector
}

// NewReferenceSource creates a connector over the reference database
func NewReferenceSource(pool *pgxpool.Pool, timeout time.Duration, maxRetries int) *ReferenceSource {
	return &ReferenceSource{Connector: newConnector(pool, timeout, maxRetries)}
}

// ScanCurrencies reads the currency reference table
func (s *ReferenceSource) ScanCurrencies(ctx context.Context) ([]Currency, error) {
	var currencies []Currency
	err := s.withRetry(ctx, "scan currencies", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT currency_code, currency_name, symbol FROM ref_currency`)
		if err != nil {
			return err
		}
		defer rows.Close()

		currencies = currencies[:0]
		for rows.Next() {
			var c Currency
			if err := rows.Scan(&c.Code, &c.Name, &c.Symbol); err != nil {
				return err
			}
			currencies = append(currencies, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract currencies: %w", err)
	}
	return currencies, nil
}

// ScanProducts reads the loan product reference table
func (s *ReferenceSource) ScanProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	err := s.withRetry(ctx, "scan loan products", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT product_code, product_name, category, min_amount, max_amount,
				max_term_months, base_interest_rate
			 FROM ref_loan_product`)
		if err != nil {
			return err
		}
		defer rows.Close()

		products = products[:0]
		for rows.Next() {
			var p Product
			if err := rows.Scan(&p.Code, &p.Name, &p.Category, &p.MinAmount,
				&p.MaxAmount, &p.MaxTermMonths, &p.BaseInterestRate); err != nil {
				return err
			}
			products = append(products, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract loan products: %w", err)
	}
	return products, nil
}

// ScanRegions reads the self-referential region hierarchy as a flat
// adjacency list; traversal happens downstream in the enricher.
func (s *ReferenceSource) ScanRegions(ctx context.Context) ([]Region, error) {
	var regions []Region
	err := s.withRetry(ctx, "scan regions", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT id, region_code, region_name, parent_id FROM ref_region`)
		if err != nil {
			return err
		}
		defer rows.Close()

		regions = regions[:0]
		for rows.Next() {
			var r Region
			if err := rows.Scan(&r.ID, &r.Code, &r.Name, &r.ParentID); err != nil {
				return err
			}
			regions = append(regions, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract regions: %w", err)
	}
	return regions, nil
}

// ScanCreditTiers reads the credit tier boundary table
func (s *ReferenceSource) ScanCreditTiers(ctx context.Context) ([]CreditTier, error) {
	var tiers []CreditTier
	err := s.withRetry(ctx, "scan credit tiers", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT tier_name, min_score, max_score FROM ref_credit_tier ORDER BY min_score DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		tiers = tiers[:0]
		for rows.Next() {
			var t CreditTier
			if err := rows.Scan(&t.Name, &t.MinScore, &t.MaxScore); err != nil {
				return err
			}
			tiers = append(tiers, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract credit tiers: %w", err)
	}
	return tiers, nil
}
