package load

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendsight/star-etl/extract"
	"github.com/lendsight/star-etl/transform"
)

// openSentinel marks a dimension row that has not been superseded
const openSentinel = "9999-12-31"

// UpsertResult reports how a dimension batch landed
type UpsertResult struct {
	Inserted int64
	Updated  int64
}

// DimensionLoader resolves staged natural keys into dimension surrogate
// keys. The user dimension is slowly changing (Type 2); the remaining
// dimensions overwrite in place (Type 1).
type DimensionLoader struct {
	pool *pgxpool.Pool
}

// NewDimensionLoader creates a dimension loader
func NewDimensionLoader(pool *pgxpool.Pool) *DimensionLoader {
	return &DimensionLoader{pool: pool}
}

// StatusCodes reads the loan-status dimension for the validator's enum
// snapshot. Statuses added to the dimension are picked up on the next run
// without code changes.
func (d *DimensionLoader) StatusCodes(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT status_code FROM dim_loan_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to read loan status dimension: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan status code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// LoadUserDimension applies SCD Type 2 semantics to the user dimension from
// the run's valid staged rows, as one set-based transaction per batch:
//
//  1. close the current row for every natural key whose tracked attributes
//     changed (effective_to = effectiveDate, is_current = false),
//  2. insert a new current row for every staged key without a current row,
//     which covers both brand-new keys and the keys just closed,
//  3. untouched keys are left alone.
//
// Re-running the same batch is a no-op: nothing differs, so nothing closes
// and nothing inserts.
func (d *DimensionLoader) LoadUserDimension(ctx context.Context, runID int64, effectiveDate time.Time) (UpsertResult, error) {
	var result UpsertResult

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to begin user dimension load: %w", err)
	}
	defer tx.Rollback(ctx)

	closed, err := tx.Exec(ctx, `
		UPDATE dim_user d SET
			effective_to = $2::date,
			is_current   = FALSE
		FROM etl_staging_user s
		WHERE s.run_id = $1 AND s.is_valid
		  AND d.user_id = s.user_id AND d.is_current
		  AND (d.email        IS DISTINCT FROM s.email
		    OR d.full_name    IS DISTINCT FROM s.full_name
		    OR d.role         IS DISTINCT FROM s.role
		    OR d.credit_score IS DISTINCT FROM s.credit_score
		    OR d.credit_tier  IS DISTINCT FROM s.credit_tier
		    OR d.region_path  IS DISTINCT FROM s.region_path
		    OR d.is_active    IS DISTINCT FROM s.is_active)`,
		runID, effectiveDate)
	if err != nil {
		return result, fmt.Errorf("failed to close changed user dimension rows: %w", err)
	}
	result.Updated = closed.RowsAffected()

	inserted, err := tx.Exec(ctx, `
		INSERT INTO dim_user
			(user_id, email, full_name, role, credit_score, credit_tier,
			 region_path, is_active, effective_from, effective_to, is_current)
		SELECT s.user_id, s.email, s.full_name, s.role, s.credit_score,
			s.credit_tier, s.region_path, s.is_active, $2::date, '`+openSentinel+`', TRUE
		FROM etl_staging_user s
		WHERE s.run_id = $1 AND s.is_valid
		  AND NOT EXISTS (
			SELECT 1 FROM dim_user d
			WHERE d.user_id = s.user_id AND d.is_current)`,
		runID, effectiveDate)
	if err != nil {
		return result, fmt.Errorf("failed to insert user dimension rows: %w", err)
	}
	result.Inserted = inserted.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("failed to commit user dimension load: %w", err)
	}
	return result, nil
}

// upsertChangeGuard builds the DO UPDATE guard that skips conflicting rows
// whose incoming values already match the stored ones. Postgres counts every
// DO UPDATE row as affected even when nothing changes, so without the guard
// a no-op run would still report the full dimension size as loaded.
func upsertChangeGuard(cols ...string) string {
	stored := make([]string, len(cols))
	incoming := make([]string, len(cols))
	for i, c := range cols {
		stored[i] = "d." + c
		incoming[i] = "EXCLUDED." + c
	}
	return fmt.Sprintf("WHERE (%s) IS DISTINCT FROM (%s)",
		strings.Join(stored, ", "), strings.Join(incoming, ", "))
}

// UpsertProducts overwrites the loan-product dimension by natural key.
// Unchanged rows are left untouched and not counted.
func (d *DimensionLoader) UpsertProducts(ctx context.Context, products []extract.Product) (int64, error) {
	batch := &pgx.Batch{}
	for _, p := range products {
		var termCategory *string
		if p.MaxTermMonths != nil {
			tc := transform.TermCategory(*p.MaxTermMonths)
			termCategory = &tc
		}
		batch.Queue(`
			INSERT INTO dim_loan_product AS d
				(product_code, product_name, category, term_category,
				 min_amount, max_amount, base_interest_rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (product_code) DO UPDATE SET
				product_name       = EXCLUDED.product_name,
				category           = EXCLUDED.category,
				term_category      = EXCLUDED.term_category,
				min_amount         = EXCLUDED.min_amount,
				max_amount         = EXCLUDED.max_amount,
				base_interest_rate = EXCLUDED.base_interest_rate
			`+upsertChangeGuard("product_name", "category", "term_category",
			"min_amount", "max_amount", "base_interest_rate"),
			p.Code, p.Name, p.Category, termCategory,
			p.MinAmount, p.MaxAmount, p.BaseInterestRate)
	}
	return d.sendUpserts(ctx, batch, "loan product dimension")
}

// UpsertCurrencies overwrites the currency dimension by natural key.
// Unchanged rows are left untouched and not counted.
func (d *DimensionLoader) UpsertCurrencies(ctx context.Context, currencies []extract.Currency) (int64, error) {
	batch := &pgx.Batch{}
	for _, c := range currencies {
		batch.Queue(`
			INSERT INTO dim_currency AS d (currency_code, currency_name, symbol)
			VALUES ($1, $2, $3)
			ON CONFLICT (currency_code) DO UPDATE SET
				currency_name = EXCLUDED.currency_name,
				symbol        = EXCLUDED.symbol
			`+upsertChangeGuard("currency_name", "symbol"),
			c.Code, c.Name, c.Symbol)
	}
	return d.sendUpserts(ctx, batch, "currency dimension")
}

// UpsertRegions overwrites the region dimension by natural key; paths are
// the resolved root-to-leaf adjacency walks supplied by the enricher
func (d *DimensionLoader) UpsertRegions(ctx context.Context, regions []extract.Region, paths map[string]string) (int64, error) {
	byID := make(map[int64]extract.Region, len(regions))
	for _, r := range regions {
		byID[r.ID] = r
	}

	batch := &pgx.Batch{}
	for _, r := range regions {
		var parentCode *string
		if r.ParentID != nil {
			if parent, ok := byID[*r.ParentID]; ok {
				parentCode = &parent.Code
			}
		}
		path := paths[r.Code]
		batch.Queue(`
			INSERT INTO dim_region AS d (region_code, region_name, parent_code, region_path)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (region_code) DO UPDATE SET
				region_name = EXCLUDED.region_name,
				parent_code = EXCLUDED.parent_code,
				region_path = EXCLUDED.region_path
			`+upsertChangeGuard("region_name", "parent_code", "region_path"),
			r.Code, r.Name, parentCode, path)
	}
	return d.sendUpserts(ctx, batch, "region dimension")
}

// EnsureDateRange populates the date dimension for the given span
func (d *DimensionLoader) EnsureDateRange(ctx context.Context, from, to time.Time) error {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO dim_date
			(date_key, full_date, year, quarter, month, day_of_month, day_of_week, is_weekend)
		SELECT
			(EXTRACT(YEAR FROM d)*10000 + EXTRACT(MONTH FROM d)*100 + EXTRACT(DAY FROM d))::int,
			d::date,
			EXTRACT(YEAR FROM d)::int,
			EXTRACT(QUARTER FROM d)::int,
			EXTRACT(MONTH FROM d)::int,
			EXTRACT(DAY FROM d)::int,
			EXTRACT(ISODOW FROM d)::int,
			EXTRACT(ISODOW FROM d) >= 6
		FROM generate_series($1::date, $2::date, interval '1 day') AS d
		ON CONFLICT (date_key) DO NOTHING`,
		from, to)
	if err != nil {
		return fmt.Errorf("failed to populate date dimension: %w", err)
	}
	return nil
}

func (d *DimensionLoader) sendUpserts(ctx context.Context, batch *pgx.Batch, what string) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	results := d.pool.SendBatch(ctx, batch)
	defer results.Close()

	var affected int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			return affected, fmt.Errorf("failed to upsert %s: %w", what, err)
		}
		affected += tag.RowsAffected()
	}
	return affected, nil
}
