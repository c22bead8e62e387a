package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// warehouseDDL bootstraps the star schema, staging area and control tables.
// Statements are ordered so later tables can reference earlier ones.
var warehouseDDL = []string{
	// Control tables
	`CREATE TABLE IF NOT EXISTS etl_watermarks (
		source_name     TEXT NOT NULL,
		table_name      TEXT NOT NULL,
		tracking_column TEXT NOT NULL,
		watermark_value TIMESTAMPTZ NOT NULL,
		last_run_id     BIGINT,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (source_name, table_name)
	)`,

	`CREATE TABLE IF NOT EXISTS etl_run_log (
		run_id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		mode             TEXT NOT NULL,
		status           TEXT NOT NULL,
		started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at     TIMESTAMPTZ,
		rows_extracted   BIGINT NOT NULL DEFAULT 0,
		rows_transformed BIGINT NOT NULL DEFAULT 0,
		rows_loaded      BIGINT NOT NULL DEFAULT 0,
		rows_rejected    BIGINT NOT NULL DEFAULT 0,
		error_message    TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS etl_step_log (
		step_id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		run_id           BIGINT NOT NULL REFERENCES etl_run_log(run_id),
		step_name        TEXT NOT NULL,
		step_type        TEXT NOT NULL,
		status           TEXT NOT NULL,
		rows_processed   BIGINT NOT NULL DEFAULT 0,
		rows_inserted    BIGINT NOT NULL DEFAULT 0,
		rows_rejected    BIGINT NOT NULL DEFAULT 0,
		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		error_message    TEXT,
		completed_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS etl_error_log (
		error_id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		run_id            BIGINT NOT NULL,
		step_id           BIGINT,
		error_type        TEXT NOT NULL,
		error_code        TEXT NOT NULL,
		severity          TEXT NOT NULL DEFAULT 'ERROR',
		message           TEXT NOT NULL,
		source_entity     TEXT,
		source_record_key TEXT,
		correlation_id    TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	// Staging area: constraint-free landing zone, one table per entity kind.
	// Holds both valid and invalid records together with their verdicts.
	`CREATE TABLE IF NOT EXISTS etl_staging_user (
		run_id        BIGINT NOT NULL,
		user_id       BIGINT,
		email         TEXT,
		full_name     TEXT,
		role          TEXT,
		credit_score  INT,
		credit_tier   TEXT,
		region_path   TEXT,
		is_active     BOOLEAN,
		is_valid      BOOLEAN NOT NULL,
		error_code    TEXT,
		error_message TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS etl_staging_loan (
		run_id              BIGINT NOT NULL,
		loan_id             BIGINT,
		application_id      BIGINT,
		borrower_id         BIGINT,
		principal_amount    DOUBLE PRECISION,
		principal_usd       DOUBLE PRECISION,
		interest_amount     DOUBLE PRECISION,
		total_amount        DOUBLE PRECISION,
		interest_rate       DOUBLE PRECISION,
		benchmark_spread    DOUBLE PRECISION,
		term_months         INT,
		term_category       TEXT,
		outstanding_balance DOUBLE PRECISION,
		status              TEXT,
		currency_code       TEXT,
		fx_rate             DOUBLE PRECISION,
		event_date          DATE,
		date_key            INT,
		is_valid            BOOLEAN NOT NULL,
		error_code          TEXT,
		error_message       TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS etl_staging_payment (
		run_id             BIGINT NOT NULL,
		repayment_id       BIGINT,
		loan_id            BIGINT,
		installment_number INT,
		due_date           DATE,
		principal_amount   DOUBLE PRECISION,
		interest_amount    DOUBLE PRECISION,
		total_amount       DOUBLE PRECISION,
		paid_amount        DOUBLE PRECISION,
		status             TEXT,
		paid_at            TIMESTAMPTZ,
		date_key           INT,
		is_valid           BOOLEAN NOT NULL,
		error_code         TEXT,
		error_message      TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_staging_user_run ON etl_staging_user (run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_staging_loan_run ON etl_staging_loan (run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_staging_payment_run ON etl_staging_payment (run_id)`,

	// Dimensions
	`CREATE TABLE IF NOT EXISTS dim_date (
		date_key     INT PRIMARY KEY,
		full_date    DATE NOT NULL,
		year         INT NOT NULL,
		quarter      INT NOT NULL,
		month        INT NOT NULL,
		day_of_month INT NOT NULL,
		day_of_week  INT NOT NULL,
		is_weekend   BOOLEAN NOT NULL
	)`,

	// SCD Type 2: history preserved by closing the current row and
	// inserting a new one when a tracked attribute changes.
	`CREATE TABLE IF NOT EXISTS dim_user (
		user_key       BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		user_id        BIGINT NOT NULL,
		email          TEXT,
		full_name      TEXT,
		role           TEXT,
		credit_score   INT,
		credit_tier    TEXT,
		region_path    TEXT,
		is_active      BOOLEAN,
		effective_from DATE NOT NULL,
		effective_to   DATE NOT NULL DEFAULT '9999-12-31',
		is_current     BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_dim_user_current
		ON dim_user (user_id) WHERE is_current`,

	`CREATE TABLE IF NOT EXISTS dim_loan_product (
		product_key        BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		product_code       TEXT NOT NULL UNIQUE,
		product_name       TEXT,
		category           TEXT,
		term_category      TEXT,
		min_amount         DOUBLE PRECISION,
		max_amount         DOUBLE PRECISION,
		base_interest_rate DOUBLE PRECISION
	)`,

	`CREATE TABLE IF NOT EXISTS dim_currency (
		currency_key  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		currency_code TEXT NOT NULL UNIQUE,
		currency_name TEXT,
		symbol        TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS dim_loan_status (
		status_key  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		status_code TEXT NOT NULL UNIQUE,
		category    TEXT,
		is_terminal BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS dim_region (
		region_key  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		region_code TEXT NOT NULL UNIQUE,
		region_name TEXT,
		parent_code TEXT,
		region_path TEXT
	)`,

	// Fact table, range-partitioned on event date. Monthly partitions are
	// created on demand by the fact loader for the dates being loaded.
	`CREATE TABLE IF NOT EXISTS fact_loan_transactions (
		loan_id             BIGINT NOT NULL,
		event_type          TEXT NOT NULL,
		event_date          DATE NOT NULL,
		date_key            INT NOT NULL,
		user_key            BIGINT NOT NULL,
		status_key          BIGINT,
		currency_key        BIGINT,
		principal_amount    DOUBLE PRECISION,
		principal_usd       DOUBLE PRECISION,
		interest_amount     DOUBLE PRECISION,
		total_amount        DOUBLE PRECISION,
		interest_rate       DOUBLE PRECISION,
		benchmark_spread    DOUBLE PRECISION,
		outstanding_balance DOUBLE PRECISION,
		fx_rate             DOUBLE PRECISION,
		term_months         INT,
		run_id              BIGINT NOT NULL,
		loaded_at           TIMESTAMPTZ NOT NULL DEFAULT now()
	) PARTITION BY RANGE (event_date)`,

	`CREATE INDEX IF NOT EXISTS idx_fact_loan_natural
		ON fact_loan_transactions (loan_id, event_type)`,

	`CREATE TABLE IF NOT EXISTS fact_daily_portfolio (
		date_key                  INT PRIMARY KEY,
		snapshot_date             DATE NOT NULL,
		total_users               BIGINT NOT NULL DEFAULT 0,
		active_borrowers          BIGINT NOT NULL DEFAULT 0,
		active_lenders            BIGINT NOT NULL DEFAULT 0,
		total_loans               BIGINT NOT NULL DEFAULT 0,
		active_loans              BIGINT NOT NULL DEFAULT 0,
		loans_defaulted           BIGINT NOT NULL DEFAULT 0,
		loans_paid_off            BIGINT NOT NULL DEFAULT 0,
		total_principal           DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_outstanding         DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_repaid              DOUBLE PRECISION NOT NULL DEFAULT 0,
		default_rate              DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_loan_size             DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_interest_rate         DOUBLE PRECISION NOT NULL DEFAULT 0,
		weighted_avg_credit_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		refreshed_at              TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// statusSeed gives the loan-status dimension an initial population so the
// validator's enum lookup has data on a fresh warehouse. New statuses added
// to the dimension afterwards are picked up without code changes.
var statusSeed = `
	INSERT INTO dim_loan_status (status_code, category, is_terminal) VALUES
		('pending',   'origination', FALSE),
		('approved',  'origination', FALSE),
		('rejected',  'origination', TRUE),
		('withdrawn', 'origination', TRUE),
		('active',    'servicing',   FALSE),
		('paid_off',  'servicing',   TRUE),
		('defaulted', 'servicing',   TRUE),
		('cancelled', 'servicing',   TRUE)
	ON CONFLICT (status_code) DO NOTHING
`

// InitSchema creates the warehouse tables if they don't exist
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range warehouseDDL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap warehouse schema: %w", err)
		}
	}
	if _, err := pool.Exec(ctx, statusSeed); err != nil {
		return fmt.Errorf("failed to seed loan status dimension: %w", err)
	}
	log.Println("Warehouse schema ready")
	return nil
}
