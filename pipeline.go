package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendsight/star-etl/extract"
	"github.com/lendsight/star-etl/load"
	"github.com/lendsight/star-etl/transform"
)

// RunState is the orchestrator's state machine position. FAILED is reachable
// from any non-terminal state; everything else advances strictly forward.
type RunState string

const (
	StatePending      RunState = "PENDING"
	StateExtracting   RunState = "EXTRACTING"
	StateTransforming RunState = "TRANSFORMING"
	StateLoading      RunState = "LOADING"
	StateRefreshing   RunState = "REFRESHING"
	StateSucceeded    RunState = "SUCCEEDED"
	StateFailed       RunState = "FAILED"
)

// Run modes accepted by the invocation surface
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// reasonCancelled distinguishes a cooperative cancellation from a step failure
const reasonCancelled = "CANCELLED"

// NextState returns the successor of a non-terminal state. The second return
// is false for terminal states, which have no successor.
func NextState(s RunState) (RunState, bool) {
	switch s {
	case StatePending:
		return StateExtracting, true
	case StateExtracting:
		return StateTransforming, true
	case StateTransforming:
		return StateLoading, true
	case StateLoading:
		return StateRefreshing, true
	case StateRefreshing:
		return StateSucceeded, true
	default:
		return s, false
	}
}

// IsTerminal reports whether a state ends the run
func IsTerminal(s RunState) bool {
	return s == StateSucceeded || s == StateFailed
}

// RunReport is the outcome of one pipeline run
type RunReport struct {
	RunID    int64
	Mode     string
	State    RunState
	Counts   RunCounts
	Duration time.Duration
	Err      error
}

// Summary renders the one-line result printed by the invocation surface
func (r RunReport) Summary() string {
	s := fmt.Sprintf("run %d (%s) %s: extracted=%d transformed=%d loaded=%d rejected=%d",
		r.RunID, r.Mode, r.State,
		r.Counts.Extracted, r.Counts.Transformed, r.Counts.Loaded, r.Counts.Rejected)
	if r.Err != nil {
		s += fmt.Sprintf(" error=%q", r.Err.Error())
	}
	return s
}

// extraction carries one run's extracted source state between steps
type extraction struct {
	users        []extract.User
	loans        []extract.Loan
	applications []extract.Application
	ledger       []extract.LedgerEntry
	repayments   []extract.Repayment

	currencies []extract.Currency
	products   []extract.Product
	regions    []extract.Region
	tiers      []extract.CreditTier

	fxRates    []extract.FXRate
	benchmarks []extract.Benchmark
	spreads    []extract.CreditSpread

	// watermark candidates per transactional table; zero when no rows
	watermarks map[extract.Table]time.Time

	total int64
}

// Pipeline sequences extract → validate/enrich → stage → resolve/load →
// refresh under a single run id, committing each step independently.
// Watermarks advance only when the whole run succeeds.
type Pipeline struct {
	cfg *Config

	txSource  *extract.TransactionSource
	refSource *extract.ReferenceSource
	mktSource *extract.MarketSource

	watermarks *WatermarkStore
	runLog     *RunLog
	staging    *load.StagingWriter
	dims       *load.DimensionLoader
	facts      *load.FactLoader
	snapshot   *load.SnapshotRefresher
}

// NewPipeline wires the pipeline over the source and warehouse pools
func NewPipeline(cfg *Config, sourcePool, warehousePool *pgxpool.Pool) *Pipeline {
	timeout := cfg.QueryTimeout()
	retries := cfg.ETL.MaxRetries
	return &Pipeline{
		cfg:        cfg,
		txSource:   extract.NewTransactionSource(sourcePool, timeout, retries),
		refSource:  extract.NewReferenceSource(sourcePool, timeout, retries),
		mktSource:  extract.NewMarketSource(sourcePool, timeout, retries),
		watermarks: NewWatermarkStore(warehousePool),
		runLog:     NewRunLog(warehousePool),
		staging:    load.NewStagingWriter(warehousePool, cfg.ETL.BatchSize),
		dims:       load.NewDimensionLoader(warehousePool),
		facts:      load.NewFactLoader(warehousePool),
		snapshot:   load.NewSnapshotRefresher(warehousePool),
	}
}

// Run executes one complete pipeline run in the given mode
func (p *Pipeline) Run(ctx context.Context, mode string) RunReport {
	started := time.Now()
	report := RunReport{Mode: mode, State: StatePending}

	if mode != ModeFull && mode != ModeIncremental {
		report.State = StateFailed
		report.Err = fmt.Errorf("unknown mode %q", mode)
		return report
	}

	// The advisory lock on the watermark set is held from here through
	// load; overlapping runs against the same watermarks are refused.
	if err := p.watermarks.AcquireRunLock(ctx); err != nil {
		report.State = StateFailed
		report.Err = err
		return report
	}
	defer func() {
		if err := p.watermarks.ReleaseRunLock(context.WithoutCancel(ctx)); err != nil {
			log.Printf("Failed to release run lock: %v", err)
		}
	}()

	runID, err := p.runLog.StartRun(ctx, mode)
	if err != nil {
		report.State = StateFailed
		report.Err = err
		return report
	}
	report.RunID = runID
	log.Printf("ETL run %d started (mode=%s, correlation=%s)", runID, mode, p.runLog.CorrelationID())

	report.State = StateExtracting
	ext, err := p.runExtract(ctx, runID, mode)
	if err != nil {
		return p.failRun(ctx, report, started, "extract", err)
	}
	report.Counts.Extracted = ext.total

	if err := p.checkpoint(ctx); err != nil {
		return p.failRun(ctx, report, started, "extract", err)
	}

	report.State = StateTransforming
	transformed, rejected, err := p.runTransform(ctx, runID, ext)
	if err != nil {
		return p.failRun(ctx, report, started, "transform", err)
	}
	report.Counts.Transformed = transformed
	report.Counts.Rejected = rejected

	if err := p.checkpoint(ctx); err != nil {
		return p.failRun(ctx, report, started, "transform", err)
	}

	report.State = StateLoading
	loaded, err := p.runLoad(ctx, runID, ext)
	if err != nil {
		return p.failRun(ctx, report, started, "load", err)
	}
	report.Counts.Loaded = loaded

	if err := p.checkpoint(ctx); err != nil {
		return p.failRun(ctx, report, started, "load", err)
	}

	report.State = StateRefreshing
	if err := p.runRefresh(ctx, runID); err != nil {
		return p.failRun(ctx, report, started, "refresh", err)
	}

	// Housekeeping after a successful load: drop the run's staging rows and
	// advance the watermarks. Watermarks move only on this path.
	if err := p.staging.Clear(ctx, runID); err != nil {
		log.Printf("Failed to clear staging for run %d: %v", runID, err)
	}
	if err := p.advanceWatermarks(ctx, runID, ext); err != nil {
		return p.failRun(ctx, report, started, "watermark", err)
	}

	report.State = StateSucceeded
	report.Duration = time.Since(started)
	if err := p.runLog.CompleteRun(ctx, runID, StateSucceeded, report.Counts, ""); err != nil {
		log.Printf("Failed to finalize run log for run %d: %v", runID, err)
	}
	observeRun(report)
	log.Printf("ETL run %d succeeded in %v", runID, report.Duration.Round(time.Millisecond))
	return report
}

// checkpoint is the cooperative cancellation point between steps
func (p *Pipeline) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", reasonCancelled, err)
	}
	return nil
}

// failRun marks the run FAILED, preserving whatever prior steps committed.
// Completed steps are not rolled back; the next run resumes from the last
// advanced watermark.
func (p *Pipeline) failRun(ctx context.Context, report RunReport, started time.Time, step string, err error) RunReport {
	report.State = StateFailed
	report.Err = err
	report.Duration = time.Since(started)

	// Use a detached context so a cancelled run can still write its audit trail.
	logCtx := context.WithoutCancel(ctx)
	severity := "CRITICAL"
	errType := "step_failure"
	if ctx.Err() != nil {
		errType = reasonCancelled
		severity = "WARNING"
	}
	p.runLog.LogError(logCtx, report.RunID, 0, errType, "STEP_FAILED", severity, err.Error(), step, "")
	if cerr := p.runLog.CompleteRun(logCtx, report.RunID, StateFailed, report.Counts, err.Error()); cerr != nil {
		log.Printf("Failed to finalize run log for run %d: %v", report.RunID, cerr)
	}
	if cerr := p.staging.Clear(logCtx, report.RunID); cerr != nil {
		log.Printf("Failed to clear staging for abandoned run %d: %v", report.RunID, cerr)
	}
	observeRun(report)
	log.Printf("ETL run %d failed in step %s: %v", report.RunID, step, err)
	return report
}

// runExtract pulls the three source categories concurrently. They are
// independent read paths with no shared mutable state, so the only
// synchronization is joining the results.
func (p *Pipeline) runExtract(ctx context.Context, runID int64, mode string) (*extraction, error) {
	ext := &extraction{watermarks: make(map[extract.Table]time.Time)}

	marks, err := p.readWatermarks(ctx, mode)
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		errs <- p.extractTransactional(ctx, runID, mode, marks, ext)
	}()
	go func() {
		defer wg.Done()
		errs <- p.extractReference(ctx, runID, ext)
	}()
	go func() {
		defer wg.Done()
		errs <- p.extractMarket(ctx, runID, ext)
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	ext.total = int64(len(ext.users) + len(ext.loans) + len(ext.applications) +
		len(ext.ledger) + len(ext.repayments) +
		len(ext.currencies) + len(ext.products) + len(ext.regions) + len(ext.tiers) +
		len(ext.fxRates) + len(ext.benchmarks) + len(ext.spreads))

	log.Printf("Extract complete: %d rows across 12 source tables", ext.total)
	return ext, nil
}

// readWatermarks loads the stored high-water marks for incremental mode.
// Full mode ignores them and rescans everything.
func (p *Pipeline) readWatermarks(ctx context.Context, mode string) (map[extract.Table]time.Time, error) {
	marks := make(map[extract.Table]time.Time)
	if mode != ModeIncremental {
		return marks, nil
	}
	for _, table := range []extract.Table{
		extract.TableUsers, extract.TableLoans, extract.TableApplications,
		extract.TableLedger, extract.TableRepayments,
	} {
		value, ok, err := p.watermarks.Get(ctx, table.Source, table.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			marks[table] = value
		}
	}
	return marks, nil
}

func (p *Pipeline) extractTransactional(ctx context.Context, runID int64, mode string,
	marks map[extract.Table]time.Time, ext *extraction) error {

	incremental := func(table extract.Table) (time.Time, bool) {
		if mode != ModeIncremental {
			return time.Time{}, false
		}
		wm, ok := marks[table]
		return wm, ok
	}

	var err error
	if wm, ok := incremental(extract.TableUsers); ok {
		ext.users, err = p.txSource.ScanUsersIncremental(ctx, wm)
	} else {
		ext.users, err = p.txSource.ScanUsersFull(ctx)
	}
	if err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_users", int64(len(ext.users)))
	ext.watermarks[extract.TableUsers] = extract.Watermark(ext.users)

	if wm, ok := incremental(extract.TableLoans); ok {
		ext.loans, err = p.txSource.ScanLoansIncremental(ctx, wm)
	} else {
		ext.loans, err = p.txSource.ScanLoansFull(ctx)
	}
	if err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_loans", int64(len(ext.loans)))
	ext.watermarks[extract.TableLoans] = extract.Watermark(ext.loans)

	if wm, ok := incremental(extract.TableApplications); ok {
		ext.applications, err = p.txSource.ScanApplicationsIncremental(ctx, wm)
	} else {
		ext.applications, err = p.txSource.ScanApplicationsFull(ctx)
	}
	if err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_loan_applications", int64(len(ext.applications)))
	ext.watermarks[extract.TableApplications] = extract.Watermark(ext.applications)

	if wm, ok := incremental(extract.TableLedger); ok {
		ext.ledger, err = p.txSource.ScanLedgerIncremental(ctx, wm)
	} else {
		ext.ledger, err = p.txSource.ScanLedgerFull(ctx)
	}
	if err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_transaction_ledger", int64(len(ext.ledger)))
	ext.watermarks[extract.TableLedger] = extract.Watermark(ext.ledger)

	if wm, ok := incremental(extract.TableRepayments); ok {
		ext.repayments, err = p.txSource.ScanRepaymentsIncremental(ctx, wm)
	} else {
		ext.repayments, err = p.txSource.ScanRepaymentsFull(ctx)
	}
	if err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_repayment_schedule", int64(len(ext.repayments)))
	ext.watermarks[extract.TableRepayments] = extract.Watermark(ext.repayments)

	return nil
}

func (p *Pipeline) extractReference(ctx context.Context, runID int64, ext *extraction) error {
	var err error
	if ext.currencies, err = p.refSource.ScanCurrencies(ctx); err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_ref_currency", int64(len(ext.currencies)))

	if ext.products, err = p.refSource.ScanProducts(ctx); err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_ref_loan_product", int64(len(ext.products)))

	if ext.regions, err = p.refSource.ScanRegions(ctx); err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_ref_region", int64(len(ext.regions)))

	if ext.tiers, err = p.refSource.ScanCreditTiers(ctx); err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_ref_credit_tier", int64(len(ext.tiers)))
	return nil
}

func (p *Pipeline) extractMarket(ctx context.Context, runID int64, ext *extraction) error {
	var err error
	if ext.fxRates, err = p.mktSource.ScanFXRates(ctx); err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_market_fx_rates", int64(len(ext.fxRates)))

	if ext.benchmarks, err = p.mktSource.ScanBenchmarks(ctx); err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_market_benchmarks", int64(len(ext.benchmarks)))

	if ext.spreads, err = p.mktSource.ScanCreditSpreads(ctx); err != nil {
		return err
	}
	p.logExtractStep(ctx, runID, "extract_market_credit_spreads", int64(len(ext.spreads)))
	return nil
}

func (p *Pipeline) logExtractStep(ctx context.Context, runID int64, name string, rows int64) {
	if _, err := p.runLog.LogStep(ctx, runID, name, "extract", "success", rows, 0, 0, 0, ""); err != nil {
		log.Printf("Failed to log step %s: %v", name, err)
	}
}

// runTransform validates and enriches the extracted records against the
// reference snapshot and writes the landing zone. Invalid records are staged
// with their verdicts (reject-and-continue), never dropped.
func (p *Pipeline) runTransform(ctx context.Context, runID int64, ext *extraction) (transformed, rejected int64, err error) {
	stepStart := time.Now()

	statusCodes, err := p.dims.StatusCodes(ctx)
	if err != nil {
		return 0, 0, err
	}
	snap := transform.NewReferenceSnapshot(
		ext.users, statusCodes, ext.currencies, ext.products, ext.tiers,
		ext.fxRates, ext.benchmarks, ext.spreads, ext.regions)

	// Duplicate detection runs before the fan-out: last-write-wins needs
	// extraction order, the per-record rules don't. Superseded occurrences
	// are staged invalid alongside the surviving records.
	users, userDupRows, userDups := transform.DedupeUsers(ext.users)
	loans, loanDupRows, loanDups := transform.DedupeLoans(ext.loans)

	stagedUsers, userErrs := p.transformUsers(users, snap)
	stagedLoans, loanErrs := p.transformLoans(loans, snap)
	stagedPayments, paymentErrs := p.transformPayments(ext.repayments)

	stagedUsers = append(stagedUsers, supersededUserRows(userDupRows, userDups)...)
	stagedLoans = append(stagedLoans, supersededLoanRows(loanDupRows, loanDups)...)

	stepID, logErr := p.runLog.LogStep(ctx, runID, "transform_validate", "transform", "success",
		int64(len(ext.users)+len(ext.loans)+len(ext.repayments)), 0,
		int64(len(userErrs)+len(loanErrs)+len(paymentErrs)+len(userDups)+len(loanDups)),
		time.Since(stepStart), "")
	if logErr != nil {
		log.Printf("Failed to log transform step: %v", logErr)
	}

	for _, e := range userDups {
		p.runLog.LogError(ctx, runID, stepID, "validation", e.Code, "WARNING", e.Message, e.Entity, e.RecordKey)
	}
	for _, e := range loanDups {
		p.runLog.LogError(ctx, runID, stepID, "validation", e.Code, "WARNING", e.Message, e.Entity, e.RecordKey)
	}
	for _, e := range userErrs {
		p.runLog.LogError(ctx, runID, stepID, "validation", e.Code, "ERROR", e.Message, e.Entity, e.RecordKey)
	}
	for _, e := range loanErrs {
		p.runLog.LogError(ctx, runID, stepID, "validation", e.Code, "ERROR", e.Message, e.Entity, e.RecordKey)
	}
	for _, e := range paymentErrs {
		p.runLog.LogError(ctx, runID, stepID, "validation", e.Code, "ERROR", e.Message, e.Entity, e.RecordKey)
	}

	// Staging writes per entity kind are serialized; only validation and
	// enrichment fan out across workers.
	stageStart := time.Now()
	usersStaged, err := p.staging.StageUsers(ctx, runID, stagedUsers)
	if err != nil {
		return 0, 0, err
	}
	loansStaged, err := p.staging.StageLoans(ctx, runID, stagedLoans)
	if err != nil {
		return 0, 0, err
	}
	paymentsStaged, err := p.staging.StagePayments(ctx, runID, stagedPayments)
	if err != nil {
		return 0, 0, err
	}
	totalStaged := usersStaged + loansStaged + paymentsStaged
	if _, err := p.runLog.LogStep(ctx, runID, "stage_records", "stage", "success",
		totalStaged, totalStaged, 0, time.Since(stageStart), ""); err != nil {
		log.Printf("Failed to log staging step: %v", err)
	}

	for _, u := range stagedUsers {
		if u.IsValid {
			transformed++
		} else {
			rejected++
		}
	}
	for _, l := range stagedLoans {
		if l.IsValid {
			transformed++
		} else {
			rejected++
		}
	}
	for _, pm := range stagedPayments {
		if pm.IsValid {
			transformed++
		} else {
			rejected++
		}
	}

	log.Printf("Transform complete: %d valid, %d rejected", transformed, rejected)
	return transformed, rejected, nil
}

// supersededUserRows converts the duplicate occurrences removed by dedupe
// into invalid staged rows carrying their DUPLICATE_KEY verdicts, so
// superseded records land in the zone with every other rejection
func supersededUserRows(users []extract.User, dups []transform.ValidationError) []load.StagedUser {
	rows := make([]load.StagedUser, 0, len(users))
	for i, u := range users {
		code, msg := dups[i].Code, dups[i].Message
		rows = append(rows, load.StagedUser{
			UserID:       u.ID,
			Email:        u.Email,
			FullName:     u.FullName,
			Role:         u.Role,
			CreditScore:  u.CreditScore,
			IsActive:     u.IsActive,
			IsValid:      false,
			ErrorCode:    &code,
			ErrorMessage: &msg,
		})
	}
	return rows
}

// supersededLoanRows converts duplicate loan occurrences into invalid staged
// rows, mirroring supersededUserRows
func supersededLoanRows(loans []extract.Loan, dups []transform.ValidationError) []load.StagedLoan {
	rows := make([]load.StagedLoan, 0, len(loans))
	for i, l := range loans {
		code, msg := dups[i].Code, dups[i].Message
		row := load.StagedLoan{
			LoanID:             l.ID,
			ApplicationID:      l.ApplicationID,
			BorrowerID:         l.BorrowerID,
			PrincipalAmount:    l.PrincipalAmount,
			InterestRate:       l.InterestRate,
			TermMonths:         l.TermMonths,
			OutstandingBalance: l.OutstandingBalance,
			Status:             l.Status,
			EventDate:          transform.EventDate(l),
			IsValid:            false,
			ErrorCode:          &code,
			ErrorMessage:       &msg,
		}
		row.DateKey = transform.DateKey(row.EventDate)
		if l.CurrencyCode != nil {
			row.CurrencyCode = *l.CurrencyCode
		}
		rows = append(rows, row)
	}
	return rows
}

// transformUsers fans validation and enrichment out across workers. Results
// land in pre-sized slots so no ordering or locking is needed.
func (p *Pipeline) transformUsers(users []extract.User, snap *transform.ReferenceSnapshot) ([]load.StagedUser, []transform.ValidationError) {
	staged := make([]load.StagedUser, len(users))
	errsPerRecord := make([][]transform.ValidationError, len(users))

	p.fanOut(len(users), func(i int) {
		u := users[i]
		verdict := transform.ValidateUser(u, snap)
		row := load.StagedUser{
			UserID:      u.ID,
			Email:       u.Email,
			FullName:    u.FullName,
			Role:        u.Role,
			CreditScore: u.CreditScore,
			IsActive:    u.IsActive,
			IsValid:     verdict.Valid(),
		}
		if verdict.Valid() {
			enriched := transform.EnrichUser(u, snap)
			row.CreditTier = enriched.CreditTier
			row.RegionPath = enriched.RegionPath
		} else {
			code, msg := verdict.Code(), verdict.Message()
			row.ErrorCode, row.ErrorMessage = &code, &msg
			// One audit entry per rejected record: the earliest failing
			// rule, matching the code staged on the row.
			errsPerRecord[i] = verdict.Errors[:1]
		}
		staged[i] = row
	})

	var errs []transform.ValidationError
	for _, recordErrs := range errsPerRecord {
		errs = append(errs, recordErrs...)
	}
	return staged, errs
}

func (p *Pipeline) transformLoans(loans []extract.Loan, snap *transform.ReferenceSnapshot) ([]load.StagedLoan, []transform.ValidationError) {
	staged := make([]load.StagedLoan, len(loans))
	errsPerRecord := make([][]transform.ValidationError, len(loans))

	p.fanOut(len(loans), func(i int) {
		l := loans[i]
		verdict := transform.ValidateLoan(l, snap)
		row := load.StagedLoan{
			LoanID:             l.ID,
			ApplicationID:      l.ApplicationID,
			BorrowerID:         l.BorrowerID,
			PrincipalAmount:    l.PrincipalAmount,
			InterestRate:       l.InterestRate,
			TermMonths:         l.TermMonths,
			OutstandingBalance: l.OutstandingBalance,
			Status:             l.Status,
			EventDate:          transform.EventDate(l),
			IsValid:            verdict.Valid(),
		}
		row.DateKey = transform.DateKey(row.EventDate)
		if verdict.Valid() {
			enriched := transform.EnrichLoan(l, snap)
			row.PrincipalUSD = enriched.PrincipalUSD
			row.InterestAmount = enriched.InterestAmount
			row.TotalAmount = enriched.TotalAmount
			row.BenchmarkSpread = enriched.BenchmarkSpread
			row.TermCategory = enriched.TermCategory
			row.CurrencyCode = enriched.CurrencyCode
			row.FXRate = enriched.FXRate
		} else {
			if l.CurrencyCode != nil {
				row.CurrencyCode = *l.CurrencyCode
			}
			code, msg := verdict.Code(), verdict.Message()
			row.ErrorCode, row.ErrorMessage = &code, &msg
			errsPerRecord[i] = verdict.Errors[:1]
		}
		staged[i] = row
	})

	var errs []transform.ValidationError
	for _, recordErrs := range errsPerRecord {
		errs = append(errs, recordErrs...)
	}
	return staged, errs
}

func (p *Pipeline) transformPayments(repayments []extract.Repayment) ([]load.StagedPayment, []transform.ValidationError) {
	staged := make([]load.StagedPayment, len(repayments))
	errsPerRecord := make([][]transform.ValidationError, len(repayments))

	p.fanOut(len(repayments), func(i int) {
		r := repayments[i]
		verdict := transform.ValidateRepayment(r)
		row := load.StagedPayment{
			RepaymentID:       r.ID,
			LoanID:            r.LoanID,
			InstallmentNumber: r.InstallmentNumber,
			DueDate:           r.DueDate,
			PrincipalAmount:   r.PrincipalAmount,
			InterestAmount:    r.InterestAmount,
			TotalAmount:       r.TotalAmount,
			PaidAmount:        r.PaidAmount,
			Status:            r.Status,
			PaidAt:            r.PaidAt,
			IsValid:           verdict.Valid(),
		}
		var due time.Time
		if r.DueDate != nil {
			due = *r.DueDate
		}
		row.DateKey = transform.DateKey(due)
		if !verdict.Valid() {
			code, msg := verdict.Code(), verdict.Message()
			row.ErrorCode, row.ErrorMessage = &code, &msg
			errsPerRecord[i] = verdict.Errors[:1]
		}
		staged[i] = row
	})

	var errs []transform.ValidationError
	for _, recordErrs := range errsPerRecord {
		errs = append(errs, recordErrs...)
	}
	return staged, errs
}

// fanOut distributes n independent record transforms across the configured
// worker count
func (p *Pipeline) fanOut(n int, work func(i int)) {
	if n == 0 {
		return
	}
	workers := max(1, min(p.cfg.ETL.Workers, n))

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				work(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// runLoad resolves dimensions then loads facts. It only begins once all
// staging writes for the run are complete, and the fact insert runs after
// dimension resolution because facts join the surrogate keys resolved in
// the same run.
func (p *Pipeline) runLoad(ctx context.Context, runID int64, ext *extraction) (int64, error) {
	var loaded int64
	today := time.Now().UTC()

	minDate, maxDate := stagedDateSpan(ext.loans)
	if err := p.dims.EnsureDateRange(ctx, minDate, maxDate.AddDate(0, 0, 1)); err != nil {
		return 0, err
	}

	stepStart := time.Now()
	userResult, err := p.dims.LoadUserDimension(ctx, runID, today)
	if err != nil {
		p.logLoadFailure(ctx, runID, "load_dim_user", err)
		return 0, err
	}
	loaded += userResult.Inserted + userResult.Updated
	if _, err := p.runLog.LogStep(ctx, runID, "load_dim_user", "load", "success",
		userResult.Inserted+userResult.Updated, userResult.Inserted, 0, time.Since(stepStart), ""); err != nil {
		log.Printf("Failed to log dimension step: %v", err)
	}

	type upsert struct {
		name string
		fn   func() (int64, error)
	}
	for _, u := range []upsert{
		{"load_dim_loan_product", func() (int64, error) { return p.dims.UpsertProducts(ctx, ext.products) }},
		{"load_dim_currency", func() (int64, error) { return p.dims.UpsertCurrencies(ctx, ext.currencies) }},
		{"load_dim_region", func() (int64, error) {
			snap := transform.NewReferenceSnapshot(nil, nil, nil, nil, nil, nil, nil, nil, ext.regions)
			paths := make(map[string]string, len(ext.regions))
			for _, r := range ext.regions {
				paths[r.Code] = snap.RegionPath(r.Code)
			}
			return p.dims.UpsertRegions(ctx, ext.regions, paths)
		}},
	} {
		stepStart := time.Now()
		n, err := u.fn()
		if err != nil {
			p.logLoadFailure(ctx, runID, u.name, err)
			return loaded, err
		}
		loaded += n
		if _, err := p.runLog.LogStep(ctx, runID, u.name, "load", "success",
			n, n, 0, time.Since(stepStart), ""); err != nil {
			log.Printf("Failed to log dimension step: %v", err)
		}
	}

	stepStart = time.Now()
	factResult, err := p.facts.LoadLoanFacts(ctx, runID)
	if err != nil {
		p.logLoadFailure(ctx, runID, "load_fact_loan_transactions", err)
		return loaded, err
	}
	loaded += factResult.Loaded
	if factResult.Skipped > 0 {
		// Cross-run duplicates: already-loaded natural identities from a
		// prior run. Skipped by design, surfaced for audit.
		p.runLog.LogError(ctx, runID, 0, "load", "DUPLICATE_FACT", "WARNING",
			fmt.Sprintf("%d fact rows already present, skipped", factResult.Skipped),
			"fact_loan_transactions", "")
	}
	// Valid loans whose borrower has no current dimension row cannot join a
	// surrogate key this run; each one gets its own error entry so it never
	// vanishes silently.
	for _, e := range unresolvedBorrowerErrors(factResult.UnresolvedBorrowers) {
		p.runLog.LogError(ctx, runID, 0, "load", e.Code, "ERROR", e.Message, e.Entity, e.RecordKey)
	}
	unresolved := int64(len(factResult.UnresolvedBorrowers))
	if _, err := p.runLog.LogStep(ctx, runID, "load_fact_loan_transactions", "load", "success",
		factResult.Loaded+factResult.Skipped+unresolved, factResult.Loaded,
		factResult.Skipped+unresolved, time.Since(stepStart), ""); err != nil {
		log.Printf("Failed to log fact step: %v", err)
	}

	log.Printf("Load complete: %d rows (facts loaded=%d skipped=%d unresolved=%d)",
		loaded, factResult.Loaded, factResult.Skipped, unresolved)
	return loaded, nil
}

// unresolvedBorrowerErrors builds one error-log entry per valid staged loan
// whose borrower never resolved to a current user dimension row
func unresolvedBorrowerErrors(loanIDs []int64) []transform.ValidationError {
	errs := make([]transform.ValidationError, 0, len(loanIDs))
	for _, id := range loanIDs {
		errs = append(errs, transform.ValidationError{
			Entity:    "loan",
			RecordKey: strconv.FormatInt(id, 10),
			Field:     "borrower_id",
			Code:      transform.CodeUnresolvedBorrower,
			Message:   fmt.Sprintf("loan %d is valid but its borrower has no current user dimension row", id),
		})
	}
	return errs
}

func (p *Pipeline) logLoadFailure(ctx context.Context, runID int64, step string, err error) {
	logCtx := context.WithoutCancel(ctx)
	stepID, logErr := p.runLog.LogStep(logCtx, runID, step, "load", "failed", 0, 0, 0, 0, err.Error())
	if logErr != nil {
		log.Printf("Failed to log failed step %s: %v", step, logErr)
	}
	p.runLog.LogError(logCtx, runID, stepID, "load", "LOAD_STEP_FAILED", "CRITICAL", err.Error(), step, "")
}

// runRefresh replaces today's portfolio snapshot
func (p *Pipeline) runRefresh(ctx context.Context, runID int64) error {
	stepStart := time.Now()
	if err := p.snapshot.Refresh(ctx, time.Now().UTC()); err != nil {
		p.logLoadFailure(ctx, runID, "refresh_fact_daily_portfolio", err)
		return err
	}
	if _, err := p.runLog.LogStep(ctx, runID, "refresh_fact_daily_portfolio", "refresh", "success",
		1, 1, 0, time.Since(stepStart), ""); err != nil {
		log.Printf("Failed to log refresh step: %v", err)
	}
	return nil
}

// advanceWatermarks moves the high-water marks for every transactional table
// that produced rows this run. Tables with no new rows keep their mark.
func (p *Pipeline) advanceWatermarks(ctx context.Context, runID int64, ext *extraction) error {
	for table, mark := range ext.watermarks {
		if mark.IsZero() {
			continue
		}
		if err := p.watermarks.Advance(ctx, table.Source, table.Name, table.TrackingColumn, mark, runID); err != nil {
			return err
		}
		log.Printf("Watermark advanced: %s.%s -> %s", table.Source, table.Name, mark.Format(time.RFC3339))
	}
	return nil
}

// stagedDateSpan returns the min and max event dates across extracted loans
func stagedDateSpan(loans []extract.Loan) (time.Time, time.Time) {
	var minDate, maxDate time.Time
	for _, l := range loans {
		d := transform.EventDate(l)
		if minDate.IsZero() || d.Before(minDate) {
			minDate = d
		}
		if d.After(maxDate) {
			maxDate = d
		}
	}
	return minDate, maxDate
}
