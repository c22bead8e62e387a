package main

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lendsight/star-etl/extract"
	"github.com/lendsight/star-etl/transform"
)

func TestNextState(t *testing.T) {
	tests := []struct {
		state RunState
		want  RunState
		ok    bool
	}{
		{StatePending, StateExtracting, true},
		{StateExtracting, StateTransforming, true},
		{StateTransforming, StateLoading, true},
		{StateLoading, StateRefreshing, true},
		{StateRefreshing, StateSucceeded, true},
		{StateSucceeded, StateSucceeded, false},
		{StateFailed, StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			got, ok := NextState(tt.state)
			if got != tt.want || ok != tt.ok {
				t.Errorf("NextState(%s) = (%s, %v), want (%s, %v)", tt.state, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []RunState{StateSucceeded, StateFailed}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	live := []RunState{StatePending, StateExtracting, StateTransforming, StateLoading, StateRefreshing}
	for _, s := range live {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestStateChainTerminates(t *testing.T) {
	// The forward chain from PENDING must reach a terminal state without
	// revisiting any state.
	seen := map[RunState]bool{}
	state := StatePending
	for !IsTerminal(state) {
		if seen[state] {
			t.Fatalf("state %s revisited", state)
		}
		seen[state] = true
		next, ok := NextState(state)
		if !ok {
			t.Fatalf("NextState(%s) has no successor but state is not terminal", state)
		}
		state = next
	}
	if state != StateSucceeded {
		t.Errorf("chain ended at %s, want %s", state, StateSucceeded)
	}
}

func TestRunReportSummary(t *testing.T) {
	report := RunReport{
		RunID: 42,
		Mode:  ModeIncremental,
		State: StateSucceeded,
		Counts: RunCounts{
			Extracted:   1000,
			Transformed: 980,
			Loaded:      950,
			Rejected:    20,
		},
		Duration: 3 * time.Second,
	}

	summary := report.Summary()
	for _, want := range []string{"run 42", "incremental", "SUCCEEDED", "extracted=1000", "rejected=20"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Summary() = %q, missing %q", summary, want)
		}
	}
	if strings.Contains(summary, "error=") {
		t.Errorf("Summary() = %q, unexpected error fragment", summary)
	}
}

func TestTransformLoansOneErrorPerRecord(t *testing.T) {
	cfg := &Config{}
	cfg.ETL.Workers = 4
	p := &Pipeline{cfg: cfg}
	snap := transform.NewReferenceSnapshot(nil, []string{"active"}, nil, nil, nil, nil, nil, nil, nil)

	// This loan fails several rules at once; the audit trail still gets
	// exactly one entry for it, carrying the earliest failing rule, same
	// as the code staged on the row.
	rate := 150.0
	status := "frozen"
	loans := []extract.Loan{{ID: 10, InterestRate: &rate, Status: &status}}

	staged, errs := p.transformLoans(loans, snap)
	if len(errs) != 1 {
		t.Fatalf("transformLoans() produced %d errors for one invalid loan, want 1", len(errs))
	}
	if errs[0].Code != transform.CodeMissingBorrower {
		t.Errorf("error code = %s, want %s", errs[0].Code, transform.CodeMissingBorrower)
	}
	if staged[0].IsValid {
		t.Error("invalid loan staged as valid")
	}
	if staged[0].ErrorCode == nil || *staged[0].ErrorCode != errs[0].Code {
		t.Errorf("staged error code does not match logged code %s", errs[0].Code)
	}
}

func TestSupersededRowsStagedInvalid(t *testing.T) {
	email1 := "first@example.com"
	email2 := "second@example.com"
	users := []extract.User{
		{ID: 1, Email: &email1},
		{ID: 1, Email: &email2},
	}
	kept, supersededUsers, userDups := transform.DedupeUsers(users)
	if len(kept) != 1 || len(supersededUsers) != 1 {
		t.Fatalf("DedupeUsers() kept %d, superseded %d, want 1 and 1", len(kept), len(supersededUsers))
	}

	userRows := supersededUserRows(supersededUsers, userDups)
	if len(userRows) != 1 {
		t.Fatalf("supersededUserRows() = %d rows, want 1", len(userRows))
	}
	if userRows[0].IsValid {
		t.Error("superseded user staged as valid")
	}
	if userRows[0].ErrorCode == nil || *userRows[0].ErrorCode != transform.CodeDuplicateKey {
		t.Errorf("superseded user code = %v, want %s", userRows[0].ErrorCode, transform.CodeDuplicateKey)
	}
	if userRows[0].Email == nil || *userRows[0].Email != email1 {
		t.Errorf("superseded user email = %v, want the earlier occurrence", userRows[0].Email)
	}

	principal := 100.0
	disbursed := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	loans := []extract.Loan{
		{ID: 5, PrincipalAmount: &principal, DisbursedAt: &disbursed},
		{ID: 5, PrincipalAmount: &principal},
	}
	_, supersededLoans, loanDups := transform.DedupeLoans(loans)
	loanRows := supersededLoanRows(supersededLoans, loanDups)
	if len(loanRows) != 1 {
		t.Fatalf("supersededLoanRows() = %d rows, want 1", len(loanRows))
	}
	if loanRows[0].IsValid {
		t.Error("superseded loan staged as valid")
	}
	if loanRows[0].ErrorCode == nil || *loanRows[0].ErrorCode != transform.CodeDuplicateKey {
		t.Errorf("superseded loan code = %v, want %s", loanRows[0].ErrorCode, transform.CodeDuplicateKey)
	}
	if got, want := loanRows[0].DateKey, 20260402; got != want {
		t.Errorf("superseded loan date key = %d, want %d", got, want)
	}
}

func TestUnresolvedBorrowerErrors(t *testing.T) {
	errs := unresolvedBorrowerErrors([]int64{7, 9})
	if len(errs) != 2 {
		t.Fatalf("unresolvedBorrowerErrors() = %d entries, want 2", len(errs))
	}
	for i, want := range []string{"7", "9"} {
		if errs[i].RecordKey != want {
			t.Errorf("entry %d record key = %s, want %s", i, errs[i].RecordKey, want)
		}
		if errs[i].Code != transform.CodeUnresolvedBorrower {
			t.Errorf("entry %d code = %s, want %s", i, errs[i].Code, transform.CodeUnresolvedBorrower)
		}
		if errs[i].Entity != "loan" {
			t.Errorf("entry %d entity = %s, want loan", i, errs[i].Entity)
		}
	}

	if got := unresolvedBorrowerErrors(nil); len(got) != 0 {
		t.Errorf("unresolvedBorrowerErrors(nil) = %d entries, want 0", len(got))
	}
}

func TestAdvanceWatermarksSkipsEmptyTables(t *testing.T) {
	// Tables that produced no rows carry a zero mark; advancing must never
	// touch the store for them. The nil pool panics on any query, so a
	// clean return proves the skip.
	p := &Pipeline{watermarks: NewWatermarkStore(nil)}
	ext := &extraction{watermarks: map[extract.Table]time.Time{
		extract.TableUsers: {},
		extract.TableLoans: {},
	}}

	if err := p.advanceWatermarks(context.Background(), 1, ext); err != nil {
		t.Errorf("advanceWatermarks() with zero marks = %v, want nil", err)
	}
}

func TestFanOut(t *testing.T) {
	cfg := &Config{}
	cfg.ETL.Workers = 4
	p := &Pipeline{cfg: cfg}

	tests := []struct {
		name string
		n    int
	}{
		{"empty", 0},
		{"fewer items than workers", 2},
		{"exact multiple", 8},
		{"uneven split", 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int64
			visited := make([]int32, tt.n)
			p.fanOut(tt.n, func(i int) {
				atomic.AddInt64(&calls, 1)
				atomic.AddInt32(&visited[i], 1)
			})
			if calls != int64(tt.n) {
				t.Errorf("fanOut() made %d calls, want %d", calls, tt.n)
			}
			for i, v := range visited {
				if v != 1 {
					t.Errorf("index %d visited %d times, want 1", i, v)
				}
			}
		})
	}
}
