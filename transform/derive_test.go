package transform

import (
	"testing"
	"time"

	"github.com/lendsight/star-etl/extract"
)

func TestDateKey(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want int
	}{
		{"regular date", time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC), 20260315},
		{"single digit month and day", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), 20250102},
		{"year end", time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC), 20241231},
		{"zero time falls back to epoch key", time.Time{}, 19700101},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DateKey(tt.in); got != tt.want {
				t.Errorf("DateKey(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestTermCategory(t *testing.T) {
	tests := []struct {
		months int
		want   string
	}{
		{1, "short"},
		{6, "short"},
		{7, "medium"},
		{24, "medium"},
		{25, "long"},
		{360, "long"},
		{0, "unknown"},
		{-3, "unknown"},
	}

	for _, tt := range tests {
		if got := TermCategory(tt.months); got != tt.want {
			t.Errorf("TermCategory(%d) = %s, want %s", tt.months, got, tt.want)
		}
	}
}

func TestCreditTierFor(t *testing.T) {
	tiers := []extract.CreditTier{
		{Name: "Platinum", MinScore: 780, MaxScore: 850},
		{Name: "Gold", MinScore: 660, MaxScore: 779},
		{Name: "Silver", MinScore: 500, MaxScore: 659},
	}
	snap := NewReferenceSnapshot(nil, nil, nil, nil, tiers, nil, nil, nil, nil)

	tests := []struct {
		score int
		want  string
	}{
		{850, "Platinum"},
		{780, "Platinum"},
		{700, "Gold"},
		{500, "Silver"},
		{499, "Unrated"}, // below every reference tier
	}
	for _, tt := range tests {
		if got := snap.CreditTierFor(tt.score); got != tt.want {
			t.Errorf("CreditTierFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestCreditTierForFallback(t *testing.T) {
	// No reference tiers loaded: the fixed thresholds apply.
	snap := NewReferenceSnapshot(nil, nil, nil, nil, nil, nil, nil, nil, nil)

	tests := []struct {
		score int
		want  string
	}{
		{800, "Excellent"},
		{750, "Excellent"},
		{749, "Good"},
		{650, "Good"},
		{649, "Fair"},
		{550, "Fair"},
		{549, "Poor"},
		{300, "Poor"},
	}
	for _, tt := range tests {
		if got := snap.CreditTierFor(tt.score); got != tt.want {
			t.Errorf("CreditTierFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestRegionPath(t *testing.T) {
	regions := []extract.Region{
		{ID: 1, Code: "GLOBAL"},
		{ID: 2, Code: "EMEA", ParentID: int64Ptr(1)},
		{ID: 3, Code: "DE", ParentID: int64Ptr(2)},
		{ID: 4, Code: "ORPHAN", ParentID: int64Ptr(99)},
	}
	snap := NewReferenceSnapshot(nil, nil, nil, nil, nil, nil, nil, nil, regions)

	tests := []struct {
		code string
		want string
	}{
		{"DE", "GLOBAL/EMEA/DE"},
		{"EMEA", "GLOBAL/EMEA"},
		{"GLOBAL", "GLOBAL"},
		{"ORPHAN", "ORPHAN"}, // missing parent stops the walk
		{"XX", "XX"},         // unknown codes resolve to themselves
	}
	for _, tt := range tests {
		if got := snap.RegionPath(tt.code); got != tt.want {
			t.Errorf("RegionPath(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestRegionPathCycle(t *testing.T) {
	// A malformed cycle must terminate rather than loop forever.
	regions := []extract.Region{
		{ID: 1, Code: "A", ParentID: int64Ptr(2)},
		{ID: 2, Code: "B", ParentID: int64Ptr(1)},
	}
	snap := NewReferenceSnapshot(nil, nil, nil, nil, nil, nil, nil, nil, regions)

	if got := snap.RegionPath("A"); got != "B/A" {
		t.Errorf("RegionPath(A) = %s, want B/A", got)
	}
}

func TestEventDate(t *testing.T) {
	created := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	disbursed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	withDisbursement := extract.Loan{CreatedAt: created, DisbursedAt: &disbursed}
	if got := EventDate(withDisbursement); !got.Equal(disbursed) {
		t.Errorf("EventDate() = %v, want disbursement date %v", got, disbursed)
	}

	withoutDisbursement := extract.Loan{CreatedAt: created}
	if got := EventDate(withoutDisbursement); !got.Equal(created) {
		t.Errorf("EventDate() = %v, want creation date %v", got, created)
	}
}
