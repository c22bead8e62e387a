package load

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthStarts(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want []time.Time
	}{
		{
			name: "single month",
			from: date(2026, time.March, 5),
			to:   date(2026, time.March, 28),
			want: []time.Time{date(2026, time.March, 1)},
		},
		{
			name: "spans year boundary",
			from: date(2025, time.November, 15),
			to:   date(2026, time.February, 3),
			want: []time.Time{
				date(2025, time.November, 1),
				date(2025, time.December, 1),
				date(2026, time.January, 1),
				date(2026, time.February, 1),
			},
		},
		{
			name: "same day",
			from: date(2026, time.June, 1),
			to:   date(2026, time.June, 1),
			want: []time.Time{date(2026, time.June, 1)},
		},
		{
			name: "inverted range",
			from: date(2026, time.June, 1),
			to:   date(2026, time.May, 1),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MonthStarts(tt.from, tt.to)
			if len(got) != len(tt.want) {
				t.Fatalf("MonthStarts() returned %d months, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !got[i].Equal(tt.want[i]) {
					t.Errorf("month[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPartitionName(t *testing.T) {
	tests := []struct {
		month time.Time
		want  string
	}{
		{date(2026, time.March, 1), "fact_loan_transactions_y2026m03"},
		{date(2025, time.December, 1), "fact_loan_transactions_y2025m12"},
		{date(2024, time.January, 1), "fact_loan_transactions_y2024m01"},
	}
	for _, tt := range tests {
		if got := PartitionName(tt.month); got != tt.want {
			t.Errorf("PartitionName(%v) = %s, want %s", tt.month, got, tt.want)
		}
	}
}
