package extract

import (
	"testing"
	"time"
)

func TestWatermark(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	t3 := time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)

	users := []User{
		{ID: 1, UpdatedAt: t1},
		{ID: 2, UpdatedAt: t2},
		{ID: 3, UpdatedAt: t3},
	}
	if got := Watermark(users); !got.Equal(t2) {
		t.Errorf("Watermark() = %v, want %v", got, t2)
	}

	if got := Watermark([]User{}); !got.IsZero() {
		t.Errorf("Watermark(empty) = %v, want zero time", got)
	}

	// Ledger entries track created_at rather than updated_at.
	entries := []LedgerEntry{
		{ID: 1, CreatedAt: t3},
		{ID: 2, CreatedAt: t1},
	}
	if got := Watermark(entries); !got.Equal(t1) {
		t.Errorf("Watermark(entries) = %v, want %v", got, t1)
	}
}
