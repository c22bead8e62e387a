package load

import "testing"

func TestUpsertChangeGuard(t *testing.T) {
	tests := []struct {
		name string
		cols []string
		want string
	}{
		{
			name: "single column",
			cols: []string{"symbol"},
			want: "WHERE (d.symbol) IS DISTINCT FROM (EXCLUDED.symbol)",
		},
		{
			name: "multiple columns",
			cols: []string{"currency_name", "symbol"},
			want: "WHERE (d.currency_name, d.symbol) IS DISTINCT FROM (EXCLUDED.currency_name, EXCLUDED.symbol)",
		},
		{
			name: "region columns",
			cols: []string{"region_name", "parent_code", "region_path"},
			want: "WHERE (d.region_name, d.parent_code, d.region_path) IS DISTINCT FROM (EXCLUDED.region_name, EXCLUDED.parent_code, EXCLUDED.region_path)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := upsertChangeGuard(tt.cols...); got != tt.want {
				t.Errorf("upsertChangeGuard(%v) = %q, want %q", tt.cols, got, tt.want)
			}
		})
	}
}
