package transform

import (
	"strings"
	"time"

	"github.com/lendsight/star-etl/extract"
)

// epochDateKey is the sentinel date key used when a source date is absent
const epochDateKey = 19700101

// DateKey converts a timestamp to the star schema's yyyymmdd integer key
func DateKey(t time.Time) int {
	if t.IsZero() {
		return epochDateKey
	}
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// TermCategory buckets a loan term into short/medium/long
func TermCategory(termMonths int) string {
	switch {
	case termMonths <= 0:
		return "unknown"
	case termMonths <= 6:
		return "short"
	case termMonths <= 24:
		return "medium"
	default:
		return "long"
	}
}

// CreditTierFor classifies a credit score against the reference tier
// boundaries. When no reference tiers are loaded it falls back to the
// original fixed thresholds so classification degrades rather than fails.
func (s *ReferenceSnapshot) CreditTierFor(score int) string {
	for _, t := range s.CreditTiers {
		if score >= t.MinScore && score <= t.MaxScore {
			return t.Name
		}
	}
	if len(s.CreditTiers) > 0 {
		return "Unrated"
	}
	switch {
	case score >= 750:
		return "Excellent"
	case score >= 650:
		return "Good"
	case score >= 550:
		return "Fair"
	default:
		return "Poor"
	}
}

// RegionPath resolves a region code to its root-to-leaf path through the
// parent-id adjacency tree, e.g. "GLOBAL/EMEA/DE". Unknown codes resolve to
// themselves; a malformed cycle stops at the first repeated node.
func (s *ReferenceSnapshot) RegionPath(code string) string {
	region, ok := s.Regions[code]
	if !ok {
		return code
	}

	path := []string{region.Code}
	seen := map[int64]struct{}{region.ID: {}}
	for region.ParentID != nil {
		parent, ok := s.regionsByID[*region.ParentID]
		if !ok {
			break
		}
		if _, dup := seen[parent.ID]; dup {
			break
		}
		seen[parent.ID] = struct{}{}
		path = append([]string{parent.Code}, path...)
		region = parent
	}
	return strings.Join(path, "/")
}

// EventDate picks the fact event date for a loan: disbursement when present,
// otherwise creation
func EventDate(l extract.Loan) time.Time {
	if l.DisbursedAt != nil {
		return *l.DisbursedAt
	}
	return l.CreatedAt
}
