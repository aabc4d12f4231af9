package engine

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// PERIOD ID - Monthly reporting period ("2025-06")
// =============================================================================

// PeriodID identifies a monthly reporting period in "YYYY-MM" form.
// Cross-period formula references (prior month, same month last year)
// are resolved with the arithmetic below, never by string comparison
// beyond the lexical ordering the format already guarantees.
type PeriodID string

func NewPeriodID(year int, month time.Month) PeriodID {
	return PeriodID(fmt.Sprintf("%04d-%02d", year, int(month)))
}

// ParsePeriodID validates and decomposes a PeriodID.
func ParsePeriodID(p PeriodID) (year int, month time.Month, err error) {
	var m int
	if _, err = fmt.Sscanf(string(p), "%4d-%2d", &year, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid period id %q: %w", p, err)
	}
	if m < 1 || m > 12 || len(p) != 7 {
		return 0, 0, fmt.Errorf("invalid period id %q", p)
	}
	return year, time.Month(m), nil
}

func (p PeriodID) Valid() bool {
	_, _, err := ParsePeriodID(p)
	return err == nil
}

// AddMonths returns the period n months after p (n may be negative).
func (p PeriodID) AddMonths(n int) PeriodID {
	year, month, err := ParsePeriodID(p)
	if err != nil {
		return p
	}
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return NewPeriodID(t.Year(), t.Month())
}

// Prior returns the immediately preceding month.
func (p PeriodID) Prior() PeriodID { return p.AddMonths(-1) }

// PriorYear returns the same month one year earlier.
func (p PeriodID) PriorYear() PeriodID { return p.AddMonths(-12) }

// Before relies on the lexical ordering of the "YYYY-MM" format.
func (p PeriodID) Before(other PeriodID) bool        { return p < other }
func (p PeriodID) BeforeOrEqual(other PeriodID) bool { return p <= other }
func (p PeriodID) After(other PeriodID) bool         { return p > other }

// TrailingWindow returns the n periods strictly before p, oldest first.
// Used by the anomaly detectors to build historical series.
func (p PeriodID) TrailingWindow(n int) []PeriodID {
	out := make([]PeriodID, 0, n)
	for i := n; i >= 1; i-- {
		out = append(out, p.AddMonths(-i))
	}
	return out
}

// SortPeriods orders period ids chronologically in place.
func SortPeriods(ps []PeriodID) {
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
}
