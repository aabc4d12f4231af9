/*
classifier.go - Tolerance comparison and status classification

PURPOSE:
  Compares an evaluated (actual) value against an expected value using the
  rule's absolute and/or percentage tolerance, and maps the variance onto
  PASS / WARN / FAIL. Severity is copied from the rule unchanged: the
  classifier never escalates or downgrades it. Severity is author-controlled
  and status is variance-controlled; they are independent axes.

STATUS MAPPING:
  within tolerance           -> PASS
  within 2x tolerance        -> WARN
  beyond 2x tolerance        -> FAIL

EDGE CASES:
  - expected == 0: variance_percent is undefined and reported as nil
    (never infinity or NaN); only the absolute tolerance applies.
  - no tolerance configured at all: exact equality required.
  - both tolerances configured: ToleranceMode "any" (default) passes when
    either is satisfied, "all" requires both.

All arithmetic is decimal. Financial comparisons must tie out to the cent,
so nothing in this file touches float64.
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// CompareOp is the comparison operator a rule formula asserts between its
// actual (left) and expected (right) sides. Empty means plain equality.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpLe CompareOp = "<="
	OpGe CompareOp = ">="
	OpLt CompareOp = "<"
	OpGt CompareOp = ">"
)

// Holds reports whether "actual op expected" is satisfied.
func (op CompareOp) Holds(actual, expected decimal.Decimal) bool {
	cmp := actual.Cmp(expected)
	switch op {
	case OpEq, "":
		return cmp == 0
	case OpLe:
		return cmp <= 0
	case OpGe:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpGt:
		return cmp > 0
	}
	return false
}

// Classification is the outcome of one tolerance comparison.
type Classification struct {
	Status           Status
	VarianceAbsolute decimal.Decimal
	// VariancePercent is nil when expected == 0 (undefined, not infinity).
	VariancePercent *decimal.Decimal
}

// Tolerances carries a rule's configured tolerances in decimal form.
type Tolerances struct {
	Absolute *decimal.Decimal
	Percent  *decimal.Decimal
	Mode     ToleranceMode
}

// TolerancesOf parses a rule's tolerance strings. Invalid decimals were
// rejected at save time, so parse failures here are treated as unset.
func TolerancesOf(r Rule) Tolerances {
	t := Tolerances{Mode: r.ToleranceMode}
	if t.Mode == "" {
		t.Mode = ToleranceAny
	}
	if r.ToleranceAbsolute != nil {
		if d, err := decimal.NewFromString(*r.ToleranceAbsolute); err == nil {
			t.Absolute = &d
		}
	}
	if r.TolerancePercent != nil {
		if d, err := decimal.NewFromString(*r.TolerancePercent); err == nil {
			t.Percent = &d
		}
	}
	return t
}

// ClassifyComparison classifies a directional rule ("Current Ratio >= 1.0").
// A satisfied comparison PASSes outright; variance and tolerance bands only
// matter once the asserted condition fails to hold.
func ClassifyComparison(op CompareOp, expected, actual decimal.Decimal, tol Tolerances) Classification {
	if op == "" || op == OpEq {
		return Classify(expected, actual, tol)
	}
	c := Classify(expected, actual, tol)
	if op.Holds(actual, expected) {
		c.Status = StatusPass
	}
	return c
}

// Classify compares actual against expected under the given tolerances.
func Classify(expected, actual decimal.Decimal, tol Tolerances) Classification {
	variance := actual.Sub(expected)
	absVariance := variance.Abs()

	var variancePct *decimal.Decimal
	if !expected.IsZero() {
		pct := variance.Div(expected.Abs()).Mul(decimal.NewFromInt(100))
		variancePct = &pct
	}

	c := Classification{
		VarianceAbsolute: variance,
		VariancePercent:  variancePct,
	}
	c.Status = status(absVariance, variancePct, tol)
	return c
}

func status(absVariance decimal.Decimal, variancePct *decimal.Decimal, tol Tolerances) Status {
	two := decimal.NewFromInt(2)

	absConfigured := tol.Absolute != nil
	pctConfigured := tol.Percent != nil && variancePct != nil

	// No usable tolerance: exact equality or fail. A percent-only rule
	// with expected == 0 degrades to exact equality as well.
	if !absConfigured && !pctConfigured {
		if absVariance.IsZero() {
			return StatusPass
		}
		return StatusFail
	}

	withinAbs := func(scale decimal.Decimal) bool {
		return absConfigured && absVariance.LessThanOrEqual(tol.Absolute.Mul(scale))
	}
	withinPct := func(scale decimal.Decimal) bool {
		return pctConfigured && variancePct.Abs().LessThanOrEqual(tol.Percent.Mul(scale))
	}

	within := func(scale decimal.Decimal) bool {
		if tol.Mode == ToleranceAll && absConfigured && pctConfigured {
			return withinAbs(scale) && withinPct(scale)
		}
		return withinAbs(scale) || withinPct(scale)
	}

	switch {
	case within(decimal.NewFromInt(1)):
		return StatusPass
	case within(two):
		return StatusWarn
	default:
		return StatusFail
	}
}
