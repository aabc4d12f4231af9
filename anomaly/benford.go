package anomaly

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
)

// =============================================================================
// BENFORD'S LAW DIGIT TEST
// =============================================================================

// benfordExpected is the theoretical leading-digit frequency log10(1+1/d)
// for digits 1-9.
var benfordExpected = [10]float64{
	0,
	0.30103,
	0.17609,
	0.12494,
	0.09691,
	0.07918,
	0.06695,
	0.05799,
	0.05115,
	0.04576,
}

// Benford compares the leading-digit distribution of a value set against
// the theoretical Benford distribution. The goodness-of-fit statistic is
// the mean absolute deviation (MAD) across the nine digit frequencies,
// with a chi-square statistic reported in the supporting stats. Values
// below 1 in magnitude are skipped as noise.
//
// Requires BenfordMinSamples usable values; below that the test is
// SKIPPED - a handful of line items can't contradict a logarithmic law.
func (d *Detector) Benford(property engine.PropertyID, code engine.AccountCode, name string, period engine.PeriodID, values []decimal.Decimal) engine.AnomalyResult {
	r := engine.AnomalyResult{
		PropertyID:      property,
		AccountCode:     code,
		AccountName:     name,
		PeriodID:        period,
		Method:          engine.MethodBenford,
		SupportingStats: make(map[string]string),
		DetectedAt:      d.now().UTC(),
	}

	var counts [10]int
	total := 0
	for _, v := range values {
		digit := leadingDigit(v)
		if digit == 0 {
			continue
		}
		counts[digit]++
		total++
	}

	if total < d.cfg.BenfordMinSamples {
		return skip(r, &engine.InsufficientDataError{
			Method:   string(engine.MethodBenford),
			Required: d.cfg.BenfordMinSamples,
			Observed: total,
		})
	}

	var mad, chiSquare float64
	for digit := 1; digit <= 9; digit++ {
		observed := float64(counts[digit]) / float64(total)
		expected := benfordExpected[digit]
		mad += math.Abs(observed - expected)

		expectedCount := expected * float64(total)
		diff := float64(counts[digit]) - expectedCount
		chiSquare += diff * diff / expectedCount

		r.SupportingStats[fmt.Sprintf("digit_%d_observed", digit)] = fmt.Sprintf("%.4f", observed)
		r.SupportingStats[fmt.Sprintf("digit_%d_expected", digit)] = fmt.Sprintf("%.4f", expected)
	}
	mad /= 9

	r.Score = decimal.NewFromFloat(mad).Round(5)
	r.IsAnomalous = mad > d.cfg.BenfordMADThreshold
	r.SupportingStats["samples"] = fmt.Sprintf("%d", total)
	r.SupportingStats["mad"] = fmt.Sprintf("%.5f", mad)
	r.SupportingStats["chi_square"] = fmt.Sprintf("%.2f", chiSquare)
	r.SupportingStats["mad_threshold"] = fmt.Sprintf("%.5f", d.cfg.BenfordMADThreshold)
	return r
}

// leadingDigit returns the first significant digit of |v|, or 0 when the
// value is too small to carry one.
func leadingDigit(v decimal.Decimal) int {
	abs := v.Abs()
	if abs.LessThan(decimal.NewFromInt(1)) {
		return 0
	}
	s := abs.String()
	for _, c := range s {
		if c >= '1' && c <= '9' {
			return int(c - '0')
		}
	}
	return 0
}
