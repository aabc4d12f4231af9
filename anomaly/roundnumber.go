package anomaly

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
)

// =============================================================================
// ROUND-NUMBER FREQUENCY
// =============================================================================

// RoundNumber flags accounts whose values are disproportionately exact
// multiples of the configured base (default 1000). Genuine operating
// figures are rarely round; invented ones often are. This is a heuristic
// and is reported as a lower-confidence signal than the statistical tests:
// the score is the observed round rate, and the flag bar is a simple rate
// threshold rather than a distribution fit.
func (d *Detector) RoundNumber(property engine.PropertyID, code engine.AccountCode, name string, period engine.PeriodID, values []decimal.Decimal) engine.AnomalyResult {
	r := engine.AnomalyResult{
		PropertyID:      property,
		AccountCode:     code,
		AccountName:     name,
		PeriodID:        period,
		Method:          engine.MethodRoundNumber,
		SupportingStats: make(map[string]string),
		DetectedAt:      d.now().UTC(),
	}

	multiple := decimal.NewFromInt(d.cfg.RoundNumberMultiple)
	round, total := 0, 0
	for _, v := range values {
		if v.IsZero() {
			continue
		}
		total++
		if v.Abs().Mod(multiple).IsZero() {
			round++
		}
	}

	if total < d.cfg.RoundNumberMinSamples {
		return skip(r, &engine.InsufficientDataError{
			Method:   string(engine.MethodRoundNumber),
			Required: d.cfg.RoundNumberMinSamples,
			Observed: total,
		})
	}

	rate := float64(round) / float64(total)
	r.Score = decimal.NewFromFloat(rate).Round(4)
	r.IsAnomalous = rate > d.cfg.RoundNumberMaxRate
	r.SupportingStats["round_values"] = fmt.Sprintf("%d", round)
	r.SupportingStats["samples"] = fmt.Sprintf("%d", total)
	r.SupportingStats["multiple"] = multiple.String()
	r.SupportingStats["max_rate"] = fmt.Sprintf("%.2f", d.cfg.RoundNumberMaxRate)
	return r
}
