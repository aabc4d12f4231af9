package anomaly

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
)

// =============================================================================
// Z-SCORE OUTLIER
// =============================================================================

// ZScore flags the current value when it sits more than the configured
// number of standard deviations from the trailing-window mean. Requires at
// least ZScoreMinPeriods of history; with fewer the check is SKIPPED.
func (d *Detector) ZScore(s Series) engine.AnomalyResult {
	r := d.result(s, engine.MethodZScore)

	cur, ok := s.Current()
	if !ok {
		return skip(r, &engine.InsufficientDataError{Method: string(engine.MethodZScore), Required: d.cfg.ZScoreMinPeriods, Observed: 0})
	}

	history := s.History()
	if len(history) > d.cfg.ZScoreWindow {
		history = history[len(history)-d.cfg.ZScoreWindow:]
	}
	if len(history) < d.cfg.ZScoreMinPeriods {
		return skip(r, &engine.InsufficientDataError{
			Method:   string(engine.MethodZScore),
			Required: d.cfg.ZScoreMinPeriods,
			Observed: len(history),
		})
	}

	mean, stddev := meanStddev(history)
	value, _ := cur.Value.Float64()

	var z float64
	if stddev > 0 {
		z = (value - mean) / stddev
	} else if value != mean {
		// Flat history with a sudden move: infinite z in spirit; report
		// the threshold itself so the flag carries a finite score.
		z = math.Copysign(d.cfg.ZScoreThreshold, value-mean)
	}

	r.Score = decimal.NewFromFloat(z).Round(4)
	r.IsAnomalous = math.Abs(z) >= d.cfg.ZScoreThreshold
	r.SupportingStats["mean"] = fmt.Sprintf("%.2f", mean)
	r.SupportingStats["stddev"] = fmt.Sprintf("%.2f", stddev)
	r.SupportingStats["window"] = fmt.Sprintf("%d", len(history))
	r.SupportingStats["value"] = cur.Value.StringFixed(2)
	return r
}

// =============================================================================
// PERCENT-CHANGE SPIKE
// =============================================================================

// PercentChange flags level shifts the z-score can miss on short windows:
// a period-over-period change beyond the configured percent. Needs only
// the immediately preceding period.
func (d *Detector) PercentChange(s Series) engine.AnomalyResult {
	r := d.result(s, engine.MethodPercentChange)

	cur, ok := s.Current()
	if !ok || len(s.History()) == 0 {
		return skip(r, &engine.InsufficientDataError{Method: string(engine.MethodPercentChange), Required: 1, Observed: len(s.History())})
	}
	prev := s.History()[len(s.History())-1]

	// Change from a zero base is undefined; a new account appearing is
	// not a spike.
	if prev.Value.IsZero() {
		return skip(r, &engine.InsufficientDataError{Method: string(engine.MethodPercentChange), Required: 1, Observed: 0})
	}

	change := cur.Value.Sub(prev.Value).Div(prev.Value.Abs()).Mul(decimal.NewFromInt(100))
	r.Score = change.Round(2)
	threshold := decimal.NewFromFloat(d.cfg.PercentChangeThreshold)
	r.IsAnomalous = change.Abs().GreaterThan(threshold)
	r.SupportingStats["previous"] = prev.Value.StringFixed(2)
	r.SupportingStats["current"] = cur.Value.StringFixed(2)
	r.SupportingStats["threshold_pct"] = threshold.String()
	return r
}

// meanStddev computes the sample mean and population standard deviation
// of a point series.
func meanStddev(points []Point) (mean, stddev float64) {
	if len(points) == 0 {
		return 0, 0
	}
	var sum float64
	for _, p := range points {
		v, _ := p.Value.Float64()
		sum += v
	}
	mean = sum / float64(len(points))

	var sq float64
	for _, p := range points {
		v, _ := p.Value.Float64()
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(points)))
}
