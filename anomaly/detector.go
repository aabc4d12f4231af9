/*
Package anomaly implements the statistical fraud/anomaly layer.

PURPOSE:
  Runs statistical tests independent of specific rule formulas, over
  historical time series per (property, account):
    - z-score outliers against a trailing window
    - period-over-period percent-change spikes
    - Benford's Law leading-digit distribution
    - round-number frequency
    - duplicate-payment detection

SPARSE DATA CONTRACT:
  Every detector has a minimum sample size. Below it, the check emits a
  SKIPPED result - neither flagged nor passed - so legitimately sparse
  data never produces false failures and never builds false confidence.
  Multiple detectors may flag the same account independently; each is a
  distinct signal and results are never merged or deduplicated.

ARITHMETIC:
  Amounts arrive as decimals; the statistics (stddev, MAD, chi-square) are
  computed in float64, which is fine because detector scores feed
  thresholds, not financial comparisons.

SEE ALSO:
  - benford.go, zscore.go, roundnumber.go, duplicate.go: The tests
  - session/orchestrator.go: Runs the detector passes per session
*/
package anomaly

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config tunes every detector. Zero values fall back to the defaults
// below; config.Load can override them from YAML.
type Config struct {
	ZScoreWindow     int     `yaml:"zscore_window"`      // trailing periods, default 12
	ZScoreThreshold  float64 `yaml:"zscore_threshold"`   // |z| flag bar, default 2.0
	ZScoreMinPeriods int     `yaml:"zscore_min_periods"` // default 3

	PercentChangeThreshold float64 `yaml:"percent_change_threshold"` // default 15 (%)

	BenfordMinSamples   int     `yaml:"benford_min_samples"`   // default 50
	BenfordMADThreshold float64 `yaml:"benford_mad_threshold"` // default 0.015

	RoundNumberMultiple   int64   `yaml:"round_number_multiple"`   // default 1000
	RoundNumberMinSamples int     `yaml:"round_number_min_samples"` // default 10
	RoundNumberMaxRate    float64 `yaml:"round_number_max_rate"`   // default 0.40

	DuplicateWindowPeriods int `yaml:"duplicate_window_periods"` // default 2
}

func DefaultConfig() Config {
	return Config{
		ZScoreWindow:           12,
		ZScoreThreshold:        2.0,
		ZScoreMinPeriods:       3,
		PercentChangeThreshold: 15,
		BenfordMinSamples:      50,
		BenfordMADThreshold:    0.015,
		RoundNumberMultiple:    1000,
		RoundNumberMinSamples:  10,
		RoundNumberMaxRate:     0.40,
		DuplicateWindowPeriods: 2,
	}
}

// withDefaults fills zero fields so a partially specified YAML config
// still behaves.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ZScoreWindow <= 0 {
		c.ZScoreWindow = d.ZScoreWindow
	}
	if c.ZScoreThreshold <= 0 {
		c.ZScoreThreshold = d.ZScoreThreshold
	}
	if c.ZScoreMinPeriods <= 0 {
		c.ZScoreMinPeriods = d.ZScoreMinPeriods
	}
	if c.PercentChangeThreshold <= 0 {
		c.PercentChangeThreshold = d.PercentChangeThreshold
	}
	if c.BenfordMinSamples <= 0 {
		c.BenfordMinSamples = d.BenfordMinSamples
	}
	if c.BenfordMADThreshold <= 0 {
		c.BenfordMADThreshold = d.BenfordMADThreshold
	}
	if c.RoundNumberMultiple <= 0 {
		c.RoundNumberMultiple = d.RoundNumberMultiple
	}
	if c.RoundNumberMinSamples <= 0 {
		c.RoundNumberMinSamples = d.RoundNumberMinSamples
	}
	if c.RoundNumberMaxRate <= 0 {
		c.RoundNumberMaxRate = d.RoundNumberMaxRate
	}
	if c.DuplicateWindowPeriods <= 0 {
		c.DuplicateWindowPeriods = d.DuplicateWindowPeriods
	}
	return c
}

// =============================================================================
// SERIES - Historical values for one (property, account)
// =============================================================================

// Point is one observed value of an account at a period.
type Point struct {
	PeriodID engine.PeriodID
	Value    decimal.Decimal
}

// Series is a chronologically ordered account history. The last point is
// the period under evaluation; everything before it is history.
type Series struct {
	PropertyID  engine.PropertyID
	AccountCode engine.AccountCode
	AccountName string
	Points      []Point
}

// Current returns the point under evaluation (the last one).
func (s Series) Current() (Point, bool) {
	if len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// History returns every point before the current one.
func (s Series) History() []Point {
	if len(s.Points) == 0 {
		return nil
	}
	return s.Points[:len(s.Points)-1]
}

// =============================================================================
// DETECTOR
// =============================================================================

// Detector runs all configured statistical tests.
type Detector struct {
	cfg Config
	now func() time.Time
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults(), now: time.Now}
}

// Config returns the effective (default-filled) configuration.
func (d *Detector) Config() Config { return d.cfg }

// DetectSeries runs the per-account time-series tests (z-score and
// percent-change) against one series. One result per method.
func (d *Detector) DetectSeries(s Series) []engine.AnomalyResult {
	return []engine.AnomalyResult{
		d.ZScore(s),
		d.PercentChange(s),
	}
}

func (d *Detector) result(s Series, method engine.AnomalyMethod) engine.AnomalyResult {
	r := engine.AnomalyResult{
		PropertyID:      s.PropertyID,
		AccountCode:     s.AccountCode,
		AccountName:     s.AccountName,
		Method:          method,
		SupportingStats: make(map[string]string),
		DetectedAt:      d.now().UTC(),
	}
	if cur, ok := s.Current(); ok {
		r.PeriodID = cur.PeriodID
	}
	return r
}

func skip(r engine.AnomalyResult, err *engine.InsufficientDataError) engine.AnomalyResult {
	r.Skipped = true
	r.SkipReason = err.Error()
	return r
}
