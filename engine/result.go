/*
result.go - Reconciliation results, anomaly results, sessions, summaries

PURPOSE:
  The persisted output of a reconciliation run. ReconciliationResult rows
  are created once by the orchestrator and never mutated; a re-run of the
  same (property, period) supersedes the prior session's rows instead of
  accumulating duplicates.

TAGGED OUTCOME:
  RuleOutcome is the explicit Evaluated/Skipped/Failed result type batch
  callers must match on. The legacy pattern of a nil return being counted
  as success is exactly what this type exists to prevent.
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE OUTCOME - Tagged per-rule evaluation result
// =============================================================================

// RuleOutcome distinguishes "evaluated", "skipped for a stated reason",
// and "errored". Callers switch on Kind; there is no nil case.
type RuleOutcome struct {
	Kind OutcomeKind

	// Evaluated values, set when Kind == OutcomeEvaluated. Op is empty
	// for bare values and compound conditions; Holds carries the verdict
	// when no comparison operands exist to classify against tolerances.
	Expected decimal.Decimal
	Actual   decimal.Decimal
	Op       CompareOp
	Holds    bool

	// SkipReason is set when Kind == OutcomeSkipped.
	SkipReason string

	// Err is set when Kind == OutcomeFailed.
	Err error

	// Matches records how each account term resolved, for audit.
	Matches []MatchResult
}

type OutcomeKind int

const (
	OutcomeEvaluated OutcomeKind = iota
	OutcomeSkipped
	OutcomeFailed
)

// =============================================================================
// RECONCILIATION RESULT
// =============================================================================

type ReconciliationResult struct {
	ID          string
	SessionID   SessionID
	RuleID      RuleID
	RuleVersion int
	PropertyID  PropertyID
	PeriodID    PeriodID

	ExpectedValue    decimal.Decimal
	ActualValue      decimal.Decimal
	VarianceAbsolute decimal.Decimal
	VariancePercent  *decimal.Decimal // nil when expected == 0

	Status   Status
	Severity Severity // copied from the rule at evaluation time
	// ErrorNote carries the skip reason or evaluation error detail.
	ErrorNote string

	EvaluatedAt time.Time
}

// =============================================================================
// ANOMALY RESULT
// =============================================================================

type AnomalyMethod string

const (
	MethodZScore        AnomalyMethod = "z_score"
	MethodBenford       AnomalyMethod = "benford"
	MethodRoundNumber   AnomalyMethod = "round_number"
	MethodDuplicate     AnomalyMethod = "duplicate"
	MethodPercentChange AnomalyMethod = "percent_change"
)

// AnomalyResult is one detector's verdict for one (property, account,
// period). Skipped reports a detector that lacked its minimum sample size:
// neither flagged nor passed, so sparse data never builds false confidence.
type AnomalyResult struct {
	PropertyID  PropertyID
	AccountCode AccountCode
	AccountName string
	PeriodID    PeriodID
	Method      AnomalyMethod

	Score       decimal.Decimal
	IsAnomalous bool
	Skipped     bool
	SkipReason  string

	// SupportingStats holds method-specific evidence, e.g. expected vs
	// observed digit frequencies for Benford.
	SupportingStats map[string]string

	DetectedAt time.Time
}

// =============================================================================
// SESSION
// =============================================================================

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

type Session struct {
	ID         SessionID
	PropertyID PropertyID
	PeriodID   PeriodID
	Status     SessionStatus
	// ErrorNote is set when Status == failed.
	ErrorNote   string
	StartedAt   time.Time
	CompletedAt *time.Time
	Summary     *SessionSummary
}

// SessionSummary is computed once, after every rule evaluation for the
// session has completed.
type SessionSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Warned  int `json:"warned"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`

	BySeverity map[Severity]int `json:"by_severity"`

	// PassRate is passed / (total - skipped), in [0,1]. Skipped rules are
	// excluded from the denominator: an unevaluated rule is not a failure.
	PassRate decimal.Decimal `json:"pass_rate"`

	Anomalies        int `json:"anomalies"`
	AnomaliesFlagged int `json:"anomalies_flagged"`
}

// Summarize computes the session summary from its result rows.
func Summarize(results []ReconciliationResult, anomalies []AnomalyResult) SessionSummary {
	s := SessionSummary{BySeverity: make(map[Severity]int)}
	for _, r := range results {
		s.Total++
		switch r.Status {
		case StatusPass:
			s.Passed++
		case StatusWarn:
			s.Warned++
		case StatusFail:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
		if r.Status == StatusFail || r.Status == StatusWarn {
			s.BySeverity[r.Severity]++
		}
	}
	evaluated := s.Total - s.Skipped
	if evaluated > 0 {
		s.PassRate = decimal.NewFromInt(int64(s.Passed)).
			Div(decimal.NewFromInt(int64(evaluated))).Round(4)
	}
	for _, a := range anomalies {
		s.Anomalies++
		if a.IsAnomalous {
			s.AnomaliesFlagged++
		}
	}
	return s
}
