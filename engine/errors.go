/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Other packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - Malformed rules rejected at save time
  2. Evaluation errors - Per-rule runtime failures, contained to one result
  3. Data errors - Missing accounts or insufficient history (SKIPPED, not FAIL)
  4. Infrastructure errors - Store failures that abort a whole session

PROPAGATION POLICY:
  Rule-level and account-level errors are always contained to their own
  result row. Only infrastructure failures (cannot read line items, cannot
  read the rule registry) abort a session, and then no partial results are
  committed.

USAGE:
  if errors.Is(err, engine.ErrUnresolvedAccount) {
      // record SKIPPED, keep going
  }

SEE ALSO:
  - classifier.go: Maps contained errors onto statuses
  - session/orchestrator.go: Applies the propagation policy
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRuleValidation is returned when a rule formula fails to parse at
	// save time. The rule is rejected before persistence.
	ErrRuleValidation = errors.New("rule validation failed")

	// ErrUnresolvedAccount is returned when a formula term cannot be
	// matched to any line item. Surfaces as a SKIPPED result.
	ErrUnresolvedAccount = errors.New("account not found")

	// ErrEvaluation is returned for runtime formula errors (type mismatch,
	// malformed expression reaching evaluation). Recorded as FAIL with
	// error detail; never aborts the session.
	ErrEvaluation = errors.New("formula evaluation failed")

	// ErrDivisionByZero marks a zero or missing denominator. Produces a
	// SKIPPED outcome, not a crash and not a silently wrong value.
	ErrDivisionByZero = errors.New("division by zero denominator")

	// ErrInsufficientData is returned when an anomaly detector lacks its
	// minimum sample size. SKIPPED, not flagged as non-anomalous.
	ErrInsufficientData = errors.New("insufficient historical data")

	// ErrSessionInProgress is returned when a session is already running
	// for a (property, period) key. Rejected immediately, never queued.
	ErrSessionInProgress = errors.New("session already in progress")

	// ErrSessionCancelled is returned when a run is cancelled cooperatively.
	ErrSessionCancelled = errors.New("session cancelled")

	// ErrRuleNotFound is returned when a referenced rule id doesn't exist.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrSessionNotFound is returned when a referenced session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMissingHandler is returned at startup when a document type has no
	// registered amount handler. Fails fast at boot, not at runtime.
	ErrMissingHandler = errors.New("document type has no registered handler")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports why a rule edit was rejected.
type ValidationError struct {
	RuleID RuleID
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule %s: invalid %s: %s", e.RuleID, e.Field, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrRuleValidation }

// UnresolvedAccountError identifies exactly which term failed to match.
type UnresolvedAccountError struct {
	AccountCode  AccountCode
	AccountName  string
	DocumentType DocumentType
}

func (e *UnresolvedAccountError) Error() string {
	if e.AccountCode != "" {
		return fmt.Sprintf("account not found: code %q in %s", e.AccountCode, e.DocumentType)
	}
	return fmt.Sprintf("account not found: name %q in %s", e.AccountName, e.DocumentType)
}

func (e *UnresolvedAccountError) Unwrap() error { return ErrUnresolvedAccount }

// EvaluationError wraps a runtime formula failure with the offending rule.
type EvaluationError struct {
	RuleID  RuleID
	Version int
	Detail  string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %s v%d: %s", e.RuleID, e.Version, e.Detail)
}

func (e *EvaluationError) Unwrap() error { return ErrEvaluation }

// InsufficientDataError reports how much history a detector needed.
type InsufficientDataError struct {
	Method   string
	Required int
	Observed int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: need %d samples, have %d", e.Method, e.Required, e.Observed)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// ConcurrencyError reports which key is locked.
type ConcurrencyError struct {
	PropertyID PropertyID
	PeriodID   PeriodID
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("session already running for property %s period %s", e.PropertyID, e.PeriodID)
}

func (e *ConcurrencyError) Unwrap() error { return ErrSessionInProgress }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsSkip returns true if the error should yield a SKIPPED result rather
// than FAIL. Collapsing SKIPPED into FAIL is an explicit anti-pattern.
func IsSkip(err error) bool {
	return errors.Is(err, ErrUnresolvedAccount) ||
		errors.Is(err, ErrDivisionByZero) ||
		errors.Is(err, ErrInsufficientData)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrRuleValidation) ||
		errors.Is(err, ErrSessionInProgress)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}
