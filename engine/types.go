/*
Package engine provides the core reconciliation rule engine.

PURPOSE:
  This package contains the domain types and algorithms for cross-validating
  extracted financial statement data: versioned reconciliation rules, account
  matching, tolerance classification, and the result/session model. The
  formula language lives in the formula package; statistical fraud checks
  live in the anomaly package.

KEY CONCEPTS IN THIS FILE (types.go):
  - PropertyID/PeriodID/RuleID/SessionID: Type-safe identifiers
  - DocumentType: The five supported statement types
  - Severity: Author-assigned rule importance (independent of status)
  - Status: PASS/WARN/FAIL/SKIPPED outcome of a single rule evaluation
  - LineItem: An immutable extracted account/amount entry

DESIGN PRINCIPLES:
  1. Immutability: Line items are read-only; rules are versioned, never edited
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing property/period IDs
  4. Explicit outcomes: SKIPPED is a first-class status, never collapsed
     into PASS or FAIL

SEE ALSO:
  - rule.go: Rule definitions and the versioned registry
  - matcher.go: Account reference resolution
  - classifier.go: Tolerance and severity classification
  - result.go: Reconciliation results and sessions
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PropertyID string
type RuleID string
type SessionID string
type AccountCode string

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// DocumentType identifies which financial statement a line item or rule
// belongs to. Every type listed here must have a registered handler in
// document.go; ValidateHandlers enforces that at startup.
type DocumentType string

const (
	DocBalanceSheet      DocumentType = "balance_sheet"
	DocIncomeStatement   DocumentType = "income_statement"
	DocCashFlow          DocumentType = "cash_flow"
	DocRentRoll          DocumentType = "rent_roll"
	DocMortgageStatement DocumentType = "mortgage_statement"
)

// AllDocumentTypes enumerates every supported statement type.
// Handler registration is validated against this set.
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocBalanceSheet,
		DocIncomeStatement,
		DocCashFlow,
		DocRentRoll,
		DocMortgageStatement,
	}
}

// DocumentTypeSet is a small helper for document-scope checks.
type DocumentTypeSet map[DocumentType]bool

func NewDocumentTypeSet(types ...DocumentType) DocumentTypeSet {
	s := make(DocumentTypeSet, len(types))
	for _, t := range types {
		s[t] = true
	}
	return s
}

// Intersects reports whether any of the given types is in the set.
func (s DocumentTypeSet) Intersects(types []DocumentType) bool {
	for _, t := range types {
		if s[t] {
			return true
		}
	}
	return false
}

func (s DocumentTypeSet) Slice() []DocumentType {
	var out []DocumentType
	for _, t := range AllDocumentTypes() {
		if s[t] {
			out = append(out, t)
		}
	}
	return out
}

// =============================================================================
// SEVERITY - Author-assigned importance tier
// =============================================================================

// Severity is set by the rule author and attached to results unchanged.
// It is deliberately independent of Status: severity is author-controlled,
// status is variance-controlled.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityInfo     Severity = "info"
)

func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityInfo:
		return true
	}
	return false
}

// =============================================================================
// STATUS - Outcome of a single rule evaluation
// =============================================================================

type Status string

const (
	StatusPass    Status = "PASS"
	StatusWarn    Status = "WARN"
	StatusFail    Status = "FAIL"
	StatusSkipped Status = "SKIPPED"
)

// =============================================================================
// LINE ITEM - Immutable extracted statement entry
// =============================================================================

// LineItem is a single extracted account/amount entry for a property,
// period, and document type. Produced by the extraction subsystem; the
// engine only ever reads these.
type LineItem struct {
	ID           string
	PropertyID   PropertyID
	PeriodID     PeriodID
	DocumentType DocumentType
	AccountCode  AccountCode // empty when the statement carries no codes
	AccountName  string
	Category     string // e.g. "current_assets", used by SUM()

	// Amount fields. Which ones are populated depends on the document
	// type; Amounts() in document.go picks the primary one.
	PeriodAmount decimal.Decimal
	YTDAmount    decimal.Decimal
	MonthlyRent  decimal.Decimal

	// ExtractionConfidence is in [0,100], from the OCR/extraction layer.
	ExtractionConfidence decimal.Decimal
}

// =============================================================================
// MATCH RESULT - Outcome of resolving one account reference
// =============================================================================

type MatchStrategy string

const (
	MatchExactCode  MatchStrategy = "exact_code"
	MatchFuzzyName  MatchStrategy = "fuzzy_name"
	MatchNameOnly   MatchStrategy = "name_only"
	MatchUnresolved MatchStrategy = "unresolved"
)

// MatchResult is ephemeral: produced per formula-term resolution and
// recorded alongside the evaluation, never persisted on its own.
type MatchResult struct {
	LineItem        *LineItem // nil when unresolved
	Strategy        MatchStrategy
	MatchConfidence decimal.Decimal // [0,100]
}

func (m MatchResult) Resolved() bool {
	return m.Strategy != MatchUnresolved && m.LineItem != nil
}
