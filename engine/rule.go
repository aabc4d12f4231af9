/*
rule.go - Versioned reconciliation rules and the registry selection logic

PURPOSE:
  A Rule is a named, versioned formula with tolerance and severity used to
  cross-check financial data. Editing a rule NEVER mutates it: every edit
  appends a new (rule_id, version) row, preserving a full audit trail.

VERSIONING CONTRACT:
  - version is a monotonically increasing integer per rule_id
  - exactly one version of a rule_id is "current" at any evaluation time:
    the highest version with effective_date <= evaluation period that has
    not expired
  - an in-flight session reads a pinned rule set; concurrent edits create
    new versions that simply don't affect it

TOLERANCE SEMANTICS:
  tolerance_absolute and tolerance_percent may both be set. ToleranceMode
  decides whether satisfying either ("any", the default) or both ("all")
  counts as within tolerance. The original system was inconsistent here,
  so the combination is per-rule configuration rather than hard-coded.

SEE ALSO:
  - classifier.go: How tolerances map to PASS/WARN/FAIL
  - factory/rule.go: JSON rule packs and save-time validation
*/
package engine

import (
	"sort"
	"time"
)

// =============================================================================
// TOLERANCE MODE
// =============================================================================

type ToleranceMode string

const (
	// ToleranceAny passes when either the absolute or the percent
	// tolerance is satisfied. Default.
	ToleranceAny ToleranceMode = "any"

	// ToleranceAll requires both configured tolerances to be satisfied.
	ToleranceAll ToleranceMode = "all"
)

// =============================================================================
// RULE
// =============================================================================

// Rule is one immutable version of a reconciliation rule.
type Rule struct {
	RuleID      RuleID // human-readable, e.g. "BS-3"
	Version     int    // monotonically increasing per RuleID
	Formula     string // expression text, parsed by the formula package
	Description string

	ToleranceAbsolute *string // decimal string; nil = not configured
	TolerancePercent  *string // decimal string; nil = not configured
	ToleranceMode     ToleranceMode

	Severity      Severity
	DocumentScope DocumentTypeSet
	PropertyScope *PropertyID // nil = applies to all properties

	EffectiveDate PeriodID
	ExpiresAt     *PeriodID // nil = never expires
	IsActive      bool

	CreatedAt time.Time
	CreatedBy string
}

// AppliesTo reports whether this rule version is selectable for the given
// document types, property, and evaluation period. Version dedup happens
// in SelectCurrent, not here.
func (r Rule) AppliesTo(docTypes []DocumentType, property PropertyID, asOf PeriodID) bool {
	if !r.IsActive {
		return false
	}
	if len(docTypes) > 0 && !r.DocumentScope.Intersects(docTypes) {
		return false
	}
	if r.PropertyScope != nil && *r.PropertyScope != property {
		return false
	}
	if asOf.Before(r.EffectiveDate) {
		return false
	}
	if r.ExpiresAt != nil && !asOf.Before(*r.ExpiresAt) {
		return false
	}
	return true
}

// RuleEdit is the input for saving a rule. Saving always inserts a new
// version row; the store assigns version = previous max + 1.
type RuleEdit struct {
	RuleID            RuleID
	Formula           string
	Description       string
	ToleranceAbsolute *string
	TolerancePercent  *string
	ToleranceMode     ToleranceMode
	Severity          Severity
	DocumentScope     []DocumentType
	PropertyScope     *PropertyID
	EffectiveDate     PeriodID
	ExpiresAt         *PeriodID
	CreatedBy         string
}

// Validate checks everything except the formula text, which the factory
// validates by actually parsing it (fail fast at save time).
func (e RuleEdit) Validate() error {
	if e.RuleID == "" {
		return &ValidationError{RuleID: e.RuleID, Field: "rule_id", Detail: "must not be empty"}
	}
	if e.Formula == "" {
		return &ValidationError{RuleID: e.RuleID, Field: "formula", Detail: "must not be empty"}
	}
	if !ValidSeverity(e.Severity) {
		return &ValidationError{RuleID: e.RuleID, Field: "severity", Detail: string(e.Severity)}
	}
	if len(e.DocumentScope) == 0 {
		return &ValidationError{RuleID: e.RuleID, Field: "document_scope", Detail: "must name at least one document type"}
	}
	for _, t := range e.DocumentScope {
		if _, err := HandlerFor(t); err != nil {
			return &ValidationError{RuleID: e.RuleID, Field: "document_scope", Detail: "unknown document type " + string(t)}
		}
	}
	if !e.EffectiveDate.Valid() {
		return &ValidationError{RuleID: e.RuleID, Field: "effective_date", Detail: string(e.EffectiveDate)}
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.Valid() {
		return &ValidationError{RuleID: e.RuleID, Field: "expires_at", Detail: string(*e.ExpiresAt)}
	}
	switch e.ToleranceMode {
	case "", ToleranceAny, ToleranceAll:
	default:
		return &ValidationError{RuleID: e.RuleID, Field: "tolerance_mode", Detail: string(e.ToleranceMode)}
	}
	return nil
}

// =============================================================================
// CURRENT-VERSION SELECTION
// =============================================================================

// SelectCurrent filters candidate rule versions down to the applicable set
// with exactly one version per rule_id: the highest applicable version.
// Output is ordered by RuleID for determinism.
func SelectCurrent(candidates []Rule, docTypes []DocumentType, property PropertyID, asOf PeriodID) []Rule {
	best := make(map[RuleID]Rule)
	for _, r := range candidates {
		if !r.AppliesTo(docTypes, property, asOf) {
			continue
		}
		if cur, ok := best[r.RuleID]; !ok || r.Version > cur.Version {
			best[r.RuleID] = r
		}
	}

	out := make([]Rule, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sortRules(out)
	return out
}

func sortRules(rules []Rule) {
	// Stable lexical order by rule id; never map iteration order.
	sort.Slice(rules, func(i, j int) bool { return rules[i].RuleID < rules[j].RuleID })
}
