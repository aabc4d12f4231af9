/*
Package factory provides JSON to Go rule conversion.

PURPOSE:
  Converts JSON rule definitions into engine.RuleEdit values ready for
  the store. This enables rule configuration without code changes -
  analysts can define reconciliation rules in JSON, and the factory
  validates and converts them.

WHY JSON?
  - Non-developers can modify rule packs
  - Easy integration with admin UI
  - Version control for rule definitions
  - Database storage of rule configs

JSON SCHEMA:
  {
    "rule_id": "BS-1",
    "formula": "[Total Assets] = [Total Liabilities] + [Total Equity]",
    "description": "Balance sheet equation",
    "tolerance_absolute": "0.01",
    "tolerance_percent": "0.5",
    "tolerance_mode": "any",
    "severity": "critical",
    "document_scope": ["balance_sheet"],
    "property_scope": "prop-0042",
    "effective_date": "2024-01",
    "expires_at": "2026-12"
  }

FAIL FAST:
  ParseRule runs the formula through the full expression parser before
  returning, so a malformed formula is rejected when the rule is SAVED,
  never at evaluation time. A bad rule in a pack fails the whole pack.

SEE ALSO:
  - engine/rule.go: Rule type and versioning contract
  - formula/parser.go: Expression grammar
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/warp/recon-engine/engine"
	"github.com/warp/recon-engine/formula"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a rule definition.
type RuleJSON struct {
	RuleID            string   `json:"rule_id"`
	Formula           string   `json:"formula"`
	Description       string   `json:"description,omitempty"`
	ToleranceAbsolute *string  `json:"tolerance_absolute,omitempty"`
	TolerancePercent  *string  `json:"tolerance_percent,omitempty"`
	ToleranceMode     string   `json:"tolerance_mode,omitempty"` // any (default), all
	Severity          string   `json:"severity"`                 // critical, high, medium, info
	DocumentScope     []string `json:"document_scope"`
	PropertyScope     *string  `json:"property_scope,omitempty"` // nil = all properties
	EffectiveDate     string   `json:"effective_date"`           // YYYY-MM
	ExpiresAt         *string  `json:"expires_at,omitempty"`
	CreatedBy         string   `json:"created_by,omitempty"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rule definitions to engine.RuleEdit values.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses a JSON string into a validated RuleEdit.
func (f *RuleFactory) ParseRule(jsonStr string) (engine.RuleEdit, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return engine.RuleEdit{}, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// ParseRulePack parses a JSON array of rule definitions. One malformed
// rule fails the whole pack so a partial pack never lands.
func (f *RuleFactory) ParseRulePack(jsonStr string) ([]engine.RuleEdit, error) {
	var pack []RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &pack); err != nil {
		return nil, fmt.Errorf("failed to parse rule pack JSON: %w", err)
	}

	edits := make([]engine.RuleEdit, 0, len(pack))
	for _, rj := range pack {
		edit, err := f.FromJSON(rj)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rj.RuleID, err)
		}
		edits = append(edits, edit)
	}
	return edits, nil
}

// FromJSON converts RuleJSON to a RuleEdit, validating both the metadata
// and the formula text.
func (f *RuleFactory) FromJSON(rj RuleJSON) (engine.RuleEdit, error) {
	edit := engine.RuleEdit{
		RuleID:            engine.RuleID(rj.RuleID),
		Formula:           rj.Formula,
		Description:       rj.Description,
		ToleranceAbsolute: rj.ToleranceAbsolute,
		TolerancePercent:  rj.TolerancePercent,
		ToleranceMode:     parseToleranceMode(rj.ToleranceMode),
		Severity:          engine.Severity(rj.Severity),
		DocumentScope:     parseScope(rj.DocumentScope),
		EffectiveDate:     engine.PeriodID(rj.EffectiveDate),
		CreatedBy:         rj.CreatedBy,
	}
	if rj.PropertyScope != nil {
		p := engine.PropertyID(*rj.PropertyScope)
		edit.PropertyScope = &p
	}
	if rj.ExpiresAt != nil {
		p := engine.PeriodID(*rj.ExpiresAt)
		edit.ExpiresAt = &p
	}

	if err := edit.Validate(); err != nil {
		return engine.RuleEdit{}, err
	}

	// Parse the formula now so a bad expression is rejected at save time.
	expr, err := formula.Parse(rj.Formula)
	if err != nil {
		return engine.RuleEdit{}, &engine.ValidationError{
			RuleID: edit.RuleID,
			Field:  "formula",
			Detail: err.Error(),
		}
	}
	// A formula that touches no accounts asserts nothing about the books.
	if !expr.TouchesAccounts() {
		return engine.RuleEdit{}, &engine.ValidationError{
			RuleID: edit.RuleID,
			Field:  "formula",
			Detail: "formula references no accounts",
		}
	}

	return edit, nil
}

// ToJSON converts a stored Rule back to its JSON representation.
func (f *RuleFactory) ToJSON(rule engine.Rule) RuleJSON {
	rj := RuleJSON{
		RuleID:            string(rule.RuleID),
		Formula:           rule.Formula,
		Description:       rule.Description,
		ToleranceAbsolute: rule.ToleranceAbsolute,
		TolerancePercent:  rule.TolerancePercent,
		ToleranceMode:     string(rule.ToleranceMode),
		Severity:          string(rule.Severity),
		EffectiveDate:     string(rule.EffectiveDate),
		CreatedBy:         rule.CreatedBy,
	}
	for _, t := range rule.DocumentScope.Slice() {
		rj.DocumentScope = append(rj.DocumentScope, string(t))
	}
	if rule.PropertyScope != nil {
		s := string(*rule.PropertyScope)
		rj.PropertyScope = &s
	}
	if rule.ExpiresAt != nil {
		s := string(*rule.ExpiresAt)
		rj.ExpiresAt = &s
	}
	return rj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseToleranceMode(s string) engine.ToleranceMode {
	switch s {
	case "all":
		return engine.ToleranceAll
	default:
		return engine.ToleranceAny
	}
}

func parseScope(scope []string) []engine.DocumentType {
	out := make([]engine.DocumentType, 0, len(scope))
	for _, s := range scope {
		out = append(out, engine.DocumentType(s))
	}
	return out
}
