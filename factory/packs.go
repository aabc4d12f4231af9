/*
packs.go - Pre-built reconciliation rule packs per statement type

PURPOSE:
  Provides ready-to-use rule definitions for the common cross-checks on
  each financial statement type. These are starting points: real
  portfolios tune tolerances and add property-scoped rules on top.

AVAILABLE PACKS:
  BalanceSheetPack:      Accounting equation, subtotal ties, current ratio
  IncomeStatementPack:   Revenue and expense rollups, NOI derivation
  CashFlowPack:          Cash continuity within and across periods
  RentRollPack:          Scheduled rent vs recognized rental income
  MortgagePack:          Payment decomposition, amortization direction

TOLERANCE CONVENTIONS:
  - Accounting identities (BS-1, MS-2) carry a 0.01 absolute tolerance:
    rounding in extracted cents, nothing more
  - Rollup ties allow 1.00 absolute OR 0.5 percent, whichever is looser
  - Directional checks (current ratio, amortization) carry no tolerance;
    the comparison either holds or it does not

SEE ALSO:
  - rule.go: RuleJSON schema and parse-time validation
*/
package factory

// =============================================================================
// STANDARD RULE PACKS
// =============================================================================

// BalanceSheetPack returns the standard balance sheet cross-checks,
// effective from the given period.
func BalanceSheetPack(effectiveDate string) []RuleJSON {
	return []RuleJSON{
		{
			RuleID:            "BS-1",
			Formula:           "[Total Assets] = [Total Liabilities] + [Total Equity]",
			Description:       "Accounting equation",
			ToleranceAbsolute: strp("0.01"),
			Severity:          "critical",
			DocumentScope:     []string{"balance_sheet"},
			EffectiveDate:     effectiveDate,
		},
		{
			RuleID:            "BS-2",
			Formula:           "SUM(current_assets) = [Total Current Assets]",
			Description:       "Current assets rollup",
			ToleranceAbsolute: strp("1.00"),
			TolerancePercent:  strp("0.5"),
			Severity:          "high",
			DocumentScope:     []string{"balance_sheet"},
			EffectiveDate:     effectiveDate,
		},
		{
			RuleID:        "BS-3",
			Formula:       "[Total Current Assets] / [Total Current Liabilities] >= 1.0",
			Description:   "Current ratio floor",
			Severity:      "medium",
			DocumentScope: []string{"balance_sheet"},
			EffectiveDate: effectiveDate,
		},
		{
			RuleID:        "BS-4",
			Formula:       "[Cash Operating] >= 0",
			Description:   "Operating cash never negative",
			Severity:      "high",
			DocumentScope: []string{"balance_sheet"},
			EffectiveDate: effectiveDate,
		},
	}
}

// IncomeStatementPack returns the standard income statement cross-checks.
func IncomeStatementPack(effectiveDate string) []RuleJSON {
	return []RuleJSON{
		{
			RuleID:            "IS-1",
			Formula:           "SUM(revenue) = [Total Revenue]",
			Description:       "Revenue rollup",
			ToleranceAbsolute: strp("1.00"),
			TolerancePercent:  strp("0.5"),
			Severity:          "high",
			DocumentScope:     []string{"income_statement"},
			EffectiveDate:     effectiveDate,
		},
		{
			RuleID:            "IS-2",
			Formula:           "SUM(operating_expenses) = [Total Operating Expenses]",
			Description:       "Operating expense rollup",
			ToleranceAbsolute: strp("1.00"),
			TolerancePercent:  strp("0.5"),
			Severity:          "high",
			DocumentScope:     []string{"income_statement"},
			EffectiveDate:     effectiveDate,
		},
		{
			RuleID:            "IS-3",
			Formula:           "[Total Revenue] - [Total Operating Expenses] = [Net Operating Income]",
			Description:       "NOI derivation",
			ToleranceAbsolute: strp("1.00"),
			Severity:          "critical",
			DocumentScope:     []string{"income_statement"},
			EffectiveDate:     effectiveDate,
		},
	}
}

// CashFlowPack returns the cash continuity checks, including the
// cross-period tie of beginning cash to the prior month's ending cash.
func CashFlowPack(effectiveDate string) []RuleJSON {
	return []RuleJSON{
		{
			RuleID:            "CF-1",
			Formula:           "[Ending Cash] = [Beginning Cash] + [Net Cash Flow]",
			Description:       "Cash continuity within the period",
			ToleranceAbsolute: strp("0.01"),
			Severity:          "critical",
			DocumentScope:     []string{"cash_flow"},
			EffectiveDate:     effectiveDate,
		},
		{
			RuleID:            "CF-2",
			Formula:           "[Beginning Cash] = [Ending Cash @ PRIOR]",
			Description:       "Cash continuity across periods",
			ToleranceAbsolute: strp("0.01"),
			Severity:          "high",
			DocumentScope:     []string{"cash_flow"},
			EffectiveDate:     effectiveDate,
		},
		{
			RuleID:            "CF-3",
			Formula:           "[Ending Cash] = [balance_sheet: Cash Operating]",
			Description:       "Statement cash ties to balance sheet",
			ToleranceAbsolute: strp("1.00"),
			TolerancePercent:  strp("1.0"),
			Severity:          "medium",
			DocumentScope:     []string{"cash_flow", "balance_sheet"},
			EffectiveDate:     effectiveDate,
		},
	}
}

// RentRollPack ties scheduled rent to recognized rental income.
func RentRollPack(effectiveDate string) []RuleJSON {
	return []RuleJSON{
		{
			RuleID:        "RR-1",
			Formula:       "SUM(rent_roll: scheduled_rent) >= [income_statement: Rental Income]",
			Description:   "Recognized rent cannot exceed scheduled rent",
			Severity:      "high",
			DocumentScope: []string{"rent_roll", "income_statement"},
			EffectiveDate: effectiveDate,
		},
		{
			RuleID:           "RR-2",
			Formula:          "SUM(rent_roll: scheduled_rent) = [income_statement: Rental Income]",
			Description:      "Scheduled rent vs recognized rent, vacancy allowance",
			TolerancePercent: strp("10"),
			Severity:         "medium",
			DocumentScope:    []string{"rent_roll", "income_statement"},
			EffectiveDate:    effectiveDate,
		},
	}
}

// MortgagePack returns the mortgage statement checks.
func MortgagePack(effectiveDate string) []RuleJSON {
	return []RuleJSON{
		{
			RuleID:            "MS-1",
			Formula:           "[Total Payment] = [Principal Paid] + [Interest Paid] + [Escrow Paid]",
			Description:       "Payment decomposition",
			ToleranceAbsolute: strp("0.01"),
			Severity:          "critical",
			DocumentScope:     []string{"mortgage_statement"},
			EffectiveDate:     effectiveDate,
		},
		{
			RuleID:        "MS-2",
			Formula:       "[Principal Balance] <= [Principal Balance @ PRIOR]",
			Description:   "Amortizing balance never grows",
			Severity:      "high",
			DocumentScope: []string{"mortgage_statement"},
			EffectiveDate: effectiveDate,
		},
		{
			RuleID:            "MS-3",
			Formula:           "[Principal Balance @ PRIOR] - [Principal Paid] = [Principal Balance]",
			Description:       "Balance rolls forward by principal paid",
			ToleranceAbsolute: strp("0.01"),
			Severity:          "high",
			DocumentScope:     []string{"mortgage_statement"},
			EffectiveDate:     effectiveDate,
		},
	}
}

// StandardPacks returns every built-in pack concatenated, ready for
// ParseRulePack-equivalent conversion via FromJSON.
func StandardPacks(effectiveDate string) []RuleJSON {
	var all []RuleJSON
	all = append(all, BalanceSheetPack(effectiveDate)...)
	all = append(all, IncomeStatementPack(effectiveDate)...)
	all = append(all, CashFlowPack(effectiveDate)...)
	all = append(all, RentRollPack(effectiveDate)...)
	all = append(all, MortgagePack(effectiveDate)...)
	return all
}

func strp(s string) *string { return &s }
