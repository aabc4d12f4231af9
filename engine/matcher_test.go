package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func bsItem(code, name string, amount float64) engine.LineItem {
	return engine.LineItem{
		ID:                   code + "/" + name,
		PropertyID:           "prop-1",
		PeriodID:             "2024-06",
		DocumentType:         engine.DocBalanceSheet,
		AccountCode:          engine.AccountCode(code),
		AccountName:          name,
		PeriodAmount:         decimal.NewFromFloat(amount),
		ExtractionConfidence: decimal.NewFromInt(95),
	}
}

func cfItem(name string, amount float64) engine.LineItem {
	it := bsItem("", name, amount)
	it.DocumentType = engine.DocCashFlow
	return it
}

func newMatcher() *engine.Matcher {
	return engine.NewMatcher(engine.DefaultMatcherOptions())
}

// =============================================================================
// EXACT CODE MATCHING
// =============================================================================

func TestMatcher_ExactCode(t *testing.T) {
	// GIVEN: Items with account codes
	// WHEN: Resolving by code
	// THEN: The exact strategy hits with full confidence

	items := []engine.LineItem{
		bsItem("0122-0000", "Cash Operating", 1000),
		bsItem("0130-0000", "Accounts Receivable", 500),
	}

	res := newMatcher().Resolve(engine.AccountReference{
		AccountCode:  "0122-0000",
		DocumentType: engine.DocBalanceSheet,
	}, items)

	if res.Strategy != engine.MatchExactCode {
		t.Fatalf("expected exact_code, got %s", res.Strategy)
	}
	if res.LineItem == nil || res.LineItem.AccountName != "Cash Operating" {
		t.Errorf("resolved wrong item: %+v", res.LineItem)
	}
	if !res.MatchConfidence.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected confidence 100, got %s", res.MatchConfidence)
	}
}

func TestMatcher_ExactCode_NormalizesCaseAndWhitespace(t *testing.T) {
	items := []engine.LineItem{bsItem("1010-A", "Petty Cash", 50)}

	res := newMatcher().Resolve(engine.AccountReference{
		AccountCode:  " 1010-a ",
		DocumentType: engine.DocBalanceSheet,
	}, items)

	if res.Strategy != engine.MatchExactCode {
		t.Errorf("expected exact_code after normalization, got %s", res.Strategy)
	}
}

func TestMatcher_DuplicateCodes_PrefersHigherExtractionConfidence(t *testing.T) {
	// GIVEN: Two items sharing a code with different extraction confidence
	// WHEN: Resolving that code
	// THEN: The higher-confidence item wins

	a := bsItem("0122-0000", "Cash Operating", 1000)
	a.ExtractionConfidence = decimal.NewFromInt(80)
	b := bsItem("0122-0000", "Cash Operating Main", 1200)
	b.ExtractionConfidence = decimal.NewFromInt(99)

	res := newMatcher().Resolve(engine.AccountReference{
		AccountCode:  "0122-0000",
		AccountName:  "Cash Operating Main",
		DocumentType: engine.DocBalanceSheet,
	}, []engine.LineItem{a, b})

	if res.LineItem == nil || res.LineItem.AccountName != "Cash Operating Main" {
		t.Errorf("expected the 99-confidence item, got %+v", res.LineItem)
	}
}

// =============================================================================
// FUZZY NAME MATCHING
// =============================================================================

func TestMatcher_FuzzyName_MinorTypo(t *testing.T) {
	// GIVEN: An item whose extracted name differs by one character
	// WHEN: Resolving by name with a code that matches nothing
	// THEN: The fuzzy strategy hits above the similarity threshold

	items := []engine.LineItem{bsItem("0130-0000", "Accounts Recievable", 500)}

	res := newMatcher().Resolve(engine.AccountReference{
		AccountName:  "Accounts Receivable",
		DocumentType: engine.DocBalanceSheet,
	}, items)

	if res.Strategy != engine.MatchFuzzyName {
		t.Fatalf("expected fuzzy_name, got %s", res.Strategy)
	}
	if res.MatchConfidence.LessThan(decimal.NewFromInt(85)) {
		t.Errorf("expected confidence >= 85, got %s", res.MatchConfidence)
	}
}

func TestMatcher_FuzzyName_RejectsDissimilar(t *testing.T) {
	items := []engine.LineItem{bsItem("5020-0000", "Repairs and Maintenance", 4000)}

	res := newMatcher().Resolve(engine.AccountReference{
		AccountName:  "Total Equity",
		DocumentType: engine.DocBalanceSheet,
	}, items)

	if res.Strategy != engine.MatchUnresolved {
		t.Errorf("expected unresolved, got %s", res.Strategy)
	}
	if res.Resolved() {
		t.Error("dissimilar name should not resolve")
	}
}

// =============================================================================
// NAME-ONLY FALLBACK
// =============================================================================

func TestMatcher_NameOnly_AllowedOnCashFlow(t *testing.T) {
	// GIVEN: A cash flow item with no code and a loosely similar name
	// WHEN: Resolving where fuzzy fails but name-only passes
	// THEN: The name-only strategy hits with capped confidence

	items := []engine.LineItem{cfItem("Net Cash Flow Total", 8000)}

	res := newMatcher().Resolve(engine.AccountReference{
		AccountName:  "Net Cash Flow",
		DocumentType: engine.DocCashFlow,
	}, items)

	if res.Strategy != engine.MatchNameOnly {
		t.Fatalf("expected name_only, got %s", res.Strategy)
	}
	if res.MatchConfidence.GreaterThan(decimal.NewFromInt(engine.NameOnlyConfidenceCap)) {
		t.Errorf("name-only confidence should be capped at %d, got %s",
			engine.NameOnlyConfidenceCap, res.MatchConfidence)
	}
}

func TestMatcher_NameOnly_BlockedOnBalanceSheet(t *testing.T) {
	// GIVEN: A balance sheet item reachable only via the loose threshold
	// WHEN: Resolving on a document type that disallows name-only
	// THEN: The reference stays unresolved

	items := []engine.LineItem{bsItem("", "Net Cash Flow Total", 8000)}

	res := newMatcher().Resolve(engine.AccountReference{
		AccountName:  "Net Cash Flow",
		DocumentType: engine.DocBalanceSheet,
	}, items)

	if res.Strategy != engine.MatchUnresolved {
		t.Errorf("expected unresolved on balance_sheet, got %s", res.Strategy)
	}
}

func TestMatcher_DocumentTypeIsolation(t *testing.T) {
	// GIVEN: The same account name on two document types
	// WHEN: Resolving scoped to one type
	// THEN: Only that type's item is considered

	bs := bsItem("0122-0000", "Cash Operating", 1000)
	cf := cfItem("Cash Operating", 999)

	res := newMatcher().Resolve(engine.AccountReference{
		AccountName:  "Cash Operating",
		DocumentType: engine.DocCashFlow,
	}, []engine.LineItem{bs, cf})

	if res.LineItem == nil || !res.LineItem.PeriodAmount.Equal(decimal.NewFromInt(999)) {
		t.Errorf("expected the cash flow item, got %+v", res.LineItem)
	}
}

func TestMatcher_StrategiesDisabled(t *testing.T) {
	items := []engine.LineItem{bsItem("0122-0000", "Cash Operating", 1000)}

	m := engine.NewMatcher(engine.MatcherOptions{UseFuzzy: true})
	res := m.Resolve(engine.AccountReference{
		AccountCode:  "0122-0000",
		DocumentType: engine.DocBalanceSheet,
	}, items)

	// Exact disabled and no name given: nothing to match on.
	if res.Strategy != engine.MatchUnresolved {
		t.Errorf("expected unresolved with exact disabled, got %s", res.Strategy)
	}
}
