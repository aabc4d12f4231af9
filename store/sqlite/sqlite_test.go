package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/recon-engine/engine"
	"github.com/warp/recon-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strp(s string) *string { return &s }

func ruleEdit(id engine.RuleID, formula string) engine.RuleEdit {
	return engine.RuleEdit{
		RuleID:            id,
		Formula:           formula,
		Description:       "test rule",
		ToleranceAbsolute: strp("0.01"),
		Severity:          engine.SeverityHigh,
		DocumentScope:     []engine.DocumentType{engine.DocBalanceSheet},
		EffectiveDate:     "2024-01",
		CreatedBy:         "tester",
	}
}

func lineItem(id, period string, docType engine.DocumentType, code engine.AccountCode, name, amount string) engine.LineItem {
	return engine.LineItem{
		ID:                   id,
		PropertyID:           "prop-001",
		PeriodID:             engine.PeriodID(period),
		DocumentType:         docType,
		AccountCode:          code,
		AccountName:          name,
		PeriodAmount:         dec(amount),
		ExtractionConfidence: dec("95"),
	}
}

func testSession(id, period string, status engine.SessionStatus, startedAt time.Time) engine.Session {
	return engine.Session{
		ID:         engine.SessionID(id),
		PropertyID: "prop-001",
		PeriodID:   engine.PeriodID(period),
		Status:     status,
		StartedAt:  startedAt,
	}
}

// =============================================================================
// RULE VERSIONING
// =============================================================================

func TestSaveRuleVersion_AppendsVersions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v1, err := store.SaveRuleVersion(ctx, ruleEdit("BS-1", "[Total Assets] = [Total Liabilities] + [Total Equity]"))
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	edit := ruleEdit("BS-1", "[Total Assets] = [Total Liabilities] + [Total Equity]")
	edit.ToleranceAbsolute = strp("1.00")
	v2, err := store.SaveRuleVersion(ctx, edit)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	history, err := store.GetRuleHistory(ctx, "BS-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)
	require.NotNil(t, history[1].ToleranceAbsolute)
	assert.Equal(t, "1.00", *history[1].ToleranceAbsolute)
}

func TestSaveRuleVersion_RejectsInvalidEdit(t *testing.T) {
	store := newTestStore(t)

	edit := ruleEdit("BS-1", "[A] = [B]")
	edit.Severity = "urgent"
	_, err := store.SaveRuleVersion(context.Background(), edit)

	require.Error(t, err)
	assert.True(t, engine.IsClientError(err))

	_, err = store.GetRuleHistory(context.Background(), "BS-1")
	assert.ErrorIs(t, err, engine.ErrRuleNotFound)
}

func TestGetRuleHistory_UnknownRule(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRuleHistory(context.Background(), "nope")
	assert.ErrorIs(t, err, engine.ErrRuleNotFound)
}

func TestGetActiveRules_SelectsCurrentVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveRuleVersion(ctx, ruleEdit("BS-1", "[A] = [B]"))
	require.NoError(t, err)

	// A version effective only from 2025 must not apply earlier.
	future := ruleEdit("BS-1", "[A] = [B] + [C]")
	future.EffectiveDate = "2025-01"
	_, err = store.SaveRuleVersion(ctx, future)
	require.NoError(t, err)

	docs := []engine.DocumentType{engine.DocBalanceSheet}

	rules, err := store.GetActiveRules(ctx, docs, "prop-001", "2024-06")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 1, rules[0].Version)

	rules, err = store.GetActiveRules(ctx, docs, "prop-001", "2025-03")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 2, rules[0].Version)
}

func TestGetActiveRules_DocScopeFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveRuleVersion(ctx, ruleEdit("BS-1", "[A] = [B]"))
	require.NoError(t, err)

	rules, err := store.GetActiveRules(ctx, []engine.DocumentType{engine.DocCashFlow}, "prop-001", "2024-06")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestGetActiveRules_PropertyScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	scoped := ruleEdit("BS-SCOPED", "[A] = [B]")
	prop := engine.PropertyID("prop-002")
	scoped.PropertyScope = &prop
	_, err := store.SaveRuleVersion(ctx, scoped)
	require.NoError(t, err)

	docs := []engine.DocumentType{engine.DocBalanceSheet}

	rules, err := store.GetActiveRules(ctx, docs, "prop-001", "2024-06")
	require.NoError(t, err)
	assert.Empty(t, rules)

	rules, err = store.GetActiveRules(ctx, docs, "prop-002", "2024-06")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestListCurrentRules_LatestPerRule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveRuleVersion(ctx, ruleEdit("BS-1", "[A] = [B]"))
	require.NoError(t, err)
	_, err = store.SaveRuleVersion(ctx, ruleEdit("BS-1", "[A] = [B] + [C]"))
	require.NoError(t, err)
	_, err = store.SaveRuleVersion(ctx, ruleEdit("CF-1", "[X] = [Y]"))
	require.NoError(t, err)

	rules, err := store.ListCurrentRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, engine.RuleID("BS-1"), rules[0].RuleID)
	assert.Equal(t, 2, rules[0].Version)
	assert.Equal(t, engine.RuleID("CF-1"), rules[1].RuleID)
	assert.Equal(t, 1, rules[1].Version)
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func TestGetLineItems_FiltersByDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SeedLineItems(ctx, []engine.LineItem{
		lineItem("li-1", "2025-01", engine.DocBalanceSheet, "1999-0000", "Total Assets", "5400000.00"),
		lineItem("li-2", "2025-01", engine.DocCashFlow, "", "Ending Cash", "211512.90"),
		lineItem("li-3", "2024-12", engine.DocBalanceSheet, "1999-0000", "Total Assets", "5395000.00"),
	}))

	items, err := store.GetLineItems(ctx, "prop-001", "2025-01", engine.DocBalanceSheet)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, engine.AccountCode("1999-0000"), items[0].AccountCode)
	assert.True(t, items[0].PeriodAmount.Equal(dec("5400000.00")))
}

func TestGetLineItemHistory_ByCode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SeedLineItems(ctx, []engine.LineItem{
		lineItem("li-1", "2024-11", engine.DocBalanceSheet, "1999-0000", "Total Assets", "5380000.00"),
		lineItem("li-2", "2024-12", engine.DocBalanceSheet, "1999-0000", "Total Assets", "5395000.00"),
		lineItem("li-3", "2025-01", engine.DocBalanceSheet, "1999-0000", "Total Assets", "5400000.00"),
		lineItem("li-4", "2025-01", engine.DocBalanceSheet, "2999-0000", "Total Liabilities", "2400000.00"),
	}))

	periods := []engine.PeriodID{"2024-12", "2025-01"}
	items, err := store.GetLineItemHistory(ctx, "prop-001", "1999-0000", "Total Assets", periods)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, engine.PeriodID("2024-12"), items[0].PeriodID)
	assert.Equal(t, engine.PeriodID("2025-01"), items[1].PeriodID)
}

func TestGetLineItemHistory_ByNameWhenNoCode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SeedLineItems(ctx, []engine.LineItem{
		lineItem("li-1", "2024-12", engine.DocCashFlow, "", "Ending Cash", "209800.00"),
		lineItem("li-2", "2025-01", engine.DocCashFlow, "", "Ending Cash", "211512.90"),
		lineItem("li-3", "2025-01", engine.DocCashFlow, "", "Beginning Cash", "209800.00"),
	}))

	periods := []engine.PeriodID{"2024-12", "2025-01"}
	items, err := store.GetLineItemHistory(ctx, "prop-001", "", "Ending Cash", periods)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Ending Cash", items[0].AccountName)
	assert.Equal(t, "Ending Cash", items[1].AccountName)
}

// =============================================================================
// RESULTS AND SUPERSESSION
// =============================================================================

func testResult(id, sessionID string) engine.ReconciliationResult {
	pct := dec("0.5")
	return engine.ReconciliationResult{
		ID:               id,
		SessionID:        engine.SessionID(sessionID),
		RuleID:           "BS-1",
		RuleVersion:      1,
		PropertyID:       "prop-001",
		PeriodID:         "2025-01",
		ExpectedValue:    dec("100.00"),
		ActualValue:      dec("100.50"),
		VarianceAbsolute: dec("0.50"),
		VariancePercent:  &pct,
		Status:           engine.StatusWarn,
		Severity:         engine.SeverityHigh,
		EvaluatedAt:      time.Now().UTC(),
	}
}

func testAnomaly(sessionPeriod string) engine.AnomalyResult {
	return engine.AnomalyResult{
		PropertyID:      "prop-001",
		AccountCode:     "6110-0000",
		AccountName:     "Repairs And Maintenance",
		PeriodID:        engine.PeriodID(sessionPeriod),
		Method:          engine.MethodZScore,
		Score:           dec("3.1"),
		IsAnomalous:     true,
		SupportingStats: map[string]string{"mean": "4200.00"},
		DetectedAt:      time.Now().UTC(),
	}
}

func TestReplaceResults_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sess-1", "2025-01", engine.SessionCompleted, time.Now().UTC())
	require.NoError(t, store.CreateSession(ctx, sess))
	require.NoError(t, store.ReplaceResults(ctx, sess,
		[]engine.ReconciliationResult{testResult("r-1", "sess-1")},
		[]engine.AnomalyResult{testAnomaly("2025-01")}))

	results, err := store.GetResults(ctx, "prop-001", "2025-01")
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, engine.StatusWarn, r.Status)
	assert.True(t, r.ExpectedValue.Equal(dec("100.00")))
	assert.True(t, r.VarianceAbsolute.Equal(dec("0.50")))
	require.NotNil(t, r.VariancePercent)
	assert.True(t, r.VariancePercent.Equal(dec("0.5")))

	anomalies, err := store.GetAnomalies(ctx, "prop-001", "6110-0000")
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, engine.MethodZScore, anomalies[0].Method)
	assert.True(t, anomalies[0].IsAnomalous)
	assert.Equal(t, "4200.00", anomalies[0].SupportingStats["mean"])
}

func TestReplaceResults_SupersedesPriorSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testSession("sess-1", "2025-01", engine.SessionCompleted, time.Now().UTC())
	require.NoError(t, store.CreateSession(ctx, first))
	require.NoError(t, store.ReplaceResults(ctx, first,
		[]engine.ReconciliationResult{testResult("r-1", "sess-1")},
		[]engine.AnomalyResult{testAnomaly("2025-01")}))

	second := testSession("sess-2", "2025-01", engine.SessionCompleted, time.Now().UTC().Add(time.Minute))
	require.NoError(t, store.CreateSession(ctx, second))
	require.NoError(t, store.ReplaceResults(ctx, second,
		[]engine.ReconciliationResult{testResult("r-2", "sess-2")},
		nil))

	results, err := store.GetResults(ctx, "prop-001", "2025-01")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, engine.SessionID("sess-2"), results[0].SessionID)

	// The prior session's anomalies are superseded as well.
	anomalies, err := store.GetAnomalies(ctx, "prop-001", "")
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	sess := testSession("sess-1", "2025-01", engine.SessionRunning, started)
	require.NoError(t, store.CreateSession(ctx, sess))

	completed := started.Add(2 * time.Second)
	sess.Status = engine.SessionCompleted
	sess.CompletedAt = &completed
	sess.Summary = &engine.SessionSummary{Total: 3, Passed: 2, Failed: 1, BySeverity: map[engine.Severity]int{engine.SeverityHigh: 1}}
	require.NoError(t, store.UpdateSession(ctx, sess))

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, engine.SessionCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
	require.NotNil(t, got.Summary)
	assert.Equal(t, 3, got.Summary.Total)
	assert.Equal(t, 1, got.Summary.BySeverity[engine.SeverityHigh])
}

func TestUpdateSession_Unknown(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateSession(context.Background(), testSession("ghost", "2025-01", engine.SessionFailed, time.Now().UTC()))
	assert.True(t, errors.Is(err, engine.ErrSessionNotFound))
}

func TestGetSession_Unknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), "ghost")
	assert.ErrorIs(t, err, engine.ErrSessionNotFound)
}

func TestLatestSession_PicksMostRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.CreateSession(ctx, testSession("sess-old", "2025-01", engine.SessionCompleted, base)))
	require.NoError(t, store.CreateSession(ctx, testSession("sess-new", "2025-01", engine.SessionFailed, base.Add(time.Minute))))

	latest, err := store.LatestSession(ctx, "prop-001", "2025-01")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, engine.SessionID("sess-new"), latest.ID)
}

func TestLatestSession_NoneIsNil(t *testing.T) {
	store := newTestStore(t)

	latest, err := store.LatestSession(context.Background(), "prop-001", "2025-01")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

// =============================================================================
// SCHEDULER SUPPORT
// =============================================================================

func TestListUnreconciledPeriods(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SeedLineItems(ctx, []engine.LineItem{
		lineItem("li-1", "2024-12", engine.DocBalanceSheet, "1999-0000", "Total Assets", "5395000.00"),
		lineItem("li-2", "2025-01", engine.DocBalanceSheet, "1999-0000", "Total Assets", "5400000.00"),
	}))

	// Only a completed session reconciles a period; a failed one does not.
	require.NoError(t, store.CreateSession(ctx, testSession("sess-1", "2024-12", engine.SessionCompleted, time.Now().UTC())))
	require.NoError(t, store.CreateSession(ctx, testSession("sess-2", "2025-01", engine.SessionFailed, time.Now().UTC())))

	pairs, err := store.ListUnreconciledPeriods(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, [2]string{"prop-001", "2025-01"}, pairs[0])
}

func TestReset_WipesEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveRuleVersion(ctx, ruleEdit("BS-1", "[A] = [B]"))
	require.NoError(t, err)
	require.NoError(t, store.SeedLineItems(ctx, []engine.LineItem{
		lineItem("li-1", "2025-01", engine.DocBalanceSheet, "1999-0000", "Total Assets", "5400000.00"),
	}))
	require.NoError(t, store.CreateSession(ctx, testSession("sess-1", "2025-01", engine.SessionRunning, time.Now().UTC())))

	require.NoError(t, store.Reset(ctx))

	rules, err := store.ListCurrentRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
	items, err := store.GetLineItems(ctx, "prop-001", "2025-01", engine.DocBalanceSheet)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = store.GetSession(ctx, "sess-1")
	assert.ErrorIs(t, err, engine.ErrSessionNotFound)
}
