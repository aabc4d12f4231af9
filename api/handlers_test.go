/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Rule save validation and version history
- Rule pack installation
- Session runs end to end over the HTTP surface
- Error status mapping (400/404/409)
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/warp/recon-engine/anomaly"
	"github.com/warp/recon-engine/engine"
	"github.com/warp/recon-engine/session"
	"github.com/warp/recon-engine/store/sqlite"
)

func newTestAPI(t *testing.T) (http.Handler, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	orch := session.NewOrchestrator(store, anomaly.NewDetector(anomaly.Config{}))
	return NewRouter(NewHandler(store, orch)), store
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func validRuleBody() map[string]any {
	return map[string]any{
		"rule_id":            "BS-1",
		"formula":            "[Total Assets] = [Total Liabilities] + [Total Equity]",
		"description":        "Accounting identity",
		"tolerance_absolute": "0.01",
		"severity":           "critical",
		"document_scope":     []string{"balance_sheet"},
		"effective_date":     "2024-01",
		"created_by":         "test",
	}
}

func TestSaveRule_Success(t *testing.T) {
	// GIVEN: A fresh store
	router, _ := newTestAPI(t)

	// WHEN: Saving a valid rule
	rec := doJSON(t, router, http.MethodPost, "/api/rules", validRuleBody())

	// THEN: Version 1 is created
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rule := decodeBody[RuleDTO](t, rec)
	if rule.RuleID != "BS-1" || rule.Version != 1 {
		t.Errorf("Unexpected rule %+v", rule)
	}

	// AND: Saving again appends version 2
	rec = doJSON(t, router, http.MethodPost, "/api/rules", validRuleBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	if rule := decodeBody[RuleDTO](t, rec); rule.Version != 2 {
		t.Errorf("Expected version 2, got %d", rule.Version)
	}
}

func TestSaveRule_MalformedFormula(t *testing.T) {
	// GIVEN: A rule whose formula does not parse
	router, _ := newTestAPI(t)
	body := validRuleBody()
	body["formula"] = "[Total Assets] = "

	// WHEN: Saving it
	rec := doJSON(t, router, http.MethodPost, "/api/rules", body)

	// THEN: Rejected with 400 before anything is stored
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, router, http.MethodGet, "/api/rules", nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 listing rules, got %d", rec.Code)
	} else if rules := decodeBody[[]RuleDTO](t, rec); len(rules) != 0 {
		t.Errorf("Expected no rules stored, got %d", len(rules))
	}
}

func TestSaveRule_InvalidSeverity(t *testing.T) {
	// GIVEN: A rule with an unknown severity
	router, _ := newTestAPI(t)
	body := validRuleBody()
	body["severity"] = "urgent"

	// WHEN: Saving it
	rec := doJSON(t, router, http.MethodPost, "/api/rules", body)

	// THEN: Rejected with 400
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestRuleHistory_NotFound(t *testing.T) {
	// GIVEN: No rules
	router, _ := newTestAPI(t)

	// WHEN: Fetching history for an unknown rule
	rec := doJSON(t, router, http.MethodGet, "/api/rules/ghost/history", nil)

	// THEN: 404
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestLoadPacks(t *testing.T) {
	// GIVEN: A fresh store
	router, _ := newTestAPI(t)

	// WHEN: Installing the standard packs
	rec := doJSON(t, router, http.MethodPost, "/api/rules/packs", map[string]any{
		"effective_date": "2024-01",
		"created_by":     "test",
	})

	// THEN: All pack rules are saved at version 1
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	saved := decodeBody[[]RuleDTO](t, rec)
	if len(saved) != 15 {
		t.Fatalf("Expected 15 pack rules, got %d", len(saved))
	}
	for _, r := range saved {
		if r.Version != 1 {
			t.Errorf("Rule %s: expected version 1, got %d", r.RuleID, r.Version)
		}
	}

	// AND: Listing returns the same set
	rec = doJSON(t, router, http.MethodGet, "/api/rules", nil)
	if rules := decodeBody[[]RuleDTO](t, rec); len(rules) != 15 {
		t.Errorf("Expected 15 current rules, got %d", len(rules))
	}
}

func TestLoadPacks_RequiresEffectiveDate(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rules/packs", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestRunSession_EndToEnd(t *testing.T) {
	// GIVEN: A rule and line items that tie
	router, store := newTestAPI(t)
	rec := doJSON(t, router, http.MethodPost, "/api/rules", validRuleBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to save rule: %d", rec.Code)
	}

	items := []engine.LineItem{
		{ID: "li-1", PropertyID: "prop-001", PeriodID: "2025-01", DocumentType: engine.DocBalanceSheet,
			AccountCode: "1999-0000", AccountName: "Total Assets", PeriodAmount: dec("5400000.00"), ExtractionConfidence: dec("95")},
		{ID: "li-2", PropertyID: "prop-001", PeriodID: "2025-01", DocumentType: engine.DocBalanceSheet,
			AccountCode: "2999-0000", AccountName: "Total Liabilities", PeriodAmount: dec("2400000.00"), ExtractionConfidence: dec("95")},
		{ID: "li-3", PropertyID: "prop-001", PeriodID: "2025-01", DocumentType: engine.DocBalanceSheet,
			AccountCode: "3999-0000", AccountName: "Total Equity", PeriodAmount: dec("3000000.00"), ExtractionConfidence: dec("95")},
	}
	if err := store.SeedLineItems(context.Background(), items); err != nil {
		t.Fatalf("Failed to seed line items: %v", err)
	}

	// WHEN: Running a session over the API
	rec = doJSON(t, router, http.MethodPost, "/api/sessions", map[string]any{
		"property_id":    "prop-001",
		"period_id":      "2025-01",
		"skip_anomalies": true,
	})

	// THEN: The session completes with a passing summary
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	sess := decodeBody[SessionDTO](t, rec)
	if sess.Status != string(engine.SessionCompleted) {
		t.Fatalf("Expected completed session, got %s (%s)", sess.Status, sess.ErrorNote)
	}
	if sess.Summary == nil || sess.Summary.Total != 1 || sess.Summary.Passed != 1 {
		t.Fatalf("Unexpected summary %+v", sess.Summary)
	}

	// AND: The session is retrievable by id and as the latest
	rec = doJSON(t, router, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/sessions/latest?property_id=prop-001&period_id=2025-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if latest := decodeBody[SessionDTO](t, rec); latest.ID != sess.ID {
		t.Errorf("Expected latest session %s, got %s", sess.ID, latest.ID)
	}

	// AND: Results are available
	rec = doJSON(t, router, http.MethodGet, "/api/results?property_id=prop-001&period_id=2025-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	results := decodeBody[[]ResultDTO](t, rec)
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Status != string(engine.StatusPass) || results[0].RuleID != "BS-1" {
		t.Errorf("Unexpected result %+v", results[0])
	}
}

func TestRunSession_StrategyTogglesDisableMatching(t *testing.T) {
	// GIVEN: A rule whose accounts are seeded, but every matcher
	// strategy disabled for this run
	router, store := newTestAPI(t)
	rec := doJSON(t, router, http.MethodPost, "/api/rules", validRuleBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to save rule: %d", rec.Code)
	}

	items := []engine.LineItem{
		{ID: "li-1", PropertyID: "prop-001", PeriodID: "2025-01", DocumentType: engine.DocBalanceSheet,
			AccountCode: "1999-0000", AccountName: "Total Assets", PeriodAmount: dec("5400000.00"), ExtractionConfidence: dec("95")},
		{ID: "li-2", PropertyID: "prop-001", PeriodID: "2025-01", DocumentType: engine.DocBalanceSheet,
			AccountCode: "2999-0000", AccountName: "Total Liabilities", PeriodAmount: dec("2400000.00"), ExtractionConfidence: dec("95")},
		{ID: "li-3", PropertyID: "prop-001", PeriodID: "2025-01", DocumentType: engine.DocBalanceSheet,
			AccountCode: "3999-0000", AccountName: "Total Equity", PeriodAmount: dec("3000000.00"), ExtractionConfidence: dec("95")},
	}
	if err := store.SeedLineItems(context.Background(), items); err != nil {
		t.Fatalf("Failed to seed line items: %v", err)
	}

	// WHEN: Running a session with use_exact, use_fuzzy, and
	// use_name_only all off
	rec = doJSON(t, router, http.MethodPost, "/api/sessions", map[string]any{
		"property_id":    "prop-001",
		"period_id":      "2025-01",
		"skip_anomalies": true,
		"use_exact":      false,
		"use_fuzzy":      false,
		"use_name_only":  false,
	})

	// THEN: Nothing resolves, so the rule is skipped rather than failed
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	sess := decodeBody[SessionDTO](t, rec)
	if sess.Status != string(engine.SessionCompleted) {
		t.Fatalf("Expected completed session, got %s", sess.Status)
	}
	if sess.Summary == nil || sess.Summary.Skipped != 1 || sess.Summary.Passed != 0 {
		t.Fatalf("Unexpected summary %+v", sess.Summary)
	}
}

func TestRunSession_MissingFields(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", map[string]any{"property_id": "prop-001"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestLatestSession_None(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/sessions/latest?property_id=prop-001&period_id=2025-01", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/sessions/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestCancelSession_NotRunning(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions/ghost/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestGetAnomalies_RequiresProperty(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/anomalies", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestGetResults_RequiresQuery(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/results?property_id=prop-001", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}
