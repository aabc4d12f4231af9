/*
scenarios_test.go - Demo scenario integration tests

Tests for:
- Scenario listing and current-scenario tracking
- clean-books: every pack rule ties
- broken-ties: the distorted totals fail their rules
- suspicious-activity: the fraud detectors flag the planted signals
*/
package api

import (
	"net/http"
	"testing"

	"github.com/warp/recon-engine/engine"
)

func loadScenario(t *testing.T, router http.Handler, name string) {
	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario": name})
	if rec.Code != http.StatusOK {
		t.Fatalf("Failed to load scenario %s: %d %s", name, rec.Code, rec.Body.String())
	}
}

func runScenarioSession(t *testing.T, router http.Handler, skipAnomalies bool) SessionDTO {
	rec := doJSON(t, router, http.MethodPost, "/api/sessions", map[string]any{
		"property_id":    string(scenarioProperty),
		"period_id":      string(scenarioLastPeriod),
		"skip_anomalies": skipAnomalies,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to run session: %d %s", rec.Code, rec.Body.String())
	}
	sess := decodeBody[SessionDTO](t, rec)
	if sess.Status != string(engine.SessionCompleted) {
		t.Fatalf("Expected completed session, got %s (%s)", sess.Status, sess.ErrorNote)
	}
	if sess.Summary == nil {
		t.Fatal("Expected a session summary")
	}
	return sess
}

func TestListScenarios(t *testing.T) {
	// GIVEN: The API
	router, _ := newTestAPI(t)

	// WHEN: Listing scenarios
	rec := doJSON(t, router, http.MethodGet, "/api/scenarios", nil)

	// THEN: All three demo scenarios are available
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	list := decodeBody[[]ScenarioDTO](t, rec)
	if len(list) != 3 {
		t.Fatalf("Expected 3 scenarios, got %d", len(list))
	}
}

func TestLoadScenario_TracksCurrent(t *testing.T) {
	// GIVEN: A loaded scenario
	router, _ := newTestAPI(t)
	loadScenario(t, router, "clean-books")

	// WHEN: Querying the current scenario
	rec := doJSON(t, router, http.MethodGet, "/api/scenarios/current", nil)

	// THEN: It reports clean-books
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if cur := decodeBody[ScenarioDTO](t, rec); cur.ID != "clean-books" {
		t.Errorf("Expected clean-books, got %q", cur.ID)
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario": "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestCleanBooks_EverythingTies(t *testing.T) {
	// GIVEN: The clean-books scenario
	router, _ := newTestAPI(t)
	loadScenario(t, router, "clean-books")

	// WHEN: Reconciling the latest month
	sess := runScenarioSession(t, router, true)

	// THEN: Every pack rule evaluates and passes
	s := sess.Summary
	if s.Total != 15 {
		t.Errorf("Expected 15 rules evaluated, got %d", s.Total)
	}
	if s.Failed != 0 || s.Warned != 0 || s.Skipped != 0 {
		t.Errorf("Expected clean run, got failed=%d warned=%d skipped=%d", s.Failed, s.Warned, s.Skipped)
	}
	if s.Passed != s.Total {
		t.Errorf("Expected all passed, got %d of %d", s.Passed, s.Total)
	}
}

func TestBrokenTies_DistortedTotalsFail(t *testing.T) {
	// GIVEN: The broken-ties scenario
	router, _ := newTestAPI(t)
	loadScenario(t, router, "broken-ties")

	// WHEN: Reconciling the latest month
	sess := runScenarioSession(t, router, true)

	// THEN: The planted breaks fail their rules
	if sess.Summary.Failed < 3 {
		t.Fatalf("Expected at least 3 failures, got %d", sess.Summary.Failed)
	}

	rec := doJSON(t, router, http.MethodGet,
		"/api/results?property_id="+string(scenarioProperty)+"&period_id="+string(scenarioLastPeriod), nil)
	results := decodeBody[[]ResultDTO](t, rec)

	failed := make(map[string]bool)
	for _, r := range results {
		if r.Status == string(engine.StatusFail) {
			failed[r.RuleID] = true
		}
	}
	// The overstated assets, NOI mismatch, and cash discontinuity.
	for _, id := range []string{"BS-1", "IS-3", "CF-2"} {
		if !failed[id] {
			t.Errorf("Expected %s to fail, failures: %v", id, failed)
		}
	}
	// The untouched rollups still tie.
	for _, r := range results {
		if r.RuleID == "IS-1" && r.Status != string(engine.StatusPass) {
			t.Errorf("Expected IS-1 to pass, got %s", r.Status)
		}
	}
}

func TestSuspiciousActivity_DetectorsFlag(t *testing.T) {
	// GIVEN: The suspicious-activity scenario
	router, _ := newTestAPI(t)
	loadScenario(t, router, "suspicious-activity")

	// WHEN: Reconciling with the anomaly passes enabled
	sess := runScenarioSession(t, router, false)

	// THEN: The arithmetic still ties; the signals surface as anomalies
	if sess.Summary.Failed != 0 {
		t.Errorf("Expected no rule failures, got %d", sess.Summary.Failed)
	}
	if sess.Summary.AnomaliesFlagged == 0 {
		t.Fatal("Expected flagged anomalies")
	}

	rec := doJSON(t, router, http.MethodGet,
		"/api/anomalies?property_id="+string(scenarioProperty), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	anomalies := decodeBody[[]AnomalyDTO](t, rec)

	var repairSpike, duplicate bool
	for _, a := range anomalies {
		if !a.IsAnomalous {
			continue
		}
		if a.Method == string(engine.MethodZScore) && a.AccountCode == "5020-0000" {
			repairSpike = true
		}
		if a.Method == string(engine.MethodDuplicate) && a.AccountName == "ABC Roofing Invoice" {
			duplicate = true
		}
	}
	if !repairSpike {
		t.Error("Expected z-score flag on the repair expense spike")
	}
	if !duplicate {
		t.Error("Expected duplicate flag on the doubled vendor invoice")
	}
}

func TestResetDatabase(t *testing.T) {
	// GIVEN: A loaded scenario
	router, _ := newTestAPI(t)
	loadScenario(t, router, "clean-books")

	// WHEN: Resetting
	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	// THEN: Rules and the current-scenario marker are gone
	rec = doJSON(t, router, http.MethodGet, "/api/rules", nil)
	if rules := decodeBody[[]RuleDTO](t, rec); len(rules) != 0 {
		t.Errorf("Expected no rules after reset, got %d", len(rules))
	}
	rec = doJSON(t, router, http.MethodGet, "/api/scenarios/current", nil)
	if rec.Body.String() != "null\n" {
		t.Errorf("Expected null current scenario, got %q", rec.Body.String())
	}
}
