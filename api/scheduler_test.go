/*
scheduler_test.go - Background scheduler tests

Tests for:
- RunNow reconciling every pending (property, period)
- Disabled scheduler not starting
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/warp/recon-engine/anomaly"
	"github.com/warp/recon-engine/engine"
	"github.com/warp/recon-engine/session"
	"github.com/warp/recon-engine/store/sqlite"
)

func newTestScheduler(t *testing.T) (*Scheduler, http.Handler, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	orch := session.NewOrchestrator(store, anomaly.NewDetector(anomaly.Config{}))
	router := NewRouter(NewHandler(store, orch))
	return NewScheduler(store, orch), router, store
}

func TestScheduler_RunNowReconcilesPendingPeriods(t *testing.T) {
	// GIVEN: Seeded line items with no completed session
	scheduler, router, store := newTestScheduler(t)
	ctx := context.Background()

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
	if err := store.SeedLineItems(ctx, items); err != nil {
		t.Fatalf("Failed to seed line items: %v", err)
	}

	pairs, err := store.ListUnreconciledPeriods(ctx)
	if err != nil {
		t.Fatalf("Failed to list pending periods: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("Expected 1 pending period, got %d", len(pairs))
	}

	// WHEN: The scheduler runs a check
	scheduler.RunNow()

	// THEN: The period is reconciled and drops off the pending list
	sess, err := store.LatestSession(ctx, "prop-001", "2025-01")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if sess == nil || sess.Status != engine.SessionCompleted {
		t.Fatalf("Expected completed session, got %+v", sess)
	}

	pairs, err = store.ListUnreconciledPeriods(ctx)
	if err != nil {
		t.Fatalf("Failed to list pending periods: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("Expected no pending periods, got %d", len(pairs))
	}
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	// GIVEN: A disabled scheduler
	scheduler, _, _ := newTestScheduler(t)
	scheduler.Enabled = false

	// WHEN: Start and Stop are called
	scheduler.Start()
	scheduler.Stop()

	// THEN: No ticker goroutine was started and Stop is a no-op
	if scheduler.ticker != nil {
		t.Error("Expected no ticker for a disabled scheduler")
	}
}
