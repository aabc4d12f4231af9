/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	extracted financial data for testing and demos. Each scenario installs
	the standard rule packs and seeds fourteen months of line items for
	one property, then leaves session runs to the caller.

AVAILABLE SCENARIOS:

	clean-books:         Internally consistent statements, everything ties
	broken-ties:         Balance sheet and NOI mismatches in the latest month
	suspicious-activity: Expense spike, round numbers, duplicate payments

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Install the standard rule packs effective from the first period
 3. Generate month-by-month line items from a deterministic model
 4. Apply scenario-specific distortions to the latest period

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario": "broken-ties"}

	POST /api/sessions
	{"property_id": "prop-001", "period_id": "2025-02"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - factory/packs.go: The rule packs each scenario installs
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
	"github.com/warp/recon-engine/factory"
)

const (
	scenarioProperty    = engine.PropertyID("prop-001")
	scenarioFirstPeriod = engine.PeriodID("2024-01")
	scenarioLastPeriod  = engine.PeriodID("2025-02")
	scenarioMonths      = 14
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "clean-books",
		Name:        "Clean Books",
		Description: "Fourteen months of internally consistent statements; every cross-check ties",
		Category:    "baseline",
	},
	{
		ID:          "broken-ties",
		Name:        "Broken Ties",
		Description: "Latest month has an unbalanced balance sheet, an NOI mismatch, and a cash discontinuity",
		Category:    "extraction-errors",
	},
	{
		ID:          "suspicious-activity",
		Name:        "Suspicious Activity",
		Description: "Repair expense spike, round-number invoices, and a duplicate vendor payment",
		Category:    "fraud-signals",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.Scenario {
	case "clean-books":
		err = h.loadScenarioWith(ctx, nil)
	case "broken-ties":
		err = h.loadScenarioWith(ctx, distortTies)
	case "suspicious-activity":
		err = h.loadScenarioWith(ctx, injectFraudSignals)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.Scenario), nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.Scenario
	writeJSON(w, http.StatusOK, map[string]string{
		"scenario": req.Scenario,
		"property": string(scenarioProperty),
		"periods":  string(scenarioFirstPeriod) + ".." + string(scenarioLastPeriod),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADING
// =============================================================================

// distortFunc mutates the final month's items to create findings.
type distortFunc func(items []engine.LineItem) []engine.LineItem

func (h *Handler) loadScenarioWith(ctx context.Context, distort distortFunc) error {
	if err := h.installPacks(ctx); err != nil {
		return err
	}

	model := newPropertyModel()
	periods := scenarioPeriods()
	for i, period := range periods {
		items := model.monthItems(period, i)
		if distort != nil && period == scenarioLastPeriod {
			items = distort(items)
		}
		if err := h.Store.SeedLineItems(ctx, items); err != nil {
			return fmt.Errorf("seeding %s: %w", period, err)
		}
	}
	return nil
}

func (h *Handler) installPacks(ctx context.Context) error {
	for _, rj := range factory.StandardPacks(string(scenarioFirstPeriod)) {
		rj.CreatedBy = "scenario-loader"
		edit, err := h.RuleFactory.FromJSON(rj)
		if err != nil {
			return fmt.Errorf("pack rule %s: %w", rj.RuleID, err)
		}
		if _, err := h.Store.SaveRuleVersion(ctx, edit); err != nil {
			return fmt.Errorf("pack rule %s: %w", rj.RuleID, err)
		}
	}
	return nil
}

func scenarioPeriods() []engine.PeriodID {
	periods := make([]engine.PeriodID, 0, scenarioMonths)
	p := scenarioFirstPeriod
	for i := 0; i < scenarioMonths; i++ {
		periods = append(periods, p)
		p = p.AddMonths(1)
	}
	return periods
}

// =============================================================================
// PROPERTY MODEL
// =============================================================================

// propertyModel generates internally consistent monthly statements for a
// twelve-unit building with an amortizing mortgage. Totals are computed
// from components so every rollup and continuity check ties by
// construction; distortions break specific ties afterwards.
type propertyModel struct {
	unitRents       []decimal.Decimal
	mortgageBalance decimal.Decimal
	cash            decimal.Decimal
	fixedAssets     decimal.Decimal
}

func newPropertyModel() *propertyModel {
	rents := []string{
		"1180.00", "1180.00", "1245.00", "1245.00", "1310.00", "1310.00",
		"1475.00", "1475.00", "1520.00", "1640.00", "1985.00", "2350.00",
	}
	unitRents := make([]decimal.Decimal, len(rents))
	for i, r := range rents {
		unitRents[i] = dec(r)
	}
	return &propertyModel{
		unitRents:       unitRents,
		mortgageBalance: dec("2400000.00"),
		cash:            dec("210000.00"),
		fixedAssets:     dec("3200000.00"),
	}
}

// monthItems produces one month of line items across all five document
// types. The model carries cash and mortgage balance forward so
// cross-period rules tie.
func (m *propertyModel) monthItems(period engine.PeriodID, monthIndex int) []engine.LineItem {
	i := decimal.NewFromInt(int64(monthIndex))

	// Rent roll: per-unit scheduled rent.
	var items []engine.LineItem
	scheduledRent := decimal.Zero
	for u, rent := range m.unitRents {
		scheduledRent = scheduledRent.Add(rent)
		items = append(items, engine.LineItem{
			ID:                   uuid.NewString(),
			PropertyID:           scenarioProperty,
			PeriodID:             period,
			DocumentType:         engine.DocRentRoll,
			AccountName:          fmt.Sprintf("Unit %d", u+101),
			Category:             "scheduled_rent",
			MonthlyRent:          rent,
			ExtractionConfidence: dec("97"),
		})
	}

	// Income statement. Collections run two vacant-ish units short of
	// scheduled rent, inside RR-2's 10 percent allowance.
	rentalIncome := scheduledRent.Sub(dec("1180.00")).Sub(dec("93.50"))
	otherIncome := dec("1850.00").Add(i.Mul(dec("23.75")))
	totalRevenue := rentalIncome.Add(otherIncome)

	repairs := dec("4217.38").Add(i.Mul(dec("131.27")))
	mgmtFees := totalRevenue.Mul(dec("0.06")).Round(2)
	utilities := dec("2890.44").Add(i.Mul(dec("41.80")))
	totalOpex := repairs.Add(mgmtFees).Add(utilities)
	noi := totalRevenue.Sub(totalOpex)

	items = append(items,
		m.isItem(period, "4010-0000", "Rental Income", "revenue", rentalIncome),
		m.isItem(period, "4090-0000", "Other Income", "revenue", otherIncome),
		m.isItem(period, "4999-0000", "Total Revenue", "", totalRevenue),
		m.isItem(period, "5020-0000", "Repairs and Maintenance", "operating_expenses", repairs),
		m.isItem(period, "5030-0000", "Management Fees", "operating_expenses", mgmtFees),
		m.isItem(period, "5040-0000", "Utilities", "operating_expenses", utilities),
		m.isItem(period, "5999-0000", "Total Operating Expenses", "", totalOpex),
		m.isItem(period, "6999-0000", "Net Operating Income", "", noi),
	)

	// Mortgage statement: fixed payment, amortizing balance.
	payment := dec("14200.00")
	interest := m.mortgageBalance.Mul(dec("0.0045")).Round(2)
	escrow := dec("1350.00")
	principal := payment.Sub(interest).Sub(escrow)
	priorBalance := m.mortgageBalance
	m.mortgageBalance = priorBalance.Sub(principal)

	items = append(items,
		m.msItem(period, "7010-0000", "Total Payment", payment),
		m.msItem(period, "7020-0000", "Principal Paid", principal),
		m.msItem(period, "7030-0000", "Interest Paid", interest),
		m.msItem(period, "7040-0000", "Escrow Paid", escrow),
		m.msItem(period, "7100-0000", "Principal Balance", m.mortgageBalance),
	)

	// Cash flow statement: carried forward month over month. Names only,
	// the way these statements usually arrive.
	beginningCash := m.cash
	netCashFlow := noi.Sub(payment).Add(dec("412.90"))
	endingCash := beginningCash.Add(netCashFlow)
	m.cash = endingCash

	items = append(items,
		m.cfItem(period, "Beginning Cash", beginningCash),
		m.cfItem(period, "Net Cash Flow", netCashFlow),
		m.cfItem(period, "Ending Cash", endingCash),
	)

	// Balance sheet, built so assets equal liabilities plus equity.
	receivables := rentalIncome.Mul(dec("0.08")).Round(2)
	currentAssets := endingCash.Add(receivables)
	totalAssets := currentAssets.Add(m.fixedAssets)
	payables := dec("9214.60").Add(i.Mul(dec("87.15")))
	totalLiabilities := payables.Add(m.mortgageBalance)
	equity := totalAssets.Sub(totalLiabilities)

	items = append(items,
		m.bsItem(period, "0122-0000", "Cash Operating", "current_assets", endingCash),
		m.bsItem(period, "0130-0000", "Accounts Receivable", "current_assets", receivables),
		m.bsItem(period, "0199-0000", "Total Current Assets", "", currentAssets),
		m.bsItem(period, "0510-0000", "Building and Improvements", "fixed_assets", m.fixedAssets),
		m.bsItem(period, "1999-0000", "Total Assets", "", totalAssets),
		m.bsItem(period, "2010-0000", "Accounts Payable", "current_liabilities", payables),
		m.bsItem(period, "2099-0000", "Total Current Liabilities", "", payables),
		m.bsItem(period, "2310-0000", "Mortgage Payable", "long_term_liabilities", m.mortgageBalance),
		m.bsItem(period, "2999-0000", "Total Liabilities", "", totalLiabilities),
		m.bsItem(period, "3999-0000", "Total Equity", "", equity),
	)

	return items
}

func (m *propertyModel) bsItem(period engine.PeriodID, code, name, category string, amount decimal.Decimal) engine.LineItem {
	return lineItem(period, engine.DocBalanceSheet, code, name, category, amount)
}

func (m *propertyModel) isItem(period engine.PeriodID, code, name, category string, amount decimal.Decimal) engine.LineItem {
	return lineItem(period, engine.DocIncomeStatement, code, name, category, amount)
}

func (m *propertyModel) msItem(period engine.PeriodID, code, name string, amount decimal.Decimal) engine.LineItem {
	return lineItem(period, engine.DocMortgageStatement, code, name, "", amount)
}

func (m *propertyModel) cfItem(period engine.PeriodID, name string, amount decimal.Decimal) engine.LineItem {
	return lineItem(period, engine.DocCashFlow, "", name, "", amount)
}

func lineItem(period engine.PeriodID, docType engine.DocumentType, code, name, category string, amount decimal.Decimal) engine.LineItem {
	return engine.LineItem{
		ID:                   uuid.NewString(),
		PropertyID:           scenarioProperty,
		PeriodID:             period,
		DocumentType:         docType,
		AccountCode:          engine.AccountCode(code),
		AccountName:          name,
		Category:             category,
		PeriodAmount:         amount,
		YTDAmount:            amount,
		ExtractionConfidence: dec("96"),
	}
}

// =============================================================================
// DISTORTIONS
// =============================================================================

// distortTies breaks specific cross-checks in the latest month the way a
// bad extraction would: totals shifted without touching components.
func distortTies(items []engine.LineItem) []engine.LineItem {
	for idx := range items {
		switch items[idx].AccountName {
		case "Total Assets":
			// BS-1 fails: assets overstated against liabilities + equity.
			items[idx].PeriodAmount = items[idx].PeriodAmount.Add(dec("50000.00"))
		case "Net Operating Income":
			// IS-3 fails: NOI no longer equals revenue minus expenses.
			items[idx].PeriodAmount = items[idx].PeriodAmount.Add(dec("2500.00"))
		case "Beginning Cash":
			// CF-2 fails: beginning cash disagrees with prior ending cash.
			items[idx].PeriodAmount = items[idx].PeriodAmount.Add(dec("15000.00"))
		}
	}
	return items
}

// injectFraudSignals layers anomaly-detector targets onto the latest
// month without breaking the arithmetic ties.
func injectFraudSignals(items []engine.LineItem) []engine.LineItem {
	spike := dec("21000.00")
	for idx := range items {
		switch items[idx].AccountName {
		case "Repairs and Maintenance":
			// Z-score target: roughly five times its trailing average.
			items[idx].PeriodAmount = items[idx].PeriodAmount.Add(spike)
		case "Total Operating Expenses":
			items[idx].PeriodAmount = items[idx].PeriodAmount.Add(spike)
		case "Net Operating Income":
			items[idx].PeriodAmount = items[idx].PeriodAmount.Sub(spike)
		}
	}

	period := items[0].PeriodID

	// Round-number and duplicate targets: one vendor invoiced twice at a
	// suspiciously even amount, plus a run of even invoices.
	vendor := func(name, amount string) engine.LineItem {
		it := lineItem(period, engine.DocIncomeStatement, "", name, "operating_expenses_detail", dec(amount))
		return it
	}
	items = append(items,
		vendor("ABC Roofing Invoice", "9000.00"),
		vendor("ABC Roofing Invoice", "9000.00"),
		vendor("Apex Plumbing Invoice", "3000.00"),
		vendor("Delta Electric Invoice", "5000.00"),
		vendor("Summit HVAC Invoice", "7000.00"),
		vendor("Crown Painting Invoice", "4000.00"),
	)

	return items
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
