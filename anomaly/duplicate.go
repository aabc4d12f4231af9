package anomaly

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
)

// =============================================================================
// DUPLICATE-PAYMENT DETECTION
// =============================================================================

// Duplicates flags line items with identical (amount, account) pairs
// within a short window of periods - the classic double-payment pattern.
// One result per duplicated pair; distinct pairs are distinct signals.
//
// Zero amounts and intentionally recurring accounts tend to repeat
// legitimately, so zero values are ignored and the window is kept short
// (default: current period plus the one before it).
func (d *Detector) Duplicates(property engine.PropertyID, period engine.PeriodID, items []engine.LineItem) []engine.AnomalyResult {
	type pair struct {
		amount string
		payee  string
	}

	window := make(map[engine.PeriodID]bool, d.cfg.DuplicateWindowPeriods)
	window[period] = true
	for i, p := 1, period; i < d.cfg.DuplicateWindowPeriods; i++ {
		p = p.Prior()
		window[p] = true
	}

	seen := make(map[pair][]engine.LineItem)
	for _, item := range items {
		if !window[item.PeriodID] {
			continue
		}
		amount, err := engine.Amounts(item)
		if err != nil || amount.IsZero() {
			continue
		}
		k := pair{amount: amount.String(), payee: payeeKey(item)}
		seen[k] = append(seen[k], item)
	}

	var results []engine.AnomalyResult
	for k, hits := range seen {
		if len(hits) < 2 {
			continue
		}
		// Same line item re-extracted under two document runs is not a
		// duplicate payment; require distinct item ids.
		if !distinctItems(hits) {
			continue
		}
		first := hits[0]
		amount, _ := decimal.NewFromString(k.amount)
		r := engine.AnomalyResult{
			PropertyID:      property,
			AccountCode:     first.AccountCode,
			AccountName:     first.AccountName,
			PeriodID:        period,
			Method:          engine.MethodDuplicate,
			Score:           decimal.NewFromInt(int64(len(hits))),
			IsAnomalous:     true,
			SupportingStats: make(map[string]string),
			DetectedAt:      d.now().UTC(),
		}
		r.SupportingStats["amount"] = amount.StringFixed(2)
		r.SupportingStats["occurrences"] = fmt.Sprintf("%d", len(hits))
		for i, hit := range hits {
			r.SupportingStats[fmt.Sprintf("item_%d", i)] = fmt.Sprintf("%s %s (%s)", hit.PeriodID, hit.AccountName, hit.DocumentType)
		}
		results = append(results, r)
	}

	// Deterministic output order regardless of map iteration.
	sort.Slice(results, func(i, j int) bool {
		if results[i].AccountName != results[j].AccountName {
			return results[i].AccountName < results[j].AccountName
		}
		return results[i].SupportingStats["amount"] < results[j].SupportingStats["amount"]
	})
	return results
}

// payeeKey identifies "the same payee" for duplicate grouping: the account
// code when present, the normalized name otherwise.
func payeeKey(item engine.LineItem) string {
	if item.AccountCode != "" {
		return string(item.AccountCode)
	}
	return item.AccountName
}

func distinctItems(items []engine.LineItem) bool {
	ids := make(map[string]bool, len(items))
	for _, item := range items {
		if item.ID != "" && ids[item.ID] {
			return false
		}
		ids[item.ID] = true
	}
	return true
}
