/*
Package session coordinates full reconciliation runs.

PURPOSE:
  The orchestrator is the single entry point the API layer consumes: it
  acquires the per-(property, period) lock, pins the active rule set,
  evaluates every rule through the matcher/evaluator/classifier, runs the
  anomaly detector passes, and commits results all-or-nothing.

This file holds the store-backed formula.Context. Line items are fetched
once per (document type, period) and cached for the lifetime of the run;
rules then evaluate against the same immutable snapshot, which is what
makes parallel evaluation safe.
*/
package session

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
	"github.com/warp/recon-engine/formula"
)

// =============================================================================
// LINE ITEM SNAPSHOT - Shared, lazily populated, immutable once fetched
// =============================================================================

type snapshotKey struct {
	DocType engine.DocumentType
	Period  engine.PeriodID
}

// snapshot caches line items per (document type, period) for one run.
// Cross-period references (PRIOR, PRIOR_YEAR) read already-committed
// historical extractions through the same source.
type snapshot struct {
	ctx      context.Context
	source   engine.LineItemSource
	property engine.PropertyID
	period   engine.PeriodID

	mu    sync.Mutex
	items map[snapshotKey][]engine.LineItem
}

func newSnapshot(ctx context.Context, source engine.LineItemSource, property engine.PropertyID, period engine.PeriodID) *snapshot {
	return &snapshot{
		ctx:      ctx,
		source:   source,
		property: property,
		period:   period,
		items:    make(map[snapshotKey][]engine.LineItem),
	}
}

// preload fetches the current period's items for the given document types
// up front, so infrastructure failures surface before any rule runs.
func (s *snapshot) preload(docTypes []engine.DocumentType) error {
	for _, dt := range docTypes {
		if _, err := s.get(dt, s.period); err != nil {
			return err
		}
	}
	return nil
}

func (s *snapshot) get(docType engine.DocumentType, period engine.PeriodID) ([]engine.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := snapshotKey{DocType: docType, Period: period}
	if items, ok := s.items[k]; ok {
		return items, nil
	}
	items, err := s.source.GetLineItems(s.ctx, s.property, period, docType)
	if err != nil {
		return nil, err
	}
	s.items[k] = items
	return items, nil
}

// currentItems returns everything cached for the evaluation period.
func (s *snapshot) currentItems() []engine.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []engine.LineItem
	for k, items := range s.items {
		if k.Period == s.period {
			out = append(out, items...)
		}
	}
	return out
}

// =============================================================================
// RULE CONTEXT - formula.Context for one rule against the snapshot
// =============================================================================

// ruleContext adapts the shared snapshot to one rule's point of view: the
// rule's primary document scope is the default for unqualified references.
type ruleContext struct {
	snap    *snapshot
	matcher *engine.Matcher
	docType engine.DocumentType
}

func newRuleContext(snap *snapshot, matcher *engine.Matcher, rule engine.Rule) *ruleContext {
	// The first (and usually only) document type in the rule's scope is
	// the default for unqualified references.
	docType := engine.DocBalanceSheet
	if scoped := rule.DocumentScope.Slice(); len(scoped) > 0 {
		docType = scoped[0]
	}
	return &ruleContext{snap: snap, matcher: matcher, docType: docType}
}

func (rc *ruleContext) DefaultDocumentType() engine.DocumentType { return rc.docType }

func (rc *ruleContext) ResolveAccount(ref formula.RefSpec) (decimal.Decimal, engine.MatchResult, error) {
	period := rc.periodFor(ref.Period)
	items, err := rc.snap.get(ref.DocumentType, period)
	if err != nil {
		return decimal.Zero, engine.MatchResult{}, err
	}

	match := rc.matcher.Resolve(engine.AccountReference{
		AccountCode:  ref.AccountCode,
		AccountName:  ref.AccountName,
		DocumentType: ref.DocumentType,
	}, items)

	if !match.Resolved() {
		return decimal.Zero, match, &engine.UnresolvedAccountError{
			AccountCode:  ref.AccountCode,
			AccountName:  ref.AccountName,
			DocumentType: ref.DocumentType,
		}
	}

	value, err := engine.Amounts(*match.LineItem)
	if err != nil {
		return decimal.Zero, match, err
	}
	return value, match, nil
}

func (rc *ruleContext) SumCategory(docType engine.DocumentType, category string) (decimal.Decimal, error) {
	items, err := rc.snap.get(docType, rc.snap.period)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, item := range items {
		if item.Category != category {
			continue
		}
		value, err := engine.Amounts(item)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(value)
	}
	return sum, nil
}

func (rc *ruleContext) periodFor(q formula.PeriodQualifier) engine.PeriodID {
	switch q {
	case formula.PeriodPrior:
		return rc.snap.period.Prior()
	case formula.PeriodPriorYear:
		return rc.snap.period.PriorYear()
	default:
		return rc.snap.period
	}
}
