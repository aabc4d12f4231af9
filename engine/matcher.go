/*
matcher.go - Account reference resolution

PURPOSE:
  Resolves a formula's account references to concrete line items. Extracted
  statements are messy: account codes are missing on cash-flow and rent-roll
  documents, names come back with OCR noise, and the same account appears
  under slightly different labels across periods. The matcher tries
  strategies in strict priority order and annotates every resolution with a
  confidence and a strategy tag so downstream consumers can see HOW a value
  was found, not just what it was.

STRATEGY ORDER:
  1. exact_code:  normalized code equality            -> confidence 100
  2. fuzzy_name:  normalized Levenshtein similarity   -> confidence sim*100
                  (>= configurable threshold, default 0.85)
  3. name_only:   name match where the document type allows it, capped at 70
                  to reflect the higher ambiguity of code-less statements
  4. unresolved:  the evaluator treats a required unresolved term as a hard
                  SKIP for that formula - never as zero

DETERMINISM:
  Fuzzy ties break by (a) higher extraction confidence of the candidate,
  then (b) shorter Levenshtein distance, then (c) lexical account code.
  Never by insertion order or map iteration order.

SEE ALSO:
  - formula/eval.go: Consumes MatchResults through the Resolver interface
  - document.go: AllowNameOnly per document type
*/
package engine

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT REFERENCE - One formula term to resolve
// =============================================================================

// AccountReference is a single term a formula needs resolved. Either code
// or name (or both) may be present.
type AccountReference struct {
	AccountCode  AccountCode
	AccountName  string
	DocumentType DocumentType
}

// =============================================================================
// MATCHER OPTIONS
// =============================================================================

// MatcherOptions selects which strategies participate and tunes the fuzzy
// threshold. Zero value means "everything on, default threshold".
type MatcherOptions struct {
	UseExact bool
	UseFuzzy bool
	// UseNameOnly permits the name-only fallback on document types that
	// allow it (blank-code statements).
	UseNameOnly bool

	// MinSimilarity is the fuzzy-name acceptance threshold in [0,1].
	// Zero means DefaultMinSimilarity.
	MinSimilarity float64
}

const (
	DefaultMinSimilarity = 0.85

	// NameOnlyConfidenceCap bounds name-only matches; matching without a
	// code is inherently more ambiguous than matching with one.
	NameOnlyConfidenceCap = 70
)

// DefaultMatcherOptions enables every strategy.
func DefaultMatcherOptions() MatcherOptions {
	return MatcherOptions{
		UseExact:      true,
		UseFuzzy:      true,
		UseNameOnly:   true,
		MinSimilarity: DefaultMinSimilarity,
	}
}

func (o MatcherOptions) minSimilarity() float64 {
	if o.MinSimilarity <= 0 {
		return DefaultMinSimilarity
	}
	return o.MinSimilarity
}

// =============================================================================
// MATCHER
// =============================================================================

// Matcher resolves account references against a set of line items.
type Matcher struct {
	Options MatcherOptions
}

func NewMatcher(opts MatcherOptions) *Matcher {
	return &Matcher{Options: opts}
}

// Resolve finds the line item an account reference refers to.
// Strategies are attempted in priority order; the first hit wins.
func (m *Matcher) Resolve(ref AccountReference, items []LineItem) MatchResult {
	candidates := itemsOfType(items, ref.DocumentType)

	if m.Options.UseExact && ref.AccountCode != "" {
		if res, ok := m.exactCode(ref, candidates); ok {
			return res
		}
	}

	if m.Options.UseFuzzy && ref.AccountName != "" {
		if res, ok := m.fuzzyName(ref, candidates, false); ok {
			return res
		}
	}

	if m.Options.UseNameOnly && ref.AccountName != "" {
		if h, err := HandlerFor(ref.DocumentType); err == nil && h.AllowNameOnly {
			if res, ok := m.fuzzyName(ref, candidates, true); ok {
				return res
			}
		}
	}

	return MatchResult{Strategy: MatchUnresolved, MatchConfidence: decimal.Zero}
}

// exactCode matches on normalized account code equality.
func (m *Matcher) exactCode(ref AccountReference, candidates []LineItem) (MatchResult, bool) {
	want := normalizeCode(ref.AccountCode)
	var hits []LineItem
	for _, item := range candidates {
		if item.AccountCode != "" && normalizeCode(item.AccountCode) == want {
			hits = append(hits, item)
		}
	}
	if len(hits) == 0 {
		return MatchResult{}, false
	}
	// Duplicate codes within one statement are an extraction artifact;
	// prefer the item the extractor was most confident about.
	best := pickBest(hits, func(item LineItem) int {
		return levenshtein.ComputeDistance(normalizeName(ref.AccountName), normalizeName(item.AccountName))
	})
	return MatchResult{
		LineItem:        best,
		Strategy:        MatchExactCode,
		MatchConfidence: decimal.NewFromInt(100),
	}, true
}

// fuzzyName matches on normalized name similarity. In nameOnly mode the
// acceptance bar is lower but the reported confidence is capped.
func (m *Matcher) fuzzyName(ref AccountReference, candidates []LineItem, nameOnly bool) (MatchResult, bool) {
	want := normalizeName(ref.AccountName)
	if want == "" {
		return MatchResult{}, false
	}

	threshold := m.Options.minSimilarity()
	if nameOnly {
		// Name-only exists for code-less statements where a strict fuzzy
		// threshold already failed; accept weaker matches, cap confidence.
		threshold = 0.60
	}

	type scored struct {
		item LineItem
		sim  float64
		dist int
	}
	var hits []scored
	for _, item := range candidates {
		got := normalizeName(item.AccountName)
		if got == "" {
			continue
		}
		dist := levenshtein.ComputeDistance(want, got)
		sim := similarityFromDistance(want, got, dist)
		if sim >= threshold {
			hits = append(hits, scored{item: item, sim: sim, dist: dist})
		}
	}
	if len(hits) == 0 {
		return MatchResult{}, false
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].sim != hits[j].sim {
			return hits[i].sim > hits[j].sim
		}
		// Tie-break order is part of the contract: extraction confidence,
		// then Levenshtein distance, then lexical account code.
		if !hits[i].item.ExtractionConfidence.Equal(hits[j].item.ExtractionConfidence) {
			return hits[i].item.ExtractionConfidence.GreaterThan(hits[j].item.ExtractionConfidence)
		}
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].item.AccountCode < hits[j].item.AccountCode
	})

	best := hits[0]
	confidence := decimal.NewFromFloat(best.sim * 100).Round(2)
	strategy := MatchFuzzyName
	if nameOnly {
		strategy = MatchNameOnly
		cap := decimal.NewFromInt(NameOnlyConfidenceCap)
		if confidence.GreaterThan(cap) {
			confidence = cap
		}
	}
	item := best.item
	return MatchResult{LineItem: &item, Strategy: strategy, MatchConfidence: confidence}, true
}

// =============================================================================
// NORMALIZATION + SIMILARITY
// =============================================================================

// normalizeCode strips whitespace and case so "0122-0000 " == "0122-0000".
func normalizeCode(code AccountCode) string {
	return strings.ToUpper(strings.Join(strings.Fields(string(code)), ""))
}

// normalizeName lowercases, drops punctuation, and collapses whitespace.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '-', r == '_', r == '/':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// similarityFromDistance converts an edit distance to a [0,1] similarity.
func similarityFromDistance(a, b string, dist int) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(dist)/float64(longest)
}

func itemsOfType(items []LineItem, t DocumentType) []LineItem {
	var out []LineItem
	for _, item := range items {
		if item.DocumentType == t {
			out = append(out, item)
		}
	}
	return out
}

// pickBest chooses among exact-code duplicates: highest extraction
// confidence, then smallest name distance, then lexical code.
func pickBest(hits []LineItem, nameDist func(LineItem) int) *LineItem {
	best := 0
	for i := 1; i < len(hits); i++ {
		a, b := hits[i], hits[best]
		switch {
		case a.ExtractionConfidence.GreaterThan(b.ExtractionConfidence):
			best = i
		case a.ExtractionConfidence.Equal(b.ExtractionConfidence):
			da, db := nameDist(a), nameDist(b)
			if da < db || (da == db && a.AccountCode < b.AccountCode) {
				best = i
			}
		}
	}
	item := hits[best]
	return &item
}
