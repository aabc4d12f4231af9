// Package store provides engine.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/recon-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	rules     map[engine.RuleID][]engine.Rule // versions, ascending
	lineItems []engine.LineItem
	results   map[resultKey][]engine.ReconciliationResult
	anomalies map[resultKey][]engine.AnomalyResult
	sessions  map[engine.SessionID]engine.Session
	// latest session per key, so re-runs supersede
	latest map[resultKey]engine.SessionID
}

type resultKey struct {
	Property engine.PropertyID
	Period   engine.PeriodID
}

func NewMemory() *Memory {
	return &Memory{
		rules:     make(map[engine.RuleID][]engine.Rule),
		results:   make(map[resultKey][]engine.ReconciliationResult),
		anomalies: make(map[resultKey][]engine.AnomalyResult),
		sessions:  make(map[engine.SessionID]engine.Session),
		latest:    make(map[resultKey]engine.SessionID),
	}
}

// =============================================================================
// RULE STORE
// =============================================================================

func (m *Memory) SaveRuleVersion(_ context.Context, edit engine.RuleEdit) (engine.Rule, error) {
	if err := edit.Validate(); err != nil {
		return engine.Rule{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.rules[edit.RuleID]
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1].Version + 1
	}

	mode := edit.ToleranceMode
	if mode == "" {
		mode = engine.ToleranceAny
	}

	rule := engine.Rule{
		RuleID:            edit.RuleID,
		Version:           next,
		Formula:           edit.Formula,
		Description:       edit.Description,
		ToleranceAbsolute: edit.ToleranceAbsolute,
		TolerancePercent:  edit.TolerancePercent,
		ToleranceMode:     mode,
		Severity:          edit.Severity,
		DocumentScope:     engine.NewDocumentTypeSet(edit.DocumentScope...),
		PropertyScope:     edit.PropertyScope,
		EffectiveDate:     edit.EffectiveDate,
		ExpiresAt:         edit.ExpiresAt,
		IsActive:          true,
		CreatedAt:         time.Now().UTC(),
		CreatedBy:         edit.CreatedBy,
	}
	m.rules[edit.RuleID] = append(versions, rule)
	return rule, nil
}

func (m *Memory) GetActiveRules(_ context.Context, docTypes []engine.DocumentType, property engine.PropertyID, asOf engine.PeriodID) ([]engine.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []engine.Rule
	for _, versions := range m.rules {
		candidates = append(candidates, versions...)
	}
	return engine.SelectCurrent(candidates, docTypes, property, asOf), nil
}

func (m *Memory) GetRuleHistory(_ context.Context, id engine.RuleID) ([]engine.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions, ok := m.rules[id]
	if !ok {
		return nil, engine.ErrRuleNotFound
	}
	out := make([]engine.Rule, len(versions))
	copy(out, versions)
	return out, nil
}

func (m *Memory) ListCurrentRules(_ context.Context) ([]engine.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.Rule
	for _, versions := range m.rules {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

// =============================================================================
// LINE ITEM SOURCE
// =============================================================================

// SeedLineItems loads extraction output for tests and demos. This is NOT
// part of the engine.Store surface; the engine never writes line items.
func (m *Memory) SeedLineItems(items ...engine.LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineItems = append(m.lineItems, items...)
}

func (m *Memory) GetLineItems(_ context.Context, property engine.PropertyID, period engine.PeriodID, docType engine.DocumentType) ([]engine.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.LineItem
	for _, item := range m.lineItems {
		if item.PropertyID == property && item.PeriodID == period && item.DocumentType == docType {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *Memory) GetLineItemHistory(_ context.Context, property engine.PropertyID, code engine.AccountCode, name string, periods []engine.PeriodID) ([]engine.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[engine.PeriodID]bool, len(periods))
	for _, p := range periods {
		wanted[p] = true
	}

	var out []engine.LineItem
	for _, item := range m.lineItems {
		if item.PropertyID != property || !wanted[item.PeriodID] {
			continue
		}
		if code != "" && item.AccountCode == code {
			out = append(out, item)
		} else if code == "" && item.AccountName == name {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodID < out[j].PeriodID })
	return out, nil
}

// =============================================================================
// RESULT STORE
// =============================================================================

func (m *Memory) ReplaceResults(_ context.Context, session engine.Session, results []engine.ReconciliationResult, anomalies []engine.AnomalyResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := resultKey{Property: session.PropertyID, Period: session.PeriodID}
	m.results[k] = append([]engine.ReconciliationResult(nil), results...)
	m.anomalies[k] = append([]engine.AnomalyResult(nil), anomalies...)
	m.latest[k] = session.ID
	return nil
}

func (m *Memory) GetResults(_ context.Context, property engine.PropertyID, period engine.PeriodID) ([]engine.ReconciliationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := resultKey{Property: property, Period: period}
	out := make([]engine.ReconciliationResult, len(m.results[k]))
	copy(out, m.results[k])
	return out, nil
}

func (m *Memory) GetAnomalies(_ context.Context, property engine.PropertyID, code engine.AccountCode) ([]engine.AnomalyResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.AnomalyResult
	for k, list := range m.anomalies {
		if k.Property != property {
			continue
		}
		for _, a := range list {
			if code == "" || a.AccountCode == code {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodID != out[j].PeriodID {
			return out[i].PeriodID < out[j].PeriodID
		}
		if out[i].AccountCode != out[j].AccountCode {
			return out[i].AccountCode < out[j].AccountCode
		}
		return out[i].Method < out[j].Method
	})
	return out, nil
}

// =============================================================================
// SESSION STORE
// =============================================================================

func (m *Memory) CreateSession(_ context.Context, s engine.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s engine.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return engine.ErrSessionNotFound
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id engine.SessionID) (*engine.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, engine.ErrSessionNotFound
	}
	return &s, nil
}

func (m *Memory) LatestSession(_ context.Context, property engine.PropertyID, period engine.PeriodID) (*engine.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *engine.Session
	for _, s := range m.sessions {
		if s.PropertyID != property || s.PeriodID != period {
			continue
		}
		s := s
		if latest == nil || s.StartedAt.After(latest.StartedAt) {
			latest = &s
		}
	}
	return latest, nil
}
