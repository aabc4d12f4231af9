/*
store.go - Persistence interfaces for rules, line items, results, sessions

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage.

APPEND-ONLY CONTRACT (rules):
  SaveRuleVersion() inserts a new (rule_id, version) row. There is NO
  update or delete for rules - every edit is a new version, giving a full
  audit trail, and "current version" is a query, not a mutation.

READ-ONLY CONTRACT (line items):
  The engine never writes line items. LineItemSource mirrors the
  extraction subsystem's query surface; SeedLineItems exists only on the
  concrete stores for demo/test data loading.

SUPERSESSION (results):
  ReplaceResults atomically swaps the result set for a session key so
  re-runs never accumulate duplicate or orphaned rows.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - session/orchestrator.go: The only writer of results and sessions
*/
package engine

import "context"

// =============================================================================
// RULE STORE - Append-only versioned rules
// =============================================================================

type RuleStore interface {
	// SaveRuleVersion appends a new version row and returns it with the
	// assigned version number (previous max + 1, or 1).
	SaveRuleVersion(ctx context.Context, edit RuleEdit) (Rule, error)

	// GetActiveRules returns the applicable rule set with exactly one
	// version per rule id, ordered by rule id. docTypes empty = all.
	GetActiveRules(ctx context.Context, docTypes []DocumentType, property PropertyID, asOf PeriodID) ([]Rule, error)

	// GetRuleHistory returns every version of a rule, oldest first.
	GetRuleHistory(ctx context.Context, id RuleID) ([]Rule, error)

	// ListCurrentRules returns the latest version of every rule id.
	ListCurrentRules(ctx context.Context) ([]Rule, error)
}

// =============================================================================
// LINE ITEM SOURCE - Read-only extraction output
// =============================================================================

// LineItemSource is the extraction subsystem's query surface. It reflects
// the most recently completed extraction; the engine never triggers
// extraction and never writes through this interface.
type LineItemSource interface {
	// GetLineItems returns items for one document of one period.
	GetLineItems(ctx context.Context, property PropertyID, period PeriodID, docType DocumentType) ([]LineItem, error)

	// GetLineItemHistory returns items for one account across periods,
	// for the anomaly detectors' time series.
	GetLineItemHistory(ctx context.Context, property PropertyID, code AccountCode, name string, periods []PeriodID) ([]LineItem, error)
}

// =============================================================================
// RESULT STORE - Session-scoped, superseding writes
// =============================================================================

type ResultStore interface {
	// ReplaceResults atomically replaces all reconciliation and anomaly
	// results for the (property, period) key with the given session's
	// rows. All-or-nothing: on error nothing is committed.
	ReplaceResults(ctx context.Context, session Session, results []ReconciliationResult, anomalies []AnomalyResult) error

	GetResults(ctx context.Context, property PropertyID, period PeriodID) ([]ReconciliationResult, error)

	GetAnomalies(ctx context.Context, property PropertyID, code AccountCode) ([]AnomalyResult, error)
}

// =============================================================================
// SESSION STORE
// =============================================================================

type SessionStore interface {
	// CreateSession persists a new session row in running state.
	CreateSession(ctx context.Context, s Session) error

	// UpdateSession records a terminal state transition and summary.
	UpdateSession(ctx context.Context, s Session) error

	GetSession(ctx context.Context, id SessionID) (*Session, error)

	// LatestSession returns the most recent session for a key, or nil.
	LatestSession(ctx context.Context, property PropertyID, period PeriodID) (*Session, error)
}

// Store is the full persistence surface the orchestrator and API need.
type Store interface {
	RuleStore
	LineItemSource
	ResultStore
	SessionStore
}
