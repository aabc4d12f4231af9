/*
Package sqlite provides a SQLite-backed implementation of engine.Store.

PURPOSE:
  Implements rule, line-item, result, and session persistence using
  SQLite. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  rules:                  Append-only versioned rule definitions
  line_items:             Read-only extraction output (seeded, never edited)
  sessions:               Reconciliation session records
  reconciliation_results: One row per (rule, session); superseded on re-run
  anomaly_results:        One row per detector signal

APPEND-ONLY ENFORCEMENT (rules):
  - No UPDATE statements on the rules table
  - Edits insert a new (rule_id, version) row inside a transaction that
    computes version = MAX(version) + 1 under the write lock
  - The current_rules view materializes "latest version per rule_id" so
    call sites never scatter MAX(version) subqueries

SUPERSESSION (results):
  ReplaceResults deletes the prior result set for the (property, period)
  key and inserts the new session's rows in ONE transaction. Either the
  whole new result set lands or nothing changes.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
)

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Rules (append-only, versioned)
	CREATE TABLE IF NOT EXISTS rules (
		rule_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		formula TEXT NOT NULL,
		description TEXT,
		tolerance_absolute TEXT,
		tolerance_percent TEXT,
		tolerance_mode TEXT NOT NULL DEFAULT 'any',
		severity TEXT NOT NULL,
		document_scope TEXT NOT NULL,
		property_scope TEXT,
		effective_date TEXT NOT NULL,
		expires_at TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		created_by TEXT,
		PRIMARY KEY (rule_id, version)
	);

	-- Latest version per rule_id, so call sites never write their own
	-- MAX(version) subqueries.
	CREATE VIEW IF NOT EXISTS current_rules AS
		SELECT r.* FROM rules r
		JOIN (SELECT rule_id, MAX(version) AS version FROM rules GROUP BY rule_id) m
		  ON r.rule_id = m.rule_id AND r.version = m.version;

	-- Line items (read-only extraction output)
	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		document_type TEXT NOT NULL,
		account_code TEXT,
		account_name TEXT NOT NULL,
		category TEXT,
		period_amount TEXT NOT NULL DEFAULT '0',
		ytd_amount TEXT NOT NULL DEFAULT '0',
		monthly_rent TEXT NOT NULL DEFAULT '0',
		extraction_confidence TEXT NOT NULL DEFAULT '100'
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_key
		ON line_items(property_id, period_id, document_type);
	CREATE INDEX IF NOT EXISTS idx_line_items_account
		ON line_items(property_id, account_code, period_id);
	CREATE INDEX IF NOT EXISTS idx_line_items_name
		ON line_items(property_id, account_name, period_id);

	-- Sessions
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		status TEXT NOT NULL,
		error_note TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		summary_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_key
		ON sessions(property_id, period_id, started_at DESC);

	-- Reconciliation results, keyed to preserve rule version provenance
	CREATE TABLE IF NOT EXISTS reconciliation_results (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		rule_version INTEGER NOT NULL,
		property_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		expected_value TEXT NOT NULL DEFAULT '0',
		actual_value TEXT NOT NULL DEFAULT '0',
		variance_absolute TEXT NOT NULL DEFAULT '0',
		variance_percent TEXT,
		status TEXT NOT NULL,
		severity TEXT NOT NULL,
		error_note TEXT,
		evaluated_at TEXT NOT NULL,
		UNIQUE (rule_id, rule_version, property_id, period_id, session_id)
	);

	CREATE INDEX IF NOT EXISTS idx_results_key
		ON reconciliation_results(property_id, period_id);

	-- Anomaly results
	CREATE TABLE IF NOT EXISTS anomaly_results (
		session_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		account_code TEXT,
		account_name TEXT,
		period_id TEXT NOT NULL,
		method TEXT NOT NULL,
		score TEXT NOT NULL DEFAULT '0',
		is_anomalous INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		skip_reason TEXT,
		stats_json TEXT,
		detected_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_anomalies_key
		ON anomaly_results(property_id, account_code, period_id, method);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RULE STORE
// =============================================================================

// SaveRuleVersion appends a new version row. The MAX(version) read and
// the insert share one transaction, so versions are gapless and
// monotonically increasing even under concurrent edits.
func (s *Store) SaveRuleVersion(ctx context.Context, edit engine.RuleEdit) (engine.Rule, error) {
	if err := edit.Validate(); err != nil {
		return engine.Rule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return engine.Rule{}, err
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM rules WHERE rule_id = ?`,
		string(edit.RuleID)).Scan(&next)
	if err != nil {
		return engine.Rule{}, err
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rules (rule_id, version, formula, description,
			tolerance_absolute, tolerance_percent, tolerance_mode,
			severity, document_scope, property_scope,
			effective_date, expires_at, is_active, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		string(rule.RuleID), rule.Version, rule.Formula, rule.Description,
		nullStringPtr(rule.ToleranceAbsolute), nullStringPtr(rule.TolerancePercent), string(rule.ToleranceMode),
		string(rule.Severity), joinScope(edit.DocumentScope), nullPropertyPtr(rule.PropertyScope),
		string(rule.EffectiveDate), nullPeriodPtr(rule.ExpiresAt),
		rule.CreatedAt.Format(time.RFC3339), rule.CreatedBy)
	if err != nil {
		return engine.Rule{}, err
	}

	if err := tx.Commit(); err != nil {
		return engine.Rule{}, err
	}
	return rule, nil
}

// GetActiveRules loads every active rule row and applies the shared
// selection logic. Scope filtering and version dedup live in
// engine.SelectCurrent so the memory store and this one cannot drift.
func (s *Store) GetActiveRules(ctx context.Context, docTypes []engine.DocumentType, property engine.PropertyID, asOf engine.PeriodID) ([]engine.Rule, error) {
	candidates, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE is_active = 1`)
	if err != nil {
		return nil, err
	}
	return engine.SelectCurrent(candidates, docTypes, property, asOf), nil
}

// GetRuleHistory returns every version of one rule, oldest first.
func (s *Store) GetRuleHistory(ctx context.Context, id engine.RuleID) ([]engine.Rule, error) {
	rules, err := s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE rule_id = ? ORDER BY version ASC`,
		string(id))
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, engine.ErrRuleNotFound
	}
	return rules, nil
}

// ListCurrentRules reads the materialized latest-version view.
func (s *Store) ListCurrentRules(ctx context.Context) ([]engine.Rule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM current_rules ORDER BY rule_id ASC`)
}

const ruleColumns = `rule_id, version, formula, description,
	tolerance_absolute, tolerance_percent, tolerance_mode,
	severity, document_scope, property_scope,
	effective_date, expires_at, is_active, created_at, created_by`

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]engine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []engine.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(rows *sql.Rows) (engine.Rule, error) {
	var (
		r                           engine.Rule
		ruleID, severity, mode      string
		tolAbs, tolPct              sql.NullString
		scope                       string
		propScope, expires, creator sql.NullString
		effective, createdAt        string
		isActive                    int
	)
	err := rows.Scan(&ruleID, &r.Version, &r.Formula, &r.Description,
		&tolAbs, &tolPct, &mode,
		&severity, &scope, &propScope,
		&effective, &expires, &isActive, &createdAt, &creator)
	if err != nil {
		return engine.Rule{}, err
	}

	r.RuleID = engine.RuleID(ruleID)
	r.ToleranceMode = engine.ToleranceMode(mode)
	r.Severity = engine.Severity(severity)
	r.DocumentScope = engine.NewDocumentTypeSet(splitScope(scope)...)
	r.EffectiveDate = engine.PeriodID(effective)
	r.IsActive = isActive == 1
	if tolAbs.Valid {
		v := tolAbs.String
		r.ToleranceAbsolute = &v
	}
	if tolPct.Valid {
		v := tolPct.String
		r.TolerancePercent = &v
	}
	if propScope.Valid {
		p := engine.PropertyID(propScope.String)
		r.PropertyScope = &p
	}
	if expires.Valid {
		p := engine.PeriodID(expires.String)
		r.ExpiresAt = &p
	}
	if creator.Valid {
		r.CreatedBy = creator.String
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t
	}
	return r, nil
}

// =============================================================================
// LINE ITEM SOURCE
// =============================================================================

// SeedLineItems loads extraction output. Demo and test plumbing only:
// the engine interfaces expose no line-item writes.
func (s *Store) SeedLineItems(ctx context.Context, items []engine.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO line_items (id, property_id, period_id, document_type,
				account_code, account_name, category,
				period_amount, ytd_amount, monthly_rent, extraction_confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, string(item.PropertyID), string(item.PeriodID), string(item.DocumentType),
			nullString(string(item.AccountCode)), item.AccountName, nullString(item.Category),
			item.PeriodAmount.String(), item.YTDAmount.String(), item.MonthlyRent.String(),
			item.ExtractionConfidence.String())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetLineItems(ctx context.Context, property engine.PropertyID, period engine.PeriodID, docType engine.DocumentType) ([]engine.LineItem, error) {
	return s.queryLineItems(ctx, `
		SELECT `+lineItemColumns+` FROM line_items
		WHERE property_id = ? AND period_id = ? AND document_type = ?
		ORDER BY account_code, account_name`,
		string(property), string(period), string(docType))
}

func (s *Store) GetLineItemHistory(ctx context.Context, property engine.PropertyID, code engine.AccountCode, name string, periods []engine.PeriodID) ([]engine.LineItem, error) {
	if len(periods) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(periods)), ",")
	args := []any{string(property)}
	for _, p := range periods {
		args = append(args, string(p))
	}

	var query string
	if code != "" {
		query = `SELECT ` + lineItemColumns + ` FROM line_items
			WHERE property_id = ? AND period_id IN (` + placeholders + `) AND account_code = ?
			ORDER BY period_id ASC`
		args = append(args, string(code))
	} else {
		query = `SELECT ` + lineItemColumns + ` FROM line_items
			WHERE property_id = ? AND period_id IN (` + placeholders + `) AND account_name = ?
			ORDER BY period_id ASC`
		args = append(args, name)
	}
	return s.queryLineItems(ctx, query, args...)
}

const lineItemColumns = `id, property_id, period_id, document_type,
	account_code, account_name, category,
	period_amount, ytd_amount, monthly_rent, extraction_confidence`

func (s *Store) queryLineItems(ctx context.Context, query string, args ...any) ([]engine.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []engine.LineItem
	for rows.Next() {
		var (
			item                  engine.LineItem
			property, period, doc string
			code, category        sql.NullString
			periodAmt, ytd, rent  string
			confidence            string
		)
		err := rows.Scan(&item.ID, &property, &period, &doc,
			&code, &item.AccountName, &category,
			&periodAmt, &ytd, &rent, &confidence)
		if err != nil {
			return nil, err
		}
		item.PropertyID = engine.PropertyID(property)
		item.PeriodID = engine.PeriodID(period)
		item.DocumentType = engine.DocumentType(doc)
		if code.Valid {
			item.AccountCode = engine.AccountCode(code.String)
		}
		if category.Valid {
			item.Category = category.String
		}
		item.PeriodAmount = parseDecimal(periodAmt)
		item.YTDAmount = parseDecimal(ytd)
		item.MonthlyRent = parseDecimal(rent)
		item.ExtractionConfidence = parseDecimal(confidence)
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// RESULT STORE
// =============================================================================

// ReplaceResults swaps the result set for the session's (property, period)
// key in one transaction: delete prior rows, insert the new ones. Either
// everything lands or nothing changes.
func (s *Store) ReplaceResults(ctx context.Context, session engine.Session, results []engine.ReconciliationResult, anomalies []engine.AnomalyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	property, period := string(session.PropertyID), string(session.PeriodID)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reconciliation_results WHERE property_id = ? AND period_id = ?`,
		property, period); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM anomaly_results WHERE property_id = ? AND period_id = ?`,
		property, period); err != nil {
		return err
	}

	for _, r := range results {
		var variancePct any
		if r.VariancePercent != nil {
			variancePct = r.VariancePercent.String()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconciliation_results (id, session_id, rule_id, rule_version,
				property_id, period_id, expected_value, actual_value,
				variance_absolute, variance_percent, status, severity,
				error_note, evaluated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, string(r.SessionID), string(r.RuleID), r.RuleVersion,
			string(r.PropertyID), string(r.PeriodID),
			r.ExpectedValue.String(), r.ActualValue.String(),
			r.VarianceAbsolute.String(), variancePct,
			string(r.Status), string(r.Severity),
			nullString(r.ErrorNote), r.EvaluatedAt.Format(time.RFC3339))
		if err != nil {
			return err
		}
	}

	for _, a := range anomalies {
		stats, err := json.Marshal(a.SupportingStats)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO anomaly_results (session_id, property_id, account_code,
				account_name, period_id, method, score, is_anomalous,
				skipped, skip_reason, stats_json, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(session.ID), string(a.PropertyID), nullString(string(a.AccountCode)),
			a.AccountName, string(a.PeriodID), string(a.Method),
			a.Score.String(), boolToInt(a.IsAnomalous),
			boolToInt(a.Skipped), nullString(a.SkipReason),
			string(stats), a.DetectedAt.Format(time.RFC3339))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetResults(ctx context.Context, property engine.PropertyID, period engine.PeriodID) ([]engine.ReconciliationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, rule_id, rule_version, property_id, period_id,
			expected_value, actual_value, variance_absolute, variance_percent,
			status, severity, error_note, evaluated_at
		FROM reconciliation_results
		WHERE property_id = ? AND period_id = ?
		ORDER BY rule_id ASC`,
		string(property), string(period))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []engine.ReconciliationResult
	for rows.Next() {
		var (
			r                             engine.ReconciliationResult
			sessionID, ruleID, prop, per  string
			expected, actual, varAbs      string
			varPct, errNote               sql.NullString
			status, severity, evaluatedAt string
		)
		err := rows.Scan(&r.ID, &sessionID, &ruleID, &r.RuleVersion, &prop, &per,
			&expected, &actual, &varAbs, &varPct,
			&status, &severity, &errNote, &evaluatedAt)
		if err != nil {
			return nil, err
		}
		r.SessionID = engine.SessionID(sessionID)
		r.RuleID = engine.RuleID(ruleID)
		r.PropertyID = engine.PropertyID(prop)
		r.PeriodID = engine.PeriodID(per)
		r.ExpectedValue = parseDecimal(expected)
		r.ActualValue = parseDecimal(actual)
		r.VarianceAbsolute = parseDecimal(varAbs)
		if varPct.Valid {
			d := parseDecimal(varPct.String)
			r.VariancePercent = &d
		}
		r.Status = engine.Status(status)
		r.Severity = engine.Severity(severity)
		if errNote.Valid {
			r.ErrorNote = errNote.String
		}
		if t, err := time.Parse(time.RFC3339, evaluatedAt); err == nil {
			r.EvaluatedAt = t
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) GetAnomalies(ctx context.Context, property engine.PropertyID, code engine.AccountCode) ([]engine.AnomalyResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT property_id, account_code, account_name, period_id, method,
			score, is_anomalous, skipped, skip_reason, stats_json, detected_at
		FROM anomaly_results WHERE property_id = ?`
	args := []any{string(property)}
	if code != "" {
		query += ` AND account_code = ?`
		args = append(args, string(code))
	}
	query += ` ORDER BY period_id, account_code, method`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anomalies []engine.AnomalyResult
	for rows.Next() {
		var (
			a                       engine.AnomalyResult
			prop, period, method    string
			accountCode, skipReason sql.NullString
			score, detectedAt       string
			statsJSON               sql.NullString
			isAnomalous, skipped    int
		)
		err := rows.Scan(&prop, &accountCode, &a.AccountName, &period, &method,
			&score, &isAnomalous, &skipped, &skipReason, &statsJSON, &detectedAt)
		if err != nil {
			return nil, err
		}
		a.PropertyID = engine.PropertyID(prop)
		a.PeriodID = engine.PeriodID(period)
		a.Method = engine.AnomalyMethod(method)
		a.Score = parseDecimal(score)
		a.IsAnomalous = isAnomalous == 1
		a.Skipped = skipped == 1
		if accountCode.Valid {
			a.AccountCode = engine.AccountCode(accountCode.String)
		}
		if skipReason.Valid {
			a.SkipReason = skipReason.String
		}
		if statsJSON.Valid {
			_ = json.Unmarshal([]byte(statsJSON.String), &a.SupportingStats)
		}
		if t, err := time.Parse(time.RFC3339, detectedAt); err == nil {
			a.DetectedAt = t
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

// =============================================================================
// SESSION STORE
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, session engine.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, property_id, period_id, status, error_note, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(session.ID), string(session.PropertyID), string(session.PeriodID),
		string(session.Status), nullString(session.ErrorNote),
		session.StartedAt.Format(time.RFC3339))
	return err
}

func (s *Store) UpdateSession(ctx context.Context, session engine.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt any
	if session.CompletedAt != nil {
		completedAt = session.CompletedAt.Format(time.RFC3339)
	}
	var summaryJSON any
	if session.Summary != nil {
		data, err := json.Marshal(session.Summary)
		if err != nil {
			return err
		}
		summaryJSON = string(data)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, error_note = ?, completed_at = ?, summary_json = ?
		WHERE id = ?`,
		string(session.Status), nullString(session.ErrorNote),
		completedAt, summaryJSON, string(session.ID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrSessionNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id engine.SessionID) (*engine.Session, error) {
	sessions, err := s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, engine.ErrSessionNotFound
	}
	return &sessions[0], nil
}

func (s *Store) LatestSession(ctx context.Context, property engine.PropertyID, period engine.PeriodID) (*engine.Session, error) {
	sessions, err := s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE property_id = ? AND period_id = ?
		ORDER BY started_at DESC LIMIT 1`,
		string(property), string(period))
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

const sessionColumns = `id, property_id, period_id, status, error_note, started_at, completed_at, summary_json`

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]engine.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []engine.Session
	for rows.Next() {
		var (
			sess                     engine.Session
			id, prop, period, status string
			errNote, completedAt     sql.NullString
			summaryJSON              sql.NullString
			startedAt                string
		)
		err := rows.Scan(&id, &prop, &period, &status, &errNote, &startedAt, &completedAt, &summaryJSON)
		if err != nil {
			return nil, err
		}
		sess.ID = engine.SessionID(id)
		sess.PropertyID = engine.PropertyID(prop)
		sess.PeriodID = engine.PeriodID(period)
		sess.Status = engine.SessionStatus(status)
		if errNote.Valid {
			sess.ErrorNote = errNote.String
		}
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			sess.StartedAt = t
		}
		if completedAt.Valid {
			if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
				sess.CompletedAt = &t
			}
		}
		if summaryJSON.Valid {
			var summary engine.SessionSummary
			if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err == nil {
				sess.Summary = &summary
			}
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListUnreconciledPeriods returns (property, period) pairs that have line
// items but no completed session. Consumed by the background scheduler.
func (s *Store) ListUnreconciledPeriods(ctx context.Context) ([][2]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT li.property_id, li.period_id
		FROM line_items li
		WHERE NOT EXISTS (
			SELECT 1 FROM sessions se
			WHERE se.property_id = li.property_id
			  AND se.period_id = li.period_id
			  AND se.status = 'completed'
		)
		ORDER BY li.property_id, li.period_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs [][2]string
	for rows.Next() {
		var property, period string
		if err := rows.Scan(&property, &period); err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{property, period})
	}
	return pairs, rows.Err()
}

// Reset wipes every table. Dev and demo use only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"reconciliation_results", "anomaly_results", "sessions", "line_items", "rules"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullPropertyPtr(p *engine.PropertyID) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func nullPeriodPtr(p *engine.PeriodID) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func joinScope(types []engine.DocumentType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func splitScope(s string) []engine.DocumentType {
	var out []engine.DocumentType
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, engine.DocumentType(part))
		}
	}
	return out
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
