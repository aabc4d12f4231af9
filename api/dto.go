/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMALS:
  Monetary values cross the wire as strings so clients never see float
  rounding in financial figures.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/recon-engine/engine"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RunSessionRequest starts a reconciliation session.
type RunSessionRequest struct {
	PropertyID string `json:"property_id"`
	PeriodID   string `json:"period_id"`

	// Optional strategy toggles; zero value means server defaults.
	DocumentTypes []string `json:"document_types,omitempty"`
	SkipAnomalies bool     `json:"skip_anomalies,omitempty"`

	// Matcher strategy selection. Nil means the strategy stays enabled;
	// an explicit false disables it for this run.
	UseExact    *bool `json:"use_exact,omitempty"`
	UseFuzzy    *bool `json:"use_fuzzy,omitempty"`
	UseNameOnly *bool `json:"use_name_only,omitempty"`
}

// LoadPackRequest installs the built-in rule packs.
type LoadPackRequest struct {
	EffectiveDate string `json:"effective_date"` // YYYY-MM
	CreatedBy     string `json:"created_by,omitempty"`
}

// LoadScenarioRequest loads a named demo scenario.
type LoadScenarioRequest struct {
	Scenario string `json:"scenario"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the standard error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SessionDTO is the JSON representation of a session.
type SessionDTO struct {
	ID          string      `json:"id"`
	PropertyID  string      `json:"property_id"`
	PeriodID    string      `json:"period_id"`
	Status      string      `json:"status"`
	ErrorNote   string      `json:"error_note,omitempty"`
	StartedAt   string      `json:"started_at"`
	CompletedAt *string     `json:"completed_at,omitempty"`
	Summary     *SummaryDTO `json:"summary,omitempty"`
}

// SummaryDTO mirrors engine.SessionSummary for the wire.
type SummaryDTO struct {
	Total            int            `json:"total"`
	Passed           int            `json:"passed"`
	Warned           int            `json:"warned"`
	Failed           int            `json:"failed"`
	Skipped          int            `json:"skipped"`
	BySeverity       map[string]int `json:"by_severity"`
	PassRate         string         `json:"pass_rate"`
	Anomalies        int            `json:"anomalies"`
	AnomaliesFlagged int            `json:"anomalies_flagged"`
}

// ResultDTO is one rule evaluation outcome.
type ResultDTO struct {
	ID               string  `json:"id"`
	SessionID        string  `json:"session_id"`
	RuleID           string  `json:"rule_id"`
	RuleVersion      int     `json:"rule_version"`
	PropertyID       string  `json:"property_id"`
	PeriodID         string  `json:"period_id"`
	ExpectedValue    string  `json:"expected_value"`
	ActualValue      string  `json:"actual_value"`
	VarianceAbsolute string  `json:"variance_absolute"`
	VariancePercent  *string `json:"variance_percent,omitempty"`
	Status           string  `json:"status"`
	Severity         string  `json:"severity"`
	ErrorNote        string  `json:"error_note,omitempty"`
	EvaluatedAt      string  `json:"evaluated_at"`
}

// AnomalyDTO is one detector verdict.
type AnomalyDTO struct {
	PropertyID      string            `json:"property_id"`
	AccountCode     string            `json:"account_code,omitempty"`
	AccountName     string            `json:"account_name"`
	PeriodID        string            `json:"period_id"`
	Method          string            `json:"method"`
	Score           string            `json:"score"`
	IsAnomalous     bool              `json:"is_anomalous"`
	Skipped         bool              `json:"skipped"`
	SkipReason      string            `json:"skip_reason,omitempty"`
	SupportingStats map[string]string `json:"supporting_stats,omitempty"`
	DetectedAt      string            `json:"detected_at"`
}

// RuleDTO is the stored-rule representation, version included.
type RuleDTO struct {
	RuleID            string   `json:"rule_id"`
	Version           int      `json:"version"`
	Formula           string   `json:"formula"`
	Description       string   `json:"description,omitempty"`
	ToleranceAbsolute *string  `json:"tolerance_absolute,omitempty"`
	TolerancePercent  *string  `json:"tolerance_percent,omitempty"`
	ToleranceMode     string   `json:"tolerance_mode"`
	Severity          string   `json:"severity"`
	DocumentScope     []string `json:"document_scope"`
	PropertyScope     *string  `json:"property_scope,omitempty"`
	EffectiveDate     string   `json:"effective_date"`
	ExpiresAt         *string  `json:"expires_at,omitempty"`
	IsActive          bool     `json:"is_active"`
	CreatedAt         string   `json:"created_at"`
	CreatedBy         string   `json:"created_by,omitempty"`
}

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toSessionDTO(s engine.Session) SessionDTO {
	dto := SessionDTO{
		ID:         string(s.ID),
		PropertyID: string(s.PropertyID),
		PeriodID:   string(s.PeriodID),
		Status:     string(s.Status),
		ErrorNote:  s.ErrorNote,
		StartedAt:  s.StartedAt.Format(time.RFC3339),
	}
	if s.CompletedAt != nil {
		v := s.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &v
	}
	if s.Summary != nil {
		dto.Summary = toSummaryDTO(*s.Summary)
	}
	return dto
}

func toSummaryDTO(s engine.SessionSummary) *SummaryDTO {
	bySeverity := make(map[string]int, len(s.BySeverity))
	for k, v := range s.BySeverity {
		bySeverity[string(k)] = v
	}
	return &SummaryDTO{
		Total:            s.Total,
		Passed:           s.Passed,
		Warned:           s.Warned,
		Failed:           s.Failed,
		Skipped:          s.Skipped,
		BySeverity:       bySeverity,
		PassRate:         s.PassRate.String(),
		Anomalies:        s.Anomalies,
		AnomaliesFlagged: s.AnomaliesFlagged,
	}
}

func toResultDTO(r engine.ReconciliationResult) ResultDTO {
	dto := ResultDTO{
		ID:               r.ID,
		SessionID:        string(r.SessionID),
		RuleID:           string(r.RuleID),
		RuleVersion:      r.RuleVersion,
		PropertyID:       string(r.PropertyID),
		PeriodID:         string(r.PeriodID),
		ExpectedValue:    r.ExpectedValue.String(),
		ActualValue:      r.ActualValue.String(),
		VarianceAbsolute: r.VarianceAbsolute.String(),
		Status:           string(r.Status),
		Severity:         string(r.Severity),
		ErrorNote:        r.ErrorNote,
		EvaluatedAt:      r.EvaluatedAt.Format(time.RFC3339),
	}
	if r.VariancePercent != nil {
		v := r.VariancePercent.String()
		dto.VariancePercent = &v
	}
	return dto
}

func toAnomalyDTO(a engine.AnomalyResult) AnomalyDTO {
	return AnomalyDTO{
		PropertyID:      string(a.PropertyID),
		AccountCode:     string(a.AccountCode),
		AccountName:     a.AccountName,
		PeriodID:        string(a.PeriodID),
		Method:          string(a.Method),
		Score:           a.Score.String(),
		IsAnomalous:     a.IsAnomalous,
		Skipped:         a.Skipped,
		SkipReason:      a.SkipReason,
		SupportingStats: a.SupportingStats,
		DetectedAt:      a.DetectedAt.Format(time.RFC3339),
	}
}

func toRuleDTO(r engine.Rule) RuleDTO {
	dto := RuleDTO{
		RuleID:            string(r.RuleID),
		Version:           r.Version,
		Formula:           r.Formula,
		Description:       r.Description,
		ToleranceAbsolute: r.ToleranceAbsolute,
		TolerancePercent:  r.TolerancePercent,
		ToleranceMode:     string(r.ToleranceMode),
		Severity:          string(r.Severity),
		EffectiveDate:     string(r.EffectiveDate),
		IsActive:          r.IsActive,
		CreatedAt:         r.CreatedAt.Format(time.RFC3339),
		CreatedBy:         r.CreatedBy,
	}
	for _, t := range r.DocumentScope.Slice() {
		dto.DocumentScope = append(dto.DocumentScope, string(t))
	}
	if r.PropertyScope != nil {
		s := string(*r.PropertyScope)
		dto.PropertyScope = &s
	}
	if r.ExpiresAt != nil {
		s := string(*r.ExpiresAt)
		dto.ExpiresAt = &s
	}
	return dto
}
