/*
handlers.go - HTTP API handlers for the reconciliation engine

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Sessions:
    POST   /api/sessions               Run a reconciliation session
    GET    /api/sessions/{id}          Get session with summary
    GET    /api/sessions/latest        Latest session for (property, period)
    POST   /api/sessions/{id}/cancel   Cancel an in-flight session

  Results:
    GET    /api/results                Results for (property, period)
    GET    /api/anomalies              Anomaly signals for a property

  Rules:
    GET    /api/rules                  Current version of every rule
    POST   /api/rules                  Save a rule (new version appended)
    GET    /api/rules/{id}/history     Full version history
    POST   /api/rules/packs            Install the built-in rule packs

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario
    POST   /api/scenarios/reset        Wipe the database

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Rule or session not found
  - 409: Session already in progress for the (property, period)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/recon-engine/engine"
	"github.com/warp/recon-engine/factory"
	"github.com/warp/recon-engine/session"
	"github.com/warp/recon-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Orchestrator *session.Orchestrator
	RuleFactory  *factory.RuleFactory

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store and orchestrator.
func NewHandler(store *sqlite.Store, orch *session.Orchestrator) *Handler {
	return &Handler{
		Store:        store,
		Orchestrator: orch,
		RuleFactory:  factory.NewRuleFactory(),
	}
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// RunSession runs a reconciliation session synchronously and returns the
// terminal session record. A concurrent run for the same (property,
// period) yields 409.
// POST /api/sessions
func (h *Handler) RunSession(w http.ResponseWriter, r *http.Request) {
	var req RunSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PropertyID == "" || req.PeriodID == "" {
		writeError(w, http.StatusBadRequest, "property_id and period_id are required", nil)
		return
	}

	opts := session.DefaultOptions()
	opts.SkipAnomalies = req.SkipAnomalies
	if req.UseExact != nil {
		opts.UseExact = *req.UseExact
	}
	if req.UseFuzzy != nil {
		opts.UseFuzzy = *req.UseFuzzy
	}
	if req.UseNameOnly != nil {
		opts.UseNameOnly = *req.UseNameOnly
	}
	for _, dt := range req.DocumentTypes {
		opts.DocumentTypes = append(opts.DocumentTypes, engine.DocumentType(dt))
	}

	sess, err := h.Orchestrator.Run(r.Context(),
		engine.PropertyID(req.PropertyID), engine.PeriodID(req.PeriodID), opts)
	if err != nil {
		writeDomainError(w, "Failed to run session", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionDTO(sess))
}

// GetSession returns a session by ID.
// GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.Store.GetSession(r.Context(), engine.SessionID(id))
	if err != nil {
		writeDomainError(w, "Failed to get session", err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionDTO(*sess))
}

// LatestSession returns the most recent session for a (property, period).
// GET /api/sessions/latest?property_id=&period_id=
func (h *Handler) LatestSession(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Query().Get("property_id")
	period := r.URL.Query().Get("period_id")
	if property == "" || period == "" {
		writeError(w, http.StatusBadRequest, "property_id and period_id are required", nil)
		return
	}

	sess, err := h.Store.LatestSession(r.Context(),
		engine.PropertyID(property), engine.PeriodID(period))
	if err != nil {
		writeDomainError(w, "Failed to get session", err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "No session for this property and period", nil)
		return
	}

	writeJSON(w, http.StatusOK, toSessionDTO(*sess))
}

// CancelSession requests cancellation of an in-flight session.
// POST /api/sessions/{id}/cancel
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !h.Orchestrator.Cancel(engine.SessionID(id)) {
		writeError(w, http.StatusNotFound, "Session is not running", nil)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "cancelling",
	})
}

// =============================================================================
// RESULT HANDLERS
// =============================================================================

// GetResults returns the current result set for a (property, period).
// GET /api/results?property_id=&period_id=
func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Query().Get("property_id")
	period := r.URL.Query().Get("period_id")
	if property == "" || period == "" {
		writeError(w, http.StatusBadRequest, "property_id and period_id are required", nil)
		return
	}

	results, err := h.Store.GetResults(r.Context(),
		engine.PropertyID(property), engine.PeriodID(period))
	if err != nil {
		writeDomainError(w, "Failed to get results", err)
		return
	}

	dtos := make([]ResultDTO, len(results))
	for i, res := range results {
		dtos[i] = toResultDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAnomalies returns anomaly signals for a property, optionally
// filtered by account code.
// GET /api/anomalies?property_id=&account_code=
func (h *Handler) GetAnomalies(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Query().Get("property_id")
	if property == "" {
		writeError(w, http.StatusBadRequest, "property_id is required", nil)
		return
	}
	code := r.URL.Query().Get("account_code")

	anomalies, err := h.Store.GetAnomalies(r.Context(),
		engine.PropertyID(property), engine.AccountCode(code))
	if err != nil {
		writeDomainError(w, "Failed to get anomalies", err)
		return
	}

	dtos := make([]AnomalyDTO, len(anomalies))
	for i, a := range anomalies {
		dtos[i] = toAnomalyDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns the current version of every rule.
// GET /api/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListCurrentRules(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list rules", err)
		return
	}

	dtos := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveRule validates a rule definition and appends it as a new version.
// The formula is parsed here, at save time, so evaluation never sees a
// malformed expression.
// POST /api/rules
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	edit, err := h.RuleFactory.FromJSON(rj)
	if err != nil {
		writeDomainError(w, "Invalid rule", err)
		return
	}

	rule, err := h.Store.SaveRuleVersion(r.Context(), edit)
	if err != nil {
		writeDomainError(w, "Failed to save rule", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRuleDTO(rule))
}

// RuleHistory returns every version of one rule, oldest first.
// GET /api/rules/{id}/history
func (h *Handler) RuleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rules, err := h.Store.GetRuleHistory(r.Context(), engine.RuleID(id))
	if err != nil {
		writeDomainError(w, "Failed to get rule history", err)
		return
	}

	dtos := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadPacks installs the built-in rule packs. Re-running appends new
// versions rather than overwriting, consistent with the versioning
// contract.
// POST /api/rules/packs
func (h *Handler) LoadPacks(w http.ResponseWriter, r *http.Request) {
	var req LoadPackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EffectiveDate == "" {
		writeError(w, http.StatusBadRequest, "effective_date is required", nil)
		return
	}

	var saved []RuleDTO
	for _, rj := range factory.StandardPacks(req.EffectiveDate) {
		rj.CreatedBy = req.CreatedBy
		edit, err := h.RuleFactory.FromJSON(rj)
		if err != nil {
			writeDomainError(w, "Invalid pack rule "+rj.RuleID, err)
			return
		}
		rule, err := h.Store.SaveRuleVersion(r.Context(), edit)
		if err != nil {
			writeDomainError(w, "Failed to save pack rule "+rj.RuleID, err)
			return
		}
		saved = append(saved, toRuleDTO(rule))
	}

	writeJSON(w, http.StatusCreated, saved)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, engine.ErrSessionInProgress):
		writeError(w, http.StatusConflict, message, err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
