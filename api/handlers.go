/*
handlers.go - HTTP API handlers for the practice engine

PURPOSE:
  Exposes the budget and treatment-session engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to clinic.Engine.
  The calling doctor always comes from the auth middleware, never from the
  request body.

ENDPOINTS:
  Patients:
    GET    /api/patients/{patientID}/budget           Latest budget with items
    PUT    /api/patients/{patientID}/budget           Save full item list
    DELETE /api/patients/{patientID}/budget           Delete latest budget
    POST   /api/patients/{patientID}/budget/template  Save from a template
    GET    /api/patients/{patientID}/sessions         Treatment sessions

  Budgets:
    GET    /api/budgets                      List (?patient_id=)
    POST   /api/budgets                      Open an empty draft
    GET    /api/budgets/{budgetID}           Budget with items
    POST   /api/budgets/{budgetID}/activate  draft -> active
    POST   /api/budgets/{budgetID}/revert    active|completed -> draft
    POST   /api/budgets/{budgetID}/complete  Force completion
    POST   /api/budgets/{budgetID}/items     Add one item (draft only)
    POST   /api/budgets/{budgetID}/documents Attach generated document

  Items and sessions:
    DELETE /api/items/{itemID}               Hard delete, purges sessions
    POST   /api/items/{itemID}/complete      Complete item (cascade)
    POST   /api/items/{itemID}/sessions      Register a session
    DELETE /api/sessions/{sessionID}         Archive a session

  Reporting:
    GET    /api/revenue/pending              Value of unfinished items
    GET    /api/audit                        Audit history

ERROR HANDLING:
  Engine errors map to HTTP status by kind:
  - 400: clinic.ErrValidation, malformed body or path
  - 401: missing or invalid caller identity
  - 404: clinic.ErrNotFound (including other doctors' data)
  - 409: clinic.ErrInvalidState, clinic.ErrConflict
  - 500: anything else (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Caller identity
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/practice-engine/clinic"
	"github.com/warp/practice-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage the server runs on: the engine's store and audit
// log plus the operational hooks.
type Backend interface {
	clinic.Store
	clinic.AuditLog
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *clinic.Engine
	Store     Backend
	Templates *factory.TemplateFactory
	Log       zerolog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler whose engine runs on store.
func NewHandler(store Backend, lg zerolog.Logger) *Handler {
	engine := clinic.NewEngine(store, store, lg).
		WithNotifier(clinic.LogNotifier{Log: lg.With().Str("component", "notifier").Logger()})
	return &Handler{
		Engine:    engine,
		Store:     store,
		Templates: factory.NewTemplateFactory(),
		Log:       lg,
	}
}

// =============================================================================
// PATIENT BUDGET HANDLERS
// =============================================================================

// GetPatientBudget returns the patient's latest budget.
func (h *Handler) GetPatientBudget(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}

	view, err := h.Engine.GetPatientBudget(r.Context(), DoctorFromContext(r.Context()), clinic.PatientID(patientID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetViewDTO(view))
}

// SaveBudget writes the full item list of the patient's budget.
func (h *Handler) SaveBudget(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}
	var req SaveBudgetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	view, err := h.Engine.SaveOrUpdate(r.Context(), DoctorFromContext(r.Context()), clinic.PatientID(patientID),
		req.BudgetType, toIncoming(req.Items))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetViewDTO(view))
}

// DeletePatientBudget deletes the patient's latest budget if it is not active.
func (h *Handler) DeletePatientBudget(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}

	if err := h.Engine.Delete(r.Context(), DoctorFromContext(r.Context()), clinic.PatientID(patientID)); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ApplyTemplate saves a built-in template as the patient's item list.
func (h *Handler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}
	var req ApplyTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tpl, err := h.Templates.Get(req.TemplateID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	view, err := h.Engine.SaveOrUpdate(r.Context(), DoctorFromContext(r.Context()), clinic.PatientID(patientID),
		tpl.BudgetType, tpl.Items())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetViewDTO(view))
}

// ListPatientSessions returns the patient's active sessions, newest first.
func (h *Handler) ListPatientSessions(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}

	sessions, err := h.Engine.ListSessions(r.Context(), DoctorFromContext(r.Context()), clinic.PatientID(patientID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BUDGET HANDLERS
// =============================================================================

// ListBudgets returns the caller's budgets, optionally for one patient.
func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	var patientID int64
	if v := r.URL.Query().Get("patient_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid patient_id", err)
			return
		}
		patientID = id
	}

	budgets, err := h.Engine.ListBudgets(r.Context(), DoctorFromContext(r.Context()), clinic.PatientID(patientID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]BudgetDTO, len(budgets))
	for i, b := range budgets {
		dtos[i] = toBudgetDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBudget opens an empty draft budget.
func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	var req CreateBudgetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	b, err := h.Engine.CreateBudget(r.Context(), DoctorFromContext(r.Context()), clinic.PatientID(req.PatientID), req.BudgetType)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBudgetDTO(*b))
}

// GetBudget returns one budget with its items.
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	budgetID, ok := pathID(w, r, "budgetID")
	if !ok {
		return
	}

	view, err := h.Engine.GetBudget(r.Context(), DoctorFromContext(r.Context()), clinic.BudgetID(budgetID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetViewDTO(view))
}

// ActivateBudget moves a draft budget to active.
func (h *Handler) ActivateBudget(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Activate)
}

// RevertBudget moves a budget back to draft.
func (h *Handler) RevertBudget(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.RevertToDraft)
}

// CompleteBudget forces a budget to completed.
func (h *Handler) CompleteBudget(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Complete)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, clinic.DoctorID, clinic.BudgetID) error) {
	budgetID, ok := pathID(w, r, "budgetID")
	if !ok {
		return
	}
	doctorID := DoctorFromContext(r.Context())

	if err := fn(r.Context(), doctorID, clinic.BudgetID(budgetID)); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	view, err := h.Engine.GetBudget(r.Context(), doctorID, clinic.BudgetID(budgetID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetViewDTO(view))
}

// AddItem appends one item to a draft budget.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	budgetID, ok := pathID(w, r, "budgetID")
	if !ok {
		return
	}
	var req ItemInput
	if !decodeBody(w, r, &req) {
		return
	}
	doctorID := DoctorFromContext(r.Context())

	in := toIncoming([]ItemInput{req})[0]
	in.ID = 0
	if _, err := h.Engine.AddItem(r.Context(), doctorID, clinic.BudgetID(budgetID), in); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	view, err := h.Engine.GetBudget(r.Context(), doctorID, clinic.BudgetID(budgetID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBudgetViewDTO(view))
}

// AttachDocument records a generated document against a budget.
func (h *Handler) AttachDocument(w http.ResponseWriter, r *http.Request) {
	budgetID, ok := pathID(w, r, "budgetID")
	if !ok {
		return
	}
	var req AttachDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.Engine.AttachBudgetDocument(r.Context(), DoctorFromContext(r.Context()), clinic.BudgetID(budgetID),
		clinic.DocumentRef{Name: req.Name, URL: req.URL})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
}

// =============================================================================
// ITEM AND SESSION HANDLERS
// =============================================================================

// DeleteItem hard-deletes an item and its sessions.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	res, err := h.Engine.DeleteItem(r.Context(), DoctorFromContext(r.Context()), clinic.ItemID(itemID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteItemResponse{
		ItemID:          itemID,
		SessionsDeleted: res.SessionsDeleted,
		NewTotal:        res.NewTotal.StringFixed(2),
	})
}

// CompleteItem marks an item and its sessions completed.
func (h *Handler) CompleteItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	valor, err := h.Engine.CompleteItem(r.Context(), DoctorFromContext(r.Context()), clinic.ItemID(itemID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CompleteItemResponse{ItemID: itemID, Valor: valor.StringFixed(2)})
}

// RegisterSession records a treatment session against an item.
func (h *Handler) RegisterSession(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req RegisterSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := clinic.SessionInput{
		Product:     req.Product,
		Batch:       req.Batch,
		Dilution:    req.Dilution,
		PhotoBefore: req.PhotoBefore,
		PhotoAfter:  req.PhotoAfter,
		Descripcion: req.Descripcion,
	}
	if req.ControlAt != "" {
		t, err := parseTime(req.ControlAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid control_at (use RFC 3339 or YYYY-MM-DD)", err)
			return
		}
		in.ControlAt = t
	}
	if req.NextControlAt != "" {
		t, err := parseTime(req.NextControlAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid next_control_at (use RFC 3339 or YYYY-MM-DD)", err)
			return
		}
		in.NextControlAt = &t
	}

	res, err := h.Engine.RegisterSession(r.Context(), DoctorFromContext(r.Context()),
		clinic.PatientID(req.PatientID), clinic.ItemID(itemID), in)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResultDTO{
		Session:          toSessionDTO(res.Session),
		IsFirstTreatment: res.IsFirstTreatment,
	})
}

// ArchiveSession soft-deletes a session.
func (h *Handler) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}

	if err := h.Engine.ArchiveSession(r.Context(), DoctorFromContext(r.Context()), clinic.SessionID(sessionID)); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

// PendingRevenue returns the value of the caller's unfinished items.
func (h *Handler) PendingRevenue(w http.ResponseWriter, r *http.Request) {
	doctorID := DoctorFromContext(r.Context())
	pending, err := h.Engine.PendingRevenue(r.Context(), doctorID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PendingRevenueDTO{DoctorID: int64(doctorID), Pending: pending.StringFixed(2)})
}

// AuditHistory returns the caller's audit records, newest first.
// Filters: patient_id, entity_type, entity_id, action (repeatable), limit.
func (h *Handler) AuditHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter clinic.AuditFilter

	if v := q.Get("patient_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid patient_id", err)
			return
		}
		pid := clinic.PatientID(id)
		filter.PatientID = &pid
	}
	if v := q.Get("entity_type"); v != "" {
		et := clinic.EntityType(v)
		filter.EntityType = &et
	}
	if v := q.Get("entity_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid entity_id", err)
			return
		}
		filter.EntityID = &id
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, clinic.AuditAction(a))
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Engine.Auditor().History(r.Context(), DoctorFromContext(r.Context()), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListTemplates returns the built-in budget templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates := h.Templates.List()
	dtos := make([]TemplateDTO, len(templates))
	for i, t := range templates {
		dtos[i] = toTemplateDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetDatabase clears all data. Only routed in development.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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

// writeEngineError maps engine errors to HTTP status codes. Internal errors
// are logged with the request id and returned without details.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, clinic.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, clinic.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, clinic.ErrConflict):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, clinic.ErrInvalidState):
		writeError(w, http.StatusConflict, "Invalid state", err)
	default:
		h.Log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", requestID(r)).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

// pathID parses a positive integer URL parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s: %q", name, raw), nil)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
