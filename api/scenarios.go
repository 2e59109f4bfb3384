/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with budgets in
	each lifecycle stage for one doctor. Everything goes through the engine,
	so the audit trail is populated the same way real traffic would.

AVAILABLE SCENARIOS:

	new-patient:           Draft check-up budget from a template
	activation-cycle:      Empty draft, item added, activated, reverted
	treatment-in-progress: Active orthodontics plan with sessions
	completed-plan:        Every item completed, budget auto-completed
	pending-revenue:       Two budgets whose open work adds up to 300.00

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save budgets from templates or explicit items
 3. Drive them through activate/sessions/completion

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "treatment-in-progress"}

USAGE VIA CLI:

	server seed treatment-in-progress --doctor 1

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Engine handlers
  - factory/template.go: Built-in templates
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/practice-engine/clinic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-patient",
		Name:        "New Patient",
		Description: "Draft check-up budget built from the checkup template",
	},
	{
		ID:          "activation-cycle",
		Name:        "Activation Cycle",
		Description: "Empty draft, one item added, activated, then reverted to draft",
	},
	{
		ID:          "treatment-in-progress",
		Name:        "Treatment In Progress",
		Description: "Active orthodontics plan: study done, brackets with two sessions",
	},
	{
		ID:          "completed-plan",
		Name:        "Completed Plan",
		Description: "Every item completed so the budget completed itself",
	},
	{
		ID:          "pending-revenue",
		Name:        "Pending Revenue",
		Description: "Active budget with one item done plus a draft budget: 300.00 pending",
	},
}

// Scenario patients. Each scenario uses its own patient so they read well side by side.
const (
	patientNew        clinic.PatientID = 101
	patientActivation clinic.PatientID = 102
	patientOrtho      clinic.PatientID = 103
	patientCompleted  clinic.PatientID = 104
	patientRevenueA   clinic.PatientID = 105
	patientRevenueB   clinic.PatientID = 106
)

// Scenarios returns the available scenario descriptions.
func Scenarios() []ScenarioDTO {
	return scenarios
}

func hasScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the database and loads a scenario for the caller.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if !hasScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.RunScenario(r.Context(), DoctorFromContext(r.Context()), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// RunScenario resets the database and loads scenario id for doctorID.
func (h *Handler) RunScenario(ctx context.Context, doctorID clinic.DoctorID, id string) error {
	var load func(context.Context, clinic.DoctorID) error
	switch id {
	case "new-patient":
		load = h.loadNewPatientScenario
	case "activation-cycle":
		load = h.loadActivationCycleScenario
	case "treatment-in-progress":
		load = h.loadTreatmentInProgressScenario
	case "completed-plan":
		load = h.loadCompletedPlanScenario
	case "pending-revenue":
		load = h.loadPendingRevenueScenario
	default:
		return &clinic.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", id)}
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset database: %w", err)
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := load(ctx, doctorID); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.Log.Info().Str("scenario", id).Int64("doctor_id", int64(doctorID)).Msg("scenario loaded")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadNewPatientScenario(ctx context.Context, doctorID clinic.DoctorID) error {
	_, err := h.saveFromTemplate(ctx, doctorID, patientNew, "checkup")
	return err
}

func (h *Handler) loadActivationCycleScenario(ctx context.Context, doctorID clinic.DoctorID) error {
	b, err := h.Engine.CreateBudget(ctx, doctorID, patientActivation, "general")
	if err != nil {
		return err
	}
	// An empty draft cannot be activated
	if err := h.Engine.Activate(ctx, doctorID, b.ID); err == nil {
		return fmt.Errorf("empty budget %d was activated", b.ID)
	}

	if _, err := h.Engine.AddItem(ctx, doctorID, b.ID, clinic.IncomingItem{
		Pieza:  "21",
		Accion: "Composite filling",
		Valor:  decimal.RequireFromString("85.00"),
	}); err != nil {
		return err
	}
	if err := h.Engine.Activate(ctx, doctorID, b.ID); err != nil {
		return err
	}
	return h.Engine.RevertToDraft(ctx, doctorID, b.ID)
}

func (h *Handler) loadTreatmentInProgressScenario(ctx context.Context, doctorID clinic.DoctorID) error {
	view, err := h.saveFromTemplate(ctx, doctorID, patientOrtho, "orthodontics-start")
	if err != nil {
		return err
	}
	if err := h.Engine.Activate(ctx, doctorID, view.Budget.ID); err != nil {
		return err
	}

	study, brackets := view.Items[0], view.Items[1]
	start := time.Now().UTC().AddDate(0, 0, -21).Truncate(24 * time.Hour)

	if _, err := h.Engine.RegisterSession(ctx, doctorID, patientOrtho, study.ID, clinic.SessionInput{
		ControlAt:   start,
		Descripcion: "Models and cephalometric X-ray",
	}); err != nil {
		return err
	}
	if _, err := h.Engine.CompleteItem(ctx, doctorID, study.ID); err != nil {
		return err
	}

	for i := 1; i <= 2; i++ {
		at := start.AddDate(0, 0, 7*i)
		next := at.AddDate(0, 0, 7)
		if _, err := h.Engine.RegisterSession(ctx, doctorID, patientOrtho, brackets.ID, clinic.SessionInput{
			ControlAt:     at,
			NextControlAt: &next,
			Descripcion:   fmt.Sprintf("Bracket placement, arch %d", i),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadCompletedPlanScenario(ctx context.Context, doctorID clinic.DoctorID) error {
	view, err := h.saveFromTemplate(ctx, doctorID, patientCompleted, "botox")
	if err != nil {
		return err
	}
	if err := h.Engine.Activate(ctx, doctorID, view.Budget.ID); err != nil {
		return err
	}

	at := time.Now().UTC().AddDate(0, 0, -14).Truncate(24 * time.Hour)
	for _, it := range view.Items {
		if _, err := h.Engine.RegisterSession(ctx, doctorID, patientCompleted, it.ID, clinic.SessionInput{
			ControlAt: at,
			Product:   "Botulinum toxin type A",
			Batch:     "BTX-0425",
			Dilution:  "2.5 ml",
		}); err != nil {
			return err
		}
		if _, err := h.Engine.CompleteItem(ctx, doctorID, it.ID); err != nil {
			return err
		}
		at = at.AddDate(0, 0, 14)
	}
	return nil
}

func (h *Handler) loadPendingRevenueScenario(ctx context.Context, doctorID clinic.DoctorID) error {
	a, err := h.Engine.SaveOrUpdate(ctx, doctorID, patientRevenueA, "general", []clinic.IncomingItem{
		{Accion: "Cleaning", Valor: decimal.RequireFromString("100")},
		{Accion: "Examination", Valor: decimal.RequireFromString("50")},
	})
	if err != nil {
		return err
	}
	if err := h.Engine.Activate(ctx, doctorID, a.Budget.ID); err != nil {
		return err
	}
	if _, err := h.Engine.CompleteItem(ctx, doctorID, a.Items[1].ID); err != nil {
		return err
	}

	_, err = h.Engine.SaveOrUpdate(ctx, doctorID, patientRevenueB, "general", []clinic.IncomingItem{
		{Accion: "Crown", Pieza: "36", Valor: decimal.RequireFromString("200")},
	})
	return err
}

func (h *Handler) saveFromTemplate(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID,
	templateID string) (*clinic.BudgetView, error) {
	tpl, err := h.Templates.Get(templateID)
	if err != nil {
		return nil, err
	}
	return h.Engine.SaveOrUpdate(ctx, doctorID, patientID, tpl.BudgetType, tpl.Items())
}
