/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the clinic domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are written as strings with two decimals ("150.50"). Requests
  accept strings or JSON numbers.

TYPES:
  Budgets:    BudgetDTO, BudgetItemDTO, SaveBudgetRequest, CreateBudgetRequest
  Items:      ItemInput, DeleteItemResponse, CompleteItemResponse
  Sessions:   SessionDTO, RegisterSessionRequest, SessionResultDTO
  Audit:      AuditEntryDTO
  Templates:  TemplateDTO, ApplyTemplateRequest
  Scenarios:  ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
  - clinic/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/practice-engine/clinic"
	"github.com/warp/practice-engine/factory"
)

// =============================================================================
// BUDGETS
// =============================================================================

// BudgetDTO represents a budget in API responses. Items is only filled when
// the budget was loaded with its items.
type BudgetDTO struct {
	ID          int64           `json:"id"`
	PatientID   int64           `json:"patient_id"`
	DoctorID    int64           `json:"doctor_id"`
	TotalAmount string          `json:"total_amount"`
	Status      string          `json:"status"`
	BudgetType  string          `json:"budget_type"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	Items       []BudgetItemDTO `json:"items,omitempty"`
}

// BudgetItemDTO represents one budget line.
type BudgetItemDTO struct {
	ID       int64  `json:"id"`
	BudgetID int64  `json:"budget_id"`
	Pieza    string `json:"pieza"`
	Accion   string `json:"accion"`
	Valor    string `json:"valor"`
	Orden    int    `json:"orden"`
	Status   string `json:"status"`
}

// ItemInput is one submitted budget line. An id of 0 (or absent) creates a
// new item.
type ItemInput struct {
	ID     int64           `json:"id,omitempty"`
	Pieza  string          `json:"pieza"`
	Accion string          `json:"accion"`
	Valor  decimal.Decimal `json:"valor"`
	Orden  *int            `json:"orden,omitempty"`
}

// SaveBudgetRequest replaces the full item list of the patient's budget.
type SaveBudgetRequest struct {
	BudgetType string      `json:"budget_type"`
	Items      []ItemInput `json:"items"`
}

// CreateBudgetRequest opens an empty draft budget.
type CreateBudgetRequest struct {
	PatientID  int64  `json:"patient_id"`
	BudgetType string `json:"budget_type"`
}

// AttachDocumentRequest links a generated document (e.g. the budget PDF).
type AttachDocumentRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// DeleteItemResponse reports the cascade of a hard item delete.
type DeleteItemResponse struct {
	ItemID          int64  `json:"item_id"`
	SessionsDeleted int64  `json:"sessions_deleted"`
	NewTotal        string `json:"new_total"`
}

// CompleteItemResponse carries the completed item's value.
type CompleteItemResponse struct {
	ItemID int64  `json:"item_id"`
	Valor  string `json:"valor"`
}

// PendingRevenueDTO is the doctor's outstanding work value.
type PendingRevenueDTO struct {
	DoctorID int64  `json:"doctor_id"`
	Pending  string `json:"pending"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// SessionDTO represents a treatment session.
type SessionDTO struct {
	ID            int64   `json:"id"`
	PatientID     int64   `json:"patient_id"`
	BudgetItemID  *int64  `json:"budget_item_id"`
	ServiceName   string  `json:"service_name"`
	ControlAt     string  `json:"control_at"`
	NextControlAt *string `json:"next_control_at,omitempty"`
	Product       string  `json:"product,omitempty"`
	Batch         string  `json:"batch,omitempty"`
	Dilution      string  `json:"dilution,omitempty"`
	PhotoBefore   string  `json:"photo_before,omitempty"`
	PhotoAfter    string  `json:"photo_after,omitempty"`
	Descripcion   string  `json:"descripcion,omitempty"`
	Status        string  `json:"status"`
	IsActive      bool    `json:"is_active"`
}

// RegisterSessionRequest records a session against an item. Dates accept
// RFC 3339 or YYYY-MM-DD; control_at defaults to now.
type RegisterSessionRequest struct {
	PatientID     int64  `json:"patient_id,omitempty"`
	ControlAt     string `json:"control_at,omitempty"`
	NextControlAt string `json:"next_control_at,omitempty"`
	Product       string `json:"product,omitempty"`
	Batch         string `json:"batch,omitempty"`
	Dilution      string `json:"dilution,omitempty"`
	PhotoBefore   string `json:"photo_before,omitempty"`
	PhotoAfter    string `json:"photo_after,omitempty"`
	Descripcion   string `json:"descripcion,omitempty"`
}

// SessionResultDTO is returned by RegisterSession.
type SessionResultDTO struct {
	Session          SessionDTO `json:"session"`
	IsFirstTreatment bool       `json:"is_first_treatment"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEntryDTO represents one audit record.
type AuditEntryDTO struct {
	ID         int64          `json:"id"`
	EventID    string         `json:"event_id"`
	PatientID  int64          `json:"patient_id"`
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Action     string         `json:"action"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	ChangedBy  int64          `json:"changed_by"`
	CreatedAt  string         `json:"created_at"`
	Notes      string         `json:"notes,omitempty"`
}

// =============================================================================
// TEMPLATES AND SCENARIOS
// =============================================================================

// TemplateDTO represents a built-in budget template.
type TemplateDTO struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	BudgetType string      `json:"budget_type"`
	Total      string      `json:"total"`
	Items      []ItemInput `json:"items"`
}

// ApplyTemplateRequest fills the patient's budget from a template.
type ApplyTemplateRequest struct {
	TemplateID string `json:"template_id"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBudgetDTO(b clinic.Budget) BudgetDTO {
	return BudgetDTO{
		ID:          int64(b.ID),
		PatientID:   int64(b.PatientID),
		DoctorID:    int64(b.DoctorID),
		TotalAmount: b.Total.StringFixed(2),
		Status:      string(b.Status),
		BudgetType:  b.BudgetType,
		CreatedAt:   b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   b.UpdatedAt.Format(time.RFC3339),
	}
}

func toBudgetViewDTO(v *clinic.BudgetView) BudgetDTO {
	dto := toBudgetDTO(v.Budget)
	dto.Items = make([]BudgetItemDTO, len(v.Items))
	for i, it := range v.Items {
		dto.Items[i] = toItemDTO(it)
	}
	return dto
}

func toItemDTO(it clinic.BudgetItem) BudgetItemDTO {
	return BudgetItemDTO{
		ID:       int64(it.ID),
		BudgetID: int64(it.BudgetID),
		Pieza:    it.Pieza,
		Accion:   it.Accion,
		Valor:    it.Valor.StringFixed(2),
		Orden:    it.Orden,
		Status:   string(it.Status),
	}
}

func toSessionDTO(s clinic.TreatmentSession) SessionDTO {
	dto := SessionDTO{
		ID:          int64(s.ID),
		PatientID:   int64(s.PatientID),
		ServiceName: s.ServiceName,
		ControlAt:   s.ControlAt.Format(time.RFC3339),
		Product:     s.Product,
		Batch:       s.Batch,
		Dilution:    s.Dilution,
		PhotoBefore: s.PhotoBefore,
		PhotoAfter:  s.PhotoAfter,
		Descripcion: s.Descripcion,
		Status:      string(s.Status),
		IsActive:    s.IsActive,
	}
	if s.BudgetItemID != nil {
		id := int64(*s.BudgetItemID)
		dto.BudgetItemID = &id
	}
	if s.NextControlAt != nil {
		dto.NextControlAt = strPtr(s.NextControlAt.Format(time.RFC3339))
	}
	return dto
}

func toAuditDTO(e clinic.AuditLogEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		EventID:    e.EventID,
		PatientID:  int64(e.PatientID),
		EntityType: string(e.EntityType),
		EntityID:   e.EntityID,
		Action:     string(e.Action),
		OldValues:  e.OldValues,
		NewValues:  e.NewValues,
		ChangedBy:  int64(e.ChangedBy),
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		Notes:      e.Notes,
	}
}

func toTemplateDTO(t *factory.Template) TemplateDTO {
	items := t.Items()
	dto := TemplateDTO{
		ID:         t.ID,
		Name:       t.Name,
		BudgetType: t.BudgetType,
		Total:      t.Total().StringFixed(2),
		Items:      make([]ItemInput, len(items)),
	}
	for i, it := range items {
		dto.Items[i] = ItemInput{Pieza: it.Pieza, Accion: it.Accion, Valor: it.Valor}
	}
	return dto
}

func toIncoming(in []ItemInput) []clinic.IncomingItem {
	out := make([]clinic.IncomingItem, len(in))
	for i, it := range in {
		out[i] = clinic.IncomingItem{
			ID:     clinic.ItemID(it.ID),
			Pieza:  it.Pieza,
			Accion: it.Accion,
			Valor:  it.Valor,
			Orden:  it.Orden,
		}
	}
	return out
}

func strPtr(s string) *string {
	return &s
}
