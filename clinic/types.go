/*
Package clinic provides the budget and treatment-session lifecycle engine.

PURPOSE:
  A budget starts as a mutable quote for one patient under one doctor and
  becomes an activated, session-tracked treatment plan. This package owns
  the rules for that lifecycle: item reconciliation, totals, status
  transitions, session registration, completion cascades and the pending
  revenue report. Persistence, HTTP and notifications are collaborators.

KEY CONCEPTS IN THIS FILE (types.go):
  - Budget:           One quote/plan per patient, owned by a doctor (tenant)
  - BudgetItem:       One priced line (procedure) within a budget
  - TreatmentSession: One dated occurrence of work against an item
  - Status enums:     Closed sets with explicit transition tables

DESIGN PRINCIPLES:
  1. Tenant explicit: every operation receives the caller's DoctorID
  2. Precision: money is decimal.Decimal, never float64
  3. Type Safety: distinct ID types for budgets, items, sessions
  4. Derived totals: Budget.Total is recomputed from items, never trusted

USAGE:
  engine := clinic.NewEngine(store, store, logger)
  view, err := engine.SaveOrUpdate(ctx, doctorID, patientID, "general", items)

SEE ALSO:
  - budget.go: Budget aggregate operations
  - reconcile.go: Item diffing
  - session.go: Session registration
  - completion.go: Completion cascade
*/
package clinic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	DoctorID  int64
	PatientID int64
	BudgetID  int64
	ItemID    int64
	SessionID int64
)

// =============================================================================
// BUDGET STATUS - draft -> active -> completed
// =============================================================================

type BudgetStatus string

const (
	BudgetDraft     BudgetStatus = "draft"
	BudgetActive    BudgetStatus = "active"
	BudgetCompleted BudgetStatus = "completed"
)

// Valid reports whether s is one of the known budget statuses.
func (s BudgetStatus) Valid() bool {
	switch s {
	case BudgetDraft, BudgetActive, BudgetCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Item-count and single-active checks are made by the aggregate on top of this.
func (s BudgetStatus) CanTransitionTo(next BudgetStatus) bool {
	switch s {
	case BudgetDraft:
		return next == BudgetActive || next == BudgetCompleted
	case BudgetActive:
		return next == BudgetDraft || next == BudgetCompleted
	case BudgetCompleted:
		return next == BudgetDraft || next == BudgetCompleted
	}
	return false
}

// =============================================================================
// PROGRESS STATUS - shared by items and sessions
// =============================================================================

type ProgressStatus string

const (
	ProgressPending    ProgressStatus = "pending"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressPending, ProgressInProgress, ProgressCompleted:
		return true
	}
	return false
}

// =============================================================================
// ENTITIES
// =============================================================================

// Budget is a patient-specific quote. Total always mirrors the active items.
type Budget struct {
	ID         BudgetID
	PatientID  PatientID
	DoctorID   DoctorID
	Total      decimal.Decimal
	Status     BudgetStatus
	BudgetType string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BudgetItem is one billable line. Pieza is the optional tooth/body-part locator.
type BudgetItem struct {
	ID        ItemID
	BudgetID  BudgetID
	Pieza     string
	Accion    string
	Valor     decimal.Decimal
	Orden     int
	Status    ProgressStatus
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TreatmentSession is a dated piece of work. BudgetItemID is nil for legacy
// sessions recorded before items were linked.
type TreatmentSession struct {
	ID            SessionID
	PatientID     PatientID
	DoctorID      DoctorID
	BudgetItemID  *ItemID
	ServiceName   string
	ControlAt     time.Time
	NextControlAt *time.Time
	Product       string
	Batch         string
	Dilution      string
	PhotoBefore   string
	PhotoAfter    string
	Descripcion   string
	Status        ProgressStatus
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BudgetView is a budget together with its active items, ordered by Orden.
type BudgetView struct {
	Budget Budget
	Items  []BudgetItem
}

// =============================================================================
// INPUTS
// =============================================================================

// IncomingItem is one entry of a submitted item list. ID <= 0 means "new".
// A nil Orden falls back to the entry's position.
type IncomingItem struct {
	ID     ItemID
	Pieza  string
	Accion string
	Valor  decimal.Decimal
	Orden  *int
}

// SessionInput carries the caller-supplied fields of a new session.
type SessionInput struct {
	ControlAt     time.Time
	NextControlAt *time.Time
	Product       string
	Batch         string
	Dilution      string
	PhotoBefore   string
	PhotoAfter    string
	Descripcion   string
}

// DocumentRef points at a rendered artifact (e.g. a budget PDF) stored elsewhere.
type DocumentRef struct {
	Name string
	URL  string
}

// sumActive returns the total of the active items' values.
func sumActive(items []BudgetItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.IsActive {
			total = total.Add(it.Valor)
		}
	}
	return total
}
