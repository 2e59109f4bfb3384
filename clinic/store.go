/*
store.go - Persistence interface for budgets, items, sessions and audit

PURPOSE:
  Defines the interface between the lifecycle engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Repository: Row-level reads and writes, every read scoped by DoctorID
  Store:      Repository + WithTx for atomic multi-statement operations
  AuditLog:   Append-only change records (plus the one merge operation)

TENANT SCOPING:
  Lookups take the caller's DoctorID and return nil for rows owned by
  someone else, exactly as for missing rows. The engine re-checks the
  owner on every loaded budget before mutating anything.

MISSING ROWS:
  Get, Latest and Find methods return (nil, nil) when nothing matches. Converting
  that into a NotFoundError is the engine's job.

SESSION DELETION:
  ArchiveSession:       soft delete of one session (is_active = false)
  PurgeSessionsForItem: hard delete of all sessions of an item; only the
                        item deletion cascade calls it

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:     SQLite (single node)
  - store/postgres/postgres.go: PostgreSQL via pgx
  - clinic/store/memory.go:     In-memory for testing

SEE ALSO:
  - budget.go: Uses Store.WithTx for every mutation
  - audit.go: Uses AuditLog after commit
*/
package clinic

import (
	"context"
	"time"
)

// =============================================================================
// REPOSITORY - Row access inside or outside a transaction
// =============================================================================

type Repository interface {
	// InsertBudget stores b and sets b.ID.
	InsertBudget(ctx context.Context, b *Budget) error
	GetBudget(ctx context.Context, doctorID DoctorID, id BudgetID) (*Budget, error)
	// LatestBudgetForPatient returns the most recently created budget of the patient.
	LatestBudgetForPatient(ctx context.Context, doctorID DoctorID, patientID PatientID) (*Budget, error)
	// FindActiveBudget returns the patient's active budget other than exclude.
	FindActiveBudget(ctx context.Context, doctorID DoctorID, patientID PatientID, exclude BudgetID) (*Budget, error)
	// ListBudgets lists the doctor's budgets; patientID 0 means all patients.
	ListBudgets(ctx context.Context, doctorID DoctorID, patientID PatientID) ([]Budget, error)
	// UpdateBudget writes status, total, type and updated_at.
	UpdateBudget(ctx context.Context, b Budget) error
	// DeleteBudget hard-deletes the budget, its items and their sessions.
	DeleteBudget(ctx context.Context, doctorID DoctorID, id BudgetID) error

	// ListItems returns the active items of a budget ordered by orden, id.
	ListItems(ctx context.Context, budgetID BudgetID) ([]BudgetItem, error)
	// GetItem returns the item and its budget, joined on the budget's doctor.
	GetItem(ctx context.Context, doctorID DoctorID, id ItemID) (*BudgetItem, *Budget, error)
	// InsertItem stores it and sets it.ID.
	InsertItem(ctx context.Context, it *BudgetItem) error
	UpdateItem(ctx context.Context, it BudgetItem) error
	DeleteItem(ctx context.Context, id ItemID) error
	// ListOpenItems returns active, not completed items across the doctor's budgets.
	ListOpenItems(ctx context.Context, doctorID DoctorID) ([]BudgetItem, error)

	// InsertSession stores s and sets s.ID.
	InsertSession(ctx context.Context, s *TreatmentSession) error
	GetSession(ctx context.Context, doctorID DoctorID, id SessionID) (*TreatmentSession, error)
	// ListSessions returns the patient's active sessions, newest control date first.
	ListSessions(ctx context.Context, doctorID DoctorID, patientID PatientID) ([]TreatmentSession, error)
	CountActiveSessions(ctx context.Context, itemID ItemID) (int, error)
	// CountSessions counts every session linked to the item, archived ones included.
	CountSessions(ctx context.Context, itemID ItemID) (int, error)
	// CompleteActiveSessions marks active, not yet completed sessions completed.
	CompleteActiveSessions(ctx context.Context, itemID ItemID, at time.Time) (int64, error)
	ArchiveSession(ctx context.Context, doctorID DoctorID, id SessionID, at time.Time) error
	PurgeSessionsForItem(ctx context.Context, itemID ItemID) (int64, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// Store wraps Repository with transaction support.
type Store interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// =============================================================================
// AUDIT LOG - Separate from the business tables, tracks who did what when
// =============================================================================

type AuditAction string

const (
	AuditCreated       AuditAction = "created"
	AuditUpdated       AuditAction = "updated"
	AuditDeleted       AuditAction = "deleted"
	AuditStatusChanged AuditAction = "status_changed"
)

// AuditLogEntry records one meaningful change. Values are JSON-able snapshots.
type AuditLogEntry struct {
	ID         int64
	EventID    string
	PatientID  PatientID
	EntityType EntityType
	EntityID   int64
	Action     AuditAction
	OldValues  map[string]any
	NewValues  map[string]any
	ChangedBy  DoctorID
	CreatedAt  time.Time
	Notes      string
}

type AuditFilter struct {
	ChangedBy  DoctorID
	PatientID  *PatientID
	EntityType *EntityType
	EntityID   *int64
	Actions    []AuditAction
	Limit      int
}

// AuditLog stores audit entries. Append-only apart from ReplaceAuditValues,
// which exists solely for MergeIntoCreated.
type AuditLog interface {
	// AppendAudit stores e and sets e.ID.
	AppendAudit(ctx context.Context, e *AuditLogEntry) error
	LatestAudit(ctx context.Context, changedBy DoctorID, entity EntityType, entityID int64, action AuditAction) (*AuditLogEntry, error)
	ReplaceAuditValues(ctx context.Context, id int64, newValues map[string]any, notes string) error
	// QueryAudit returns matching entries, newest first.
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditLogEntry, error)
}
