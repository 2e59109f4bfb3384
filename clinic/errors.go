/*
errors.go - Centralized error types for the lifecycle engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match on the sentinels with errors.Is and read details from the
  structured types with errors.As.

ERROR CATEGORIES:
  1. Not found     - Entity absent OR owned by another doctor (merged on purpose)
  2. Invalid state - Operation not legal for the current status
  3. Conflict      - Would break the single-active-budget rule
  4. Validation    - Structural precondition missing (empty list, bad value)

  Anything else is an unexpected storage failure and maps to an internal error.
  Audit failures never reach callers (see audit.go).

USAGE:
  if errors.Is(err, clinic.ErrInvalidState) {
      var ise *clinic.InvalidStateError
      errors.As(err, &ise) // ise.Current tells the user why
  }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package clinic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an entity is missing or belongs to another doctor.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when the entity's status forbids the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict is returned when a patient already has an active budget.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned when input fails a structural precondition.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// EntityType names the kinds of records the engine touches.
type EntityType string

const (
	EntityBudget   EntityType = "budget"
	EntityItem     EntityType = "budget_item"
	EntitySession  EntityType = "treatment"
	EntityDocument EntityType = "document"

	// entityPatientBudget only appears in errors: "no budget for patient N".
	entityPatientBudget EntityType = "budget for patient"
)

// NotFoundError deliberately carries no owner information.
type NotFoundError struct {
	Entity EntityType
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// InvalidStateError reports the status that blocked the operation.
type InvalidStateError struct {
	Entity    EntityType
	ID        int64
	Operation string
	Current   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %d: status is %s", e.Operation, e.Entity, e.ID, e.Current)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// ConflictError names the budget that is already active for the patient.
type ConflictError struct {
	PatientID      PatientID
	ActiveBudgetID BudgetID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("patient %d already has active budget %d", e.PatientID, e.ActiveBudgetID)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// ValidationError describes a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func notFound(entity EntityType, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is one of the expected, typed failures.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing (or foreign) resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
