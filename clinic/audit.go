/*
audit.go - Best-effort audit recorder

PURPOSE:
  Writes one AuditLogEntry per meaningful mutation. The engine calls it
  after the business transaction has committed, so a failed audit write can
  never roll back or fail the user-facing operation. Failures are logged
  and handed back in an AuditResult that callers are free to ignore.

MERGE:
  When a derived artifact (a budget PDF) is produced after the budget was
  created, MergeIntoCreated folds its reference into the existing "created"
  entry instead of recording a second creation.

SEE ALSO:
  - store.go: AuditLog interface
*/
package clinic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditResult reports what happened to one audit write.
type AuditResult struct {
	Entry *AuditLogEntry
	Err   error
}

// OK reports whether the entry was persisted.
func (r AuditResult) OK() bool { return r.Err == nil }

// Auditor records audit entries without ever propagating failures.
type Auditor struct {
	log AuditLog
	lg  zerolog.Logger
	now func() time.Time
}

func NewAuditor(log AuditLog, lg zerolog.Logger) *Auditor {
	return &Auditor{log: log, lg: lg.With().Str("component", "audit").Logger(), now: time.Now}
}

// Record appends e. EventID and CreatedAt are filled in when empty.
func (a *Auditor) Record(ctx context.Context, e AuditLogEntry) AuditResult {
	if a == nil || a.log == nil {
		return AuditResult{}
	}
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.now().UTC()
	}
	if err := a.log.AppendAudit(ctx, &e); err != nil {
		a.lg.Error().Err(err).
			Str("entity_type", string(e.EntityType)).
			Int64("entity_id", e.EntityID).
			Str("action", string(e.Action)).
			Int64("changed_by", int64(e.ChangedBy)).
			Msg("audit write failed")
		return AuditResult{Entry: &e, Err: err}
	}
	return AuditResult{Entry: &e}
}

// MergeIntoCreated adds values to the entity's latest "created" entry. When no
// such entry exists a fresh "updated" entry is appended instead.
func (a *Auditor) MergeIntoCreated(ctx context.Context, doctorID DoctorID, patientID PatientID,
	entity EntityType, entityID int64, values map[string]any, notes string) AuditResult {
	if a == nil || a.log == nil {
		return AuditResult{}
	}

	prior, err := a.log.LatestAudit(ctx, doctorID, entity, entityID, AuditCreated)
	if err != nil {
		a.lg.Error().Err(err).Str("entity_type", string(entity)).Int64("entity_id", entityID).
			Msg("audit lookup failed")
		return AuditResult{Err: err}
	}
	if prior == nil {
		return a.Record(ctx, AuditLogEntry{
			PatientID:  patientID,
			EntityType: entity,
			EntityID:   entityID,
			Action:     AuditUpdated,
			NewValues:  values,
			ChangedBy:  doctorID,
			Notes:      notes,
		})
	}

	merged := make(map[string]any, len(prior.NewValues)+len(values))
	for k, v := range prior.NewValues {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	if notes == "" {
		notes = prior.Notes
	}
	if err := a.log.ReplaceAuditValues(ctx, prior.ID, merged, notes); err != nil {
		a.lg.Error().Err(err).Int64("audit_id", prior.ID).Msg("audit merge failed")
		return AuditResult{Entry: prior, Err: err}
	}
	prior.NewValues = merged
	prior.Notes = notes
	return AuditResult{Entry: prior}
}

// History returns the doctor's audit entries matching filter, newest first.
func (a *Auditor) History(ctx context.Context, doctorID DoctorID, filter AuditFilter) ([]AuditLogEntry, error) {
	filter.ChangedBy = doctorID
	switch {
	case filter.Limit <= 0:
		filter.Limit = 100
	case filter.Limit > 500:
		filter.Limit = 500
	}
	return a.log.QueryAudit(ctx, filter)
}

// =============================================================================
// SNAPSHOTS - what goes into OldValues / NewValues
// =============================================================================

func budgetSnapshot(b Budget) map[string]any {
	return map[string]any{
		"patient_id":   int64(b.PatientID),
		"status":       string(b.Status),
		"budget_type":  b.BudgetType,
		"total_amount": b.Total.StringFixed(2),
	}
}

func itemSnapshot(it BudgetItem) map[string]any {
	return map[string]any{
		"budget_id": int64(it.BudgetID),
		"pieza":     it.Pieza,
		"accion":    it.Accion,
		"valor":     it.Valor.StringFixed(2),
		"orden":     it.Orden,
		"status":    string(it.Status),
	}
}

func sessionSnapshot(s TreatmentSession) map[string]any {
	m := map[string]any{
		"service_name": s.ServiceName,
		"control_at":   s.ControlAt.UTC().Format(time.RFC3339),
		"status":       string(s.Status),
	}
	if s.BudgetItemID != nil {
		m["budget_item_id"] = int64(*s.BudgetItemID)
	}
	if s.Product != "" {
		m["product"] = s.Product
	}
	return m
}
