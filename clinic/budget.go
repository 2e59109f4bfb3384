/*
budget.go - Budget aggregate: saves, status transitions, item mutations

PURPOSE:
  Entry point of the lifecycle engine. Every mutating operation:
  1. Runs inside Store.WithTx
  2. Re-checks that the loaded budget belongs to the calling doctor
  3. Recomputes Budget.Total from the active items when items change
  4. Commits, then writes audit entries and notifications (best effort)

STATUS RULES:
  draft     -> active     needs >= 1 item and no other active budget
  active    -> draft      always allowed (sessions are kept)
  *         -> completed  via CompleteItem cascade or Complete override
  draft budgets only      item edits, hard delete

SEE ALSO:
  - reconcile.go: Item diff used by SaveOrUpdate
  - session.go: RegisterSession
  - completion.go: CompleteItem
  - revenue.go: PendingRevenue
*/
package clinic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs the budget / treatment-session lifecycle against a Store.
type Engine struct {
	store    Store
	audit    *Auditor
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewEngine creates an engine. auditLog may be the same value as store.
func NewEngine(store Store, auditLog AuditLog, lg zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		audit:    NewAuditor(auditLog, lg),
		notifier: LogNotifier{Log: lg},
		log:      lg.With().Str("component", "engine").Logger(),
		now:      time.Now,
	}
}

// WithNotifier replaces the default log-only notifier.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithClock overrides the time source (tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.audit.now = now
	return e
}

// Auditor exposes the recorder for history queries.
func (e *Engine) Auditor() *Auditor {
	return e.audit
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// record writes the collected trail after the transaction committed.
func (e *Engine) record(ctx context.Context, trail []AuditLogEntry) {
	for _, entry := range trail {
		e.audit.Record(ctx, entry)
	}
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.log.Warn().Err(err).Str("kind", string(n.Kind)).Int64("budget_id", int64(n.BudgetID)).
			Msg("notification failed")
	}
}

// ownedBudget loads a budget and hides foreign rows behind NotFoundError.
func ownedBudget(ctx context.Context, repo Repository, doctorID DoctorID, id BudgetID) (*Budget, error) {
	b, err := repo.GetBudget(ctx, doctorID, id)
	if err != nil {
		return nil, fmt.Errorf("load budget %d: %w", id, err)
	}
	if b == nil || b.DoctorID != doctorID {
		return nil, notFound(EntityBudget, int64(id))
	}
	return b, nil
}

// ownedItem loads an active item with its budget, enforcing ownership.
func ownedItem(ctx context.Context, repo Repository, doctorID DoctorID, id ItemID) (*BudgetItem, *Budget, error) {
	it, b, err := repo.GetItem(ctx, doctorID, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load item %d: %w", id, err)
	}
	if it == nil || b == nil || b.DoctorID != doctorID || it.BudgetID != b.ID || !it.IsActive {
		return nil, nil, notFound(EntityItem, int64(id))
	}
	return it, b, nil
}

func validateCaller(doctorID DoctorID) error {
	if doctorID <= 0 {
		return &ValidationError{Field: "doctor_id", Message: "caller is not identified"}
	}
	return nil
}

func validateItemFields(prefix, accion string, valor decimal.Decimal) error {
	if strings.TrimSpace(accion) == "" {
		return &ValidationError{Field: prefix + ".accion", Message: "is required"}
	}
	if !valor.IsPositive() {
		return &ValidationError{Field: prefix + ".valor", Message: "must be greater than zero"}
	}
	return nil
}

// =============================================================================
// SAVE / CREATE
// =============================================================================

// SaveOrUpdate writes the full item list of the patient's current budget,
// creating a draft budget when the patient has none.
func (e *Engine) SaveOrUpdate(ctx context.Context, doctorID DoctorID, patientID PatientID,
	budgetType string, items []IncomingItem) (*BudgetView, error) {
	if err := validateCaller(doctorID); err != nil {
		return nil, err
	}
	if patientID <= 0 {
		return nil, &ValidationError{Field: "patient_id", Message: "is required"}
	}
	if err := validateIncoming(items); err != nil {
		return nil, err
	}

	now := e.clock()
	var (
		view  *BudgetView
		trail []AuditLogEntry
	)
	err := e.store.WithTx(ctx, func(repo Repository) error {
		cur, err := repo.LatestBudgetForPatient(ctx, doctorID, patientID)
		if err != nil {
			return fmt.Errorf("load patient budget: %w", err)
		}

		if cur == nil {
			b, created, err := insertBudgetWithItems(ctx, repo, doctorID, patientID, budgetType, items, now)
			if err != nil {
				return err
			}
			view = &BudgetView{Budget: *b, Items: created}
			trail = append(trail, AuditLogEntry{
				PatientID:  patientID,
				EntityType: EntityBudget,
				EntityID:   int64(b.ID),
				Action:     AuditCreated,
				NewValues:  withItemCount(budgetSnapshot(*b), len(created)),
				ChangedBy:  doctorID,
				Notes:      "budget created",
			})
			return nil
		}

		if cur.DoctorID != doctorID {
			return notFound(entityPatientBudget, int64(patientID))
		}
		if cur.Status != BudgetDraft {
			return &InvalidStateError{Entity: EntityBudget, ID: int64(cur.ID), Operation: "edit", Current: string(cur.Status)}
		}

		existing, err := repo.ListItems(ctx, cur.ID)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		plan, err := Reconcile(cur.ID, items, existing)
		if err != nil {
			return err
		}
		final, err := applyPlan(ctx, repo, cur.ID, plan, existing, now)
		if err != nil {
			return err
		}

		before := *cur
		cur.Total = sumActive(final)
		if budgetType != "" {
			cur.BudgetType = budgetType
		}
		cur.UpdatedAt = now
		if err := repo.UpdateBudget(ctx, *cur); err != nil {
			return fmt.Errorf("update budget: %w", err)
		}

		view = &BudgetView{Budget: *cur, Items: final}
		trail = append(trail, AuditLogEntry{
			PatientID:  patientID,
			EntityType: EntityBudget,
			EntityID:   int64(cur.ID),
			Action:     AuditUpdated,
			OldValues:  withItemCount(budgetSnapshot(before), len(existing)),
			NewValues:  withItemCount(budgetSnapshot(*cur), len(final)),
			ChangedBy:  doctorID,
			Notes: fmt.Sprintf("items: %d updated, %d added, %d removed",
				len(plan.ToUpdate), len(plan.ToInsert), len(plan.ToDelete)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, trail)
	return view, nil
}

// CreateBudget opens a new, empty draft for the patient. Older budgets are
// left untouched; SaveOrUpdate then targets the new one.
func (e *Engine) CreateBudget(ctx context.Context, doctorID DoctorID, patientID PatientID, budgetType string) (*Budget, error) {
	if err := validateCaller(doctorID); err != nil {
		return nil, err
	}
	if patientID <= 0 {
		return nil, &ValidationError{Field: "patient_id", Message: "is required"}
	}

	var b *Budget
	err := e.store.WithTx(ctx, func(repo Repository) error {
		var err error
		b, _, err = insertBudgetWithItems(ctx, repo, doctorID, patientID, budgetType, nil, e.clock())
		return err
	})
	if err != nil {
		return nil, err
	}

	e.audit.Record(ctx, AuditLogEntry{
		PatientID:  patientID,
		EntityType: EntityBudget,
		EntityID:   int64(b.ID),
		Action:     AuditCreated,
		NewValues:  budgetSnapshot(*b),
		ChangedBy:  doctorID,
		Notes:      "budget created",
	})
	return b, nil
}

func insertBudgetWithItems(ctx context.Context, repo Repository, doctorID DoctorID, patientID PatientID,
	budgetType string, items []IncomingItem, now time.Time) (*Budget, []BudgetItem, error) {
	b := &Budget{
		PatientID:  patientID,
		DoctorID:   doctorID,
		Total:      decimal.Zero,
		Status:     BudgetDraft,
		BudgetType: budgetType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.InsertBudget(ctx, b); err != nil {
		return nil, nil, fmt.Errorf("insert budget: %w", err)
	}

	created := make([]BudgetItem, 0, len(items))
	for i, in := range items {
		it := BudgetItem{
			BudgetID:  b.ID,
			Pieza:     strings.TrimSpace(in.Pieza),
			Accion:    strings.TrimSpace(in.Accion),
			Valor:     in.Valor,
			Orden:     i + 1,
			Status:    ProgressPending,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if in.Orden != nil {
			it.Orden = *in.Orden
		}
		if err := repo.InsertItem(ctx, &it); err != nil {
			return nil, nil, fmt.Errorf("insert item: %w", err)
		}
		created = append(created, it)
	}

	if len(created) > 0 {
		b.Total = sumActive(created)
		if err := repo.UpdateBudget(ctx, *b); err != nil {
			return nil, nil, fmt.Errorf("update budget total: %w", err)
		}
	}
	return b, created, nil
}

// applyPlan writes a reconcile plan and returns the resulting active items.
// Items referenced by any session, archived or not, keep their stored price.
func applyPlan(ctx context.Context, repo Repository, budgetID BudgetID, plan ReconcilePlan,
	existing []BudgetItem, now time.Time) ([]BudgetItem, error) {
	stored := make(map[ItemID]BudgetItem, len(existing))
	for _, it := range existing {
		stored[it.ID] = it
	}

	for _, upd := range plan.ToUpdate {
		if orig := stored[upd.ID]; !orig.Valor.Equal(upd.Valor) {
			n, err := repo.CountSessions(ctx, upd.ID)
			if err != nil {
				return nil, fmt.Errorf("count sessions of item %d: %w", upd.ID, err)
			}
			if n > 0 {
				upd.Valor = orig.Valor
			}
		}
		upd.UpdatedAt = now
		if err := repo.UpdateItem(ctx, upd); err != nil {
			return nil, fmt.Errorf("update item %d: %w", upd.ID, err)
		}
	}
	for _, ins := range plan.ToInsert {
		ins.CreatedAt = now
		ins.UpdatedAt = now
		if err := repo.InsertItem(ctx, &ins); err != nil {
			return nil, fmt.Errorf("insert item: %w", err)
		}
	}
	for _, del := range plan.ToDelete {
		del.IsActive = false
		del.UpdatedAt = now
		if err := repo.UpdateItem(ctx, del); err != nil {
			return nil, fmt.Errorf("remove item %d: %w", del.ID, err)
		}
	}

	final, err := repo.ListItems(ctx, budgetID)
	if err != nil {
		return nil, fmt.Errorf("reload items: %w", err)
	}
	return final, nil
}

func withItemCount(m map[string]any, n int) map[string]any {
	m["item_count"] = n
	return m
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// Activate turns a draft into the patient's active budget.
func (e *Engine) Activate(ctx context.Context, doctorID DoctorID, budgetID BudgetID) error {
	if err := validateCaller(doctorID); err != nil {
		return err
	}

	var (
		activated *Budget
		trail     []AuditLogEntry
	)
	err := e.store.WithTx(ctx, func(repo Repository) error {
		b, err := ownedBudget(ctx, repo, doctorID, budgetID)
		if err != nil {
			return err
		}
		switch b.Status {
		case BudgetActive:
			return nil
		case BudgetCompleted:
			return &InvalidStateError{Entity: EntityBudget, ID: int64(b.ID), Operation: "activate", Current: string(b.Status)}
		case BudgetDraft:
		default:
			return fmt.Errorf("budget %d has unknown status %q", b.ID, b.Status)
		}

		other, err := repo.FindActiveBudget(ctx, doctorID, b.PatientID, b.ID)
		if err != nil {
			return fmt.Errorf("check active budgets: %w", err)
		}
		if other != nil {
			return &ConflictError{PatientID: b.PatientID, ActiveBudgetID: other.ID}
		}

		items, err := repo.ListItems(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		if len(items) == 0 {
			return &ValidationError{Field: "items", Message: "budget has no items"}
		}

		before := *b
		b.Status = BudgetActive
		b.Total = sumActive(items)
		b.UpdatedAt = e.clock()
		if err := repo.UpdateBudget(ctx, *b); err != nil {
			return fmt.Errorf("activate budget: %w", err)
		}
		activated = b
		trail = append(trail, statusEntry(doctorID, before, *b, "budget activated"))
		return nil
	})
	if err != nil {
		return err
	}

	e.record(ctx, trail)
	if activated != nil {
		e.notify(ctx, Notification{
			Kind:      NotifyBudgetActivated,
			DoctorID:  doctorID,
			PatientID: activated.PatientID,
			BudgetID:  activated.ID,
			Total:     activated.Total.StringFixed(2),
		})
	}
	return nil
}

// RevertToDraft reopens a budget for editing. Registered sessions stay.
func (e *Engine) RevertToDraft(ctx context.Context, doctorID DoctorID, budgetID BudgetID) error {
	_, err := e.setStatus(ctx, doctorID, budgetID, BudgetDraft, "budget reverted to draft")
	return err
}

// Complete force-completes a budget regardless of its items.
func (e *Engine) Complete(ctx context.Context, doctorID DoctorID, budgetID BudgetID) error {
	b, err := e.setStatus(ctx, doctorID, budgetID, BudgetCompleted, "budget completed manually")
	if err != nil {
		return err
	}
	if b != nil {
		e.notify(ctx, Notification{
			Kind:      NotifyBudgetCompleted,
			DoctorID:  doctorID,
			PatientID: b.PatientID,
			BudgetID:  b.ID,
			Total:     b.Total.StringFixed(2),
		})
	}
	return nil
}

// setStatus returns the updated budget, or nil when it already had next.
func (e *Engine) setStatus(ctx context.Context, doctorID DoctorID, budgetID BudgetID,
	next BudgetStatus, note string) (*Budget, error) {
	if err := validateCaller(doctorID); err != nil {
		return nil, err
	}

	var (
		changed *Budget
		trail   []AuditLogEntry
	)
	err := e.store.WithTx(ctx, func(repo Repository) error {
		b, err := ownedBudget(ctx, repo, doctorID, budgetID)
		if err != nil {
			return err
		}
		if b.Status == next {
			return nil
		}
		if !b.Status.CanTransitionTo(next) {
			return &InvalidStateError{Entity: EntityBudget, ID: int64(b.ID), Operation: "move to " + string(next), Current: string(b.Status)}
		}
		before := *b
		b.Status = next
		b.UpdatedAt = e.clock()
		if err := repo.UpdateBudget(ctx, *b); err != nil {
			return fmt.Errorf("update budget status: %w", err)
		}
		changed = b
		trail = append(trail, statusEntry(doctorID, before, *b, note))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, trail)
	return changed, nil
}

func statusEntry(doctorID DoctorID, before, after Budget, note string) AuditLogEntry {
	return AuditLogEntry{
		PatientID:  after.PatientID,
		EntityType: EntityBudget,
		EntityID:   int64(after.ID),
		Action:     AuditStatusChanged,
		OldValues:  map[string]any{"status": string(before.Status)},
		NewValues:  map[string]any{"status": string(after.Status), "total_amount": after.Total.StringFixed(2)},
		ChangedBy:  doctorID,
		Notes:      note,
	}
}

// Delete hard-deletes the patient's current budget. Only drafts can go.
func (e *Engine) Delete(ctx context.Context, doctorID DoctorID, patientID PatientID) error {
	if err := validateCaller(doctorID); err != nil {
		return err
	}

	var trail []AuditLogEntry
	err := e.store.WithTx(ctx, func(repo Repository) error {
		b, err := repo.LatestBudgetForPatient(ctx, doctorID, patientID)
		if err != nil {
			return fmt.Errorf("load patient budget: %w", err)
		}
		if b == nil || b.DoctorID != doctorID {
			return notFound(entityPatientBudget, int64(patientID))
		}
		if b.Status != BudgetDraft {
			return &InvalidStateError{Entity: EntityBudget, ID: int64(b.ID), Operation: "delete", Current: string(b.Status)}
		}
		items, err := repo.ListItems(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		if err := repo.DeleteBudget(ctx, doctorID, b.ID); err != nil {
			return fmt.Errorf("delete budget: %w", err)
		}
		trail = append(trail, AuditLogEntry{
			PatientID:  patientID,
			EntityType: EntityBudget,
			EntityID:   int64(b.ID),
			Action:     AuditDeleted,
			OldValues:  withItemCount(budgetSnapshot(*b), len(items)),
			ChangedBy:  doctorID,
			Notes:      "draft budget deleted",
		})
		return nil
	})
	if err != nil {
		return err
	}
	e.record(ctx, trail)
	return nil
}

// =============================================================================
// ITEM MUTATIONS
// =============================================================================

// AddItem appends one line to a draft budget and returns its id.
func (e *Engine) AddItem(ctx context.Context, doctorID DoctorID, budgetID BudgetID, in IncomingItem) (ItemID, error) {
	if err := validateCaller(doctorID); err != nil {
		return 0, err
	}
	if err := validateItemFields("item", in.Accion, in.Valor); err != nil {
		return 0, err
	}

	now := e.clock()
	var (
		it    BudgetItem
		trail []AuditLogEntry
	)
	err := e.store.WithTx(ctx, func(repo Repository) error {
		b, err := ownedBudget(ctx, repo, doctorID, budgetID)
		if err != nil {
			return err
		}
		if b.Status != BudgetDraft {
			return &InvalidStateError{Entity: EntityBudget, ID: int64(b.ID), Operation: "add item to", Current: string(b.Status)}
		}
		items, err := repo.ListItems(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}

		orden := 1
		for _, x := range items {
			if x.Orden >= orden {
				orden = x.Orden + 1
			}
		}
		if in.Orden != nil {
			orden = *in.Orden
		}
		it = BudgetItem{
			BudgetID:  b.ID,
			Pieza:     strings.TrimSpace(in.Pieza),
			Accion:    strings.TrimSpace(in.Accion),
			Valor:     in.Valor,
			Orden:     orden,
			Status:    ProgressPending,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.InsertItem(ctx, &it); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}

		b.Total = sumActive(append(items, it))
		b.UpdatedAt = now
		if err := repo.UpdateBudget(ctx, *b); err != nil {
			return fmt.Errorf("update budget total: %w", err)
		}
		trail = append(trail, AuditLogEntry{
			PatientID:  b.PatientID,
			EntityType: EntityItem,
			EntityID:   int64(it.ID),
			Action:     AuditCreated,
			NewValues:  itemSnapshot(it),
			ChangedBy:  doctorID,
			Notes:      "item added",
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.record(ctx, trail)
	return it.ID, nil
}

// DeleteItemResult reports the cascade of DeleteItem.
type DeleteItemResult struct {
	SessionsDeleted int64
	NewTotal        decimal.Decimal
}

// DeleteItem hard-deletes an item and purges its sessions, whatever the
// budget status. Soft-deleted items can be purged too.
func (e *Engine) DeleteItem(ctx context.Context, doctorID DoctorID, itemID ItemID) (*DeleteItemResult, error) {
	if err := validateCaller(doctorID); err != nil {
		return nil, err
	}

	var (
		res   DeleteItemResult
		trail []AuditLogEntry
	)
	err := e.store.WithTx(ctx, func(repo Repository) error {
		it, b, err := repo.GetItem(ctx, doctorID, itemID)
		if err != nil {
			return fmt.Errorf("load item %d: %w", itemID, err)
		}
		if it == nil || b == nil || b.DoctorID != doctorID || it.BudgetID != b.ID {
			return notFound(EntityItem, int64(itemID))
		}

		purged, err := repo.PurgeSessionsForItem(ctx, it.ID)
		if err != nil {
			return fmt.Errorf("purge sessions of item %d: %w", it.ID, err)
		}
		if err := repo.DeleteItem(ctx, it.ID); err != nil {
			return fmt.Errorf("delete item %d: %w", it.ID, err)
		}
		items, err := repo.ListItems(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		b.Total = sumActive(items)
		b.UpdatedAt = e.clock()
		if err := repo.UpdateBudget(ctx, *b); err != nil {
			return fmt.Errorf("update budget total: %w", err)
		}

		res = DeleteItemResult{SessionsDeleted: purged, NewTotal: b.Total}
		trail = append(trail, AuditLogEntry{
			PatientID:  b.PatientID,
			EntityType: EntityItem,
			EntityID:   int64(it.ID),
			Action:     AuditDeleted,
			OldValues:  itemSnapshot(*it),
			NewValues:  map[string]any{"budget_total": b.Total.StringFixed(2)},
			ChangedBy:  doctorID,
			Notes:      fmt.Sprintf("item deleted with %d sessions", purged),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, trail)
	return &res, nil
}

// =============================================================================
// READS
// =============================================================================

// GetBudget returns a budget and its active items.
func (e *Engine) GetBudget(ctx context.Context, doctorID DoctorID, budgetID BudgetID) (*BudgetView, error) {
	b, err := ownedBudget(ctx, e.store, doctorID, budgetID)
	if err != nil {
		return nil, err
	}
	return e.view(ctx, b)
}

// GetPatientBudget returns the patient's current budget.
func (e *Engine) GetPatientBudget(ctx context.Context, doctorID DoctorID, patientID PatientID) (*BudgetView, error) {
	b, err := e.store.LatestBudgetForPatient(ctx, doctorID, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient budget: %w", err)
	}
	if b == nil || b.DoctorID != doctorID {
		return nil, notFound(entityPatientBudget, int64(patientID))
	}
	return e.view(ctx, b)
}

// ListBudgets lists the doctor's budgets, optionally for one patient (0 = all).
func (e *Engine) ListBudgets(ctx context.Context, doctorID DoctorID, patientID PatientID) ([]Budget, error) {
	budgets, err := e.store.ListBudgets(ctx, doctorID, patientID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	owned := budgets[:0]
	for _, b := range budgets {
		if b.DoctorID == doctorID {
			owned = append(owned, b)
		}
	}
	return owned, nil
}

func (e *Engine) view(ctx context.Context, b *Budget) (*BudgetView, error) {
	items, err := e.store.ListItems(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	return &BudgetView{Budget: *b, Items: items}, nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// AttachBudgetDocument links a rendered document (typically the budget PDF)
// to the budget's creation record in the audit trail.
func (e *Engine) AttachBudgetDocument(ctx context.Context, doctorID DoctorID, budgetID BudgetID, doc DocumentRef) error {
	if err := validateCaller(doctorID); err != nil {
		return err
	}
	if strings.TrimSpace(doc.URL) == "" {
		return &ValidationError{Field: "url", Message: "is required"}
	}
	b, err := ownedBudget(ctx, e.store, doctorID, budgetID)
	if err != nil {
		return err
	}
	e.audit.MergeIntoCreated(ctx, doctorID, b.PatientID, EntityBudget, int64(b.ID),
		map[string]any{"document_name": doc.Name, "document_url": doc.URL}, "document attached")
	return nil
}
