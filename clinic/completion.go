package clinic

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// CompleteItem closes a budget item and returns its value.
//
// Cascade, in order: active sessions -> completed, item -> completed, and the
// budget -> completed once every active item is completed. Calling it again
// on a completed item leaves sessions and audit untouched and only re-runs
// the budget check.
func (e *Engine) CompleteItem(ctx context.Context, doctorID DoctorID, itemID ItemID) (decimal.Decimal, error) {
	if err := validateCaller(doctorID); err != nil {
		return decimal.Zero, err
	}

	now := e.clock()
	var (
		valor      decimal.Decimal
		budgetDone *Budget
		trail      []AuditLogEntry
	)
	err := e.store.WithTx(ctx, func(repo Repository) error {
		it, b, err := ownedItem(ctx, repo, doctorID, itemID)
		if err != nil {
			return err
		}
		valor = it.Valor

		if it.Status != ProgressCompleted {
			n, err := repo.CompleteActiveSessions(ctx, it.ID, now)
			if err != nil {
				return fmt.Errorf("complete sessions of item %d: %w", it.ID, err)
			}
			old := it.Status
			it.Status = ProgressCompleted
			it.UpdatedAt = now
			if err := repo.UpdateItem(ctx, *it); err != nil {
				return fmt.Errorf("complete item %d: %w", it.ID, err)
			}
			trail = append(trail, AuditLogEntry{
				PatientID:  b.PatientID,
				EntityType: EntityItem,
				EntityID:   int64(it.ID),
				Action:     AuditStatusChanged,
				OldValues:  map[string]any{"status": string(old)},
				NewValues: map[string]any{
					"status": string(ProgressCompleted),
					"valor":  it.Valor.StringFixed(2),
				},
				ChangedBy: doctorID,
				Notes:     fmt.Sprintf("item completed, %d sessions closed", n),
			})
		}

		items, err := repo.ListItems(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		if b.Status != BudgetCompleted && allCompleted(items) {
			before := *b
			b.Status = BudgetCompleted
			b.UpdatedAt = now
			if err := repo.UpdateBudget(ctx, *b); err != nil {
				return fmt.Errorf("complete budget %d: %w", b.ID, err)
			}
			budgetDone = b
			trail = append(trail, statusEntry(doctorID, before, *b, "all items completed"))
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	e.record(ctx, trail)
	if budgetDone != nil {
		e.notify(ctx, Notification{
			Kind:      NotifyBudgetCompleted,
			DoctorID:  doctorID,
			PatientID: budgetDone.PatientID,
			BudgetID:  budgetDone.ID,
			Total:     budgetDone.Total.StringFixed(2),
		})
	}
	return valor, nil
}

func allCompleted(items []BudgetItem) bool {
	n := 0
	for _, it := range items {
		if !it.IsActive {
			continue
		}
		if it.Status != ProgressCompleted {
			return false
		}
		n++
	}
	return n > 0
}
