/*
reconcile.go - Diffing a submitted item list against the stored items

PURPOSE:
  The budget editor submits the complete list of lines every time. Reconcile
  turns that list into an update/insert/delete plan against what is stored.

RULES:
  - ID > 0:      edit of an existing row, every field overwritten; a
                 missing Orden numbers edited rows 1..n in submission order
  - ID <= 0:     new row; a missing Orden places it after the edited rows
  - not present: existing row is deleted (soft delete when applied)
  - An ID that does not belong to the budget is reported as not found.

  Reconcile is pure. Applying the plan (and recomputing the total) happens
  in one transaction in budget.go. There is no version check: when two
  editors save the same budget, the last commit wins.

SEE ALSO:
  - budget.go: applyPlan
*/
package clinic

import (
	"fmt"
	"strings"
)

// ReconcilePlan is the outcome of Reconcile. Items in ToUpdate and ToDelete
// carry their stored IDs; ToInsert items have ID 0.
type ReconcilePlan struct {
	ToUpdate []BudgetItem
	ToInsert []BudgetItem
	ToDelete []BudgetItem
}

// Empty reports whether applying the plan would change nothing.
func (p ReconcilePlan) Empty() bool {
	return len(p.ToUpdate) == 0 && len(p.ToInsert) == 0 && len(p.ToDelete) == 0
}

// Reconcile computes the plan that turns existing into incoming.
func Reconcile(budgetID BudgetID, incoming []IncomingItem, existing []BudgetItem) (ReconcilePlan, error) {
	var plan ReconcilePlan

	stored := make(map[ItemID]BudgetItem, len(existing))
	for _, it := range existing {
		stored[it.ID] = it
	}

	if err := validateIncoming(incoming); err != nil {
		return plan, err
	}

	kept := make(map[ItemID]bool, len(incoming))
	edited := 0
	for i, in := range incoming {
		if in.ID <= 0 {
			continue
		}
		if kept[in.ID] {
			return plan, &ValidationError{Field: fmt.Sprintf("items[%d].id", i), Message: "duplicate item id"}
		}
		cur, ok := stored[in.ID]
		if !ok {
			return plan, notFound(EntityItem, int64(in.ID))
		}
		kept[in.ID] = true
		edited++

		cur.Pieza = strings.TrimSpace(in.Pieza)
		cur.Accion = strings.TrimSpace(in.Accion)
		cur.Valor = in.Valor
		cur.Orden = edited
		if in.Orden != nil {
			cur.Orden = *in.Orden
		}
		plan.ToUpdate = append(plan.ToUpdate, cur)
	}

	next := len(plan.ToUpdate)
	for _, in := range incoming {
		if in.ID > 0 {
			continue
		}
		next++
		it := BudgetItem{
			BudgetID: budgetID,
			Pieza:    strings.TrimSpace(in.Pieza),
			Accion:   strings.TrimSpace(in.Accion),
			Valor:    in.Valor,
			Orden:    next,
			Status:   ProgressPending,
			IsActive: true,
		}
		if in.Orden != nil {
			it.Orden = *in.Orden
		}
		plan.ToInsert = append(plan.ToInsert, it)
	}

	for _, it := range existing {
		if !kept[it.ID] {
			plan.ToDelete = append(plan.ToDelete, it)
		}
	}

	return plan, nil
}

func validateIncoming(incoming []IncomingItem) error {
	for i, in := range incoming {
		if err := validateItemFields(fmt.Sprintf("items[%d]", i), in.Accion, in.Valor); err != nil {
			return err
		}
	}
	return nil
}
