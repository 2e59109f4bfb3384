package clinic_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/practice-engine/clinic"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func storedItems() []clinic.BudgetItem {
	return []clinic.BudgetItem{
		{ID: 1, BudgetID: 7, Accion: "A", Valor: money("100"), Orden: 1, Status: clinic.ProgressPending, IsActive: true},
		{ID: 2, BudgetID: 7, Accion: "B", Valor: money("50"), Orden: 2, Status: clinic.ProgressPending, IsActive: true},
	}
}

func TestReconcile_UpdateInsertDelete(t *testing.T) {
	// GIVEN: Stored items A(1) and B(2)
	// WHEN: Submitting [{id:1, accion:A'}, {accion:C}]
	// THEN: 1 is updated, C is inserted, 2 is deleted

	incoming := []clinic.IncomingItem{
		{ID: 1, Accion: "A'", Valor: money("120")},
		{Accion: "C", Valor: money("30"), Pieza: "12"},
	}

	plan, err := clinic.Reconcile(7, incoming, storedItems())
	require.NoError(t, err)

	require.Len(t, plan.ToUpdate, 1)
	assert.Equal(t, clinic.ItemID(1), plan.ToUpdate[0].ID)
	assert.Equal(t, "A'", plan.ToUpdate[0].Accion)
	assert.True(t, plan.ToUpdate[0].Valor.Equal(money("120")))

	require.Len(t, plan.ToInsert, 1)
	assert.Equal(t, "C", plan.ToInsert[0].Accion)
	assert.Equal(t, "12", plan.ToInsert[0].Pieza)
	assert.Equal(t, clinic.BudgetID(7), plan.ToInsert[0].BudgetID)
	assert.Equal(t, 2, plan.ToInsert[0].Orden, "new rows go after the edited ones")
	assert.Equal(t, clinic.ProgressPending, plan.ToInsert[0].Status)

	require.Len(t, plan.ToDelete, 1)
	assert.Equal(t, clinic.ItemID(2), plan.ToDelete[0].ID)
}

func TestReconcile_NewRowsOrderAfterEditedRows(t *testing.T) {
	// GIVEN: Stored item A(1)
	// WHEN: Submitting [{accion:C}, {accion:D}, {id:1, accion:A'}] without orden
	// THEN: A' keeps position 1 and the new rows follow it as 2 and 3

	incoming := []clinic.IncomingItem{
		{Accion: "C", Valor: money("30")},
		{Accion: "D", Valor: money("40")},
		{ID: 1, Accion: "A'", Valor: money("100")},
	}

	plan, err := clinic.Reconcile(7, incoming, storedItems()[:1])
	require.NoError(t, err)

	require.Len(t, plan.ToUpdate, 1)
	assert.Equal(t, 1, plan.ToUpdate[0].Orden)

	require.Len(t, plan.ToInsert, 2)
	assert.Equal(t, "C", plan.ToInsert[0].Accion)
	assert.Equal(t, 2, plan.ToInsert[0].Orden)
	assert.Equal(t, "D", plan.ToInsert[1].Accion)
	assert.Equal(t, 3, plan.ToInsert[1].Orden)
}

func TestReconcile_EmptyIncomingDeletesAll(t *testing.T) {
	plan, err := clinic.Reconcile(7, nil, storedItems())
	require.NoError(t, err)

	assert.Empty(t, plan.ToUpdate)
	assert.Empty(t, plan.ToInsert)
	assert.Len(t, plan.ToDelete, 2)
}

func TestReconcile_OverwritesEveryField(t *testing.T) {
	// Partial updates are not a thing: an omitted pieza clears it.
	existing := storedItems()
	existing[0].Pieza = "21"
	orden := 9

	plan, err := clinic.Reconcile(7, []clinic.IncomingItem{
		{ID: 1, Accion: "A", Valor: money("100"), Orden: &orden},
	}, existing)
	require.NoError(t, err)

	require.Len(t, plan.ToUpdate, 1)
	assert.Equal(t, "", plan.ToUpdate[0].Pieza)
	assert.Equal(t, 9, plan.ToUpdate[0].Orden)
}

func TestReconcile_UnknownIDIsNotFound(t *testing.T) {
	_, err := clinic.Reconcile(7, []clinic.IncomingItem{
		{ID: 99, Accion: "X", Valor: money("10")},
	}, storedItems())

	assert.ErrorIs(t, err, clinic.ErrNotFound)
}

func TestReconcile_RejectsInvalidItems(t *testing.T) {
	tests := []struct {
		name string
		in   clinic.IncomingItem
	}{
		{"empty accion", clinic.IncomingItem{Accion: "  ", Valor: money("10")}},
		{"zero valor", clinic.IncomingItem{Accion: "X", Valor: decimal.Zero}},
		{"negative valor", clinic.IncomingItem{Accion: "X", Valor: money("-5")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := clinic.Reconcile(7, []clinic.IncomingItem{tt.in}, storedItems())
			var verr *clinic.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestReconcile_DuplicateIDRejected(t *testing.T) {
	_, err := clinic.Reconcile(7, []clinic.IncomingItem{
		{ID: 1, Accion: "A", Valor: money("1")},
		{ID: 1, Accion: "A again", Valor: money("2")},
	}, storedItems())

	assert.ErrorIs(t, err, clinic.ErrValidation)
}

func TestSessionLabel(t *testing.T) {
	assert.Equal(t, "Cleaning - Piece 12", clinic.SessionLabel("Cleaning", "12", 1))
	assert.Equal(t, "Cleaning - Piece 12 - Session 2", clinic.SessionLabel("Cleaning", "12", 2))
	assert.Equal(t, "Botox", clinic.SessionLabel("Botox", "", 1))
	assert.Equal(t, "Botox - Session 3", clinic.SessionLabel("Botox", " ", 3))
}

func TestBudgetStatus_Transitions(t *testing.T) {
	assert.True(t, clinic.BudgetDraft.CanTransitionTo(clinic.BudgetActive))
	assert.True(t, clinic.BudgetActive.CanTransitionTo(clinic.BudgetDraft))
	assert.True(t, clinic.BudgetActive.CanTransitionTo(clinic.BudgetCompleted))
	assert.False(t, clinic.BudgetCompleted.CanTransitionTo(clinic.BudgetActive))
	assert.False(t, clinic.BudgetStatus("activo").Valid())
}
