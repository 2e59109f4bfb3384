package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/practice-engine/clinic"
	"github.com/warp/practice-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T) (*clinic.Engine, *sqlite.Store) {
	store := newTestStore(t)
	return clinic.NewEngine(store, store, zerolog.Nop()), store
}

func line(accion, valor string) clinic.IncomingItem {
	return clinic.IncomingItem{Accion: accion, Valor: decimal.RequireFromString(valor)}
}

// =============================================================================
// ROW ROUND TRIPS
// =============================================================================

func TestStore_BudgetAndItemsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	b := clinic.Budget{PatientID: 10, DoctorID: 1, Total: decimal.Zero, Status: clinic.BudgetDraft,
		BudgetType: "ortho", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertBudget(ctx, &b))
	require.NotZero(t, b.ID)

	it := clinic.BudgetItem{BudgetID: b.ID, Pieza: "12", Accion: "Cleaning", Valor: decimal.RequireFromString("99.95"),
		Orden: 1, Status: clinic.ProgressPending, IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertItem(ctx, &it))

	gotItem, gotBudget, err := store.GetItem(ctx, 1, it.ID)
	require.NoError(t, err)
	require.NotNil(t, gotItem)
	assert.Equal(t, "12", gotItem.Pieza)
	assert.True(t, gotItem.Valor.Equal(decimal.RequireFromString("99.95")))
	assert.True(t, gotItem.IsActive)
	assert.True(t, now.Equal(gotItem.CreatedAt))
	assert.Equal(t, b.ID, gotBudget.ID)
	assert.Equal(t, "ortho", gotBudget.BudgetType)

	// Another doctor cannot see it
	gotItem, gotBudget, err = store.GetItem(ctx, 2, it.ID)
	require.NoError(t, err)
	assert.Nil(t, gotItem)
	assert.Nil(t, gotBudget)
}

func TestStore_SingleActiveIndexBacksTheEngine(t *testing.T) {
	// GIVEN: An active budget for patient 10
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := clinic.Budget{PatientID: 10, DoctorID: 1, Total: decimal.Zero, Status: clinic.BudgetActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertBudget(ctx, &first))

	second := clinic.Budget{PatientID: 10, DoctorID: 1, Total: decimal.Zero, Status: clinic.BudgetDraft, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertBudget(ctx, &second))

	// WHEN: Writing a second active row directly, bypassing the engine check
	second.Status = clinic.BudgetActive
	err := store.UpdateBudget(ctx, second)

	// THEN: The unique index rejects it as a conflict
	assert.ErrorIs(t, err, clinic.ErrConflict)
}

func TestStore_MalformedTimestampIsAnError(t *testing.T) {
	// GIVEN: A budget whose created_at was damaged outside the store
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "practice.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := clinic.NewEngine(store, store, zerolog.Nop())
	view, err := e.SaveOrUpdate(ctx, 1, 10, "general", []clinic.IncomingItem{line("Cleaning", "100")})
	require.NoError(t, err)

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, `UPDATE budgets SET created_at = 'yesterday' WHERE id = ?`, int64(view.Budget.ID))
	require.NoError(t, err)

	// WHEN: Reading it back
	_, err = store.GetBudget(ctx, 1, view.Budget.ID)

	// THEN: The read fails instead of returning a zero time
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse timestamp")
}

func TestStore_WithTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := store.WithTx(ctx, func(repo clinic.Repository) error {
		b := clinic.Budget{PatientID: 10, DoctorID: 1, Total: decimal.Zero, Status: clinic.BudgetDraft, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, repo.InsertBudget(ctx, &b))
		return clinic.ErrValidation
	})
	require.ErrorIs(t, err, clinic.ErrValidation)

	budgets, err := store.ListBudgets(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, budgets)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngine_FullLifecycleOnSQLite(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	view, err := e.SaveOrUpdate(ctx, 1, 10, "general", []clinic.IncomingItem{
		{Accion: "Cleaning", Pieza: "12", Valor: decimal.RequireFromString("100")},
		line("Whitening", "50.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, "150.50", view.Budget.Total.StringFixed(2))

	// Edit: drop whitening, add filling
	view, err = e.SaveOrUpdate(ctx, 1, 10, "general", []clinic.IncomingItem{
		{ID: view.Items[0].ID, Accion: "Cleaning", Pieza: "12", Valor: decimal.RequireFromString("100")},
		line("Filling", "80"),
	})
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "180.00", view.Budget.Total.StringFixed(2))

	require.NoError(t, e.Activate(ctx, 1, view.Budget.ID))

	cleaning := view.Items[0].ID
	first, err := e.RegisterSession(ctx, 1, 10, cleaning, clinic.SessionInput{
		ControlAt: time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC),
		Product:   "Fluoride",
		Batch:     "L-2231",
	})
	require.NoError(t, err)
	assert.Equal(t, "Cleaning - Piece 12", first.Session.ServiceName)
	second, err := e.RegisterSession(ctx, 1, 10, cleaning, clinic.SessionInput{})
	require.NoError(t, err)
	assert.Equal(t, "Cleaning - Piece 12 - Session 2", second.Session.ServiceName)

	pending, err := e.PendingRevenue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "180.00", pending.StringFixed(2))

	_, err = e.CompleteItem(ctx, 1, cleaning)
	require.NoError(t, err)
	valor, err := e.CompleteItem(ctx, 1, view.Items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "80.00", valor.StringFixed(2))

	got, err := e.GetBudget(ctx, 1, view.Budget.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.BudgetCompleted, got.Budget.Status)

	sessions, err := e.ListSessions(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, clinic.ProgressCompleted, s.Status)
	}

	pending, err = e.PendingRevenue(ctx, 1)
	require.NoError(t, err)
	assert.True(t, pending.IsZero())
}

func TestEngine_DeleteItemPurgesSessionsOnSQLite(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	view, err := e.SaveOrUpdate(ctx, 1, 10, "", []clinic.IncomingItem{line("A", "10"), line("B", "20")})
	require.NoError(t, err)
	_, err = e.RegisterSession(ctx, 1, 10, view.Items[0].ID, clinic.SessionInput{})
	require.NoError(t, err)

	res, err := e.DeleteItem(ctx, 1, view.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.SessionsDeleted)
	assert.Equal(t, "20.00", res.NewTotal.StringFixed(2))
}

func TestEngine_DeleteDraftBudgetRemovesRows(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	view, err := e.SaveOrUpdate(ctx, 1, 10, "", []clinic.IncomingItem{line("A", "10")})
	require.NoError(t, err)
	require.NoError(t, e.Delete(ctx, 1, 10))

	items, err := store.ListItems(ctx, view.Budget.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	b, err := store.GetBudget(ctx, 1, view.Budget.ID)
	require.NoError(t, err)
	assert.Nil(t, b)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAudit_AppendMergeQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	auditor := clinic.NewAuditor(store, zerolog.Nop())

	res := auditor.Record(ctx, clinic.AuditLogEntry{
		PatientID:  10,
		EntityType: clinic.EntityBudget,
		EntityID:   5,
		Action:     clinic.AuditCreated,
		NewValues:  map[string]any{"status": "draft"},
		ChangedBy:  1,
		Notes:      "budget created",
	})
	require.True(t, res.OK())

	merged := auditor.MergeIntoCreated(ctx, 1, 10, clinic.EntityBudget, 5, map[string]any{"document_url": "s3://a.pdf"}, "")
	require.True(t, merged.OK())

	entries, err := auditor.History(ctx, 1, clinic.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "draft", entries[0].NewValues["status"])
	assert.Equal(t, "s3://a.pdf", entries[0].NewValues["document_url"])
	assert.Equal(t, "budget created", entries[0].Notes)
	assert.Nil(t, entries[0].OldValues)
	assert.NotEmpty(t, entries[0].EventID)

	others, err := auditor.History(ctx, 2, clinic.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, others)
}
