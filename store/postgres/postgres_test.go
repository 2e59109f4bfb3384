package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/practice-engine/clinic"
	"github.com/warp/practice-engine/store/postgres"
)

// These tests need a disposable database:
//
//	PRACTICE_TEST_DATABASE_URL=postgres://localhost:5432/practice_test?sslmode=disable go test ./store/postgres/
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("PRACTICE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PRACTICE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := postgres.New(ctx, url, 4, 0)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_PingAndRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	b := clinic.Budget{PatientID: 10, DoctorID: 1, Total: decimal.RequireFromString("12.50"), Status: clinic.BudgetDraft,
		CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertBudget(ctx, &b))

	got, err := store.GetBudget(ctx, 1, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "12.50", got.Total.StringFixed(2))
	assert.True(t, now.Equal(got.CreatedAt))

	missing, err := store.GetBudget(ctx, 2, b.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_SingleActiveIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := clinic.Budget{PatientID: 10, DoctorID: 1, Total: decimal.Zero, Status: clinic.BudgetActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertBudget(ctx, &first))

	second := clinic.Budget{PatientID: 10, DoctorID: 1, Total: decimal.Zero, Status: clinic.BudgetActive, CreatedAt: now, UpdatedAt: now}
	err := store.InsertBudget(ctx, &second)

	assert.ErrorIs(t, err, clinic.ErrConflict)
}

func TestEngine_LifecycleOnPostgres(t *testing.T) {
	store := newTestStore(t)
	e := clinic.NewEngine(store, store, zerolog.Nop())
	ctx := context.Background()

	view, err := e.SaveOrUpdate(ctx, 1, 10, "", []clinic.IncomingItem{
		{Accion: "Cleaning", Pieza: "12", Valor: decimal.RequireFromString("100")},
		{Accion: "Filling", Valor: decimal.RequireFromString("80.25")},
	})
	require.NoError(t, err)
	assert.Equal(t, "180.25", view.Budget.Total.StringFixed(2))

	require.NoError(t, e.Activate(ctx, 1, view.Budget.ID))

	res, err := e.RegisterSession(ctx, 1, 10, view.Items[0].ID, clinic.SessionInput{})
	require.NoError(t, err)
	assert.True(t, res.IsFirstTreatment)

	for _, it := range view.Items {
		_, err := e.CompleteItem(ctx, 1, it.ID)
		require.NoError(t, err)
	}

	got, err := e.GetBudget(ctx, 1, view.Budget.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.BudgetCompleted, got.Budget.Status)

	history, err := e.Auditor().History(ctx, 1, clinic.AuditFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}
