package clinic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/practice-engine/clinic"
	"github.com/warp/practice-engine/clinic/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	drHouse  clinic.DoctorID = 1
	drWilson clinic.DoctorID = 2
)

func newTestEngine(t *testing.T) (*clinic.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	clock := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	engine := clinic.NewEngine(mem, mem, zerolog.Nop()).
		WithClock(func() time.Time { return clock })
	return engine, mem
}

func item(accion, pieza, valor string) clinic.IncomingItem {
	return clinic.IncomingItem{Accion: accion, Pieza: pieza, Valor: money(valor)}
}

func saveBudget(t *testing.T, e *clinic.Engine, doctor clinic.DoctorID, patient clinic.PatientID, items ...clinic.IncomingItem) *clinic.BudgetView {
	t.Helper()
	view, err := e.SaveOrUpdate(context.Background(), doctor, patient, "general", items)
	require.NoError(t, err)
	return view
}

type recordingNotifier struct {
	sent []clinic.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg clinic.Notification) error {
	n.sent = append(n.sent, msg)
	return nil
}

// failingAudit rejects every write.
type failingAudit struct{ clinic.AuditLog }

func (failingAudit) AppendAudit(context.Context, *clinic.AuditLogEntry) error {
	return errors.New("audit table is gone")
}

// =============================================================================
// SAVE / TOTALS
// =============================================================================

func TestSaveOrUpdate_CreatesDraftWithTotal(t *testing.T) {
	e, _ := newTestEngine(t)

	view := saveBudget(t, e, drHouse, 10, item("Cleaning", "12", "100.50"), item("Whitening", "", "200"))

	assert.Equal(t, clinic.BudgetDraft, view.Budget.Status)
	assert.Equal(t, drHouse, view.Budget.DoctorID)
	assert.Len(t, view.Items, 2)
	assert.Equal(t, "300.50", view.Budget.Total.StringFixed(2))
	assert.Equal(t, 1, view.Items[0].Orden)
	assert.Equal(t, 2, view.Items[1].Orden)
}

func TestSaveOrUpdate_ReconcilesAndRecomputesTotal(t *testing.T) {
	// GIVEN: A draft with A and B
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("A", "", "100"), item("B", "", "50"))
	a := view.Items[0]

	// WHEN: Editing A, dropping B, adding C
	next, err := e.SaveOrUpdate(ctx, drHouse, 10, "ortho", []clinic.IncomingItem{
		{ID: a.ID, Accion: "A'", Valor: money("110")},
		item("C", "", "25"),
	})
	require.NoError(t, err)

	// THEN: Same budget, reconciled items, total follows
	assert.Equal(t, view.Budget.ID, next.Budget.ID)
	require.Len(t, next.Items, 2)
	assert.Equal(t, "A'", next.Items[0].Accion)
	assert.Equal(t, "C", next.Items[1].Accion)
	assert.Equal(t, "135.00", next.Budget.Total.StringFixed(2))
	assert.Equal(t, "ortho", next.Budget.BudgetType)

	stored, err := e.GetBudget(ctx, drHouse, view.Budget.ID)
	require.NoError(t, err)
	assert.True(t, stored.Budget.Total.Equal(money("135")))
}

func TestSaveOrUpdate_RejectsNonDraft(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("A", "", "100"))
	require.NoError(t, e.Activate(ctx, drHouse, view.Budget.ID))

	_, err := e.SaveOrUpdate(ctx, drHouse, 10, "general", []clinic.IncomingItem{item("B", "", "1")})

	var ise *clinic.InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "active", ise.Current)
}

func TestSaveOrUpdate_FailureLeavesItemsUntouched(t *testing.T) {
	// GIVEN: A draft with one item
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("A", "", "100"))

	// WHEN: The submission references an item that is not in the budget
	_, err := e.SaveOrUpdate(ctx, drHouse, 10, "general", []clinic.IncomingItem{
		item("New", "", "5"),
		{ID: 999, Accion: "Ghost", Valor: money("1")},
	})
	require.ErrorIs(t, err, clinic.ErrNotFound)

	// THEN: Nothing was applied
	stored, err := e.GetBudget(ctx, drHouse, view.Budget.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "A", stored.Items[0].Accion)
	assert.True(t, stored.Budget.Total.Equal(money("100")))
}

func TestAddAndDeleteItem_KeepTotalInSync(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("A", "", "100"))

	id, err := e.AddItem(ctx, drHouse, view.Budget.ID, item("B", "3", "40.25"))
	require.NoError(t, err)

	stored, err := e.GetBudget(ctx, drHouse, view.Budget.ID)
	require.NoError(t, err)
	assert.Equal(t, "140.25", stored.Budget.Total.StringFixed(2))
	assert.Equal(t, 2, stored.Items[1].Orden)

	res, err := e.DeleteItem(ctx, drHouse, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.SessionsDeleted)
	assert.Equal(t, "100.00", res.NewTotal.StringFixed(2))
}

func TestAddItem_RequiresDraft(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("A", "", "100"))
	require.NoError(t, e.Activate(ctx, drHouse, view.Budget.ID))

	_, err := e.AddItem(ctx, drHouse, view.Budget.ID, item("B", "", "1"))
	assert.ErrorIs(t, err, clinic.ErrInvalidState)
}

func TestDeleteItem_PurgesSessions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("A", "", "100"), item("B", "", "60"))
	require.NoError(t, e.Activate(ctx, drHouse, view.Budget.ID))

	itemA := view.Items[0].ID
	for i := 0; i < 2; i++ {
		_, err := e.RegisterSession(ctx, drHouse, 10, itemA, clinic.SessionInput{})
		require.NoError(t, err)
	}

	res, err := e.DeleteItem(ctx, drHouse, itemA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.SessionsDeleted)
	assert.Equal(t, "60.00", res.NewTotal.StringFixed(2))

	sessions, err := e.ListSessions(ctx, drHouse, 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = e.DeleteItem(ctx, drHouse, itemA)
	assert.ErrorIs(t, err, clinic.ErrNotFound)
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func TestActivate_SingleActiveBudgetPerPatient(t *testing.T) {
	// GIVEN: Patient 10 has an active budget and a second draft
	e, _ := newTestEngine(t)
	ctx := context.Background()
	first := saveBudget(t, e, drHouse, 10, item("A", "", "100"))
	require.NoError(t, e.Activate(ctx, drHouse, first.Budget.ID))

	second, err := e.CreateBudget(ctx, drHouse, 10, "general")
	require.NoError(t, err)
	_, err = e.AddItem(ctx, drHouse, second.ID, item("B", "", "10"))
	require.NoError(t, err)

	// WHEN: Activating the second one
	err = e.Activate(ctx, drHouse, second.ID)

	// THEN: Conflict, and the first budget is untouched
	var ce *clinic.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, first.Budget.ID, ce.ActiveBudgetID)

	got, err := e.GetBudget(ctx, drHouse, first.Budget.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.BudgetActive, got.Budget.Status)

	got, err = e.GetBudget(ctx, drHouse, second.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.BudgetDraft, got.Budget.Status)
}

func TestActivate_OtherPatientsDoNotConflict(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := saveBudget(t, e, drHouse, 10, item("A", "", "100"))
	b := saveBudget(t, e, drHouse, 11, item("B", "", "100"))

	require.NoError(t, e.Activate(ctx, drHouse, a.Budget.ID))
	assert.NoError(t, e.Activate(ctx, drHouse, b.Budget.ID))
}

func TestLifecycleScenario_ActivateRevertDelete(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// Draft with zero items cannot be activated
	view := saveBudget(t, e, drHouse, 10)
	err := e.Activate(ctx, drHouse, view.Budget.ID)
	var verr *clinic.ValidationError
	require.ErrorAs(t, err, &verr)

	// One item later it can
	_, err = e.AddItem(ctx, drHouse, view.Budget.ID, item("Cleaning", "", "80"))
	require.NoError(t, err)
	require.NoError(t, e.Activate(ctx, drHouse, view.Budget.ID))

	// Active budgets cannot be deleted
	err = e.Delete(ctx, drHouse, 10)
	require.ErrorIs(t, err, clinic.ErrInvalidState)

	// Back to draft, then delete works
	require.NoError(t, e.RevertToDraft(ctx, drHouse, view.Budget.ID))
	got, err := e.GetBudget(ctx, drHouse, view.Budget.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.BudgetDraft, got.Budget.Status)

	require.NoError(t, e.Delete(ctx, drHouse, 10))
	_, err = e.GetBudget(ctx, drHouse, view.Budget.ID)
	assert.ErrorIs(t, err, clinic.ErrNotFound)
}

func TestComplete_ForceOverride(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	n := &recordingNotifier{}
	e.WithNotifier(n)
	view := saveBudget(t, e, drHouse, 10, item("A", "", "100"))
	require.NoError(t, e.Activate(ctx, drHouse, view.Budget.ID))

	require.NoError(t, e.Complete(ctx, drHouse, view.Budget.ID))

	got, err := e.GetBudget(ctx, drHouse, view.Budget.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.BudgetCompleted, got.Budget.Status)
	assert.Equal(t, clinic.ProgressPending, got.Items[0].Status, "override does not touch items")

	require.Len(t, n.sent, 2)
	assert.Equal(t, clinic.NotifyBudgetActivated, n.sent[0].Kind)
	assert.Equal(t, clinic.NotifyBudgetCompleted, n.sent[1].Kind)

	err = e.Activate(ctx, drHouse, view.Budget.ID)
	assert.ErrorIs(t, err, clinic.ErrInvalidState)
}

// =============================================================================
// TENANT ISOLATION
// =============================================================================

func TestForeignDoctor_SeesNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("A", "", "100"))
	itemID := view.Items[0].ID

	assert.ErrorIs(t, e.Activate(ctx, drWilson, view.Budget.ID), clinic.ErrNotFound)
	assert.ErrorIs(t, e.RevertToDraft(ctx, drWilson, view.Budget.ID), clinic.ErrNotFound)
	assert.ErrorIs(t, e.Complete(ctx, drWilson, view.Budget.ID), clinic.ErrNotFound)
	assert.ErrorIs(t, e.Delete(ctx, drWilson, 10), clinic.ErrNotFound)

	_, err := e.RegisterSession(ctx, drWilson, 10, itemID, clinic.SessionInput{})
	assert.ErrorIs(t, err, clinic.ErrNotFound)
	_, err = e.CompleteItem(ctx, drWilson, itemID)
	assert.ErrorIs(t, err, clinic.ErrNotFound)
	_, err = e.DeleteItem(ctx, drWilson, itemID)
	assert.ErrorIs(t, err, clinic.ErrNotFound)

	// Dr. Wilson's save for the same patient id opens his own budget
	other := saveBudget(t, e, drWilson, 10, item("X", "", "5"))
	assert.NotEqual(t, view.Budget.ID, other.Budget.ID)

	total, err := e.PendingRevenue(ctx, drWilson)
	require.NoError(t, err)
	assert.Equal(t, "5.00", total.StringFixed(2))
}

func TestRegisterSession_PatientMismatchIsNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	view := saveBudget(t, e, drHouse, 10, item("A", "", "100"))

	_, err := e.RegisterSession(context.Background(), drHouse, 99, view.Items[0].ID, clinic.SessionInput{})
	assert.ErrorIs(t, err, clinic.ErrNotFound)
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestRegisterSession_LabelsAndItemProgress(t *testing.T) {
	// GIVEN: Item "Cleaning" on piece 12
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("Cleaning", "12", "100"))
	require.NoError(t, e.Activate(ctx, drHouse, view.Budget.ID))
	itemID := view.Items[0].ID

	// WHEN: Registering two sessions
	first, err := e.RegisterSession(ctx, drHouse, 10, itemID, clinic.SessionInput{Product: "Fluoride"})
	require.NoError(t, err)
	second, err := e.RegisterSession(ctx, drHouse, 10, itemID, clinic.SessionInput{})
	require.NoError(t, err)

	// THEN: Labels follow the session count and the item is in progress
	assert.True(t, first.IsFirstTreatment)
	assert.Equal(t, "Cleaning - Piece 12", first.Session.ServiceName)
	assert.Equal(t, clinic.ProgressInProgress, first.Session.Status)
	assert.True(t, first.Session.IsActive)
	require.NotNil(t, first.Session.BudgetItemID)
	assert.Equal(t, itemID, *first.Session.BudgetItemID)

	assert.False(t, second.IsFirstTreatment)
	assert.Equal(t, "Cleaning - Piece 12 - Session 2", second.Session.ServiceName)

	got, err := e.GetBudget(ctx, drHouse, view.Budget.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.ProgressInProgress, got.Items[0].Status)
}

func TestRegisterSession_StoresDatesInUTC(t *testing.T) {
	// GIVEN: Control dates given in a non-UTC zone
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("Brackets", "", "300"))
	zone := time.FixedZone("UTC-3", -3*60*60)
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, zone)
	next := at.AddDate(0, 0, 7)

	// WHEN: Registering the session
	res, err := e.RegisterSession(ctx, drHouse, 10, view.Items[0].ID, clinic.SessionInput{
		ControlAt:     at,
		NextControlAt: &next,
	})
	require.NoError(t, err)

	// THEN: Both dates come back as the same instants in UTC
	assert.Equal(t, time.UTC, res.Session.ControlAt.Location())
	require.NotNil(t, res.Session.NextControlAt)
	assert.Equal(t, time.UTC, res.Session.NextControlAt.Location())
	assert.True(t, res.Session.NextControlAt.Equal(next))
}

func TestArchiveSession_OnlyActiveSessionsCount(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("Botox", "", "300"))
	itemID := view.Items[0].ID

	first, err := e.RegisterSession(ctx, drHouse, 10, itemID, clinic.SessionInput{})
	require.NoError(t, err)
	require.NoError(t, e.ArchiveSession(ctx, drHouse, first.Session.ID))

	again, err := e.RegisterSession(ctx, drHouse, 10, itemID, clinic.SessionInput{})
	require.NoError(t, err)
	assert.True(t, again.IsFirstTreatment)
	assert.Equal(t, "Botox", again.Session.ServiceName)

	sessions, err := e.ListSessions(ctx, drHouse, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	assert.ErrorIs(t, e.ArchiveSession(ctx, drWilson, again.Session.ID), clinic.ErrNotFound)
}

func TestSaveOrUpdate_PriceLockedOnceSessionsExist(t *testing.T) {
	// GIVEN: Work started on an item, then the budget went back to draft
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("Implant", "36", "900"))
	require.NoError(t, e.Activate(ctx, drHouse, view.Budget.ID))
	it := view.Items[0]
	_, err := e.RegisterSession(ctx, drHouse, 10, it.ID, clinic.SessionInput{})
	require.NoError(t, err)
	require.NoError(t, e.RevertToDraft(ctx, drHouse, view.Budget.ID))

	// WHEN: The editor submits a new price and a new description
	next, err := e.SaveOrUpdate(ctx, drHouse, 10, "", []clinic.IncomingItem{
		{ID: it.ID, Accion: "Implant + crown", Pieza: "36", Valor: money("1500")},
	})
	require.NoError(t, err)

	// THEN: Metadata changed, price did not
	require.Len(t, next.Items, 1)
	assert.Equal(t, "Implant + crown", next.Items[0].Accion)
	assert.True(t, next.Items[0].Valor.Equal(money("900")))
	assert.True(t, next.Budget.Total.Equal(money("900")))
}

func TestSaveOrUpdate_PriceLockedAfterSessionArchived(t *testing.T) {
	// GIVEN: The only session of an item was archived and the budget reverted
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("Cleaning", "", "100"))
	require.NoError(t, e.Activate(ctx, drHouse, view.Budget.ID))
	it := view.Items[0]
	res, err := e.RegisterSession(ctx, drHouse, 10, it.ID, clinic.SessionInput{})
	require.NoError(t, err)
	require.NoError(t, e.ArchiveSession(ctx, drHouse, res.Session.ID))
	require.NoError(t, e.RevertToDraft(ctx, drHouse, view.Budget.ID))

	// WHEN: The editor submits a new price
	next, err := e.SaveOrUpdate(ctx, drHouse, 10, "", []clinic.IncomingItem{
		{ID: it.ID, Accion: "Cleaning", Valor: money("999")},
	})
	require.NoError(t, err)

	// THEN: The archived session still references the item, so the price holds
	require.Len(t, next.Items, 1)
	assert.True(t, next.Items[0].Valor.Equal(money("100")))
	assert.True(t, next.Budget.Total.Equal(money("100")))
}

// =============================================================================
// COMPLETION CASCADE
// =============================================================================

func TestCompleteItem_CascadeBoundary(t *testing.T) {
	// GIVEN: An active 3-item budget
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("A", "", "10"), item("B", "", "20"), item("C", "", "30"))
	require.NoError(t, e.Activate(ctx, drHouse, view.Budget.ID))
	_, err := e.RegisterSession(ctx, drHouse, 10, view.Items[0].ID, clinic.SessionInput{})
	require.NoError(t, err)

	// WHEN: Completing two of three
	for _, it := range view.Items[:2] {
		valor, err := e.CompleteItem(ctx, drHouse, it.ID)
		require.NoError(t, err)
		assert.True(t, valor.Equal(it.Valor))
	}

	// THEN: Budget still active
	got, err := e.GetBudget(ctx, drHouse, view.Budget.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.BudgetActive, got.Budget.Status)

	sessions, err := e.ListSessions(ctx, drHouse, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, clinic.ProgressCompleted, sessions[0].Status)

	// WHEN: Completing the last one
	valor, err := e.CompleteItem(ctx, drHouse, view.Items[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "30.00", valor.StringFixed(2))

	// THEN: Budget completed
	got, err = e.GetBudget(ctx, drHouse, view.Budget.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.BudgetCompleted, got.Budget.Status)
}

func TestCompleteItem_Idempotent(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("A", "", "10"), item("B", "", "20"))
	itemID := view.Items[0].ID
	_, err := e.RegisterSession(ctx, drHouse, 10, itemID, clinic.SessionInput{})
	require.NoError(t, err)

	_, err = e.CompleteItem(ctx, drHouse, itemID)
	require.NoError(t, err)
	_, err = e.CompleteItem(ctx, drHouse, itemID)
	require.NoError(t, err)

	entity := clinic.EntityItem
	id := int64(itemID)
	entries, err := mem.QueryAudit(ctx, clinic.AuditFilter{
		EntityType: &entity,
		EntityID:   &id,
		Actions:    []clinic.AuditAction{clinic.AuditStatusChanged},
	})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "second completion records nothing")
	assert.Equal(t, "10.00", entries[0].NewValues["valor"])
}

// =============================================================================
// REVENUE
// =============================================================================

func TestPendingRevenue_IgnoresBudgetStatus(t *testing.T) {
	// GIVEN: Budget A: $100 pending + $50 completed; budget B (draft): $200 pending
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := saveBudget(t, e, drHouse, 10, item("Pending", "", "100"), item("Done", "", "50"))
	require.NoError(t, e.Activate(ctx, drHouse, a.Budget.ID))
	_, err := e.CompleteItem(ctx, drHouse, a.Items[1].ID)
	require.NoError(t, err)
	saveBudget(t, e, drHouse, 11, item("Other", "", "200"))

	// WHEN / THEN
	total, err := e.PendingRevenue(ctx, drHouse)
	require.NoError(t, err)
	assert.Equal(t, "300.00", total.StringFixed(2))
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAuditFailure_DoesNotFailOperation(t *testing.T) {
	mem := store.NewMemory()
	e := clinic.NewEngine(mem, failingAudit{mem}, zerolog.Nop())
	ctx := context.Background()

	view, err := e.SaveOrUpdate(ctx, drHouse, 10, "general", []clinic.IncomingItem{item("A", "", "10")})
	require.NoError(t, err)
	require.NoError(t, e.Activate(ctx, drHouse, view.Budget.ID))
	_, err = e.RegisterSession(ctx, drHouse, 10, view.Items[0].ID, clinic.SessionInput{})
	require.NoError(t, err)
	_, err = e.CompleteItem(ctx, drHouse, view.Items[0].ID)
	require.NoError(t, err)

	got, err := e.GetBudget(ctx, drHouse, view.Budget.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.BudgetCompleted, got.Budget.Status)
}

func TestAuditor_RecordResult(t *testing.T) {
	ctx := context.Background()
	ok := clinic.NewAuditor(store.NewMemory(), zerolog.Nop()).
		Record(ctx, clinic.AuditLogEntry{EntityType: clinic.EntityBudget, EntityID: 1, Action: clinic.AuditCreated})
	assert.True(t, ok.OK())
	assert.NotEmpty(t, ok.Entry.EventID)

	failed := clinic.NewAuditor(failingAudit{store.NewMemory()}, zerolog.Nop()).
		Record(ctx, clinic.AuditLogEntry{EntityType: clinic.EntityBudget, EntityID: 1, Action: clinic.AuditCreated})
	assert.False(t, failed.OK())
}

func TestAttachBudgetDocument_MergesIntoCreatedEntry(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	view := saveBudget(t, e, drHouse, 10, item("A", "", "10"))

	err := e.AttachBudgetDocument(ctx, drHouse, view.Budget.ID, clinic.DocumentRef{Name: "budget.pdf", URL: "s3://docs/budget.pdf"})
	require.NoError(t, err)

	entity := clinic.EntityBudget
	id := int64(view.Budget.ID)
	history, err := e.Auditor().History(ctx, drHouse, clinic.AuditFilter{EntityType: &entity, EntityID: &id})
	require.NoError(t, err)
	require.Len(t, history, 1, "no duplicate created entry")
	assert.Equal(t, clinic.AuditCreated, history[0].Action)
	assert.Equal(t, "s3://docs/budget.pdf", history[0].NewValues["document_url"])
	assert.Equal(t, "draft", history[0].NewValues["status"])

	err = e.AttachBudgetDocument(ctx, drWilson, view.Budget.ID, clinic.DocumentRef{URL: "x"})
	assert.ErrorIs(t, err, clinic.ErrNotFound)
}

func TestHistory_ScopedToDoctor(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	saveBudget(t, e, drHouse, 10, item("A", "", "10"))
	saveBudget(t, e, drWilson, 20, item("B", "", "10"))

	history, err := e.Auditor().History(ctx, drHouse, clinic.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, clinic.PatientID(10), history[0].PatientID)
}
