// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/practice-engine/clinic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements clinic.Store and clinic.AuditLog. WithTx works on a copy
// of the state and swaps it in only when fn succeeds.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	budgets  map[clinic.BudgetID]clinic.Budget
	items    map[clinic.ItemID]clinic.BudgetItem
	sessions map[clinic.SessionID]clinic.TreatmentSession
	audit    []clinic.AuditLogEntry
	nextID   int64
}

func NewMemory() *Memory {
	return &Memory{st: &state{
		budgets:  make(map[clinic.BudgetID]clinic.Budget),
		items:    make(map[clinic.ItemID]clinic.BudgetItem),
		sessions: make(map[clinic.SessionID]clinic.TreatmentSession),
	}}
}

func (s *state) clone() *state {
	c := &state{
		budgets:  make(map[clinic.BudgetID]clinic.Budget, len(s.budgets)),
		items:    make(map[clinic.ItemID]clinic.BudgetItem, len(s.items)),
		sessions: make(map[clinic.SessionID]clinic.TreatmentSession, len(s.sessions)),
		audit:    s.audit,
		nextID:   s.nextID,
	}
	for k, v := range s.budgets {
		c.budgets[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// WithTx runs fn against a snapshot; the snapshot replaces the state on success.
func (m *Memory) WithTx(ctx context.Context, fn func(clinic.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	if err := fn(&repo{st: work}); err != nil {
		return err
	}
	m.st = work
	return nil
}

func (m *Memory) read() *repo {
	return &repo{st: m.st}
}

// =============================================================================
// REPOSITORY (outside a transaction)
// =============================================================================

func (m *Memory) InsertBudget(ctx context.Context, b *clinic.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertBudget(ctx, b)
}

func (m *Memory) GetBudget(ctx context.Context, doctorID clinic.DoctorID, id clinic.BudgetID) (*clinic.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetBudget(ctx, doctorID, id)
}

func (m *Memory) LatestBudgetForPatient(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) (*clinic.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LatestBudgetForPatient(ctx, doctorID, patientID)
}

func (m *Memory) FindActiveBudget(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID, exclude clinic.BudgetID) (*clinic.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindActiveBudget(ctx, doctorID, patientID, exclude)
}

func (m *Memory) ListBudgets(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) ([]clinic.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListBudgets(ctx, doctorID, patientID)
}

func (m *Memory) UpdateBudget(ctx context.Context, b clinic.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateBudget(ctx, b)
}

func (m *Memory) DeleteBudget(ctx context.Context, doctorID clinic.DoctorID, id clinic.BudgetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().DeleteBudget(ctx, doctorID, id)
}

func (m *Memory) ListItems(ctx context.Context, budgetID clinic.BudgetID) ([]clinic.BudgetItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListItems(ctx, budgetID)
}

func (m *Memory) GetItem(ctx context.Context, doctorID clinic.DoctorID, id clinic.ItemID) (*clinic.BudgetItem, *clinic.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetItem(ctx, doctorID, id)
}

func (m *Memory) InsertItem(ctx context.Context, it *clinic.BudgetItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertItem(ctx, it)
}

func (m *Memory) UpdateItem(ctx context.Context, it clinic.BudgetItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateItem(ctx, it)
}

func (m *Memory) DeleteItem(ctx context.Context, id clinic.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().DeleteItem(ctx, id)
}

func (m *Memory) ListOpenItems(ctx context.Context, doctorID clinic.DoctorID) ([]clinic.BudgetItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListOpenItems(ctx, doctorID)
}

func (m *Memory) InsertSession(ctx context.Context, s *clinic.TreatmentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertSession(ctx, s)
}

func (m *Memory) GetSession(ctx context.Context, doctorID clinic.DoctorID, id clinic.SessionID) (*clinic.TreatmentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetSession(ctx, doctorID, id)
}

func (m *Memory) ListSessions(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) ([]clinic.TreatmentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListSessions(ctx, doctorID, patientID)
}

func (m *Memory) CountActiveSessions(ctx context.Context, itemID clinic.ItemID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountActiveSessions(ctx, itemID)
}

func (m *Memory) CountSessions(ctx context.Context, itemID clinic.ItemID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountSessions(ctx, itemID)
}

func (m *Memory) CompleteActiveSessions(ctx context.Context, itemID clinic.ItemID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CompleteActiveSessions(ctx, itemID, at)
}

func (m *Memory) ArchiveSession(ctx context.Context, doctorID clinic.DoctorID, id clinic.SessionID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ArchiveSession(ctx, doctorID, id, at)
}

func (m *Memory) PurgeSessionsForItem(ctx context.Context, itemID clinic.ItemID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().PurgeSessionsForItem(ctx, itemID)
}

// =============================================================================
// REPOSITORY (state access, caller holds the lock)
// =============================================================================

type repo struct {
	st *state
}

func (r *repo) InsertBudget(_ context.Context, b *clinic.Budget) error {
	b.ID = clinic.BudgetID(r.st.id())
	r.st.budgets[b.ID] = *b
	return nil
}

func (r *repo) GetBudget(_ context.Context, doctorID clinic.DoctorID, id clinic.BudgetID) (*clinic.Budget, error) {
	b, ok := r.st.budgets[id]
	if !ok || b.DoctorID != doctorID {
		return nil, nil
	}
	return &b, nil
}

func (r *repo) LatestBudgetForPatient(_ context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) (*clinic.Budget, error) {
	var latest *clinic.Budget
	for _, b := range r.st.budgets {
		if b.DoctorID != doctorID || b.PatientID != patientID {
			continue
		}
		if latest == nil || b.ID > latest.ID {
			b := b
			latest = &b
		}
	}
	return latest, nil
}

func (r *repo) FindActiveBudget(_ context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID, exclude clinic.BudgetID) (*clinic.Budget, error) {
	for _, b := range r.st.budgets {
		if b.DoctorID == doctorID && b.PatientID == patientID && b.ID != exclude && b.Status == clinic.BudgetActive {
			return &b, nil
		}
	}
	return nil, nil
}

func (r *repo) ListBudgets(_ context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) ([]clinic.Budget, error) {
	var out []clinic.Budget
	for _, b := range r.st.budgets {
		if b.DoctorID != doctorID || (patientID != 0 && b.PatientID != patientID) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *repo) UpdateBudget(_ context.Context, b clinic.Budget) error {
	cur, ok := r.st.budgets[b.ID]
	if !ok || cur.DoctorID != b.DoctorID {
		return nil
	}
	cur.Status = b.Status
	cur.Total = b.Total
	cur.BudgetType = b.BudgetType
	cur.UpdatedAt = b.UpdatedAt
	r.st.budgets[b.ID] = cur
	return nil
}

func (r *repo) DeleteBudget(_ context.Context, doctorID clinic.DoctorID, id clinic.BudgetID) error {
	b, ok := r.st.budgets[id]
	if !ok || b.DoctorID != doctorID {
		return nil
	}
	for itemID, it := range r.st.items {
		if it.BudgetID != id {
			continue
		}
		r.purge(itemID)
		delete(r.st.items, itemID)
	}
	delete(r.st.budgets, id)
	return nil
}

func (r *repo) ListItems(_ context.Context, budgetID clinic.BudgetID) ([]clinic.BudgetItem, error) {
	var out []clinic.BudgetItem
	for _, it := range r.st.items {
		if it.BudgetID == budgetID && it.IsActive {
			out = append(out, it)
		}
	}
	sortItems(out)
	return out, nil
}

func (r *repo) GetItem(_ context.Context, doctorID clinic.DoctorID, id clinic.ItemID) (*clinic.BudgetItem, *clinic.Budget, error) {
	it, ok := r.st.items[id]
	if !ok {
		return nil, nil, nil
	}
	b, ok := r.st.budgets[it.BudgetID]
	if !ok || b.DoctorID != doctorID {
		return nil, nil, nil
	}
	return &it, &b, nil
}

func (r *repo) InsertItem(_ context.Context, it *clinic.BudgetItem) error {
	it.ID = clinic.ItemID(r.st.id())
	r.st.items[it.ID] = *it
	return nil
}

func (r *repo) UpdateItem(_ context.Context, it clinic.BudgetItem) error {
	cur, ok := r.st.items[it.ID]
	if !ok {
		return nil
	}
	it.BudgetID = cur.BudgetID
	it.CreatedAt = cur.CreatedAt
	r.st.items[it.ID] = it
	return nil
}

func (r *repo) DeleteItem(_ context.Context, id clinic.ItemID) error {
	delete(r.st.items, id)
	return nil
}

func (r *repo) ListOpenItems(_ context.Context, doctorID clinic.DoctorID) ([]clinic.BudgetItem, error) {
	var out []clinic.BudgetItem
	for _, it := range r.st.items {
		b, ok := r.st.budgets[it.BudgetID]
		if !ok || b.DoctorID != doctorID || !it.IsActive || it.Status == clinic.ProgressCompleted {
			continue
		}
		out = append(out, it)
	}
	sortItems(out)
	return out, nil
}

func (r *repo) InsertSession(_ context.Context, s *clinic.TreatmentSession) error {
	s.ID = clinic.SessionID(r.st.id())
	r.st.sessions[s.ID] = *s
	return nil
}

func (r *repo) GetSession(_ context.Context, doctorID clinic.DoctorID, id clinic.SessionID) (*clinic.TreatmentSession, error) {
	s, ok := r.st.sessions[id]
	if !ok || s.DoctorID != doctorID {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) ListSessions(_ context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) ([]clinic.TreatmentSession, error) {
	var out []clinic.TreatmentSession
	for _, s := range r.st.sessions {
		if s.DoctorID == doctorID && s.PatientID == patientID && s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ControlAt.Equal(out[j].ControlAt) {
			return out[i].ControlAt.After(out[j].ControlAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *repo) CountActiveSessions(_ context.Context, itemID clinic.ItemID) (int, error) {
	n := 0
	for _, s := range r.st.sessions {
		if s.IsActive && s.BudgetItemID != nil && *s.BudgetItemID == itemID {
			n++
		}
	}
	return n, nil
}

func (r *repo) CountSessions(_ context.Context, itemID clinic.ItemID) (int, error) {
	n := 0
	for _, s := range r.st.sessions {
		if s.BudgetItemID != nil && *s.BudgetItemID == itemID {
			n++
		}
	}
	return n, nil
}

func (r *repo) CompleteActiveSessions(_ context.Context, itemID clinic.ItemID, at time.Time) (int64, error) {
	var n int64
	for id, s := range r.st.sessions {
		if !s.IsActive || s.BudgetItemID == nil || *s.BudgetItemID != itemID || s.Status == clinic.ProgressCompleted {
			continue
		}
		s.Status = clinic.ProgressCompleted
		s.UpdatedAt = at
		r.st.sessions[id] = s
		n++
	}
	return n, nil
}

func (r *repo) ArchiveSession(_ context.Context, doctorID clinic.DoctorID, id clinic.SessionID, at time.Time) error {
	s, ok := r.st.sessions[id]
	if !ok || s.DoctorID != doctorID {
		return nil
	}
	s.IsActive = false
	s.UpdatedAt = at
	r.st.sessions[id] = s
	return nil
}

func (r *repo) PurgeSessionsForItem(_ context.Context, itemID clinic.ItemID) (int64, error) {
	return r.purge(itemID), nil
}

func (r *repo) purge(itemID clinic.ItemID) int64 {
	var n int64
	for id, s := range r.st.sessions {
		if s.BudgetItemID != nil && *s.BudgetItemID == itemID {
			delete(r.st.sessions, id)
			n++
		}
	}
	return n
}

func sortItems(items []clinic.BudgetItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Orden != items[j].Orden {
			return items[i].Orden < items[j].Orden
		}
		return items[i].ID < items[j].ID
	})
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, e *clinic.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.st.id()
	m.st.audit = append(m.st.audit, *e)
	return nil
}

func (m *Memory) LatestAudit(_ context.Context, changedBy clinic.DoctorID, entity clinic.EntityType, entityID int64, action clinic.AuditAction) (*clinic.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.st.audit) - 1; i >= 0; i-- {
		e := m.st.audit[i]
		if e.ChangedBy == changedBy && e.EntityType == entity && e.EntityID == entityID && e.Action == action {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *Memory) ReplaceAuditValues(_ context.Context, id int64, newValues map[string]any, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.st.audit {
		if m.st.audit[i].ID == id {
			m.st.audit[i].NewValues = newValues
			m.st.audit[i].Notes = notes
			return nil
		}
	}
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, f clinic.AuditFilter) ([]clinic.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []clinic.AuditLogEntry
	for i := len(m.st.audit) - 1; i >= 0; i-- {
		e := m.st.audit[i]
		if !matchAudit(e, f) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func matchAudit(e clinic.AuditLogEntry, f clinic.AuditFilter) bool {
	if f.ChangedBy != 0 && e.ChangedBy != f.ChangedBy {
		return false
	}
	if f.PatientID != nil && e.PatientID != *f.PatientID {
		return false
	}
	if f.EntityType != nil && e.EntityType != *f.EntityType {
		return false
	}
	if f.EntityID != nil && e.EntityID != *f.EntityID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
