/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements clinic.Store and clinic.AuditLog using SQLite. The PostgreSQL
  implementation in store/postgres follows the same statements with the
  dialect differences (placeholders, NUMERIC money, RETURNING).

INTERFACES IMPLEMENTED:
  clinic.Store:    Budgets, items, treatment sessions (+ WithTx)
  clinic.AuditLog: Audit entries

KEY TABLES:
  budgets:      One row per quote/plan, owned by doctor_id
  budget_items: Lines of a budget (soft delete via is_active)
  treatments:   Sessions; budget_item_id is nullable for legacy rows
  audit_logs:   Change records, JSON snapshots in old_values/new_values

INDEXES:
  - idx_budgets_single_active: at most one active budget per patient+doctor
  - idx_budgets_doctor_patient: current-budget lookups (hot path)
  - idx_items_budget:           item lists and totals
  - idx_treatments_item:        session counts for labels
  - idx_audit_entity:           history per entity

MONEY:
  Stored as TEXT and scanned straight into decimal.Decimal. Sums are done
  in Go; SQLite's SUM() would go through floating point.

CONCURRENCY:
  WithTx serializes writers with sync.RWMutex on top of SQLite's own
  locking. ":memory:" databases are pinned to one connection, otherwise
  every pooled connection would see a different empty database.

USAGE:
  store, err := sqlite.New("./data/practice.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := clinic.NewEngine(store, store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - clinic/store.go: Interface definitions
  - clinic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/practice-engine/clinic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	*repo
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{repo: &repo{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection (used by the health endpoint).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS budgets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id INTEGER NOT NULL,
		doctor_id INTEGER NOT NULL,
		total_amount TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'draft'
			CHECK (status IN ('draft', 'active', 'completed')),
		budget_type TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: a patient has at most one active budget per doctor
	CREATE UNIQUE INDEX IF NOT EXISTS idx_budgets_single_active
		ON budgets(patient_id, doctor_id) WHERE status = 'active';

	CREATE INDEX IF NOT EXISTS idx_budgets_doctor_patient
		ON budgets(doctor_id, patient_id, id DESC);

	CREATE TABLE IF NOT EXISTS budget_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		budget_id INTEGER NOT NULL REFERENCES budgets(id) ON DELETE CASCADE,
		pieza TEXT NOT NULL DEFAULT '',
		accion TEXT NOT NULL,
		valor TEXT NOT NULL,
		orden INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'in_progress', 'completed')),
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_budget
		ON budget_items(budget_id, is_active, orden);

	-- Sessions are only removed through the item deletion cascade
	CREATE TABLE IF NOT EXISTS treatments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id INTEGER NOT NULL,
		doctor_id INTEGER NOT NULL,
		budget_item_id INTEGER REFERENCES budget_items(id),
		service_name TEXT NOT NULL,
		control_at TEXT NOT NULL,
		next_control_at TEXT,
		product TEXT NOT NULL DEFAULT '',
		batch TEXT NOT NULL DEFAULT '',
		dilution TEXT NOT NULL DEFAULT '',
		photo_before TEXT NOT NULL DEFAULT '',
		photo_after TEXT NOT NULL DEFAULT '',
		descripcion TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'in_progress', 'completed')),
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_treatments_item
		ON treatments(budget_item_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_treatments_patient
		ON treatments(doctor_id, patient_id, control_at DESC);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		patient_id INTEGER NOT NULL DEFAULT 0,
		entity_type TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		action TEXT NOT NULL
			CHECK (action IN ('created', 'updated', 'deleted', 'status_changed')),
		old_values TEXT,
		new_values TEXT,
		changed_by INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_logs(entity_type, entity_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_changed_by
		ON audit_logs(changed_by, id DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(clinic.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset deletes every row. Used by demo scenarios only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM treatments;
		DELETE FROM budget_items;
		DELETE FROM budgets;
		DELETE FROM audit_logs;`)
	return err
}

// =============================================================================
// REPOSITORY - shared by *sql.DB and *sql.Tx
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type repo struct {
	q queryer
}

const budgetColumns = `b.id, b.patient_id, b.doctor_id, b.total_amount, b.status, b.budget_type, b.created_at, b.updated_at`

const itemColumns = `i.id, i.budget_id, i.pieza, i.accion, i.valor, i.orden, i.status, i.is_active, i.created_at, i.updated_at`

const sessionColumns = `t.id, t.patient_id, t.doctor_id, t.budget_item_id, t.service_name, t.control_at, t.next_control_at,
	t.product, t.batch, t.dilution, t.photo_before, t.photo_after, t.descripcion, t.status, t.is_active,
	t.created_at, t.updated_at`

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// parseStamps parses a created_at/updated_at pair.
func parseStamps(created, updated string) (time.Time, time.Time, error) {
	c, err := parseTS(created)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	u, err := parseTS(updated)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return c, u, nil
}

// ===== budgets =====

func (r *repo) InsertBudget(ctx context.Context, b *clinic.Budget) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO budgets (patient_id, doctor_id, total_amount, status, budget_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.PatientID, b.DoctorID, b.Total.String(), string(b.Status), b.BudgetType, ts(b.CreatedAt), ts(b.UpdatedAt))
	if err != nil {
		return mapConstraint(err, b)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = clinic.BudgetID(id)
	return nil
}

func (r *repo) GetBudget(ctx context.Context, doctorID clinic.DoctorID, id clinic.BudgetID) (*clinic.Budget, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets b WHERE b.id = ? AND b.doctor_id = ?`, id, doctorID)
	return scanBudgetRow(row)
}

func (r *repo) LatestBudgetForPatient(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) (*clinic.Budget, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets b
		WHERE b.doctor_id = ? AND b.patient_id = ?
		ORDER BY b.id DESC LIMIT 1`, doctorID, patientID)
	return scanBudgetRow(row)
}

func (r *repo) FindActiveBudget(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID, exclude clinic.BudgetID) (*clinic.Budget, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets b
		WHERE b.doctor_id = ? AND b.patient_id = ? AND b.status = 'active' AND b.id <> ?
		LIMIT 1`, doctorID, patientID, exclude)
	return scanBudgetRow(row)
}

func (r *repo) ListBudgets(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) ([]clinic.Budget, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets b
		WHERE b.doctor_id = ? AND (? = 0 OR b.patient_id = ?)
		ORDER BY b.id DESC`, doctorID, patientID, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []clinic.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *repo) UpdateBudget(ctx context.Context, b clinic.Budget) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE budgets SET status = ?, total_amount = ?, budget_type = ?, updated_at = ?
		WHERE id = ? AND doctor_id = ?`,
		string(b.Status), b.Total.String(), b.BudgetType, ts(b.UpdatedAt), b.ID, b.DoctorID)
	return mapConstraint(err, &b)
}

func (r *repo) DeleteBudget(ctx context.Context, doctorID clinic.DoctorID, id clinic.BudgetID) error {
	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM treatments WHERE budget_item_id IN (
			SELECT i.id FROM budget_items i JOIN budgets b ON b.id = i.budget_id
			WHERE b.id = ? AND b.doctor_id = ?)`, id, doctorID); err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM budget_items WHERE budget_id IN (
		SELECT id FROM budgets WHERE id = ? AND doctor_id = ?)`, id, doctorID); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, `DELETE FROM budgets WHERE id = ? AND doctor_id = ?`, id, doctorID)
	return err
}

// mapConstraint turns a hit on idx_budgets_single_active into a ConflictError.
func mapConstraint(err error, b *clinic.Budget) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return &clinic.ConflictError{PatientID: b.PatientID}
	}
	return err
}

func scanBudgetRow(row *sql.Row) (*clinic.Budget, error) {
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func scanBudget(s scanner) (*clinic.Budget, error) {
	var (
		b                    clinic.Budget
		status               string
		createdAt, updatedAt string
	)
	if err := s.Scan(&b.ID, &b.PatientID, &b.DoctorID, &b.Total, &status, &b.BudgetType, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.Status = clinic.BudgetStatus(status)
	var err error
	if b.CreatedAt, b.UpdatedAt, err = parseStamps(createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// ===== items =====

func (r *repo) ListItems(ctx context.Context, budgetID clinic.BudgetID) ([]clinic.BudgetItem, error) {
	return r.queryItems(ctx, `
		SELECT `+itemColumns+` FROM budget_items i
		WHERE i.budget_id = ? AND i.is_active = 1
		ORDER BY i.orden, i.id`, budgetID)
}

func (r *repo) ListOpenItems(ctx context.Context, doctorID clinic.DoctorID) ([]clinic.BudgetItem, error) {
	return r.queryItems(ctx, `
		SELECT `+itemColumns+` FROM budget_items i
		JOIN budgets b ON b.id = i.budget_id
		WHERE b.doctor_id = ? AND i.is_active = 1 AND i.status <> 'completed'
		ORDER BY i.budget_id, i.orden, i.id`, doctorID)
}

func (r *repo) GetItem(ctx context.Context, doctorID clinic.DoctorID, id clinic.ItemID) (*clinic.BudgetItem, *clinic.Budget, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+itemColumns+`, `+budgetColumns+` FROM budget_items i
		JOIN budgets b ON b.id = i.budget_id
		WHERE i.id = ? AND b.doctor_id = ?`, id, doctorID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil, rows.Err()
	}
	var (
		it                   clinic.BudgetItem
		b                    clinic.Budget
		itStatus, bStatus    string
		isActive             bool
		itCreated, itUpdated string
		bCreated, bUpdated   string
	)
	if err := rows.Scan(
		&it.ID, &it.BudgetID, &it.Pieza, &it.Accion, &it.Valor, &it.Orden, &itStatus, &isActive, &itCreated, &itUpdated,
		&b.ID, &b.PatientID, &b.DoctorID, &b.Total, &bStatus, &b.BudgetType, &bCreated, &bUpdated,
	); err != nil {
		return nil, nil, err
	}
	it.Status = clinic.ProgressStatus(itStatus)
	it.IsActive = isActive
	b.Status = clinic.BudgetStatus(bStatus)
	if it.CreatedAt, it.UpdatedAt, err = parseStamps(itCreated, itUpdated); err != nil {
		return nil, nil, err
	}
	if b.CreatedAt, b.UpdatedAt, err = parseStamps(bCreated, bUpdated); err != nil {
		return nil, nil, err
	}
	return &it, &b, rows.Err()
}

func (r *repo) InsertItem(ctx context.Context, it *clinic.BudgetItem) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO budget_items (budget_id, pieza, accion, valor, orden, status, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.BudgetID, it.Pieza, it.Accion, it.Valor.String(), it.Orden, string(it.Status), it.IsActive,
		ts(it.CreatedAt), ts(it.UpdatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	it.ID = clinic.ItemID(id)
	return nil
}

func (r *repo) UpdateItem(ctx context.Context, it clinic.BudgetItem) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE budget_items
		SET pieza = ?, accion = ?, valor = ?, orden = ?, status = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		it.Pieza, it.Accion, it.Valor.String(), it.Orden, string(it.Status), it.IsActive, ts(it.UpdatedAt), it.ID)
	return err
}

func (r *repo) DeleteItem(ctx context.Context, id clinic.ItemID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM budget_items WHERE id = ?`, id)
	return err
}

func (r *repo) queryItems(ctx context.Context, query string, args ...any) ([]clinic.BudgetItem, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []clinic.BudgetItem
	for rows.Next() {
		var (
			it                   clinic.BudgetItem
			status               string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&it.ID, &it.BudgetID, &it.Pieza, &it.Accion, &it.Valor, &it.Orden, &status,
			&it.IsActive, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		it.Status = clinic.ProgressStatus(status)
		var err error
		if it.CreatedAt, it.UpdatedAt, err = parseStamps(createdAt, updatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ===== sessions =====

func (r *repo) InsertSession(ctx context.Context, s *clinic.TreatmentSession) error {
	var next sql.NullString
	if s.NextControlAt != nil {
		next = sql.NullString{String: ts(*s.NextControlAt), Valid: true}
	}
	var itemID sql.NullInt64
	if s.BudgetItemID != nil {
		itemID = sql.NullInt64{Int64: int64(*s.BudgetItemID), Valid: true}
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO treatments (patient_id, doctor_id, budget_item_id, service_name, control_at, next_control_at,
			product, batch, dilution, photo_before, photo_after, descripcion, status, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.PatientID, s.DoctorID, itemID, s.ServiceName, ts(s.ControlAt), next,
		s.Product, s.Batch, s.Dilution, s.PhotoBefore, s.PhotoAfter, s.Descripcion,
		string(s.Status), s.IsActive, ts(s.CreatedAt), ts(s.UpdatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = clinic.SessionID(id)
	return nil
}

func (r *repo) GetSession(ctx context.Context, doctorID clinic.DoctorID, id clinic.SessionID) (*clinic.TreatmentSession, error) {
	sessions, err := r.querySessions(ctx, `SELECT `+sessionColumns+` FROM treatments t WHERE t.id = ? AND t.doctor_id = ?`, id, doctorID)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return &sessions[0], nil
}

func (r *repo) ListSessions(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) ([]clinic.TreatmentSession, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM treatments t
		WHERE t.doctor_id = ? AND t.patient_id = ? AND t.is_active = 1
		ORDER BY t.control_at DESC, t.id DESC`, doctorID, patientID)
}

func (r *repo) CountActiveSessions(ctx context.Context, itemID clinic.ItemID) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM treatments WHERE budget_item_id = ? AND is_active = 1`, itemID).Scan(&n)
	return n, err
}

func (r *repo) CountSessions(ctx context.Context, itemID clinic.ItemID) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM treatments WHERE budget_item_id = ?`, itemID).Scan(&n)
	return n, err
}

func (r *repo) CompleteActiveSessions(ctx context.Context, itemID clinic.ItemID, at time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE treatments SET status = 'completed', updated_at = ?
		WHERE budget_item_id = ? AND is_active = 1 AND status <> 'completed'`, ts(at), itemID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *repo) ArchiveSession(ctx context.Context, doctorID clinic.DoctorID, id clinic.SessionID, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE treatments SET is_active = 0, updated_at = ?
		WHERE id = ? AND doctor_id = ?`, ts(at), id, doctorID)
	return err
}

func (r *repo) PurgeSessionsForItem(ctx context.Context, itemID clinic.ItemID) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM treatments WHERE budget_item_id = ?`, itemID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *repo) querySessions(ctx context.Context, query string, args ...any) ([]clinic.TreatmentSession, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []clinic.TreatmentSession
	for rows.Next() {
		var (
			s                    clinic.TreatmentSession
			itemID               sql.NullInt64
			controlAt            string
			next                 sql.NullString
			status               string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&s.ID, &s.PatientID, &s.DoctorID, &itemID, &s.ServiceName, &controlAt, &next,
			&s.Product, &s.Batch, &s.Dilution, &s.PhotoBefore, &s.PhotoAfter, &s.Descripcion, &status, &s.IsActive,
			&createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if itemID.Valid {
			id := clinic.ItemID(itemID.Int64)
			s.BudgetItemID = &id
		}
		var err error
		if s.ControlAt, err = parseTS(controlAt); err != nil {
			return nil, err
		}
		if next.Valid {
			t, err := parseTS(next.String)
			if err != nil {
				return nil, err
			}
			s.NextControlAt = &t
		}
		s.Status = clinic.ProgressStatus(status)
		if s.CreatedAt, s.UpdatedAt, err = parseStamps(createdAt, updatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e *clinic.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldJSON, err := marshalValues(e.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(e.NewValues)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (event_id, patient_id, entity_type, entity_id, action, old_values, new_values,
			changed_by, created_at, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.PatientID, string(e.EntityType), e.EntityID, string(e.Action), oldJSON, newJSON,
		e.ChangedBy, ts(e.CreatedAt), e.Notes)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (s *Store) LatestAudit(ctx context.Context, changedBy clinic.DoctorID, entity clinic.EntityType, entityID int64, action clinic.AuditAction) (*clinic.AuditLogEntry, error) {
	entries, err := s.queryAudit(ctx, `
		WHERE changed_by = ? AND entity_type = ? AND entity_id = ? AND action = ?
		ORDER BY id DESC LIMIT 1`, changedBy, string(entity), entityID, string(action))
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Store) ReplaceAuditValues(ctx context.Context, id int64, newValues map[string]any, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newJSON, err := marshalValues(newValues)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE audit_logs SET new_values = ?, notes = ? WHERE id = ?`, newJSON, notes, id)
	return err
}

func (s *Store) QueryAudit(ctx context.Context, f clinic.AuditFilter) ([]clinic.AuditLogEntry, error) {
	where := "WHERE 1 = 1"
	var args []any
	if f.ChangedBy != 0 {
		where += " AND changed_by = ?"
		args = append(args, f.ChangedBy)
	}
	if f.PatientID != nil {
		where += " AND patient_id = ?"
		args = append(args, *f.PatientID)
	}
	if f.EntityType != nil {
		where += " AND entity_type = ?"
		args = append(args, string(*f.EntityType))
	}
	if f.EntityID != nil {
		where += " AND entity_id = ?"
		args = append(args, *f.EntityID)
	}
	if len(f.Actions) > 0 {
		where += " AND action IN ("
		for i, a := range f.Actions {
			if i > 0 {
				where += ", "
			}
			where += "?"
			args = append(args, string(a))
		}
		where += ")"
	}
	where += " ORDER BY id DESC"
	if f.Limit > 0 {
		where += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.queryAudit(ctx, where, args...)
}

func (s *Store) queryAudit(ctx context.Context, where string, args ...any) ([]clinic.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, patient_id, entity_type, entity_id, action, old_values, new_values,
			changed_by, created_at, notes
		FROM audit_logs `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []clinic.AuditLogEntry
	for rows.Next() {
		var (
			e                clinic.AuditLogEntry
			entity, action   string
			oldJSON, newJSON sql.NullString
			createdAt        string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.PatientID, &entity, &e.EntityID, &action, &oldJSON, &newJSON,
			&e.ChangedBy, &createdAt, &e.Notes); err != nil {
			return nil, err
		}
		e.EntityType = clinic.EntityType(entity)
		e.Action = clinic.AuditAction(action)
		if e.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, err
		}
		if e.OldValues, err = unmarshalValues(oldJSON); err != nil {
			return nil, err
		}
		if e.NewValues, err = unmarshalValues(newJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalValues(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal audit values: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalValues(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal audit values: %w", err)
	}
	return m, nil
}
