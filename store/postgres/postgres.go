/*
Package postgres provides a PostgreSQL implementation of the storage interfaces.

PURPOSE:
  Same contract as store/sqlite (clinic.Store + clinic.AuditLog) for
  multi-node deployments. Uses a pgxpool connection pool.

DIFFERENCES FROM SQLITE:
  - Money is NUMERIC(12,2); values cross the wire as text to keep decimal
    precision without a pgx type adapter
  - Timestamps are TIMESTAMPTZ
  - Audit snapshots are JSONB
  - Inside WithTx, budget reads take FOR UPDATE row locks, so concurrent
    saves of one budget queue up instead of interleaving. The later commit
    still overwrites the earlier one.

SEE ALSO:
  - store/sqlite/sqlite.go: Reference implementation and schema notes
  - clinic/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/practice-engine/clinic"
)

const schema = `
CREATE TABLE IF NOT EXISTS budgets (
	id BIGSERIAL PRIMARY KEY,
	patient_id BIGINT NOT NULL,
	doctor_id BIGINT NOT NULL,
	total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'active', 'completed')),
	budget_type TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_budgets_single_active
	ON budgets(patient_id, doctor_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_budgets_doctor_patient
	ON budgets(doctor_id, patient_id, id DESC);

CREATE TABLE IF NOT EXISTS budget_items (
	id BIGSERIAL PRIMARY KEY,
	budget_id BIGINT NOT NULL REFERENCES budgets(id) ON DELETE CASCADE,
	pieza TEXT NOT NULL DEFAULT '',
	accion TEXT NOT NULL,
	valor NUMERIC(12,2) NOT NULL CHECK (valor > 0),
	orden INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in_progress', 'completed')),
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_budget ON budget_items(budget_id, is_active, orden);

CREATE TABLE IF NOT EXISTS treatments (
	id BIGSERIAL PRIMARY KEY,
	patient_id BIGINT NOT NULL,
	doctor_id BIGINT NOT NULL,
	budget_item_id BIGINT REFERENCES budget_items(id),
	service_name TEXT NOT NULL,
	control_at TIMESTAMPTZ NOT NULL,
	next_control_at TIMESTAMPTZ,
	product TEXT NOT NULL DEFAULT '',
	batch TEXT NOT NULL DEFAULT '',
	dilution TEXT NOT NULL DEFAULT '',
	photo_before TEXT NOT NULL DEFAULT '',
	photo_after TEXT NOT NULL DEFAULT '',
	descripcion TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in_progress', 'completed')),
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_treatments_item ON treatments(budget_item_id, is_active);
CREATE INDEX IF NOT EXISTS idx_treatments_patient ON treatments(doctor_id, patient_id, control_at DESC);

CREATE TABLE IF NOT EXISTS audit_logs (
	id BIGSERIAL PRIMARY KEY,
	event_id UUID NOT NULL UNIQUE,
	patient_id BIGINT NOT NULL DEFAULT 0,
	entity_type TEXT NOT NULL,
	entity_id BIGINT NOT NULL,
	action TEXT NOT NULL CHECK (action IN ('created', 'updated', 'deleted', 'status_changed')),
	old_values JSONB,
	new_values JSONB,
	changed_by BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	notes TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_logs(entity_type, entity_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_audit_changed_by ON audit_logs(changed_by, id DESC);
`

// Store implements clinic.Store and clinic.AuditLog on PostgreSQL.
type Store struct {
	*repo
	pool *pgxpool.Pool
}

// New opens a pool, pings it and migrates the schema.
func New(ctx context.Context, databaseURL string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{repo: &repo{q: pool}, pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Reset truncates every table. Demo scenarios only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE treatments, budget_items, budgets, audit_logs RESTART IDENTITY`)
	return err
}

// WithTx executes fn within a transaction; budget reads lock their rows.
func (s *Store) WithTx(ctx context.Context, fn func(clinic.Repository) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&repo{q: tx, lock: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// =============================================================================
// REPOSITORY - shared by the pool and pgx.Tx
// =============================================================================

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repo struct {
	q    queryer
	lock bool
}

const budgetColumns = `b.id, b.patient_id, b.doctor_id, b.total_amount::text, b.status, b.budget_type, b.created_at, b.updated_at`

const itemColumns = `i.id, i.budget_id, i.pieza, i.accion, i.valor::text, i.orden, i.status, i.is_active, i.created_at, i.updated_at`

const sessionColumns = `t.id, t.patient_id, t.doctor_id, t.budget_item_id, t.service_name, t.control_at, t.next_control_at,
	t.product, t.batch, t.dilution, t.photo_before, t.photo_after, t.descripcion, t.status, t.is_active,
	t.created_at, t.updated_at`

func (r *repo) forUpdate() string {
	if r.lock {
		return " FOR UPDATE OF b"
	}
	return ""
}

// ===== budgets =====

func (r *repo) InsertBudget(ctx context.Context, b *clinic.Budget) error {
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO budgets (patient_id, doctor_id, total_amount, status, budget_type, created_at, updated_at)
		VALUES ($1, $2, $3::text::numeric, $4, $5, $6, $7) RETURNING id`,
		int64(b.PatientID), int64(b.DoctorID), b.Total.String(), string(b.Status), b.BudgetType, b.CreatedAt, b.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return mapConstraint(err, b)
	}
	b.ID = clinic.BudgetID(id)
	return nil
}

func (r *repo) GetBudget(ctx context.Context, doctorID clinic.DoctorID, id clinic.BudgetID) (*clinic.Budget, error) {
	return r.queryBudget(ctx, `SELECT `+budgetColumns+` FROM budgets b WHERE b.id = $1 AND b.doctor_id = $2`+r.forUpdate(),
		int64(id), int64(doctorID))
}

func (r *repo) LatestBudgetForPatient(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) (*clinic.Budget, error) {
	return r.queryBudget(ctx, `
		SELECT `+budgetColumns+` FROM budgets b
		WHERE b.doctor_id = $1 AND b.patient_id = $2
		ORDER BY b.id DESC LIMIT 1`+r.forUpdate(), int64(doctorID), int64(patientID))
}

func (r *repo) FindActiveBudget(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID, exclude clinic.BudgetID) (*clinic.Budget, error) {
	return r.queryBudget(ctx, `
		SELECT `+budgetColumns+` FROM budgets b
		WHERE b.doctor_id = $1 AND b.patient_id = $2 AND b.status = 'active' AND b.id <> $3
		LIMIT 1`, int64(doctorID), int64(patientID), int64(exclude))
}

func (r *repo) ListBudgets(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) ([]clinic.Budget, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+budgetColumns+` FROM budgets b
		WHERE b.doctor_id = $1 AND ($2::bigint = 0 OR b.patient_id = $2)
		ORDER BY b.id DESC`, int64(doctorID), int64(patientID))
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
	_, err := r.q.Exec(ctx, `
		UPDATE budgets SET status = $1, total_amount = $2::text::numeric, budget_type = $3, updated_at = $4
		WHERE id = $5 AND doctor_id = $6`,
		string(b.Status), b.Total.String(), b.BudgetType, b.UpdatedAt, int64(b.ID), int64(b.DoctorID))
	return mapConstraint(err, &b)
}

func (r *repo) DeleteBudget(ctx context.Context, doctorID clinic.DoctorID, id clinic.BudgetID) error {
	if _, err := r.q.Exec(ctx, `
		DELETE FROM treatments WHERE budget_item_id IN (
			SELECT i.id FROM budget_items i JOIN budgets b ON b.id = i.budget_id
			WHERE b.id = $1 AND b.doctor_id = $2)`, int64(id), int64(doctorID)); err != nil {
		return err
	}
	_, err := r.q.Exec(ctx, `DELETE FROM budgets WHERE id = $1 AND doctor_id = $2`, int64(id), int64(doctorID))
	return err
}

func (r *repo) queryBudget(ctx context.Context, query string, args ...any) (*clinic.Budget, error) {
	b, err := scanBudget(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func scanBudget(row pgx.Row) (*clinic.Budget, error) {
	var (
		b                clinic.Budget
		id, patient, doc int64
		total, status    string
	)
	if err := row.Scan(&id, &patient, &doc, &total, &status, &b.BudgetType, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("budget %d total: %w", id, err)
	}
	b.ID, b.PatientID, b.DoctorID = clinic.BudgetID(id), clinic.PatientID(patient), clinic.DoctorID(doc)
	b.Total = amount
	b.Status = clinic.BudgetStatus(status)
	return &b, nil
}

// mapConstraint turns a hit on idx_budgets_single_active into a ConflictError.
func mapConstraint(err error, b *clinic.Budget) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_budgets_single_active" {
		return &clinic.ConflictError{PatientID: b.PatientID}
	}
	return err
}

// ===== items =====

func (r *repo) ListItems(ctx context.Context, budgetID clinic.BudgetID) ([]clinic.BudgetItem, error) {
	return r.queryItems(ctx, `
		SELECT `+itemColumns+` FROM budget_items i
		WHERE i.budget_id = $1 AND i.is_active
		ORDER BY i.orden, i.id`, int64(budgetID))
}

func (r *repo) ListOpenItems(ctx context.Context, doctorID clinic.DoctorID) ([]clinic.BudgetItem, error) {
	return r.queryItems(ctx, `
		SELECT `+itemColumns+` FROM budget_items i
		JOIN budgets b ON b.id = i.budget_id
		WHERE b.doctor_id = $1 AND i.is_active AND i.status <> 'completed'
		ORDER BY i.budget_id, i.orden, i.id`, int64(doctorID))
}

func (r *repo) GetItem(ctx context.Context, doctorID clinic.DoctorID, id clinic.ItemID) (*clinic.BudgetItem, *clinic.Budget, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+itemColumns+`, `+budgetColumns+` FROM budget_items i
		JOIN budgets b ON b.id = i.budget_id
		WHERE i.id = $1 AND b.doctor_id = $2`+r.forUpdate(), int64(id), int64(doctorID))

	var (
		itID, itBudget, bID, patient, doc int64
		it                                clinic.BudgetItem
		b                                 clinic.Budget
		valor, itStatus, total, bStatus   string
	)
	err := row.Scan(
		&itID, &itBudget, &it.Pieza, &it.Accion, &valor, &it.Orden, &itStatus, &it.IsActive, &it.CreatedAt, &it.UpdatedAt,
		&bID, &patient, &doc, &total, &bStatus, &b.BudgetType, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if it.Valor, err = decimal.NewFromString(valor); err != nil {
		return nil, nil, fmt.Errorf("item %d valor: %w", itID, err)
	}
	if b.Total, err = decimal.NewFromString(total); err != nil {
		return nil, nil, fmt.Errorf("budget %d total: %w", bID, err)
	}
	it.ID, it.BudgetID = clinic.ItemID(itID), clinic.BudgetID(itBudget)
	it.Status = clinic.ProgressStatus(itStatus)
	b.ID, b.PatientID, b.DoctorID = clinic.BudgetID(bID), clinic.PatientID(patient), clinic.DoctorID(doc)
	b.Status = clinic.BudgetStatus(bStatus)
	return &it, &b, nil
}

func (r *repo) InsertItem(ctx context.Context, it *clinic.BudgetItem) error {
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO budget_items (budget_id, pieza, accion, valor, orden, status, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9) RETURNING id`,
		int64(it.BudgetID), it.Pieza, it.Accion, it.Valor.String(), it.Orden, string(it.Status), it.IsActive,
		it.CreatedAt, it.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return err
	}
	it.ID = clinic.ItemID(id)
	return nil
}

func (r *repo) UpdateItem(ctx context.Context, it clinic.BudgetItem) error {
	_, err := r.q.Exec(ctx, `
		UPDATE budget_items
		SET pieza = $1, accion = $2, valor = $3::text::numeric, orden = $4, status = $5, is_active = $6, updated_at = $7
		WHERE id = $8`,
		it.Pieza, it.Accion, it.Valor.String(), it.Orden, string(it.Status), it.IsActive, it.UpdatedAt, int64(it.ID))
	return err
}

func (r *repo) DeleteItem(ctx context.Context, id clinic.ItemID) error {
	_, err := r.q.Exec(ctx, `DELETE FROM budget_items WHERE id = $1`, int64(id))
	return err
}

func (r *repo) queryItems(ctx context.Context, query string, args ...any) ([]clinic.BudgetItem, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []clinic.BudgetItem
	for rows.Next() {
		var (
			it            clinic.BudgetItem
			id, budgetID  int64
			valor, status string
		)
		if err := rows.Scan(&id, &budgetID, &it.Pieza, &it.Accion, &valor, &it.Orden, &status,
			&it.IsActive, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		if it.Valor, err = decimal.NewFromString(valor); err != nil {
			return nil, fmt.Errorf("item %d valor: %w", id, err)
		}
		it.ID, it.BudgetID = clinic.ItemID(id), clinic.BudgetID(budgetID)
		it.Status = clinic.ProgressStatus(status)
		out = append(out, it)
	}
	return out, rows.Err()
}

// ===== sessions =====

func (r *repo) InsertSession(ctx context.Context, s *clinic.TreatmentSession) error {
	var itemID *int64
	if s.BudgetItemID != nil {
		v := int64(*s.BudgetItemID)
		itemID = &v
	}
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO treatments (patient_id, doctor_id, budget_item_id, service_name, control_at, next_control_at,
			product, batch, dilution, photo_before, photo_after, descripcion, status, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING id`,
		int64(s.PatientID), int64(s.DoctorID), itemID, s.ServiceName, s.ControlAt, s.NextControlAt,
		s.Product, s.Batch, s.Dilution, s.PhotoBefore, s.PhotoAfter, s.Descripcion,
		string(s.Status), s.IsActive, s.CreatedAt, s.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return err
	}
	s.ID = clinic.SessionID(id)
	return nil
}

func (r *repo) GetSession(ctx context.Context, doctorID clinic.DoctorID, id clinic.SessionID) (*clinic.TreatmentSession, error) {
	sessions, err := r.querySessions(ctx, `SELECT `+sessionColumns+` FROM treatments t WHERE t.id = $1 AND t.doctor_id = $2`,
		int64(id), int64(doctorID))
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return &sessions[0], nil
}

func (r *repo) ListSessions(ctx context.Context, doctorID clinic.DoctorID, patientID clinic.PatientID) ([]clinic.TreatmentSession, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM treatments t
		WHERE t.doctor_id = $1 AND t.patient_id = $2 AND t.is_active
		ORDER BY t.control_at DESC, t.id DESC`, int64(doctorID), int64(patientID))
}

func (r *repo) CountActiveSessions(ctx context.Context, itemID clinic.ItemID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM treatments WHERE budget_item_id = $1 AND is_active`, int64(itemID)).Scan(&n)
	return n, err
}

func (r *repo) CountSessions(ctx context.Context, itemID clinic.ItemID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM treatments WHERE budget_item_id = $1`, int64(itemID)).Scan(&n)
	return n, err
}

func (r *repo) CompleteActiveSessions(ctx context.Context, itemID clinic.ItemID, at time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE treatments SET status = 'completed', updated_at = $1
		WHERE budget_item_id = $2 AND is_active AND status <> 'completed'`, at, int64(itemID))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repo) ArchiveSession(ctx context.Context, doctorID clinic.DoctorID, id clinic.SessionID, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE treatments SET is_active = FALSE, updated_at = $1
		WHERE id = $2 AND doctor_id = $3`, at, int64(id), int64(doctorID))
	return err
}

func (r *repo) PurgeSessionsForItem(ctx context.Context, itemID clinic.ItemID) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM treatments WHERE budget_item_id = $1`, int64(itemID))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repo) querySessions(ctx context.Context, query string, args ...any) ([]clinic.TreatmentSession, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []clinic.TreatmentSession
	for rows.Next() {
		var (
			s                clinic.TreatmentSession
			id, patient, doc int64
			itemID           *int64
			status           string
		)
		if err := rows.Scan(&id, &patient, &doc, &itemID, &s.ServiceName, &s.ControlAt, &s.NextControlAt,
			&s.Product, &s.Batch, &s.Dilution, &s.PhotoBefore, &s.PhotoAfter, &s.Descripcion, &status, &s.IsActive,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.ID, s.PatientID, s.DoctorID = clinic.SessionID(id), clinic.PatientID(patient), clinic.DoctorID(doc)
		if itemID != nil {
			v := clinic.ItemID(*itemID)
			s.BudgetItemID = &v
		}
		s.Status = clinic.ProgressStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e *clinic.AuditLogEntry) error {
	oldJSON, err := marshalValues(e.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(e.NewValues)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO audit_logs (event_id, patient_id, entity_type, entity_id, action, old_values, new_values,
			changed_by, created_at, notes)
		VALUES ($1::text::uuid, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10) RETURNING id`,
		e.EventID, int64(e.PatientID), string(e.EntityType), e.EntityID, string(e.Action), oldJSON, newJSON,
		int64(e.ChangedBy), e.CreatedAt, e.Notes,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) LatestAudit(ctx context.Context, changedBy clinic.DoctorID, entity clinic.EntityType, entityID int64, action clinic.AuditAction) (*clinic.AuditLogEntry, error) {
	entries, err := s.queryAudit(ctx, `
		WHERE changed_by = $1 AND entity_type = $2 AND entity_id = $3 AND action = $4
		ORDER BY id DESC LIMIT 1`, int64(changedBy), string(entity), entityID, string(action))
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Store) ReplaceAuditValues(ctx context.Context, id int64, newValues map[string]any, notes string) error {
	newJSON, err := marshalValues(newValues)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `UPDATE audit_logs SET new_values = $1::jsonb, notes = $2 WHERE id = $3`, newJSON, notes, id)
	return err
}

func (s *Store) QueryAudit(ctx context.Context, f clinic.AuditFilter) ([]clinic.AuditLogEntry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ChangedBy != 0 {
		add("changed_by = $%d", int64(f.ChangedBy))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", int64(*f.PatientID))
	}
	if f.EntityType != nil {
		add("entity_type = $%d", string(*f.EntityType))
	}
	if f.EntityID != nil {
		add("entity_id = $%d", *f.EntityID)
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		add("action = ANY($%d)", actions)
	}

	where := "WHERE TRUE"
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	where += " ORDER BY id DESC"
	if f.Limit > 0 {
		where += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.queryAudit(ctx, where, args...)
}

func (s *Store) queryAudit(ctx context.Context, where string, args ...any) ([]clinic.AuditLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id::text, patient_id, entity_type, entity_id, action, old_values, new_values,
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
			patient, changed int64
			entity, action   string
			oldJSON, newJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.EventID, &patient, &entity, &e.EntityID, &action, &oldJSON, &newJSON,
			&changed, &e.CreatedAt, &e.Notes); err != nil {
			return nil, err
		}
		e.PatientID, e.ChangedBy = clinic.PatientID(patient), clinic.DoctorID(changed)
		e.EntityType = clinic.EntityType(entity)
		e.Action = clinic.AuditAction(action)
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

func marshalValues(m map[string]any) (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	s := string(b)
	return &s, nil
}

func unmarshalValues(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal audit values: %w", err)
	}
	return m, nil
}
