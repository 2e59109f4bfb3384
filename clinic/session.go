package clinic

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SessionResult is returned by RegisterSession.
type SessionResult struct {
	Session          TreatmentSession
	IsFirstTreatment bool
}

// SessionLabel derives the display name of the n-th session (1-based) of an
// item: "<accion>[ - Piece <pieza>][ - Session n]". The first session has no
// session suffix.
func SessionLabel(accion, pieza string, n int) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(accion))
	if p := strings.TrimSpace(pieza); p != "" {
		sb.WriteString(" - Piece ")
		sb.WriteString(p)
	}
	if n > 1 {
		fmt.Fprintf(&sb, " - Session %d", n)
	}
	return sb.String()
}

// RegisterSession records a dated session against a budget item. The session
// is inserted first, then the item is moved to in_progress when needed; the
// audit entry follows the commit.
//
// patientID is optional (0 skips the check); a mismatch reads as not found.
func (e *Engine) RegisterSession(ctx context.Context, doctorID DoctorID, patientID PatientID,
	itemID ItemID, in SessionInput) (*SessionResult, error) {
	if err := validateCaller(doctorID); err != nil {
		return nil, err
	}
	if in.NextControlAt != nil && !in.ControlAt.IsZero() && in.NextControlAt.Before(in.ControlAt) {
		return nil, &ValidationError{Field: "next_control_at", Message: "must not be before the control date"}
	}

	now := e.clock()
	var (
		res     SessionResult
		flipped bool
		oldItem ProgressStatus
	)
	err := e.store.WithTx(ctx, func(repo Repository) error {
		it, b, err := ownedItem(ctx, repo, doctorID, itemID)
		if err != nil {
			return err
		}
		if patientID != 0 && b.PatientID != patientID {
			return notFound(EntityItem, int64(itemID))
		}

		prior, err := repo.CountActiveSessions(ctx, it.ID)
		if err != nil {
			return fmt.Errorf("count sessions of item %d: %w", it.ID, err)
		}

		var nextAt *time.Time
		if in.NextControlAt != nil {
			utc := in.NextControlAt.UTC()
			nextAt = &utc
		}

		linked := it.ID
		s := TreatmentSession{
			PatientID:     b.PatientID,
			DoctorID:      doctorID,
			BudgetItemID:  &linked,
			ServiceName:   SessionLabel(it.Accion, it.Pieza, prior+1),
			ControlAt:     in.ControlAt.UTC(),
			NextControlAt: nextAt,
			Product:       in.Product,
			Batch:         in.Batch,
			Dilution:      in.Dilution,
			PhotoBefore:   in.PhotoBefore,
			PhotoAfter:    in.PhotoAfter,
			Descripcion:   in.Descripcion,
			Status:        ProgressInProgress,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if in.ControlAt.IsZero() {
			s.ControlAt = now
		}
		if err := repo.InsertSession(ctx, &s); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		if it.Status != ProgressInProgress {
			oldItem = it.Status
			it.Status = ProgressInProgress
			it.UpdatedAt = now
			if err := repo.UpdateItem(ctx, *it); err != nil {
				return fmt.Errorf("start item %d: %w", it.ID, err)
			}
			flipped = true
		}

		res = SessionResult{Session: s, IsFirstTreatment: prior == 0}
		return nil
	})
	if err != nil {
		return nil, err
	}

	note := "first treatment session"
	if !res.IsFirstTreatment {
		note = "follow-up session: " + res.Session.ServiceName
	}
	values := sessionSnapshot(res.Session)
	var old map[string]any
	if flipped {
		old = map[string]any{"item_status": string(oldItem)}
		values["item_status"] = string(ProgressInProgress)
	}
	e.audit.Record(ctx, AuditLogEntry{
		PatientID:  res.Session.PatientID,
		EntityType: EntitySession,
		EntityID:   int64(res.Session.ID),
		Action:     AuditCreated,
		OldValues:  old,
		NewValues:  values,
		ChangedBy:  doctorID,
		Notes:      note,
	})
	return &res, nil
}

// ArchiveSession soft-deletes one session. The item keeps its status; later
// session labels count only the remaining active sessions.
func (e *Engine) ArchiveSession(ctx context.Context, doctorID DoctorID, sessionID SessionID) error {
	if err := validateCaller(doctorID); err != nil {
		return err
	}

	var archived *TreatmentSession
	err := e.store.WithTx(ctx, func(repo Repository) error {
		s, err := repo.GetSession(ctx, doctorID, sessionID)
		if err != nil {
			return fmt.Errorf("load session %d: %w", sessionID, err)
		}
		if s == nil || s.DoctorID != doctorID {
			return notFound(EntitySession, int64(sessionID))
		}
		if !s.IsActive {
			return nil
		}
		if err := repo.ArchiveSession(ctx, doctorID, s.ID, e.clock()); err != nil {
			return fmt.Errorf("archive session %d: %w", s.ID, err)
		}
		archived = s
		return nil
	})
	if err != nil {
		return err
	}
	if archived != nil {
		e.audit.Record(ctx, AuditLogEntry{
			PatientID:  archived.PatientID,
			EntityType: EntitySession,
			EntityID:   int64(archived.ID),
			Action:     AuditDeleted,
			OldValues:  sessionSnapshot(*archived),
			ChangedBy:  doctorID,
			Notes:      "session archived",
		})
	}
	return nil
}

// ListSessions returns the patient's active sessions.
func (e *Engine) ListSessions(ctx context.Context, doctorID DoctorID, patientID PatientID) ([]TreatmentSession, error) {
	sessions, err := e.store.ListSessions(ctx, doctorID, patientID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
