package clinic

import (
	"context"

	"github.com/rs/zerolog"
)

type NotificationKind string

const (
	NotifyBudgetActivated NotificationKind = "budget_activated"
	NotifyBudgetCompleted NotificationKind = "budget_completed"
)

// Notification is handed to a Notifier after the triggering change committed.
type Notification struct {
	Kind      NotificationKind
	DoctorID  DoctorID
	PatientID PatientID
	BudgetID  BudgetID
	Total     string
}

// Notifier delivers emails/PDFs. Errors are logged by the engine and dropped.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier only logs. It is the default when no delivery channel is configured.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.Log.Info().
		Str("kind", string(msg.Kind)).
		Int64("doctor_id", int64(msg.DoctorID)).
		Int64("patient_id", int64(msg.PatientID)).
		Int64("budget_id", int64(msg.BudgetID)).
		Str("total", msg.Total).
		Msg("notification")
	return nil
}
