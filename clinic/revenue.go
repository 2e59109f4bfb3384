package clinic

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PendingRevenue sums the value of every active item that is not completed,
// across all of the doctor's budgets, whatever the budget's own status.
func (e *Engine) PendingRevenue(ctx context.Context, doctorID DoctorID) (decimal.Decimal, error) {
	if err := validateCaller(doctorID); err != nil {
		return decimal.Zero, err
	}
	items, err := e.store.ListOpenItems(ctx, doctorID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load open items: %w", err)
	}

	total := decimal.Zero
	for _, it := range items {
		if !it.IsActive || it.Status == ProgressCompleted {
			continue
		}
		total = total.Add(it.Valor)
	}
	return total, nil
}
