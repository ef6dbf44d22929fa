// Package commission derives vendor commissions for settled order lines.
package commission

import (
	"context"
	"log/slog"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RateSource interface {
	CommissionRates(ctx context.Context, vendorIDs []string) (map[string]decimal.Decimal, error)
}

type Store interface {
	ListCommissions(ctx context.Context, f store.CommissionFilter) ([]models.Commission, error)
	MarkCommissionPaid(ctx context.Context, commissionID string, paidAt time.Time, events []models.Event) (*models.Commission, bool, error)
}

type Ledger struct {
	Rates  RateSource
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// Derive snapshots the vendors' current rates onto one pending commission per
// item. The rows are persisted by the settlement transaction.
func (l Ledger) Derive(ctx context.Context, items []models.OrderItem) ([]models.Commission, error) {
	if len(items) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool)
	var vendors []string
	for _, it := range items {
		if !seen[it.VendorID] {
			seen[it.VendorID] = true
			vendors = append(vendors, it.VendorID)
		}
	}
	rates, err := l.Rates.CommissionRates(ctx, vendors)
	if err != nil {
		return nil, err
	}

	now := l.now()
	out := make([]models.Commission, 0, len(items))
	for _, it := range items {
		rate, ok := rates[it.VendorID]
		if !ok && l.Logger != nil {
			l.Logger.Warn("no commission rate for vendor, recording zero", "vendor_id", it.VendorID, "order_id", it.OrderID)
		}
		out = append(out, models.Commission{
			CommissionID:     uuid.NewString(),
			OrderID:          it.OrderID,
			OrderItemID:      it.ItemID,
			VendorID:         it.VendorID,
			SaleAmount:       it.Total,
			CommissionRate:   rate,
			CommissionAmount: models.ApplyRate(it.Total, rate),
			Status:           models.CommissionPending,
			CreatedAt:        now,
		})
	}
	return out, nil
}

func (l Ledger) List(ctx context.Context, f store.CommissionFilter) ([]models.Commission, error) {
	if f.Status != "" && f.Status != models.CommissionPending && f.Status != models.CommissionPaid {
		return nil, errs.Validation("unknown commission status %q", f.Status)
	}
	return l.Store.ListCommissions(ctx, f)
}

// MarkPaid is the only way a commission leaves pending.
func (l Ledger) MarkPaid(ctx context.Context, commissionID string) (*models.Commission, error) {
	paidAt := l.now()
	ev := models.NewEvent(models.EventCommissionPaid, commissionID, map[string]any{
		"commission_id": commissionID,
		"paid_at":       paidAt,
	})
	c, moved, err := l.Store.MarkCommissionPaid(ctx, commissionID, paidAt, []models.Event{ev})
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, errs.InvalidTransition(string(c.Status), string(models.CommissionPaid))
	}
	if l.Logger != nil {
		l.Logger.Info("commission paid", "commission_id", c.CommissionID, "vendor_id", c.VendorID, "amount", c.CommissionAmount)
	}
	return c, nil
}
