package commission

import (
	"context"
	"errors"
	"testing"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/store"
	"OrderSettlement/internal/store/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRates struct {
	rates map[string]decimal.Decimal
	err   error
	asked []string
}

func (f *fakeRates) CommissionRates(_ context.Context, vendorIDs []string) (map[string]decimal.Decimal, error) {
	f.asked = vendorIDs
	return f.rates, f.err
}

func items(orderID string) []models.OrderItem {
	return []models.OrderItem{
		{ItemID: "i1", OrderID: orderID, VendorID: "v1", UnitPrice: 1000, Quantity: 3, Total: 3000},
		{ItemID: "i2", OrderID: orderID, VendorID: "v2", UnitPrice: 995, Quantity: 1, Total: 995},
		{ItemID: "i3", OrderID: orderID, VendorID: "v1", UnitPrice: 500, Quantity: 1, Total: 500},
	}
}

func TestLedger_Derive_SnapshotsRates(t *testing.T) {
	rates := &fakeRates{rates: map[string]decimal.Decimal{
		"v1": decimal.RequireFromString("0.1"),
		"v2": decimal.RequireFromString("0.15"),
	}}
	l := Ledger{Rates: rates}

	got, err := l.Derive(context.Background(), items("o1"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"v1", "v2"}, rates.asked)

	assert.Equal(t, int64(300), got[0].CommissionAmount)
	assert.Equal(t, int64(149), got[1].CommissionAmount) // 149.25 rounds down
	assert.Equal(t, int64(50), got[2].CommissionAmount)
	for _, c := range got {
		assert.Equal(t, models.CommissionPending, c.Status)
		assert.Equal(t, "o1", c.OrderID)
	}

	// A later rate change does not touch what was derived.
	rates.rates["v1"] = decimal.RequireFromString("0.5")
	assert.True(t, decimal.RequireFromString("0.1").Equal(got[0].CommissionRate))
}

func TestLedger_Derive_MissingRateIsZero(t *testing.T) {
	got, err := Ledger{Rates: &fakeRates{rates: map[string]decimal.Decimal{}}}.Derive(context.Background(), items("o1")[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(0), got[0].CommissionAmount)
}

func TestLedger_Derive_RateSourceError(t *testing.T) {
	_, err := Ledger{Rates: &fakeRates{err: errors.New("catalog down")}}.Derive(context.Background(), items("o1"))
	assert.Error(t, err)
}

func settledCommission(t *testing.T, s *memory.Store) string {
	t.Helper()
	ctx := context.Background()
	o := &models.Order{OrderID: uuid.NewString(), UserID: "u1", Subtotal: 3000, TotalAmount: 3000, Status: models.OrderPending, CreatedAt: time.Now()}
	require.NoError(t, s.CreateOrder(ctx, o, items(o.OrderID)[:1], nil, nil))
	p := &models.Payment{PaymentID: uuid.NewString(), OrderID: o.OrderID, Status: models.PaymentProcessing, CreatedAt: time.Now()}
	require.NoError(t, s.CreatePayment(ctx, p))

	c := models.Commission{
		CommissionID: uuid.NewString(), OrderID: o.OrderID, OrderItemID: "i1", VendorID: "v1",
		SaleAmount: 3000, CommissionRate: decimal.RequireFromString("0.1"), CommissionAmount: 300,
		Status: models.CommissionPending, CreatedAt: time.Now(),
	}
	_, err := s.SettlePayment(ctx, store.Settlement{PaymentID: p.PaymentID, TransactionID: "TX", CompletedAt: time.Now(), Commissions: []models.Commission{c}})
	require.NoError(t, err)
	return c.CommissionID
}

func TestLedger_MarkPaid(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	id := settledCommission(t, s)
	l := Ledger{Store: s}

	pending, err := l.List(ctx, store.CommissionFilter{VendorID: "v1", Status: models.CommissionPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	c, err := l.MarkPaid(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionPaid, c.Status)
	require.NotNil(t, c.PaidAt)

	_, err = l.MarkPaid(ctx, id)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = l.MarkPaid(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = l.List(ctx, store.CommissionFilter{Status: "bogus"})
	assert.ErrorIs(t, err, errs.ErrValidation)
}
