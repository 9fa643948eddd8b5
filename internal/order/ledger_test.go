package order_test

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/apperr"
	"ms-orders/internal/database/dbtest"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/order"
	"ms-orders/internal/order/db"
)

func newLedger(t *testing.T) (*order.Ledger, *db.DB) {
	t.Helper()
	store := &db.DB{Bun: dbtest.New(t)}
	return order.NewLedger(store, logger.Discard()), store
}

func sampleOrder() models.NewOrder {
	return models.NewOrder{
		UserID:       "user-1",
		CustomerName: "Ada Lovelace",
		Email:        "Ada@Example.com",
		ShippingAddress: models.Address{
			Name:       "Ada Lovelace",
			Line1:      "12 St James's Square",
			City:       "London",
			PostalCode: "SW1Y 4JH",
			Country:    "GB",
		},
		Pricing:    models.Pricing{Subtotal: 2500, Shipping: 500, Total: 3000, Currency: "usd"},
		CardConfig: map[string]interface{}{"template": "birthday"},
	}
}

func TestLedger_CreateAssignsNumberAndDefaults(t *testing.T) {
	ledger, _ := newLedger(t)

	o, err := ledger.Create(context.Background(), sampleOrder())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^ORD-\d{8}-[A-Z2-7]{6}$`), o.OrderNumber)
	assert.Equal(t, models.OrderPending, o.Status)
	assert.Equal(t, "ada@example.com", o.Email)

	got, err := ledger.GetByNumber(context.Background(), o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, "London", got.ShippingAddress.City)
	assert.Equal(t, int64(3000), got.Pricing.Total)
	assert.Equal(t, "birthday", got.CardConfig["template"])
}

func TestLedger_CreateValidation(t *testing.T) {
	ledger, _ := newLedger(t)

	in := sampleOrder()
	in.CustomerName = " "
	in.ShippingAddress.PostalCode = ""

	_, err := ledger.Create(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "customer_name")
	assert.Contains(t, err.Error(), "shipping_address.postal_code")

	in = sampleOrder()
	in.Status = models.OrderShipped
	_, err = ledger.Create(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	in = sampleOrder()
	in.Pricing.Subtotal = -1
	_, err = ledger.Create(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

type collidingDB struct {
	*db.DB
	collisions int32
}

func (c *collidingDB) InsertOrder(ctx context.Context, o *models.Order) (bool, error) {
	if atomic.AddInt32(&c.collisions, -1) >= 0 {
		return false, nil
	}
	return c.DB.InsertOrder(ctx, o)
}

func TestLedger_CreateRetriesOrderNumberCollision(t *testing.T) {
	store := &collidingDB{DB: &db.DB{Bun: dbtest.New(t)}, collisions: 2}
	ledger := order.NewLedger(store, logger.Discard())

	o, err := ledger.Create(context.Background(), sampleOrder())
	require.NoError(t, err)
	assert.NotEmpty(t, o.OrderNumber)
}

func TestLedger_CreateRejectsDuplicatePaymentID(t *testing.T) {
	ledger, _ := newLedger(t)

	in := sampleOrder()
	in.PaymentID = "pi_123"
	_, err := ledger.Create(context.Background(), in)
	require.NoError(t, err)

	_, err = ledger.Create(context.Background(), in)
	assert.ErrorIs(t, err, order.ErrDuplicatePayment)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := ledger.GetByPaymentIntent(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", got.PaymentID)
}

func TestLedger_LookupsReturnNotFound(t *testing.T) {
	ledger, _ := newLedger(t)

	_, err := ledger.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = ledger.GetByPaymentIntent(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLedger_UpdateStatusFollowsLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)

	o, err := ledger.Create(ctx, sampleOrder())
	require.NoError(t, err)

	_, _, err = ledger.UpdateStatus(ctx, o.ID, models.OrderShipped, models.StatusExtra{})
	var terr *apperr.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "pending", terr.From)

	for _, next := range []models.OrderStatus{models.OrderConfirmed, models.OrderProduction, models.OrderShipped} {
		updated, changed, err := ledger.UpdateStatus(ctx, o.ID, next, models.StatusExtra{})
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, next, updated.Status)
	}

	eta := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)
	updated, changed, err := ledger.UpdateStatus(ctx, o.ID, models.OrderShipped, models.StatusExtra{TrackingNumber: "1Z999"})
	require.NoError(t, err)
	assert.False(t, changed, "same status is a no-op")
	assert.Empty(t, updated.TrackingNumber)

	_, _, err = ledger.UpdateStatus(ctx, o.ID, models.OrderConfirmed, models.StatusExtra{})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	updated, changed, err = ledger.UpdateStatus(ctx, o.ID, models.OrderDelivered, models.StatusExtra{
		TrackingNumber:    "1Z999",
		TrackingURL:       "https://track.example.com/1Z999",
		EstimatedDelivery: &eta,
		Note:              "left at door",
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "1Z999", updated.TrackingNumber)
	assert.Equal(t, "left at door", updated.Notes)
	require.NotNil(t, updated.EstimatedDelivery)
	assert.True(t, eta.Equal(*updated.EstimatedDelivery))

	_, _, err = ledger.UpdateStatus(ctx, o.ID, models.OrderCancelled, models.StatusExtra{})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "delivered is terminal")
}

func TestLedger_CancelAppendsNote(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)

	in := sampleOrder()
	in.Notes = "gift wrap"
	o, err := ledger.Create(ctx, in)
	require.NoError(t, err)

	updated, changed, err := ledger.UpdateStatus(ctx, o.ID, models.OrderCancelled, models.StatusExtra{Note: "payment failed: card_declined"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "gift wrap\npayment failed: card_declined", updated.Notes)

	_, _, err = ledger.UpdateStatus(ctx, o.ID, models.OrderConfirmed, models.StatusExtra{})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "cancelled is terminal")
}

func TestLedger_ConcurrentConfirmChangesOnce(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)

	o, err := ledger.Create(ctx, sampleOrder())
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		changes int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := ledger.UpdateStatus(ctx, o.ID, models.OrderConfirmed, models.StatusExtra{})
			assert.NoError(t, err)
			if changed {
				atomic.AddInt32(&changes, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), changes)
}

func TestLedger_UpdateMergesPatchOnly(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)

	o, err := ledger.Create(ctx, sampleOrder())
	require.NoError(t, err)

	phone := "+15555550100"
	pi := "pi_abc"
	updated, err := ledger.Update(ctx, o.ID, models.OrderPatch{Phone: &phone, PaymentID: &pi})
	require.NoError(t, err)
	assert.Equal(t, phone, updated.Phone)

	got, err := ledger.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_abc", got.PaymentID)
	assert.Equal(t, "Ada Lovelace", got.CustomerName)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	assert.Equal(t, models.OrderPending, got.Status)

	empty := ""
	_, err = ledger.Update(ctx, o.ID, models.OrderPatch{Email: &empty})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestLedger_RecordEmailMergesByType(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)

	o, err := ledger.Create(ctx, sampleOrder())
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	_, err = ledger.RecordEmail(ctx, o.ID, models.EmailConfirmation, models.EmailRecord{Sent: true, Timestamp: now, MessageID: "m1", Attempts: 1})
	require.NoError(t, err)
	_, err = ledger.RecordEmail(ctx, o.ID, models.EmailReceipt, models.EmailRecord{Sent: false, Timestamp: now, Error: "bounced", Attempts: 3})
	require.NoError(t, err)

	got, err := ledger.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.EmailsSent, 2)
	assert.Equal(t, "m1", got.EmailsSent[models.EmailConfirmation].MessageID)
	assert.Equal(t, 3, got.EmailsSent[models.EmailReceipt].Attempts)
	assert.False(t, got.EmailsSent[models.EmailReceipt].Sent)

	_, err = ledger.RecordEmail(ctx, "missing", models.EmailReceipt, models.EmailRecord{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLedger_ListStalePending(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	ledger.WithClock(func() time.Time { return now })

	old, err := ledger.Create(ctx, sampleOrder())
	require.NoError(t, err)
	paid, err := ledger.Create(ctx, sampleOrder())
	require.NoError(t, err)
	_, _, err = ledger.UpdateStatus(ctx, paid.ID, models.OrderConfirmed, models.StatusExtra{})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = ledger.Create(ctx, sampleOrder())
	require.NoError(t, err)

	stale, err := ledger.ListStalePending(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestLedger_ListByUserAndSavedAddresses(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)

	first, err := ledger.Create(ctx, sampleOrder())
	require.NoError(t, err)
	_, err = ledger.Create(ctx, sampleOrder())
	require.NoError(t, err)
	other := sampleOrder()
	other.UserID = "user-2"
	_, err = ledger.Create(ctx, other)
	require.NoError(t, err)

	orders, err := ledger.ListByUser(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	require.NoError(t, ledger.SaveShippingAddress(ctx, first))
	require.NoError(t, ledger.SaveShippingAddress(ctx, first))

	saved, err := ledger.ShippingAddresses(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, first.ShippingAddress.Line1, saved[0].Line1)

	none, err := ledger.ShippingAddresses(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCanTransition(t *testing.T) {
	statuses := []models.OrderStatus{
		models.OrderPending, models.OrderConfirmed, models.OrderProduction,
		models.OrderShipped, models.OrderDelivered, models.OrderCancelled,
	}
	allowed := map[[2]models.OrderStatus]bool{
		{models.OrderPending, models.OrderConfirmed}:      true,
		{models.OrderConfirmed, models.OrderProduction}:   true,
		{models.OrderProduction, models.OrderShipped}:     true,
		{models.OrderShipped, models.OrderDelivered}:      true,
		{models.OrderPending, models.OrderCancelled}:      true,
		{models.OrderConfirmed, models.OrderCancelled}:    true,
		{models.OrderProduction, models.OrderCancelled}:   true,
		{models.OrderShipped, models.OrderCancelled}:      true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			err := order.CanTransition(from, to)
			if allowed[[2]models.OrderStatus{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "%s -> %s", from, to)
			}
		}
	}

	assert.ErrorIs(t, order.CanTransition(models.OrderPending, "refunded"), apperr.ErrValidation)
}
