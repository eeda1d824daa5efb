package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
)

type recFixture struct {
	rec      *Reconciler
	orders   *fakeOrders
	payments *fakePayments
	points   *pointsLedger
	vouchers *usedVouchers
	order    *model.Order
	payment  *model.Payment
}

func pendingOrder() *model.Order {
	return &model.Order{
		ID: 10, Code: "CNM-250301-7K3QZD", CustomerID: 3, SlotID: 7,
		Seats:         []model.OrderSeat{{SeatID: "A1", Price: 90000}, {SeatID: "A2", Price: 90000}},
		Discounts:     []model.OrderDiscount{{Kind: model.DiscountVoucher, Code: "SAVE20", Amount: 20000, VoucherID: 5}},
		TotalAmount:   230000,
		FinalAmount:   210000,
		PaymentRail:   model.RailVNPay,
		PaymentStatus: model.PaymentPending,
		OrderStatus:   model.OrderPending,
	}
}

func newRecFixture(t *testing.T) *recFixture {
	t.Helper()
	o := pendingOrder()
	f := &recFixture{
		orders:   newFakeOrders(o),
		payments: &fakePayments{},
		points:   &pointsLedger{},
		vouchers: &usedVouchers{},
		order:    o,
	}
	f.payment = &model.Payment{OrderID: o.ID, OrderCode: o.Code, Rail: o.PaymentRail, Amount: o.FinalAmount, Status: model.PaymentRecordPending}
	require.NoError(t, f.payments.Create(context.Background(), f.payment))
	f.rec = NewReconciler(f.orders, f.payments, f.points, f.vouchers, 10000, zaptest.NewLogger(t))
	return f
}

func success(o *model.Order, amount int64) *Notification {
	return &Notification{Rail: o.PaymentRail, OrderCode: o.Code, Outcome: OutcomeSucceeded, Amount: amount, TransactionRef: "14001234"}
}

func TestHandleSuccessRedeliveryIsIdempotent(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()

	res, err := f.rec.HandleSuccess(ctx, success(f.order, 210000))
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, int64(21), res.PointsAwarded)
	assert.Equal(t, model.PaymentPaid, f.orders.get(f.order.Code).PaymentStatus)
	assert.Equal(t, model.OrderConfirmed, f.orders.get(f.order.Code).OrderStatus)
	assert.Equal(t, model.PaymentRecordSuccess, f.payments.status(f.payment.ID))

	res, err = f.rec.HandleSuccess(ctx, success(f.order, 210000))
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, int64(0), res.PointsAwarded)

	assert.Equal(t, 1, f.orders.paid)
	assert.Equal(t, int64(21), f.points.balance[3])
	assert.Equal(t, 1, f.vouchers.marks)
}

func TestHandleFailureReleasesAndKeepsOrderStatus(t *testing.T) {
	f := newRecFixture(t)
	n := &Notification{Rail: model.RailVNPay, OrderCode: f.order.Code, Outcome: OutcomeFailed, Amount: 210000, Reason: "card declined"}

	res, err := f.rec.HandleFailure(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	got := f.orders.get(f.order.Code)
	assert.Equal(t, model.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, model.OrderPending, got.OrderStatus)
	assert.Equal(t, model.PaymentRecordFailed, f.payments.status(f.payment.ID))

	res, err = f.rec.HandleFailure(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, 1, f.orders.failed)
}

func TestFailureAfterSuccessIsIgnored(t *testing.T) {
	f := newRecFixture(t)
	_, err := f.rec.HandleSuccess(context.Background(), success(f.order, 210000))
	require.NoError(t, err)

	res, err := f.rec.HandleFailure(context.Background(), &Notification{OrderCode: f.order.Code, Outcome: OutcomeFailed})
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, model.PaymentPaid, f.orders.get(f.order.Code).PaymentStatus)
	assert.Equal(t, model.PaymentRecordSuccess, f.payments.status(f.payment.ID))
}

func TestAmountMismatchFailsThePayment(t *testing.T) {
	f := newRecFixture(t)
	_, err := f.rec.HandleSuccess(context.Background(), success(f.order, 1000))
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, model.PaymentFailed, f.orders.get(f.order.Code).PaymentStatus)
	assert.Equal(t, 0, f.points.calls)
}

func TestSeatSyncFailureStillRecordsPayment(t *testing.T) {
	f := newRecFixture(t)
	f.orders.syncBad = true
	res, err := f.rec.HandleSuccess(context.Background(), success(f.order, 210000))
	require.NoError(t, err)
	assert.True(t, res.SeatSyncFailed)
	assert.Equal(t, model.PaymentRecordSuccess, f.payments.status(f.payment.ID))
	assert.Equal(t, int64(21), res.PointsAwarded)
}

func TestApplyUnknownOrder(t *testing.T) {
	f := newRecFixture(t)
	_, err := f.rec.Apply(context.Background(), &Notification{OrderCode: "CNM-000000-NOPE00", Outcome: OutcomeSucceeded})
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)

	res, err := f.rec.Apply(context.Background(), &Notification{OrderCode: f.order.Code, Outcome: OutcomePending})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, model.PaymentPending, f.orders.get(f.order.Code).PaymentStatus)
}

func TestHandleSuccessFinishesPointsOnRedelivery(t *testing.T) {
	f := newRecFixture(t)
	ledger := &flakyLedger{failures: 1}
	f.rec = NewReconciler(f.orders, f.payments, ledger, f.vouchers, 10000, zaptest.NewLogger(t))
	ctx := context.Background()

	res, err := f.rec.HandleSuccess(ctx, success(f.order, 210000))
	assert.ErrorIs(t, err, ErrSettlementIncomplete)
	require.NotNil(t, res)
	assert.Zero(t, res.PointsAwarded)
	assert.Equal(t, model.PaymentPaid, f.orders.get(f.order.Code).PaymentStatus)
	assert.Equal(t, 1, f.vouchers.marks)

	res, err = f.rec.HandleSuccess(ctx, success(f.order, 210000))
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, int64(21), res.PointsAwarded)
	assert.Equal(t, int64(21), ledger.balance[3])
	assert.Equal(t, 2, ledger.calls)
	assert.Equal(t, 1, f.orders.paid)
	assert.Equal(t, 1, f.vouchers.marks)
}

// twoAttempts leaves the fixture with an older attempt "cs_old" and the
// latest attempt "cs_live", both PENDING.
func twoAttempts(t *testing.T, f *recFixture) *model.Payment {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.payments.SetGatewayRef(ctx, f.payment.ID, "cs_old"))
	live := &model.Payment{
		OrderID: f.order.ID, OrderCode: f.order.Code, Rail: model.RailStripe,
		Amount: f.order.FinalAmount, Status: model.PaymentRecordPending, GatewayRef: "cs_live",
	}
	require.NoError(t, f.payments.Create(ctx, live))
	return live
}

func TestFailureOfOlderAttemptLeavesOrderAlone(t *testing.T) {
	f := newRecFixture(t)
	live := twoAttempts(t, f)
	ctx := context.Background()
	expired := func(ref string) *Notification {
		return &Notification{Rail: model.RailStripe, OrderCode: f.order.Code, Outcome: OutcomeFailed, GatewayRef: ref, Reason: "checkout session expired"}
	}

	res, err := f.rec.HandleFailure(ctx, expired("cs_old"))
	require.NoError(t, err)
	assert.True(t, res.Superseded)
	assert.Equal(t, model.PaymentPending, f.orders.get(f.order.Code).PaymentStatus)
	assert.Equal(t, 0, f.orders.failed)
	assert.Equal(t, model.PaymentRecordFailed, f.payments.status(f.payment.ID))
	assert.Equal(t, model.PaymentRecordPending, f.payments.status(live.ID))

	res, err = f.rec.HandleFailure(ctx, expired("cs_live"))
	require.NoError(t, err)
	assert.False(t, res.Superseded)
	assert.Equal(t, model.PaymentFailed, f.orders.get(f.order.Code).PaymentStatus)
	assert.Equal(t, model.PaymentRecordFailed, f.payments.status(live.ID))
}

func TestSuccessOnOlderAttemptStillPays(t *testing.T) {
	f := newRecFixture(t)
	live := twoAttempts(t, f)
	n := success(f.order, 210000)
	n.GatewayRef = "cs_old"

	res, err := f.rec.HandleSuccess(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, model.PaymentPaid, f.orders.get(f.order.Code).PaymentStatus)
	assert.Equal(t, model.PaymentRecordSuccess, f.payments.status(f.payment.ID))
	assert.Equal(t, model.PaymentRecordPending, f.payments.status(live.ID))
}

func TestNotificationForUnknownAttempt(t *testing.T) {
	f := newRecFixture(t)
	twoAttempts(t, f)
	other := &model.Payment{OrderID: 99, OrderCode: "CNM-250301-OTHER0", Rail: model.RailStripe, Amount: 5000, Status: model.PaymentRecordPending, GatewayRef: "cs_other"}
	require.NoError(t, f.payments.Create(context.Background(), other))

	for _, ref := range []string{"cs_missing", "cs_other"} {
		n := &Notification{Rail: model.RailStripe, OrderCode: f.order.Code, Outcome: OutcomeFailed, GatewayRef: ref}
		_, err := f.rec.HandleFailure(context.Background(), n)
		assert.ErrorIs(t, err, ErrPaymentNotFound, ref)
	}
	assert.Equal(t, model.PaymentPending, f.orders.get(f.order.Code).PaymentStatus)
}
