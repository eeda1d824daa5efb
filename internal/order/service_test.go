package order

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/cinema-ticketing/internal/config"
	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/queue"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
	"github.com/iliyamo/cinema-ticketing/internal/reservation"
)

const slotID = 7

type fixture struct {
	svc      *Service
	engine   *reservation.Engine
	store    *seatStore
	orders   *memOrders
	vouchers *voucherLedger
	pub      *recordingPublisher
	clock    *fakeClock
}

func newFixture(t *testing.T, discounts fixedDiscounts) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := newSeatStore(model.Slot{
		ID: slotID, ShowingGroupID: 3, RoomID: 2,
		StartsAt: time.Date(2025, 3, 1, 13, 30, 0, 0, time.UTC),
	}, "A1", "A2", "A3", "A4")
	log := zaptest.NewLogger(t)
	engine := reservation.NewEngine(store, log,
		reservation.WithClock(clock.Now),
		reservation.WithLocation(time.FixedZone("ICT", 7*3600)))

	prices := priceList{}
	for _, id := range []model.SeatID{"A1", "A2", "A3", "A4"} {
		prices[id] = model.Seat{RoomID: 2, SeatID: id, Category: model.SeatNormal, BasePrice: 90000}
	}
	f := &fixture{
		engine:   engine,
		store:    store,
		orders:   newMemOrders(),
		vouchers: &voucherLedger{},
		pub:      &recordingPublisher{},
		clock:    clock,
	}
	f.svc = NewService(Deps{
		Orders:    f.orders,
		Seats:     engine,
		Catalog:   prices,
		Products:  productList{11: {ID: 11, Name: "Combo Couple", Price: 50000}},
		Discounts: discounts,
		Vouchers:  f.vouchers,
		Publisher: f.pub,
	}, config.OrderConfig{OrderTTL: time.Hour, PaidOrderTTL: 365 * 24 * time.Hour, CodePrefix: "CNM", CodeAttempts: 3}, log)
	f.svc.now = clock.Now
	return f
}

func checkout(seats ...model.SeatID) CreateInput {
	return CreateInput{
		CustomerID:  1,
		SlotID:      slotID,
		Seats:       seats,
		PaymentRail: model.RailVNPay,
		Contact:     model.Contact{Name: "Lan", Email: "lan@example.com", Phone: "0900000000"},
	}
}

var voucher20k = fixedDiscounts{voucher: model.OrderDiscount{Kind: model.DiscountVoucher, Amount: 20000, VoucherID: 5}}

func TestCreateOrderPricesAndHolds(t *testing.T) {
	f := newFixture(t, voucher20k)
	in := checkout("A1", "A2")
	in.AddOns = []AddOnInput{{ProductID: 11, Quantity: 1}}
	in.VoucherCode = "SAVE20"

	o, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, int64(180000), o.TicketPrice)
	assert.Equal(t, int64(50000), o.ComboPrice)
	assert.Equal(t, int64(230000), o.TotalAmount)
	assert.Equal(t, int64(20000), o.DiscountAmount)
	assert.Equal(t, int64(210000), o.FinalAmount)
	assert.Equal(t, model.PaymentPending, o.PaymentStatus)
	assert.Equal(t, model.OrderPending, o.OrderStatus)
	require.NotNil(t, o.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *o.ExpiresAt)
	assert.Equal(t, uint64(5), f.orders.vouchersIn[o.ID])

	for _, id := range []model.SeatID{"A1", "A2"} {
		e := f.store.entry(slotID, id)
		assert.Equal(t, model.SeatHeld, e.Status)
		assert.Equal(t, o.Code, e.HolderRef)
	}
	assert.Equal(t, []queue.EventType{queue.OrderCreated}, f.pub.types())
}

func TestCreateOrderByCompositeReference(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	in := checkout("A3")
	in.SlotID = 0
	in.ShowingGroupID, in.RoomID = 3, 2
	in.Date, in.StartTime = "2025-03-01", "20h30"

	o, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, uint64(slotID), o.SlotID)
	assert.Equal(t, int64(90000), o.FinalAmount)
}

func TestCreateOrderSeatUnavailableCreatesNothing(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	_, err := f.engine.Hold(context.Background(), slotID, []model.SeatID{"A2"}, "someone-else")
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(context.Background(), checkout("A2", "A3"))
	require.ErrorIs(t, err, reservation.ErrSeatUnavailable)
	assert.Equal(t, []model.SeatID{"A2"}, reservation.UnavailableSeats(err))
	assert.Empty(t, f.orders.byID)
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A3").Status)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	cases := map[string]func(*CreateInput){
		"no customer": func(in *CreateInput) { in.CustomerID = 0 },
		"no seats":    func(in *CreateInput) { in.Seats = nil },
		"bad rail":    func(in *CreateInput) { in.PaymentRail = "CASH" },
		"no phone":    func(in *CreateInput) { in.Contact.Phone = " " },
		"no showing":  func(in *CreateInput) { in.SlotID = 0 },
		"bad add-on":  func(in *CreateInput) { in.AddOns = []AddOnInput{{ProductID: 11}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := checkout("A1")
			mutate(&in)
			_, err := f.svc.CreateOrder(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A1").Status)
}

func TestCreateOrderUnknownSeatAndProduct(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	_, err := f.svc.CreateOrder(context.Background(), checkout("Z9"))
	assert.ErrorIs(t, err, reservation.ErrSeatNotFound)

	in := checkout("A1")
	in.AddOns = []AddOnInput{{ProductID: 99, Quantity: 1}}
	_, err = f.svc.CreateOrder(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateOrderReleasesHoldWhenPersistFails(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	f.orders.createErr = errors.New("disk full")

	_, err := f.svc.CreateOrder(context.Background(), checkout("A1", "A2"))
	require.Error(t, err)
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A1").Status)
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A2").Status)

	f.orders.createErr = repository.ErrDuplicateCode
	_, err = f.svc.CreateOrder(context.Background(), checkout("A1"))
	assert.ErrorIs(t, err, ErrOrderCodeCollision)
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A1").Status)
}

func TestCreateOrderCodeAttemptsAreBounded(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	f.orders.taken["CNM-250301-AAAAAA"] = true
	calls := 0
	f.svc.newCode = func(string, time.Time) (string, error) {
		calls++
		return "CNM-250301-AAAAAA", nil
	}
	_, err := f.svc.CreateOrder(context.Background(), checkout("A1"))
	assert.ErrorIs(t, err, ErrOrderCodeCollision)
	assert.Equal(t, 3, calls)
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A1").Status)
}

func TestCancelOrderReleasesSeatsAndRestoresVoucher(t *testing.T) {
	f := newFixture(t, voucher20k)
	in := checkout("A1", "A2")
	in.VoucherCode = "SAVE20"
	o, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), o.ID, 999, "changed mind")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	got, err := f.svc.CancelOrder(context.Background(), o.ID, 1, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCancelled, got.PaymentStatus)
	assert.Equal(t, model.OrderCancelled, got.OrderStatus)
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A1").Status)
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A2").Status)
	assert.Equal(t, []uint64{5}, f.vouchers.restored)

	again, err := f.svc.CancelOrder(context.Background(), o.ID, 1, "again")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCancelled, again.PaymentStatus)
	assert.Equal(t, []uint64{5}, f.vouchers.restored)
}

func TestCancelPaidOrderIsRejected(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	o, err := f.svc.CreateOrder(context.Background(), checkout("A1"))
	require.NoError(t, err)
	_, err = f.svc.MarkPaid(context.Background(), o)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), o.ID, 1, "too late")
	assert.ErrorIs(t, err, ErrCannotCancelPaid)
	assert.Equal(t, model.SeatConfirmed, f.store.entry(slotID, "A1").Status)
}

func TestMarkPaidConfirmsSeatsOnce(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	o, err := f.svc.CreateOrder(context.Background(), checkout("A1", "A2"))
	require.NoError(t, err)

	res, err := f.svc.MarkPaid(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.SeatSyncFailed)

	stored := f.orders.get(o.ID)
	assert.Equal(t, model.PaymentPaid, stored.PaymentStatus)
	assert.Equal(t, model.OrderConfirmed, stored.OrderStatus)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, stored.ExpiresAt.After(f.clock.Now().Add(364*24*time.Hour)))
	for _, id := range []model.SeatID{"A1", "A2"} {
		e := f.store.entry(slotID, id)
		assert.Equal(t, model.SeatConfirmed, e.Status)
		assert.Nil(t, e.HoldExpiry)
		assert.Empty(t, e.HolderRef)
	}

	cur, _ := f.orders.GetByID(context.Background(), o.ID)
	res, err = f.svc.MarkPaid(context.Background(), cur)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, []queue.EventType{queue.OrderCreated, queue.OrderPaid}, f.pub.types())
}

func TestMarkPaidSeatConflictIsRecordedNotFailed(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	o, err := f.svc.CreateOrder(context.Background(), checkout("A1", "A2"))
	require.NoError(t, err)

	// hold lapses and another customer grabs A2 before the callback lands
	f.clock.Advance(6 * time.Minute)
	_, err = f.engine.Hold(context.Background(), slotID, []model.SeatID{"A2"}, "other")
	require.NoError(t, err)

	res, err := f.svc.MarkPaid(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.SeatSyncFailed)

	stored := f.orders.get(o.ID)
	assert.Equal(t, model.PaymentPaid, stored.PaymentStatus)
	assert.True(t, stored.SeatSyncFailed)
	assert.Contains(t, f.pub.types(), queue.SeatsReconciliationRequired)

	require.Error(t, f.svc.RetrySeatSync(context.Background(), o.ID))

	_, err = f.engine.Release(context.Background(), slotID, []model.SeatID{"A2"}, "other")
	require.NoError(t, err)
	require.NoError(t, f.svc.RetrySeatSync(context.Background(), o.ID))
	assert.False(t, f.orders.get(o.ID).SeatSyncFailed)
	assert.Equal(t, model.SeatConfirmed, f.store.entry(slotID, "A2").Status)
}

func TestMarkFailedReleasesSeatsKeepsOrderStatus(t *testing.T) {
	f := newFixture(t, voucher20k)
	in := checkout("A1", "A2")
	in.VoucherCode = "SAVE20"
	o, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	changed, err := f.svc.MarkFailed(context.Background(), o, "card declined")
	require.NoError(t, err)
	assert.True(t, changed)

	stored := f.orders.get(o.ID)
	assert.Equal(t, model.PaymentFailed, stored.PaymentStatus)
	assert.Equal(t, model.OrderPending, stored.OrderStatus)
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A1").Status)
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A2").Status)
	assert.Equal(t, []uint64{5}, f.vouchers.restored)

	changed, err = f.svc.MarkFailed(context.Background(), o, "redelivered")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUpdateOrderTransitions(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	o, err := f.svc.CreateOrder(context.Background(), checkout("A1"))
	require.NoError(t, err)

	_, err = f.svc.UpdateOrder(context.Background(), o.ID, model.PaymentRefunded, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := f.svc.UpdateOrder(context.Background(), o.ID, model.PaymentPaid, "")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, model.SeatConfirmed, f.store.entry(slotID, "A1").Status)

	_, err = f.svc.UpdateOrder(context.Background(), o.ID, model.PaymentFailed, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.UpdateOrder(context.Background(), o.ID, model.PaymentCancelled, "")
	assert.ErrorIs(t, err, ErrCannotCancelPaid)

	_, err = f.svc.UpdateOrder(context.Background(), 404, model.PaymentPaid, "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestExpireAbandonedCancelsAndFreesSeats(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	stale, err := f.svc.CreateOrder(context.Background(), checkout("A1"))
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	fresh, err := f.svc.CreateOrder(context.Background(), checkout("A2"))
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	n, err := f.svc.ExpireAbandoned(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, model.PaymentCancelled, f.orders.get(stale.ID).PaymentStatus)
	assert.Equal(t, "expired", f.orders.get(stale.ID).CancelReason)
	assert.Equal(t, model.PaymentPending, f.orders.get(fresh.ID).PaymentStatus)
	assert.Equal(t, model.SeatAvailable, f.store.entry(slotID, "A1").Status)

	_, err = f.engine.Hold(context.Background(), slotID, []model.SeatID{"A1"}, "next-customer")
	assert.NoError(t, err)
}

func TestGetByCodeScopesToCustomer(t *testing.T) {
	f := newFixture(t, fixedDiscounts{})
	o, err := f.svc.CreateOrder(context.Background(), checkout("A4"))
	require.NoError(t, err)

	got, err := f.svc.GetByCode(context.Background(), " "+o.Code+" ", 1)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.svc.GetByCode(context.Background(), o.Code, 2)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	st, err := f.svc.Stats(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalOrders)
}

func TestNewCodeFormat(t *testing.T) {
	re := regexp.MustCompile(`^CNM-250301-[0-9A-HJKMNP-TV-Z]{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := newCode("cnm", time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Regexp(t, re, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}
