// Package order is the order lifecycle manager.  It prices a checkout,
// holds its seats before the order row exists, and drives the order's
// payment and fulfilment status afterwards, keeping the seat map in step.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticketing/internal/config"
	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/queue"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
	"github.com/iliyamo/cinema-ticketing/internal/reservation"
)

// Repository persists orders.  *repository.OrderRepo implements it.
type Repository interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, o *model.Order, voucherID uint64) error
	GetByID(ctx context.Context, id uint64) (*model.Order, error)
	GetByCode(ctx context.Context, code string) (*model.Order, error)
	MarkPaid(ctx context.Context, id uint64, expiresAt time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, id uint64) (bool, error)
	Cancel(ctx context.Context, id uint64, reason string) (bool, error)
	SetSeatSyncFailed(ctx context.Context, id uint64, failed bool) error
	ListAbandoned(ctx context.Context, now time.Time, limit int) ([]*model.Order, error)
	Stats(ctx context.Context, from, to time.Time) (*model.OrderStats, error)
}

// Seats is the slice of the reservation engine the order manager drives.
type Seats interface {
	Locate(ctx context.Context, groupID, roomID uint64, start, date string) (uint64, error)
	Seats(ctx context.Context, slotID uint64) (*model.SeatMap, error)
	Hold(ctx context.Context, slotID uint64, seats []model.SeatID, holder string) (*reservation.HoldResult, error)
	Confirm(ctx context.Context, slotID uint64, seats []model.SeatID, holder string) (*reservation.ConfirmResult, error)
	Release(ctx context.Context, slotID uint64, seats []model.SeatID, holder string) (*reservation.ReleaseResult, error)
}

// Catalog supplies seat prices.
type Catalog interface {
	ByIDs(ctx context.Context, roomID uint64, ids []model.SeatID) (map[model.SeatID]model.Seat, error)
}

// Products supplies add-on prices.
type Products interface {
	ActiveByIDs(ctx context.Context, ids []uint64) (map[uint64]repository.Product, error)
}

// Discounter computes discount lines.  It has no side effects.
type Discounter interface {
	VoucherDiscount(ctx context.Context, code string, amount int64, customerID uint64) (model.OrderDiscount, error)
	AmountDiscount(ctx context.Context, subtotal int64) (*model.OrderDiscount, error)
}

// Vouchers gives consumed vouchers back.
type Vouchers interface {
	Restore(ctx context.Context, voucherID, orderID uint64) (bool, error)
}

// PaymentCloser closes out pending gateway attempts of a cancelled order.
type PaymentCloser interface {
	MarkCancelled(ctx context.Context, orderID uint64) error
}

// Deps groups the collaborators of a Service.  Payments and Publisher
// may be nil.
type Deps struct {
	Orders    Repository
	Seats     Seats
	Catalog   Catalog
	Products  Products
	Discounts Discounter
	Vouchers  Vouchers
	Payments  PaymentCloser
	Publisher queue.Publisher
}

// Service implements the order lifecycle.
type Service struct {
	orders    Repository
	seats     Seats
	catalog   Catalog
	products  Products
	discounts Discounter
	vouchers  Vouchers
	payments  PaymentCloser
	pub       queue.Publisher
	cfg       config.OrderConfig
	log       *zap.Logger

	now     func() time.Time
	newCode func(prefix string, now time.Time) (string, error)
}

func NewService(d Deps, cfg config.OrderConfig, log *zap.Logger) *Service {
	if d.Orders == nil || d.Seats == nil || d.Catalog == nil || d.Products == nil || d.Discounts == nil || d.Vouchers == nil {
		panic("order: missing dependency")
	}
	if d.Publisher == nil {
		d.Publisher = queue.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CodeAttempts < 1 {
		cfg.CodeAttempts = 1
	}
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = time.Hour
	}
	if cfg.PaidOrderTTL <= 0 {
		cfg.PaidOrderTTL = 365 * 24 * time.Hour
	}
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = "CNM"
	}
	return &Service{
		orders:    d.Orders,
		seats:     d.Seats,
		catalog:   d.Catalog,
		products:  d.Products,
		discounts: d.Discounts,
		vouchers:  d.Vouchers,
		payments:  d.Payments,
		pub:       d.Publisher,
		cfg:       cfg,
		log:       log.Named("order"),
		now:       time.Now,
		newCode:   newCode,
	}
}

// AddOnInput is a requested concession line.
type AddOnInput struct {
	ProductID uint64 `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateInput is a checkout request.  The showing is addressed either by
// SlotID or by the composite (group, room, date, start) reference.
type CreateInput struct {
	CustomerID     uint64
	SlotID         uint64
	ShowingGroupID uint64
	RoomID         uint64
	Date           string
	StartTime      string
	Seats          []model.SeatID
	AddOns         []AddOnInput
	VoucherCode    string
	PaymentRail    model.PaymentRail
	Contact        model.Contact
}

func (in *CreateInput) validate() error {
	if in.CustomerID == 0 {
		return invalid("customer", "required")
	}
	if in.SlotID == 0 && (in.ShowingGroupID == 0 || in.RoomID == 0 || strings.TrimSpace(in.StartTime) == "") {
		return invalid("showing", "slot_id or showing_group_id, room_id and start_time required")
	}
	if len(in.Seats) == 0 {
		return invalid("seats", "at least one seat required")
	}
	if !in.PaymentRail.Valid() {
		return invalid("payment_method", "must be STRIPE or VNPAY")
	}
	c := &in.Contact
	c.Name, c.Email, c.Phone = strings.TrimSpace(c.Name), strings.TrimSpace(c.Email), strings.TrimSpace(c.Phone)
	if c.Name == "" || c.Email == "" || c.Phone == "" {
		return invalid("contact", "name, email and phone required")
	}
	if !strings.Contains(c.Email, "@") {
		return invalid("contact.email", "malformed")
	}
	for _, a := range in.AddOns {
		if a.ProductID == 0 || a.Quantity <= 0 {
			return invalid("add_ons", "product_id and a positive quantity required")
		}
	}
	return nil
}

// CreateOrder validates and prices the checkout, holds the seats under the
// new order code, and only then persists the order.  If persisting fails
// the hold is released again.
func (s *Service) CreateOrder(ctx context.Context, in CreateInput) (*model.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	seatIDs := uniqueSeats(in.Seats)
	if len(seatIDs) == 0 {
		return nil, invalid("seats", "at least one seat required")
	}

	slotID := in.SlotID
	if slotID == 0 {
		id, err := s.seats.Locate(ctx, in.ShowingGroupID, in.RoomID, in.StartTime, in.Date)
		if err != nil {
			return nil, err
		}
		slotID = id
	}
	sm, err := s.seats.Seats(ctx, slotID)
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		CustomerID:     in.CustomerID,
		SlotID:         slotID,
		ShowingGroupID: sm.Slot.ShowingGroupID,
		RoomID:         sm.Slot.RoomID,
		StartsAt:       sm.Slot.StartsAt,
		PaymentRail:    in.PaymentRail,
		PaymentStatus:  model.PaymentPending,
		OrderStatus:    model.OrderPending,
		Contact:        in.Contact,
	}
	if err := s.priceSeats(ctx, o, seatIDs); err != nil {
		return nil, err
	}
	if err := s.priceAddOns(ctx, o, in.AddOns); err != nil {
		return nil, err
	}
	voucherID, err := s.applyDiscounts(ctx, o, in.VoucherCode)
	if err != nil {
		return nil, err
	}

	now := s.now()
	code, err := s.uniqueCode(ctx, now)
	if err != nil {
		return nil, err
	}
	o.Code = code
	exp := now.Add(s.cfg.OrderTTL).UTC()
	o.ExpiresAt = &exp

	if _, err := s.seats.Hold(ctx, slotID, seatIDs, code); err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, o, voucherID); err != nil {
		s.releaseHold(ctx, o)
		switch {
		case errors.Is(err, repository.ErrDuplicateCode):
			return nil, fmt.Errorf("%w: %s", ErrOrderCodeCollision, code)
		case errors.Is(err, repository.ErrVoucherUnavailable):
			return nil, invalid("voucher_code", "voucher is no longer available")
		}
		return nil, fmt.Errorf("persist order: %w", err)
	}

	s.log.Info("order created",
		zap.String("order_code", o.Code), zap.Uint64("order_id", o.ID), zap.Uint64("slot_id", slotID),
		zap.Int("seats", len(o.Seats)), zap.Int64("final_amount", o.FinalAmount))
	s.publish(ctx, queue.OrderCreated, o, "")
	return o, nil
}

func (s *Service) priceSeats(ctx context.Context, o *model.Order, ids []model.SeatID) error {
	catalog, err := s.catalog.ByIDs(ctx, o.RoomID, ids)
	if err != nil {
		return fmt.Errorf("load seat prices: %w", err)
	}
	var missing []model.SeatID
	for _, id := range ids {
		seat, ok := catalog[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		o.Seats = append(o.Seats, model.OrderSeat{SeatID: id, Category: seat.Category, Price: seat.BasePrice})
		o.TicketPrice += seat.BasePrice
	}
	if len(missing) > 0 {
		return &reservation.UnknownSeatsError{Seats: missing}
	}
	return nil
}

func (s *Service) priceAddOns(ctx context.Context, o *model.Order, lines []AddOnInput) error {
	if len(lines) == 0 {
		return nil
	}
	qty := map[uint64]int{}
	var ids []uint64
	for _, l := range lines {
		if _, ok := qty[l.ProductID]; !ok {
			ids = append(ids, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}
	products, err := s.products.ActiveByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return invalid("add_ons", fmt.Sprintf("product %d is not available", id))
		}
		line := model.OrderAddOn{ProductID: id, Name: p.Name, Quantity: qty[id], UnitPrice: p.Price}
		o.AddOns = append(o.AddOns, line)
		o.ComboPrice += line.LineTotal()
	}
	return nil
}

// applyDiscounts fills the discount lines and amounts.  The amount tier is
// computed on the subtotal, the voucher on what remains.
func (s *Service) applyDiscounts(ctx context.Context, o *model.Order, voucherCode string) (uint64, error) {
	o.TotalAmount = o.TicketPrice + o.ComboPrice
	remaining := o.TotalAmount

	tier, err := s.discounts.AmountDiscount(ctx, o.TotalAmount)
	if err != nil {
		return 0, fmt.Errorf("amount discount: %w", err)
	}
	if tier != nil && tier.Amount > 0 {
		if tier.Amount > remaining {
			tier.Amount = remaining
		}
		o.Discounts = append(o.Discounts, *tier)
		remaining -= tier.Amount
	}

	var voucherID uint64
	if code := strings.TrimSpace(voucherCode); code != "" {
		d, err := s.discounts.VoucherDiscount(ctx, code, remaining, o.CustomerID)
		if err != nil {
			return 0, err
		}
		if d.Amount > remaining {
			d.Amount = remaining
		}
		o.Discounts = append(o.Discounts, d)
		remaining -= d.Amount
		voucherID = d.VoucherID
	}

	o.DiscountAmount = o.TotalAmount - remaining
	o.FinalAmount = remaining
	if o.FinalAmount < 0 {
		o.FinalAmount = 0
	}
	return voucherID, nil
}

func (s *Service) uniqueCode(ctx context.Context, now time.Time) (string, error) {
	for i := 0; i < s.cfg.CodeAttempts; i++ {
		code, err := s.newCode(s.cfg.CodePrefix, now)
		if err != nil {
			return "", err
		}
		taken, err := s.orders.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		s.log.Debug("order code taken", zap.String("order_code", code))
	}
	return "", fmt.Errorf("%w after %d attempts", ErrOrderCodeCollision, s.cfg.CodeAttempts)
}

// GetByID returns an order.  A non-zero customerID restricts the lookup to
// that customer's orders.
func (s *Service) GetByID(ctx context.Context, id, customerID uint64) (*model.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if customerID != 0 && o.CustomerID != customerID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) GetByCode(ctx context.Context, code string, customerID uint64) (*model.Order, error) {
	o, err := s.orders.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if customerID != 0 && o.CustomerID != customerID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// CancelOrder cancels an unpaid order and releases its seats.  Cancelling
// an already cancelled order returns it unchanged.
func (s *Service) CancelOrder(ctx context.Context, id, customerID uint64, reason string) (*model.Order, error) {
	o, err := s.GetByID(ctx, id, customerID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, o, reason)
}

func (s *Service) cancel(ctx context.Context, o *model.Order, reason string) (*model.Order, error) {
	switch o.PaymentStatus {
	case model.PaymentPaid, model.PaymentRefunded:
		return nil, ErrCannotCancelPaid
	case model.PaymentCancelled:
		return o, nil
	}
	changed, err := s.orders.Cancel(ctx, o.ID, reason)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Lost a race; report whatever won.
		cur, err := s.orders.GetByID(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if cur.PaymentStatus == model.PaymentPaid || cur.PaymentStatus == model.PaymentRefunded {
			return nil, ErrCannotCancelPaid
		}
		return cur, nil
	}
	o.PaymentStatus, o.OrderStatus, o.CancelReason = model.PaymentCancelled, model.OrderCancelled, reason

	s.releaseHold(ctx, o)
	s.restoreVoucher(ctx, o)
	if s.payments != nil {
		if err := s.payments.MarkCancelled(ctx, o.ID); err != nil {
			s.log.Warn("close pending payments failed", zap.String("order_code", o.Code), zap.Error(err))
		}
	}
	s.log.Info("order cancelled", zap.String("order_code", o.Code), zap.String("reason", reason))
	s.publish(ctx, queue.OrderCancelled, o, reason)
	return o, nil
}

// PaidResult reports what MarkPaid did.
type PaidResult struct {
	Order *model.Order
	// Changed is false when the order was already PAID.
	Changed bool
	// SeatSyncFailed is set when the seats could not be confirmed.
	SeatSyncFailed bool
}

// MarkPaid records a successful payment: the order becomes PAID/CONFIRMED
// with a far expiry, then its seats are confirmed under the order code.  A
// seat confirmation failure never fails the call; the order is flagged,
// the discrepancy logged and a reconciliation event published.
func (s *Service) MarkPaid(ctx context.Context, o *model.Order) (*PaidResult, error) {
	exp := s.now().Add(s.cfg.PaidOrderTTL).UTC()
	changed, err := s.orders.MarkPaid(ctx, o.ID, exp)
	if err != nil {
		return nil, fmt.Errorf("mark order paid: %w", err)
	}
	res := &PaidResult{Order: o, Changed: changed}
	if !changed {
		return res, nil
	}
	wasCancelled := o.OrderStatus == model.OrderCancelled
	o.PaymentStatus, o.OrderStatus, o.ExpiresAt = model.PaymentPaid, model.OrderConfirmed, &exp
	if wasCancelled {
		s.log.Warn("payment captured for a cancelled order", zap.String("order_code", o.Code))
	}

	if err := s.confirmSeats(ctx, o); err != nil {
		res.SeatSyncFailed = true
		s.flagSeatSync(ctx, o, err)
	}
	s.log.Info("order paid", zap.String("order_code", o.Code), zap.Int64("final_amount", o.FinalAmount))
	s.publish(ctx, queue.OrderPaid, o, "")
	return res, nil
}

func (s *Service) confirmSeats(ctx context.Context, o *model.Order) error {
	if len(o.Seats) == 0 {
		return nil
	}
	_, err := s.seats.Confirm(ctx, o.SlotID, o.SeatIDs(), o.Code)
	return err
}

func (s *Service) flagSeatSync(ctx context.Context, o *model.Order, cause error) {
	o.SeatSyncFailed = true
	if err := s.orders.SetSeatSyncFailed(ctx, o.ID, true); err != nil {
		s.log.Error("flag seat sync failed", zap.String("order_code", o.Code), zap.Error(err))
	}
	s.log.Error(ErrInconsistentSeatConfirmation.Error(),
		zap.String("order_code", o.Code),
		zap.Uint64("slot_id", o.SlotID),
		zap.Strings("seats", seatStrings(o.SeatIDs())),
		zap.NamedError("cause", cause))
	s.publish(ctx, queue.SeatsReconciliationRequired, o, cause.Error())
}

// RetrySeatSync confirms the seats of a paid order that was flagged by
// MarkPaid and clears the flag on success.
func (s *Service) RetrySeatSync(ctx context.Context, orderID uint64) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.PaymentStatus != model.PaymentPaid {
		return nil
	}
	if err := s.confirmSeats(ctx, o); err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistentSeatConfirmation, err)
	}
	if o.SeatSyncFailed {
		return s.orders.SetSeatSyncFailed(ctx, o.ID, false)
	}
	return nil
}

// MarkFailed records a failed payment: paymentStatus becomes FAILED, the
// order status is left as is, the seats go back to the pool and the
// voucher is restored.  It reports false when the order was not PENDING.
func (s *Service) MarkFailed(ctx context.Context, o *model.Order, reason string) (bool, error) {
	changed, err := s.orders.MarkPaymentFailed(ctx, o.ID)
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	if !changed {
		return false, nil
	}
	o.PaymentStatus = model.PaymentFailed
	s.releaseHold(ctx, o)
	s.restoreVoucher(ctx, o)
	s.log.Info("order payment failed", zap.String("order_code", o.Code), zap.String("reason", reason))
	s.publish(ctx, queue.OrderPaymentFailed, o, reason)
	return true, nil
}

// UpdateOrder is the administrative payment-status transition.  PAID,
// FAILED and CANCELLED follow the same paths as gateway reconciliation.
func (s *Service) UpdateOrder(ctx context.Context, id uint64, status model.PaymentStatus, reason string) (*model.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch status {
	case model.PaymentPaid:
		if _, err := s.MarkPaid(ctx, o); err != nil {
			return nil, err
		}
	case model.PaymentFailed:
		changed, err := s.MarkFailed(ctx, o, reason)
		if err != nil {
			return nil, err
		}
		if !changed && o.PaymentStatus != model.PaymentFailed {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.PaymentStatus, status)
		}
	case model.PaymentCancelled:
		if _, err := s.cancel(ctx, o, reason); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.PaymentStatus, status)
	}
	return s.orders.GetByID(ctx, id)
}

// ExpireAbandoned cancels PENDING orders whose deadline has passed and
// releases their seats.  It returns how many orders it cancelled.
func (s *Service) ExpireAbandoned(ctx context.Context) (int, error) {
	list, err := s.orders.ListAbandoned(ctx, s.now(), 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range list {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if _, err := s.cancel(ctx, o, "expired"); err != nil {
			s.log.Warn("expire order failed", zap.String("order_code", o.Code), zap.Error(err))
			continue
		}
		if o.PaymentStatus == model.PaymentCancelled {
			n++
		}
	}
	return n, nil
}

// Stats aggregates orders created within [from, to).
func (s *Service) Stats(ctx context.Context, from, to time.Time) (*model.OrderStats, error) {
	return s.orders.Stats(ctx, from, to)
}

func (s *Service) releaseHold(ctx context.Context, o *model.Order) {
	if len(o.Seats) == 0 {
		return
	}
	if _, err := s.seats.Release(ctx, o.SlotID, o.SeatIDs(), o.Code); err != nil {
		s.log.Warn("release seats failed, sweep will reclaim them",
			zap.String("order_code", o.Code), zap.Uint64("slot_id", o.SlotID), zap.Error(err))
	}
}

func (s *Service) restoreVoucher(ctx context.Context, o *model.Order) {
	vid := o.VoucherID()
	if vid == 0 || o.ID == 0 {
		return
	}
	if _, err := s.vouchers.Restore(ctx, vid, o.ID); err != nil {
		s.log.Warn("restore voucher failed", zap.String("order_code", o.Code), zap.Uint64("voucher_id", vid), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, t queue.EventType, o *model.Order, reason string) {
	if err := s.pub.Publish(ctx, queue.NewOrderEvent(t, o, reason)); err != nil {
		s.log.Warn("publish event failed", zap.String("type", string(t)), zap.String("order_code", o.Code), zap.Error(err))
	}
}

func uniqueSeats(ids []model.SeatID) []model.SeatID {
	seen := make(map[model.SeatID]bool, len(ids))
	out := make([]model.SeatID, 0, len(ids))
	for _, id := range ids {
		id = model.NormalizeSeatID(string(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func seatStrings(ids []model.SeatID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
