package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/order"
)

// Orders is the order manager as seen by reconciliation.
type Orders interface {
	GetByID(ctx context.Context, id, customerID uint64) (*model.Order, error)
	GetByCode(ctx context.Context, code string, customerID uint64) (*model.Order, error)
	MarkPaid(ctx context.Context, o *model.Order) (*order.PaidResult, error)
	MarkFailed(ctx context.Context, o *model.Order, reason string) (bool, error)
}

// Payments persists payment attempts.  *repository.PaymentRepo implements it.
type Payments interface {
	Create(ctx context.Context, p *model.Payment) error
	SetGatewayRef(ctx context.Context, id uint64, ref string) error
	LatestByOrder(ctx context.Context, orderID uint64) (*model.Payment, error)
	ByGatewayRef(ctx context.Context, ref string) (*model.Payment, error)
	MarkSuccess(ctx context.Context, id uint64, txRef string) (bool, error)
	MarkFailed(ctx context.Context, id uint64, txRef string) (bool, error)
	MarkCancelled(ctx context.Context, orderID uint64) error
}

// Loyalty credits points once per order.
type Loyalty interface {
	AwardPoints(ctx context.Context, orderID, customerID uint64, points int64) (bool, error)
}

// VoucherMarker flags a voucher as used by an order.
type VoucherMarker interface {
	MarkUsed(ctx context.Context, voucherID, orderID uint64, at time.Time) (bool, error)
}

// Result is what reconciling one notification did.
type Result struct {
	Order            *model.Order
	Outcome          Outcome
	AlreadyProcessed bool
	PointsAwarded    int64
	SeatSyncFailed   bool
	// Superseded is set when a failure concerned an attempt the customer
	// has since replaced; the order was left alone.
	Superseded bool
}

// Reconciler applies verified gateway outcomes to payments and orders.
// Every step is guarded so redelivered callbacks change nothing twice.
type Reconciler struct {
	orders    Orders
	payments  Payments
	loyalty   Loyalty
	vouchers  VoucherMarker
	pointUnit int64
	log       *zap.Logger
	now       func() time.Time
}

func NewReconciler(orders Orders, payments Payments, loyalty Loyalty, vouchers VoucherMarker, pointUnit int64, log *zap.Logger) *Reconciler {
	if orders == nil || payments == nil || loyalty == nil || vouchers == nil {
		panic("payment: nil reconciler dependency")
	}
	if pointUnit < 1 {
		pointUnit = 10000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		orders: orders, payments: payments, loyalty: loyalty, vouchers: vouchers,
		pointUnit: pointUnit, log: log.Named("reconciler"), now: time.Now,
	}
}

// Apply dispatches a notification by outcome.  Pending and ignored
// notifications change nothing.
func (r *Reconciler) Apply(ctx context.Context, n *Notification) (*Result, error) {
	switch n.Outcome {
	case OutcomeSucceeded:
		return r.HandleSuccess(ctx, n)
	case OutcomeFailed:
		return r.HandleFailure(ctx, n)
	}
	res := &Result{Outcome: n.Outcome}
	if n.OrderCode != "" {
		o, err := r.orders.GetByCode(ctx, n.OrderCode, 0)
		if err != nil {
			return nil, err
		}
		res.Order = o
	}
	return res, nil
}

// HandleSuccess records a settled payment: payment SUCCESS, order
// PAID/CONFIRMED with seats confirmed, loyalty points and voucher use.
// The points and voucher steps run on every delivery for a paid order, so a
// redelivery completes them if an earlier one failed.  An amount that
// differs from the payment attempt is treated as a failure and reported
// with ErrAmountMismatch.
func (r *Reconciler) HandleSuccess(ctx context.Context, n *Notification) (*Result, error) {
	o, p, _, err := r.lookup(ctx, n)
	if err != nil {
		return nil, err
	}
	res := &Result{Order: o, Outcome: OutcomeSucceeded}

	switch o.PaymentStatus {
	case model.PaymentPaid, model.PaymentRefunded:
		if _, err := r.payments.MarkSuccess(ctx, p.ID, n.TransactionRef); err != nil {
			return nil, err
		}
		res.AlreadyProcessed = true
		r.log.Info("success callback redelivered", zap.String("order_code", o.Code))
		if o.PaymentStatus == model.PaymentRefunded {
			return res, nil
		}
	default:
		if n.Amount != p.Amount {
			r.log.Warn("paid amount mismatch",
				zap.String("order_code", o.Code), zap.Int64("expected", p.Amount), zap.Int64("got", n.Amount))
			fail := *n
			fail.Outcome, fail.Reason = OutcomeFailed, "amount mismatch"
			if _, err := r.HandleFailure(ctx, &fail); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrAmountMismatch, p.Amount, n.Amount)
		}
		if _, err := r.payments.MarkSuccess(ctx, p.ID, n.TransactionRef); err != nil {
			return nil, fmt.Errorf("mark payment success: %w", err)
		}
		paid, err := r.orders.MarkPaid(ctx, o)
		if err != nil {
			return nil, err
		}
		res.Order, res.SeatSyncFailed = paid.Order, paid.SeatSyncFailed
		res.AlreadyProcessed = !paid.Changed
	}

	if err := r.settle(ctx, o, res); err != nil {
		return res, err
	}
	if !res.AlreadyProcessed {
		r.log.Info("payment succeeded",
			zap.String("order_code", o.Code), zap.String("rail", string(n.Rail)),
			zap.String("transaction_ref", n.TransactionRef), zap.Int64("points", res.PointsAwarded))
	}
	return res, nil
}

// settle awards loyalty points and marks the order's voucher used.  Both
// stores refuse a second application, so calling settle again is safe.
func (r *Reconciler) settle(ctx context.Context, o *model.Order, res *Result) error {
	var errs []error
	points := o.FinalAmount / r.pointUnit
	awarded, err := r.loyalty.AwardPoints(ctx, o.ID, o.CustomerID, points)
	switch {
	case err != nil:
		r.log.Error("award loyalty points failed", zap.String("order_code", o.Code), zap.Error(err))
		errs = append(errs, fmt.Errorf("award loyalty points: %w", err))
	case awarded:
		res.PointsAwarded = points
	}
	if vid := o.VoucherID(); vid != 0 {
		if _, err := r.vouchers.MarkUsed(ctx, vid, o.ID, r.now()); err != nil {
			r.log.Error("mark voucher used failed", zap.String("order_code", o.Code), zap.Uint64("voucher_id", vid), zap.Error(err))
			errs = append(errs, fmt.Errorf("mark voucher used: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrSettlementIncomplete, errors.Join(errs...))
	}
	return nil
}

// HandleFailure records a failed payment.  The order's payment status
// becomes FAILED and its seats are released; a failure arriving after a
// success is ignored.  A failure of an attempt that is no longer the
// order's latest only closes that attempt.
func (r *Reconciler) HandleFailure(ctx context.Context, n *Notification) (*Result, error) {
	o, p, live, err := r.lookup(ctx, n)
	if err != nil {
		return nil, err
	}
	res := &Result{Order: o, Outcome: OutcomeFailed}
	if o.PaymentStatus == model.PaymentPaid || o.PaymentStatus == model.PaymentRefunded {
		r.log.Warn("failure callback for a paid order ignored", zap.String("order_code", o.Code))
		res.AlreadyProcessed = true
		return res, nil
	}
	if _, err := r.payments.MarkFailed(ctx, p.ID, n.TransactionRef); err != nil {
		return nil, fmt.Errorf("mark payment failed: %w", err)
	}
	if !live {
		res.Superseded = true
		r.log.Info("superseded payment attempt failed",
			zap.String("order_code", o.Code), zap.Uint64("payment_id", p.ID), zap.String("reason", n.Reason))
		return res, nil
	}
	changed, err := r.orders.MarkFailed(ctx, o, n.Reason)
	if err != nil {
		return nil, err
	}
	res.AlreadyProcessed = !changed
	r.log.Info("payment failed", zap.String("order_code", o.Code), zap.String("reason", n.Reason), zap.Bool("redelivered", !changed))
	return res, nil
}

// lookup resolves the order and the payment attempt a notification is
// about.  Attempts are matched by gateway reference when the gateway sent
// one, otherwise the latest attempt is used.  live reports whether the
// attempt is the order's latest.
func (r *Reconciler) lookup(ctx context.Context, n *Notification) (*model.Order, *model.Payment, bool, error) {
	if n.OrderCode == "" {
		return nil, nil, false, errors.New("notification without order code")
	}
	o, err := r.orders.GetByCode(ctx, n.OrderCode, 0)
	if err != nil {
		return nil, nil, false, err
	}
	latest, err := r.payments.LatestByOrder(ctx, o.ID)
	if err != nil {
		return nil, nil, false, err
	}
	if n.GatewayRef == "" || n.GatewayRef == latest.GatewayRef {
		return o, latest, true, nil
	}
	p, err := r.payments.ByGatewayRef(ctx, n.GatewayRef)
	if err != nil {
		return nil, nil, false, err
	}
	if p.OrderID != o.ID {
		return nil, nil, false, fmt.Errorf("%w: ref %s belongs to another order", ErrPaymentNotFound, n.GatewayRef)
	}
	return o, p, p.ID == latest.ID, nil
}
