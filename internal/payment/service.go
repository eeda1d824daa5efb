package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticketing/internal/config"
	"github.com/iliyamo/cinema-ticketing/internal/model"
)

// Service starts payments and routes gateway callbacks and browser returns
// to the Reconciler.
type Service struct {
	gateways   map[model.PaymentRail]Gateway
	orders     Orders
	payments   Payments
	reconciler *Reconciler
	cfg        config.PaymentConfig
	log        *zap.Logger
	now        func() time.Time
}

func NewService(orders Orders, payments Payments, reconciler *Reconciler, cfg config.PaymentConfig, log *zap.Logger, gateways ...Gateway) *Service {
	if orders == nil || payments == nil || reconciler == nil {
		panic("payment: nil service dependency")
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		gateways:   map[model.PaymentRail]Gateway{},
		orders:     orders,
		payments:   payments,
		reconciler: reconciler,
		cfg:        cfg,
		log:        log.Named("payment"),
		now:        time.Now,
	}
	for _, g := range gateways {
		if g != nil {
			s.gateways[g.Rail()] = g
		}
	}
	return s
}

// Rails lists the configured rails.
func (s *Service) Rails() []model.PaymentRail {
	out := make([]model.PaymentRail, 0, len(s.gateways))
	for r := range s.gateways {
		out = append(out, r)
	}
	return out
}

func (s *Service) gateway(rail model.PaymentRail) (Gateway, error) {
	g, ok := s.gateways[rail]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRailUnavailable, rail)
	}
	return g, nil
}

// Initiate creates a PENDING payment attempt for the order on the order's
// rail and returns where to send the customer.  A zero-amount order is
// settled immediately.
func (s *Service) Initiate(ctx context.Context, orderID, customerID uint64, clientIP string) (*Initiation, error) {
	o, err := s.orders.GetByID(ctx, orderID, customerID)
	if err != nil {
		return nil, err
	}
	switch {
	case o.PaymentStatus == model.PaymentPaid:
		return nil, ErrPaymentAlreadyProcessed
	case o.PaymentStatus != model.PaymentPending:
		return nil, fmt.Errorf("%w: payment status %s", ErrOrderNotPayable, o.PaymentStatus)
	case o.ExpiresAt != nil && !o.ExpiresAt.After(s.now()):
		return nil, fmt.Errorf("%w: order expired", ErrOrderNotPayable)
	}
	g, err := s.gateway(o.PaymentRail)
	if err != nil {
		return nil, err
	}

	// Earlier unfinished attempts are closed so that only the new one can
	// fail the order.  A late success on one of them is still honoured.
	if err := s.payments.MarkCancelled(ctx, o.ID); err != nil {
		return nil, fmt.Errorf("close earlier attempts: %w", err)
	}
	p := &model.Payment{
		OrderID:   o.ID,
		OrderCode: o.Code,
		Rail:      o.PaymentRail,
		Amount:    o.FinalAmount,
		Status:    model.PaymentRecordPending,
		RequestID: uuid.NewString(),
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	if o.FinalAmount == 0 {
		n := &Notification{Rail: o.PaymentRail, OrderCode: o.Code, Outcome: OutcomeSucceeded, TransactionRef: "FREE-" + o.Code}
		if _, err := s.reconciler.HandleSuccess(ctx, n); err != nil {
			if !errors.Is(err, ErrSettlementIncomplete) {
				return nil, err
			}
			s.log.Warn("free order settled partially", zap.String("order_code", o.Code), zap.Error(err))
		}
		return &Initiation{PaymentID: p.ID, Rail: o.PaymentRail, URL: s.redirect(o.Code, OutcomeSucceeded)}, nil
	}

	init, err := g.Initiate(ctx, Checkout{
		Order:     o,
		Payment:   p,
		ReturnURL: s.returnURL(o.PaymentRail),
		CancelURL: s.cfg.FailureURL,
		ClientIP:  clientIP,
	})
	if err != nil {
		if _, ferr := s.payments.MarkFailed(ctx, p.ID, ""); ferr != nil {
			s.log.Warn("mark payment failed", zap.Uint64("payment_id", p.ID), zap.Error(ferr))
		}
		return nil, err
	}
	if init.GatewayRef != "" {
		p.GatewayRef = init.GatewayRef
		if err := s.payments.SetGatewayRef(ctx, p.ID, init.GatewayRef); err != nil {
			return nil, fmt.Errorf("store gateway ref: %w", err)
		}
	}
	s.log.Info("payment initiated", zap.String("order_code", o.Code), zap.String("rail", string(o.PaymentRail)), zap.Int64("amount", p.Amount))
	return init, nil
}

// HandleCallback verifies and applies a server-to-server callback.
func (s *Service) HandleCallback(ctx context.Context, rail model.PaymentRail, cb Callback) (*Notification, *Result, error) {
	g, err := s.gateway(rail)
	if err != nil {
		return nil, nil, err
	}
	n, err := g.VerifyCallback(ctx, cb)
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) {
			s.log.Warn("callback rejected", zap.String("rail", string(rail)), zap.Error(err))
		}
		return nil, nil, err
	}
	if n.Outcome == OutcomeIgnored {
		return n, &Result{Outcome: OutcomeIgnored}, nil
	}
	res, err := s.reconciler.Apply(ctx, n)
	return n, res, err
}

// HandleReturn processes a browser return.  Its parameters only identify
// the order; the outcome comes from a fresh gateway status query.  It
// returns the UI URL to redirect to.
func (s *Service) HandleReturn(ctx context.Context, rail model.PaymentRail, q url.Values) string {
	g, err := s.gateway(rail)
	if err != nil {
		return s.redirect("", OutcomeFailed)
	}
	code, err := g.ReturnOrderCode(q)
	if err != nil {
		s.log.Warn("bad return query", zap.String("rail", string(rail)), zap.Error(err))
		return s.redirect("", OutcomeFailed)
	}
	o, err := s.orders.GetByCode(ctx, code, 0)
	if err != nil {
		return s.redirect(code, OutcomeFailed)
	}
	switch o.PaymentStatus {
	case model.PaymentPaid:
		return s.redirect(code, OutcomeSucceeded)
	case model.PaymentFailed, model.PaymentCancelled:
		return s.redirect(code, OutcomeFailed)
	}
	p, err := s.payments.LatestByOrder(ctx, o.ID)
	if err != nil {
		return s.redirect(code, OutcomeFailed)
	}
	n, err := g.QueryStatus(ctx, o, p)
	if err != nil {
		s.log.Warn("status query failed", zap.String("order_code", code), zap.Error(err))
		return s.redirect(code, OutcomePending)
	}
	if n.Outcome == OutcomeSucceeded || n.Outcome == OutcomeFailed {
		if _, err := s.reconciler.Apply(ctx, n); err != nil && !errors.Is(err, ErrSettlementIncomplete) {
			s.log.Warn("apply queried status failed", zap.String("order_code", code), zap.Error(err))
			return s.redirect(code, OutcomeFailed)
		}
	}
	return s.redirect(code, n.Outcome)
}

func (s *Service) returnURL(rail model.PaymentRail) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/v1/payments/" + strings.ToLower(string(rail)) + "/return"
}

func (s *Service) redirect(code string, outcome Outcome) string {
	base := s.cfg.SuccessURL
	if outcome == OutcomeFailed {
		base = s.cfg.FailureURL
	}
	u := appendQuery(base, "status", string(outcome))
	if code != "" {
		u = appendQuery(u, "order_code", code)
	}
	return u
}
