package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/iliyamo/cinema-ticketing/internal/model"
)

// zeroDecimal currencies are charged in whole units by Stripe.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true, "mga": true,
	"pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// StripeGateway settles orders through Stripe Checkout Sessions and
// learns the outcome from signed webhooks.
type StripeGateway struct {
	webhookSecret string
	currency      string

	newSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getSession func(id string) (*stripe.CheckoutSession, error)
}

// NewStripeGateway configures the Stripe client.  The API key is global to
// stripe-go.
func NewStripeGateway(secretKey, webhookSecret, currency string) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if webhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	stripe.Key = secretKey
	if currency == "" {
		currency = "vnd"
	}
	return &StripeGateway{
		webhookSecret: webhookSecret,
		currency:      strings.ToLower(currency),
		newSession:    session.New,
		getSession:    func(id string) (*stripe.CheckoutSession, error) { return session.Get(id, nil) },
	}, nil
}

func (g *StripeGateway) Rail() model.PaymentRail { return model.RailStripe }

func (g *StripeGateway) minorUnits(amount int64) int64 {
	if zeroDecimal[g.currency] {
		return amount
	}
	return amount * 100
}

func (g *StripeGateway) wholeUnits(amount int64) int64 {
	if zeroDecimal[g.currency] {
		return amount
	}
	return amount / 100
}

func (g *StripeGateway) Initiate(_ context.Context, c Checkout) (*Initiation, error) {
	o, p := c.Order, c.Payment
	success := appendQuery(c.ReturnURL, "order_code", o.Code) + "&session_id={CHECKOUT_SESSION_ID}"
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(success),
		CancelURL:         stripe.String(appendQuery(c.CancelURL, "order_code", o.Code)),
		ClientReferenceID: stripe.String(o.Code),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.currency),
				UnitAmount: stripe.Int64(g.minorUnits(p.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("Order %s (%d seats)", o.Code, len(o.Seats))),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		ExpiresAt: stripe.Int64(time.Now().Add(30 * time.Minute).Unix()),
	}
	if o.Contact.Email != "" {
		params.CustomerEmail = stripe.String(o.Contact.Email)
	}
	params.AddMetadata("order_code", o.Code)
	params.AddMetadata("payment_id", fmt.Sprint(p.ID))
	params.SetIdempotencyKey(p.RequestID)

	s, err := g.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &Initiation{PaymentID: p.ID, Rail: model.RailStripe, URL: s.URL, GatewayRef: s.ID}, nil
}

func (g *StripeGateway) VerifyCallback(_ context.Context, cb Callback) (*Notification, error) {
	sig := cb.Header.Get("Stripe-Signature")
	if sig == "" {
		return nil, ErrSignatureInvalid
	}
	ev, err := webhook.ConstructEventWithOptions(cb.Body, sig, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !strings.HasPrefix(string(ev.Type), "checkout.session.") {
		return &Notification{Rail: model.RailStripe, Outcome: OutcomeIgnored, Reason: string(ev.Type)}, nil
	}
	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	n := g.notification(&s)
	switch string(ev.Type) {
	case "checkout.session.completed":
		// async methods complete the session before the money moves
	case "checkout.session.async_payment_succeeded":
		n.Outcome = OutcomeSucceeded
	case "checkout.session.async_payment_failed":
		n.Outcome, n.Reason = OutcomeFailed, "async payment failed"
	case "checkout.session.expired":
		n.Outcome, n.Reason = OutcomeFailed, "checkout session expired"
	default:
		n.Outcome = OutcomeIgnored
	}
	return n, nil
}

func (g *StripeGateway) notification(s *stripe.CheckoutSession) *Notification {
	n := &Notification{
		Rail:       model.RailStripe,
		OrderCode:  s.Metadata["order_code"],
		Amount:     g.wholeUnits(s.AmountTotal),
		GatewayRef: s.ID,
		Outcome:    OutcomePending,
	}
	if n.OrderCode == "" {
		n.OrderCode = s.ClientReferenceID
	}
	if s.PaymentIntent != nil {
		n.TransactionRef = s.PaymentIntent.ID
	}
	switch {
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		n.Outcome = OutcomeSucceeded
	case s.Status == stripe.CheckoutSessionStatusExpired:
		n.Outcome, n.Reason = OutcomeFailed, "checkout session expired"
	}
	return n
}

func (g *StripeGateway) ReturnOrderCode(q url.Values) (string, error) {
	code := strings.TrimSpace(q.Get("order_code"))
	if code == "" {
		return "", errors.New("missing order_code")
	}
	return code, nil
}

// QueryStatus retrieves the checkout session recorded on p.
func (g *StripeGateway) QueryStatus(_ context.Context, _ *model.Order, p *model.Payment) (*Notification, error) {
	if p.GatewayRef == "" {
		return &Notification{Rail: model.RailStripe, OrderCode: p.OrderCode, Outcome: OutcomePending}, nil
	}
	s, err := g.getSession(p.GatewayRef)
	if err != nil {
		return nil, fmt.Errorf("stripe: retrieve checkout session: %w", err)
	}
	return g.notification(s), nil
}

func appendQuery(raw, key, value string) string {
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
