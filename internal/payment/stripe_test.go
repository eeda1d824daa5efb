package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/iliyamo/cinema-ticketing/internal/model"
)

const testWebhookSecret = "whsec_test_secret"

func newTestStripe(t *testing.T) *StripeGateway {
	t.Helper()
	g, err := NewStripeGateway("sk_test_123", testWebhookSecret, "VND")
	require.NoError(t, err)
	g.newSession = func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("no network in tests")
	}
	g.getSession = func(string) (*stripe.CheckoutSession, error) {
		return nil, errors.New("no network in tests")
	}
	return g
}

func signedEvent(t *testing.T, eventType, sessionJSON string) Callback {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":"evt_test","object":"event","type":%q,"data":{"object":%s}}`, eventType, sessionJSON))
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	h := http.Header{}
	h.Set("Stripe-Signature", sp.Header)
	return Callback{Body: sp.Payload, Header: h}
}

const paidSession = `{"id":"cs_test_1","object":"checkout.session","amount_total":210000,"payment_status":"paid","status":"complete",
"client_reference_id":"CNM-250301-7K3QZD","metadata":{"order_code":"CNM-250301-7K3QZD"},"payment_intent":"pi_123"}`

func TestStripeVerifyCallbackCompleted(t *testing.T) {
	g := newTestStripe(t)
	n, err := g.VerifyCallback(context.Background(), signedEvent(t, "checkout.session.completed", paidSession))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, n.Outcome)
	assert.Equal(t, "CNM-250301-7K3QZD", n.OrderCode)
	assert.Equal(t, int64(210000), n.Amount)
	assert.Equal(t, "pi_123", n.TransactionRef)
	assert.Equal(t, "cs_test_1", n.GatewayRef)
}

func TestStripeVerifyCallbackOutcomes(t *testing.T) {
	g := newTestStripe(t)
	unpaid := `{"id":"cs_2","object":"checkout.session","amount_total":210000,"payment_status":"unpaid","status":"complete","client_reference_id":"CNM-1"}`

	n, err := g.VerifyCallback(context.Background(), signedEvent(t, "checkout.session.completed", unpaid))
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, n.Outcome)
	assert.Equal(t, "CNM-1", n.OrderCode)

	n, err = g.VerifyCallback(context.Background(), signedEvent(t, "checkout.session.async_payment_failed", unpaid))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, n.Outcome)

	n, err = g.VerifyCallback(context.Background(), signedEvent(t, "checkout.session.expired", unpaid))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, n.Outcome)

	n, err = g.VerifyCallback(context.Background(), signedEvent(t, "charge.refunded", `{"id":"ch_1","object":"charge"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, n.Outcome)
}

func TestStripeVerifyCallbackRejectsBadSignature(t *testing.T) {
	g := newTestStripe(t)
	cb := signedEvent(t, "checkout.session.completed", paidSession)
	cb.Body = append([]byte{}, cb.Body...)
	cb.Body[len(cb.Body)-2] = ' '
	_, err := g.VerifyCallback(context.Background(), cb)
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	cb.Header.Del("Stripe-Signature")
	_, err = g.VerifyCallback(context.Background(), cb)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestStripeInitiateBuildsCheckoutSession(t *testing.T) {
	g := newTestStripe(t)
	var got *stripe.CheckoutSessionParams
	g.newSession = func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = p
		return &stripe.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.com/c/pay/cs_new"}, nil
	}
	o := pendingOrder()
	init, err := g.Initiate(context.Background(), Checkout{
		Order:     o,
		Payment:   &model.Payment{ID: 4, Amount: o.FinalAmount, RequestID: "req-1"},
		ReturnURL: "http://api.local/v1/payments/stripe/return",
		CancelURL: "http://ui.local/failed",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_new", init.GatewayRef)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_new", init.URL)

	require.NotNil(t, got)
	assert.Equal(t, int64(210000), *got.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "vnd", *got.LineItems[0].PriceData.Currency)
	assert.Equal(t, o.Code, *got.ClientReferenceID)
	assert.Equal(t, "http://api.local/v1/payments/stripe/return?order_code="+o.Code+"&session_id={CHECKOUT_SESSION_ID}", *got.SuccessURL)
	assert.Equal(t, "req-1", *got.IdempotencyKey)
}

func TestStripeQueryStatusUsesSession(t *testing.T) {
	g := newTestStripe(t)
	g.getSession = func(id string) (*stripe.CheckoutSession, error) {
		assert.Equal(t, "cs_test_1", id)
		return &stripe.CheckoutSession{
			ID: id, AmountTotal: 210000, PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
			Metadata: map[string]string{"order_code": "CNM-250301-7K3QZD"},
		}, nil
	}
	n, err := g.QueryStatus(context.Background(), pendingOrder(), &model.Payment{GatewayRef: "cs_test_1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, n.Outcome)

	n, err = g.QueryStatus(context.Background(), pendingOrder(), &model.Payment{OrderCode: "X"})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, n.Outcome)
}

func TestStripeMinorUnits(t *testing.T) {
	g := newTestStripe(t)
	assert.Equal(t, int64(5000), g.minorUnits(5000))
	g.currency = "usd"
	assert.Equal(t, int64(500000), g.minorUnits(5000))
	assert.Equal(t, int64(5000), g.wholeUnits(500000))
}
