// Package payment initiates gateway payments and reconciles their
// outcomes with orders.  The server-to-server callback is the only signal
// trusted without a fresh status check; browser returns only trigger one.
package payment

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
)

var (
	// ErrSignatureInvalid rejects a callback whose integrity check failed.
	// Nothing is changed.
	ErrSignatureInvalid = errors.New("invalid gateway signature")
	// ErrPaymentAlreadyProcessed marks a redelivered callback.  It is an
	// idempotent no-op and never surfaced to the gateway as a failure.
	ErrPaymentAlreadyProcessed = errors.New("payment already processed")
	ErrAmountMismatch          = errors.New("paid amount does not match payment")
	ErrRailUnavailable         = errors.New("payment rail not configured")
	ErrOrderNotPayable         = errors.New("order is not awaiting payment")
	ErrPaymentNotFound         = repository.ErrPaymentNotFound
	// ErrSettlementIncomplete means the order is paid but loyalty points or
	// voucher use could not be recorded.  Gateways should redeliver; the
	// next delivery finishes the guarded steps.
	ErrSettlementIncomplete = errors.New("payment recorded, settlement incomplete")
)

// Checkout is what a gateway needs to build a payment redirect.
type Checkout struct {
	Order     *model.Order
	Payment   *model.Payment
	ReturnURL string
	CancelURL string
	ClientIP  string
}

// Initiation is a created gateway payment.
type Initiation struct {
	PaymentID  uint64            `json:"payment_id"`
	Rail       model.PaymentRail `json:"payment_method"`
	URL        string            `json:"payment_url"`
	GatewayRef string            `json:"gateway_ref"`
}

// Outcome classifies a gateway notification.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomePending   Outcome = "PENDING"
	// OutcomeIgnored is a verified notification this service does not act on.
	OutcomeIgnored Outcome = "IGNORED"
)

// Notification is a verified gateway statement about one payment.
type Notification struct {
	Rail           model.PaymentRail
	OrderCode      string
	Outcome        Outcome
	Amount         int64 // whole currency units
	TransactionRef string
	GatewayRef     string
	Reason         string
}

// Callback is a raw inbound server-to-server callback.
type Callback struct {
	Body   []byte
	Header http.Header
	Query  url.Values
}

// Gateway is one payment rail.
type Gateway interface {
	Rail() model.PaymentRail
	// Initiate creates the gateway-side payment and returns the redirect.
	Initiate(ctx context.Context, c Checkout) (*Initiation, error)
	// VerifyCallback checks the callback's signature before reading any
	// field.  A bad signature yields ErrSignatureInvalid.
	VerifyCallback(ctx context.Context, cb Callback) (*Notification, error)
	// ReturnOrderCode extracts the order code from a browser return.  The
	// returned value is only used to look the payment up.
	ReturnOrderCode(query url.Values) (string, error)
	// QueryStatus asks the gateway for the current state of p.
	QueryStatus(ctx context.Context, o *model.Order, p *model.Payment) (*Notification, error)
}
