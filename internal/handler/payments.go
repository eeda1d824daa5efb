package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/payment"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
)

// maxWebhookBody bounds the Stripe webhook payload.
const maxWebhookBody = 64 << 10

// Callbacks processes gateway callbacks and browser returns.
type Callbacks interface {
	HandleCallback(ctx context.Context, rail model.PaymentRail, cb payment.Callback) (*payment.Notification, *payment.Result, error)
	HandleReturn(ctx context.Context, rail model.PaymentRail, q url.Values) string
}

// PaymentHandler serves the unauthenticated gateway endpoints.  They are
// protected by gateway signatures rather than JWTs.
type PaymentHandler struct {
	svc Callbacks
	log *zap.Logger
}

func NewPaymentHandler(svc Callbacks, log *zap.Logger) *PaymentHandler {
	if svc == nil {
		panic("nil service passed to NewPaymentHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{svc: svc, log: log.Named("payments")}
}

// StripeWebhook handles POST /v1/payments/stripe/webhook.  Stripe retries
// non-2xx answers, so only a bad signature or a transient failure is
// reported as an error.
func (h *PaymentHandler) StripeWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	cb := payment.Callback{Body: body, Header: c.Request().Header}
	n, res, err := h.svc.HandleCallback(c.Request().Context(), model.RailStripe, cb)
	switch {
	case errors.Is(err, payment.ErrSignatureInvalid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, payment.ErrPaymentNotFound),
		errors.Is(err, payment.ErrAmountMismatch):
		h.log.Warn("stripe event not applied", zap.Error(err))
		return c.JSON(http.StatusOK, echo.Map{"received": true, "applied": false})
	case err != nil:
		h.log.Error("stripe event failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "processing failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"received":          true,
		"outcome":           n.Outcome,
		"already_processed": res.AlreadyProcessed,
	})
}

// vnpayAck is the IPN answer VNPay expects.
type vnpayAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// VNPayIPN handles GET /v1/payments/vnpay/ipn.  VNPay reads the RspCode,
// not the HTTP status, so every answer is a 200.
func (h *PaymentHandler) VNPayIPN(c echo.Context) error {
	_, res, err := h.svc.HandleCallback(c.Request().Context(), model.RailVNPay, payment.Callback{Query: c.QueryParams()})
	ack := vnpayAck{RspCode: "00", Message: "Confirm Success"}
	switch {
	case errors.Is(err, payment.ErrSignatureInvalid):
		ack = vnpayAck{"97", "Invalid signature"}
	case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, payment.ErrPaymentNotFound):
		ack = vnpayAck{"01", "Order not found"}
	case errors.Is(err, payment.ErrAmountMismatch):
		ack = vnpayAck{"04", "Invalid amount"}
	case err != nil:
		h.log.Error("vnpay ipn failed", zap.String("txn_ref", c.QueryParam("vnp_TxnRef")), zap.Error(err))
		ack = vnpayAck{"99", "Unknown error"}
	case res != nil && res.AlreadyProcessed:
		ack = vnpayAck{"02", "Order already confirmed"}
	}
	return c.JSON(http.StatusOK, ack)
}

// Return handles GET /v1/payments/:rail/return, the customer's browser
// coming back from the gateway, and redirects to the UI.
func (h *PaymentHandler) Return(c echo.Context) error {
	rail := model.PaymentRail(strings.ToUpper(c.Param("rail")))
	if !rail.Valid() {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown payment method"})
	}
	return c.Redirect(http.StatusFound, h.svc.HandleReturn(c.Request().Context(), rail, c.QueryParams()))
}
