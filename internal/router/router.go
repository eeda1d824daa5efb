// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-ticketing/internal/handler"
	"github.com/iliyamo/cinema-ticketing/internal/middleware"
)

// Handlers bundles every HTTP handler of the API.
type Handlers struct {
	Slots    *handler.SlotHandler
	Orders   *handler.OrderHandler
	Payments *handler.PaymentHandler
	Ready    echo.HandlerFunc
}

// Options carries the cross-cutting middleware.  Nil middleware is
// skipped.
type Options struct {
	JWTSecret     string
	HoldLimit     echo.MiddlewareFunc // throttles seat holds
	CheckoutLimit echo.MiddlewareFunc // throttles order creation and payment starts
	StatsCache    echo.MiddlewareFunc // caches the admin stats report
}

func use(mw ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mw))
	for _, m := range mw {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// RegisterRoutes registers the public, customer, admin and gateway routes.
func RegisterRoutes(e *echo.Echo, h Handlers, opt Options) {
	e.GET("/healthz", handler.Health)
	if h.Ready != nil {
		e.GET("/readyz", h.Ready)
	}

	// Public seat browsing.
	e.GET("/v1/showings/lookup", h.Slots.Lookup)
	e.GET("/v1/slots/:id/seats", h.Slots.Seats)

	// Gateways authenticate with their own signatures.
	e.POST("/v1/payments/stripe/webhook", h.Payments.StripeWebhook)
	e.GET("/v1/payments/vnpay/ipn", h.Payments.VNPayIPN)
	e.GET("/v1/payments/:rail/return", h.Payments.Return)

	customer := e.Group("/v1",
		middleware.JWTAuth(opt.JWTSecret),
		middleware.RequireRole(middleware.RoleCustomer),
	)
	customer.POST("/slots/:id/hold", h.Slots.Hold, use(opt.HoldLimit)...)
	customer.DELETE("/slots/:id/hold", h.Slots.Release)
	customer.POST("/orders", h.Orders.Create, use(opt.CheckoutLimit)...)
	customer.GET("/orders/:id", h.Orders.Get)
	customer.GET("/orders/code/:code", h.Orders.GetByCode)
	customer.POST("/orders/:id/cancel", h.Orders.Cancel)
	customer.POST("/orders/:id/payment", h.Orders.Pay, use(opt.CheckoutLimit)...)

	admin := e.Group("/v1/admin",
		middleware.JWTAuth(opt.JWTSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	admin.POST("/slots", h.Slots.Schedule)
	admin.PUT("/slots/:id/seats/status", h.Slots.SetStatus)
	admin.POST("/slots/:id/confirm", h.Slots.Confirm)
	admin.GET("/orders/stats", h.Orders.Stats, use(opt.StatsCache)...)
	admin.GET("/orders/:id", h.Orders.AdminGet)
	admin.PATCH("/orders/:id", h.Orders.Update)
	admin.POST("/sweep", h.Slots.Sweep)
	admin.GET("/sweep", h.Slots.SweepStats)
}
