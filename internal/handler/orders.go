package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/order"
	"github.com/iliyamo/cinema-ticketing/internal/payment"
	"github.com/iliyamo/cinema-ticketing/internal/reservation"
)

// Orders is the order lifecycle manager.
type Orders interface {
	CreateOrder(ctx context.Context, in order.CreateInput) (*model.Order, error)
	GetByID(ctx context.Context, id, customerID uint64) (*model.Order, error)
	GetByCode(ctx context.Context, code string, customerID uint64) (*model.Order, error)
	CancelOrder(ctx context.Context, id, customerID uint64, reason string) (*model.Order, error)
	UpdateOrder(ctx context.Context, id uint64, status model.PaymentStatus, reason string) (*model.Order, error)
	Stats(ctx context.Context, from, to time.Time) (*model.OrderStats, error)
}

// PaymentStarter creates gateway payments for orders.
type PaymentStarter interface {
	Initiate(ctx context.Context, orderID, customerID uint64, clientIP string) (*payment.Initiation, error)
}

// HoldReleaser drops a customer's own pre-order holds.
type HoldReleaser interface {
	Locate(ctx context.Context, groupID, roomID uint64, start, date string) (uint64, error)
	Release(ctx context.Context, slotID uint64, seats []model.SeatID, holder string) (*reservation.ReleaseResult, error)
}

// OrderHandler serves checkout and order management.
type OrderHandler struct {
	orders   Orders
	payments PaymentStarter
	holds    HoldReleaser
	log      *zap.Logger
}

func NewOrderHandler(orders Orders, payments PaymentStarter, holds HoldReleaser, log *zap.Logger) *OrderHandler {
	if orders == nil || payments == nil {
		panic("nil service passed to NewOrderHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderHandler{orders: orders, payments: payments, holds: holds, log: log.Named("orders")}
}

type createOrderBody struct {
	SlotID         uint64             `json:"slot_id"`
	ShowingGroupID uint64             `json:"showing_group_id"`
	Room           *model.RoomRef     `json:"room"`
	Date           string             `json:"date"`
	StartTime      string             `json:"start_time"`
	Seats          []model.SeatRef    `json:"seats"`
	AddOns         []order.AddOnInput `json:"add_ons"`
	VoucherCode    string             `json:"voucher_code"`
	PaymentMethod  string             `json:"payment_method"`
	Contact        model.Contact      `json:"contact"`
}

// Create handles POST /v1/orders.  Seats the customer held beforehand are
// handed over to the order: the customer's hold is dropped and the order
// takes its own hold under the new order code.
func (h *OrderHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body createOrderBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	in := order.CreateInput{
		CustomerID:     userID,
		SlotID:         body.SlotID,
		ShowingGroupID: body.ShowingGroupID,
		Date:           body.Date,
		StartTime:      body.StartTime,
		Seats:          model.SeatIDs(body.Seats),
		AddOns:         body.AddOns,
		VoucherCode:    body.VoucherCode,
		PaymentRail:    model.PaymentRail(strings.ToUpper(strings.TrimSpace(body.PaymentMethod))),
		Contact:        body.Contact,
	}
	if body.Room != nil {
		in.RoomID = body.Room.ID
	}

	ctx := c.Request().Context()
	if h.holds != nil && len(in.Seats) > 0 {
		if in.SlotID == 0 && in.ShowingGroupID != 0 && in.RoomID != 0 {
			// an unresolvable reference is reported by CreateOrder
			if id, err := h.holds.Locate(ctx, in.ShowingGroupID, in.RoomID, in.StartTime, in.Date); err == nil {
				in.SlotID = id
			}
		}
		if in.SlotID != 0 {
			if _, err := h.holds.Release(ctx, in.SlotID, in.Seats, customerHolder(userID)); err != nil {
				h.log.Debug("release pre-order hold", zap.Uint64("slot_id", in.SlotID), zap.Error(err))
			}
		}
	}
	o, err := h.orders.CreateOrder(ctx, in)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, o)
}

// Get handles GET /v1/orders/:id for the owning customer.
func (h *OrderHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	o, err := h.orders.GetByID(c.Request().Context(), id, userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// GetByCode handles GET /v1/orders/code/:code for the owning customer.
func (h *OrderHandler) GetByCode(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	o, err := h.orders.GetByCode(c.Request().Context(), c.Param("code"), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// Cancel handles POST /v1/orders/:id/cancel.
func (h *OrderHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind(&body)
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "cancelled by customer"
	}
	o, err := h.orders.CancelOrder(c.Request().Context(), id, userID, reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// Pay handles POST /v1/orders/:id/payment and returns the gateway
// redirect for the order's payment method.
func (h *OrderHandler) Pay(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	init, err := h.payments.Initiate(c.Request().Context(), id, userID, c.RealIP())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, init)
}

// AdminGet handles GET /v1/admin/orders/:id.
func (h *OrderHandler) AdminGet(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	o, err := h.orders.GetByID(c.Request().Context(), id, 0)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// Update handles PATCH /v1/admin/orders/:id, the manual payment status
// transition.
func (h *OrderHandler) Update(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	var body struct {
		PaymentStatus string `json:"payment_status"`
		Reason        string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil || strings.TrimSpace(body.PaymentStatus) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment_status is required"})
	}
	status := model.PaymentStatus(strings.ToUpper(strings.TrimSpace(body.PaymentStatus)))
	o, err := h.orders.UpdateOrder(c.Request().Context(), id, status, strings.TrimSpace(body.Reason))
	if err != nil {
		return fail(c, err)
	}
	h.log.Info("order updated by admin", zap.Uint64("order_id", id), zap.String("payment_status", string(status)))
	return c.JSON(http.StatusOK, o)
}

// Stats handles GET /v1/admin/orders/stats?from=&to=.  Bounds accept
// RFC 3339 timestamps or YYYY-MM-DD dates; the default window is the last
// 30 days.
func (h *OrderHandler) Stats(c echo.Context) error {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	var err error
	if v := c.QueryParam("from"); v != "" {
		if from, err = parseBound(v); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid from"})
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = parseBound(v); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid to"})
		}
	}
	if !from.Before(to) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "from must be before to"})
	}
	st, err := h.orders.Stats(c.Request().Context(), from, to)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"from": from, "to": to, "stats": st})
}

func parseBound(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", v)
}
