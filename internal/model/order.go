package model

import "time"

// PaymentStatus is the payment axis of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// OrderStatus is the fulfilment axis of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderCompleted OrderStatus = "COMPLETED"
)

// PaymentRail identifies the gateway used to settle an order.
type PaymentRail string

const (
	RailStripe PaymentRail = "STRIPE"
	RailVNPay  PaymentRail = "VNPAY"
)

// Valid reports whether r is a supported rail.
func (r PaymentRail) Valid() bool { return r == RailStripe || r == RailVNPay }

// DiscountKind distinguishes discount lines on an order.
type DiscountKind string

const (
	DiscountVoucher DiscountKind = "VOUCHER"
	DiscountAmount  DiscountKind = "AMOUNT_PROMOTION"
)

// OrderSeat is a seat line with its price frozen at booking time.
type OrderSeat struct {
	SeatID   SeatID       `json:"seat_id"`  // order_seats.seat_id
	Category SeatCategory `json:"category"` // order_seats.category
	Price    int64        `json:"price"`    // order_seats.price
}

// OrderAddOn is a concession line (combo, drink...).
type OrderAddOn struct {
	ProductID uint64 `json:"product_id"` // order_add_ons.product_id
	Name      string `json:"name"`       // order_add_ons.name
	Quantity  int    `json:"quantity"`   // order_add_ons.quantity
	UnitPrice int64  `json:"unit_price"` // order_add_ons.unit_price
}

// LineTotal is UnitPrice x Quantity.
func (a OrderAddOn) LineTotal() int64 { return a.UnitPrice * int64(a.Quantity) }

// OrderDiscount is one applied discount.  VoucherID is set for voucher lines.
type OrderDiscount struct {
	Kind        DiscountKind `json:"kind"`                 // order_discounts.kind
	Code        string       `json:"code,omitempty"`       // order_discounts.code
	Description string       `json:"description"`          // order_discounts.description
	Amount      int64        `json:"amount"`               // order_discounts.amount
	VoucherID   uint64       `json:"voucher_id,omitempty"` // order_discounts.voucher_id
}

// Contact is the buyer contact captured at checkout.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Order aggregates the seats, add-ons and discounts of one checkout.
//
// Fields:
//  Code            – unique human-readable order code, also the seat holder ref.
//  SlotID          – stable id of the time-slot the seats belong to.
//  ShowingGroupID, RoomID, StartsAt – the composite showing reference.
//  TicketPrice     – sum of seat prices.
//  ComboPrice      – sum of add-on line totals.
//  TotalAmount     – TicketPrice + ComboPrice.
//  DiscountAmount  – sum of discount lines, never above TotalAmount.
//  FinalAmount     – max(0, TotalAmount - discounts).
//  ExpiresAt       – abandonment deadline while payment is PENDING.
//  PointsProcessed – loyalty points already awarded.
//  SeatSyncFailed  – payment succeeded but seats could not be confirmed.
type Order struct {
	ID              uint64          `json:"id"`               // orders.id
	Code            string          `json:"order_code"`       // orders.order_code
	CustomerID      uint64          `json:"customer_id"`      // orders.customer_id
	SlotID          uint64          `json:"slot_id"`          // orders.slot_id
	ShowingGroupID  uint64          `json:"showing_group_id"` // orders.showing_group_id
	RoomID          uint64          `json:"room_id"`          // orders.room_id
	StartsAt        time.Time       `json:"starts_at"`        // orders.starts_at
	Seats           []OrderSeat     `json:"seats"`
	AddOns          []OrderAddOn    `json:"add_ons"`
	Discounts       []OrderDiscount `json:"discounts"`
	TicketPrice     int64           `json:"ticket_price"`    // orders.ticket_price
	ComboPrice      int64           `json:"combo_price"`     // orders.combo_price
	TotalAmount     int64           `json:"total_amount"`    // orders.total_amount
	DiscountAmount  int64           `json:"discount_amount"` // orders.discount_amount
	FinalAmount     int64           `json:"final_amount"`    // orders.final_amount
	PaymentRail     PaymentRail     `json:"payment_method"`  // orders.payment_rail
	PaymentStatus   PaymentStatus   `json:"payment_status"`  // orders.payment_status
	OrderStatus     OrderStatus     `json:"order_status"`    // orders.order_status
	Contact         Contact         `json:"contact"`         // orders.contact_*
	CancelReason    string          `json:"cancel_reason,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"` // orders.expires_at
	PointsProcessed bool            `json:"points_processed"`     // orders.points_processed
	SeatSyncFailed  bool            `json:"seat_sync_failed"`     // orders.seat_sync_failed
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SeatIDs returns the ids of the order's seats.
func (o *Order) SeatIDs() []SeatID {
	ids := make([]SeatID, len(o.Seats))
	for i, s := range o.Seats {
		ids[i] = s.SeatID
	}
	return ids
}

// VoucherID returns the voucher consumed by the order, or zero.
func (o *Order) VoucherID() uint64 {
	for _, d := range o.Discounts {
		if d.Kind == DiscountVoucher && d.VoucherID != 0 {
			return d.VoucherID
		}
	}
	return 0
}

// OrderStats are read-only aggregates over orders.
type OrderStats struct {
	TotalOrders     int64                   `json:"total_orders"`
	ByPaymentStatus map[PaymentStatus]int64 `json:"by_payment_status"`
	ByOrderStatus   map[OrderStatus]int64   `json:"by_order_status"`
	Revenue         int64                   `json:"revenue"`
	TicketsSold     int64                   `json:"tickets_sold"`
	SeatSyncPending int64                   `json:"seat_sync_pending"`
}
