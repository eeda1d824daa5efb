// Package queue defines the domain events exchanged over the message broker
// and the publishers and consumers that move them.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-ticketing/internal/model"
)

// EventType names a domain event.  With RabbitMQ it is also the queue name.
type EventType string

const (
	OrderCreated                EventType = "order.created"
	OrderPaid                   EventType = "order.paid"
	OrderPaymentFailed          EventType = "order.payment_failed"
	OrderCancelled              EventType = "order.cancelled"
	SeatsReconciliationRequired EventType = "seats.reconciliation_required"
)

// AllEventTypes lists every event the service publishes.
var AllEventTypes = []EventType{OrderCreated, OrderPaid, OrderPaymentFailed, OrderCancelled, SeatsReconciliationRequired}

// OrderEvent is published after an order state change has been committed.
// It carries enough of the order for downstream consumers (notifications,
// analytics, reconciliation) to act without querying the primary database.
type OrderEvent struct {
	ID            string              `json:"id"`
	Type          EventType           `json:"type"`
	OrderID       uint64              `json:"order_id"`
	OrderCode     string              `json:"order_code"`
	CustomerID    uint64              `json:"customer_id"`
	SlotID        uint64              `json:"slot_id"`
	StartsAt      string              `json:"starts_at"`
	Seats         []string            `json:"seats"`
	FinalAmount   int64               `json:"final_amount"`
	PaymentRail   model.PaymentRail   `json:"payment_method"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	OrderStatus   model.OrderStatus   `json:"order_status"`
	Reason        string              `json:"reason,omitempty"`
	OccurredAt    string              `json:"occurred_at"`
}

// NewOrderEvent snapshots o into an event of the given type.
func NewOrderEvent(t EventType, o *model.Order, reason string) OrderEvent {
	seats := make([]string, len(o.Seats))
	for i, s := range o.Seats {
		seats[i] = string(s.SeatID)
	}
	return OrderEvent{
		ID:            uuid.NewString(),
		Type:          t,
		OrderID:       o.ID,
		OrderCode:     o.Code,
		CustomerID:    o.CustomerID,
		SlotID:        o.SlotID,
		StartsAt:      o.StartsAt.UTC().Format(time.RFC3339),
		Seats:         seats,
		FinalAmount:   o.FinalAmount,
		PaymentRail:   o.PaymentRail,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.OrderStatus,
		Reason:        reason,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

// SeatIDs converts the event's seat list back to canonical ids.
func (e OrderEvent) SeatIDs() []model.SeatID {
	ids := make([]model.SeatID, len(e.Seats))
	for i, s := range e.Seats {
		ids[i] = model.SeatID(s)
	}
	return ids
}
