package model

import "time"

// PaymentRecordStatus is the state of a gateway payment attempt.
type PaymentRecordStatus string

const (
	PaymentRecordPending   PaymentRecordStatus = "PENDING"
	PaymentRecordSuccess   PaymentRecordStatus = "SUCCESS"
	PaymentRecordFailed    PaymentRecordStatus = "FAILED"
	PaymentRecordCancelled PaymentRecordStatus = "CANCELLED"
	PaymentRecordRefunded  PaymentRecordStatus = "REFUNDED"
)

// Payment is one gateway payment attempt for an order.  An order normally
// has one; a retried checkout after failure creates another.
type Payment struct {
	ID             uint64              `json:"id"`              // payments.id
	OrderID        uint64              `json:"order_id"`        // payments.order_id
	OrderCode      string              `json:"order_code"`      // payments.order_code
	Rail           PaymentRail         `json:"rail"`            // payments.rail
	Amount         int64               `json:"amount"`          // payments.amount
	Status         PaymentRecordStatus `json:"status"`          // payments.status
	GatewayRef     string              `json:"gateway_ref"`     // payments.gateway_ref (session id / txn ref)
	TransactionRef string              `json:"transaction_ref"` // payments.transaction_ref (gateway settlement id)
	RequestID      string              `json:"request_id"`      // payments.request_id
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}
