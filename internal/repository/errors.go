// Package repository holds the MySQL data access layer.  The sentinel
// errors below are shared with the in-memory fakes used in tests so callers
// can match them with errors.Is regardless of the backing store.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrShowingNotFound is returned when a slot id or a composite showing
	// key matches no scheduled slot.
	ErrShowingNotFound = errors.New("showing not found")

	// ErrVersionConflict is returned by a seat-map save whose expected
	// version no longer matches; callers re-read and retry.
	ErrVersionConflict = errors.New("seat map version conflict")

	// ErrOrderNotFound is returned when no order matches an id or code.
	ErrOrderNotFound = errors.New("order not found")

	// ErrPaymentNotFound is returned when no payment matches a lookup.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDuplicateCode is returned when an order insert hits the unique
	// order_code index.
	ErrDuplicateCode = errors.New("duplicate order code")

	// ErrSlotExists is returned when scheduling a slot that already exists.
	ErrSlotExists = errors.New("slot already scheduled")

	// ErrVoucherUnavailable is returned when a voucher could not be
	// consumed because it is unknown or already used.
	ErrVoucherUnavailable = errors.New("voucher unavailable")

	// ErrNoChange is returned when a conditional update matched no row.
	ErrNoChange = errors.New("no change")
)

// isDuplicateKey reports whether err is MySQL error 1062.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
