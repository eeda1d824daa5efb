package order

import (
	"errors"
	"fmt"

	"github.com/iliyamo/cinema-ticketing/internal/repository"
)

var (
	ErrOrderNotFound = repository.ErrOrderNotFound
	// ErrInvalidInput matches every *ValidationError.
	ErrInvalidInput = errors.New("invalid order input")
	// ErrOrderCodeCollision means no unique order code could be generated
	// within the attempt budget.
	ErrOrderCodeCollision = errors.New("order code collision")
	ErrCannotCancelPaid   = errors.New("paid orders cannot be cancelled, refund instead")
	ErrInvalidTransition  = errors.New("invalid payment status transition")
	// ErrInconsistentSeatConfirmation marks a paid order whose seats could
	// not be confirmed.  It is logged and published, never returned to a
	// payment caller.
	ErrInconsistentSeatConfirmation = errors.New("payment recorded but seat confirmation failed")
)

// ValidationError reports a rejected createOrder field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(field, msg string) error { return &ValidationError{Field: field, Msg: msg} }
