// Package discount computes voucher and promotion discounts for an order.
// It only reads rules and returns numbers; consuming a voucher is the order
// manager's job.
package discount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/cinema-ticketing/internal/model"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
)

var (
	ErrVoucherInvalid = errors.New("voucher not applicable")
)

// Store reads voucher and promotion rules.
type Store interface {
	ByCode(ctx context.Context, code string) (*repository.Voucher, error)
	ActivePromotions(ctx context.Context) ([]repository.AmountPromotion, error)
}

// Calculator implements the order manager's discount collaborator.
type Calculator struct {
	store Store
	now   func() time.Time
}

func NewCalculator(store Store) *Calculator {
	return &Calculator{store: store, now: time.Now}
}

// VoucherDiscount returns the discount line for code applied to amount.
// The amount is capped by the voucher rule and by amount itself.
func (c *Calculator) VoucherDiscount(ctx context.Context, code string, amount int64, customerID uint64) (model.OrderDiscount, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	v, err := c.store.ByCode(ctx, code)
	if errors.Is(err, repository.ErrVoucherUnavailable) {
		return model.OrderDiscount{}, fmt.Errorf("%w: %s unknown", ErrVoucherInvalid, code)
	}
	if err != nil {
		return model.OrderDiscount{}, err
	}
	switch {
	case v.Used:
		return model.OrderDiscount{}, fmt.Errorf("%w: %s already used", ErrVoucherInvalid, code)
	case v.ExpiresAt != nil && !v.ExpiresAt.After(c.now()):
		return model.OrderDiscount{}, fmt.Errorf("%w: %s expired", ErrVoucherInvalid, code)
	case v.CustomerID != nil && *v.CustomerID != customerID:
		return model.OrderDiscount{}, fmt.Errorf("%w: %s belongs to another customer", ErrVoucherInvalid, code)
	case amount < v.MinOrderAmount:
		return model.OrderDiscount{}, fmt.Errorf("%w: %s needs an order of at least %d", ErrVoucherInvalid, code, v.MinOrderAmount)
	}
	off := voucherAmount(v, amount)
	return model.OrderDiscount{
		Kind:        model.DiscountVoucher,
		Code:        v.Code,
		Description: describeVoucher(v),
		Amount:      off,
		VoucherID:   v.ID,
	}, nil
}

// AmountDiscount returns the best subtotal tier that applies, or nil.
func (c *Calculator) AmountDiscount(ctx context.Context, subtotal int64) (*model.OrderDiscount, error) {
	promos, err := c.store.ActivePromotions(ctx)
	if err != nil {
		return nil, err
	}
	best := bestPromotion(promos, subtotal)
	if best == nil {
		return nil, nil
	}
	return &model.OrderDiscount{
		Kind:        model.DiscountAmount,
		Description: best.Description,
		Amount:      percentOf(subtotal, best.Percent, best.MaxDiscount),
	}, nil
}

func voucherAmount(v *repository.Voucher, amount int64) int64 {
	var off int64
	switch strings.ToUpper(v.Kind) {
	case "PERCENT":
		off = percentOf(amount, int(v.Value), v.MaxDiscount)
	default:
		off = v.Value
	}
	if off > amount {
		off = amount
	}
	if off < 0 {
		off = 0
	}
	return off
}

func bestPromotion(promos []repository.AmountPromotion, subtotal int64) *repository.AmountPromotion {
	var best *repository.AmountPromotion
	var bestOff int64
	for i := range promos {
		p := &promos[i]
		if subtotal < p.MinSubtotal {
			continue
		}
		if off := percentOf(subtotal, p.Percent, p.MaxDiscount); best == nil || off > bestOff {
			best, bestOff = p, off
		}
	}
	return best
}

func percentOf(amount int64, percent int, ceiling int64) int64 {
	off := amount * int64(percent) / 100
	if ceiling > 0 && off > ceiling {
		off = ceiling
	}
	return off
}

func describeVoucher(v *repository.Voucher) string {
	if strings.EqualFold(v.Kind, "PERCENT") {
		return fmt.Sprintf("Voucher %s (%d%%)", v.Code, v.Value)
	}
	return fmt.Sprintf("Voucher %s", v.Code)
}
