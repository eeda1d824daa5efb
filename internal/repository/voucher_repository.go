package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Voucher mirrors the vouchers table.  Kind is PERCENT (Value is a
// percentage) or FIXED (Value is an amount); MaxDiscount caps PERCENT
// vouchers when non-zero.
type Voucher struct {
	ID             uint64
	Code           string
	Kind           string
	Value          int64
	MaxDiscount    int64
	MinOrderAmount int64
	CustomerID     *uint64
	ExpiresAt      *time.Time
	Used           bool
}

// AmountPromotion is a subtotal tier: orders at or above MinSubtotal get
// Percent off, capped at MaxDiscount when non-zero.
type AmountPromotion struct {
	ID          uint64
	Description string
	MinSubtotal int64
	Percent     int
	MaxDiscount int64
}

// VoucherRepo reads vouchers and promotions and records voucher use.
// Voucher authoring happens elsewhere.
type VoucherRepo struct {
	db *sql.DB
}

func NewVoucherRepo(db *sql.DB) *VoucherRepo { return &VoucherRepo{db: db} }

// ByCode returns the voucher with the given code or ErrVoucherUnavailable.
func (r *VoucherRepo) ByCode(ctx context.Context, code string) (*Voucher, error) {
	const q = `SELECT id, code, kind, value, max_discount, min_order_amount, customer_id, expires_at, used
	           FROM vouchers WHERE code = ?`
	var (
		v        Voucher
		customer sql.NullInt64
		expires  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, code).Scan(&v.ID, &v.Code, &v.Kind, &v.Value, &v.MaxDiscount,
		&v.MinOrderAmount, &customer, &expires, &v.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVoucherUnavailable
	}
	if err != nil {
		return nil, err
	}
	if customer.Valid {
		id := uint64(customer.Int64)
		v.CustomerID = &id
	}
	if expires.Valid {
		t := expires.Time.UTC()
		v.ExpiresAt = &t
	}
	return &v, nil
}

// consumeVoucherTx marks an unused voucher as used by orderID inside tx.
// A voucher that is already used yields ErrVoucherUnavailable.
func consumeVoucherTx(ctx context.Context, tx *sql.Tx, voucherID, orderID uint64, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE vouchers SET used = 1, used_at = ?, order_id = ? WHERE id = ? AND used = 0`,
		at.UTC(), orderID, voucherID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVoucherUnavailable
	}
	return nil
}

// MarkUsed flags the voucher as used by orderID unless it already is.  It
// reports whether this call changed anything.
func (r *VoucherRepo) MarkUsed(ctx context.Context, voucherID, orderID uint64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE vouchers SET used = 1, used_at = ?, order_id = ? WHERE id = ? AND used = 0`,
		at.UTC(), orderID, voucherID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Restore gives a voucher back when the order that consumed it is
// cancelled or fails payment.
func (r *VoucherRepo) Restore(ctx context.Context, voucherID, orderID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE vouchers SET used = 0, used_at = NULL, order_id = NULL WHERE id = ? AND order_id = ?`,
		voucherID, orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ActivePromotions lists active amount tiers, highest threshold first.
func (r *VoucherRepo) ActivePromotions(ctx context.Context) ([]AmountPromotion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, description, min_subtotal, percent, max_discount
		 FROM amount_promotions WHERE is_active = 1 ORDER BY min_subtotal DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AmountPromotion
	for rows.Next() {
		var p AmountPromotion
		if err := rows.Scan(&p.ID, &p.Description, &p.MinSubtotal, &p.Percent, &p.MaxDiscount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
