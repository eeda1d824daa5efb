package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/cinema-ticketing/internal/model"
)

// OrderRepo persists orders and their seat, add-on and discount lines.
// Status changes are conditional updates so concurrent writers (gateway
// callback, customer cancel, expiry sweep) cannot overwrite each other's
// terminal states; each reports whether it changed the row.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the given database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// CodeExists reports whether an order already uses code.
func (r *OrderRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE order_code = ? LIMIT 1`, code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Create inserts the order with all of its lines and, when voucherID is
// non-zero, consumes the voucher in the same transaction.  o.ID,
// o.CreatedAt and o.UpdatedAt are populated on success.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order, voucherID uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	const q = `INSERT INTO orders (order_code, customer_id, slot_id, showing_group_id, room_id, starts_at,
	           ticket_price, combo_price, total_amount, discount_amount, final_amount,
	           payment_rail, payment_status, order_status, contact_name, contact_email, contact_phone,
	           expires_at, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		o.Code, o.CustomerID, o.SlotID, o.ShowingGroupID, o.RoomID, o.StartsAt.UTC(),
		o.TicketPrice, o.ComboPrice, o.TotalAmount, o.DiscountAmount, o.FinalAmount,
		string(o.PaymentRail), string(o.PaymentStatus), string(o.OrderStatus),
		o.Contact.Name, o.Contact.Email, o.Contact.Phone,
		nullTime(o.ExpiresAt), now, now)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateCode
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	orderID := uint64(id)

	if len(o.Seats) > 0 {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO order_seats (order_id, seat_id, category, price) VALUES `)
		args := make([]interface{}, 0, len(o.Seats)*4)
		for i, s := range o.Seats {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, ?, ?)")
			args = append(args, orderID, string(s.SeatID), string(s.Category), s.Price)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	if len(o.AddOns) > 0 {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO order_add_ons (order_id, product_id, name, quantity, unit_price) VALUES `)
		args := make([]interface{}, 0, len(o.AddOns)*5)
		for i, a := range o.AddOns {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, ?, ?, ?)")
			args = append(args, orderID, a.ProductID, a.Name, a.Quantity, a.UnitPrice)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	for _, d := range o.Discounts {
		var voucher interface{}
		if d.VoucherID != 0 {
			voucher = d.VoucherID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_discounts (order_id, kind, code, description, amount, voucher_id) VALUES (?, ?, ?, ?, ?, ?)`,
			orderID, string(d.Kind), nullString(d.Code), d.Description, d.Amount, voucher); err != nil {
			return err
		}
	}
	if voucherID != 0 {
		if err := consumeVoucherTx(ctx, tx, voucherID, orderID, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	o.ID = orderID
	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

const orderColumns = `id, order_code, customer_id, slot_id, showing_group_id, room_id, starts_at,
	ticket_price, combo_price, total_amount, discount_amount, final_amount,
	payment_rail, payment_status, order_status, contact_name, contact_email, contact_phone,
	cancel_reason, expires_at, points_processed, seat_sync_failed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o       model.Order
		reason  sql.NullString
		expires sql.NullTime
	)
	err := row.Scan(&o.ID, &o.Code, &o.CustomerID, &o.SlotID, &o.ShowingGroupID, &o.RoomID, &o.StartsAt,
		&o.TicketPrice, &o.ComboPrice, &o.TotalAmount, &o.DiscountAmount, &o.FinalAmount,
		&o.PaymentRail, &o.PaymentStatus, &o.OrderStatus, &o.Contact.Name, &o.Contact.Email, &o.Contact.Phone,
		&reason, &expires, &o.PointsProcessed, &o.SeatSyncFailed, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.StartsAt = o.StartsAt.UTC()
	o.CancelReason = reason.String
	if expires.Valid {
		t := expires.Time.UTC()
		o.ExpiresAt = &t
	}
	return &o, nil
}

// GetByID loads an order with its lines.
func (r *OrderRepo) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

// GetByCode loads an order by its public code.
func (r *OrderRepo) GetByCode(ctx context.Context, code string) (*model.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_code = ?`, code)
}

func (r *OrderRepo) getOne(ctx context.Context, q string, arg interface{}) (*model.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepo) loadLines(ctx context.Context, o *model.Order) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seat_id, category, price FROM order_seats WHERE order_id = ? ORDER BY seat_id`, o.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var s model.OrderSeat
		if err := rows.Scan(&s.SeatID, &s.Category, &s.Price); err != nil {
			rows.Close()
			return err
		}
		o.Seats = append(o.Seats, s)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = r.db.QueryContext(ctx,
		`SELECT product_id, name, quantity, unit_price FROM order_add_ons WHERE order_id = ? ORDER BY product_id`, o.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var a model.OrderAddOn
		if err := rows.Scan(&a.ProductID, &a.Name, &a.Quantity, &a.UnitPrice); err != nil {
			rows.Close()
			return err
		}
		o.AddOns = append(o.AddOns, a)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = r.db.QueryContext(ctx,
		`SELECT kind, code, description, amount, voucher_id FROM order_discounts WHERE order_id = ? ORDER BY id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d       model.OrderDiscount
			code    sql.NullString
			voucher sql.NullInt64
		)
		if err := rows.Scan(&d.Kind, &code, &d.Description, &d.Amount, &voucher); err != nil {
			return err
		}
		d.Code = code.String
		if voucher.Valid {
			d.VoucherID = uint64(voucher.Int64)
		}
		o.Discounts = append(o.Discounts, d)
	}
	return rows.Err()
}

// MarkPaid moves the order to PAID/CONFIRMED and pushes its expiry out to
// expiresAt.  Orders already PAID or REFUNDED are left untouched and
// false is returned.
func (r *OrderRepo) MarkPaid(ctx context.Context, id uint64, expiresAt time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE orders SET payment_status = 'PAID', order_status = 'CONFIRMED', expires_at = ?
		 WHERE id = ? AND payment_status NOT IN ('PAID', 'REFUNDED')`,
		expiresAt.UTC(), id)
}

// MarkPaymentFailed sets payment_status FAILED on a PENDING order.  The
// order status is deliberately left as it is.
func (r *OrderRepo) MarkPaymentFailed(ctx context.Context, id uint64) (bool, error) {
	return r.exec(ctx,
		`UPDATE orders SET payment_status = 'FAILED' WHERE id = ? AND payment_status = 'PENDING'`, id)
}

// Cancel moves an unpaid order to CANCELLED on both axes.
func (r *OrderRepo) Cancel(ctx context.Context, id uint64, reason string) (bool, error) {
	return r.exec(ctx,
		`UPDATE orders SET payment_status = 'CANCELLED', order_status = 'CANCELLED', cancel_reason = ?
		 WHERE id = ? AND payment_status IN ('PENDING', 'FAILED')`,
		nullString(reason), id)
}

// SetSeatSyncFailed records whether the order's seats still need to be
// reconciled after a successful payment.
func (r *OrderRepo) SetSeatSyncFailed(ctx context.Context, id uint64, failed bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET seat_sync_failed = ? WHERE id = ?`, failed, id)
	return err
}

// AwardPoints credits points to the order's customer exactly once: the
// points_processed flag and the balance move in one transaction.
func (r *OrderRepo) AwardPoints(ctx context.Context, orderID, customerID uint64, points int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET points_processed = 1 WHERE id = ? AND points_processed = 0`, orderID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if points > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO customers (id, loyalty_points) VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE loyalty_points = loyalty_points + VALUES(loyalty_points)`,
			customerID, points); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

// ListAbandoned returns unpaid orders whose deadline has passed.
func (r *OrderRepo) ListAbandoned(ctx context.Context, now time.Time, limit int) ([]*model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE payment_status = 'PENDING' AND expires_at IS NOT NULL AND expires_at <= ?
		 ORDER BY expires_at LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	var out []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for _, o := range out {
		if err := r.loadLines(ctx, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Stats aggregates orders created in [from, to).  Zero times are open ends.
func (r *OrderRepo) Stats(ctx context.Context, from, to time.Time) (*model.OrderStats, error) {
	where, args := statsWindow(from, to)
	st := &model.OrderStats{
		ByPaymentStatus: map[model.PaymentStatus]int64{},
		ByOrderStatus:   map[model.OrderStatus]int64{},
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT payment_status, order_status, COUNT(*),
		        COALESCE(SUM(CASE WHEN payment_status = 'PAID' THEN final_amount ELSE 0 END), 0),
		        COALESCE(SUM(seat_sync_failed), 0)
		 FROM orders`+where+` GROUP BY payment_status, order_status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ps              model.PaymentStatus
			os              model.OrderStatus
			n, revenue, bad int64
		)
		if err := rows.Scan(&ps, &os, &n, &revenue, &bad); err != nil {
			return nil, err
		}
		st.TotalOrders += n
		st.ByPaymentStatus[ps] += n
		st.ByOrderStatus[os] += n
		st.Revenue += revenue
		st.SeatSyncPending += bad
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_seats s JOIN orders o ON o.id = s.order_id`+
			strings.Replace(where, "created_at", "o.created_at", -1)+
			andOrWhere(where)+`o.payment_status = 'PAID'`, args...).Scan(&st.TicketsSold)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func statsWindow(from, to time.Time) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if !from.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, to.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func andOrWhere(where string) string {
	if where == "" {
		return " WHERE "
	}
	return " AND "
}

func (r *OrderRepo) exec(ctx context.Context, q string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
