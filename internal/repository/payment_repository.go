package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/cinema-ticketing/internal/model"
)

// PaymentRepo persists gateway payment attempts.
type PaymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// Create inserts a payment and populates its id and timestamps.
func (r *PaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (order_id, order_code, rail, amount, status, gateway_ref, request_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.OrderID, p.OrderCode, string(p.Rail), p.Amount, string(p.Status), nullString(p.GatewayRef), p.RequestID, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// SetGatewayRef stores the gateway's reference (checkout session id or
// merchant transaction ref) once the redirect has been created.
func (r *PaymentRepo) SetGatewayRef(ctx context.Context, id uint64, ref string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE payments SET gateway_ref = ? WHERE id = ?`, ref, id)
	return err
}

const paymentColumns = `id, order_id, order_code, rail, amount, status, gateway_ref, transaction_ref, request_id, created_at, updated_at`

func scanPayment(row rowScanner) (*model.Payment, error) {
	var (
		p          model.Payment
		gatewayRef sql.NullString
		txRef      sql.NullString
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.OrderCode, &p.Rail, &p.Amount, &p.Status,
		&gatewayRef, &txRef, &p.RequestID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.GatewayRef = gatewayRef.String
	p.TransactionRef = txRef.String
	return &p, nil
}

// LatestByOrder returns the most recent payment attempt for an order.
func (r *PaymentRepo) LatestByOrder(ctx context.Context, orderID uint64) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = ? ORDER BY id DESC LIMIT 1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// ByGatewayRef returns the newest attempt carrying a gateway reference.
// VNPay attempts of one order share their reference, Stripe sessions do not.
func (r *PaymentRepo) ByGatewayRef(ctx context.Context, ref string) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_ref = ? ORDER BY id DESC LIMIT 1`, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// MarkSuccess records a settled payment.  A payment that is already
// SUCCESS is left alone and false is returned.
func (r *PaymentRepo) MarkSuccess(ctx context.Context, id uint64, txRef string) (bool, error) {
	return r.exec(ctx,
		`UPDATE payments SET status = 'SUCCESS', transaction_ref = ? WHERE id = ? AND status <> 'SUCCESS'`,
		nullString(txRef), id)
}

// MarkFailed records a failed payment.  Only PENDING payments move.
func (r *PaymentRepo) MarkFailed(ctx context.Context, id uint64, txRef string) (bool, error) {
	return r.exec(ctx,
		`UPDATE payments SET status = 'FAILED', transaction_ref = COALESCE(?, transaction_ref)
		 WHERE id = ? AND status = 'PENDING'`,
		nullString(txRef), id)
}

// MarkCancelled closes out any PENDING attempts of a cancelled order.
func (r *PaymentRepo) MarkCancelled(ctx context.Context, orderID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status = 'CANCELLED' WHERE order_id = ? AND status = 'PENDING'`, orderID)
	return err
}

func (r *PaymentRepo) exec(ctx context.Context, q string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
