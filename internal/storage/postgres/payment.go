package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/maiztros/pos/internal/domain/order"
	"github.com/maiztros/pos/internal/domain/payment"
)

const (
	lockOrderPaymentSQL = `SELECT payment_status, paid_at FROM orders WHERE id = $1 FOR UPDATE`

	insertPaymentSQL = `INSERT INTO payments (order_id, provider, amount, status, ext_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ext_ref) DO NOTHING`

	markOrderPaidSQL = `UPDATE orders SET payment_status = 'paid', paid_at = $2 WHERE id = $1`

	orderTotalSQL = `SELECT total_cents FROM orders WHERE id = $1`

	upsertSessionSQL = `INSERT INTO payment_sessions (preference_id, order_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (preference_id) DO UPDATE
		SET order_id = EXCLUDED.order_id, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

	sessionOrderSQL = `SELECT order_id::text FROM payment_sessions WHERE preference_id = $1`

	updateSessionStatusSQL = `UPDATE payment_sessions SET status = $2, updated_at = $3 WHERE order_id = $1`

	foreignKeyViolation = "23503"
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Capture records p and marks the order paid. The order row is locked so that
// concurrent captures of the same order record a single payment.
func (r *PaymentRepository) Capture(ctx context.Context, p payment.Payment) (payment.CaptureResult, error) {
	if !validID(p.OrderID) {
		return payment.CaptureResult{}, order.ErrNotFound
	}

	var res payment.CaptureResult
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			status string
			paidAt *time.Time
		)
		if err := tx.QueryRow(ctx, lockOrderPaymentSQL, p.OrderID).Scan(&status, &paidAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return fmt.Errorf("locking order: %w", err)
		}
		if order.PaymentStatus(status) == order.PaymentPaid {
			res.AlreadyPaid = true
			if paidAt != nil {
				res.PaidAt = *paidAt
			}
			return nil
		}

		tag, err := tx.Exec(ctx, insertPaymentSQL,
			p.OrderID, string(p.Provider), p.Amount, string(p.Status), nullable(p.ExtRef), p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting payment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		res.Recorded = true

		if _, err := tx.Exec(ctx, markOrderPaidSQL, p.OrderID, p.CreatedAt); err != nil {
			return fmt.Errorf("marking order paid: %w", err)
		}
		res.PaidAt = p.CreatedAt
		return nil
	})
	if err != nil {
		return payment.CaptureResult{}, fmt.Errorf("capturing payment for order %q: %w", p.OrderID, err)
	}
	return res, nil
}

// OrderTotal returns the amount due for the order in currency units.
func (r *PaymentRepository) OrderTotal(ctx context.Context, orderID string) (decimal.Decimal, error) {
	if !validID(orderID) {
		return decimal.Zero, order.ErrNotFound
	}
	var cents int64
	if err := r.pool.QueryRow(ctx, orderTotalSQL, orderID).Scan(&cents); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, order.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("getting total of order %q: %w", orderID, err)
	}
	return decimal.New(cents, -2), nil
}

// CreateSession stores or re-points a checkout preference.
func (r *PaymentRepository) CreateSession(ctx context.Context, s payment.Session) error {
	if !validID(s.OrderID) {
		return order.ErrNotFound
	}
	_, err := r.pool.Exec(ctx, upsertSessionSQL, s.PreferenceID, s.OrderID, s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return order.ErrNotFound
		}
		return fmt.Errorf("creating payment session %q: %w", s.PreferenceID, err)
	}
	return nil
}

// OrderIDForPreference resolves a checkout preference to its order.
func (r *PaymentRepository) OrderIDForPreference(ctx context.Context, preferenceID string) (string, error) {
	var orderID string
	if err := r.pool.QueryRow(ctx, sessionOrderSQL, preferenceID).Scan(&orderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", payment.ErrSessionNotFound
		}
		return "", fmt.Errorf("getting payment session %q: %w", preferenceID, err)
	}
	return orderID, nil
}

// UpdateSessionStatus sets the gateway status on every session of the order.
func (r *PaymentRepository) UpdateSessionStatus(ctx context.Context, orderID, status string, at time.Time) error {
	if !validID(orderID) {
		return nil
	}
	if _, err := r.pool.Exec(ctx, updateSessionStatusSQL, orderID, status, at); err != nil {
		return fmt.Errorf("updating sessions of order %q: %w", orderID, err)
	}
	return nil
}
