package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maiztros/pos/internal/domain/money"
	"github.com/maiztros/pos/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (
		id, customer_name, customer_email, service, delivery_zone, payment_method, notes,
		subtotal_cents, shipping_cents, tip_cents, discount_cents, total_cents,
		status, payment_status, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertHistorySQL = `INSERT INTO order_status_history (order_id, from_status, to_status, changed_at)
		VALUES ($1, $2, $3, $4)`

	orderColumns = `id::text, customer_name, customer_email, service, delivery_zone, payment_method, notes,
		subtotal_cents, shipping_cents, tip_cents, discount_cents, total_cents, coupon_code,
		status, payment_status, created_at, prepared_at, ready_at, paid_at, delivered_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listKitchenSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status <> 'delivered' ORDER BY created_at, id LIMIT $1`

	itemsSQL = `SELECT order_id::text, slot, name, price_cents FROM order_items
		WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, position`

	statusLiteSQL = `SELECT status, paid_at FROM orders WHERE id = $1`

	updateStatusSQL = `UPDATE orders SET
		status = $2::text,
		prepared_at = CASE WHEN $2::text = 'in_kitchen' THEN $4 ELSE prepared_at END,
		ready_at = CASE WHEN $2::text = 'ready' THEN $4 ELSE ready_at END,
		delivered_at = CASE WHEN $2::text = 'delivered' THEN $4 ELSE delivered_at END
		WHERE id = $1 AND status = $3`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	historySQL = `SELECT from_status, to_status, changed_at FROM order_status_history
		WHERE order_id = $1 ORDER BY id`

	applyDiscountSQL = `UPDATE orders SET coupon_code = $2, discount_cents = $3, total_cents = $4
		WHERE id = $1 AND payment_status <> 'paid'`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create stores the order, its items and the initial history row in one
// transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Customer.Name, nullable(o.Customer.Email), string(o.Service),
			nullable(string(o.DeliveryZone)), nullable(string(o.PaymentMethod)), nullable(o.Notes),
			o.Totals.Subtotal.Cents, o.Totals.Shipping.Cents, o.Totals.Tip.Cents,
			o.Discount.Cents, o.Totals.Total.Cents,
			string(o.Status), string(o.PaymentStatus), o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		rows := make([][]any, len(o.Items))
		for i, it := range o.Items {
			rows[i] = []any{o.ID, i, string(it.Slot), it.Name, it.Price.Cents}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"order_items"},
			[]string{"order_id", "position", "slot", "name", "price_cents"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("inserting order items: %w", err)
		}

		if _, err := tx.Exec(ctx, insertHistorySQL, o.ID, nil, string(o.Status), o.CreatedAt); err != nil {
			return fmt.Errorf("inserting status history: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Delete removes an order; items and history go with it.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return order.ErrNotFound
	}
	if _, err := r.pool.Exec(ctx, deleteOrderSQL, id); err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	return nil
}

// Get returns the order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	if !validID(id) {
		return nil, order.ErrNotFound
	}

	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// StatusLite returns the status and payment time of an order.
func (r *OrderRepository) StatusLite(ctx context.Context, id string) (*order.StatusLite, error) {
	if !validID(id) {
		return nil, order.ErrNotFound
	}

	var (
		st     order.StatusLite
		status string
	)
	err := r.pool.QueryRow(ctx, statusLiteSQL, id).Scan(&status, &st.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting status of order %q: %w", id, err)
	}
	st.Status = order.Status(status)
	return &st, nil
}

// ListKitchen returns undelivered orders, oldest first, with their items.
func (r *OrderRepository) ListKitchen(ctx context.Context, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listKitchenSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing kitchen orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing kitchen orders: %w", err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := r.pool.Query(ctx, itemsSQL, ids)
	if err != nil {
		return fmt.Errorf("getting order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID, slot string
			it            order.Item
		)
		if err := rows.Scan(&orderID, &slot, &it.Name, &it.Price.Cents); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		it.Slot = order.Slot(slot)
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("getting order items: %w", err)
	}
	return nil
}

// UpdateStatus applies tr and appends a history row in one transaction.
func (r *OrderRepository) UpdateStatus(ctx context.Context, tr order.Transition) error {
	if !validID(tr.OrderID) {
		return order.ErrNotFound
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateStatusSQL, tr.OrderID, string(tr.To), string(tr.From), tr.At)
		if err != nil {
			return fmt.Errorf("updating status of order %q: %w", tr.OrderID, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, orderExistsSQL, tr.OrderID).Scan(&exists); err != nil {
				return fmt.Errorf("checking order %q: %w", tr.OrderID, err)
			}
			if !exists {
				return order.ErrNotFound
			}
			return order.ErrStatusChanged
		}

		if _, err := tx.Exec(ctx, insertHistorySQL, tr.OrderID, string(tr.From), string(tr.To), tr.At); err != nil {
			return fmt.Errorf("inserting status history: %w", err)
		}
		return nil
	})
}

// History returns the status transitions of an order, oldest first. The
// creation row has an empty From.
func (r *OrderRepository) History(ctx context.Context, id string) ([]order.Transition, error) {
	if !validID(id) {
		return nil, order.ErrNotFound
	}

	rows, err := r.pool.Query(ctx, historySQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting history of order %q: %w", id, err)
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Transition, error) {
		var (
			from *string
			to   string
			tr   = order.Transition{OrderID: id}
		)
		err := row.Scan(&from, &to, &tr.At)
		tr.From = order.Status(deref(from))
		tr.To = order.Status(to)
		return tr, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting history of order %q: %w", id, err)
	}
	return history, nil
}

// ApplyDiscount stores the coupon code, discount and new total unless the
// order has been paid in the meantime.
func (r *OrderRepository) ApplyDiscount(ctx context.Context, id, code string, discount, total money.Money) error {
	if !validID(id) {
		return order.ErrNotFound
	}

	tag, err := r.pool.Exec(ctx, applyDiscountSQL, id, code, discount.Cents, total.Cents)
	if err != nil {
		return fmt.Errorf("applying discount to order %q: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrAlreadyPaid
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                    order.Order
		email, zone, method, notes, coupon   *string
		service, status, paymentStatus       string
		subtotal, shipping, tip, disc, total int64
		createdAt                            time.Time
	)
	err := row.Scan(
		&o.ID, &o.Customer.Name, &email, &service, &zone, &method, &notes,
		&subtotal, &shipping, &tip, &disc, &total, &coupon,
		&status, &paymentStatus, &createdAt,
		&o.PreparedAt, &o.ReadyAt, &o.PaidAt, &o.DeliveredAt,
	)
	o.Customer.Email = deref(email)
	o.Service = order.ServiceType(service)
	o.DeliveryZone = order.Zone(deref(zone))
	o.PaymentMethod = order.PaymentMethod(deref(method))
	o.Notes = deref(notes)
	o.Totals = money.Totals{
		Subtotal: money.Money{Cents: subtotal},
		Shipping: money.Money{Cents: shipping},
		Tip:      money.Money{Cents: tip},
		Total:    money.Money{Cents: total},
	}
	o.Discount = money.Money{Cents: disc}
	o.CouponCode = deref(coupon)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.CreatedAt = createdAt
	return o, err
}
