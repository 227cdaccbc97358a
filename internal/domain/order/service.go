package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/maiztros/pos/internal/domain/coupon"
	"github.com/maiztros/pos/internal/domain/idempotency"
	"github.com/maiztros/pos/internal/domain/money"
)

// KitchenLimit caps the number of orders returned to the kitchen display.
const KitchenLimit = 200

// Ledger is the subset of the idempotency ledger used by order creation.
type Ledger interface {
	Begin(ctx context.Context, key, hash string) (idempotency.Outcome, error)
	Link(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

// Notifier receives order lifecycle events. Failures are logged by the
// service and never fail the operation that produced the event.
type Notifier interface {
	OrderCreated(ctx context.Context, o *Order) error
	StatusChanged(ctx context.Context, tr Transition) error
}

// Telemetry provides tracing and metrics providers.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// CreateResult is returned by Create.
type CreateResult struct {
	OrderID string
	// Replayed is true when the key was already used for this exact payload.
	Replayed bool
}

// CouponResult is returned by ApplyCoupon.
type CouponResult struct {
	Code     string
	Discount money.Money
	Total    money.Money
}

// Service encapsulates order creation and lifecycle business logic.
type Service struct {
	orders   Repository
	ledger   Ledger
	coupons  coupon.Validator
	notifier Notifier
	now      func() time.Time

	tracer        trace.Tracer
	created       metric.Int64Counter
	replayed      metric.Int64Counter
	conflicts     metric.Int64Counter
	statusChanges metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	orders Repository,
	ledger Ledger,
	coupons coupon.Validator,
	notifier Notifier,
	tel Telemetry,
) (*Service, error) {
	s := &Service{
		orders:   orders,
		ledger:   ledger,
		coupons:  coupons,
		notifier: notifier,
		now:      time.Now,
		tracer:   tel.TracerProvider().Tracer("pos/order"),
	}

	meter := tel.MeterProvider().Meter("pos/order")
	var err error
	if s.created, err = meter.Int64Counter("pos.orders.created",
		metric.WithDescription("Orders created"),
	); err != nil {
		return nil, errors.Wrap(err, "created counter")
	}
	if s.replayed, err = meter.Int64Counter("pos.orders.replayed",
		metric.WithDescription("Order submissions answered from the idempotency ledger"),
	); err != nil {
		return nil, errors.Wrap(err, "replayed counter")
	}
	if s.conflicts, err = meter.Int64Counter("pos.orders.idempotency_conflicts",
		metric.WithDescription("Order submissions rejected by the idempotency ledger"),
	); err != nil {
		return nil, errors.Wrap(err, "conflicts counter")
	}
	if s.statusChanges, err = meter.Int64Counter("pos.orders.status_changes",
		metric.WithDescription("Applied order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "status changes counter")
	}
	return s, nil
}

// Create persists a validated payload at most once per idempotency key.
//
// A key seen before with the same payload returns the original order id with
// Replayed set. A key reused with a different payload, or one whose first
// request is still running, returns idempotency.ErrKeyReused or
// idempotency.ErrInProgress.
func (s *Service) Create(ctx context.Context, p Payload, rawKey string) (CreateResult, error) {
	key, err := idempotency.NormalizeKey(rawKey)
	if err != nil {
		return CreateResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()

	outcome, err := s.ledger.Begin(ctx, key, p.Hash())
	if err != nil {
		if errors.Is(err, idempotency.ErrKeyReused) || errors.Is(err, idempotency.ErrInProgress) {
			s.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", conflictReason(err))))
			span.SetAttributes(attribute.String("pos.idempotency.outcome", "conflict"))
			return CreateResult{}, err
		}
		span.SetStatus(codes.Error, err.Error())
		return CreateResult{}, errors.Wrap(err, "begin idempotent request")
	}
	if outcome.Replay {
		s.replayed.Add(ctx, 1)
		span.SetAttributes(
			attribute.String("pos.idempotency.outcome", "replay"),
			attribute.String("pos.order.id", outcome.OrderID),
		)
		return CreateResult{OrderID: outcome.OrderID, Replayed: true}, nil
	}

	o := newOrder(uuid.NewString(), p, s.now())
	span.SetAttributes(
		attribute.String("pos.idempotency.outcome", "fresh"),
		attribute.String("pos.order.id", o.ID),
	)

	if err := s.orders.Create(ctx, o); err != nil {
		s.release(ctx, key)
		span.SetStatus(codes.Error, err.Error())
		return CreateResult{}, errors.Wrap(err, "create order")
	}

	if err := s.ledger.Link(ctx, key, o.ID); err != nil {
		// Without the link a retry would create a second order, so the
		// order goes and the key is freed for that retry.
		if delErr := s.orders.Delete(ctx, o.ID); delErr != nil {
			zctx.From(ctx).Error("Delete unlinked order",
				zap.String("order_id", o.ID),
				zap.Error(delErr),
			)
		}
		s.release(ctx, key)
		span.SetStatus(codes.Error, err.Error())
		return CreateResult{}, errors.Wrap(err, "link idempotency key")
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("service", string(o.Service))))
	if err := s.notifier.OrderCreated(ctx, o); err != nil {
		zctx.From(ctx).Warn("Publish order created", zap.String("order_id", o.ID), zap.Error(err))
	}

	return CreateResult{OrderID: o.ID}, nil
}

func (s *Service) release(ctx context.Context, key string) {
	if err := s.ledger.Release(ctx, key); err != nil {
		zctx.From(ctx).Error("Release idempotency key",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func conflictReason(err error) string {
	if errors.Is(err, idempotency.ErrKeyReused) {
		return "idempotency_key_reused"
	}
	return "in_progress"
}

// ConflictReason returns the machine-readable reason for an idempotency
// conflict, or an empty string for other errors.
func ConflictReason(err error) string {
	switch {
	case errors.Is(err, idempotency.ErrKeyReused), errors.Is(err, idempotency.ErrInProgress):
		return conflictReason(err)
	case errors.Is(err, ErrStatusChanged):
		return "status_changed"
	default:
		return ""
	}
}

func newOrder(id string, p Payload, now time.Time) *Order {
	return &Order{
		ID:            id,
		Customer:      p.Customer,
		Service:       p.Service,
		DeliveryZone:  p.DeliveryZone,
		PaymentMethod: p.PaymentMethod,
		Notes:         p.Notes,
		Items:         p.Items,
		Totals:        p.Totals,
		Status:        StatusQueued,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
	}
}

// Get returns the order with its items.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// StatusLite returns the minimal status view polled by customers.
func (s *Service) StatusLite(ctx context.Context, id string) (*StatusLite, error) {
	st, err := s.orders.StatusLite(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order status")
	}
	return st, nil
}

// ListKitchen returns undelivered orders, oldest first.
func (s *Service) ListKitchen(ctx context.Context) ([]Order, error) {
	orders, err := s.orders.ListKitchen(ctx, KitchenLimit)
	if err != nil {
		return nil, errors.Wrap(err, "list kitchen orders")
	}
	return orders, nil
}

// SetStatus moves the order one step forward to target. Setting the current
// status again succeeds without recording anything.
func (s *Service) SetStatus(ctx context.Context, id, target string) error {
	to, err := ParseStatus(target)
	if err != nil {
		return err
	}

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "get order")
	}
	if o.Status == to {
		return nil
	}
	if err := CheckTransition(o.Status, to); err != nil {
		return err
	}
	if to == StatusDelivered && !o.DeliveryAllowed() {
		return ErrPaymentRequired
	}

	return s.transition(ctx, o, to)
}

// Deliver hands the order off to the customer. Delivery may skip kitchen
// steps but never the payment precondition.
func (s *Service) Deliver(ctx context.Context, id string) error {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "get order")
	}
	if o.Status.Terminal() {
		return nil
	}
	if !o.DeliveryAllowed() {
		return ErrPaymentRequired
	}

	return s.transition(ctx, o, StatusDelivered)
}

func (s *Service) transition(ctx context.Context, o *Order, to Status) error {
	tr := Transition{
		OrderID: o.ID,
		From:    o.Status,
		To:      to,
		At:      s.now(),
	}
	if err := s.orders.UpdateStatus(ctx, tr); err != nil {
		return errors.Wrap(err, "update status")
	}

	s.statusChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(to))))
	if err := s.notifier.StatusChanged(ctx, tr); err != nil {
		zctx.From(ctx).Warn("Publish status change",
			zap.String("order_id", o.ID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
	}
	return nil
}

// ApplyCoupon validates code against the order and stores the resulting
// discount. Re-applying the order's current code changes nothing.
func (s *Service) ApplyCoupon(ctx context.Context, id, code string) (CouponResult, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return CouponResult{}, errors.Wrap(err, "get order")
	}
	if o.Paid() {
		return CouponResult{}, ErrAlreadyPaid
	}

	code = coupon.NormalizeCode(code)
	if code != "" && code == o.CouponCode {
		return CouponResult{Code: code, Discount: o.Discount, Total: o.Totals.Total}, nil
	}

	d, err := s.coupons.Validate(ctx, code, cartOf(o))
	if err != nil {
		return CouponResult{}, errors.Wrap(err, "validate coupon")
	}

	discount := d.Amount.Min(o.Totals.Subtotal)
	total := o.Totals.Discounted(discount)
	if err := s.orders.ApplyDiscount(ctx, o.ID, code, discount, total); err != nil {
		return CouponResult{}, errors.Wrap(err, "apply discount")
	}

	return CouponResult{Code: code, Discount: discount, Total: total}, nil
}

func cartOf(o *Order) coupon.Cart {
	items := make([]coupon.Item, len(o.Items))
	for i, it := range o.Items {
		items[i] = coupon.Item{Name: it.Name, Price: it.Price}
	}
	return coupon.Cart{Subtotal: o.Totals.Subtotal, Items: items}
}
