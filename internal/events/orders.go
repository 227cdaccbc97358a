package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"

	"github.com/maiztros/pos/internal/domain/order"
	"github.com/maiztros/pos/internal/domain/payment"
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectCreated       = "created"
	SubjectStatusChanged = "status_changed"
	SubjectPaid          = "paid"
)

var (
	_ order.Notifier   = (*OrderEvents)(nil)
	_ payment.Notifier = (*OrderEvents)(nil)
)

// OrderEvents encodes order and payment events and hands them to a
// Publisher.
type OrderEvents struct {
	pub    Publisher
	prefix string
}

// NewOrderEvents returns OrderEvents publishing under prefix, e.g.
// "pos.orders".
func NewOrderEvents(pub Publisher, prefix string) *OrderEvents {
	return &OrderEvents{pub: pub, prefix: prefix}
}

func (e *OrderEvents) subject(suffix string) string {
	return e.prefix + "." + suffix
}

// OrderCreated publishes <prefix>.created.
func (e *OrderEvents) OrderCreated(ctx context.Context, o *order.Order) error {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("order_id")
	w.Str(o.ID)
	w.FieldStart("service")
	w.Str(string(o.Service))
	w.FieldStart("status")
	w.Str(string(o.Status))
	w.FieldStart("total_cents")
	w.Int64(o.Totals.Total.Cents)
	w.FieldStart("items")
	w.Int(len(o.Items))
	w.FieldStart("created_at")
	w.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()
	return e.pub.Publish(ctx, e.subject(SubjectCreated), w.Bytes())
}

// StatusChanged publishes <prefix>.status_changed.
func (e *OrderEvents) StatusChanged(ctx context.Context, tr order.Transition) error {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("order_id")
	w.Str(tr.OrderID)
	w.FieldStart("from")
	w.Str(string(tr.From))
	w.FieldStart("to")
	w.Str(string(tr.To))
	w.FieldStart("at")
	w.Str(tr.At.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()
	return e.pub.Publish(ctx, e.subject(SubjectStatusChanged), w.Bytes())
}

// OrderPaid publishes <prefix>.paid.
func (e *OrderEvents) OrderPaid(ctx context.Context, p payment.PaidEvent) error {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("order_id")
	w.Str(p.OrderID)
	w.FieldStart("provider")
	w.Str(string(p.Provider))
	w.FieldStart("amount")
	w.Str(p.Amount.StringFixed(2))
	w.FieldStart("paid_at")
	w.Str(p.PaidAt.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()
	return e.pub.Publish(ctx, e.subject(SubjectPaid), w.Bytes())
}
