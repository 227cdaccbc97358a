package order

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/jx"

	"github.com/maiztros/pos/internal/domain/money"
)

// Canonical returns a deterministic JSON encoding of the payload. Field
// order is fixed and empty optional fields are omitted, so two submissions
// that validate to the same payload encode identically.
func (p Payload) Canonical() []byte {
	var e jx.Encoder
	e.ObjStart()

	e.FieldStart("customer")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(p.Customer.Name)
	if p.Customer.Email != "" {
		e.FieldStart("email")
		e.Str(p.Customer.Email)
	}
	e.ObjEnd()

	e.FieldStart("service")
	e.Str(string(p.Service))
	if p.DeliveryZone != "" {
		e.FieldStart("deliveryZone")
		e.Str(string(p.DeliveryZone))
	}
	if p.PaymentMethod != "" {
		e.FieldStart("paymentMethod")
		e.Str(string(p.PaymentMethod))
	}

	e.FieldStart("totals")
	e.ObjStart()
	encodeMoney(&e, "subtotal", p.Totals.Subtotal)
	encodeMoney(&e, "shipping", p.Totals.Shipping)
	encodeMoney(&e, "tip", p.Totals.Tip)
	encodeMoney(&e, "total", p.Totals.Total)
	e.ObjEnd()

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range p.Items {
		e.ObjStart()
		e.FieldStart("slot")
		e.Str(string(it.Slot))
		e.FieldStart("name")
		e.Str(it.Name)
		encodeMoney(&e, "price", it.Price)
		e.ObjEnd()
	}
	e.ArrEnd()

	if p.Notes != "" {
		e.FieldStart("notes")
		e.Str(p.Notes)
	}

	e.ObjEnd()
	return e.Bytes()
}

// Hash returns the hex SHA-256 digest of the canonical encoding.
func (p Payload) Hash() string {
	sum := sha256.Sum256(p.Canonical())
	return hex.EncodeToString(sum[:])
}

func encodeMoney(e *jx.Encoder, field string, m money.Money) {
	e.FieldStart(field)
	e.ObjStart()
	e.FieldStart("cents")
	e.Int64(m.Cents)
	e.ObjEnd()
}
