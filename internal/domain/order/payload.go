package order

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/jx"

	"github.com/maiztros/pos/internal/domain/money"
)

var (
	allowedServices = []ServiceType{ServiceDineIn, ServicePickup, ServiceDelivery}
	allowedZones    = []Zone{ZoneZibata, ZoneFuera}
	allowedSlots    = []Slot{SlotBase, SlotPapasOSopa, SlotToppings, SlotDrink}
	allowedMethods  = []PaymentMethod{PaymentCOD, PaymentCash, PaymentMP}
)

// Validation messages returned to clients.
const (
	msgInvalidBody    = "invalid body"
	msgInvalidCust    = "invalid customer"
	msgNameRequired   = "customer name required"
	msgInvalidService = "invalid service"
	msgInvalidTotals  = "invalid totals"
	msgItemsRequired  = "at least one item required"
	msgZoneRequired   = "delivery zone required"
	msgInvalidMethod  = "invalid payment method"
)

// ValidationError describes why a submitted order was rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// Payload is a validated order submission.
type Payload struct {
	Customer      Customer
	Service       ServiceType
	DeliveryZone  Zone
	PaymentMethod PaymentMethod
	Totals        money.Totals
	Items         []Item
	Notes         string
}

// rawPayload keeps the undecoded top-level fields so that checks run in a
// fixed order regardless of key order in the body.
type rawPayload struct {
	customer      jx.Raw
	service       jx.Raw
	deliveryZone  jx.Raw
	paymentMethod jx.Raw
	totals        jx.Raw
	items         jx.Raw
	notes         jx.Raw
}

// ParsePayload validates an untrusted order body. Items that are not
// well-formed are dropped; the order is rejected only if none remain.
// A missing or inconsistent total is replaced by the sum of its parts.
func ParsePayload(body []byte) (Payload, error) {
	raw, err := splitPayload(body)
	if err != nil {
		return Payload{}, invalid(msgInvalidBody)
	}

	var p Payload

	customer, err := parseCustomer(raw.customer)
	if err != nil {
		return Payload{}, err
	}
	p.Customer = customer

	service, _ := rawString(raw.service)
	if !slices.Contains(allowedServices, ServiceType(service)) {
		return Payload{}, invalid(msgInvalidService)
	}
	p.Service = ServiceType(service)

	totals, ok := parseTotals(raw.totals)
	if !ok {
		return Payload{}, invalid(msgInvalidTotals)
	}
	p.Totals = totals

	p.Items = parseItems(raw.items)
	if len(p.Items) == 0 {
		return Payload{}, invalid(msgItemsRequired)
	}

	if p.Service == ServiceDelivery {
		zone, _ := rawString(raw.deliveryZone)
		if !slices.Contains(allowedZones, Zone(zone)) {
			return Payload{}, invalid(msgZoneRequired)
		}
		p.DeliveryZone = Zone(zone)
	}

	method, err := parsePaymentMethod(raw.paymentMethod)
	if err != nil {
		return Payload{}, err
	}
	p.PaymentMethod = method

	if notes, ok := rawString(raw.notes); ok {
		p.Notes = strings.TrimSpace(notes)
	}

	return p, nil
}

func splitPayload(body []byte) (rawPayload, error) {
	var raw rawPayload
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return raw, invalid(msgInvalidBody)
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var dst *jx.Raw
		switch key {
		case "customer":
			dst = &raw.customer
		case "service":
			dst = &raw.service
		case "deliveryZone":
			dst = &raw.deliveryZone
		case "paymentMethod":
			dst = &raw.paymentMethod
		case "totals":
			dst = &raw.totals
		case "items":
			dst = &raw.items
		case "notes":
			dst = &raw.notes
		default:
			return d.Skip()
		}
		v, err := d.Raw()
		if err != nil {
			return err
		}
		*dst = v
		return nil
	})
	return raw, err
}

func parseCustomer(raw jx.Raw) (Customer, error) {
	if raw == nil || raw.Type() != jx.Object {
		return Customer{}, invalid(msgInvalidCust)
	}
	var name, email jx.Raw
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			v, err := d.Raw()
			name = v
			return err
		case "email":
			v, err := d.Raw()
			email = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Customer{}, invalid(msgInvalidCust)
	}

	n, _ := rawString(name)
	n = strings.TrimSpace(n)
	if n == "" {
		return Customer{}, invalid(msgNameRequired)
	}
	c := Customer{Name: n}
	if e, ok := rawString(email); ok {
		c.Email = strings.TrimSpace(e)
	}
	return c, nil
}

func parseTotals(raw jx.Raw) (money.Totals, bool) {
	if raw == nil || raw.Type() != jx.Object {
		return money.Totals{}, false
	}
	var subtotal, shipping, tip jx.Raw
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		var dst *jx.Raw
		switch key {
		case "subtotal":
			dst = &subtotal
		case "shipping":
			dst = &shipping
		case "tip":
			dst = &tip
		default:
			return d.Skip()
		}
		v, err := d.Raw()
		*dst = v
		return err
	})
	if err != nil {
		return money.Totals{}, false
	}

	sub, ok1 := parseMoney(subtotal)
	ship, ok2 := parseMoney(shipping)
	tp, ok3 := parseMoney(tip)
	if !ok1 || !ok2 || !ok3 {
		return money.Totals{}, false
	}

	// A client-supplied total is ignored; NewTotals derives it.
	t := money.NewTotals(sub, ship, tp)
	if t.Validate() != nil {
		return money.Totals{}, false
	}
	return t, true
}

func parseItems(raw jx.Raw) []Item {
	if raw == nil || raw.Type() != jx.Array {
		return nil
	}
	var items []Item
	_ = jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		v, err := d.Raw()
		if err != nil {
			return err
		}
		if it, ok := parseItem(v); ok {
			items = append(items, it)
		}
		return nil
	})
	return items
}

func parseItem(raw jx.Raw) (Item, bool) {
	if raw.Type() != jx.Object {
		return Item{}, false
	}
	var slot, name, price jx.Raw
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		var dst *jx.Raw
		switch key {
		case "slot":
			dst = &slot
		case "name":
			dst = &name
		case "price":
			dst = &price
		default:
			return d.Skip()
		}
		v, err := d.Raw()
		*dst = v
		return err
	})
	if err != nil {
		return Item{}, false
	}

	s, _ := rawString(slot)
	if !slices.Contains(allowedSlots, Slot(s)) {
		return Item{}, false
	}
	n, _ := rawString(name)
	n = strings.TrimSpace(n)
	if n == "" {
		return Item{}, false
	}
	p, ok := parseMoney(price)
	if !ok {
		return Item{}, false
	}
	return Item{Slot: Slot(s), Name: n, Price: p}, true
}

func parsePaymentMethod(raw jx.Raw) (PaymentMethod, error) {
	if raw == nil || raw.Type() == jx.Null {
		return "", nil
	}
	s, ok := rawString(raw)
	if !ok {
		return "", invalid(msgInvalidMethod)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if !slices.Contains(allowedMethods, PaymentMethod(s)) {
		return "", invalid(msgInvalidMethod)
	}
	return PaymentMethod(s), nil
}

// parseMoney accepts {"cents": n} where n is a non-negative integer.
func parseMoney(raw jx.Raw) (money.Money, bool) {
	if raw == nil || raw.Type() != jx.Object {
		return money.Money{}, false
	}
	var (
		cents int64
		found bool
		valid = true
	)
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		if key != "cents" {
			return d.Skip()
		}
		found = true
		if d.Next() != jx.Number {
			valid = false
			return d.Skip()
		}
		n, err := d.Num()
		if err != nil {
			return err
		}
		cents, valid = parseCents(string(n))
		return nil
	})
	if err != nil || !found || !valid {
		return money.Money{}, false
	}
	return money.Money{Cents: cents}, true
}

// parseCents accepts integral JSON numbers up to money.MaxCents, including
// forms such as 500.0 or 5e2 that clients produce from floating point values.
func parseCents(s string) (int64, bool) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, v >= 0 && v <= money.MaxCents
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > float64(money.MaxCents) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// rawString returns the string value of raw; the second result is false when
// raw is absent, not a JSON string, or not storable text (invalid UTF-8 or
// NUL characters).
func rawString(raw jx.Raw) (string, bool) {
	if raw == nil || raw.Type() != jx.String {
		return "", false
	}
	s, err := jx.DecodeBytes(raw).Str()
	if err != nil || !storable(s) {
		return "", false
	}
	return s, true
}

func storable(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}
