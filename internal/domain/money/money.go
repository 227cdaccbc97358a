// Package money holds the integer-cents value types shared by orders,
// payments and coupons.
package money

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNegative is returned when a negative amount reaches a constructor.
	ErrNegative = errors.New("amount must not be negative")
	// ErrFractionalCents is returned when a currency amount has more than two
	// decimal places.
	ErrFractionalCents = errors.New("amount has fractional cents")
	// ErrTooLarge is returned for amounts above MaxCents.
	ErrTooLarge = errors.New("amount too large")
)

// MaxCents is the largest accepted amount. It is also the largest integer
// that JSON clients using float64 numbers represent exactly.
const MaxCents int64 = 1 << 53

var hundred = decimal.NewFromInt(100)

// Money is a non-negative amount in cents.
type Money struct {
	Cents int64
}

// FromCents returns a Money for the given cents.
func FromCents(cents int64) (Money, error) {
	if cents < 0 {
		return Money{}, ErrNegative
	}
	if cents > MaxCents {
		return Money{}, ErrTooLarge
	}
	return Money{Cents: cents}, nil
}

// FromDecimal converts an amount expressed in currency units (e.g. pesos)
// into cents. The amount must be exact to the cent.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return Money{}, ErrNegative
	}
	cents := d.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return Money{}, ErrFractionalCents
	}
	if cents.GreaterThan(decimal.NewFromInt(MaxCents)) {
		return Money{}, ErrTooLarge
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Add returns m + o, saturating at math.MaxInt64 instead of wrapping.
func (m Money) Add(o Money) Money {
	if o.Cents > math.MaxInt64-m.Cents {
		return Money{Cents: math.MaxInt64}
	}
	return Money{Cents: m.Cents + o.Cents}
}

// SubFloor returns m - o, clamped at zero.
func (m Money) SubFloor(o Money) Money {
	if o.Cents >= m.Cents {
		return Money{}
	}
	return Money{Cents: m.Cents - o.Cents}
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if o.Cents < m.Cents {
		return o
	}
	return m
}

// IsZero reports whether m is zero.
func (m Money) IsZero() bool { return m.Cents == 0 }

// String formats m in currency units with two decimals.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Totals groups the monetary fields of an order.
type Totals struct {
	Subtotal Money
	Shipping Money
	Tip      Money
	Total    Money
}

// NewTotals builds Totals with Total derived from the parts.
func NewTotals(subtotal, shipping, tip Money) Totals {
	t := Totals{Subtotal: subtotal, Shipping: shipping, Tip: tip}
	t.Total = t.Sum()
	return t
}

// Sum returns subtotal + shipping + tip.
func (t Totals) Sum() Money {
	return t.Subtotal.Add(t.Shipping).Add(t.Tip)
}

// Validate checks that every field lies within [0, MaxCents].
func (t Totals) Validate() error {
	for _, m := range []Money{t.Subtotal, t.Shipping, t.Tip, t.Total} {
		if m.Cents < 0 {
			return ErrNegative
		}
		if m.Cents > MaxCents {
			return ErrTooLarge
		}
	}
	return nil
}

// Discounted returns the total after taking discount off the subtotal.
// The discount never reduces the subtotal below zero and never touches
// shipping or tip.
func (t Totals) Discounted(discount Money) Money {
	return t.Subtotal.SubFloor(discount).Add(t.Shipping).Add(t.Tip)
}
