package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/maiztros/pos/internal/domain/money"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercent takes Value percent off the subtotal.
	DiscountPercent DiscountType = "percent"
	// DiscountFixed takes Value currency units off the subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeLowest removes the price of the cheapest item.
	DiscountFreeLowest DiscountType = "free_lowest"
)

var (
	// ErrInvalidCoupon is returned when a code is unknown or inactive.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponNotStarted is returned before a coupon's start time.
	ErrCouponNotStarted = errors.New("coupon not yet available")
	// ErrCouponExpired is returned after a coupon's end time.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrMinimumNotMet is returned when the order subtotal is below the
	// coupon minimum.
	ErrMinimumNotMet = errors.New("order does not reach the coupon minimum")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
type Rule struct {
	Code         string
	DiscountType DiscountType
	// Value is a percentage for DiscountPercent and an amount in currency
	// units for DiscountFixed.
	Value       decimal.Decimal
	MinTotal    money.Money
	Description string
	StartsAt    *time.Time
	EndsAt      *time.Time
	MaxUses     int
	Uses        int
}

// Discount holds the computed discount and a human-readable description.
type Discount struct {
	Amount      money.Money
	Description string
}

// Item is an order line as seen by discount rules.
type Item struct {
	Name  string
	Price money.Money
}

// Cart is the part of an order a coupon is evaluated against.
type Cart struct {
	Subtotal money.Money
	Items    []Item
}

// Repository provides lookup and mutation of coupon rules.
type Repository interface {
	// FindByCode returns ErrInvalidCoupon when no active coupon matches.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	IncrementUses(ctx context.Context, code string) error
}

// NormalizeCode trims and uppercases a code typed at the POS.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
