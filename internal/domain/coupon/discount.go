package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/maiztros/pos/internal/domain/money"
)

var hundred = decimal.NewFromInt(100)

// Apply calculates the discount for the given rule and cart. The result
// never exceeds the cart subtotal.
func Apply(rule *Rule, cart Cart) (Discount, error) {
	if cart.Subtotal.Cents < rule.MinTotal.Cents {
		return Discount{}, ErrMinimumNotMet
	}

	var (
		amount money.Money
		err    error
	)
	switch rule.DiscountType {
	case DiscountPercent:
		amount = percentOf(cart.Subtotal, rule.Value)
	case DiscountFixed:
		amount, err = money.FromDecimal(floorAtZero(rule.Value).Round(2))
		if err != nil {
			return Discount{}, errors.Wrapf(err, "coupon %s value", rule.Code)
		}
	case DiscountFreeLowest:
		amount = lowestPrice(cart.Items)
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}

	return Discount{
		Amount:      amount.Min(cart.Subtotal),
		Description: rule.Description,
	}, nil
}

// percentOf returns pct percent of m, rounded half up to the cent.
func percentOf(m money.Money, pct decimal.Decimal) money.Money {
	cents := decimal.NewFromInt(m.Cents).Mul(floorAtZero(pct)).Div(hundred).Round(0)
	return money.Money{Cents: cents.IntPart()}
}

// lowestPrice returns the lowest item price, or zero for an empty cart.
func lowestPrice(items []Item) money.Money {
	if len(items) == 0 {
		return money.Money{}
	}
	lowest := items[0].Price
	for _, item := range items[1:] {
		lowest = lowest.Min(item.Price)
	}
	return lowest
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
