package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimal(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr error
	}{
		{name: "whole", in: "125", want: 12500},
		{name: "two places", in: "99.95", want: 9995},
		{name: "one place", in: "0.5", want: 50},
		{name: "zero", in: "0", want: 0},
		{name: "fractional cents", in: "10.005", wantErr: ErrFractionalCents},
		{name: "negative", in: "-1", wantErr: ErrNegative},
		{name: "at limit", in: "90071992547409.92", want: MaxCents},
		{name: "above limit", in: "90071992547409.93", wantErr: ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := FromDecimal(decimal.RequireFromString(tt.in))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Cents)
		})
	}
}

func TestMoney_DecimalRoundTrip(t *testing.T) {
	m := Money{Cents: 12345}
	assert.Equal(t, "123.45", m.String())

	back, err := FromDecimal(m.Decimal())
	require.NoError(t, err)
	assert.Equal(t, m, back)
}

func TestFromCents(t *testing.T) {
	_, err := FromCents(-1)
	require.ErrorIs(t, err, ErrNegative)

	_, err = FromCents(MaxCents + 1)
	require.ErrorIs(t, err, ErrTooLarge)

	m, err := FromCents(MaxCents)
	require.NoError(t, err)
	assert.Equal(t, MaxCents, m.Cents)
}

func TestMoney_AddSaturates(t *testing.T) {
	got := Money{Cents: math.MaxInt64}.Add(Money{Cents: 1})
	assert.Equal(t, int64(math.MaxInt64), got.Cents)
	assert.Equal(t, int64(7), Money{Cents: 3}.Add(Money{Cents: 4}).Cents)
}

func TestTotals_Validate(t *testing.T) {
	tests := []struct {
		name    string
		totals  Totals
		wantErr error
	}{
		{
			name:   "ok",
			totals: NewTotals(Money{Cents: 5000}, Money{}, Money{Cents: 500}),
		},
		{
			name:   "parts at limit",
			totals: NewTotals(Money{Cents: MaxCents}, Money{}, Money{}),
		},
		{
			name:    "total above limit",
			totals:  NewTotals(Money{Cents: MaxCents}, Money{Cents: 1}, Money{}),
			wantErr: ErrTooLarge,
		},
		{
			name:    "overflowing parts",
			totals:  NewTotals(Money{Cents: math.MaxInt64}, Money{Cents: 1}, Money{}),
			wantErr: ErrTooLarge,
		},
		{
			name:    "negative part",
			totals:  Totals{Shipping: Money{Cents: -1}},
			wantErr: ErrNegative,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.totals.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.totals.Sum(), tt.totals.Total)
		})
	}
}

func TestTotals_Discounted(t *testing.T) {
	totals := NewTotals(Money{Cents: 10000}, Money{Cents: 3000}, Money{Cents: 1000})

	assert.Equal(t, int64(13000), totals.Discounted(Money{Cents: 1000}).Cents)
	// Discount larger than the subtotal keeps shipping and tip.
	assert.Equal(t, int64(4000), totals.Discounted(Money{Cents: 50000}).Cents)
}

func TestMoney_SubFloorAndMin(t *testing.T) {
	a := Money{Cents: 300}
	b := Money{Cents: 500}

	assert.Equal(t, Money{}, a.SubFloor(b))
	assert.Equal(t, Money{Cents: 200}, b.SubFloor(a))
	assert.Equal(t, a, a.Min(b))
	assert.Equal(t, a, b.Min(a))
	assert.True(t, Money{}.IsZero())
}
