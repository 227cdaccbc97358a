package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Provider is the payment channel.
type Provider string

const (
	ProviderCash Provider = "cash"
	// ProviderMP is the online payment gateway.
	ProviderMP Provider = "mp"
)

// Status is the gateway status of a payment.
type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
	StatusRejected Status = "rejected"
)

var (
	// ErrInvalidAmount is returned for amounts that are not positive or have
	// more than two decimal places.
	ErrInvalidAmount = errors.New("amount must be positive with at most 2 decimals")
	// ErrSessionNotFound is returned when no session matches a preference id.
	ErrSessionNotFound = errors.New("payment session not found")
	// ErrInvalidSession is returned when a session request lacks a
	// preference id.
	ErrInvalidSession = errors.New("preference id required")
)

// Payment is a captured payment.
type Payment struct {
	OrderID  string
	Provider Provider
	Amount   decimal.Decimal
	Status   Status
	// ExtRef is the gateway payment id. Captures sharing an ExtRef are
	// recorded once.
	ExtRef    string
	CreatedAt time.Time
}

// CaptureResult describes the effect of Repository.Capture.
type CaptureResult struct {
	// Recorded is false when a payment with the same ExtRef already exists.
	Recorded bool
	// AlreadyPaid is true when the order was paid before this capture.
	AlreadyPaid bool
	PaidAt      time.Time
}

// Session links a gateway checkout preference to an order.
type Session struct {
	PreferenceID string
	OrderID      string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository defines persistence operations for payments.
type Repository interface {
	// Capture records p and marks its order paid at p.CreatedAt in one
	// transaction. It returns order.ErrNotFound when the order is missing.
	Capture(ctx context.Context, p Payment) (CaptureResult, error)
	// OrderTotal returns the amount due for an order.
	OrderTotal(ctx context.Context, orderID string) (decimal.Decimal, error)
	CreateSession(ctx context.Context, s Session) error
	// OrderIDForPreference returns ErrSessionNotFound for unknown ids.
	OrderIDForPreference(ctx context.Context, preferenceID string) (string, error)
	UpdateSessionStatus(ctx context.Context, orderID, status string, at time.Time) error
}

// ValidateAmount checks that amount is positive with at most two decimals.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(2)) {
		return ErrInvalidAmount
	}
	return nil
}
