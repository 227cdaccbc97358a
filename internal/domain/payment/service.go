package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaidEvent describes a captured payment for subscribers.
type PaidEvent struct {
	OrderID  string
	Provider Provider
	Amount   decimal.Decimal
	PaidAt   time.Time
}

// Notifier receives payment events. Failures are logged and ignored.
type Notifier interface {
	OrderPaid(ctx context.Context, e PaidEvent) error
}

// Service handles cash captures, checkout sessions and gateway
// notifications.
type Service struct {
	payments Repository
	notifier Notifier
	now      func() time.Time
}

// NewService creates a payment Service.
func NewService(payments Repository, notifier Notifier) *Service {
	return &Service{
		payments: payments,
		notifier: notifier,
		now:      time.Now,
	}
}

// CaptureCash records a cash payment and marks the order paid. Capturing an
// already paid order succeeds without recording anything.
func (s *Service) CaptureCash(ctx context.Context, orderID string, amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	return s.capture(ctx, Payment{
		OrderID:   orderID,
		Provider:  ProviderCash,
		Amount:    amount,
		Status:    StatusApproved,
		CreatedAt: s.now(),
	})
}

// CreateSession links a gateway checkout preference to an order.
func (s *Service) CreateSession(ctx context.Context, orderID, preferenceID string) error {
	preferenceID = strings.TrimSpace(preferenceID)
	if preferenceID == "" {
		return ErrInvalidSession
	}
	now := s.now()
	if err := s.payments.CreateSession(ctx, Session{
		PreferenceID: preferenceID,
		OrderID:      orderID,
		Status:       string(StatusPending),
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return errors.Wrap(err, "create session")
	}
	return nil
}

// HandleNotification applies a gateway notification. Non-payment events and
// events that cannot be matched to an order are ignored.
func (s *Service) HandleNotification(ctx context.Context, n Notification) error {
	lg := zctx.From(ctx).With(zap.String("payment_id", n.PaymentID))
	if !n.IsPayment() {
		lg.Debug("Ignoring notification", zap.String("type", n.Type))
		return nil
	}

	orderID, err := s.resolveOrder(ctx, n)
	if err != nil {
		return err
	}
	if orderID == "" {
		lg.Warn("Notification does not match any order",
			zap.String("preference_id", n.PreferenceID),
		)
		return nil
	}
	lg = lg.With(zap.String("order_id", orderID))

	if n.Status != "" {
		if err := s.payments.UpdateSessionStatus(ctx, orderID, string(n.Status), s.now()); err != nil {
			return errors.Wrap(err, "update session status")
		}
	}
	if n.Status != StatusApproved {
		lg.Info("Payment not approved", zap.String("status", string(n.Status)))
		return nil
	}

	amount := n.Amount
	if !amount.IsPositive() {
		total, err := s.payments.OrderTotal(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "get order total")
		}
		amount = total
	}

	return s.capture(ctx, Payment{
		OrderID:   orderID,
		Provider:  ProviderMP,
		Amount:    amount.Round(2),
		Status:    StatusApproved,
		ExtRef:    n.PaymentID,
		CreatedAt: s.now(),
	})
}

func (s *Service) resolveOrder(ctx context.Context, n Notification) (string, error) {
	if n.ExternalReference != "" {
		return n.ExternalReference, nil
	}
	if n.PreferenceID == "" {
		return "", nil
	}
	orderID, err := s.payments.OrderIDForPreference(ctx, n.PreferenceID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return "", nil
		}
		return "", errors.Wrap(err, "lookup session")
	}
	return orderID, nil
}

func (s *Service) capture(ctx context.Context, p Payment) error {
	res, err := s.payments.Capture(ctx, p)
	if err != nil {
		return errors.Wrap(err, "capture payment")
	}
	if !res.Recorded || res.AlreadyPaid {
		zctx.From(ctx).Info("Payment already captured",
			zap.String("order_id", p.OrderID),
			zap.String("provider", string(p.Provider)),
			zap.Bool("recorded", res.Recorded),
		)
		return nil
	}

	if err := s.notifier.OrderPaid(ctx, PaidEvent{
		OrderID:  p.OrderID,
		Provider: p.Provider,
		Amount:   p.Amount,
		PaidAt:   res.PaidAt,
	}); err != nil {
		zctx.From(ctx).Warn("Publish order paid", zap.String("order_id", p.OrderID), zap.Error(err))
	}
	return nil
}
