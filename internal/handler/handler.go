// Package handler implements the HTTP API on a chi router.
package handler

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/maiztros/pos/internal/domain/order"
	"github.com/maiztros/pos/internal/domain/payment"
)

// OrderService is the order use-case surface used by the handlers.
// Satisfied by *order.Service.
type OrderService interface {
	Create(ctx context.Context, p order.Payload, key string) (order.CreateResult, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	StatusLite(ctx context.Context, id string) (*order.StatusLite, error)
	ListKitchen(ctx context.Context) ([]order.Order, error)
	SetStatus(ctx context.Context, id, status string) error
	Deliver(ctx context.Context, id string) error
	ApplyCoupon(ctx context.Context, id, code string) (order.CouponResult, error)
}

// PaymentService is the payment use-case surface used by the handlers.
// Satisfied by *payment.Service.
type PaymentService interface {
	CaptureCash(ctx context.Context, orderID string, amount decimal.Decimal) error
	CreateSession(ctx context.Context, orderID, preferenceID string) error
	HandleNotification(ctx context.Context, n payment.Notification) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// WebhookSecret, when set, must match the "secret" query parameter of
	// gateway notifications.
	WebhookSecret string
	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64
}

// Handler serves the order and payment endpoints.
type Handler struct {
	orders   OrderService
	payments PaymentService
	validate *validator.Validate

	webhookSecret string
	maxBodyBytes  int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg Config, orders OrderService, payments PaymentService) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Handler{
		orders:        orders,
		payments:      payments,
		validate:      v,
		webhookSecret: cfg.WebhookSecret,
		maxBodyBytes:  maxBody,
	}
}

// RegisterRoutes mounts the API on r. Staff routes are wrapped with staff,
// customer and gateway routes are public.
func (h *Handler) RegisterRoutes(r chi.Router, staff func(http.Handler) http.Handler) {
	r.Get("/orders/{id}", h.GetOrder)
	r.Get("/orders/{id}/status-lite", h.GetStatusLite)
	r.Post("/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		if staff != nil {
			r.Use(staff)
		}
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/kds", h.ListKitchen)
		r.Patch("/orders/{id}/status", h.UpdateStatus)
		r.Post("/orders/{id}/deliver", h.Deliver)
		r.Post("/orders/{id}/apply-coupon", h.ApplyCoupon)
		r.Post("/payments/cash", h.CashPayment)
		r.Post("/payments/sessions", h.CreatePaymentSession)
	})
}
