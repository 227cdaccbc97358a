package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/maiztros/pos/internal/domain/payment"
)

type cashRequest struct {
	OrderID string `json:"order_id" validate:"required,uuid"`
	Amount  string `json:"amount" validate:"required"`
}

type sessionRequest struct {
	OrderID      string `json:"order_id" validate:"required,uuid"`
	PreferenceID string `json:"preference_id" validate:"required"`
}

// decodeAmount accepts a JSON number or numeric string.
func decodeAmount(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.String:
		return d.Str()
	default:
		return "", d.Skip()
	}
}

// CashPayment handles POST /payments/cash.
func (h *Handler) CashPayment(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req cashRequest
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_id":
			req.OrderID, err = decodeString(d)
		case "amount":
			req.Amount, err = decodeAmount(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		handleError(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		handleError(w, r, payment.ErrInvalidAmount)
		return
	}

	if err := h.payments.CaptureCash(r.Context(), req.OrderID, amount); err != nil {
		handleError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK)
}

// CreatePaymentSession handles POST /payments/sessions.
func (h *Handler) CreatePaymentSession(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req sessionRequest
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_id":
			req.OrderID, err = decodeString(d)
		case "preference_id":
			req.PreferenceID, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		handleError(w, r, err)
		return
	}

	if err := h.payments.CreateSession(r.Context(), req.OrderID, req.PreferenceID); err != nil {
		handleError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated)
}

// PaymentWebhook handles POST /payments/webhook. The gateway retries any
// non-2xx answer, so processing failures are logged and acknowledged.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" {
		got := r.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
	}

	lg := zctx.From(r.Context())
	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		lg.Warn("Unreadable payment notification", zap.Error(err))
		writeOK(w, http.StatusOK)
		return
	}
	n, err := payment.ParseNotification(body)
	if err != nil {
		lg.Warn("Malformed payment notification", zap.Error(err))
		writeOK(w, http.StatusOK)
		return
	}
	if err := h.payments.HandleNotification(r.Context(), n); err != nil {
		lg.Error("Payment notification failed",
			zap.String("payment_id", n.PaymentID),
			zap.String("external_reference", n.ExternalReference),
			zap.Error(err),
		)
	}
	writeOK(w, http.StatusOK)
}
