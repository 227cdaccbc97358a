package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/maiztros/pos/internal/domain/order"
)

// IdempotencyHeader carries the client-chosen idempotency key.
const IdempotencyHeader = "Idempotency-Key"

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type couponRequest struct {
	Code string `json:"code" validate:"required"`
}

// orderID extracts and validates the {id} path parameter.
func orderID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if !order.ValidID(id) {
		return "", errInvalidOrderID
	}
	return id, nil
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		handleError(w, r, err)
		return
	}
	payload, err := order.ParsePayload(body)
	if err != nil {
		handleError(w, r, err)
		return
	}

	res, err := h.orders.Create(r.Context(), payload, r.Header.Get(IdempotencyHeader))
	if err != nil {
		handleError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("ok", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("order_id", func(e *jx.Encoder) { e.Str(res.OrderID) })
		})
	})
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
			e.Field("total_cents", func(e *jx.Encoder) { e.Int64(o.Totals.Total.Cents) })
			e.Field("notes", func(e *jx.Encoder) { e.Str(o.Notes) })
		})
	})
}

// GetStatusLite handles GET /orders/{id}/status-lite.
func (h *Handler) GetStatusLite(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	st, err := h.orders.StatusLite(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(string(st.Status)) })
			e.Field("paid_at", func(e *jx.Encoder) { encodeTime(e, st.PaidAt) })
		})
	})
}

// ListKitchen handles GET /orders/kds.
func (h *Handler) ListKitchen(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListKitchen(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orders", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for i := range orders {
						encodeKitchenOrder(e, &orders[i])
					}
				})
			})
		})
	})
}

func encodeKitchenOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("customer_name", func(e *jx.Encoder) { e.Str(o.Customer.Name) })
		e.Field("service_type", func(e *jx.Encoder) { e.Str(string(o.Service)) })
		if o.DeliveryZone != "" {
			e.Field("delivery_zone", func(e *jx.Encoder) { e.Str(string(o.DeliveryZone)) })
		}
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("notes", func(e *jx.Encoder) { e.Str(o.Notes) })
		e.Field("total_cents", func(e *jx.Encoder) { e.Int64(o.Totals.Total.Cents) })
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, &o.CreatedAt) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("slot", func(e *jx.Encoder) { e.Str(string(it.Slot)) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("price_cents", func(e *jx.Encoder) { e.Int64(it.Price.Cents) })
					})
				}
			})
		})
	})
}

func encodeTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// UpdateStatus handles PATCH /orders/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req statusRequest
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		req.Status, err = decodeString(d)
		return err
	}); err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		handleError(w, r, err)
		return
	}

	if err := h.orders.SetStatus(r.Context(), id, req.Status); err != nil {
		handleError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK)
}

// Deliver handles POST /orders/{id}/deliver.
func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.orders.Deliver(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK)
}

// ApplyCoupon handles POST /orders/{id}/apply-coupon.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req couponRequest
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		req.Code, err = decodeString(d)
		return err
	}); err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		handleError(w, r, err)
		return
	}

	res, err := h.orders.ApplyCoupon(r.Context(), id, req.Code)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str(res.Code) })
			e.Field("discount_cents", func(e *jx.Encoder) { e.Int64(res.Discount.Cents) })
			e.Field("total_cents", func(e *jx.Encoder) { e.Int64(res.Total.Cents) })
		})
	})
}
