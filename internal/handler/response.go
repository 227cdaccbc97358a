package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/maiztros/pos/internal/domain/coupon"
	"github.com/maiztros/pos/internal/domain/idempotency"
	"github.com/maiztros/pos/internal/domain/order"
	"github.com/maiztros/pos/internal/domain/payment"
)

var (
	errInvalidBody    = errors.New("invalid body")
	errInvalidOrderID = errors.New("invalid order id")
)

// writeJSON writes the object produced by fn with the given status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeOK(w http.ResponseWriter, status int) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("ok", func(e *jx.Encoder) { e.Bool(true) })
		})
	})
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
			if reason != "" {
				e.Field("reason", func(e *jx.Encoder) { e.Str(reason) })
			}
		})
	})
}

// handleError maps domain errors to HTTP responses. Unexpected errors are
// logged and answered with a generic 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, reason := mapError(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, msg, reason)
}

func mapError(err error) (status int, msg, reason string) {
	var (
		verr  *order.ValidationError
		trErr *order.TransitionError
		fErrs validator.ValidationErrors
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message, ""
	case errors.As(err, &trErr):
		return http.StatusBadRequest, trErr.Error(), ""
	case errors.As(err, &fErrs):
		return http.StatusBadRequest, validationMessage(fErrs), ""
	case errors.Is(err, errInvalidBody),
		errors.Is(err, errInvalidOrderID),
		errors.Is(err, idempotency.ErrMissingKey),
		errors.Is(err, idempotency.ErrKeyTooLong),
		errors.Is(err, idempotency.ErrInvalidKey),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrPaymentRequired),
		errors.Is(err, order.ErrAlreadyPaid),
		errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidSession):
		return http.StatusBadRequest, rootMessage(err), ""
	case errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrCouponNotStarted),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponUsageLimitReached),
		errors.Is(err, coupon.ErrMinimumNotMet):
		return http.StatusBadRequest, rootMessage(err), ""
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error(), ""
	}

	if reason := order.ConflictReason(err); reason != "" {
		return http.StatusConflict, rootMessage(err), reason
	}
	return http.StatusInternalServerError, "internal error", ""
}

// rootMessage returns the message of the innermost error so that wrapping
// context never leaks to clients.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func validationMessage(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return errInvalidBody.Error()
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " required"
	case "uuid":
		return fe.Field() + " must be a uuid"
	default:
		return "invalid " + fe.Field()
	}
}

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, errInvalidBody
	}
	return body, nil
}

// decodeObject calls fn for each field of a JSON object body.
func decodeObject(body []byte, fn func(d *jx.Decoder, key string) error) error {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return errInvalidBody
	}
	if err := d.Obj(fn); err != nil {
		return errInvalidBody
	}
	return nil
}

// decodeString reads a string field, treating other types as empty.
func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() != jx.String {
		return "", d.Skip()
	}
	return d.Str()
}
