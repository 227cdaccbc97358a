//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func webhook(t *testing.T, secret, body string) *http.Response {
	t.Helper()
	return do(t, request{
		method: http.MethodPost,
		path:   "/payments/webhook?secret=" + secret,
		body:   body,
	})
}

func TestCashPayment(t *testing.T) {
	id := mustCreateOrder(t, orderOpts{})

	resp := doStaff(t, http.MethodPost, "/payments/cash", map[string]any{"order_id": id, "amount": 150})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	if got := getOrder(t, id).PaymentStatus; got != "paid" {
		t.Fatalf("payment_status: got %s, want paid", got)
	}

	// Paying twice is a no-op.
	resp = doStaff(t, http.MethodPost, "/payments/cash", map[string]any{"order_id": id, "amount": 150})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestCashPayment_Validation(t *testing.T) {
	id := mustCreateOrder(t, orderOpts{})

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{name: "zero", body: map[string]any{"order_id": id, "amount": 0}, want: http.StatusBadRequest},
		{name: "negative", body: map[string]any{"order_id": id, "amount": -5}, want: http.StatusBadRequest},
		{name: "fractional cents", body: map[string]any{"order_id": id, "amount": "10.005"}, want: http.StatusBadRequest},
		{name: "missing order", body: map[string]any{"amount": 10}, want: http.StatusBadRequest},
		{name: "unknown order", body: map[string]any{"order_id": uuid.NewString(), "amount": 10}, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doStaff(t, http.MethodPost, "/payments/cash", tt.body)
			defer resp.Body.Close()
			expectStatus(t, resp, tt.want)
		})
	}
}

func TestWebhook_ApprovedByExternalReference(t *testing.T) {
	id := mustCreateOrder(t, orderOpts{})
	body := fmt.Sprintf(`{"type":"payment","data":{"id":%d,"status":"approved","transaction_amount":150.0,"external_reference":%q}}`,
		uuid.New().ID(), id)

	for range 2 {
		resp := webhook(t, webhookSecret, body)
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	if got := getOrder(t, id).PaymentStatus; got != "paid" {
		t.Fatalf("payment_status: got %s, want paid", got)
	}
}

func TestWebhook_SessionPreference(t *testing.T) {
	id := mustCreateOrder(t, orderOpts{})
	pref := "pref-" + uuid.NewString()

	resp := doStaff(t, http.MethodPost, "/payments/sessions", map[string]string{"order_id": id, "preference_id": pref})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	pending := fmt.Sprintf(`{"action":"payment.created","data":{"id":"mp-%s","status":"pending","preference_id":%q}}`, pref, pref)
	resp = webhook(t, webhookSecret, pending)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if got := getOrder(t, id).PaymentStatus; got != "pending" {
		t.Fatalf("payment_status after pending: got %s", got)
	}

	approved := fmt.Sprintf(`{"action":"payment.updated","data":{"id":"mp-%s","status":"approved","preference_id":%q}}`, pref, pref)
	resp = webhook(t, webhookSecret, approved)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if got := getOrder(t, id).PaymentStatus; got != "paid" {
		t.Fatalf("payment_status after approval: got %s", got)
	}
}

func TestWebhook_Rejections(t *testing.T) {
	resp := webhook(t, "wrong", `{"type":"payment","data":{"id":1}}`)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// Unknown orders and garbage are acknowledged so the gateway stops
	// retrying.
	for _, body := range []string{
		`not json`,
		`{"type":"merchant_order","data":{"id":1}}`,
		fmt.Sprintf(`{"type":"payment","data":{"id":2,"status":"approved","external_reference":%q}}`, uuid.NewString()),
	} {
		resp := webhook(t, webhookSecret, body)
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
}

func TestPaymentSession_UnknownOrder(t *testing.T) {
	resp := doStaff(t, http.MethodPost, "/payments/sessions", map[string]string{"order_id": uuid.NewString(), "preference_id": "pref-x"})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)
}
