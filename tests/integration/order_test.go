//go:build integration

package integration

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestCreateOrder_Fresh(t *testing.T) {
	resp, created := createOrder(t, uuid.NewString(), orderOpts{tipCents: 1000, notes: "  sin chile "})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)

	if !created.OK || !uuidPattern.MatchString(created.OrderID) {
		t.Fatalf("unexpected response: %+v", created)
	}

	o := getOrder(t, created.OrderID)
	if o.Status != "queued" || o.PaymentStatus != "pending" {
		t.Errorf("state: got %s/%s, want queued/pending", o.Status, o.PaymentStatus)
	}
	if o.TotalCents != 16000 {
		t.Errorf("total_cents: got %d, want 16000", o.TotalCents)
	}
	if o.Notes != "sin chile" {
		t.Errorf("notes: got %q", o.Notes)
	}
}

func TestCreateOrder_Replay(t *testing.T) {
	key := uuid.NewString()

	first, created := createOrder(t, key, orderOpts{})
	first.Body.Close()
	expectStatus(t, first, http.StatusCreated)

	second, replayed := createOrder(t, key, orderOpts{})
	second.Body.Close()
	expectStatus(t, second, http.StatusOK)

	if replayed.OrderID != created.OrderID {
		t.Fatalf("replay returned %s, want %s", replayed.OrderID, created.OrderID)
	}
}

func TestCreateOrder_KeyReuseConflict(t *testing.T) {
	key := uuid.NewString()

	first, _ := createOrder(t, key, orderOpts{})
	first.Body.Close()
	expectStatus(t, first, http.StatusCreated)

	second, _ := createOrder(t, key, orderOpts{tipCents: 500})
	defer second.Body.Close()
	expectStatus(t, second, http.StatusConflict)

	body := decodeJSON[errorResponse](t, second)
	if body.Reason != "idempotency_key_reused" {
		t.Errorf("reason: got %q", body.Reason)
	}
}

func TestCreateOrder_ConcurrentSameKey(t *testing.T) {
	const racers = 10
	key := uuid.NewString()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
		ids      = map[string]bool{}
	)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, created := createOrder(t, key, orderOpts{})
			resp.Body.Close()

			mu.Lock()
			defer mu.Unlock()
			statuses[resp.StatusCode]++
			if created.OrderID != "" {
				ids[created.OrderID] = true
			}
		}()
	}
	wg.Wait()

	if statuses[http.StatusCreated] != 1 {
		t.Fatalf("expected exactly one 201, got %v", statuses)
	}
	if statuses[http.StatusCreated]+statuses[http.StatusOK]+statuses[http.StatusConflict] != racers {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one order id, got %v", ids)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		body string
	}{
		{name: "missing key", body: orderBody(orderOpts{})},
		{name: "key too long", key: strings.Repeat("k", 201), body: orderBody(orderOpts{})},
		{
			name: "empty items",
			key:  uuid.NewString(),
			body: `{"customer": {"name": "Ana"}, "service": "pickup", "items": [],
				"totals": {"subtotal": {"cents": 0}, "shipping": {"cents": 0}, "tip": {"cents": 0}}}`,
		},
		{
			name: "delivery without zone",
			key:  uuid.NewString(),
			body: strings.Replace(orderBody(orderOpts{}), `"pickup"`, `"delivery"`, 1),
		},
		{name: "not json", key: uuid.NewString(), body: `{"customer":`},
		{
			name: "overflowing totals",
			key:  uuid.NewString(),
			body: `{"customer": {"name": "Ana"}, "service": "pickup",
				"items": [{"slot": "base", "name": "Elote", "price": {"cents": 100}}],
				"totals": {"subtotal": {"cents": 9223372036854775807}, "shipping": {"cents": 1}, "tip": {"cents": 0}}}`,
		},
		{
			name: "nul in customer name",
			key:  uuid.NewString(),
			body: strings.Replace(orderBody(orderOpts{}), `"name": "`, `"name": "\u0000`, 1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := staff(nil)
			if tt.key != "" {
				headers["Idempotency-Key"] = tt.key
			}
			resp := do(t, request{method: http.MethodPost, path: "/orders", body: tt.body, headers: headers})
			defer resp.Body.Close()
			expectStatus(t, resp, http.StatusBadRequest)

			if body := decodeJSON[errorResponse](t, resp); body.Error == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestCreateOrder_TotalIsRecomputed(t *testing.T) {
	body := `{
		"customer": {"name": "Luis"},
		"service": "dine_in",
		"totals": {"subtotal": {"cents": 5000}, "shipping": {"cents": 0}, "tip": {"cents": 500}, "total": {"cents": 1}},
		"items": [{"slot": "base", "name": "Elote", "price": {"cents": 5000}}]
	}`
	resp := do(t, request{method: http.MethodPost, path: "/orders", body: body,
		headers: staff(map[string]string{"Idempotency-Key": uuid.NewString()})})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)

	created := decodeJSON[createResponse](t, resp)
	if got := getOrder(t, created.OrderID).TotalCents; got != 5500 {
		t.Fatalf("total_cents: got %d, want 5500", got)
	}
}

func TestGetOrder_Errors(t *testing.T) {
	resp := doGet(t, "/orders/not-a-uuid")
	resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doGet(t, "/orders/urn:uuid:"+uuid.NewString())
	resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doGet(t, "/orders/"+uuid.NewString())
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)
}

func setStatus(t *testing.T, id, status string) *http.Response {
	t.Helper()
	return doStaff(t, http.MethodPatch, "/orders/"+id+"/status", map[string]string{"status": status})
}

func TestStatusRoundTrip(t *testing.T) {
	id := mustCreateOrder(t, orderOpts{})

	for _, status := range []string{"in_kitchen", "ready"} {
		resp := setStatus(t, id, status)
		resp.Body.Close()
		expectStatus(t, resp, http.StatusOK)

		if got := getOrder(t, id).Status; got != status {
			t.Fatalf("status: got %s, want %s", got, status)
		}
	}

	// Delivery requires payment for pickup orders.
	resp := setStatus(t, id, "delivered")
	resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doStaff(t, http.MethodPost, "/payments/cash", map[string]any{"order_id": id, "amount": "150.00"})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	resp = setStatus(t, id, "delivered")
	resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	lite := doGet(t, "/orders/"+id+"/status-lite")
	defer lite.Body.Close()
	expectStatus(t, lite, http.StatusOK)
	body := decodeJSON[statusLiteResponse](t, lite)
	if body.Status != "delivered" || body.PaidAt == nil {
		t.Fatalf("status-lite: got %+v", body)
	}
}

func TestStatus_InvalidTransitions(t *testing.T) {
	id := mustCreateOrder(t, orderOpts{})

	tests := []struct {
		status string
		want   int
	}{
		{status: "ready", want: http.StatusBadRequest},
		{status: "cooking", want: http.StatusBadRequest},
		{status: "queued", want: http.StatusOK},
	}
	for _, tt := range tests {
		resp := setStatus(t, id, tt.status)
		resp.Body.Close()
		expectStatus(t, resp, tt.want)
	}

	resp := setStatus(t, uuid.NewString(), "in_kitchen")
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)
}

func TestDeliver_DineInCashOnDelivery(t *testing.T) {
	id := mustCreateOrder(t, orderOpts{service: "dine_in", paymentMethod: "cod"})

	resp := doStaff(t, http.MethodPost, "/orders/"+id+"/deliver", nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	if got := getOrder(t, id).Status; got != "delivered" {
		t.Fatalf("status: got %s, want delivered", got)
	}
}

func TestDeliver_RequiresPayment(t *testing.T) {
	id := mustCreateOrder(t, orderOpts{})

	resp := doStaff(t, http.MethodPost, "/orders/"+id+"/deliver", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestKitchenList(t *testing.T) {
	id := mustCreateOrder(t, orderOpts{})

	resp := doStaff(t, http.MethodGet, "/orders/kds", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	list := decodeJSON[kitchenResponse](t, resp)
	for _, o := range list.Orders {
		if o.Status == "delivered" {
			t.Fatalf("delivered order %s listed", o.ID)
		}
		if o.ID == id {
			if len(o.Items) != 2 {
				t.Fatalf("items: got %d, want 2", len(o.Items))
			}
			return
		}
	}
	t.Fatalf("order %s not in kitchen list", id)
}

func TestApplyCoupon(t *testing.T) {
	id := mustCreateOrder(t, orderOpts{tipCents: 1000})

	resp := doStaff(t, http.MethodPost, "/orders/"+id+"/apply-coupon", map[string]string{"code": " maiz10 "})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	got := decodeJSON[couponResponse](t, resp)
	want := couponResponse{Code: "MAIZ10", DiscountCents: 1500, TotalCents: 14500}
	if got != want {
		t.Fatalf("coupon: got %+v, want %+v", got, want)
	}
	if total := getOrder(t, id).TotalCents; total != 14500 {
		t.Fatalf("order total: got %d, want 14500", total)
	}

	for _, code := range []string{"NOPE", ""} {
		resp := doStaff(t, http.MethodPost, "/orders/"+id+"/apply-coupon", map[string]string{"code": code})
		resp.Body.Close()
		expectStatus(t, resp, http.StatusBadRequest)
	}
}
