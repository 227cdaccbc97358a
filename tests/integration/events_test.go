//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

type orderEvent struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	From       string `json:"from"`
	To         string `json:"to"`
	TotalCents int64  `json:"total_cents"`
}

func subscribe(t *testing.T, subject string) *nats.Subscription {
	t.Helper()

	nc, err := nats.Connect(natsURL, nats.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("connect nats: %v", err)
	}
	t.Cleanup(nc.Close)

	sub, err := nc.SubscribeSync(subject)
	if err != nil {
		t.Fatalf("subscribe %s: %v", subject, err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return sub
}

// nextEvent returns the next event on sub for orderID.
func nextEvent(t *testing.T, sub *nats.Subscription, orderID string) orderEvent {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := sub.NextMsg(time.Until(deadline))
		if err != nil {
			t.Fatalf("waiting for %s: %v", sub.Subject, err)
		}
		var ev orderEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.OrderID == orderID {
			return ev
		}
	}
	t.Fatalf("no %s event for %s", sub.Subject, orderID)
	return orderEvent{}
}

func TestEvents_OrderLifecycle(t *testing.T) {
	created := subscribe(t, "pos.orders.created")
	changed := subscribe(t, "pos.orders.status_changed")
	paid := subscribe(t, "pos.orders.paid")

	id := mustCreateOrder(t, orderOpts{})
	if ev := nextEvent(t, created, id); ev.Status != "queued" || ev.TotalCents != 15000 {
		t.Errorf("created event: %+v", ev)
	}

	resp := setStatus(t, id, "in_kitchen")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if ev := nextEvent(t, changed, id); ev.From != "queued" || ev.To != "in_kitchen" {
		t.Errorf("status event: %+v", ev)
	}

	resp = doStaff(t, http.MethodPost, "/payments/cash", map[string]any{"order_id": id, "amount": "150"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	nextEvent(t, paid, id)
}
