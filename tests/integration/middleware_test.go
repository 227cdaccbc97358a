//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestRequestID(t *testing.T) {
	resp := doGet(t, "/livez")
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID header not present")
	}

	resp = do(t, request{
		method:  http.MethodGet,
		path:    "/livez",
		headers: map[string]string{"X-Request-ID": "pos-terminal-1/tap-7"},
	})
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "pos-terminal-1/tap-7" {
		t.Errorf("X-Request-ID: got %q, want %q", got, "pos-terminal-1/tap-7")
	}
}

func TestCORS_Preflight(t *testing.T) {
	resp := do(t, request{
		method: http.MethodOptions,
		path:   "/orders/kds",
		headers: map[string]string{
			"Origin":                         "http://kds.local",
			"Access-Control-Request-Method":  "PATCH",
			"Access-Control-Request-Headers": "X-API-Key",
		},
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)

	if acao := resp.Header.Get("Access-Control-Allow-Origin"); acao == "" {
		t.Error("Access-Control-Allow-Origin header not present")
	}
	if methods := resp.Header.Get("Access-Control-Allow-Methods"); methods == "" {
		t.Error("Access-Control-Allow-Methods header not present")
	}
}

func TestRateLimitHeaders(t *testing.T) {
	resp := doGet(t, "/livez")
	defer resp.Body.Close()

	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if resp.Header.Get(h) == "" {
			t.Errorf("%s header not present", h)
		}
	}
}

func TestStaffRoutesRequireKey(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{name: "kds without key", method: http.MethodGet, path: "/orders/kds", want: http.StatusUnauthorized},
		{name: "kds with wrong key", method: http.MethodGet, path: "/orders/kds", key: "wrong-key", want: http.StatusUnauthorized},
		{name: "kds with key", method: http.MethodGet, path: "/orders/kds", key: testAPIKey, want: http.StatusOK},
		{name: "create without key", method: http.MethodPost, path: "/orders", want: http.StatusUnauthorized},
		{name: "cash without key", method: http.MethodPost, path: "/payments/cash", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{"Idempotency-Key": "auth-check"}
			if tt.key != "" {
				headers["X-API-Key"] = tt.key
			}
			resp := do(t, request{method: tt.method, path: tt.path, body: orderBody(orderOpts{}), headers: headers})
			defer resp.Body.Close()
			expectStatus(t, resp, tt.want)
		})
	}
}

func TestGzipKitchenList(t *testing.T) {
	resp := do(t, request{
		method:  http.MethodGet,
		path:    "/orders/kds",
		headers: staff(map[string]string{"Accept-Encoding": "gzip"}),
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	if enc := resp.Header.Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("Content-Encoding: got %q, want gzip", enc)
	}
}
