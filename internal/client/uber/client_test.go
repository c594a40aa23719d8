package uber

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:      srv.URL,
		AuthURL:      srv.URL + "/oauth/v2/token",
		ClientID:     "id",
		ClientSecret: "secret",
		Scopes:       []string{"fleet.drivers", "fleet.payments"},
		Timeout:      5 * time.Second,
	})
}

func TestGetPaymentsWindowQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("scope") != "fleet.drivers fleet.payments" {
			t.Errorf("scope = %q", r.FormValue("scope"))
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/v1/fleet/payments", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("start_time") != "1000" || q.Get("end_time") != "2000" {
			t.Errorf("window = %s..%s", q.Get("start_time"), q.Get("end_time"))
		}
		if q.Get("limit") != "500" || q.Get("offset") != "500" {
			t.Errorf("page = limit %s offset %s", q.Get("limit"), q.Get("offset"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"payments": []map[string]any{{
				"payment_id": "p-1", "driver_uuid": "d-1",
				"category": "fare", "amount": 12.5, "currency_code": "EUR", "event_time": 1500,
			}},
		})
	})

	c := newTestClient(t, mux)
	payments, err := c.GetPayments(context.Background(), 500, 500, 1000, 2000)
	if err != nil {
		t.Fatalf("GetPayments: %v", err)
	}
	if len(payments) != 1 || payments[0].PaymentID != "p-1" {
		t.Fatalf("unexpected payments: %+v", payments)
	}
}

func TestNonOKStatusIsAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/v1/fleet/drivers", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	c := newTestClient(t, mux)
	_, err := c.GetDrivers(context.Background(), 100, 0)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("want *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", apiErr.Status)
	}
}
