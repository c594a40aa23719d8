package heetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, LoginURL: srv.URL + "/login", Timeout: 5 * time.Second})
}

func TestGetEarningsSendsCookiesAndDate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/earnings", func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("_heetch_session"); err != nil || ck.Value != "abc" {
			t.Errorf("session cookie missing or wrong: %v", err)
		}
		q := r.URL.Query()
		if q.Get("date") != "2026-08-24" || q.Get("period") != "weekly" {
			t.Errorf("query = date %s period %s", q.Get("date"), q.Get("period"))
		}
		if r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			t.Errorf("missing XHR header")
		}
		json.NewEncoder(w).Encode(EarningsResponse{
			StartDate: "2026-08-24",
			Period:    "weekly",
			Currency:  "EUR",
			Drivers: []DriverEarnings{
				{Email: "a@b.c", FirstName: "A", Earnings: EarningsBreakdown{GrossEarnings: 310.5, NetEarnings: 248.4}},
			},
		})
	})

	c := newTestClient(t, mux)
	monday := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	resp, err := c.GetEarnings(context.Background(), []Cookie{{Name: "_heetch_session", Value: "abc"}}, monday, "weekly")
	if err != nil {
		t.Fatalf("GetEarnings: %v", err)
	}
	if len(resp.Drivers) != 1 || resp.Drivers[0].Email != "a@b.c" {
		t.Fatalf("unexpected drivers: %+v", resp.Drivers)
	}
	if got := resp.Drivers[0].Earnings.GrossEarnings; got != 310.5 {
		t.Fatalf("gross earnings = %v", got)
	}
}

func TestUnauthorizedIsSessionExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/earnings", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newTestClient(t, mux)
	_, err := c.GetEarnings(context.Background(), nil, time.Now(), "weekly")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
}

func TestLoginRedirectIsSessionExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/earnings", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login?next=%2Fearnings", http.StatusFound)
	})
	c := newTestClient(t, mux)
	_, err := c.GetEarnings(context.Background(), []Cookie{{Name: "_heetch_session", Value: "stale"}}, time.Now(), "weekly")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if !Expired(nil, now) {
		t.Error("empty cookie set should be expired")
	}
	fresh := []Cookie{{Name: "s", Value: "v", Expires: float64(now.Add(time.Hour).Unix())}}
	if Expired(fresh, now) {
		t.Error("future-dated cookies should not be expired")
	}
	stale := []Cookie{{Name: "s", Value: "v", Expires: float64(now.Add(-time.Hour).Unix())}}
	if !Expired(stale, now) {
		t.Error("past-dated cookies should be expired")
	}
}
