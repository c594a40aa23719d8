// Package heetch talks to the Heetch fleet portal. There is no API
// token: every data call rides on browser session cookies captured by
// the automation login flow, and the requests mimic the portal's own
// XHR traffic so the session stays indistinguishable from a browser.
package heetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fleetsync/internal/client"
)

// ErrSessionExpired means the portal no longer accepts the cookies:
// the caller must invalidate the stored credential and re-login.
var ErrSessionExpired = errors.New("heetch portal session expired")

// Cookie is one browser cookie captured at login and replayed on data
// calls. Expires is unix seconds; zero means a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("heetch portal: status %d: %s", e.Status, e.Body)
}

func (e *APIError) HTTPStatus() int { return e.Status }

type Config struct {
	BaseURL  string
	LoginURL string
	Timeout  time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	guard      *client.Guard
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
			// A redirect to the login page is how the portal
			// signals an expired session; surface it instead
			// of following.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		guard: client.NewGuard("heetch"),
	}
}

// StatusEvent is one driver availability transition embedded in the
// weekly earnings payload.
type StatusEvent struct {
	Status  string `json:"status"`
	Created int64  `json:"created"`
}

// EarningsBreakdown is the per-driver money block of an earnings
// report. The portal sends zero for absent buckets.
type EarningsBreakdown struct {
	GrossEarnings      float64 `json:"gross_earnings"`
	NetEarnings        float64 `json:"net_earnings"`
	CashCollected      float64 `json:"cash_collected"`
	CardGrossEarnings  float64 `json:"card_gross_earnings"`
	CashCommissionFees float64 `json:"cash_commission_fees"`
	CardCommissionFees float64 `json:"card_commission_fees"`
	CancellationFees   float64 `json:"cancellation_fees"`
	Bonuses            float64 `json:"bonuses"`
	TerminatedRides    int     `json:"terminated_rides"`
	CancelledRides     int     `json:"cancelled_rides"`
}

// DriverEarnings is one driver's entry in an earnings report. Email is
// the only stable identifier the portal exposes.
type DriverEarnings struct {
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	ImageURL     *string           `json:"image_url"`
	Phone        *string           `json:"phone"`
	Earnings     EarningsBreakdown `json:"earnings"`
	StatusEvents []StatusEvent     `json:"status_events"`
}

// EarningsResponse is one weekly earnings report.
type EarningsResponse struct {
	StartDate string           `json:"start_date"`
	Period    string           `json:"period"`
	Currency  string           `json:"currency"`
	Drivers   []DriverEarnings `json:"drivers"`
}

// GetEarnings fetches the weekly earnings report anchored at date.
// Heetch only accepts Monday-aligned dates for the weekly period.
func (c *Client) GetEarnings(ctx context.Context, cookies []Cookie, date time.Time, period string) (*EarningsResponse, error) {
	var out *EarningsResponse
	err := c.guard.Do(ctx, func() error {
		resp, err := c.getEarningsOnce(ctx, cookies, date, period)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *Client) getEarningsOnce(ctx context.Context, cookies []Cookie, date time.Time, period string) (*EarningsResponse, error) {
	u := fmt.Sprintf("%s/api/earnings?date=%s&period=%s", c.cfg.BaseURL, date.Format("2006-01-02"), period)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setBrowserHeaders(req)
	for _, ck := range cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("earnings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); strings.Contains(loc, "/login") {
			return nil, ErrSessionExpired
		}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read earnings response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	var out EarningsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode earnings response: %w", err)
	}
	return &out, nil
}

func (c *Client) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", c.cfg.BaseURL+"/earnings")
}

// Expired reports whether the cookie set has passed its useful life.
func Expired(cookies []Cookie, now time.Time) bool {
	if len(cookies) == 0 {
		return true
	}
	for _, ck := range cookies {
		if ck.Expires > 0 && float64(now.Unix()) > ck.Expires {
			return true
		}
	}
	return false
}
