// Package uber implements the Uber fleet API client. Token exchange
// also uses client credentials but the grant is JSON scoped and tokens
// live an hour; list endpoints are plain GETs with limit/offset.
package uber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"fleetsync/internal/client"
)

const tokenExpirySkew = 60 * time.Second

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("uber api: status %d: %s", e.Status, e.Body)
}

func (e *APIError) HTTPStatus() int { return e.Status }

type Config struct {
	BaseURL      string
	AuthURL      string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	guard      *client.Guard

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		guard:      client.NewGuard("uber"),
	}
}

type Driver struct {
	UUID      string  `json:"driver_uuid"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone_number"`
	Status    string  `json:"status"`
	ImageURL  *string `json:"picture_url"`
}

type Vehicle struct {
	UUID         string  `json:"vehicle_uuid"`
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	Year         int     `json:"year"`
	LicensePlate string  `json:"license_plate"`
	Status       string  `json:"status"`
	VIN          *string `json:"vin"`
}

type Payment struct {
	PaymentID   string   `json:"payment_id"`
	DriverUUID  string   `json:"driver_uuid"`
	TripUUID    *string  `json:"trip_uuid"`
	Category    string   `json:"category"`
	Amount      float64  `json:"amount"`
	Currency    string   `json:"currency_code"`
	EventTime   int64    `json:"event_time"`
	Breakdown   *float64 `json:"cash_collected"`
	Description *string  `json:"description"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("scope", strings.Join(c.cfg.Scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpirySkew)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values, out any) error {
	return c.guard.Do(ctx, func() error {
		err := c.doOnce(ctx, path, query, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.invalidateToken()
			return c.doOnce(ctx, path, query, out)
		}
		return err
	})
}

func (c *Client) doOnce(ctx context.Context, path string, query url.Values, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response %s: %w", path, err)
		}
	}
	return nil
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return q
}

// GetDrivers returns one page of fleet drivers.
func (c *Client) GetDrivers(ctx context.Context, limit, offset int) ([]Driver, error) {
	var data struct {
		Drivers []Driver `json:"drivers"`
	}
	if err := c.doRequest(ctx, "/v1/fleet/drivers", pageQuery(limit, offset), &data); err != nil {
		return nil, err
	}
	return data.Drivers, nil
}

// GetVehicles returns one page of fleet vehicles.
func (c *Client) GetVehicles(ctx context.Context, limit, offset int) ([]Vehicle, error) {
	var data struct {
		Vehicles []Vehicle `json:"vehicles"`
	}
	if err := c.doRequest(ctx, "/v1/fleet/vehicles", pageQuery(limit, offset), &data); err != nil {
		return nil, err
	}
	return data.Vehicles, nil
}

// GetPayments returns one page of driver payment events inside the
// given window (unix seconds, inclusive).
func (c *Client) GetPayments(ctx context.Context, limit, offset int, startTS, endTS int64) ([]Payment, error) {
	q := pageQuery(limit, offset)
	q.Set("start_time", strconv.FormatInt(startTS, 10))
	q.Set("end_time", strconv.FormatInt(endTS, 10))
	var data struct {
		Payments []Payment `json:"payments"`
	}
	if err := c.doRequest(ctx, "/v1/fleet/payments", q, &data); err != nil {
		return nil, err
	}
	return data.Payments, nil
}
