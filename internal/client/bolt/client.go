// Package bolt implements the Bolt fleet integration API client:
// OAuth2 client-credentials token exchange plus the paginated fleet
// endpoints for drivers, vehicles, orders and driver state logs.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fleetsync/internal/client"
)

const (
	tokenScope = "fleet-integration:api"
	// Tokens live 600s; refresh a little early so an in-flight
	// request never crosses the expiry boundary.
	tokenExpirySkew = 30 * time.Second
)

// APIError is a non-zero envelope code or unexpected HTTP status from
// the Bolt API.
type APIError struct {
	Status  int
	Code    int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("bolt api: code %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("bolt api: status %d: %s", e.Status, e.Body)
}

func (e *APIError) HTTPStatus() int { return e.Status }

// IsDateRange reports whether the API rejected the requested window as
// too wide or too far back.
func (e *APIError) IsDateRange() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "date range") ||
		strings.Contains(msg, "start_ts") ||
		strings.Contains(msg, "period is too long")
}

type Config struct {
	BaseURL      string
	AuthURL      string
	ClientID     string
	ClientSecret string
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
		guard:      client.NewGuard("bolt"),
	}
}

// Driver is one fleet driver as returned by getDrivers.
type Driver struct {
	UUID      string  `json:"driver_uuid"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	State     string  `json:"state"`
}

// Vehicle is one fleet vehicle as returned by getVehicles.
type Vehicle struct {
	UUID         string  `json:"vehicle_uuid"`
	Model        string  `json:"model"`
	Year         int     `json:"year"`
	RegNumber    string  `json:"reg_number"`
	State        string  `json:"state"`
	ColorName    *string `json:"color_name"`
	SerialNumber *string `json:"serial_number"`
}

// Order is one fleet order as returned by getFleetOrders.
type Order struct {
	OrderReference        string   `json:"order_reference"`
	DriverUUID            string   `json:"driver_uuid"`
	DriverName            string   `json:"driver_name"`
	VehicleUUID           *string  `json:"vehicle_uuid"`
	PaymentMethod         string   `json:"payment_method"`
	OrderStatus           string   `json:"order_status"`
	CityName              string   `json:"city_name"`
	PickupAddress         *string  `json:"pickup_address"`
	RidePrice             *float64 `json:"ride_price"`
	TollFee               *float64 `json:"toll_fee"`
	CancellationFee       *float64 `json:"cancellation_fee"`
	TipAmount             *float64 `json:"tip"`
	BookingFee            *float64 `json:"booking_fee"`
	CommissionAmount      *float64 `json:"commission"`
	NetEarnings           *float64 `json:"net_earnings"`
	Currency              string   `json:"currency"`
	OrderCreatedTimestamp int64    `json:"order_created_timestamp"`
	OrderAcceptedTS       *int64   `json:"order_accepted_timestamp"`
	OrderPickupTS         *int64   `json:"order_pickup_timestamp"`
	OrderFinishedTS       *int64   `json:"order_finished_timestamp"`
}

// StateLog is one driver state transition as returned by
// getFleetStateLogs.
type StateLog struct {
	DriverUUID       string   `json:"driver_uuid"`
	VehicleUUID      *string  `json:"vehicle_uuid"`
	State            string   `json:"state"`
	Created          int64    `json:"created"`
	Lat              *float64 `json:"lat"`
	Lng              *float64 `json:"lng"`
	ActiveCategories []string `json:"active_categories"`
	OrderHandle      *string  `json:"order_handle"`
}

// RangeQuery addresses one page of a timestamped resource.
type RangeQuery struct {
	CompanyID int64
	Limit     int
	Offset    int
	StartTS   int64
	EndTS     int64
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
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
	form.Set("scope", tokenScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

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

// doRequest posts the payload to path, unwraps the envelope and
// decodes data into out. A 401 clears the cached token and retries the
// exchange once.
func (c *Client) doRequest(ctx context.Context, method, path string, payload, out any) error {
	return c.guard.Do(ctx, func() error {
		err := c.doOnce(ctx, method, path, payload, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.invalidateToken()
			return c.doOnce(ctx, method, path, payload, out)
		}
		return err
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope %s: %w", path, err)
	}
	if env.Code != 0 {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data %s: %w", path, err)
		}
	}
	return nil
}

// GetCompanies lists the company ids the credentials can access.
func (c *Client) GetCompanies(ctx context.Context) ([]int64, error) {
	var data struct {
		CompanyIDs []int64 `json:"company_ids"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/fleetIntegration/v1/getCompanies", nil, &data); err != nil {
		return nil, err
	}
	return data.CompanyIDs, nil
}

// GetDrivers returns one page of fleet drivers.
func (c *Client) GetDrivers(ctx context.Context, companyID int64, limit, offset int) ([]Driver, error) {
	payload := map[string]any{
		"company_ids": []int64{companyID},
		"limit":       limit,
		"offset":      offset,
	}
	var data struct {
		Drivers []Driver `json:"drivers"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/fleetIntegration/v1/getDrivers", payload, &data); err != nil {
		return nil, err
	}
	return data.Drivers, nil
}

// GetVehicles returns one page of fleet vehicles.
func (c *Client) GetVehicles(ctx context.Context, companyID int64, limit, offset int) ([]Vehicle, error) {
	payload := map[string]any{
		"company_ids": []int64{companyID},
		"limit":       limit,
		"offset":      offset,
	}
	var data struct {
		Vehicles []Vehicle `json:"vehicles"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/fleetIntegration/v1/getVehicles", payload, &data); err != nil {
		return nil, err
	}
	return data.Vehicles, nil
}

// GetFleetOrders returns one page of orders inside the given window.
func (c *Client) GetFleetOrders(ctx context.Context, q RangeQuery) ([]Order, error) {
	payload := map[string]any{
		"company_id": q.CompanyID,
		"limit":      q.Limit,
		"offset":     q.Offset,
		"start_ts":   q.StartTS,
		"end_ts":     q.EndTS,
	}
	var data struct {
		Orders []Order `json:"orders"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/fleetIntegration/v1/getFleetOrders", payload, &data); err != nil {
		return nil, err
	}
	return data.Orders, nil
}

// GetFleetStateLogs returns one page of driver state transitions
// inside the given window.
func (c *Client) GetFleetStateLogs(ctx context.Context, q RangeQuery) ([]StateLog, error) {
	payload := map[string]any{
		"company_id": q.CompanyID,
		"limit":      q.Limit,
		"offset":     q.Offset,
		"start_ts":   q.StartTS,
		"end_ts":     q.EndTS,
	}
	var data struct {
		StateLogs []StateLog `json:"state_logs"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/fleetIntegration/v1/getFleetStateLogs", payload, &data); err != nil {
		return nil, err
	}
	return data.StateLogs, nil
}
