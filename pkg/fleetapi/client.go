package fleetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/voltfleet/fleetlink-go/pkg/telemetry"
	"github.com/voltfleet/fleetlink-go/pkg/wire"
)

// DefaultTimeout bounds one API request when Config leaves it unset.
const DefaultTimeout = 10 * time.Second

// Config holds the API client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://fleet.example.com".
	BaseURL string

	// Token is the bearer credential sent with every request.
	Token string

	// Timeout bounds one request end to end (default: 10s).
	Timeout time.Duration
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("fleet api: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("fleet api: status %d: %s", e.StatusCode, e.Message)
}

// AlertFilter narrows an alert history query. Zero value means all
// alerts.
type AlertFilter struct {
	// SystemID restricts to one system.
	SystemID string

	// MinSeverity drops alerts less severe than this.
	MinSeverity wire.Severity

	// Limit caps the number of returned alerts (server default
	// applies when zero).
	Limit int
}

// Client is the fleet operations API client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL

	mu    sync.Mutex
	token string
}

// NewClient creates a client for the API at config.BaseURL.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("fleet api: BaseURL is required")
	}
	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("fleet api: invalid BaseURL: %w", err)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      config.Token,
	}, nil
}

// SetToken replaces the bearer credential for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// CurrentState fetches the latest telemetry snapshot for systemID.
func (c *Client) CurrentState(ctx context.Context, systemID string) (*telemetry.Snapshot, error) {
	path := fmt.Sprintf("/api/v1/systems/%s/state", url.PathEscape(systemID))

	var payload wire.TelemetryPayload
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch current state of %s: %w", systemID, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("fetch current state of %s: %w", systemID, err)
	}
	return telemetry.FromWire(&payload), nil
}

// Alerts fetches the alert history matching filter, newest first.
func (c *Client) Alerts(ctx context.Context, filter AlertFilter) ([]wire.Alert, error) {
	query := url.Values{}
	if filter.SystemID != "" {
		query.Set("systemId", filter.SystemID)
	}
	if filter.MinSeverity != "" {
		query.Set("minSeverity", string(filter.MinSeverity))
	}
	if filter.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", filter.Limit))
	}

	var alerts []wire.Alert
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/alerts", query, nil, &alerts); err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}
	return alerts, nil
}

// AcknowledgeAlert marks one alert acknowledged on the server.
func (c *Client) AcknowledgeAlert(ctx context.Context, alertID string) error {
	path := fmt.Sprintf("/api/v1/alerts/%s/ack", url.PathEscape(alertID))
	if err := c.doRequest(ctx, http.MethodPost, path, nil, struct{}{}, nil); err != nil {
		return fmt.Errorf("acknowledge alert %s: %w", alertID, err)
	}
	return nil
}

// errorResponse is the API's error body shape.
type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, reqBody, respBody any) error {
	u := &url.URL{Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body errorResponse
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			if json.Unmarshal(data, &body) == nil {
				apiErr.Message = body.Error
			}
		}
		return apiErr
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
