// Package cloud provides communication with the fleet backend.
// Uses HTTPS REST for data submission and WebSocket for connectivity
// tracking and real-time events.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sisdrone/field-controller/internal/storage"
)

// Identity carries the auth material injected into every backend request.
// It is passed explicitly into the client by the calling component rather
// than read from ambient process state.
type Identity struct {
	APIKey   string
	TenantID string
	Role     string // "ADMIN", "ENGINEER" or "VIEWER"
}

// Config holds backend client configuration
type Config struct {
	BaseURL      string // REST API base URL
	WebSocketURL string // WebSocket URL for the agent channel
	AgentID      string // Field agent UUID
	Identity     Identity

	HTTPTimeout time.Duration

	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	// Reconnection settings (exponential backoff)
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	BackoffMultiplier float64
	JitterPercent     float64
}

// DefaultConfig returns default backend client configuration
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:       30 * time.Second,
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		InitialRetryDelay: 1 * time.Second,
		MaxRetryDelay:     60 * time.Second,
		BackoffMultiplier: 2.0,
		JitterPercent:     0.25,
	}
}

// UnreachableError marks a request that never reached the backend: the
// transport failed before any HTTP status was produced. Writes failing this
// way are safe to capture for offline replay; an HTTP error response is not,
// since the server already saw the request.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("backend unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// IsUnreachable reports whether err indicates the backend could not be
// reached at the transport level.
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}

// Client handles REST communication with the fleet backend
type Client struct {
	config     Config
	httpClient *http.Client
}

// New creates a new backend client
func New(config Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
		},
	}
}

// Replay resubmits a previously captured write intent to its original
// endpoint. The mutation's idempotency key is forwarded so the backend can
// deduplicate at-least-once deliveries.
func (c *Client) Replay(ctx context.Context, m *storage.QueuedMutation) error {
	return c.send(ctx, m.Method, m.URL, []byte(m.Payload), m.IdempotencyKey)
}

// CreatePoleRequest is the payload for registering a new pole
type CreatePoleRequest struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	UTMX string  `json:"utm_x"`
	UTMY string  `json:"utm_y"`
}

// CreatePole registers a new pole with the backend
func (c *Client) CreatePole(ctx context.Context, req *CreatePoleRequest) error {
	return c.postJSON(ctx, "/api/poles", req)
}

// ImportGeoJSON submits a GeoJSON feature collection for bulk import
func (c *Client) ImportGeoJSON(ctx context.Context, geojson json.RawMessage) error {
	return c.postJSON(ctx, "/api/gis/import/geojson", map[string]interface{}{
		"geojson": geojson,
	})
}

// FeedbackRequest is the payload for classification feedback
type FeedbackRequest struct {
	LabelID    int64  `json:"labelId"`
	PoleID     int64  `json:"poleId"`
	IsCorrect  bool   `json:"isCorrect"`
	Correction string `json:"correction,omitempty"`
}

// SendFeedback submits feedback on a vision classification
func (c *Client) SendFeedback(ctx context.Context, req *FeedbackRequest) error {
	return c.postJSON(ctx, "/api/feedback", req)
}

// InspectionReport is the payload for a recorded field inspection
type InspectionReport struct {
	PoleID     int64   `json:"poleId"`
	Condition  string  `json:"condition"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary,omitempty"`
	AHIScore   int     `json:"ahi_score"`
}

// ReportInspection submits an inspection result to the backend
func (c *Client) ReportInspection(ctx context.Context, req *InspectionReport) error {
	return c.postJSON(ctx, "/api/inspections", req)
}

// FetchPoles retrieves the current server-side pole state, used to
// resynchronize the local cache after an offline window.
func (c *Client) FetchPoles(ctx context.Context) ([]*storage.Pole, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/poles", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnreachableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var poles []*storage.Pole
	if err := json.NewDecoder(resp.Body).Decode(&poles); err != nil {
		return nil, fmt.Errorf("decode poles: %w", err)
	}
	return poles, nil
}

// postJSON sends a POST request with a JSON body to the REST API
func (c *Client) postJSON(ctx context.Context, endpoint string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.send(ctx, http.MethodPost, endpoint, data, "")
}

// send issues a request against the REST API. endpoint is relative to the
// configured base URL.
func (c *Client) send(ctx context.Context, method, endpoint string, body []byte, idempotencyKey string) error {
	url := c.config.BaseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnreachableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request, idempotencyKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.config.Identity.APIKey)
	req.Header.Set("X-Tenant-ID", c.config.Identity.TenantID)
	req.Header.Set("X-User-Role", c.config.Identity.Role)
	req.Header.Set("X-Agent-ID", c.config.AgentID)
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
}
