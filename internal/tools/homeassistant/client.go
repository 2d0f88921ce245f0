// Package homeassistant provides Home Assistant tools over its REST API.
// State and log reads are green; service calls are yellow and limited to
// non-production contexts.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultMaxResponseBytes = int64(1 << 20)
)

// Config configures the Home Assistant client.
type Config struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// Client wraps Home Assistant's REST API.
type Client struct {
	baseURL  string
	token    string
	client   *http.Client
	maxBytes int64
}

// NewClient creates a Home Assistant REST API client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("homeassistant: base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed == nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("homeassistant: invalid base_url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("homeassistant: base_url scheme must be http or https")
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("homeassistant: token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	return &Client{
		baseURL:  baseURL,
		token:    token,
		client:   client,
		maxBytes: maxBytes,
	}, nil
}

// GetState returns a single entity state (GET /api/states/{entity_id}).
func (c *Client) GetState(ctx context.Context, entityID string) (json.RawMessage, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, fmt.Errorf("homeassistant: entity_id is required")
	}
	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/states/"+url.PathEscape(entityID), nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// ErrorLog returns the error log as plain text (GET /api/error_log).
func (c *Client) ErrorLog(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/error_log", nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetConfig returns the instance configuration (GET /api/config).
func (c *Client) GetConfig(ctx context.Context) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/config", nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// ConfigEntry is one integration entry from the config registry.
type ConfigEntry struct {
	EntryID string `json:"entry_id"`
	Domain  string `json:"domain"`
	Title   string `json:"title"`
	State   string `json:"state"`
}

// ConfigEntries lists integration entries (GET /api/config/config_entries/entry).
func (c *Client) ConfigEntries(ctx context.Context) ([]ConfigEntry, error) {
	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/config/config_entries/entry", nil)
	if err != nil {
		return nil, err
	}
	var entries []ConfigEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("homeassistant: decode config entries: %w", err)
	}
	return entries, nil
}

// CallService calls a service (POST /api/services/{domain}/{service}).
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error) {
	domain = strings.TrimSpace(domain)
	service = strings.TrimSpace(service)
	if domain == "" || service == "" {
		return nil, fmt.Errorf("homeassistant: domain and service are required")
	}
	payload := []byte(`{}`)
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("homeassistant: encode service_data: %w", err)
		}
		payload = encoded
	}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/services/"+url.PathEscape(domain)+"/"+url.PathEscape(service), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("homeassistant: client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("homeassistant: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("homeassistant: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("homeassistant: read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("homeassistant: response too large")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("homeassistant: %s", msg)
	}
	return data, nil
}
