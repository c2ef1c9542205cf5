// Package panel talks to the remote management API that owns the monitored
// node: resource polling, power signals, console commands and the
// credentials for its push websocket.
package panel

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
	"time"

	"github.com/jamesprial/readings/internal/config"
	"github.com/jamesprial/readings/internal/tasks"
	"github.com/jamesprial/readings/internal/usage"
)

const (
	defaultTimeout = 10 * time.Second
	acceptHeader   = "Application/vnd.pterodactyl.v1+json"
)

var (
	// ErrUnauthorized is returned when the API key is rejected.
	ErrUnauthorized = errors.New("panel: authentication failed")
	// ErrNotFound is returned when the server id does not exist or is not
	// visible to the API key.
	ErrNotFound = errors.New("panel: server not found")
)

// HTTPClient implements Client over the panel's client API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	serverID   string
}

// NewHTTPClient constructs an HTTPClient from cfg. It returns an error if
// the URL or server id is empty. A zero or negative timeout uses 10 seconds.
// An empty API key is accepted here but every request will fail.
func NewHTTPClient(cfg config.PanelConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("panel: URL is required")
	}
	if cfg.ServerID == "" {
		return nil, fmt.Errorf("panel: server id is required")
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    normalizeURL(cfg.URL),
		apiKey:     cfg.APIKey,
		serverID:   cfg.ServerID,
	}, nil
}

// normalizeURL trims trailing slashes and a trailing /api segment so that
// both "https://panel" and "https://panel/api/" resolve to the same base.
func normalizeURL(rawURL string) string {
	u := strings.TrimRight(rawURL, "/")
	u = strings.TrimSuffix(u, "/api")
	return strings.TrimRight(u, "/")
}

// BaseURL returns the normalised panel URL. It doubles as the Origin of
// websocket handshakes.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

func (c *HTTPClient) serverPath(suffix string) string {
	return fmt.Sprintf("%s/api/client/servers/%s/%s", c.baseURL, url.PathEscape(c.serverID), suffix)
}

// apiErrors is the panel's error envelope.
type apiErrors struct {
	Errors []APIError `json:"errors"`
}

// do sends a request and returns the response body for any 2xx status.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("panel: API key is not configured")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("panel: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("panel: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", acceptHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("panel: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("panel: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (HTTP %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var envelope apiErrors
		if json.Unmarshal(data, &envelope) == nil && len(envelope.Errors) > 0 {
			e := envelope.Errors[0]
			e.HTTPStatus = resp.StatusCode
			return nil, &e
		}
		return nil, fmt.Errorf("panel: unexpected HTTP status %d", resp.StatusCode)
	}

	return data, nil
}

type resourcesResponse struct {
	Attributes struct {
		CurrentState string `json:"current_state"`
		IsSuspended  bool   `json:"is_suspended"`
		Resources    struct {
			MemoryBytes    int64   `json:"memory_bytes"`
			CPUAbsolute    float64 `json:"cpu_absolute"`
			DiskBytes      int64   `json:"disk_bytes"`
			NetworkRxBytes int64   `json:"network_rx_bytes"`
			NetworkTxBytes int64   `json:"network_tx_bytes"`
			Uptime         int64   `json:"uptime"`
		} `json:"resources"`
	} `json:"attributes"`
}

// Resources fetches the current resource usage of the configured server.
func (c *HTTPClient) Resources(ctx context.Context) (Resources, error) {
	data, err := c.do(ctx, http.MethodGet, c.serverPath("resources"), nil)
	if err != nil {
		return Resources{}, err
	}

	var raw resourcesResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return Resources{}, fmt.Errorf("panel: decode resources: %w", err)
	}

	attrs := raw.Attributes
	return Resources{
		State:     attrs.CurrentState,
		Suspended: attrs.IsSuspended,
		Reading: usage.Reading{
			CPUPercent:  attrs.Resources.CPUAbsolute,
			MemoryBytes: attrs.Resources.MemoryBytes,
			DiskBytes:   attrs.Resources.DiskBytes,
			Uptime:      time.Duration(attrs.Resources.Uptime) * time.Millisecond,
			State:       attrs.CurrentState,
		},
		NetworkRxBytes: attrs.Resources.NetworkRxBytes,
		NetworkTxBytes: attrs.Resources.NetworkTxBytes,
	}, nil
}

// FetchUsage implements usage.Fetcher.
func (c *HTTPClient) FetchUsage(ctx context.Context) (usage.Reading, error) {
	res, err := c.Resources(ctx)
	if err != nil {
		return usage.Reading{}, err
	}
	return res.Reading, nil
}

// Power sends a power signal to the server.
func (c *HTTPClient) Power(ctx context.Context, action tasks.PowerAction) error {
	if _, err := tasks.ParsePowerAction(string(action)); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPost, c.serverPath("power"), map[string]string{"signal": string(action)})
	return err
}

// SendCommand writes command to the server console.
func (c *HTTPClient) SendCommand(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("panel: command is empty")
	}
	_, err := c.do(ctx, http.MethodPost, c.serverPath("command"), map[string]string{"command": command})
	return err
}

// WebsocketCredentials requests a fresh token and socket URL for the push
// websocket.
func (c *HTTPClient) WebsocketCredentials(ctx context.Context) (Credentials, error) {
	data, err := c.do(ctx, http.MethodGet, c.serverPath("websocket"), nil)
	if err != nil {
		return Credentials{}, err
	}

	var raw struct {
		Data Credentials `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Credentials{}, fmt.Errorf("panel: decode websocket credentials: %w", err)
	}
	if raw.Data.Token == "" || raw.Data.Socket == "" {
		return Credentials{}, fmt.Errorf("panel: websocket credentials are incomplete")
	}
	return raw.Data, nil
}
