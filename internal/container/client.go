// Package container controls a node that runs as a Docker container, talking
// to the Docker Engine API over its Unix socket. It serves as both a power
// backend and a usage source.
package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jamesprial/readings/internal/tasks"
	"github.com/jamesprial/readings/internal/usage"
)

// dockerAPIVersion is the minimum Docker API version this client targets.
const dockerAPIVersion = "v1.41"

const defaultStopTimeout = 30

// ErrNotFound is returned when the container does not exist.
var ErrNotFound = errors.New("docker: container not found")

var _ usage.Fetcher = (*Client)(nil)

// Client drives one container.
type Client struct {
	http        *http.Client
	baseURL     string
	id          string
	stopTimeout int
	now         func() time.Time
}

// NewClient returns a Client for container id reached through the Docker
// socket at socketPath. stopTimeout is the grace period in seconds for stop
// and restart; zero or less uses 30.
func NewClient(socketPath, id string, stopTimeout int) (*Client, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("docker: socket path is required")
	}
	if id == "" {
		return nil, fmt.Errorf("docker: container is required")
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
		},
	}
	// The host is ignored over a Unix socket but must not be empty.
	return newClient(&http.Client{Transport: transport, Timeout: 30 * time.Second}, "http://localhost", id, stopTimeout), nil
}

func newClient(hc *http.Client, base, id string, stopTimeout int) *Client {
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &Client{
		http:        hc,
		baseURL:     base + "/" + dockerAPIVersion,
		id:          id,
		stopTimeout: stopTimeout,
		now:         time.Now,
	}
}

// ID returns the container name or id.
func (c *Client) ID() string { return c.id }

func (c *Client) containerPath(suffix string) string {
	return "/containers/" + url.PathEscape(c.id) + suffix
}

// do sends a request and returns the body for 2xx and 304 responses.
func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("docker: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docker: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("docker: read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c.id)
	}

	var apiErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		return nil, fmt.Errorf("docker: %s", apiErr.Message)
	}
	return nil, fmt.Errorf("docker: unexpected status %d: %s", resp.StatusCode, string(body))
}

// Power maps start, stop, restart and kill onto the matching container
// endpoints. Starting a running or stopping a stopped container succeeds.
func (c *Client) Power(ctx context.Context, action tasks.PowerAction) error {
	var path string
	switch action {
	case tasks.PowerStart:
		path = c.containerPath("/start")
	case tasks.PowerStop:
		path = c.containerPath(fmt.Sprintf("/stop?t=%d", c.stopTimeout))
	case tasks.PowerRestart:
		path = c.containerPath(fmt.Sprintf("/restart?t=%d", c.stopTimeout))
	case tasks.PowerKill:
		path = c.containerPath("/kill")
	default:
		return fmt.Errorf("%w: %q", tasks.ErrInvalidPowerAction, action)
	}

	if _, err := c.do(ctx, http.MethodPost, path); err != nil {
		return fmt.Errorf("%s container: %w", action, err)
	}
	return nil
}
