package panel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesprial/readings/internal/config"
	"github.com/jamesprial/readings/internal/tasks"
)

// Verify that HTTPClient satisfies the Client interface at compile time.
var _ Client = (*HTTPClient)(nil)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, url string) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(config.PanelConfig{
		URL:      url,
		APIKey:   "ptlc_test",
		ServerID: "1a2b3c4d",
		Timeout:  5,
	})
	require.NoError(t, err)
	return c
}

type recorded struct {
	method string
	path   string
	auth   string
	accept string
	body   map[string]string
}

// newPanelServer serves handler and records the last request.
func newPanelServer(t *testing.T, status int, response string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		rec.accept = r.Header.Get("Accept")
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				_ = json.Unmarshal(data, &rec.body)
			}
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func Test_normalizeURL_Cases(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "https://panel.example.com", want: "https://panel.example.com"},
		{input: "https://panel.example.com/", want: "https://panel.example.com"},
		{input: "https://panel.example.com/api", want: "https://panel.example.com"},
		{input: "https://panel.example.com/api/", want: "https://panel.example.com"},
		{input: "http://10.0.0.2:8080//", want: "http://10.0.0.2:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeURL(tt.input))
		})
	}
}

func Test_NewHTTPClient_Validation(t *testing.T) {
	_, err := NewHTTPClient(config.PanelConfig{ServerID: "x"})
	assert.Error(t, err)

	_, err = NewHTTPClient(config.PanelConfig{URL: "https://panel"})
	assert.Error(t, err)

	c, err := NewHTTPClient(config.PanelConfig{URL: "https://panel/", ServerID: "x"})
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, c.httpClient.Timeout)
	assert.Equal(t, "https://panel", c.BaseURL())
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

func Test_HTTPClient_Resources(t *testing.T) {
	srv, rec := newPanelServer(t, http.StatusOK, `{
		"object": "stats",
		"attributes": {
			"current_state": "running",
			"is_suspended": false,
			"resources": {
				"memory_bytes": 588701696,
				"cpu_absolute": 17.26,
				"disk_bytes": 130156361,
				"network_rx_bytes": 694220,
				"network_tx_bytes": 337090,
				"uptime": 93784000
			}
		}
	}`)
	c := newTestClient(t, srv.URL)

	res, err := c.Resources(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/api/client/servers/1a2b3c4d/resources", rec.path)
	assert.Equal(t, "Bearer ptlc_test", rec.auth)
	assert.Equal(t, acceptHeader, rec.accept)

	assert.Equal(t, "running", res.State)
	assert.Equal(t, 17.26, res.Reading.CPUPercent)
	assert.Equal(t, int64(588701696), res.Reading.MemoryBytes)
	assert.Equal(t, int64(130156361), res.Reading.DiskBytes)
	assert.Equal(t, 26*time.Hour+3*time.Minute+4*time.Second, res.Reading.Uptime)
	assert.Equal(t, int64(694220), res.NetworkRxBytes)

	reading, err := c.FetchUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Reading, reading)
}

func Test_HTTPClient_Power(t *testing.T) {
	srv, rec := newPanelServer(t, http.StatusNoContent, "")
	c := newTestClient(t, srv.URL)

	require.NoError(t, c.Power(context.Background(), tasks.PowerRestart))
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/client/servers/1a2b3c4d/power", rec.path)
	assert.Equal(t, map[string]string{"signal": "restart"}, rec.body)

	err := c.Power(context.Background(), "reboot")
	assert.ErrorIs(t, err, tasks.ErrInvalidPowerAction)
}

func Test_HTTPClient_SendCommand(t *testing.T) {
	srv, rec := newPanelServer(t, http.StatusNoContent, "")
	c := newTestClient(t, srv.URL)

	require.NoError(t, c.SendCommand(context.Background(), "say hello"))
	assert.Equal(t, "/api/client/servers/1a2b3c4d/command", rec.path)
	assert.Equal(t, map[string]string{"command": "say hello"}, rec.body)

	assert.Error(t, c.SendCommand(context.Background(), "  "))
}

func Test_HTTPClient_WebsocketCredentials(t *testing.T) {
	srv, rec := newPanelServer(t, http.StatusOK, `{"data":{"token":"jwt-1","socket":"wss://node.example.com:8080/api/servers/uuid/ws"}}`)
	c := newTestClient(t, srv.URL)

	creds, err := c.WebsocketCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/api/client/servers/1a2b3c4d/websocket", rec.path)
	assert.Equal(t, Credentials{Token: "jwt-1", Socket: "wss://node.example.com:8080/api/servers/uuid/ws"}, creds)
}

func Test_HTTPClient_WebsocketCredentialsIncomplete(t *testing.T) {
	srv, _ := newPanelServer(t, http.StatusOK, `{"data":{"token":""}}`)
	c := newTestClient(t, srv.URL)

	_, err := c.WebsocketCredentials(context.Background())
	assert.Error(t, err)
}

func Test_HTTPClient_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrUnauthorized) },
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrUnauthorized) },
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNotFound) },
		},
		{
			name:   "conflict with envelope",
			status: http.StatusConflict,
			body:   `{"errors":[{"code":"ConflictHttpException","status":"409","detail":"Server is not running."}]}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusConflict, apiErr.HTTPStatus)
				assert.Equal(t, "Server is not running.", apiErr.Detail)
				assert.Contains(t, err.Error(), "ConflictHttpException")
			},
		},
		{
			name:   "bad gateway without envelope",
			status: http.StatusBadGateway,
			body:   "<html>",
			check:  func(t *testing.T, err error) { assert.Contains(t, err.Error(), "502") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newPanelServer(t, tt.status, tt.body)
			c := newTestClient(t, srv.URL)
			_, err := c.Resources(context.Background())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func Test_HTTPClient_MissingAPIKey(t *testing.T) {
	c, err := NewHTTPClient(config.PanelConfig{URL: "http://127.0.0.1:1", ServerID: "x"})
	require.NoError(t, err)

	_, err = c.Resources(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}
