package panel

import (
	"context"
	"fmt"

	"github.com/jamesprial/readings/internal/tasks"
	"github.com/jamesprial/readings/internal/usage"
)

// APIError is one entry of the panel's error envelope.
type APIError struct {
	Code       string `json:"code"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("panel: %s (HTTP %d): %s", e.Code, e.HTTPStatus, e.Detail)
	}
	return fmt.Sprintf("panel: %s (HTTP %d)", e.Code, e.HTTPStatus)
}

// Resources is the decoded resource usage of a server.
type Resources struct {
	State          string
	Suspended      bool
	Reading        usage.Reading
	NetworkRxBytes int64
	NetworkTxBytes int64
}

// Credentials authorises one websocket connection.
type Credentials struct {
	Token  string `json:"token"`
	Socket string `json:"socket"`
}

// CredentialSource issues websocket credentials.
type CredentialSource interface {
	WebsocketCredentials(ctx context.Context) (Credentials, error)
}

// Client defines the operations used against the panel.
type Client interface {
	usage.Fetcher
	CredentialSource
	Resources(ctx context.Context) (Resources, error)
	Power(ctx context.Context, action tasks.PowerAction) error
	SendCommand(ctx context.Context, command string) error
}
