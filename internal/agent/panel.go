package agent

import (
	"context"
	"sync"

	"github.com/jamesprial/readings/internal/actions"
	"github.com/jamesprial/readings/internal/panel"
	"github.com/jamesprial/readings/internal/tasks"
	"github.com/jamesprial/readings/internal/usage"
)

var (
	_ usage.Fetcher           = (*panelRef)(nil)
	_ panel.CredentialSource  = (*panelRef)(nil)
	_ actions.PowerController = (*panelRef)(nil)
	_ actions.CommandSink     = (*panelRef)(nil)
)

// panelRef forwards to the current panel client, which a reload may replace
// while actions hold on to the ref.
type panelRef struct {
	mu     sync.RWMutex
	client *panel.HTTPClient
}

func (r *panelRef) get() *panel.HTTPClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

func (r *panelRef) set(c *panel.HTTPClient) {
	r.mu.Lock()
	r.client = c
	r.mu.Unlock()
}

func (r *panelRef) FetchUsage(ctx context.Context) (usage.Reading, error) {
	return r.get().FetchUsage(ctx)
}

func (r *panelRef) WebsocketCredentials(ctx context.Context) (panel.Credentials, error) {
	return r.get().WebsocketCredentials(ctx)
}

func (r *panelRef) Power(ctx context.Context, action tasks.PowerAction) error {
	return r.get().Power(ctx, action)
}

func (r *panelRef) SendCommand(ctx context.Context, command string) error {
	return r.get().SendCommand(ctx, command)
}
