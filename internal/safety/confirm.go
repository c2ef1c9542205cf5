package safety

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const tokenTTL = 5 * time.Minute

// pendingConfirmation holds the metadata for an outstanding confirmation token.
type pendingConfirmation struct {
	tool        string
	resource    string
	description string
	createdAt   time.Time
}

// ConfirmationTracker manages single-use, time-limited confirmation tokens for
// power actions requested through the control surface. A token is bound to
// the tool and resource it was issued for.
type ConfirmationTracker struct {
	destructive map[string]struct{}
	exempt      map[string]struct{}
	now         func() time.Time

	mu     sync.Mutex
	tokens map[string]*pendingConfirmation
}

// NewConfirmationTracker returns a ConfirmationTracker whose set of tools
// requiring explicit confirmation is defined by destructiveTools.
func NewConfirmationTracker(destructiveTools []string) *ConfirmationTracker {
	ct := &ConfirmationTracker{
		destructive: make(map[string]struct{}, len(destructiveTools)),
		exempt:      make(map[string]struct{}),
		now:         time.Now,
		tokens:      make(map[string]*pendingConfirmation),
	}
	for _, tool := range destructiveTools {
		ct.destructive[tool] = struct{}{}
	}
	return ct
}

// NeedsConfirmation reports whether tool is in the destructive-tools set.
func (ct *ConfirmationTracker) NeedsConfirmation(tool string) bool {
	_, ok := ct.destructive[tool]
	return ok
}

// Exempt lets the given resources of tool run without a token. It must be
// called before the tracker is shared.
func (ct *ConfirmationTracker) Exempt(tool string, resources ...string) *ConfirmationTracker {
	for _, r := range resources {
		ct.exempt[tool+"/"+r] = struct{}{}
	}
	return ct
}

// RequiresConfirmation reports whether running tool against resource needs a
// token: the tool is destructive and the resource is not exempt.
func (ct *ConfirmationTracker) RequiresConfirmation(tool, resource string) bool {
	if !ct.NeedsConfirmation(tool) {
		return false
	}
	_, ok := ct.exempt[tool+"/"+resource]
	return !ok
}

// sweepExpired drops tokens older than tokenTTL. The caller must hold ct.mu.
func (ct *ConfirmationTracker) sweepExpired() {
	now := ct.now()
	for token, pending := range ct.tokens {
		if now.Sub(pending.createdAt) > tokenTTL {
			delete(ct.tokens, token)
		}
	}
}

// RequestConfirmation issues a token for running tool against resource.
// Tokens are valid for 5 minutes and are single-use.
func (ct *ConfirmationTracker) RequestConfirmation(tool, resource, description string) string {
	token := uuid.NewString()

	ct.mu.Lock()
	ct.sweepExpired()
	ct.tokens[token] = &pendingConfirmation{
		tool:        tool,
		resource:    resource,
		description: description,
		createdAt:   ct.now(),
	}
	ct.mu.Unlock()

	return token
}

// Confirm consumes token and reports whether it was issued for the same tool
// and resource and has not expired. A token is consumed even when the check
// fails.
func (ct *ConfirmationTracker) Confirm(token, tool, resource string) bool {
	if token == "" {
		return false
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pending, ok := ct.tokens[token]
	if !ok {
		return false
	}
	delete(ct.tokens, token)

	if ct.now().Sub(pending.createdAt) > tokenTTL {
		return false
	}
	return pending.tool == tool && pending.resource == resource
}

// Pending returns the number of outstanding tokens.
func (ct *ConfirmationTracker) Pending() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.sweepExpired()
	return len(ct.tokens)
}
