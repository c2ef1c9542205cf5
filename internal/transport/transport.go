// Package transport keeps the usage store fed from the remote node, either by
// a push session that streams stats events or by polling a fetch endpoint.
//
// Push is preferred. When the remote end refuses a push session outright the
// Listener falls back to polling for the rest of its life; any other failure
// is treated as transient and retried after ReconnectDelay.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/jamesprial/readings/internal/usage"
)

// ReconnectDelay is the fixed wait before a reconnect or restart attempt.
const ReconnectDelay = 3 * time.Second

// ErrProtocolRejected marks a failure where the remote end refused the push
// protocol itself. A Failure wrapping it switches the Listener to polling.
var ErrProtocolRejected = errors.New("push protocol rejected")

// Mode is the delivery mechanism in use.
type Mode int

const (
	ModePush Mode = iota + 1
	ModePoll
)

func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModePoll:
		return "poll"
	default:
		return "none"
	}
}

// Event is one notification from a push session: AuthSuccess, StatsUpdate
// or Failure.
type Event interface {
	event()
}

// AuthSuccess is emitted once the session is authenticated and ready for a
// stats subscription.
type AuthSuccess struct{}

// StatsUpdate carries one usage sample.
type StatsUpdate struct {
	Reading usage.Reading
}

// Failure reports a session error. Err wraps ErrProtocolRejected when push
// delivery cannot work at all.
type Failure struct {
	Err error
}

func (AuthSuccess) event() {}
func (StatsUpdate) event() {}
func (Failure) event()     {}

// Session is an open push connection.
//
// Close must not block on the Listener; it is called with the Listener's
// lock held.
type Session interface {
	// Events returns the channel the session delivers events on. The same
	// channel is used across reconnects.
	Events() <-chan Event
	// RequestStats subscribes to the stats feed.
	RequestStats() error
	// Reconnect replaces the underlying connection with a fresh one.
	Reconnect(ctx context.Context) error
	Close() error
}

// Dialer opens push sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// State is a point-in-time view of the Listener.
type State struct {
	Mode              string `json:"mode"`
	Running           bool   `json:"running"`
	PushEnabled       bool   `json:"push_enabled"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}
