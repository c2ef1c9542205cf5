package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamesprial/readings/internal/transport"
	"github.com/jamesprial/readings/internal/usage"
)

const (
	handshakeTimeout = 10 * time.Second
	refreshTimeout   = 10 * time.Second
)

// Websocket event names.
const (
	eventAuth          = "auth"
	eventAuthSuccess   = "auth success"
	eventSendStats     = "send stats"
	eventStats         = "stats"
	eventTokenExpiring = "token expiring"
	eventTokenExpired  = "token expired"
	eventJWTError      = "jwt error"
)

var errSessionClosed = errors.New("panel: websocket session closed")

// WebsocketDialer opens push sessions against the panel websocket. It
// implements transport.Dialer.
type WebsocketDialer struct {
	creds  CredentialSource
	origin string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewWebsocketDialer returns a dialer that fetches credentials from creds and
// sends origin as the Origin header of every handshake.
func NewWebsocketDialer(creds CredentialSource, origin string, logger *slog.Logger) *WebsocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketDialer{
		creds:  creds,
		origin: origin,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
	}
}

// Dial opens and authenticates a session. A refused upgrade is reported as
// transport.ErrProtocolRejected.
func (d *WebsocketDialer) Dial(ctx context.Context) (transport.Session, error) {
	s := &wsSession{
		d:      d,
		events: make(chan transport.Event, 32),
		done:   make(chan struct{}),
	}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type wsMessage struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

type wsOutgoing struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

type wsStats struct {
	MemoryBytes int64   `json:"memory_bytes"`
	CPUAbsolute float64 `json:"cpu_absolute"`
	DiskBytes   int64   `json:"disk_bytes"`
	Uptime      int64   `json:"uptime"`
	State       string  `json:"state"`
}

// wsSession is one logical push session. Reconnect swaps the underlying
// connection; a reader only reports errors for the connection that is
// current.
type wsSession struct {
	d      *WebsocketDialer
	events chan transport.Event
	done   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
}

func (s *wsSession) Events() <-chan transport.Event {
	return s.events
}

func (s *wsSession) RequestStats() error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	return s.send(conn, eventSendStats, nil)
}

func (s *wsSession) Reconnect(ctx context.Context) error {
	return s.open(ctx)
}

func (s *wsSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *wsSession) open(ctx context.Context) error {
	creds, err := s.d.creds.WebsocketCredentials(ctx)
	if err != nil {
		return fmt.Errorf("panel: websocket credentials: %w", err)
	}

	header := http.Header{}
	header.Set("Origin", s.d.origin)

	conn, _, err := s.d.dialer.DialContext(ctx, creds.Socket, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) {
			return fmt.Errorf("%w: %v", transport.ErrProtocolRejected, err)
		}
		return fmt.Errorf("panel: websocket dial: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return errSessionClosed
	}
	old := s.conn
	s.conn = conn
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	go s.read(conn)

	if err := s.send(conn, eventAuth, creds.Token); err != nil {
		return err
	}
	s.d.logger.Debug("websocket connected", slog.String("socket", creds.Socket))
	return nil
}

func (s *wsSession) current() (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return nil, errSessionClosed
	}
	return s.conn, nil
}

func (s *wsSession) isCurrent(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.conn == conn
}

func (s *wsSession) send(conn *websocket.Conn, event string, arg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.WriteJSON(wsOutgoing{Event: event, Args: []any{arg}}); err != nil {
		return fmt.Errorf("panel: websocket send %q: %w", event, err)
	}
	return nil
}

func (s *wsSession) emit(ev transport.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *wsSession) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.isCurrent(conn) {
				s.emit(transport.Failure{Err: fmt.Errorf("panel: websocket read: %w", err)})
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.d.logger.Debug("ignoring malformed websocket frame", slog.Any("error", err))
			continue
		}
		s.handle(conn, msg)
	}
}

func (s *wsSession) handle(conn *websocket.Conn, msg wsMessage) {
	switch msg.Event {
	case eventAuthSuccess:
		s.emit(transport.AuthSuccess{})
	case eventStats:
		reading, err := decodeStats(msg.Args)
		if err != nil {
			s.d.logger.Debug("ignoring malformed stats event", slog.Any("error", err))
			return
		}
		s.emit(transport.StatsUpdate{Reading: reading})
	case eventTokenExpiring, eventTokenExpired:
		if err := s.refresh(conn); err != nil {
			s.emit(transport.Failure{Err: err})
		}
	case eventJWTError:
		s.emit(transport.Failure{Err: fmt.Errorf("panel: websocket token rejected: %s", firstArg(msg.Args))})
	}
}

// refresh re-authenticates conn with a new token.
func (s *wsSession) refresh(conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	creds, err := s.d.creds.WebsocketCredentials(ctx)
	if err != nil {
		return fmt.Errorf("panel: refresh websocket token: %w", err)
	}
	s.d.logger.Debug("refreshing websocket token")
	return s.send(conn, eventAuth, creds.Token)
}

// decodeStats parses the stats payload, a JSON document carried as a string
// in the first argument.
func decodeStats(args []json.RawMessage) (usage.Reading, error) {
	if len(args) == 0 {
		return usage.Reading{}, fmt.Errorf("stats event has no arguments")
	}

	var payload string
	if err := json.Unmarshal(args[0], &payload); err != nil {
		return usage.Reading{}, fmt.Errorf("stats argument is not a string: %w", err)
	}

	var st wsStats
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return usage.Reading{}, fmt.Errorf("decode stats: %w", err)
	}

	return usage.Reading{
		CPUPercent:  st.CPUAbsolute,
		MemoryBytes: st.MemoryBytes,
		DiskBytes:   st.DiskBytes,
		Uptime:      time.Duration(st.Uptime) * time.Millisecond,
		State:       st.State,
	}, nil
}

func firstArg(args []json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(args[0], &s) == nil {
		return s
	}
	return string(args[0])
}
