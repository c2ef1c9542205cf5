package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jamesprial/readings/internal/metrics"
	"github.com/jamesprial/readings/internal/usage"
)

const defaultPollInterval = 5 * time.Second

// Options configures a Listener.
type Options struct {
	// PushEnabled selects push delivery at start. It is cleared for the
	// lifetime of the Listener when the remote end rejects push.
	PushEnabled  bool
	PollInterval time.Duration
	// ReconnectDelay defaults to the package ReconnectDelay.
	ReconnectDelay time.Duration
	// Scheduler defaults to the wall clock.
	Scheduler Scheduler
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Listener owns the transport state machine. All state is guarded by mu; a
// generation counter, bumped on every start and stop, lets callbacks from a
// superseded session or timer recognise themselves and do nothing.
type Listener struct {
	dialer         Dialer
	fetcher        usage.Fetcher
	store          *usage.Store
	sched          Scheduler
	logger         *slog.Logger
	metrics        *metrics.Metrics
	pollInterval   time.Duration
	reconnectDelay time.Duration

	mu          sync.Mutex
	ctx         context.Context
	gen         uint64
	running     bool
	pushEnabled bool
	mode        Mode
	session     Session
	established bool
	done        chan struct{}
	pending     func() bool
	pendingID   uint64
	pollCancel  func() bool
	attempts    int
}

// NewListener returns a stopped Listener writing into store. dialer may be
// nil, in which case only polling is used.
func NewListener(dialer Dialer, fetcher usage.Fetcher, store *usage.Store, opts Options) *Listener {
	l := &Listener{
		dialer:         dialer,
		fetcher:        fetcher,
		store:          store,
		sched:          opts.Scheduler,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		pollInterval:   opts.PollInterval,
		reconnectDelay: opts.ReconnectDelay,
		pushEnabled:    opts.PushEnabled && dialer != nil,
	}
	if l.sched == nil {
		l.sched = NewClockScheduler()
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.pollInterval <= 0 {
		l.pollInterval = defaultPollInterval
	}
	if l.reconnectDelay <= 0 {
		l.reconnectDelay = ReconnectDelay
	}
	return l
}

// Start begins delivery in push mode if enabled, otherwise in poll mode. In
// push mode the dial happens on the calling goroutine. Start on a running
// Listener does nothing.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	gen, dial := l.startLocked(ctx)
	l.mu.Unlock()

	if dial {
		l.connect(ctx, gen)
	}
}

// Stop cancels any pending reconnect, restart or poll and closes the push
// session. It is safe to call any number of times.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := l.running || l.pending != nil
	l.stopLocked()
	if active {
		l.logger.Info("listener stopped")
	}
}

// IsRunning reports whether push or poll delivery is active.
func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// PushEnabled reports whether push delivery is still allowed.
func (l *Listener) PushEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pushEnabled
}

// State returns a snapshot of the Listener's state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	mode := "none"
	if l.running {
		mode = l.mode.String()
	}
	return State{
		Mode:              mode,
		Running:           l.running,
		PushEnabled:       l.pushEnabled,
		ReconnectAttempts: l.attempts,
	}
}

// startLocked marks the Listener running and, in poll mode, schedules the
// first poll. It reports whether the caller must dial.
func (l *Listener) startLocked(ctx context.Context) (uint64, bool) {
	if l.running {
		return l.gen, false
	}

	// An explicit start supersedes a scheduled restart.
	l.cancelPendingLocked()
	l.ctx = ctx
	l.gen++
	l.running = true
	l.mode = ModePoll
	if l.pushEnabled {
		l.mode = ModePush
	}
	l.metrics.TransportMode(l.mode.String())
	l.logger.Info("listener started",
		slog.String("mode", l.mode.String()),
		slog.Int("attempts", l.attempts),
	)

	if l.mode == ModePoll {
		l.schedulePollLocked(l.gen, 0)
		return l.gen, false
	}
	return l.gen, true
}

func (l *Listener) stopLocked() {
	l.cancelPendingLocked()
	if l.pollCancel != nil {
		l.pollCancel()
		l.pollCancel = nil
	}
	if l.done != nil {
		close(l.done)
		l.done = nil
	}
	if l.session != nil {
		if err := l.session.Close(); err != nil {
			l.logger.Debug("closing push session", slog.Any("error", err))
		}
		l.session = nil
	}
	l.established = false
	l.running = false
	l.gen++
	l.metrics.TransportMode("")
}

func (l *Listener) connect(ctx context.Context, gen uint64) {
	sess, err := l.dialer.Dial(ctx)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		return
	}
	if err != nil {
		l.mu.Unlock()
		l.fail(gen, err)
		return
	}
	l.session = sess
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	go l.dispatch(gen, sess, done)
}

// dispatch is the single consumer of a session's events.
func (l *Listener) dispatch(gen uint64, sess Session, done <-chan struct{}) {
	events := sess.Events()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case AuthSuccess:
				l.onAuthSuccess(gen, sess)
			case StatsUpdate:
				l.onStats(gen, e.Reading)
			case Failure:
				l.fail(gen, e.Err)
			}
		}
	}
}

func (l *Listener) onAuthSuccess(gen uint64, sess Session) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.established = true
	l.attempts = 0
	l.mu.Unlock()

	l.logger.Info("push session established", slog.String("mode", ModePush.String()))
	if err := sess.RequestStats(); err != nil {
		l.fail(gen, err)
	}
}

func (l *Listener) onStats(gen uint64, r usage.Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return
	}
	l.store.Apply(r)
	l.metrics.ObserveUsage(l.store.Read())
}

// fail applies the failure policy: a protocol rejection switches to polling
// for good; anything else schedules one reconnect of an established session,
// or a full restart when there is none.
func (l *Listener) fail(gen uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.gen {
		return
	}

	if errors.Is(err, ErrProtocolRejected) {
		l.logger.Warn("push delivery rejected, falling back to polling", slog.Any("error", err))
		l.stopLocked()
		l.pushEnabled = false
		l.metrics.PollFallback()
		l.startLocked(l.ctx)
		return
	}

	if l.ctx != nil && l.ctx.Err() != nil {
		l.stopLocked()
		return
	}

	if l.pending != nil {
		return
	}

	l.attempts++
	if l.session != nil && l.established {
		l.logger.Warn("push session failed, reconnecting",
			slog.Duration("delay", l.reconnectDelay),
			slog.Int("attempts", l.attempts),
			slog.Any("error", err),
		)
		l.metrics.Reconnect()
		sess := l.session
		l.schedulePendingLocked(func(id uint64) { l.reconnect(gen, sess, id) })
		return
	}

	l.logger.Warn("push session failed, restarting listener",
		slog.Duration("delay", l.reconnectDelay),
		slog.Int("attempts", l.attempts),
		slog.Any("error", err),
	)
	l.stopLocked()
	next := l.gen
	l.schedulePendingLocked(func(id uint64) { l.restart(next, id) })
}

// schedulePendingLocked arms the single reconnect or restart timer. The
// callback receives the timer's id so it can release only its own slot.
func (l *Listener) schedulePendingLocked(f func(id uint64)) {
	l.pendingID++
	id := l.pendingID
	l.pending = l.sched.AfterFunc(l.reconnectDelay, func() { f(id) })
}

func (l *Listener) cancelPendingLocked() {
	if l.pending != nil {
		l.pending()
		l.pending = nil
	}
}

func (l *Listener) releasePendingLocked(id uint64) {
	if l.pendingID == id {
		l.pending = nil
	}
}

func (l *Listener) reconnect(gen uint64, sess Session, id uint64) {
	l.mu.Lock()
	l.releasePendingLocked(id)
	if gen != l.gen || l.session != sess {
		l.mu.Unlock()
		return
	}
	ctx := l.ctx
	l.mu.Unlock()

	if err := sess.Reconnect(ctx); err != nil {
		l.fail(gen, err)
	}
}

func (l *Listener) restart(gen uint64, id uint64) {
	l.mu.Lock()
	l.releasePendingLocked(id)
	if gen != l.gen || l.running {
		l.mu.Unlock()
		return
	}
	ctx := l.ctx
	next, dial := l.startLocked(ctx)
	l.mu.Unlock()

	if dial {
		l.connect(ctx, next)
	}
}

func (l *Listener) schedulePollLocked(gen uint64, d time.Duration) {
	if l.fetcher == nil {
		l.logger.Error("polling requested but no fetcher is configured")
		return
	}
	l.pollCancel = l.sched.AfterFunc(d, func() { l.poll(gen) })
}

func (l *Listener) poll(gen uint64) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	ctx := l.ctx
	l.mu.Unlock()

	reading, err := l.fetcher.FetchUsage(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return
	}

	if err != nil {
		l.metrics.PollError()
		l.logger.Warn("usage poll failed", slog.String("mode", ModePoll.String()), slog.Any("error", err))
	} else {
		l.store.Apply(reading)
		l.metrics.ObserveUsage(l.store.Read())
	}
	l.schedulePollLocked(gen, l.pollInterval)
}
