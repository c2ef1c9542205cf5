// Package agent assembles the readings components from a configuration and
// runs them: transport into the usage store, the task registry, the threshold
// evaluator and the action executor.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/jamesprial/readings/internal/actions"
	"github.com/jamesprial/readings/internal/config"
	"github.com/jamesprial/readings/internal/container"
	"github.com/jamesprial/readings/internal/engine"
	"github.com/jamesprial/readings/internal/hypervisor"
	"github.com/jamesprial/readings/internal/metrics"
	"github.com/jamesprial/readings/internal/panel"
	"github.com/jamesprial/readings/internal/safety"
	"github.com/jamesprial/readings/internal/tasks"
	"github.com/jamesprial/readings/internal/tools"
	"github.com/jamesprial/readings/internal/transport"
	"github.com/jamesprial/readings/internal/usage"
)

// Options configures an Agent.
type Options struct {
	// ConfigPath is re-read by Reload. Reload fails when it is empty.
	ConfigPath string
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Audit      *safety.AuditLogger
	// Scheduler drives transport timers. Defaults to the wall clock.
	Scheduler transport.Scheduler
}

// Agent owns every long-lived component. Create it with New, start it with
// Run and release it with Close.
type Agent struct {
	path    string
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *safety.AuditLogger
	sched   transport.Scheduler

	store     *usage.Store
	registry  *tasks.Registry
	panel     *panelRef
	power     actions.PowerController
	commands  actions.GuardedCommands
	executor  *actions.Executor
	evaluator *engine.Evaluator
	interval  time.Duration
	closers   []func() error

	reloadMu sync.Mutex

	mu       sync.Mutex
	cfg      *config.Config
	listener *transport.Listener
	runCtx   context.Context
}

// New builds an Agent from cfg, which must already be validated. Tasks are
// loaded immediately; nothing touches the network until Run, except
// connecting the optional libvirt and MQTT backends.
func New(cfg *config.Config, opts Options) (*Agent, error) {
	a := &Agent{
		path:     opts.ConfigPath,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		audit:    opts.Audit,
		sched:    opts.Scheduler,
		store:    usage.NewStore(),
		registry: tasks.NewRegistry(),
		cfg:      cfg,
		interval: time.Duration(cfg.Evaluator.Interval) * time.Second,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.interval <= 0 {
		a.interval = 5 * time.Second
	}

	client, err := panel.NewHTTPClient(cfg.Panel)
	if err != nil {
		return nil, err
	}
	a.panel = &panelRef{client: client}

	if err := a.buildActions(cfg); err != nil {
		a.Close()
		return nil, err
	}

	a.evaluator = engine.New(a.registry, a.store, a.executor, engine.Options{
		EdgeTriggered: cfg.Evaluator.EdgeTriggered,
		Logger:        a.logger.With(slog.String("component", "engine")),
		Metrics:       a.metrics,
	})
	a.listener = a.newListener(cfg)

	report := tasks.Load(a.registry, cfg.Tasks, a.logger.With(slog.String("component", "tasks")))
	a.metrics.TasksLoaded(report.Loaded)
	return a, nil
}

func (a *Agent) buildActions(cfg *config.Config) error {
	switch cfg.PowerBackend {
	case "libvirt":
		pc, err := hypervisor.Dial(cfg.Libvirt.Socket, cfg.Libvirt.Domain, a.logger.With(slog.String("component", "hypervisor")))
		if err != nil {
			return fmt.Errorf("power backend: %w", err)
		}
		a.closers = append(a.closers, pc.Close)
		a.power = pc
	case "docker":
		c, err := container.NewClient(cfg.Docker.Socket, cfg.Docker.Container, cfg.Docker.StopTimeout)
		if err != nil {
			return fmt.Errorf("power backend: %w", err)
		}
		a.power = c
	default:
		a.power = a.panel
	}

	a.commands = actions.GuardedCommands{
		Sink:   a.panel,
		Filter: safety.NewFilter(cfg.Commands.Allowlist, cfg.Commands.Denylist),
	}

	var broadcaster actions.Broadcaster
	switch cfg.Broadcast.Mode {
	case "mqtt":
		b, err := actions.NewMQTTBroadcaster(cfg.Broadcast.MQTT, cfg.Panel.ServerID, a.logger.With(slog.String("component", "mqtt")))
		if err != nil {
			return fmt.Errorf("broadcast backend: %w", err)
		}
		a.closers = append(a.closers, func() error { b.Close(); return nil })
		broadcaster = b
	default:
		broadcaster = actions.NewConsoleBroadcaster(a.panel, cfg.Broadcast.ConsoleFormat)
	}

	a.executor = actions.NewExecutor(a.power, broadcaster, a.commands, actions.Options{
		Audit:   a.audit,
		Logger:  a.logger.With(slog.String("component", "actions")),
		Metrics: a.metrics,
	})
	return nil
}

// newListener builds a stopped listener for cfg. Usage comes from the panel
// unless source is "host" or "docker"; push is only possible against the panel.
func (a *Agent) newListener(cfg *config.Config) *transport.Listener {
	var (
		fetcher usage.Fetcher = a.panel
		dialer  transport.Dialer
	)
	switch cfg.Source {
	case "host":
		fetcher = usage.NewHostFetcher("")
	case "docker":
		c, err := container.NewClient(cfg.Docker.Socket, cfg.Docker.Container, cfg.Docker.StopTimeout)
		if err != nil {
			a.logger.Error("docker source unavailable, polling the panel instead", slog.Any("error", err))
			break
		}
		fetcher = c
	}
	if cfg.Source == "panel" && cfg.Panel.UseWebsocket {
		dialer = panel.NewWebsocketDialer(a.panel, a.panel.get().BaseURL(), a.logger.With(slog.String("component", "websocket")))
	}

	return transport.NewListener(dialer, fetcher, a.store, transport.Options{
		PushEnabled:  dialer != nil,
		PollInterval: time.Duration(cfg.Panel.UpdateFrequency) * time.Second,
		Scheduler:    a.sched,
		Logger:       a.logger.With(slog.String("component", "transport")),
		Metrics:      a.metrics,
	})
}

// Run starts delivery and evaluates tasks until ctx is cancelled, then stops
// the transport and waits for in-flight actions.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	l := a.listener
	a.mu.Unlock()

	a.logger.Info("agent starting",
		slog.String("source", a.config().Source),
		slog.Int("tasks", a.registry.Len()),
	)
	l.Start(ctx)

	err := a.evaluator.Run(ctx, a.interval)

	a.reloadMu.Lock()
	a.mu.Lock()
	a.runCtx = nil
	a.listener.Stop()
	a.mu.Unlock()
	a.reloadMu.Unlock()
	a.executor.Wait()

	a.logger.Info("agent stopped")
	return err
}

// Close releases the optional backends. It does not stop Run; cancel its
// context first.
func (a *Agent) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close backend", slog.Any("error", err))
		}
	}
	a.closers = nil
}

// Reload re-reads the configuration file, replaces the task registry and
// re-initialises the transport when panel settings changed. A reload that
// fails to read or validate the file leaves everything as it was.
func (a *Agent) Reload(ctx context.Context) (tasks.LoadReport, error) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	if a.path == "" {
		return tasks.LoadReport{}, fmt.Errorf("reload: no configuration file")
	}
	next, err := config.LoadConfig(a.path)
	if err != nil {
		return tasks.LoadReport{}, fmt.Errorf("reload: %w", err)
	}
	if err := config.ApplyEnvOverrides(next); err != nil {
		return tasks.LoadReport{}, fmt.Errorf("reload: %w", err)
	}
	if _, err := next.CheckVersion(); err != nil {
		return tasks.LoadReport{}, fmt.Errorf("reload: %w", err)
	}
	if err := next.Validate(); err != nil {
		return tasks.LoadReport{}, fmt.Errorf("reload: %w", err)
	}

	fresh := tasks.NewRegistry()
	report := tasks.Load(fresh, next.Tasks, a.logger.With(slog.String("component", "tasks")))
	a.registry.Replace(fresh)
	a.evaluator.Reset()
	a.metrics.TasksLoaded(report.Loaded)

	if err := a.applyTransport(next); err != nil {
		return report, err
	}

	a.mu.Lock()
	prev := a.cfg
	a.cfg = next
	a.mu.Unlock()

	if restartRequired(prev, next) {
		a.logger.Warn("configuration changes outside panel and tasks take effect after a restart")
	}
	a.logger.Info("configuration reloaded", slog.Int("tasks", report.Loaded))
	return report, nil
}

// applyTransport swaps the panel client and listener when the connection
// settings differ from the effective ones. Push disabled after a rejection
// counts as a difference, so a reload gives push another chance.
func (a *Agent) applyTransport(next *config.Config) error {
	a.mu.Lock()
	effective := a.cfg.Panel
	if a.cfg.Source == "panel" && effective.UseWebsocket && !a.listener.PushEnabled() {
		effective.UseWebsocket = false
	}
	if !config.PanelChanged(effective, next.Panel) && a.cfg.Source == next.Source {
		a.mu.Unlock()
		return nil
	}

	client, err := panel.NewHTTPClient(next.Panel)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("reload: %w", err)
	}

	a.listener.Stop()
	a.panel.set(client)
	a.listener = a.newListener(next)
	l, ctx := a.listener, a.runCtx
	a.mu.Unlock()

	a.logger.Info("transport re-initialised", slog.Bool("push", l.PushEnabled()))
	if ctx != nil {
		l.Start(ctx)
	}
	return nil
}

func restartRequired(prev, next *config.Config) bool {
	a, b := *prev, *next
	a.Panel, b.Panel = config.PanelConfig{}, config.PanelConfig{}
	a.Source, b.Source = "", ""
	a.Tasks, b.Tasks = nil, nil
	a.Version, b.Version = 0, 0
	return !reflect.DeepEqual(a, b)
}

func (a *Agent) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// State reports the state of the current listener.
func (a *Agent) State() transport.State {
	a.mu.Lock()
	l := a.listener
	a.mu.Unlock()
	return l.State()
}

// Store returns the usage store.
func (a *Agent) Store() *usage.Store { return a.store }

// Registry returns the live task registry.
func (a *Agent) Registry() *tasks.Registry { return a.registry }

// Tools returns every MCP tool backed by the agent.
func (a *Agent) Tools(confirm *safety.ConfirmationTracker) []tools.Registration {
	var regs []tools.Registration
	regs = append(regs, usage.Tools(a.store, a.audit)...)
	regs = append(regs, tasks.Tools(a.registry, a.Reload, a.audit)...)
	regs = append(regs, transport.Tools(a, a.audit)...)
	regs = append(regs, actions.Tools(a.power, a.commands, confirm, a.audit)...)
	return regs
}
