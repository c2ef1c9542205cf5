// Package actions performs the side effects of triggered tasks: power
// signals, broadcasts and console commands.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamesprial/readings/internal/metrics"
	"github.com/jamesprial/readings/internal/safety"
	"github.com/jamesprial/readings/internal/tasks"
	"github.com/jamesprial/readings/internal/usage"
)

const defaultTimeout = 15 * time.Second

// ErrNoBackend is returned when a task needs a sink that was not configured.
var ErrNoBackend = errors.New("no backend configured for action")

// PowerController sends power signals to the node.
type PowerController interface {
	Power(ctx context.Context, action tasks.PowerAction) error
}

// Broadcaster delivers a message to the node's users.
type Broadcaster interface {
	Broadcast(ctx context.Context, message string) error
}

// CommandSink runs a console command on the node.
type CommandSink interface {
	SendCommand(ctx context.Context, command string) error
}

// Options configures an Executor.
type Options struct {
	// Timeout bounds each action. Defaults to 15s.
	Timeout time.Duration
	Audit   *safety.AuditLogger
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Executor dispatches task actions. Execute never blocks on the network and
// never returns an error; failures are logged, audited and counted.
type Executor struct {
	power     PowerController
	broadcast Broadcaster
	commands  CommandSink
	timeout   time.Duration
	audit     *safety.AuditLogger
	logger    *slog.Logger
	metrics   *metrics.Metrics

	wg       sync.WaitGroup
	failures atomic.Int64
}

// NewExecutor returns an Executor. Any sink may be nil; tasks that need a
// missing sink fail with ErrNoBackend.
func NewExecutor(power PowerController, broadcast Broadcaster, commands CommandSink, opts Options) *Executor {
	e := &Executor{
		power:     power,
		broadcast: broadcast,
		commands:  commands,
		timeout:   opts.Timeout,
		audit:     opts.Audit,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Execute runs the task's action on its own goroutine.
func (e *Executor) Execute(ctx context.Context, task tasks.Task, snap usage.Snapshot) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.Run(ctx, task, snap)
	}()
}

// Wait blocks until every action started by Execute has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Failures returns the number of failed actions so far.
func (e *Executor) Failures() int64 {
	return e.failures.Load()
}

// Run performs the task's action synchronously and records the outcome.
func (e *Executor) Run(ctx context.Context, task tasks.Task, snap usage.Snapshot) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	params, err := e.dispatch(ctx, task, snap)

	result := "ok"
	if err != nil {
		result = "error: " + err.Error()
		e.failures.Add(1)
		e.metrics.ActionFailed(task.Name(), string(task.Type()))
		e.logger.Error("task action failed",
			slog.String("task", task.Name()),
			slog.String("type", string(task.Type())),
			slog.Any("error", err),
		)
	} else {
		e.logger.Debug("task action done",
			slog.String("task", task.Name()),
			slog.String("type", string(task.Type())),
			slog.Duration("took", time.Since(start)),
		)
	}
	e.audit.Record(safety.SourceTask, string(task.Type()), task.Name(), params, result, start)
	return err
}

func (e *Executor) dispatch(ctx context.Context, task tasks.Task, snap usage.Snapshot) (map[string]any, error) {
	switch p := task.Payload().(type) {
	case tasks.PowerPayload:
		params := map[string]any{"signal": string(p.Action)}
		if e.power == nil {
			return params, fmt.Errorf("%w: power", ErrNoBackend)
		}
		return params, e.power.Power(ctx, p.Action)

	case tasks.TemplatePayload:
		text := Substitute(p.Template, task, snap)
		switch task.Type() {
		case tasks.TypeBroadcast:
			params := map[string]any{"message": text}
			if e.broadcast == nil {
				return params, fmt.Errorf("%w: broadcast", ErrNoBackend)
			}
			return params, e.broadcast.Broadcast(ctx, text)
		case tasks.TypeCommand:
			params := map[string]any{"command": text}
			if e.commands == nil {
				return params, fmt.Errorf("%w: command", ErrNoBackend)
			}
			return params, e.commands.SendCommand(ctx, text)
		}
	}
	return nil, fmt.Errorf("%w: %s", tasks.ErrInvalidTaskType, task.Type())
}
