// Package engine evaluates task thresholds against the usage store and hands
// matching tasks to the action executor.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/jamesprial/readings/internal/metrics"
	"github.com/jamesprial/readings/internal/tasks"
	"github.com/jamesprial/readings/internal/usage"
)

// Executor performs a task's action. It must not block the caller on
// network I/O.
type Executor interface {
	Execute(ctx context.Context, task tasks.Task, snap usage.Snapshot)
}

// Options configures an Evaluator.
type Options struct {
	// EdgeTriggered fires a task only on the tick where its threshold goes
	// from unmatched to matched. The default fires on every matching tick.
	EdgeTriggered bool
	// Clock drives Run. Defaults to the wall clock.
	Clock   clock.WithTicker
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Evaluator checks every active task once per tick.
type Evaluator struct {
	registry *tasks.Registry
	store    *usage.Store
	exec     Executor
	edge     bool
	clock    clock.WithTicker
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	matched map[string]bool
}

// New returns an Evaluator reading tasks from registry and usage from store.
func New(registry *tasks.Registry, store *usage.Store, exec Executor, opts Options) *Evaluator {
	e := &Evaluator{
		registry: registry,
		store:    store,
		exec:     exec,
		edge:     opts.EdgeTriggered,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		matched:  make(map[string]bool),
	}
	if e.clock == nil {
		e.clock = clock.RealClock{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Tick reads the snapshot once and dispatches every active task whose
// threshold matches, in registry order. Nothing is evaluated before the
// store has received its first delivery. It returns the number of tasks
// dispatched.
func (e *Evaluator) Tick(ctx context.Context) int {
	snap := e.store.Read()
	if !snap.Populated() {
		e.logger.Debug("skipping evaluation, no usage received yet")
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(e.matched))
	fired := 0
	for _, task := range e.registry.Tasks() {
		if !task.Active() {
			continue
		}

		matched, value := task.Threshold().Evaluate(snap)
		was := e.matched[task.Name()]
		seen[task.Name()] = matched

		if !matched || (e.edge && was) {
			continue
		}

		fired++
		e.metrics.TaskTriggered(task.Name(), string(task.Type()))
		e.logger.Info("task triggered",
			slog.String("task", task.Name()),
			slog.String("type", string(task.Type())),
			slog.String("threshold", task.Threshold().String()),
			slog.Float64("value", value),
		)
		e.exec.Execute(ctx, task, snap)
	}
	e.matched = seen
	return fired
}

// Reset forgets edge state, so every matching task fires on the next tick.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	e.matched = make(map[string]bool)
	e.mu.Unlock()
}

// Run calls Tick every period until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context, period time.Duration) error {
	ticker := e.clock.NewTicker(period)
	defer ticker.Stop()

	e.logger.Info("evaluator started",
		slog.Duration("period", period),
		slog.Bool("edge_triggered", e.edge),
	)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("evaluator stopped")
			return nil
		case <-ticker.C():
			e.Tick(ctx)
		}
	}
}
