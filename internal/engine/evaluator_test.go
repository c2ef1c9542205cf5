package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/jamesprial/readings/internal/tasks"
	"github.com/jamesprial/readings/internal/usage"
)

type call struct {
	task string
	cpu  float64
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []call
}

func (r *recordingExecutor) Execute(_ context.Context, task tasks.Task, snap usage.Snapshot) {
	r.mu.Lock()
	r.calls = append(r.calls, call{task: task.Name(), cpu: snap.CPUPercent})
	r.mu.Unlock()
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingExecutor) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.task)
	}
	return out
}

func newTask(t *testing.T, name string, active bool, expr string) tasks.Task {
	t.Helper()
	th, err := tasks.ParseThreshold(expr)
	require.NoError(t, err)
	task, err := tasks.NewTask(name, active, tasks.TypePower, th, tasks.PowerPayload{Action: tasks.PowerRestart})
	require.NoError(t, err)
	return task
}

func setup(t *testing.T, edge bool, list ...tasks.Task) (*Evaluator, *usage.Store, *recordingExecutor) {
	t.Helper()
	reg := tasks.NewRegistry()
	for _, task := range list {
		require.NoError(t, reg.Add(task))
	}
	store := usage.NewStore()
	exec := &recordingExecutor{}
	ev := New(reg, store, exec, Options{
		EdgeTriggered: edge,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return ev, store, exec
}

func Test_Tick_FiresOnceAboveThreshold(t *testing.T) {
	ev, store, exec := setup(t, false, newTask(t, "hot", true, "cpu >= 90"))

	store.SetUsage(usage.CPU, 95)
	assert.Equal(t, 1, ev.Tick(context.Background()))
	assert.Equal(t, []call{{task: "hot", cpu: 95}}, exec.calls)
}

func Test_Tick_DoesNotFireBelowThreshold(t *testing.T) {
	ev, store, exec := setup(t, false, newTask(t, "hot", true, "cpu >= 90"))

	store.SetUsage(usage.CPU, 50)
	assert.Equal(t, 0, ev.Tick(context.Background()))
	assert.Equal(t, 0, exec.count())
}

func Test_Tick_SkipsUntilFirstDelivery(t *testing.T) {
	ev, _, exec := setup(t, false, newTask(t, "idle", true, "cpu < 10"))

	assert.Equal(t, 0, ev.Tick(context.Background()))
	assert.Equal(t, 0, exec.count())
}

func Test_Tick_SkipsInactiveAndKeepsOrder(t *testing.T) {
	ev, store, exec := setup(t, false,
		newTask(t, "b", true, "cpu > 10"),
		newTask(t, "off", false, "cpu > 10"),
		newTask(t, "a", true, "memory > 1KB"),
		newTask(t, "never", true, "disk > 1TB"),
	)

	store.SetUsage(usage.CPU, 20)
	store.SetUsage(usage.Memory, 4096)

	assert.Equal(t, 2, ev.Tick(context.Background()))
	assert.Equal(t, []string{"b", "a"}, exec.names())
}

func Test_Tick_LevelTriggeredFiresEveryMatchingTick(t *testing.T) {
	ev, store, exec := setup(t, false, newTask(t, "hot", true, "cpu >= 90"))

	store.SetUsage(usage.CPU, 95)
	ev.Tick(context.Background())
	ev.Tick(context.Background())
	ev.Tick(context.Background())

	assert.Equal(t, 3, exec.count())
}

func Test_Tick_EdgeTriggeredFiresOnCrossing(t *testing.T) {
	ev, store, exec := setup(t, true, newTask(t, "hot", true, "cpu >= 90"))
	ctx := context.Background()

	store.SetUsage(usage.CPU, 95)
	assert.Equal(t, 1, ev.Tick(ctx))
	assert.Equal(t, 0, ev.Tick(ctx))

	store.SetUsage(usage.CPU, 50)
	assert.Equal(t, 0, ev.Tick(ctx))

	store.SetUsage(usage.CPU, 97)
	assert.Equal(t, 1, ev.Tick(ctx))
	assert.Equal(t, 2, exec.count())

	ev.Reset()
	assert.Equal(t, 1, ev.Tick(ctx))
}

func Test_Evaluator_RunTicksOnClock(t *testing.T) {
	reg := tasks.NewRegistry()
	require.NoError(t, reg.Add(newTask(t, "hot", true, "cpu >= 90")))
	store := usage.NewStore()
	store.SetUsage(usage.CPU, 99)
	exec := &recordingExecutor{}

	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	ev := New(reg, store, exec, Options{Clock: clk, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ev.Run(ctx, 5*time.Second) }()

	require.Eventually(t, clk.HasWaiters, time.Second, 5*time.Millisecond)
	clk.Step(5 * time.Second)
	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, 5*time.Millisecond)

	clk.Step(5 * time.Second)
	require.Eventually(t, func() bool { return exec.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
