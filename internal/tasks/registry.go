package tasks

import (
	"fmt"
	"sync"
)

// Registry holds the tasks of the current configuration generation in
// insertion order. Names are unique within a generation. It is safe for
// concurrent use: the evaluator reads while a reload may replace the set.
type Registry struct {
	mu    sync.RWMutex
	tasks []Task
	index map[string]int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Clear removes all tasks.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.tasks = nil
	r.index = make(map[string]int)
	r.mu.Unlock()
}

// Add appends t. It returns ErrDuplicateTask if a task with the same name is
// already registered; the existing task is kept.
func (r *Registry) Add(t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[t.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name())
	}
	r.index[t.Name()] = len(r.tasks)
	r.tasks = append(r.tasks, t)
	return nil
}

// Replace swaps the whole task set for the contents of other in one step, so
// readers never observe a half-loaded generation.
func (r *Registry) Replace(other *Registry) {
	tasks := other.Tasks()

	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		index[t.Name()] = i
	}

	r.mu.Lock()
	r.tasks = tasks
	r.index = index
	r.mu.Unlock()
}

// Get returns the task with the given name.
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return Task{}, false
	}
	return r.tasks[i], true
}

// Tasks returns a copy of the registered tasks in insertion order.
func (r *Registry) Tasks() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
