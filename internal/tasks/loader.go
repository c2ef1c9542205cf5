package tasks

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jamesprial/readings/internal/config"
)

// Skipped records a configuration entry that did not become a task.
type Skipped struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
	// Reason is Err rendered for JSON output.
	Reason string `json:"reason"`
}

// LoadReport summarises one pass of Load.
type LoadReport struct {
	Loaded  int       `json:"loaded"`
	Active  int       `json:"active"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

// BuildTask converts one configuration entry into a Task.
func BuildTask(entry config.TaskEntry) (Task, error) {
	if entry.Err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidTask, entry.Err)
	}

	typ, err := ParseType(entry.Type)
	if err != nil {
		return Task{}, err
	}

	threshold, err := ParseThreshold(entry.Threshold)
	if err != nil {
		return Task{}, err
	}

	var payload Payload
	switch typ {
	case TypePower:
		action, err := ParsePowerAction(entry.Payload)
		if err != nil {
			return Task{}, err
		}
		payload = PowerPayload{Action: action}
	case TypeBroadcast, TypeCommand:
		payload = TemplatePayload{Template: entry.Payload}
	}

	return NewTask(entry.Name, entry.IsActive(), typ, threshold, payload)
}

// Load clears reg and registers every valid entry in order. An entry that
// fails validation or repeats an earlier name is logged and skipped; the rest
// of the load continues. A nil logger uses slog.Default().
func Load(reg *Registry, entries config.TaskEntries, logger *slog.Logger) LoadReport {
	if logger == nil {
		logger = slog.Default()
	}

	reg.Clear()

	var report LoadReport
	if len(entries) == 0 {
		logger.Info("no tasks found")
		return report
	}

	for _, entry := range entries {
		task, err := BuildTask(entry)
		if err == nil {
			err = reg.Add(task)
		}
		if err != nil {
			logger.Warn("ignoring task",
				slog.String("task", entry.Name),
				slog.String("reason", skipReason(err)),
				slog.Any("error", err),
			)
			report.Skipped = append(report.Skipped, Skipped{Name: entry.Name, Err: err, Reason: err.Error()})
			continue
		}

		report.Loaded++
		if task.Active() {
			report.Active++
		}
	}

	logger.Info("tasks loaded",
		slog.Int("loaded", report.Loaded),
		slog.Int("active", report.Active),
		slog.Int("skipped", len(report.Skipped)),
	)
	return report
}

// skipReason names the error class for log filtering.
func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTaskType):
		return "invalid task type"
	case errors.Is(err, ErrInvalidPowerAction):
		return "invalid power action"
	case errors.Is(err, ErrInvalidThreshold):
		return "invalid threshold"
	case errors.Is(err, ErrDuplicateTask):
		return "duplicate"
	default:
		return "invalid task"
	}
}
