// Package tasks holds the automation rules evaluated against node usage: the
// rule type, its threshold, its payload, the registry that owns them and the
// loader that builds them from configuration.
package tasks

import (
	"errors"
	"fmt"
	"strings"
)

// Per-rule errors. None of them abort a load; the offending entry is logged
// and skipped.
var (
	ErrInvalidTaskType    = errors.New("invalid task type")
	ErrInvalidPowerAction = errors.New("invalid power action")
	ErrInvalidThreshold   = errors.New("invalid threshold")
	ErrDuplicateTask      = errors.New("task already exists")
	ErrInvalidTask        = errors.New("invalid task")
)

// Type is the kind of action a task performs.
type Type string

const (
	TypePower     Type = "POWER"
	TypeBroadcast Type = "BROADCAST"
	TypeCommand   Type = "COMMAND"
)

// ParseType resolves s case-insensitively to a Type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypePower, TypeBroadcast, TypeCommand:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskType, s)
	}
}

// PowerAction is a power signal understood by the remote management API.
type PowerAction string

const (
	PowerStart   PowerAction = "start"
	PowerStop    PowerAction = "stop"
	PowerRestart PowerAction = "restart"
	PowerKill    PowerAction = "kill"
)

// PowerActions lists every valid PowerAction.
var PowerActions = []PowerAction{PowerStart, PowerStop, PowerRestart, PowerKill}

// ParsePowerAction resolves s case-insensitively to a PowerAction.
func ParsePowerAction(s string) (PowerAction, error) {
	a := PowerAction(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range PowerActions {
		if a == valid {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPowerAction, s)
}

// Payload is the type-specific part of a task. It is either PowerPayload or
// TemplatePayload.
type Payload interface {
	payload()
}

// PowerPayload carries the validated action of a POWER task.
type PowerPayload struct {
	Action PowerAction
}

// TemplatePayload carries the raw text of a BROADCAST or COMMAND task. The
// text may contain %placeholders% resolved at dispatch time.
type TemplatePayload struct {
	Template string
}

func (PowerPayload) payload()    {}
func (TemplatePayload) payload() {}

// Task is an immutable automation rule. Build it with NewTask.
type Task struct {
	name      string
	active    bool
	typ       Type
	threshold Threshold
	payload   Payload
}

// NewTask validates every field and returns the task. The payload must match
// the type: PowerPayload for POWER, TemplatePayload for BROADCAST and COMMAND.
func NewTask(name string, active bool, typ Type, threshold Threshold, payload Payload) (Task, error) {
	if strings.TrimSpace(name) == "" {
		return Task{}, fmt.Errorf("%w: name is empty", ErrInvalidTask)
	}
	if threshold.Resource == 0 {
		return Task{}, fmt.Errorf("%w: task %q has no threshold", ErrInvalidThreshold, name)
	}

	switch typ {
	case TypePower:
		p, ok := payload.(PowerPayload)
		if !ok {
			return Task{}, fmt.Errorf("%w: task %q: POWER needs a power action payload", ErrInvalidTask, name)
		}
		if _, err := ParsePowerAction(string(p.Action)); err != nil {
			return Task{}, fmt.Errorf("task %q: %w", name, err)
		}
	case TypeBroadcast, TypeCommand:
		p, ok := payload.(TemplatePayload)
		if !ok {
			return Task{}, fmt.Errorf("%w: task %q: %s needs a text payload", ErrInvalidTask, name, typ)
		}
		if strings.TrimSpace(p.Template) == "" {
			return Task{}, fmt.Errorf("%w: task %q: payload is empty", ErrInvalidTask, name)
		}
	default:
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidTaskType, typ)
	}

	return Task{
		name:      name,
		active:    active,
		typ:       typ,
		threshold: threshold,
		payload:   payload,
	}, nil
}

func (t Task) Name() string         { return t.name }
func (t Task) Active() bool         { return t.active }
func (t Task) Type() Type           { return t.typ }
func (t Task) Threshold() Threshold { return t.threshold }
func (t Task) Payload() Payload     { return t.payload }

// Summary is a serialisable view of a task.
type Summary struct {
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	Type      Type   `json:"type"`
	Threshold string `json:"threshold"`
	Payload   string `json:"payload"`
}

// Summary returns the task as plain data.
func (t Task) Summary() Summary {
	s := Summary{
		Name:      t.name,
		Active:    t.active,
		Type:      t.typ,
		Threshold: t.threshold.String(),
	}
	switch p := t.payload.(type) {
	case PowerPayload:
		s.Payload = string(p.Action)
	case TemplatePayload:
		s.Payload = p.Template
	}
	return s
}
