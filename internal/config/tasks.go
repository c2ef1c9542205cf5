package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TaskEntry is one raw entry under the tasks section. Values are kept as
// written; validation happens in the tasks package.
type TaskEntry struct {
	Name      string `yaml:"-"`
	Type      string `yaml:"type"`
	Active    *bool  `yaml:"active"`
	Threshold string `yaml:"threshold"`
	Payload   string `yaml:"payload"`

	// Err is set when the entry body could not be decoded. The entry is
	// still returned so one malformed task never fails the whole file.
	Err error `yaml:"-"`
}

// IsActive returns the active flag, defaulting to true when unset.
func (e TaskEntry) IsActive() bool {
	if e.Active == nil {
		return true
	}
	return *e.Active
}

// TaskEntries is the ordered list of task entries. It decodes from a YAML
// mapping keyed by task name and keeps the order of the file, including
// repeated names, so the loader can report duplicates itself.
type TaskEntries []TaskEntry

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *TaskEntries) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*t = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("tasks: line %d: expected a mapping of task names", value.Line)
	}

	entries := make(TaskEntries, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, body := value.Content[i], value.Content[i+1]

		var entry TaskEntry
		if err := body.Decode(&entry); err != nil {
			entry = TaskEntry{Err: fmt.Errorf("line %d: %w", body.Line, err)}
		}
		entry.Name = keyNode.Value
		entries = append(entries, entry)
	}

	*t = entries
	return nil
}
