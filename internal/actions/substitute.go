package actions

import (
	"strconv"
	"strings"

	"github.com/jamesprial/readings/internal/tasks"
	"github.com/jamesprial/readings/internal/usage"
)

// Placeholders returns the values available to task payload templates.
func Placeholders(task tasks.Task, snap usage.Snapshot) map[string]string {
	return map[string]string{
		"cpu":          strconv.FormatFloat(snap.CPUPercent, 'f', 1, 64),
		"memory":       usage.FormatBytes(snap.MemoryBytes),
		"memory_bytes": strconv.FormatInt(snap.MemoryBytes, 10),
		"disk":         usage.FormatBytes(snap.DiskBytes),
		"disk_bytes":   strconv.FormatInt(snap.DiskBytes, 10),
		"uptime":       snap.Uptime,
		"task":         task.Name(),
		"threshold":    task.Threshold().String(),
	}
}

// Substitute replaces every %name% placeholder in template. Unknown
// placeholders are left as written.
func Substitute(template string, task tasks.Task, snap usage.Snapshot) string {
	if !strings.Contains(template, "%") {
		return template
	}

	values := Placeholders(task, snap)
	pairs := make([]string, 0, len(values)*2)
	for name, value := range values {
		pairs = append(pairs, "%"+name+"%", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
