// Package safety provides command filtering, confirmation tokens and audit
// logging for actions that change the state of the monitored node.
package safety

import (
	"path/filepath"
	"strings"
)

// Filter controls which console commands may be sent, using an allowlist and
// a denylist of glob patterns (as understood by filepath.Match).
//
// Rules:
//   - If both lists are empty (or nil), every command is allowed.
//   - Denylist always takes priority over the allowlist.
//   - If a non-empty allowlist is present, a command must match at least one
//     allowlist pattern to be permitted (after the denylist check).
type Filter struct {
	allowlist []string
	denylist  []string
}

// NewFilter constructs a Filter from the provided allowlist and denylist
// pattern slices. Either or both may be nil or empty.
func NewFilter(allowlist, denylist []string) *Filter {
	return &Filter{
		allowlist: allowlist,
		denylist:  denylist,
	}
}

// IsAllowed reports whether name is permitted by this filter. A nil Filter
// allows everything.
func (f *Filter) IsAllowed(name string) bool {
	if f == nil {
		return true
	}

	for _, pattern := range f.denylist {
		if matchGlob(pattern, name) {
			return false
		}
	}

	if len(f.allowlist) == 0 {
		return true
	}

	for _, pattern := range f.allowlist {
		if matchGlob(pattern, name) {
			return true
		}
	}

	return false
}

// AllowsCommand applies the filter to the verb of a console command line,
// i.e. its first word, lowercased. An empty command is never allowed.
func (f *Filter) AllowsCommand(command string) bool {
	verb := CommandVerb(command)
	if verb == "" {
		return false
	}
	return f.IsAllowed(verb)
}

// CommandVerb returns the first word of command, lowercased and without a
// leading slash.
func CommandVerb(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], "/"))
}

// matchGlob returns true when name matches the given glob pattern.
// filepath.Match errors (malformed patterns) are treated as non-matching.
func matchGlob(pattern, name string) bool {
	matched, err := filepath.Match(strings.ToLower(pattern), name)
	if err != nil {
		return false
	}
	return matched
}
