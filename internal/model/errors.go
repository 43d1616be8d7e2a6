package model

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigurationError lists keys of a loose configuration update that were
// ignored because they were malformed or unknown. The remaining keys of the
// update were still applied.
type ConfigurationError struct {
	Ignored map[string]string // key -> reason
}

func (e *ConfigurationError) Error() string {
	keys := make([]string, 0, len(e.Ignored))
	for k := range e.Ignored {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Ignored[k]))
	}
	return "ignored configuration fields: " + strings.Join(parts, "; ")
}

// Ignore records that key was skipped.
func (e *ConfigurationError) Ignore(key, reason string) {
	if e.Ignored == nil {
		e.Ignored = make(map[string]string)
	}
	e.Ignored[key] = reason
}

// Err returns e, or nil when nothing was ignored.
func (e *ConfigurationError) Err() error {
	if len(e.Ignored) == 0 {
		return nil
	}
	return e
}
