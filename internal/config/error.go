// internal/config/error.go
package config

import (
	"fmt"
	"strings"
)

// Problem is a single invalid setting, keyed by its TOML path.
type Problem struct {
	Key     string // e.g. "jobs.workers"
	Message string
}

func (p Problem) String() string {
	return p.Key + ": " + p.Message
}

// problems collects Problems in the order settings are checked.
type problems []Problem

func (ps *problems) add(key, format string, args ...any) {
	*ps = append(*ps, Problem{Key: key, Message: fmt.Sprintf(format, args...)})
}

// Error reports why a config file could not be used. It is returned by
// Load when environment variables are unset or settings are invalid.
type Error struct {
	Path     string
	Missing  []string // unset ${VAR} references without a default
	Problems []Problem
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "\n  unset environment variables: %s", strings.Join(e.Missing, ", "))
	}
	for _, p := range e.Problems {
		b.WriteString("\n  " + p.String())
	}
	return b.String()
}

// Keys returns the setting keys with problems, without duplicates.
func (e *Error) Keys() []string {
	seen := make(map[string]bool, len(e.Problems))
	var keys []string
	for _, p := range e.Problems {
		if !seen[p.Key] {
			seen[p.Key] = true
			keys = append(keys, p.Key)
		}
	}
	return keys
}
