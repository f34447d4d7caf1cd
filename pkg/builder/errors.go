package builder

import "fmt"

// ConfigError reports a command that violates a construction invariant.
// A job containing one is never started.
type ConfigError struct {
	Description string
	Field       string
	Reason      string
}

func (e *ConfigError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("invalid command %q: %s %s", e.Description, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid command: %s %s", e.Field, e.Reason)
}
