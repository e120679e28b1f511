package schema

import (
	"errors"
	"fmt"
)

// ErrConfig marks a schema or record that cannot be persisted as declared.
// It is fatal: retrying will not help.
var ErrConfig = errors.New("schema configuration error")

// ConfigError names the entity a configuration problem belongs to.
type ConfigError struct {
	Entity string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Entity == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("entity %q: %s", e.Entity, e.Reason)
}

// Unwrap returns ErrConfig.
func (e *ConfigError) Unwrap() error { return ErrConfig }

// Configf builds a *ConfigError.
func Configf(entity, format string, args ...any) error {
	return &ConfigError{Entity: entity, Reason: fmt.Sprintf(format, args...)}
}
