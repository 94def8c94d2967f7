package formgate

import (
	"fmt"
	"strings"
)

// ValidationError is a semantic rejection of caller-supplied form data. It
// is never retried automatically: the data must be fixed by the caller.
type ValidationError struct {
	// Errors lists human-readable reasons suitable for end users.
	Errors []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("form validation failed: %s", strings.Join(e.Errors, "; "))
}

// ConfigurationError indicates missing or invalid configuration. It is
// fatal, surfaced at construction time, and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}
