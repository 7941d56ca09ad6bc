package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MaiM-with-u/MaiLuncher/internal/supervisor"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "supervisor.log_cap")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidRestartLogPolicies returns the accepted restart_log_policy values
func ValidRestartLogPolicies() []string {
	return []string{string(supervisor.RestartLogClear), string(supervisor.RestartLogAppendSeparator)}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if _, err := supervisor.LookupEncoding(c.SubprocessEncoding); err != nil {
		errors = append(errors, ValidationError{
			Field:   "subprocess_encoding",
			Value:   c.SubprocessEncoding,
			Message: "unknown text encoding",
		})
	}
	if strings.TrimSpace(c.BotScriptPath) == "" {
		errors = append(errors, ValidationError{
			Field:   "bot_script_path",
			Value:   c.BotScriptPath,
			Message: "must not be empty",
		})
	}

	errors = append(errors, c.validateSupervisor()...)
	errors = append(errors, c.validateAdapters()...)

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if strings.TrimSpace(c.Daemon.Listen) == "" {
		errors = append(errors, ValidationError{
			Field:   "daemon.listen",
			Value:   c.Daemon.Listen,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateSupervisor() []ValidationError {
	var errors []ValidationError
	s := c.Supervisor

	atLeast := func(field string, v, min int) {
		if v < min {
			errors = append(errors, ValidationError{
				Field:   "supervisor." + field,
				Value:   v,
				Message: fmt.Sprintf("must be at least %d", min),
			})
		}
	}
	atLeast("log_cap", s.LogCap, 1)
	atLeast("batch_limit", s.BatchLimit, 1)
	atLeast("flush_interval_ms", s.FlushIntervalMs, 1)
	atLeast("poll_interval_ms", s.PollIntervalMs, 1)
	atLeast("stop_timeout_ms", s.StopTimeoutMs, 1)
	atLeast("shutdown_timeout_ms", s.ShutdownTimeoutMs, 1)
	atLeast("exit_grace_ms", s.ExitGraceMs, 0)
	atLeast("disconnect_grace_ms", s.DisconnectGraceMs, 0)

	if !slices.Contains(ValidRestartLogPolicies(), s.RestartLogPolicy) {
		errors = append(errors, ValidationError{
			Field:   "supervisor.restart_log_policy",
			Value:   s.RestartLogPolicy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidRestartLogPolicies(), ", ")),
		})
	}
	if strings.TrimSpace(s.PrimaryID) == "" {
		errors = append(errors, ValidationError{
			Field:   "supervisor.primary_id",
			Value:   s.PrimaryID,
			Message: "must not be empty",
		})
	}
	return errors
}

func (c *Config) validateAdapters() []ValidationError {
	var errors []ValidationError
	seen := make(map[string]bool)

	for i, a := range c.Adapters {
		field := fmt.Sprintf("adapters[%d]", i)
		switch {
		case strings.TrimSpace(a.ID) == "":
			errors = append(errors, ValidationError{Field: field + ".id", Value: a.ID, Message: "must not be empty"})
		case a.ID == c.Supervisor.PrimaryID:
			errors = append(errors, ValidationError{Field: field + ".id", Value: a.ID, Message: "conflicts with supervisor.primary_id"})
		case seen[a.ID]:
			errors = append(errors, ValidationError{Field: field + ".id", Value: a.ID, Message: "duplicate adapter id"})
		}
		seen[a.ID] = true

		if strings.TrimSpace(a.Script) == "" {
			errors = append(errors, ValidationError{Field: field + ".script", Value: a.Script, Message: "must not be empty"})
		}
	}
	return errors
}
