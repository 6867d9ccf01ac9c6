// Package errors provides structured error handling for livescan.
// It defines error codes and the error types raised by the process
// supervisor, the protocol parser, configuration loading and persistence,
// plus helpers for classifying errors through wrapping.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"
	CodeUnsupported   ErrorCode = "UNSUPPORTED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Process control errors.
	CodeExecutableNotFound ErrorCode = "EXECUTABLE_NOT_FOUND"
	CodeScriptMissing      ErrorCode = "SCRIPT_MISSING"
	CodeSpawnFailed        ErrorCode = "SPAWN_FAILED"
	CodeNotRunning         ErrorCode = "NOT_RUNNING"
	CodeNoSuchProcess      ErrorCode = "NO_SUCH_PROCESS"
	CodeSignalFailed       ErrorCode = "SIGNAL_FAILED"

	// Lifecycle errors.
	CodeNoRanges       ErrorCode = "NO_RANGES"
	CodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
	CodeIdle           ErrorCode = "IDLE"
	CodeInvalidState   ErrorCode = "INVALID_STATE"
	CodeHostUnknown    ErrorCode = "HOST_UNKNOWN"

	// Protocol errors.
	CodeNoSentinel ErrorCode = "NO_SENTINEL"
	CodeIncomplete ErrorCode = "INCOMPLETE"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// Service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeQueueFull          ErrorCode = "QUEUE_FULL"
)

// ProcessError is raised by the process supervisor for spawn and signal failures.
type ProcessError struct {
	Code    ErrorCode
	Message string
	Op      string
	PID     int
	Cause   error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("[%s] %s: %s (pid: %d)", e.Code, e.Op, e.Message, e.PID)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Op, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// NewProcessError creates a process error for the given operation.
func NewProcessError(code ErrorCode, op, message string) *ProcessError {
	return &ProcessError{Code: code, Op: op, Message: message}
}

// WrapProcessError wraps an OS error as a process error.
func WrapProcessError(code ErrorCode, op string, pid int, err error) *ProcessError {
	msg := "operation failed"
	if err != nil {
		msg = err.Error()
	}
	return &ProcessError{Code: code, Op: op, Message: msg, PID: pid, Cause: err}
}

// ProtocolError is raised when a protocol line cannot be decoded.
type ProtocolError struct {
	Code   ErrorCode
	Line   string
	Fields int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("[%s] malformed record with %d fields: %q", e.Code, e.Fields, truncate(e.Line, 50))
}

// NewProtocolError creates a protocol error for a line.
func NewProtocolError(code ErrorCode, line string, fields int) *ProtocolError {
	return &ProtocolError{Code: code, Line: line, Fields: fields}
}

// ControlError is returned by the lifecycle controller when an operator
// request is rejected or folded into a state reset.
type ControlError struct {
	Code    ErrorCode
	Message string
	State   string
	Cause   error
}

// Error implements the error interface.
func (e *ControlError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("[%s] %s (state: %s)", e.Code, e.Message, e.State)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ControlError) Unwrap() error {
	return e.Cause
}

// NewControlError creates a controller error.
func NewControlError(code ErrorCode, message, state string) *ControlError {
	return &ControlError{Code: code, Message: message, State: state}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{Code: code, Message: message, Cause: err}
}

// Utility functions for common error operations

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var (
		pe  *ProcessError
		pre *ProtocolError
		ce  *ControlError
		de  *DatabaseError
		cfe *ConfigError
	)
	switch {
	case err == nil:
		return CodeUnknown
	case stderrors.As(err, &ce):
		return ce.Code
	case stderrors.As(err, &pe):
		return pe.Code
	case stderrors.As(err, &pre):
		return pre.Code
	case stderrors.As(err, &de):
		return de.Code
	case stderrors.As(err, &cfe):
		return cfe.Code
	}
	return CodeUnknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsProcessGone reports whether the error means the external process is no
// longer there to receive signals.
func IsProcessGone(err error) bool {
	code := GetCode(err)
	return code == CodeNotRunning || code == CodeNoSuchProcess
}

// Common error creation functions

// ErrNoRanges is returned when a start request carries no address ranges.
func ErrNoRanges() *ControlError {
	return NewControlError(CodeNoRanges, "no IP ranges specified", "idle")
}

// ErrHostUnknown is returned when a selection refers to an address that is
// not in the registry.
func ErrHostUnknown(ip string) *ControlError {
	return NewControlError(CodeHostUnknown, fmt.Sprintf("host %s is not known", ip), "")
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
