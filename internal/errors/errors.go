// Package errors provides structured error handling for netnmap operations.
// It defines error codes and the three error kinds surfaced to callers:
// configuration, execution and parse failures.
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

	// Execution errors.
	CodeBinaryNotFound ErrorCode = "BINARY_NOT_FOUND"
	CodeScanFailed     ErrorCode = "SCAN_FAILED"

	// Report errors.
	CodeParseFailed  ErrorCode = "PARSE_FAILED"
	CodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
)

// ConfigError represents an invalid option or configuration value.
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
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// ExecutionError reports a scan binary that could not run or exited non-zero.
type ExecutionError struct {
	Code     ErrorCode
	Message  string
	ExitCode int
	// Output is the captured combined stdout/stderr of the process.
	Output string
	Cause  error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("[%s] %s (exit code: %d)", e.Code, e.Message, e.ExitCode)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// WrapExecutionError wraps an existing error as an execution error.
func WrapExecutionError(code ErrorCode, message string, err error) *ExecutionError {
	return &ExecutionError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithOutput attaches captured process output and exit status.
func (e *ExecutionError) WithOutput(exitCode int, output string) *ExecutionError {
	e.ExitCode = exitCode
	e.Output = output
	return e
}

// ParseError reports an unreadable or malformed scan report.
type ParseError struct {
	Code    ErrorCode
	Message string
	Path    string
	Cause   error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path: %s)", msg, e.Path)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// WrapParseError wraps an existing error as a parse error.
func WrapParseError(code ErrorCode, message string, err error) *ParseError {
	return &ParseError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithPath records the report file the error relates to.
func (e *ParseError) WithPath(path string) *ParseError {
	e.Path = path
	return e
}

// Utility functions for common error operations

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	var execErr *ExecutionError
	if stderrors.As(err, &execErr) {
		return execErr.Code
	}
	var parseErr *ParseError
	if stderrors.As(err, &parseErr) {
		return parseErr.Code
	}
	return CodeUnknown
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return stderrors.As(err, &target)
}

// IsExecutionError reports whether err is, or wraps, an ExecutionError.
func IsExecutionError(err error) bool {
	var target *ExecutionError
	return stderrors.As(err, &target)
}

// IsParseError reports whether err is, or wraps, a ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return stderrors.As(err, &target)
}

// Common error creation functions

// ErrInvalidPortRanges creates an error for a port specification that does
// not match the accepted grammar.
func ErrInvalidPortRanges(value string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Port ranges: not valid format", "port_ranges", value)
}

// ErrBinaryNotFound creates an error for a scan binary missing from PATH.
func ErrBinaryNotFound(name string, err error) *ConfigError {
	e := WrapConfigError(CodeBinaryNotFound, "Scan binary not found", err)
	e.Field = "binary"
	e.Value = name
	return e
}

// ErrReportNotFound creates an error for a missing scan report.
func ErrReportNotFound(path string, err error) *ParseError {
	return WrapParseError(CodeFileNotFound, "Scan report not found", err).WithPath(path)
}
