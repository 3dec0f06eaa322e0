package apperrors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeExtraction represents archive extraction errors
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeControlPlane represents failures of the external sqlcmd client
	ErrorTypeControlPlane ErrorType = "control_plane"
	// ErrorTypeTimeout represents timed-out control-plane calls
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeNaming represents unresolved database/logical names
	ErrorTypeNaming ErrorType = "naming"
	// ErrorTypeAvailability represents a restored database never coming online
	ErrorTypeAvailability ErrorType = "availability"
	// ErrorTypeCorruption represents unreadable or implausible backup bytes
	ErrorTypeCorruption ErrorType = "corruption"
	// ErrorTypeRestore represents failed restore statements
	ErrorTypeRestore ErrorType = "restore"
	// ErrorTypeConfiguration represents invalid configuration
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeInterruption represents cancellation
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new application error
func New(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverable creates a new recoverable error
func NewRecoverable(errorType ErrorType, message string, cause error) *AppError {
	err := New(errorType, message, cause)
	err.Recoverable = true
	return err
}

// Common error constructors

func NewExtractionError(message string, cause error) *AppError {
	return New(ErrorTypeExtraction, message, cause)
}

func NewControlPlaneError(message string, cause error) *AppError {
	return New(ErrorTypeControlPlane, message, cause)
}

func NewControlPlaneTimeout(message string, cause error) *AppError {
	return NewRecoverable(ErrorTypeTimeout, message, cause)
}

func NewNamingAmbiguity(message string, cause error) *AppError {
	return NewRecoverable(ErrorTypeNaming, message, cause)
}

func NewAvailabilityTimeout(message string, cause error) *AppError {
	return New(ErrorTypeAvailability, message, cause)
}

func NewCorruptionError(message string, cause error) *AppError {
	return New(ErrorTypeCorruption, message, cause)
}

func NewRestoreError(message string, cause error) *AppError {
	return New(ErrorTypeRestore, message, cause)
}

func NewConfigurationError(message string, cause error) *AppError {
	return New(ErrorTypeConfiguration, message, cause)
}

// Classify analyzes an error and returns an AppError with appropriate
// classification. Already-classified errors pass through unchanged.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ctxErr := classifyContextError(err); ctxErr != nil {
		return ctxErr
	}
	if execErr := classifyExecError(err); execErr != nil {
		return execErr
	}
	if fsErr := classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return New(ErrorTypeUnknown, "an unexpected error occurred", err)
}

// classifyContextError classifies context-related errors
func classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverable(ErrorTypeTimeout, "operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrorTypeInterruption, "operation was canceled", err)
	}
	return nil
}

// classifyExecError classifies external-process errors
func classifyExecError(err error) *AppError {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return New(ErrorTypeControlPlane,
			fmt.Sprintf("external client exited with code %d", exitErr.ExitCode()), err).
			WithContext("exit_code", exitErr.ExitCode())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return New(ErrorTypeConfiguration,
			fmt.Sprintf("external client %q could not be started", execErr.Name), err)
	}
	return nil
}

// classifyFileSystemError classifies file system errors
func classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return New(ErrorTypeExtraction,
				fmt.Sprintf("file or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return New(ErrorTypePermission,
				fmt.Sprintf("permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return New(ErrorTypeExtraction, "no space left on device", err)
		}
	}
	return nil
}

// IsType reports whether err is an AppError of the given type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// Wrap wraps an existing error with additional context, preserving its type
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return New(appErr.Type, message, err)
	}
	classified := Classify(err)
	classified.Message = message
	return classified
}
