package errors

import (
	"fmt"
	"time"
)

// ErrorType classifies an error for retry and recovery decisions.
// Classification is by tag, never by message substring.
type ErrorType string

const (
	ErrorTypeConnectionCreation ErrorType = "connection_creation"
	ErrorTypePoolExhausted      ErrorType = "pool_exhausted"
	ErrorTypePoolShutdown       ErrorType = "pool_shutdown"
	ErrorTypeUnknownConnection  ErrorType = "unknown_connection"
	ErrorTypeInvalidPoolSize    ErrorType = "invalid_pool_size"
	ErrorTypeCircuitOpen        ErrorType = "circuit_open"
	ErrorTypeBulkheadFull       ErrorType = "bulkhead_full"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeRetryExhausted     ErrorType = "retry_exhausted"
	ErrorTypeRecoveryFailed     ErrorType = "recovery_failed"
	ErrorTypeProtocol           ErrorType = "protocol"
	ErrorTypeSession            ErrorType = "session"
	ErrorTypeNavigation         ErrorType = "navigation"
	ErrorTypeInternal           ErrorType = "internal"
)

// AppError carries a typed error with context for logging and recovery.
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors

func NewConnectionCreationError(message string) *AppError {
	return NewAppError(ErrorTypeConnectionCreation, "CONNECTION_CREATION_FAILED", message)
}

func NewPoolExhaustedError(message string) *AppError {
	return NewAppError(ErrorTypePoolExhausted, "POOL_EXHAUSTED", message)
}

func NewPoolShutdownError() *AppError {
	return NewAppError(ErrorTypePoolShutdown, "POOL_SHUTTING_DOWN", "connection pool is shutting down")
}

func NewUnknownConnectionError(connectionID string) *AppError {
	return NewAppError(ErrorTypeUnknownConnection, "UNKNOWN_CONNECTION", fmt.Sprintf("connection %s is not tracked by the pool", connectionID)).
		WithDetail("connection_id", connectionID)
}

func NewInvalidPoolSizeError(min, max int) *AppError {
	return NewAppError(ErrorTypeInvalidPoolSize, "INVALID_POOL_SIZE", fmt.Sprintf("min connections (%d) cannot exceed max connections (%d)", min, max))
}

func NewCircuitOpenError(name string) *AppError {
	return NewAppError(ErrorTypeCircuitOpen, "CIRCUIT_OPEN", fmt.Sprintf("circuit breaker %q is open", name)).
		WithDetail("breaker", name)
}

func NewBulkheadFullError(name string) *AppError {
	return NewAppError(ErrorTypeBulkheadFull, "BULKHEAD_FULL", fmt.Sprintf("bulkhead %q is at capacity", name)).
		WithDetail("bulkhead", name)
}

func NewTimeoutError(operation string, duration time.Duration) *AppError {
	return NewAppError(ErrorTypeTimeout, "OPERATION_TIMEOUT", fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithDetail("timeout", duration.String())
}

func NewRetryExhaustedError(attempts int, cause error) *AppError {
	return NewAppError(ErrorTypeRetryExhausted, "RETRY_EXHAUSTED", fmt.Sprintf("operation failed after %d attempts", attempts)).
		WithCause(cause)
}

func NewRecoveryFailedError(operationID string, cause error) *AppError {
	return NewAppError(ErrorTypeRecoveryFailed, "RECOVERY_FAILED", "compensating action failed").
		WithDetail("operation_id", operationID).
		WithCause(cause)
}

func NewProtocolError(message string) *AppError {
	return NewAppError(ErrorTypeProtocol, "PROTOCOL_ERROR", message)
}

func NewSessionError(message string) *AppError {
	return NewAppError(ErrorTypeSession, "SESSION_ERROR", message)
}

func NewNavigationError(message string) *AppError {
	return NewAppError(ErrorTypeNavigation, "NAVIGATION_ERROR", message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

// IsType checks if the error is of a specific type. The check walks the
// cause chain so that wrapped AppErrors still classify correctly.
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Type == errorType {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}
