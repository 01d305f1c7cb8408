package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the runtime.
type ErrorCode string

// Configuration errors. Fatal at setup, never retried.
const (
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Provider / transport errors.
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrAuthentication  ErrorCode = "AUTHENTICATION"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrQueueFull       ErrorCode = "QUEUE_FULL"
	ErrModelOverloaded ErrorCode = "MODEL_OVERLOADED"
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError   ErrorCode = "UPSTREAM_ERROR"
	ErrStreamParse     ErrorCode = "STREAM_PARSE"
	ErrShuttingDown    ErrorCode = "SHUTTING_DOWN"
)

// Tool errors.
const (
	ErrToolNotFound    ErrorCode = "TOOL_NOT_FOUND"
	ErrToolValidation  ErrorCode = "TOOL_VALIDATION"
	ErrToolExecution   ErrorCode = "TOOL_EXECUTION"
	ErrToolTimeout     ErrorCode = "TOOL_TIMEOUT"
	ErrSandbox         ErrorCode = "SANDBOX"
	ErrToolRoundLimit  ErrorCode = "TOOL_ROUND_LIMIT"
	ErrToolDuplicate   ErrorCode = "TOOL_ALREADY_REGISTERED"
	ErrSandboxRequired ErrorCode = "SANDBOX_REQUIRED"
)

// Agent errors.
const (
	ErrAgentBusy         ErrorCode = "AGENT_BUSY"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrAgentStopping     ErrorCode = "AGENT_STOPPING"
	ErrProcessingFailed  ErrorCode = "PROCESSING_FAILED"
)

// Kernel / delegation errors.
const (
	ErrAgentNotFound  ErrorCode = "AGENT_NOT_FOUND"
	ErrAgentExists    ErrorCode = "AGENT_ALREADY_EXISTS"
	ErrAgentLimit     ErrorCode = "AGENT_LIMIT_REACHED"
	ErrNoCapableAgent ErrorCode = "NO_CAPABLE_AGENT"
	ErrRoutingFailed  ErrorCode = "ROUTING_FAILED"
	ErrTaskNotFound   ErrorCode = "TASK_NOT_FOUND"
	ErrTaskTerminal   ErrorCode = "TASK_ALREADY_TERMINAL"
)

// Mailbox errors.
const (
	ErrMailboxClosed ErrorCode = "MAILBOX_CLOSED"
	ErrMailboxFull   ErrorCode = "MAILBOX_FULL"
)

// Error is the structured error carried across component boundaries.
// Retryable distinguishes "transient - retry" from "permanent - do not
// retry"; configuration errors are neither and must be fixed by the caller.
type Error struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Component  string        `json:"component,omitempty"`
	Cause      error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRetryAfter attaches the duration after which a retry may succeed.
// A non-negative value is required for rate-limit errors.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	if d < 0 {
		d = 0
	}
	e.RetryAfter = d
	return e
}

// WithComponent names the component the error originated in.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, or "" if it is not a
// *types.Error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// RetryAfter extracts the retry-after hint from an error, or zero.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
