package domain

import (
	"errors"
	"fmt"
)

// Category sentinels — use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	ErrAgentNotFound     = fmt.Errorf("agent not found")
	ErrDuplicateAgent    = fmt.Errorf("agent already registered")
	ErrInstanceNotFound  = fmt.Errorf("agent instance not found")
	ErrToolNotFound      = fmt.Errorf("tool not found")
	ErrProcessStart      = fmt.Errorf("tool process failed to start")
	ErrProcessTerminated = fmt.Errorf("tool process terminated")
	ErrDuplicateProcess  = fmt.Errorf("tool process already registered")
	ErrToolTimeout       = fmt.Errorf("tool call timed out")
	ErrToolInvocation    = fmt.Errorf("tool invocation failed")
	ErrSessionNotFound   = fmt.Errorf("session not found")
	ErrRateLimited       = fmt.Errorf("rate limit exceeded")
	ErrQueueFull         = fmt.Errorf("dispatch queue full")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Manager.Submit")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "dispatch", "toolproc")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate    ErrorCode = "AGENT_DUPLICATE"
	CodeInstanceNotFound  ErrorCode = "INSTANCE_NOT_FOUND"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeProcessStart      ErrorCode = "PROCESS_START_FAILURE"
	CodeProcessTerminated ErrorCode = "PROCESS_TERMINATED"
	CodeProcessDuplicate  ErrorCode = "PROCESS_DUPLICATE"
	CodeToolTimeout       ErrorCode = "TOOL_TIMEOUT"
	CodeToolInvocation    ErrorCode = "TOOL_INVOCATION"
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeQueueFull         ErrorCode = "QUEUE_FULL"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeDuplicate         ErrorCode = "DUPLICATE"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeLimitReached      ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:          CodeNotFound,
	ErrDuplicate:         CodeDuplicate,
	ErrTimeout:           CodeTimeout,
	ErrLimitReached:      CodeLimitReached,
	ErrInvalidInput:      CodeInvalidInput,
	ErrAgentNotFound:     CodeAgentNotFound,
	ErrDuplicateAgent:    CodeAgentDuplicate,
	ErrInstanceNotFound:  CodeInstanceNotFound,
	ErrToolNotFound:      CodeToolNotFound,
	ErrProcessStart:      CodeProcessStart,
	ErrProcessTerminated: CodeProcessTerminated,
	ErrDuplicateProcess:  CodeProcessDuplicate,
	ErrToolTimeout:       CodeToolTimeout,
	ErrToolInvocation:    CodeToolInvocation,
	ErrSessionNotFound:   CodeSessionNotFound,
	ErrRateLimited:       CodeRateLimited,
	ErrQueueFull:         CodeQueueFull,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
