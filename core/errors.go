package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies every failure an execution can surface. Codes cross
// the streaming boundary inside terminal frames, so they are stable strings
// rather than Go error identities.
type ErrorCode string

const (
	// CodeInputValidation marks input rejected before any generation call.
	CodeInputValidation ErrorCode = "INPUT_VALIDATION"
	// CodeProviderTimeout marks a generation call that exceeded its deadline.
	CodeProviderTimeout ErrorCode = "PROVIDER_TIMEOUT"
	// CodeProviderRateLimited marks a generation call rejected by provider throttling.
	CodeProviderRateLimited ErrorCode = "PROVIDER_RATE_LIMITED"
	// CodeProviderMalformed marks a provider reply that violated its own contract.
	CodeProviderMalformed ErrorCode = "PROVIDER_MALFORMED_RESPONSE"
	// CodeSchemaViolation marks a value that failed required-field or type validation.
	CodeSchemaViolation ErrorCode = "SCHEMA_VIOLATION"
	// CodeToolTimeout marks a tool handler that did not return within its deadline.
	CodeToolTimeout ErrorCode = "TOOL_TIMEOUT"
	// CodeToolExecution marks a tool handler that returned an error or panicked.
	CodeToolExecution ErrorCode = "TOOL_EXECUTION_ERROR"
	// CodePlanValidation marks an orchestration plan with unsatisfiable dependencies.
	CodePlanValidation ErrorCode = "PLAN_VALIDATION"
	// CodeStepLimit marks a tool-use loop that exhausted its step budget.
	CodeStepLimit ErrorCode = "STEP_LIMIT_EXCEEDED"
	// CodeCancelled marks a cooperative, caller-initiated halt.
	CodeCancelled ErrorCode = "CANCELLED"
	// CodeInternal marks any failure outside the taxonomy above.
	CodeInternal ErrorCode = "INTERNAL"
)

// Coded is implemented by errors that classify themselves into the taxonomy.
type Coded interface {
	error
	ErrorCode() ErrorCode
}

// ErrorCodeOf maps an error to its taxonomy code. Unclassified errors map to
// CodeInternal; context cancellation maps to CodeCancelled.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var coded Coded
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}

	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeProviderTimeout
	}

	return CodeInternal
}

// InputError rejects empty or oversized input before any generation call.
type InputError struct {
	Message string
}

// NewInputError creates an InputError with a formatted message.
func NewInputError(format string, args ...any) *InputError {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *InputError) Error() string { return e.Message }

// ErrorCode implements Coded.
func (e *InputError) ErrorCode() ErrorCode { return CodeInputValidation }
