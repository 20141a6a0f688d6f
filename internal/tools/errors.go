package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownTool is returned for a call to a tool that is not registered.
	ErrUnknownTool = errors.New("tool not found")

	// ErrToolPanic marks a tool that panicked while running.
	ErrToolPanic = errors.New("tool panicked")
)

// ErrorType categorizes a tool failure for logs and metrics. Every type is
// handled the same way by the pipeline: the tool contributes no context.
type ErrorType string

const (
	ErrorNotFound     ErrorType = "not_found"
	ErrorInvalidInput ErrorType = "invalid_input"
	ErrorTimeout      ErrorType = "timeout"
	ErrorCancelled    ErrorType = "cancelled"
	ErrorNetwork      ErrorType = "network"
	ErrorPanic        ErrorType = "panic"
	ErrorExecution    ErrorType = "execution"
)

// ToolError is a failed tool call.
type ToolError struct {
	Type  ErrorType
	Tool  string
	Cause error
}

func (e *ToolError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("[tool:%s] %s", e.Type, e.Tool)
	}
	return fmt.Sprintf("[tool:%s] %s: %v", e.Type, e.Tool, e.Cause)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// newToolError wraps cause, classifying it unless it is already a ToolError.
func newToolError(tool string, cause error) *ToolError {
	var toolErr *ToolError
	if errors.As(cause, &toolErr) {
		return toolErr
	}
	return &ToolError{Type: classify(cause), Tool: tool, Cause: cause}
}

// ErrorTypeOf returns the category of err, or "" when err is nil.
func ErrorTypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Type
	}
	return classify(err)
}

func classify(err error) ErrorType {
	switch {
	case errors.Is(err, ErrUnknownTool):
		return ErrorNotFound
	case errors.Is(err, ErrToolPanic):
		return ErrorPanic
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorTimeout
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "refused"),
		strings.Contains(msg, "unreachable"),
		strings.Contains(msg, "dns"):
		return ErrorNetwork
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "required"),
		strings.Contains(msg, "missing"):
		return ErrorInvalidInput
	}
	return ErrorExecution
}
