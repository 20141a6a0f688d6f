package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"unknown tool", fmt.Errorf("%w: %q", ErrUnknownTool, "x"), ErrorNotFound},
		{"panic", fmt.Errorf("%w: boom", ErrToolPanic), ErrorPanic},
		{"deadline", fmt.Errorf("search: %w", context.DeadlineExceeded), ErrorTimeout},
		{"cancelled", context.Canceled, ErrorCancelled},
		{"timeout text", errors.New("read timeout"), ErrorTimeout},
		{"network", errors.New("dial tcp: connection refused"), ErrorNetwork},
		{"input", errors.New("query is required"), ErrorInvalidInput},
		{"other", errors.New("index offline"), ErrorExecution},
		{"wrapped tool error", fmt.Errorf("outer: %w", &ToolError{Type: ErrorPanic, Tool: "t"}), ErrorPanic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorTypeOf(tt.err); got != tt.want {
				t.Errorf("ErrorTypeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToolError(t *testing.T) {
	cause := errors.New("index offline")
	err := newToolError("search_jenkins_docs", cause)
	if !errors.Is(err, cause) {
		t.Error("ToolError should unwrap to its cause")
	}
	for _, want := range []string{"tool:execution", "search_jenkins_docs", "index offline"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error() = %q, want it to contain %q", err.Error(), want)
		}
	}
	if again := newToolError("other", err); again != err {
		t.Error("newToolError should not re-wrap a ToolError")
	}
}
