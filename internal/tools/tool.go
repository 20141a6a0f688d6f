// Package tools provides the retrieval tools the answer pipeline can plan
// calls against, and the registry that validates and executes those plans.
package tools

import (
	"context"
	"time"
)

// Tool is a retrieval capability that returns free-text context.
type Tool interface {
	// Name is the identifier the model uses in a tool plan.
	Name() string

	// Description is shown to the model when it plans calls.
	Description() string

	// Params declares the parameter contract.
	Params() []Param

	// Invoke runs the tool. Params have already been validated against the
	// declared contract.
	Invoke(ctx context.Context, params map[string]any) (string, error)
}

// Param describes one tool parameter. All parameters are strings.
type Param struct {
	Name        string
	Description string

	// Required parameters must be present in every call.
	Required bool

	// Nullable parameters accept an explicit null.
	Nullable bool

	// Keywords marks the keyword-search parameter. The default plan fills
	// it with the raw query.
	Keywords bool
}

// Call is one planned tool invocation.
type Call struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// Outcome is the result of executing one call. A failed call has an empty
// Output and a non-nil Err.
type Outcome struct {
	Tool     string
	Output   string
	Err      error
	Duration time.Duration
}

// stringParam returns params[name] as a string; nulls and missing keys give
// the empty string.
func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}
