package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/chatcore/internal/observability"
)

// ErrInvalidPlan is returned when a plan does not satisfy the tool
// contracts.
var ErrInvalidPlan = errors.New("invalid tool plan")

// DefaultConcurrency bounds parallel tool calls within one plan.
const DefaultConcurrency = 4

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

// WithConcurrency bounds parallel tool calls. Values below 1 run calls one at
// a time.
func WithConcurrency(n int) Option {
	return func(r *Registry) { r.concurrency = max(n, 1) }
}

// Registry holds the tools available to the pipeline. It is built at
// startup; lookups afterwards are read-only.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema

	concurrency int
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:       make(map[string]Tool),
		schemas:     make(map[string]*jsonschema.Schema),
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "tools")
	return r
}

// Register adds a tool, compiling its parameter contract. Registering a
// name twice replaces the earlier tool.
func (r *Registry) Register(tool Tool) error {
	schema, err := compileParams(tool.Name(), tool.Params())
	if err != nil {
		return fmt.Errorf("register %s: %w", tool.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = schema
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Validate checks a decoded plan against the tool contracts and returns it
// as typed calls. The plan must be a non-empty list of {tool, params}
// objects naming registered tools, with params an object that satisfies the
// tool's contract. Any mismatch rejects the whole plan.
func (r *Registry) Validate(raw any) ([]Call, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: plan is not a list", ErrInvalidPlan)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: plan is empty", ErrInvalidPlan)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	calls := make([]Call, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: call %d is not an object", ErrInvalidPlan, i)
		}
		name, ok := obj["tool"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: call %d has no tool name", ErrInvalidPlan, i)
		}
		schema, ok := r.schemas[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown tool %q", ErrInvalidPlan, name)
		}
		params, ok := obj["params"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: params for %s is not an object", ErrInvalidPlan, name)
		}
		if err := schema.Validate(params); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPlan, name, err)
		}
		calls = append(calls, Call{Tool: name, Params: params})
	}
	return calls, nil
}

// DefaultPlan calls every tool with the raw query as its primary parameter
// and, where declared, as its keywords.
func (r *Registry) DefaultPlan(query string) []Call {
	tools := r.List()
	calls := make([]Call, 0, len(tools))
	for _, t := range tools {
		params := make(map[string]any)
		primary := true
		for _, p := range t.Params() {
			switch {
			case p.Keywords:
				params[p.Name] = query
			case primary && p.Required:
				params[p.Name] = query
				primary = false
			}
		}
		calls = append(calls, Call{Tool: t.Name(), Params: params})
	}
	return calls
}

// Execute runs every call and returns outcomes in plan order. A failing or
// panicking call yields an empty output; the other calls still run.
func (r *Registry) Execute(ctx context.Context, calls []Call) []Outcome {
	outcomes := make([]Outcome, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = r.run(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *Registry) run(ctx context.Context, call Call) (out Outcome) {
	out.Tool = call.Tool
	start := time.Now()

	ctx, span := r.tracer.TraceToolExecution(ctx, call.Tool)
	defer span.End()
	defer func() {
		if p := recover(); p != nil {
			out.Output = ""
			out.Err = fmt.Errorf("%w: %v", ErrToolPanic, p)
		}
		out.Duration = time.Since(start)
		status := "success"
		if out.Err != nil {
			status = "error"
			toolErr := newToolError(call.Tool, out.Err)
			out.Err = toolErr
			r.tracer.RecordError(span, toolErr)
			r.metrics.RecordError("tools", string(toolErr.Type))
			r.logger.WarnContext(ctx, "tool execution failed",
				"tool", call.Tool,
				"error_type", toolErr.Type,
				"error", toolErr.Cause,
			)
		}
		r.metrics.RecordToolExecution(call.Tool, status, out.Duration.Seconds())
	}()

	tool, ok := r.Get(call.Tool)
	if !ok {
		out.Err = fmt.Errorf("%w: %q", ErrUnknownTool, call.Tool)
		return out
	}
	output, err := tool.Invoke(ctx, call.Params)
	if err != nil {
		out.Err = err
		return out
	}
	out.Output = output
	return out
}

// FormatOutcomes joins outcomes into one labeled block per call.
func FormatOutcomes(outcomes []Outcome) string {
	blocks := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		blocks = append(blocks, strings.TrimSpace(fmt.Sprintf("[Result of the search tool %s]:\n%s", o.Tool, o.Output)))
	}
	return strings.Join(blocks, "\n\n")
}

// Describe renders the tool catalogue for the planning prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, t := range r.List() {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
		for _, p := range t.Params() {
			qual := "optional"
			if p.Required {
				qual = "required"
			}
			if p.Nullable {
				qual += ", may be null"
			}
			fmt.Fprintf(&b, "    - %s (%s): %s\n", p.Name, qual, p.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// compileParams builds the JSON schema for a parameter contract. Unknown
// keys are rejected.
func compileParams(tool string, params []Param) (*jsonschema.Schema, error) {
	props := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		typ := any("string")
		if p.Nullable {
			typ = []string{"string", "null"}
		}
		props[p.Name] = map[string]any{"type": typ}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc, err := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	})
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString("tool_"+tool+"_params.json", string(doc))
}
