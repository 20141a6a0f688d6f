// Package agent implements the agentic answer pipeline.
//
// A query is classified as SIMPLE or MULTI. MULTI queries are decomposed
// into sub-queries. Each (sub-)query then runs a retrieve-judge loop: the
// model plans tool calls, the tools run, and the model judges whether the
// retrieved context answers the query. The loop runs at least once and at
// most MaxIterations+1 times, stopping at the first relevant context. A
// relevant context is turned into an answer; otherwise the query gets a
// fixed fallback reply.
//
// Every model output goes through a parser that reports a ParseKind, and
// every malformed output has a documented default, so a misbehaving model
// degrades the answer rather than failing the request.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/chatcore/internal/llm"
	"github.com/haasonsaas/chatcore/internal/observability"
	"github.com/haasonsaas/chatcore/internal/sessions"
	"github.com/haasonsaas/chatcore/internal/tools"
	"github.com/haasonsaas/chatcore/pkg/models"
)

// Generator produces text from a prompt.
type Generator interface {
	Available() bool
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Stream(ctx context.Context, prompt string, maxTokens int, onToken func(string)) (string, error)
}

// ToolSet plans and runs retrieval tool calls.
type ToolSet interface {
	PlanValidator
	DefaultPlan(query string) []tools.Call
	Execute(ctx context.Context, calls []tools.Call) []tools.Outcome
	Describe() string
}

// Budgets are the token limits for each generation stage.
type Budgets struct {
	Answer     int `yaml:"answer" json:"answer,omitempty"`
	Classifier int `yaml:"classifier" json:"classifier,omitempty"`
	Relevance  int `yaml:"relevance" json:"relevance,omitempty"`
	LogSummary int `yaml:"log_summary" json:"log_summary,omitempty"`

	// RetrieverBase plus RetrieverPerChar per query character bounds the
	// tool plan.
	RetrieverBase    int `yaml:"retriever_base" json:"retriever_base,omitempty"`
	RetrieverPerChar int `yaml:"retriever_per_char" json:"retriever_per_char,omitempty"`

	// SplitPerChar per query character bounds the decomposition.
	SplitPerChar int `yaml:"split_per_char" json:"split_per_char,omitempty"`
}

// DefaultBudgets returns the default stage budgets.
func DefaultBudgets() Budgets {
	return Budgets{
		Answer:           1024,
		Classifier:       16,
		Relevance:        16,
		LogSummary:       128,
		RetrieverBase:    256,
		RetrieverPerChar: 3,
		SplitPerChar:     2,
	}
}

func (b Budgets) withDefaults() Budgets {
	def := DefaultBudgets()
	if b.Answer <= 0 {
		b.Answer = def.Answer
	}
	if b.Classifier <= 0 {
		b.Classifier = def.Classifier
	}
	if b.Relevance <= 0 {
		b.Relevance = def.Relevance
	}
	if b.LogSummary <= 0 {
		b.LogSummary = def.LogSummary
	}
	if b.RetrieverBase <= 0 {
		b.RetrieverBase = def.RetrieverBase
	}
	if b.RetrieverPerChar <= 0 {
		b.RetrieverPerChar = def.RetrieverPerChar
	}
	if b.SplitPerChar <= 0 {
		b.SplitPerChar = def.SplitPerChar
	}
	return b
}

func (b Budgets) retriever(query string) int {
	return b.RetrieverBase + b.RetrieverPerChar*utf8.RuneCountInString(query)
}

func (b Budgets) split(query string) int {
	return max(b.SplitPerChar*utf8.RuneCountInString(query), 1)
}

// Config configures a Pipeline.
type Config struct {
	// MaxIterations is N: the loop runs at most N+1 rounds. Zero runs a
	// single round.
	MaxIterations int

	// HistoryTokens is the budget the history is trimmed to before it is
	// put in the answer prompt.
	HistoryTokens int

	// SystemInstruction opens the answer prompt.
	SystemInstruction string

	Budgets Budgets
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     1,
		HistoryTokens:     2000,
		SystemInstruction: DefaultSystemInstruction,
		Budgets:           DefaultBudgets(),
	}
}

// Input is one question for the pipeline.
type Input struct {
	// Query is the user question.
	Query string

	// History is the conversation so far, oldest first.
	History []models.Turn

	// ExtraContext is appended to the retrieved context, for example
	// uploaded files or a build log.
	ExtraContext string

	// OnToken, when set, receives the answer as it is produced.
	OnToken func(string)
}

// Loop records one retrieve-judge loop.
type Loop struct {
	Query      string
	Iterations int
	Relevance  int
	Context    string
	Answer     string
	Fallback   bool

	// Failed is set when answer generation errored and Answer carries the
	// unavailable or transient message.
	Failed bool
}

// Run records one pipeline execution. It is not persisted.
type Run struct {
	Query          string
	Classification Classification
	SubQueries     []string
	Loops          []Loop

	// Iterations counts retrieve-judge rounds across all loops.
	Iterations int

	// Relevance is 1 when every loop found relevant context.
	Relevance int

	Answer string

	ToolRounds      int
	RelevanceChecks int
	Generations     int
}

// Outcome summarizes a run for metrics.
func (r *Run) Outcome() string {
	fallbacks, failed := 0, 0
	for _, l := range r.Loops {
		if l.Fallback {
			fallbacks++
		}
		if l.Failed {
			failed++
		}
	}
	switch {
	case len(r.Loops) == 0:
		return "unavailable"
	case failed > 0:
		return "generation_error"
	case fallbacks == 0:
		return "answered"
	case fallbacks == len(r.Loops):
		return "fallback"
	default:
		return "partial"
	}
}

// FallbackAnswer is the reply when no relevant context was found.
func FallbackAnswer(query string) string {
	return fmt.Sprintf("Unfortunately we are not able to respond to your question about %s.", query)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// Pipeline answers questions. It holds no per-question state and is safe
// for concurrent use.
type Pipeline struct {
	gen   Generator
	tools ToolSet
	cfg   Config

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewPipeline creates a pipeline.
func NewPipeline(gen Generator, toolset ToolSet, cfg Config, opts ...Option) *Pipeline {
	if cfg.MaxIterations < 0 {
		cfg.MaxIterations = 0
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = DefaultSystemInstruction
	}
	cfg.Budgets = cfg.Budgets.withDefaults()
	p := &Pipeline{
		gen:    gen,
		tools:  toolset,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "agent")
	return p
}

// Answer runs the pipeline. It fails only when ctx is done; model and tool
// failures degrade the answer instead.
func (p *Pipeline) Answer(ctx context.Context, in Input) (*Run, error) {
	ctx, span := p.tracer.TracePipelineStage(ctx, "answer")
	defer span.End()

	run := &Run{Query: in.Query}
	if !p.gen.Available() {
		run.Answer = llm.UnavailableMessage
		emit(in.OnToken, run.Answer)
		p.metrics.RecordPipelineRun("", run.Outcome(), 0)
		return run, nil
	}

	history := sessions.Trim(in.History, p.cfg.HistoryTokens)

	run.Classification = p.classify(ctx, in.Query)
	queries := []string{in.Query}
	if run.Classification == Multi {
		queries = p.decompose(ctx, in.Query)
		run.SubQueries = queries
	}

	answers := make([]string, 0, len(queries))
	run.Relevance = 1
	for i, q := range queries {
		if i > 0 {
			emit(in.OnToken, "\n\n")
		}
		loop, err := p.answerOne(ctx, run, q, history, in)
		if err != nil {
			p.tracer.RecordError(span, err)
			return run, err
		}
		run.Loops = append(run.Loops, loop)
		answers = append(answers, loop.Answer)
		if loop.Relevance != 1 {
			run.Relevance = 0
		}
	}
	run.Answer = strings.Join(answers, "\n\n")

	p.tracer.SetAttributes(span,
		"pipeline.classification", string(run.Classification),
		"pipeline.iterations", run.Iterations,
		"pipeline.outcome", run.Outcome(),
	)
	p.metrics.RecordPipelineRun(string(run.Classification), run.Outcome(), run.Iterations)
	p.logger.InfoContext(ctx, "query answered",
		"classification", run.Classification,
		"sub_queries", len(run.SubQueries),
		"iterations", run.Iterations,
		"outcome", run.Outcome(),
	)
	return run, nil
}

func (p *Pipeline) classify(ctx context.Context, query string) Classification {
	out, err := p.gen.Generate(llm.WithStage(ctx, "classify"), classifyPrompt(query), p.cfg.Budgets.Classifier)
	class, kind := ParseClassification(out)
	if err != nil || kind != ParseOK {
		p.malformed(ctx, "classify", kind, err, out)
	}
	return class
}

func (p *Pipeline) decompose(ctx context.Context, query string) []string {
	out, err := p.gen.Generate(llm.WithStage(ctx, "split"), splitPrompt(query), p.cfg.Budgets.split(query))
	if err != nil {
		p.malformed(ctx, "split", ParseMalformed, err, out)
		return []string{query}
	}
	queries, kind := ParseSubQueries(out, query)
	if kind != ParseOK {
		p.malformed(ctx, "split", kind, nil, out)
	}
	return queries
}

func (p *Pipeline) answerOne(ctx context.Context, run *Run, query string, history []models.Turn, in Input) (Loop, error) {
	loop := Loop{Query: query}
	iterations, relevance := -1, 0
	var retrieved string
	for iterations < p.cfg.MaxIterations && relevance != 1 {
		if err := ctx.Err(); err != nil {
			return loop, err
		}
		iterCtx, span := p.tracer.TracePipelineStage(ctx, "retrieve")

		calls := p.plan(iterCtx, query)
		run.ToolRounds++
		retrieved = tools.FormatOutcomes(p.tools.Execute(iterCtx, calls))

		relevance = p.judge(iterCtx, query, withExtra(retrieved, in.ExtraContext))
		run.RelevanceChecks++
		iterations++
		run.Iterations++

		p.tracer.SetAttributes(span, "pipeline.relevance", relevance, "pipeline.calls", len(calls))
		span.End()
	}
	if err := ctx.Err(); err != nil {
		return loop, err
	}

	loop.Iterations = iterations + 1
	loop.Relevance = relevance
	loop.Context = retrieved

	if relevance != 1 {
		loop.Fallback = true
		loop.Answer = FallbackAnswer(query)
		emit(in.OnToken, loop.Answer)
		return loop, nil
	}

	prompt := answerPrompt(p.cfg.SystemInstruction, history, withExtra(retrieved, in.ExtraContext), query)
	genCtx := llm.WithStage(ctx, "answer")
	run.Generations++

	var answer string
	var err error
	if in.OnToken != nil {
		answer, err = p.gen.Stream(genCtx, prompt, p.cfg.Budgets.Answer, in.OnToken)
	} else {
		answer, err = p.gen.Generate(genCtx, prompt, p.cfg.Budgets.Answer)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return loop, ctxErr
		}
		p.metrics.RecordError("agent", "generation")
		loop.Failed = true
		loop.Answer = failedAnswer(in.OnToken, answer, err)
		return loop, nil
	}
	loop.Answer = strings.TrimSpace(answer)
	return loop, nil
}

// failedAnswer replaces a generation that ended in err. Streamed tokens are
// already with the caller, so the fallback follows them instead of
// replacing them.
func failedAnswer(onToken func(string), partial string, err error) string {
	fallback := llm.FallbackMessage(err)
	partial = strings.TrimSpace(partial)
	if onToken == nil || partial == "" {
		emit(onToken, fallback)
		return fallback
	}
	emit(onToken, "\n\n"+fallback)
	return partial + "\n\n" + fallback
}

// plan asks the model for tool calls, substituting the default plan when
// the output is malformed or breaks a tool contract.
func (p *Pipeline) plan(ctx context.Context, query string) []tools.Call {
	prompt := retrieverPrompt(query, p.tools.Describe())
	out, err := p.gen.Generate(llm.WithStage(ctx, "plan"), prompt, p.cfg.Budgets.retriever(query))
	if err != nil {
		p.malformed(ctx, "plan", ParseMalformed, err, out)
		return p.tools.DefaultPlan(query)
	}
	calls, kind, perr := ParseToolPlan(out, p.tools)
	if kind != ParseOK {
		p.malformed(ctx, "plan", kind, perr, out)
		return p.tools.DefaultPlan(query)
	}
	return calls
}

func (p *Pipeline) judge(ctx context.Context, query, retrieved string) int {
	out, err := p.gen.Generate(llm.WithStage(ctx, "relevance"), relevancePrompt(query, retrieved), p.cfg.Budgets.Relevance)
	if err != nil {
		p.malformed(ctx, "relevance", ParseMalformed, err, out)
		return 0
	}
	score, kind := ParseRelevance(out)
	if kind != ParseOK {
		p.malformed(ctx, "relevance", kind, nil, out)
	}
	return score
}

func (p *Pipeline) malformed(ctx context.Context, stage string, kind ParseKind, err error, output string) {
	p.metrics.RecordMalformedOutput(stage)
	attrs := []any{"stage", stage, "kind", kind.String(), "output", truncate(output, 200)}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		p.logger.WarnContext(ctx, "model call timed out, using default", attrs...)
		return
	}
	p.logger.WarnContext(ctx, "unusable model output, using default", attrs...)
}

func withExtra(retrieved, extra string) string {
	if strings.TrimSpace(extra) == "" {
		return retrieved
	}
	if retrieved == "" {
		return extra
	}
	return retrieved + "\n\n" + extra
}

func emit(onToken func(string), text string) {
	if onToken != nil && text != "" {
		onToken(text)
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
