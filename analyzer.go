package scry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	scrydiff "github.com/averen/scry/diff"
)

// DiffParser turns raw unified-diff text into per-file hunks. The diff
// package provides the implementation.
type DiffParser interface {
	Parse(text string) ([]scrydiff.FileDiff, error)
}

// PromptBuilder generates the seed prompts for an analysis session. The
// review package provides the implementation.
type PromptBuilder interface {
	// SystemPrompt describes the review task and the available tools.
	SystemPrompt(tools []ToolDefinition) string
	// UserPrompt renders the parsed diff, with an optional focus request.
	UserPrompt(files []scrydiff.FileDiff, focus string) string
}

// Settings is the narrow configuration surface the engine reads. It is
// constructor-injected, never ambient, so two analyzers in one process can
// run with different budgets.
type Settings interface {
	// MaxIterations bounds both the conversation rounds and the tool-call
	// attempts of one session.
	MaxIterations() int
	// MaxSubagentsPerSession bounds subagent spawns per session.
	MaxSubagentsPerSession() int
	// MaxToolResponseChars bounds the size of a single tool response.
	MaxToolResponseChars() int
}

// FixedSettings implements Settings with plain fields. Zero fields fall back
// to built-in defaults.
type FixedSettings struct {
	Iterations    int
	Subagents     int
	ResponseChars int
}

const (
	defaultMaxIterations = 25
	defaultMaxSubagents  = 3
)

func (s FixedSettings) MaxIterations() int {
	if s.Iterations > 0 {
		return s.Iterations
	}
	return defaultMaxIterations
}

func (s FixedSettings) MaxSubagentsPerSession() int {
	if s.Subagents > 0 {
		return s.Subagents
	}
	return defaultMaxSubagents
}

func (s FixedSettings) MaxToolResponseChars() int {
	if s.ResponseChars > 0 {
		return s.ResponseChars
	}
	return defaultMaxResponseChars
}

// Report is the outcome of one Analyze call. The caller always gets either a
// review or a clearly labeled terminal-state message — never a silent empty
// string.
type Report struct {
	SessionID string
	State     TerminalState
	// Review is the final review text, or the labeled message for
	// exhausted/errored sessions.
	Review string
	// Cause is the underlying fault when State is StateError.
	Cause error
	// Submission holds the raw arguments of the submit_review call on
	// success, for structured post-processing of the findings.
	Submission json.RawMessage
	Usage      Usage
	Steps      []StepTrace
	Rounds     int
	ToolCalls  int64
	Subagents  int
	DiffFiles  int
}

// Analyzer runs tool-calling code-review sessions. It is safe for concurrent
// use: every Analyze call constructs its session state (conversation,
// executor, budgets) fresh, so concurrent analyses share nothing mutable.
type Analyzer struct {
	provider Provider
	parser   DiffParser
	prompts  PromptBuilder
	tools    []Tool
	settings Settings
	store    Store
	guard    *OutputGuard

	repoRoot         string
	subagentMaxCalls int
	minReviewChars   int
	logger           *slog.Logger
	tracer           Tracer
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithTools sets the inspection tool set offered to the model. The built-in
// delegate, update_plan, and submit_review tools are always added on top.
func WithTools(tools ...Tool) Option {
	return func(a *Analyzer) { a.tools = append(a.tools, tools...) }
}

// WithSettings sets the budget configuration.
func WithSettings(s Settings) Option {
	return func(a *Analyzer) { a.settings = s }
}

// WithStore sets an optional audit store; completed sessions are persisted
// to it best-effort.
func WithStore(s Store) Option {
	return func(a *Analyzer) { a.store = s }
}

// WithGuard sets the prompt-injection guard applied to tool output.
func WithGuard(g *OutputGuard) Option {
	return func(a *Analyzer) { a.guard = g }
}

// WithRepoRoot sets the repository root that tool path arguments resolve
// against.
func WithRepoRoot(root string) Option {
	return func(a *Analyzer) { a.repoRoot = root }
}

// WithSubagentToolCalls sets the default tool-call ceiling for subagents.
func WithSubagentToolCalls(n int) Option {
	return func(a *Analyzer) { a.subagentMaxCalls = n }
}

// WithMinReviewChars sets the minimum accepted review length.
func WithMinReviewChars(n int) Option {
	return func(a *Analyzer) { a.minReviewChars = n }
}

// WithLogger sets the structured logger. A no-op logger is used if unset.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithTracer sets the tracer. When set, the analyzer emits spans for the
// session, loop iterations, tool executions, and subagent runs.
func WithTracer(t Tracer) Option {
	return func(a *Analyzer) { a.tracer = t }
}

// NewAnalyzer creates an Analyzer over the given model client, diff parser,
// and prompt builder.
func NewAnalyzer(provider Provider, parser DiffParser, prompts PromptBuilder, opts ...Option) *Analyzer {
	a := &Analyzer{
		provider:         provider,
		parser:           parser,
		prompts:          prompts,
		settings:         FixedSettings{},
		subagentMaxCalls: 8,
		minReviewChars:   80,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = nopLogger
	}
	return a
}

// Analyze runs one full review session over the given unified diff and
// returns the report. The returned error is non-nil only when the session
// was cancelled; every other outcome, including model-client faults, is
// labeled on the report.
func (a *Analyzer) Analyze(ctx context.Context, diffText string) (*Report, error) {
	return a.analyze(ctx, diffText, "")
}

// AnalyzeFocused is Analyze with an additional focus request woven into the
// user prompt (e.g. "concentrate on concurrency issues").
func (a *Analyzer) AnalyzeFocused(ctx context.Context, diffText, focus string) (*Report, error) {
	return a.analyze(ctx, diffText, focus)
}

func (a *Analyzer) analyze(ctx context.Context, diffText, focus string) (*Report, error) {
	report := &Report{SessionID: NewID()}

	if a.tracer != nil {
		var span Span
		ctx, span = a.tracer.Start(ctx, "analysis.session",
			StringAttr("session.id", report.SessionID))
		defer span.End()
	}
	a.logger.Info("analysis started", "session", report.SessionID, "diff_bytes", len(diffText))

	files, err := a.parser.Parse(diffText)
	if err != nil {
		return a.errorReport(ctx, report, fmt.Errorf("parse diff: %w", err)), nil
	}
	report.DiffFiles = len(files)

	registry, err := a.buildRegistry()
	if err != nil {
		return a.errorReport(ctx, report, err), nil
	}

	// Session state, all newly constructed per call: the shared-nothing
	// isolation between concurrent analyses lives here.
	budget := NewSubagentBudget(a.settings.MaxSubagentsPerSession())
	plan := NewPlanState()
	runner := &subagentRunner{
		provider:         a.provider,
		tools:            a.tools,
		budget:           budget,
		repoRoot:         a.repoRoot,
		maxToolCalls:     a.subagentMaxCalls,
		maxResponseChars: a.settings.MaxToolResponseChars(),
		guard:            a.guard,
		logger:           a.logger,
		tracer:           a.tracer,
	}
	tctx := &ToolContext{
		RepoRoot:  a.repoRoot,
		Plan:      plan,
		Subagents: budget,
		Spawn:     runner.run,
		Logger:    a.logger,
	}
	exec := NewToolExecutor(registry, tctx,
		ExecMaxCalls(a.settings.MaxIterations()),
		ExecMaxResponseChars(a.settings.MaxToolResponseChars()),
		ExecGuard(a.guard),
		ExecLogger(a.logger),
		ExecTracer(a.tracer),
	)

	conv := NewConversation()
	conv.Clear() // session start: the only point Clear is ever valid
	conv.AppendSystem(a.prompts.SystemPrompt(registry.Definitions()))
	conv.AppendUser(a.prompts.UserPrompt(files, focus))

	outcome, err := runLoop(ctx, loopConfig{
		name:         "analysis",
		provider:     a.provider,
		exec:         exec,
		conv:         conv,
		toolDefs:     registry.Definitions(),
		maxIter:      a.settings.MaxIterations(),
		terminalTool: ToolSubmitReview,
		minFinalLen:  a.minReviewChars,
		logger:       a.logger,
		tracer:       a.tracer,
	})

	report.Usage = outcome.usage
	report.Steps = outcome.steps
	report.Rounds = outcome.rounds
	report.ToolCalls = exec.CallCount()
	report.Subagents = budget.Spawned()

	if err != nil {
		// Cancellation surfaces distinctly: an error, no partial review.
		if ctx.Err() != nil {
			a.logger.Info("analysis cancelled", "session", report.SessionID)
			return nil, ctx.Err()
		}
		return a.errorReport(ctx, report, err), nil
	}

	report.State = outcome.state
	switch outcome.state {
	case StateSuccess:
		report.Review = outcome.text
		report.Submission = outcome.submission
	case StateExhausted:
		if outcome.text != "" {
			report.Review = "Analysis incomplete: iteration limit reached. Best assessment so far:\n\n" + outcome.text
		} else {
			report.Review = "Analysis incomplete: iteration limit reached before any assessment was produced."
		}
	}

	a.logger.Info("analysis finished",
		"session", report.SessionID,
		"state", string(report.State),
		"rounds", report.Rounds,
		"tool_calls", report.ToolCalls,
		"subagents", report.Subagents,
		"tokens.input", report.Usage.InputTokens,
		"tokens.output", report.Usage.OutputTokens)

	a.persist(ctx, report)
	return report, nil
}

// errorReport labels a report with an unrecoverable fault. Faults other than
// cancellation become data for the caller rather than errors, so no caller
// ever has to distinguish an empty review from a failed one.
func (a *Analyzer) errorReport(ctx context.Context, report *Report, cause error) *Report {
	a.logger.Error("analysis failed", "session", report.SessionID, "error", cause)
	report.State = StateError
	report.Cause = cause
	report.Review = "Error during analysis: " + cause.Error()
	a.persist(ctx, report)
	return report
}

// buildRegistry assembles the session registry: the configured inspection
// tools plus the built-ins, in deterministic order.
func (a *Analyzer) buildRegistry() (*ToolRegistry, error) {
	registry := NewToolRegistry()
	for _, t := range a.tools {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	builtins := []Tool{
		planTool{},
		delegateTool{},
		submitReviewTool{minChars: a.minReviewChars},
	}
	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// persist writes the finished session to the audit store, best-effort.
func (a *Analyzer) persist(ctx context.Context, report *Report) {
	if a.store == nil {
		return
	}
	rec := SessionRecord{
		ID:           report.SessionID,
		CreatedAt:    NowUnix(),
		State:        string(report.State),
		Review:       report.Review,
		DiffFiles:    report.DiffFiles,
		Rounds:       report.Rounds,
		ToolCalls:    report.ToolCalls,
		Subagents:    report.Subagents,
		InputTokens:  report.Usage.InputTokens,
		OutputTokens: report.Usage.OutputTokens,
	}
	steps := make([]StepRecord, 0, len(report.Steps))
	for i, s := range report.Steps {
		steps = append(steps, StepRecord{
			SessionID:  report.SessionID,
			Seq:        i,
			Name:       s.Name,
			Type:       s.Type,
			Input:      s.Input,
			Output:     s.Output,
			DurationMS: s.Duration.Milliseconds(),
		})
	}
	if err := a.store.SaveSession(ctx, rec, steps); err != nil {
		a.logger.Warn("session persist failed", "session", report.SessionID, "error", err)
	}
}

// nopLogger discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
