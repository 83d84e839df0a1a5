package scry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FailureKind classifies a recoverable tool failure. Failures are data: they
// are encoded on the ExecutionResult and fed back to the model, never raised.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureRateLimit: the session's tool-call budget is exhausted.
	FailureRateLimit
	// FailureNotFound: no tool registered under the requested name.
	FailureNotFound
	// FailureInvalidArgs: arguments failed schema validation.
	FailureInvalidArgs
	// FailureTooLarge: the tool response exceeded the size limit.
	FailureTooLarge
	// FailureRuntime: the tool body returned an error or panicked.
	FailureRuntime
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureRateLimit:
		return "rate_limit_exceeded"
	case FailureNotFound:
		return "tool_not_found"
	case FailureInvalidArgs:
		return "validation_failed"
	case FailureTooLarge:
		return "response_too_large"
	case FailureRuntime:
		return "tool_runtime_error"
	}
	return "unknown"
}

// ExecutionResult is the outcome of one tool invocation. Success=false is
// ordinary data; the only way a call aborts the loop is the cancellation
// fault returned as an error from ExecuteOne/ExecuteBatch.
type ExecutionResult struct {
	ToolName string
	Success  bool
	Content  string
	Failure  FailureKind
	Err      string
	Metadata map[string]string
	Duration time.Duration
}

// Text returns the content that goes into the tool-result turn: the tool
// output on success, a structured error line otherwise.
func (r ExecutionResult) Text() string {
	if r.Success {
		return r.Content
	}
	return fmt.Sprintf("error (%s): %s", r.Failure, r.Err)
}

// maxParallelDispatch caps concurrent tool-call goroutines in a batch so a
// large fan-out does not overwhelm the filesystem or external services.
const maxParallelDispatch = 8

// ToolExecutor is the single choke point through which every tool call in a
// session passes. It validates arguments, enforces the session call budget
// and response-size limit, captures tool errors and panics as data, and fans
// out batches concurrently while preserving input order in the results.
//
// One executor belongs to exactly one session; the call counter resets only
// by constructing a new executor.
type ToolExecutor struct {
	registry *ToolRegistry
	tctx     *ToolContext
	schemas  map[string]*jsonschema.Schema

	maxCalls         int64
	maxResponseChars int

	calls  atomic.Int64
	guard  *OutputGuard
	logger *slog.Logger
	tracer Tracer
}

// ExecutorOption configures a ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// ExecMaxCalls sets the tool-call attempt budget for the session.
func ExecMaxCalls(n int) ExecutorOption {
	return func(e *ToolExecutor) { e.maxCalls = int64(n) }
}

// ExecMaxResponseChars sets the maximum tool-response size in characters.
func ExecMaxResponseChars(n int) ExecutorOption {
	return func(e *ToolExecutor) { e.maxResponseChars = n }
}

// ExecGuard sets the output guard applied to successful tool output.
func ExecGuard(g *OutputGuard) ExecutorOption {
	return func(e *ToolExecutor) { e.guard = g }
}

// ExecLogger sets the structured logger. A no-op logger is used if unset.
func ExecLogger(l *slog.Logger) ExecutorOption {
	return func(e *ToolExecutor) { e.logger = l }
}

// ExecTracer sets the tracer for per-call spans.
func ExecTracer(t Tracer) ExecutorOption {
	return func(e *ToolExecutor) { e.tracer = t }
}

const (
	defaultMaxCalls         = 25
	defaultMaxResponseChars = 40_000
)

// NewToolExecutor builds an executor over the given registry and execution
// context. Argument schemas are compiled once here; a tool whose schema does
// not compile is logged and validated only for JSON well-formedness.
func NewToolExecutor(registry *ToolRegistry, tctx *ToolContext, opts ...ExecutorOption) *ToolExecutor {
	e := &ToolExecutor{
		registry:         registry,
		tctx:             tctx,
		maxCalls:         defaultMaxCalls,
		maxResponseChars: defaultMaxResponseChars,
		schemas:          make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = nopLogger
	}
	if e.tctx == nil {
		e.tctx = &ToolContext{}
	}
	if e.tctx.Logger == nil {
		e.tctx.Logger = e.logger
	}
	for _, t := range registry.List() {
		sch, err := compileSchema(t.Name(), t.Schema())
		if err != nil {
			e.logger.Warn("tool schema does not compile, arguments pass unvalidated",
				"tool", t.Name(), "error", err)
			continue
		}
		e.schemas[t.Name()] = sch
	}
	return e
}

// CallCount returns the number of call attempts so far, including attempts
// rejected before execution.
func (e *ToolExecutor) CallCount() int64 {
	return e.calls.Load()
}

// ExecuteOne validates, rate-limits, executes, and size-bounds a single tool
// call. The returned error is non-nil only for the cancellation fault; every
// other failure is encoded on the result.
func (e *ToolExecutor) ExecuteOne(ctx context.Context, call ToolCall) (ExecutionResult, error) {
	// Attempts count, not successes: the counter moves before validation so
	// a model stuck emitting malformed calls still runs out of budget.
	attempt := e.calls.Add(1)
	if attempt > e.maxCalls {
		return ExecutionResult{
			ToolName: call.Name,
			Failure:  FailureRateLimit,
			Err: fmt.Sprintf("tool-call limit reached (%d attempts, limit %d); submit your review with what you have",
				attempt, e.maxCalls),
		}, nil
	}

	// Cancellation is session-wide: abort the operation, not just this call.
	if err := ctx.Err(); err != nil {
		return ExecutionResult{}, err
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return ExecutionResult{
			ToolName: call.Name,
			Failure:  FailureNotFound,
			Err:      fmt.Sprintf("tool %q not found; available tools are listed in the system prompt", call.Name),
		}, nil
	}

	// Malformed JSON from the model degrades to an empty argument object so
	// validation can report the missing fields and the model can retry.
	args := call.Args
	if len(bytes.TrimSpace(args)) == 0 || !json.Valid(args) {
		args = json.RawMessage(`{}`)
	}
	if sch, ok := e.schemas[call.Name]; ok {
		if verr := validateArgs(sch, args); verr != "" {
			return ExecutionResult{
				ToolName: call.Name,
				Failure:  FailureInvalidArgs,
				Err:      verr,
			}, nil
		}
	}

	start := time.Now()
	result, err := e.runTool(ctx, tool, args)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return ExecutionResult{}, ctx.Err()
		}
		return ExecutionResult{
			ToolName: call.Name,
			Failure:  FailureRuntime,
			Err:      err.Error(),
			Duration: elapsed,
		}, nil
	}
	if result.Error != "" {
		return ExecutionResult{
			ToolName: call.Name,
			Failure:  FailureRuntime,
			Err:      result.Error,
			Metadata: result.Metadata,
			Duration: elapsed,
		}, nil
	}

	// An oversized response becomes a failure, never a silent truncation:
	// trimming would mislead the model about completeness.
	if n := utf8.RuneCountInString(result.Content); n > e.maxResponseChars {
		return ExecutionResult{
			ToolName: call.Name,
			Failure:  FailureTooLarge,
			Err: fmt.Sprintf("response too large (%d chars, limit %d); narrow your request",
				n, e.maxResponseChars),
			Duration: elapsed,
		}, nil
	}

	content := result.Content
	if e.guard != nil && content != "" {
		if clean, matches := e.guard.Screen(content); !clean {
			e.logger.Warn("tool output flagged by guard", "tool", call.Name, "matches", strings.Join(matches, "; "))
			content = e.guard.Wrap(content, matches)
		}
	}

	return ExecutionResult{
		ToolName: call.Name,
		Success:  true,
		Content:  content,
		Metadata: result.Metadata,
		Duration: elapsed,
	}, nil
}

// runTool invokes the tool body with panic recovery. A panicking tool is a
// runtime failure, not a crashed session.
func (e *ToolExecutor) runTool(ctx context.Context, tool Tool, args json.RawMessage) (res ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = ToolResult{}
			err = fmt.Errorf("tool %q panic: %v", tool.Name(), p)
		}
	}()
	if e.tracer != nil {
		var span Span
		ctx, span = e.tracer.Start(ctx, "tool.execute", StringAttr("tool.name", tool.Name()))
		defer span.End()
	}
	return tool.Execute(ctx, args, e.tctx)
}

// indexedResult pairs an execution result with its position in the batch.
type indexedResult struct {
	idx int
	res ExecutionResult
	err error
}

// ExecuteBatch dispatches every call concurrently and returns results in
// input order. One call's failure never affects its siblings; the
// cancellation fault from any call fails the whole batch, since cancellation
// is session-wide.
func (e *ToolExecutor) ExecuteBatch(ctx context.Context, calls []ToolCall) ([]ExecutionResult, error) {
	switch len(calls) {
	case 0:
		return nil, nil
	case 1:
		res, err := e.ExecuteOne(ctx, calls[0])
		if err != nil {
			return nil, err
		}
		return []ExecutionResult{res}, nil
	}

	type workItem struct {
		idx  int
		call ToolCall
	}
	workCh := make(chan workItem, len(calls))
	for i, c := range calls {
		workCh <- workItem{idx: i, call: c}
	}
	close(workCh)

	resultCh := make(chan indexedResult, len(calls))
	numWorkers := min(len(calls), maxParallelDispatch)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				res, err := e.ExecuteOne(ctx, w.call)
				resultCh <- indexedResult{idx: w.idx, res: res, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]ExecutionResult, len(calls))
	var fault error
	for r := range resultCh {
		if r.err != nil && fault == nil {
			fault = r.err
		}
		results[r.idx] = r.res
	}
	if fault != nil {
		return nil, fault
	}
	return results, nil
}

// compileSchema compiles a tool's JSON Schema for argument validation.
func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	c := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := c.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// validateArgs validates decoded arguments against a compiled schema and
// returns a message listing every violated field (path + reason), or "".
func validateArgs(sch *jsonschema.Schema, args json.RawMessage) string {
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return "arguments are not valid JSON: " + err.Error()
	}
	err := sch.Validate(v)
	if err == nil {
		return ""
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	seen := make(map[string]bool)
	var lines []string
	collectLeafCauses(ve, func(loc, msg string) {
		if loc == "" {
			loc = "(root)"
		}
		line := loc + ": " + msg
		if !seen[line] {
			seen[line] = true
			lines = append(lines, line)
		}
	})
	sort.Strings(lines)
	return "invalid arguments:\n" + strings.Join(lines, "\n")
}

// collectLeafCauses walks a validation error tree, visiting leaf causes.
func collectLeafCauses(ve *jsonschema.ValidationError, visit func(loc, msg string)) {
	if len(ve.Causes) == 0 {
		visit(ve.InstanceLocation, ve.Message)
		return
	}
	for _, c := range ve.Causes {
		collectLeafCauses(c, visit)
	}
}
