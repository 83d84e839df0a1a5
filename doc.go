// Package scry is a tool-calling orchestration engine for LLM-driven code
// review. An Analyzer runs a bounded conversation loop against a chat model:
// it sends the conversation, receives tool calls, dispatches them concurrently
// through a validating ToolExecutor, appends the results, and repeats until
// the model submits a final review or a budget runs out. The model can
// delegate focused sub-investigations to isolated subagents, each with its own
// conversation and tool budget, capped per session by a shared SubagentBudget.
//
// Every Analyze call builds its session state fresh — conversation, executor,
// counters — so concurrent analyses never share mutable state. Tool failures
// are data fed back to the model so it can self-correct; only cancellation
// and model transport failures abort the loop.
package scry
