package scry

import "context"

// Provider is the model client: send a conversation, get one assistant turn.
// Implementations live under provider/; retry and rate-limit wrappers in this
// package compose around any Provider.
type Provider interface {
	// Name returns the provider identifier, used in logs and error messages.
	Name() string
	// Chat sends the conversation and returns the next assistant turn.
	// Transport and protocol failures are returned as errors (faults);
	// they are never encoded into the response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// TokenCounter is an optional Provider capability exposing the context-window
// arithmetic of the underlying model. Check via type assertion.
type TokenCounter interface {
	// CountTokens estimates the token footprint of the given turns.
	CountTokens(turns []Turn) int
	// MaxInputTokens returns the model's input context-window size.
	MaxInputTokens() int
}
