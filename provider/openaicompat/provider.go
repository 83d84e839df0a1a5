package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/averen/scry"
)

// Provider implements scry.Provider for any OpenAI-compatible API. It uses
// the shared helpers in this package (BuildBody, ParseResponse) to handle
// body building and response parsing.
type Provider struct {
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
	name     string
	opts     []Option
	maxInput int
	charsTok int
}

// ProviderOption configures a Provider instance.
type ProviderOption func(*Provider)

// WithName sets the provider name returned by Name() (default "openai").
// Use this to distinguish providers in logs and observability.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithOptions appends request-level options (temperature, top_p, etc.)
// that are applied to every request made by this provider.
func WithOptions(opts ...Option) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}

// WithContextWindow sets the model's input token window, enabling the
// near-window warnings in the engine. Zero disables them.
func WithContextWindow(tokens int) ProviderOption {
	return func(p *Provider) { p.maxInput = tokens }
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:   apiKey,
		model:    model,
		baseURL:  baseURL,
		client:   &http.Client{},
		name:     "openai",
		charsTok: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Chat sends a chat request and returns the complete response. When
// req.Tools is non-empty, the response may contain ToolCalls.
func (p *Provider) Chat(ctx context.Context, req scry.ChatRequest) (scry.ChatResponse, error) {
	body := BuildBody(req.Turns, req.Tools, p.model, p.opts...)
	return p.doRequest(ctx, body)
}

// CountTokens estimates the token count of a conversation. It is a character
// heuristic, good enough for the engine's near-window warnings.
func (p *Provider) CountTokens(turns []scry.Turn) int {
	chars := 0
	for _, t := range turns {
		chars += utf8.RuneCountInString(t.Content)
		for _, tc := range t.ToolCalls {
			chars += len(tc.Name) + len(tc.Args)
		}
	}
	return chars / p.charsTok
}

// MaxInputTokens returns the configured context window, or 0 when unknown.
func (p *Provider) MaxInputTokens() int { return p.maxInput }

// doRequest sends the request and parses the response.
func (p *Provider) doRequest(ctx context.Context, body ChatRequest) (scry.ChatResponse, error) {
	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return scry.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return scry.ChatResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return scry.ChatResponse{}, &scry.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}

	return ParseResponse(chatResp)
}

// sendHTTP marshals the request body and sends it to the chat completions endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &scry.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &scry.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body and returns an ErrHTTP for retry middleware.
// Parses the Retry-After header when present (429/503 responses).
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &scry.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: scry.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface checks.
var (
	_ scry.Provider     = (*Provider)(nil)
	_ scry.TokenCounter = (*Provider)(nil)
)
