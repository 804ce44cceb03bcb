package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	parley "github.com/novandi/parley"
)

// Provider implements parley.Provider for any OpenAI-compatible API.
//
// Works with OpenAI, OpenRouter, Groq, Together, Fireworks, DeepSeek,
// Mistral, Ollama, vLLM, LM Studio, Azure OpenAI, and any other provider
// that implements the OpenAI chat completions API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
}

// compile-time check
var _ parley.Provider = (*Provider)(nil)

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming chat request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	body := BuildBody(req.Messages, p.model, req.JSONOutput, p.opts...)

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return parley.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parley.ChatResponse{}, p.httpErr(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: "read response: " + err.Error()}
	}
	return ParseResponse(data, p.name)
}

// ChatStream streams text chunks into ch, then returns the final accumulated
// response. The channel is closed when streaming completes, on success or
// failure. Callers typically read ch on the request goroutine and run
// ChatStream on another.
func (p *Provider) ChatStream(ctx context.Context, req parley.ChatRequest, ch chan<- string) (parley.ChatResponse, error) {
	body := BuildBody(req.Messages, p.model, req.JSONOutput, p.opts...)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return parley.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return parley.ChatResponse{}, p.httpErr(resp)
	}

	// StreamSSE closes ch when done.
	return StreamSSE(ctx, resp.Body, ch)
}

// sendHTTP marshals and POSTs the request body.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &parley.ErrLLM{Provider: p.name, Message: "marshal request: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, &parley.ErrLLM{Provider: p.name, Message: "build request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &parley.ErrLLM{Provider: p.name, Message: err.Error()}
	}
	return resp, nil
}

// httpErr reads a non-200 response into an error, preferring the API's own
// error message when the envelope parses.
func (p *Provider) httpErr(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	httpErr := &parley.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(data),
		RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		// Keep the typed error so retry wrappers can see the status.
		return httpErr
	}

	var envelope ErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return &parley.ErrLLM{Provider: p.name, Message: fmt.Sprintf("http %d: %s", resp.StatusCode, envelope.Error.Message)}
	}
	return httpErr
}

// retryAfter parses a Retry-After header value in seconds form.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// BuildBody converts parley ChatMessages and a model name into an
// OpenAI-format ChatRequest. System messages stay in the messages array as
// role:"system".
func BuildBody(messages []parley.ChatMessage, model string, jsonOutput bool, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
	}

	req := ChatRequest{
		Model:    model,
		Messages: msgs,
	}
	if jsonOutput {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// ParseResponse parses a non-streaming chat completions response.
func ParseResponse(data []byte, providerName string) (parley.ChatResponse, error) {
	var resp ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: providerName, Message: "parse response: " + err.Error()}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: providerName, Message: "response has no choices"}
	}

	out := parley.ChatResponse{Content: resp.Choices[0].Message.Content}
	if resp.Usage != nil {
		out.Usage = parley.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}
