package parley

import "context"

// Provider abstracts the text-generation backend.
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams text chunks into ch, then returns the final
	// response with usage stats. Implementations close ch when the stream
	// ends, on success or failure.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "gemini").
	Name() string
}

// ChatRequest is the input to a Provider call.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	// JSONOutput asks the provider for a structured JSON response where the
	// backend supports it (response_format / responseMimeType). Providers
	// without native support ignore it; callers must still parse tolerantly.
	JSONOutput bool `json:"-"`
}

// ChatResponse is the complete output of a Provider call.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage reports token consumption for one provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
