package parley

import (
	"context"
	"errors"
)

// nopStore satisfies the Store interface with no-ops.
// Embed this in test-specific store structs to avoid implementing every method.
type nopStore struct{}

func (nopStore) Init(_ context.Context) error                          { return nil }
func (nopStore) CreateBot(_ context.Context, _ Bot) error              { return nil }
func (nopStore) GetBot(_ context.Context, _ string) (*Bot, error)      { return nil, nil }
func (nopStore) LoadBotWithEnabledIntents(_ context.Context, _ string) (*Bot, error) {
	return nil, nil
}
func (nopStore) UpdateBot(_ context.Context, _ Bot) error                 { return nil }
func (nopStore) DeleteBot(_ context.Context, _ string) error              { return nil }
func (nopStore) ListBots(_ context.Context, _ int) ([]Bot, error)         { return nil, nil }
func (nopStore) UpsertIntent(_ context.Context, _ string, _ IntentConfig) error { return nil }
func (nopStore) DeleteIntent(_ context.Context, _, _ string) error        { return nil }
func (nopStore) Close() error                                             { return nil }

// fixedStore serves one bot by ID.
type fixedStore struct {
	nopStore
	bot *Bot
	err error
}

func (s *fixedStore) LoadBotWithEnabledIntents(_ context.Context, botID string) (*Bot, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.bot != nil && s.bot.ID == botID {
		return s.bot, nil
	}
	return nil, nil
}

// --- Provider mocks ---

// scriptedProvider returns canned responses in order, one per Chat call, and
// records every request it receives. ChatStream splits the next response into
// the chunks configured in streamChunks (whole response as one chunk when nil).
type scriptedProvider struct {
	responses    []string
	streamChunks []string
	err          error

	calls       int
	streamCalls int
	requests    []ChatRequest
}

func (p *scriptedProvider) next() string {
	if p.calls > len(p.responses) {
		return ""
	}
	return p.responses[p.calls-1]
}

func (p *scriptedProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	p.calls++
	p.requests = append(p.requests, req)
	if p.err != nil {
		return ChatResponse{}, p.err
	}
	return ChatResponse{Content: p.next(), Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (p *scriptedProvider) ChatStream(_ context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error) {
	defer close(ch)
	p.calls++
	p.streamCalls++
	p.requests = append(p.requests, req)
	if p.err != nil {
		return ChatResponse{}, p.err
	}
	chunks := p.streamChunks
	if chunks == nil {
		chunks = []string{p.next()}
	}
	var full string
	for _, c := range chunks {
		full += c
		ch <- c
	}
	return ChatResponse{Content: full}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

// --- Runner mocks ---

// recordingRunner captures the request it was handed and returns a fixed result.
type recordingRunner struct {
	req    HandlerRequest
	caps   Capabilities
	result HandlerResult
	err    error
}

func (r *recordingRunner) Run(_ context.Context, req HandlerRequest, caps Capabilities) (HandlerResult, error) {
	r.req = req
	r.caps = caps
	return r.result, r.err
}

// crashRunner always fails.
type crashRunner struct{}

func (crashRunner) Run(_ context.Context, _ HandlerRequest, _ Capabilities) (HandlerResult, error) {
	return HandlerResult{}, errors.New("sandbox crashed")
}

// --- Fixtures ---

func strPtr(s string) *string { return &s }

func clearResponse() string   { return `{"is_intent_clear": true, "question_to_user": ""}` }
func unclearResponse(q string) string {
	return `{"is_intent_clear": false, "question_to_user": "` + q + `"}`
}
