package parley

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyProvider fails with err for failures calls, then succeeds.
type flakyProvider struct {
	failures int
	err      error
	calls    int
}

func (p *flakyProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return ChatResponse{}, p.err
	}
	return ChatResponse{Content: "ok"}, nil
}

func (p *flakyProvider) ChatStream(_ context.Context, _ ChatRequest, ch chan<- string) (ChatResponse, error) {
	defer close(ch)
	p.calls++
	if p.calls <= p.failures {
		return ChatResponse{}, p.err
	}
	ch <- "ok"
	return ChatResponse{Content: "ok"}, nil
}

func (p *flakyProvider) Name() string { return "flaky" }

func TestRetryChatRecoversTransient(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: &ErrHTTP{Status: 429}}
	p := WithRetry(inner, RetryBaseDelay(time.Millisecond))

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" || inner.calls != 3 {
		t.Errorf("Content = %q, calls = %d, want ok after 3 calls", resp.Content, inner.calls)
	}
}

func TestRetryChatGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: &ErrHTTP{Status: 503}}
	p := WithRetry(inner, RetryBaseDelay(time.Millisecond), RetryMaxAttempts(2))

	_, err := p.Chat(context.Background(), ChatRequest{})
	var he *ErrHTTP
	if !errors.As(err, &he) || he.Status != 503 {
		t.Fatalf("error = %v, want last 503", err)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestRetryChatDoesNotRetryNonTransient(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: &ErrHTTP{Status: 400}}
	p := WithRetry(inner, RetryBaseDelay(time.Millisecond))

	_, err := p.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1 (400 is not transient)", inner.calls)
	}
}

func TestRetryChatStreamRecovers(t *testing.T) {
	inner := &flakyProvider{failures: 1, err: &ErrHTTP{Status: 429}}
	p := WithRetry(inner, RetryBaseDelay(time.Millisecond))

	ch := make(chan string, 4)
	resp, err := p.ChatStream(context.Background(), ChatRequest{}, ch)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	var chunks []string
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 || chunks[0] != "ok" {
		t.Errorf("chunks = %v, want single ok (no duplicates)", chunks)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q", resp.Content)
	}
}

// midStreamFailProvider sends one chunk, then fails transiently.
type midStreamFailProvider struct{ calls int }

func (p *midStreamFailProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	return ChatResponse{}, nil
}

func (p *midStreamFailProvider) ChatStream(_ context.Context, _ ChatRequest, ch chan<- string) (ChatResponse, error) {
	defer close(ch)
	p.calls++
	ch <- "partial"
	return ChatResponse{}, &ErrHTTP{Status: 429}
}

func (p *midStreamFailProvider) Name() string { return "midfail" }

func TestRetryChatStreamNoRetryAfterFirstChunk(t *testing.T) {
	inner := &midStreamFailProvider{}
	p := WithRetry(inner, RetryBaseDelay(time.Millisecond))

	ch := make(chan string, 4)
	_, err := p.ChatStream(context.Background(), ChatRequest{}, ch)
	if err == nil {
		t.Fatal("expected error to pass through")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after content reached the consumer)", inner.calls)
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	err := &ErrHTTP{Status: 429, RetryAfter: 500 * time.Millisecond}
	if d := retryDelay(time.Millisecond, 0, err); d < 500*time.Millisecond {
		t.Errorf("delay = %v, want at least the Retry-After hint", d)
	}
}

func TestRetryBackoffGrows(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 3; i++ {
		min := base * (1 << i)
		if d := retryBackoff(base, i); d < min || d > min+min/2 {
			t.Errorf("retryBackoff(%v, %d) = %v, want in [%v, %v]", base, i, d, min, min+min/2)
		}
	}
}
