package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	parley "github.com/novandi/parley"
)

func TestBuildBody(t *testing.T) {
	msgs := []parley.ChatMessage{
		parley.SystemMessage("be terse"),
		parley.UserMessage("hi"),
	}
	body := BuildBody(msgs, "gpt-4o-mini", true, WithTemperature(0.2), WithMaxTokens(100))

	if body.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", body.Model)
	}
	if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[1].Content != "hi" {
		t.Errorf("Messages = %+v", body.Messages)
	}
	if body.ResponseFormat == nil || body.ResponseFormat.Type != "json_object" {
		t.Errorf("ResponseFormat = %+v, want json_object", body.ResponseFormat)
	}
	if body.Temperature == nil || *body.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", body.Temperature)
	}
	if body.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d, want 100", body.MaxTokens)
	}
}

func TestBuildBodyNoJSON(t *testing.T) {
	body := BuildBody([]parley.ChatMessage{parley.UserMessage("hi")}, "m", false)
	if body.ResponseFormat != nil {
		t.Errorf("ResponseFormat = %+v, want nil", body.ResponseFormat)
	}
}

func TestParseResponse(t *testing.T) {
	data := []byte(`{
		"id": "chatcmpl-1",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
	}`)
	resp, err := ParseResponse(data, "openai")
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestParseResponseNoChoices(t *testing.T) {
	_, err := ParseResponse([]byte(`{"id": "x", "choices": []}`), "openai")
	var le *parley.ErrLLM
	if !errors.As(err, &le) {
		t.Fatalf("error = %v, want *parley.ErrLLM", err)
	}
}

func TestChat(t *testing.T) {
	var gotAuth string
	var gotBody ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
		io.WriteString(w, `{"choices":[{"message":{"content":"pong"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	}))
	defer srv.Close()

	p := NewProvider("sk-test", "test-model", srv.URL, WithName("groq"))
	resp, err := p.Chat(context.Background(), parley.ChatRequest{Messages: []parley.ChatMessage{parley.UserMessage("ping")}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "pong" {
		t.Errorf("Content = %q", resp.Content)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "test-model" || gotBody.Stream {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"invalid api key","type":"auth"}}`)
	}))
	defer srv.Close()

	p := NewProvider("bad", "m", srv.URL)
	_, err := p.Chat(context.Background(), parley.ChatRequest{Messages: []parley.ChatMessage{parley.UserMessage("x")}})
	var le *parley.ErrLLM
	if !errors.As(err, &le) {
		t.Fatalf("error = %v, want *parley.ErrLLM", err)
	}
	if !strings.Contains(le.Message, "invalid api key") {
		t.Errorf("Message = %q, want API error surfaced", le.Message)
	}
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ChatRequest
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		if !body.Stream {
			t.Error("Stream = false, want true")
		}
		if body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
			t.Error("StreamOptions missing include_usage")
		}
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2}}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewProvider("k", "m", srv.URL)
	ch := make(chan string, 8)
	resp, err := p.ChatStream(context.Background(), parley.ChatRequest{Messages: []parley.ChatMessage{parley.UserMessage("hi")}}, ch)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var chunks []string
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 || chunks[0] != "hel" || chunks[1] != "lo" {
		t.Errorf("chunks = %v", chunks)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 2 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestStreamSSESkipsMalformed(t *testing.T) {
	body := strings.NewReader(
		"data: not json\n" +
			"ignore this line\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
			"data: [DONE]\n")
	ch := make(chan string, 4)
	resp, err := StreamSSE(context.Background(), body, ch)
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestChatStreamClosesChannelOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProvider("k", "m", srv.URL)
	ch := make(chan string)
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	_, err := p.ChatStream(context.Background(), parley.ChatRequest{Messages: []parley.ChatMessage{parley.UserMessage("hi")}}, ch)
	if err == nil {
		t.Fatal("expected error")
	}
	<-done // channel must be closed even on failure
}
