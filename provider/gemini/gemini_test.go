package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	parley "github.com/novandi/parley"
)

func TestBuildBody(t *testing.T) {
	g := New("k", "gemini-2.5-flash", WithTemperature(0.3))
	body := g.buildBody(parley.ChatRequest{
		Messages: []parley.ChatMessage{
			parley.SystemMessage("be brief"),
			parley.UserMessage("hi"),
			parley.AssistantMessage("hello"),
		},
		JSONOutput: true,
	})

	sys, ok := body["systemInstruction"].(map[string]any)
	if !ok {
		t.Fatal("missing systemInstruction")
	}
	parts := sys["parts"].([]map[string]any)
	if len(parts) != 1 || parts[0]["text"] != "be brief" {
		t.Errorf("systemInstruction parts = %v", parts)
	}

	contents := body["contents"].([]map[string]any)
	if len(contents) != 2 {
		t.Fatalf("contents = %d entries, want 2", len(contents))
	}
	if contents[0]["role"] != "user" || contents[1]["role"] != "model" {
		t.Errorf("roles = %v, %v", contents[0]["role"], contents[1]["role"])
	}

	gen := body["generationConfig"].(map[string]any)
	if gen["temperature"] != 0.3 {
		t.Errorf("temperature = %v", gen["temperature"])
	}
	if gen["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v", gen["responseMimeType"])
	}
}

func TestBuildBodyNoSystem(t *testing.T) {
	g := New("k", "m")
	body := g.buildBody(parley.ChatRequest{Messages: []parley.ChatMessage{parley.UserMessage("hi")}})
	if _, ok := body["systemInstruction"]; ok {
		t.Error("systemInstruction present without system turns")
	}
	if _, ok := body["generationConfig"].(map[string]any)["responseMimeType"]; ok {
		t.Error("responseMimeType present without JSONOutput")
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "models/gemini-2.5-flash:generateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "k1" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		if _, ok := body["contents"]; !ok {
			t.Error("request body missing contents")
		}
		io.WriteString(w, `{
			"candidates": [{"content": {"parts": [{"text": "pong"}]}}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 1}
		}`)
	}))
	defer srv.Close()

	old := baseURL
	baseURL = srv.URL
	defer func() { baseURL = old }()

	g := New("k1", "gemini-2.5-flash")
	resp, err := g.Chat(context.Background(), parley.ChatRequest{Messages: []parley.ChatMessage{parley.UserMessage("ping")}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "pong" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 4 || resp.Usage.OutputTokens != 1 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "alt=sse") {
			t.Errorf("query = %q, want alt=sse", r.URL.RawQuery)
		}
		io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"he\"}]}}]}\n\n")
		io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"llo\"}]}}],\"usageMetadata\":{\"promptTokenCount\":2,\"candidatesTokenCount\":2}}\n\n")
	}))
	defer srv.Close()

	old := baseURL
	baseURL = srv.URL
	defer func() { baseURL = old }()

	g := New("k", "m")
	ch := make(chan string, 8)
	resp, err := g.ChatStream(context.Background(), parley.ChatRequest{Messages: []parley.ChatMessage{parley.UserMessage("hi")}}, ch)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	var chunks []string
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 || chunks[0]+chunks[1] != "hello" {
		t.Errorf("chunks = %v", chunks)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.OutputTokens != 2 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "quota exceeded")
	}))
	defer srv.Close()

	old := baseURL
	baseURL = srv.URL
	defer func() { baseURL = old }()

	g := New("k", "m")
	_, err := g.Chat(context.Background(), parley.ChatRequest{Messages: []parley.ChatMessage{parley.UserMessage("x")}})
	he, ok := err.(*parley.ErrHTTP)
	if !ok {
		t.Fatalf("error = %T, want *parley.ErrHTTP", err)
	}
	if he.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", he.Status)
	}
}
