// Package gemini implements the Google Gemini chat provider.
package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	parley "github.com/novandi/parley"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements parley.Provider for Google Gemini models.
type Gemini struct {
	apiKey     string
	model      string
	httpClient *http.Client

	temperature float64
	topP        float64
}

// compile-time check
var _ parley.Provider = (*Gemini)(nil)

// New creates a new Gemini chat provider with functional options.
func New(apiKey, model string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{},
		temperature: 0.1,
		topP:        0.9,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Chat sends a non-streaming generateContent request and returns the
// complete response.
func (g *Gemini) Chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	body := g.buildBody(req)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, g.model, g.apiKey)

	respBody, err := g.post(ctx, url, body)
	if err != nil {
		return parley.ChatResponse{}, err
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return parley.ChatResponse{}, g.wrapErr("parse response: " + err.Error())
	}

	var content strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			content.WriteString(part.Text)
		}
	}

	out := parley.ChatResponse{Content: content.String()}
	if parsed.UsageMetadata != nil {
		out.Usage = parley.Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		}
	}
	return out, nil
}

// ChatStream streams text chunks into ch, then returns the final accumulated
// response. The channel is closed when streaming completes.
func (g *Gemini) ChatStream(ctx context.Context, req parley.ChatRequest, ch chan<- string) (parley.ChatResponse, error) {
	defer close(ch)

	body := g.buildBody(req)
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", baseURL, g.model, g.apiKey)

	payload, err := json.Marshal(body)
	if err != nil {
		return parley.ChatResponse{}, g.wrapErr("marshal body: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return parley.ChatResponse{}, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return parley.ChatResponse{}, g.wrapErr("stream request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return parley.ChatResponse{}, &parley.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(b),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var fullContent strings.Builder
	var usage parley.Usage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.UsageMetadata != nil {
			usage.InputTokens = chunk.UsageMetadata.PromptTokenCount
			usage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			fullContent.WriteString(part.Text)
			select {
			case ch <- part.Text:
			case <-ctx.Done():
				return parley.ChatResponse{}, ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return parley.ChatResponse{}, g.wrapErr("stream read: " + err.Error())
	}

	return parley.ChatResponse{Content: fullContent.String(), Usage: usage}, nil
}

// buildBody converts a parley request to the Gemini REST body. System turns
// go into systemInstruction; the rest map to user/model contents.
func (g *Gemini) buildBody(req parley.ChatRequest) map[string]any {
	var systemParts []map[string]any
	var contents []map[string]any

	for _, m := range req.Messages {
		switch m.Role {
		case parley.RoleSystem:
			systemParts = append(systemParts, map[string]any{"text": m.Content})
		case parley.RoleAssistant:
			contents = append(contents, map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": m.Content}},
			})
		default:
			contents = append(contents, map[string]any{
				"role":  "user",
				"parts": []map[string]any{{"text": m.Content}},
			})
		}
	}

	genConfig := map[string]any{
		"temperature": g.temperature,
		"topP":        g.topP,
	}
	if req.JSONOutput {
		genConfig["responseMimeType"] = "application/json"
	}

	body := map[string]any{
		"contents":         contents,
		"generationConfig": genConfig,
	}
	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{"parts": systemParts}
	}
	return body
}

// post sends a JSON body and returns the raw response bytes.
func (g *Gemini) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, g.wrapErr("marshal body: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, g.wrapErr("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.wrapErr("read response: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &parley.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return respBody, nil
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

func (g *Gemini) wrapErr(msg string) error {
	return &parley.ErrLLM{Provider: "gemini", Message: msg}
}

// --- Response types ---

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

type candidate struct {
	Content struct {
		Parts []part `json:"parts"`
	} `json:"content"`
}

type part struct {
	Text string `json:"text"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}
