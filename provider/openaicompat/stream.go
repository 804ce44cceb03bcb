package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	parley "github.com/novandi/parley"
)

// StreamSSE reads an SSE stream from body, sends text chunks to ch, and
// returns the fully accumulated response (content + usage).
//
// The channel is closed when streaming completes. The context cancels
// channel sends if the consumer is no longer interested.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- string) (parley.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var usage parley.Usage

	for scanner.Scan() {
		line := scanner.Text()

		// SSE lines that carry data start with "data: ".
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		// End-of-stream sentinel.
		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		// Usage-only chunk (some providers send this last).
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta == nil || delta.Content == "" {
			continue
		}

		fullContent.WriteString(delta.Content)
		select {
		case ch <- delta.Content:
		case <-ctx.Done():
			return parley.ChatResponse{}, ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return parley.ChatResponse{}, err
	}

	return parley.ChatResponse{
		Content: fullContent.String(),
		Usage:   usage,
	}, nil
}
