package parley

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// clarityPrompt instructs the model to judge whether the latest user turn
// expresses a clear, actionable request. The question it may ask back must
// clarify the high-level request only, never demand structured parameters.
const clarityPrompt = `You are the gatekeeper of a conversational assistant. Given the bot's guidelines and the conversation so far, decide whether the user's latest message expresses a clear, actionable request.

Return a JSON object with exactly these fields:
{"is_intent_clear": <bool>, "question_to_user": "<string>"}

## Rules
- If the request is clear, set is_intent_clear to true and question_to_user to "".
- If the request is unclear, set is_intent_clear to false and ask ONE short question that helps the user restate what they want at a high level.
- Never ask the user to supply specific structured fields or parameters; that happens later.
- Respond with ONLY the JSON object, no extra text.`

// ClarityResult is the parsed output of the clarity check.
type ClarityResult struct {
	IsIntentClear  bool   `json:"is_intent_clear"`
	QuestionToUser string `json:"question_to_user"`
}

// CheckClarity asks the provider whether the latest user turn is clear enough
// to classify, given the bot's guidelines and the conversation so far.
// A response the checker cannot parse is a hard failure (ErrClarityCheck);
// callers must not proceed with an empty result.
func CheckClarity(ctx context.Context, p Provider, guidelines string, messages []ChatMessage) (ClarityResult, error) {
	var b strings.Builder
	b.WriteString(clarityPrompt)
	if strings.TrimSpace(guidelines) != "" {
		b.WriteString("\n\n## Bot guidelines\n")
		b.WriteString(guidelines)
	}
	b.WriteString("\n\n## Conversation\n")
	b.WriteString(formatHistory(messages))

	resp, err := p.Chat(ctx, ChatRequest{
		Messages:   []ChatMessage{SystemMessage(b.String())},
		JSONOutput: true,
	})
	if err != nil {
		return ClarityResult{}, &ErrClarityCheck{Cause: err}
	}

	return ParseClarity(resp.Content)
}

// ParseClarity parses the model output into a ClarityResult.
func ParseClarity(response string) (ClarityResult, error) {
	jsonStr := extractJSON(response, false)

	var raw struct {
		IsIntentClear  *bool  `json:"is_intent_clear"`
		QuestionToUser string `json:"question_to_user"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return ClarityResult{}, &ErrClarityCheck{Cause: fmt.Errorf("unparsable response %q: %w", truncate(response, 200), err)}
	}
	if raw.IsIntentClear == nil {
		return ClarityResult{}, &ErrClarityCheck{Cause: fmt.Errorf("response %q missing is_intent_clear", truncate(response, 200))}
	}

	out := ClarityResult{IsIntentClear: *raw.IsIntentClear, QuestionToUser: raw.QuestionToUser}
	if out.IsIntentClear {
		out.QuestionToUser = ""
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
