package parley

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// noIntentsSentinel is the catalog text used when a bot has no enabled
// intents. Detection is skipped entirely in that case; the sentinel exists
// for prompt-formatting callers that render a catalog unconditionally.
const noIntentsSentinel = "No intents are configured for this bot."

// detectPrompt instructs the model to classify the user's turn against the
// bot's intent catalog. The model may return several entries at once.
const detectPrompt = `You are the intent classifier of a conversational assistant. Match the user's latest message against the configured intents below. The message may express more than one intent at the same time.

Return a JSON array. Each element is one detected intent:
{"code": "<code>", "intent_name": "<name>", "parameters": {<field>: <value>}, "question_to_user": "<string>"}

## Codes
- INTENT_FOUND: the message matches a configured intent. Set intent_name to the configured name and extract every parameter value the message supplies into parameters. Omit fields the user did not supply.
- INTENT_UN_CLEAR: the message is too vague to match. Set question_to_user to ONE short clarifying question.
- INTENT_CONFIG_NOT_FOUND: the message is a concrete request but matches none of the configured intents.

## Rules
- intent_name must be copied exactly from the catalog.
- Return one array element per expressed intent, in the order they appear in the message.
- Respond with ONLY the JSON array, no extra text.`

// FormatIntentCatalog renders the enabled intents as prompt text: name,
// description and required fields, one block per intent.
func FormatIntentCatalog(intents []IntentConfig) string {
	if len(intents) == 0 {
		return noIntentsSentinel
	}
	var b strings.Builder
	for _, ic := range intents {
		fmt.Fprintf(&b, "- name: %s\n  description: %s\n", ic.Name, ic.Description)
		if ic.RequiredFields != nil && strings.TrimSpace(*ic.RequiredFields) != "" {
			fmt.Fprintf(&b, "  required fields: %s\n", *ic.RequiredFields)
		}
	}
	return strings.TrimSpace(b.String())
}

// DetectIntents classifies the latest user turn against the bot's enabled
// intent catalog. Callers must skip detection when the bot has no enabled
// intents and synthesize a NoIntentConfigured entry instead (the engine does
// this). Unparsable model output is a hard failure (ErrIntentDetection).
func DetectIntents(ctx context.Context, p Provider, bot *Bot, messages []ChatMessage) ([]DetectedIntent, error) {
	latest := messages[len(messages)-1]

	var b strings.Builder
	b.WriteString(detectPrompt)
	b.WriteString("\n\n## Configured intents\n")
	b.WriteString(FormatIntentCatalog(bot.EnabledIntents()))
	if len(messages) > 1 {
		b.WriteString("\n\n## Conversation so far\n")
		b.WriteString(formatHistory(messages[:len(messages)-1]))
	}
	b.WriteString("\n\n## Latest user message\n")
	b.WriteString(latest.Content)

	resp, err := p.Chat(ctx, ChatRequest{
		Messages:   []ChatMessage{SystemMessage(b.String())},
		JSONOutput: true,
	})
	if err != nil {
		return nil, &ErrIntentDetection{Cause: err}
	}

	entries, err := ParseDetection(resp.Content)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Strict = bot.StrictIntentDetection
	}
	return entries, nil
}

// ParseDetection parses the model output into detection entries. A bare
// object is tolerated and wrapped as a single-entry result.
func ParseDetection(response string) ([]DetectedIntent, error) {
	jsonStr := extractJSON(response, true)

	var entries []DetectedIntent
	if err := json.Unmarshal([]byte(jsonStr), &entries); err != nil {
		// Some models return a single object instead of an array.
		var one DetectedIntent
		if err2 := json.Unmarshal([]byte(extractJSON(response, false)), &one); err2 != nil {
			return nil, &ErrIntentDetection{Cause: fmt.Errorf("unparsable response %q: %w", truncate(response, 200), err)}
		}
		entries = []DetectedIntent{one}
	}
	if len(entries) == 0 {
		return nil, &ErrIntentDetection{Cause: fmt.Errorf("empty detection result")}
	}

	for _, e := range entries {
		switch e.Code {
		case IntentFound, IntentUnclear, IntentConfigMissing:
		default:
			return nil, &ErrIntentDetection{Cause: fmt.Errorf("unknown detection code %q", e.Code)}
		}
	}
	return entries, nil
}
