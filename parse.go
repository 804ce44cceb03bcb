package parley

import "strings"

// extractJSON finds the first JSON value in a model response, tolerating
// markdown code fences and prose around it. wantArray selects '['-delimited
// extraction; otherwise the first object is taken.
func extractJSON(input string, wantArray bool) string {
	trimmed := strings.TrimSpace(input)

	// Strip markdown code fences
	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	open, close := "{", "}"
	if wantArray {
		open, close = "[", "]"
	}
	start := strings.Index(trimmed, open)
	end := strings.LastIndex(trimmed, close)
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}

	return trimmed
}

// formatHistory renders conversation turns as prompt text, one line per turn.
func formatHistory(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
