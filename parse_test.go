package parley

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantArray bool
		want      string
	}{
		{"bare object", `{"a": 1}`, false, `{"a": 1}`},
		{"fenced json", "```json\n{\"a\": 1}\n```", false, `{"a": 1}`},
		{"fenced plain", "```\n{\"a\": 1}\n```", false, `{"a": 1}`},
		{"prose around object", `Here you go: {"a": 1}. Done.`, false, `{"a": 1}`},
		{"bare array", `[{"a": 1}]`, true, `[{"a": 1}]`},
		{"prose around array", `Result: [1, 2] as requested`, true, `[1, 2]`},
		{"no json passthrough", `just text`, false, `just text`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.input, tt.wantArray); got != tt.want {
				t.Errorf("extractJSON = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatHistory(t *testing.T) {
	msgs := []ChatMessage{
		UserMessage("hi"),
		AssistantMessage("hello"),
	}
	want := "user: hi\nassistant: hello"
	if got := formatHistory(msgs); got != want {
		t.Errorf("formatHistory = %q, want %q", got, want)
	}
}

func TestFormatHistoryEmpty(t *testing.T) {
	if got := formatHistory(nil); got != "" {
		t.Errorf("formatHistory(nil) = %q, want empty", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abcd..." {
		t.Errorf("truncate = %q, want %q", got, "abcd...")
	}
	if got := truncate("ab", 4); got != "ab" {
		t.Errorf("truncate = %q, want %q", got, "ab")
	}
}
