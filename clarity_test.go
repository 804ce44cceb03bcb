package parley

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseClarity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ClarityResult
		wantErr bool
	}{
		{
			name:  "clear",
			input: `{"is_intent_clear": true, "question_to_user": ""}`,
			want:  ClarityResult{IsIntentClear: true},
		},
		{
			name:  "unclear with question",
			input: `{"is_intent_clear": false, "question_to_user": "What would you like to order?"}`,
			want:  ClarityResult{IsIntentClear: false, QuestionToUser: "What would you like to order?"},
		},
		{
			name:  "fenced",
			input: "```json\n{\"is_intent_clear\": true, \"question_to_user\": \"\"}\n```",
			want:  ClarityResult{IsIntentClear: true},
		},
		{
			name: "clear drops stray question",
			// A clear verdict must never carry a question back to the user.
			input: `{"is_intent_clear": true, "question_to_user": "anything else?"}`,
			want:  ClarityResult{IsIntentClear: true},
		},
		{
			name:    "missing verdict field",
			input:   `{"question_to_user": "hm?"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   "I think the user wants to order food.",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClarity(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var ce *ErrClarityCheck
				if !errors.As(err, &ce) {
					t.Errorf("error type = %T, want *ErrClarityCheck", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClarity: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseClarity = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCheckClarityPromptContent(t *testing.T) {
	p := &scriptedProvider{responses: []string{clearResponse()}}
	_, err := CheckClarity(context.Background(), p, "Only discuss pizza.", []ChatMessage{UserMessage("hi")})
	if err != nil {
		t.Fatalf("CheckClarity: %v", err)
	}
	if len(p.requests) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(p.requests))
	}
	req := p.requests[0]
	if !req.JSONOutput {
		t.Error("JSONOutput = false, want true")
	}
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, "Only discuss pizza.") {
		t.Error("prompt missing bot guidelines")
	}
	if !strings.Contains(prompt, "user: hi") {
		t.Error("prompt missing conversation history")
	}
}

func TestCheckClarityProviderFailure(t *testing.T) {
	p := &scriptedProvider{err: errors.New("boom")}
	_, err := CheckClarity(context.Background(), p, "", []ChatMessage{UserMessage("hi")})
	var ce *ErrClarityCheck
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ErrClarityCheck", err)
	}
}
