package parley

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ErrBotNotFound{BotID: "b1"}, "bot b1 not found"},
		{&ErrOriginForbidden{BotID: "b1", Origin: "https://x.com"}, `origin "https://x.com" not allowed for bot b1`},
		{&ErrProtocolViolation{Reason: "bad turn"}, "protocol violation: bad turn"},
		{&ErrIntentConfigNotFound{BotID: "b1", Intent: "x"}, `bot b1: no intent config named "x"`},
		{&ErrMissingHandler{BotID: "b1", Intent: "x"}, `bot b1: intent "x" has no handler`},
		{&ErrHandlerExec{Detail: "timed out"}, "handler execution: timed out"},
		{&ErrLLM{Provider: "gemini", Message: "bad key"}, "gemini: bad key"},
		{&ErrHTTP{Status: 429, Body: "slow down"}, "http 429: slow down"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestWrappedCausesUnwrap(t *testing.T) {
	cause := fmt.Errorf("parse failed")
	if !errors.Is(&ErrClarityCheck{Cause: cause}, cause) {
		t.Error("ErrClarityCheck does not unwrap to its cause")
	}
	if !errors.Is(&ErrIntentDetection{Cause: cause}, cause) {
		t.Error("ErrIntentDetection does not unwrap to its cause")
	}
	if !strings.Contains((&ErrClarityCheck{Cause: cause}).Error(), "parse failed") {
		t.Error("ErrClarityCheck message hides its cause")
	}
}
