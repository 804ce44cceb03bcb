package parley

import (
	"fmt"
	"time"
)

// ErrBotNotFound is returned when no bot exists for the requested ID.
// Terminal; the engine emits a user-visible fallback frame before returning it.
type ErrBotNotFound struct {
	BotID string
}

func (e *ErrBotNotFound) Error() string {
	return fmt.Sprintf("bot %s not found", e.BotID)
}

// ErrOriginForbidden is returned when a cross-origin request targets a bot
// that restricts origins. No response body is written; the transport maps it
// to a forbidden status.
type ErrOriginForbidden struct {
	BotID  string
	Origin string
}

func (e *ErrOriginForbidden) Error() string {
	return fmt.Sprintf("origin %q not allowed for bot %s", e.Origin, e.BotID)
}

// ErrProtocolViolation is returned when the caller breaks the request
// protocol, e.g. the most recent turn carries the system role.
type ErrProtocolViolation struct {
	Reason string
}

func (e *ErrProtocolViolation) Error() string {
	return "protocol violation: " + e.Reason
}

// ErrClarityCheck is returned when the generation service produced output
// the clarity checker could not parse. Propagated, never swallowed.
type ErrClarityCheck struct {
	Cause error
}

func (e *ErrClarityCheck) Error() string {
	return fmt.Sprintf("clarity check: %v", e.Cause)
}

func (e *ErrClarityCheck) Unwrap() error { return e.Cause }

// ErrIntentDetection is returned when the generation service produced output
// the intent detector could not parse.
type ErrIntentDetection struct {
	Cause error
}

func (e *ErrIntentDetection) Error() string {
	return fmt.Sprintf("intent detection: %v", e.Cause)
}

func (e *ErrIntentDetection) Unwrap() error { return e.Cause }

// ErrIntentConfigNotFound signals a consistency fault between the detector's
// classification and the configured catalog: the detected name matches no
// IntentConfig on the bot.
type ErrIntentConfigNotFound struct {
	BotID  string
	Intent string
}

func (e *ErrIntentConfigNotFound) Error() string {
	return fmt.Sprintf("bot %s: no intent config named %q", e.BotID, e.Intent)
}

// ErrMissingHandler signals a configuration invariant violation: a resolved
// intent has no handler bound.
type ErrMissingHandler struct {
	BotID  string
	Intent string
}

func (e *ErrMissingHandler) Error() string {
	return fmt.Sprintf("bot %s: intent %q has no handler", e.BotID, e.Intent)
}

// ErrHandlerExec wraps a sandboxed handler failure (crash, timeout, blocked
// code). Recovered locally by the engine: a fallback frame is emitted and the
// stream closes normally.
type ErrHandlerExec struct {
	Detail string
}

func (e *ErrHandlerExec) Error() string {
	return "handler execution: " + e.Detail
}

// ErrLLM is a generation-service failure (network, bad status, timeout).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-2xx response from an upstream HTTP API. RetryAfter
// carries the server's Retry-After hint when present, for retry wrappers.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
