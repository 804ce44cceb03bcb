package parley

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// User-facing fallback texts. Kept fixed so transcripts stay predictable.
const (
	botNotFoundMessage = "This assistant is not available right now."
	refusalMessage     = "I can only help with the tasks this assistant is configured for."
	apologyMessage     = "Sorry, something went wrong while processing your message. Please try again."
	handlerFallback    = "Sorry, I couldn't complete that action right now."
)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Engine routes a chat turn through intent clarity, detection, parameter
// resolution and handler dispatch, streaming framed output as it goes.
//
// All collaborators are injected at construction; the engine owns no
// cross-request mutable state, so one Engine serves concurrent requests.
type Engine struct {
	store           Store
	provider        Provider
	clarityProvider Provider // defaults to provider
	runner          HandlerRunner
	fetch           func(ctx context.Context, req FetchRequest) (FetchResponse, error)
	guard           *InjectionGuard
	logger          *slog.Logger
	handlerTimeout  time.Duration
	surfaceDetail   bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithHandlerRunner sets the sandbox used for FUNCTIONAL handlers. Without
// one, FUNCTIONAL dispatch degrades to the fallback frame.
func WithHandlerRunner(r HandlerRunner) EngineOption {
	return func(e *Engine) { e.runner = r }
}

// WithClarityProvider routes clarity checks to a separate (typically
// cheaper) model than the main generation provider.
func WithClarityProvider(p Provider) EngineOption {
	return func(e *Engine) { e.clarityProvider = p }
}

// WithFetch sets the outbound-HTTP capability exposed to sandboxed handlers.
func WithFetch(f func(ctx context.Context, req FetchRequest) (FetchResponse, error)) EngineOption {
	return func(e *Engine) { e.fetch = f }
}

// WithInjectionGuard screens the latest user turn for prompt-injection
// phrases before any model call; a hit gets the fixed refusal frame.
func WithInjectionGuard(g *InjectionGuard) EngineOption {
	return func(e *Engine) { e.guard = g }
}

// WithLogger sets a structured logger for routing decisions and faults.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithHandlerTimeout overrides DefaultHandlerTimeout for sandboxed handlers.
func WithHandlerTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.handlerTimeout = d }
}

// WithHandlerErrorDetail appends a short error detail to the fallback frame
// when a sandboxed handler fails. Off by default; the full error always goes
// to the log either way.
func WithHandlerErrorDetail() EngineOption {
	return func(e *Engine) { e.surfaceDetail = true }
}

// NewEngine creates an Engine with the given collaborators.
func NewEngine(store Store, provider Provider, opts ...EngineOption) *Engine {
	e := &Engine{
		store:          store,
		provider:       provider,
		logger:         nopLogger,
		handlerTimeout: DefaultHandlerTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	if e.clarityProvider == nil {
		e.clarityProvider = provider
	}
	return e
}

// Process routes one chat request and streams framed output to w. The
// returned error reflects the terminal condition for transport-level
// mapping; by the time it returns, the stream is always safely terminated
// (no frame is ever left open).
func (e *Engine) Process(ctx context.Context, botID string, messages []ChatMessage, reqCtx RequestContext, w io.Writer) error {
	log := e.logger.With("bot_id", botID, "request_id", NewID())
	em := NewEmitter(w)

	bot, err := e.store.LoadBotWithEnabledIntents(ctx, botID)
	if err != nil {
		log.Error("bot load failed", "error", err)
		em.Message(apologyMessage)
		return fmt.Errorf("load bot %s: %w", botID, err)
	}
	if bot == nil {
		log.Warn("bot not found")
		em.Message(botNotFoundMessage)
		return &ErrBotNotFound{BotID: botID}
	}

	// Cross-origin requests must match the bot's allowed set. Rejected
	// before anything is written so the transport can answer 403.
	if !reqCtx.SameHost() && !bot.OriginAllowed(reqCtx.Origin) {
		log.Warn("origin rejected", "origin", reqCtx.Origin)
		return &ErrOriginForbidden{BotID: botID, Origin: reqCtx.Origin}
	}

	// First contact: greeting frame, quick actions if configured, done.
	// No generation-service calls on this path.
	if len(messages) == 0 {
		em.Message(bot.GreetingMessage)
		if len(bot.QuickActions) > 0 {
			em.JSON(string(bot.QuickActions))
		}
		return nil
	}

	last := messages[len(messages)-1]
	if last.Role == RoleSystem {
		return &ErrProtocolViolation{Reason: "most recent turn carries the system role"}
	}

	if e.guard != nil {
		if hit, phrase := e.guard.Check(last.Content); hit {
			log.Warn("injection guard tripped", "phrase", phrase)
			em.Message(refusalMessage)
			return nil
		}
	}

	entries, err := e.classify(ctx, log, bot, messages)
	if err != nil {
		log.Error("classification failed", "error", err)
		em.Message(apologyMessage)
		return err
	}

	// Detected intents are processed strictly in order: one intent's frames
	// are fully written before the next intent starts.
	for _, entry := range entries {
		log.Info("dispatching intent",
			"code", string(entry.Code),
			"intent", entry.IntentName)
		if err := e.dispatch(ctx, log, em, bot, entry, messages, reqCtx); err != nil {
			em.CloseOpenFrame()
			log.Error("dispatch failed", "intent", entry.IntentName, "error", err)
			return err
		}
	}
	return nil
}

// classify runs the clarity check and intent detection per the routing
// rules: clarity first (when there is context to judge), strict bots
// short-circuit on an unclear turn, and a bot with no enabled intents skips
// detection entirely.
func (e *Engine) classify(ctx context.Context, log *slog.Logger, bot *Bot, messages []ChatMessage) ([]DetectedIntent, error) {
	clarityContext := strings.TrimSpace(bot.Guidelines + "\n" + formatHistory(messages))
	if clarityContext != "" {
		res, err := CheckClarity(ctx, e.clarityProvider, bot.Guidelines, messages)
		if err != nil {
			return nil, err
		}
		if !res.IsIntentClear && bot.StrictIntentDetection {
			log.Info("intent unclear, strict bot asks back")
			return []DetectedIntent{{
				Code:           IntentUnclear,
				QuestionToUser: res.QuestionToUser,
				Strict:         true,
			}}, nil
		}
	}

	if len(bot.EnabledIntents()) == 0 {
		log.Info("no intents configured, detection skipped")
		return []DetectedIntent{{
			Code:   NoIntentConfigured,
			Strict: bot.StrictIntentDetection,
		}}, nil
	}

	return DetectIntents(ctx, e.provider, bot, messages)
}

// dispatch handles one detected intent entry. Sandbox faults are recovered
// here; configuration faults and provider stream failures propagate.
func (e *Engine) dispatch(ctx context.Context, log *slog.Logger, em *Emitter, bot *Bot, entry DetectedIntent, messages []ChatMessage, reqCtx RequestContext) error {
	switch entry.Code {
	case IntentUnclear:
		em.Message(entry.QuestionToUser)
		return nil

	case IntentConfigMissing, NoIntentConfigured:
		if entry.Strict {
			em.Message(refusalMessage)
			return nil
		}
		return GeneralQuestionFlow(ctx, e.provider, em, bot, messages)

	case IntentFound:
		res, err := ResolveRequiredParams(bot, entry)
		if err != nil {
			return err
		}
		if res.Handler.Type == "" {
			return &ErrMissingHandler{BotID: bot.ID, Intent: entry.IntentName}
		}
		if !res.Complete() {
			log.Info("missing required fields", "intent", entry.IntentName, "missing", res.MissingFields)
			return AskParametersFlow(ctx, e.provider, em, entry.IntentName, res.MissingFields)
		}
		return e.runHandler(ctx, log, em, bot, entry, res, messages, reqCtx)

	default:
		return &ErrIntentDetection{Cause: fmt.Errorf("unknown detection code %q", entry.Code)}
	}
}

// runHandler dispatches a fully-resolved intent to its handler strategy.
func (e *Engine) runHandler(ctx context.Context, log *slog.Logger, em *Emitter, bot *Bot, entry DetectedIntent, res Resolution, messages []ChatMessage, reqCtx RequestContext) error {
	log = log.With("intent", entry.IntentName, "handler_type", string(res.Handler.Type))

	switch res.Handler.Type {
	case HandlerNonFunctional:
		if res.Handler.Content == nil {
			return &ErrMissingHandler{BotID: bot.ID, Intent: entry.IntentName}
		}
		em.Message(*res.Handler.Content)
		return nil

	case HandlerFunctional:
		if res.Handler.Content == nil {
			return &ErrMissingHandler{BotID: bot.ID, Intent: entry.IntentName}
		}
		e.runFunctional(ctx, log, em, entry, *res.Handler.Content, reqCtx)
		return nil

	case HandlerModelResponse:
		var guidelines string
		if res.Handler.Guidelines != nil {
			guidelines = *res.Handler.Guidelines
		}
		question := messages[len(messages)-1].Content
		return GuidedResponseFlow(ctx, e.provider, em, bot, guidelines, question)

	default:
		return &ErrMissingHandler{BotID: bot.ID, Intent: entry.IntentName}
	}
}

// runFunctional executes a sandboxed handler. An untrusted-handler crash
// must never take down the request: every failure path here ends in exactly
// one fallback frame and a log entry, not a returned error.
func (e *Engine) runFunctional(ctx context.Context, log *slog.Logger, em *Emitter, entry DetectedIntent, content string, reqCtx RequestContext) {
	fail := func(detail string) {
		log.Error("handler execution failed", "error", detail)
		msg := handlerFallback
		if e.surfaceDetail && detail != "" {
			msg += " (" + truncate(detail, 120) + ")"
		}
		em.Message(msg)
	}

	if e.runner == nil {
		fail("no handler runner configured")
		return
	}

	source, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		fail((&ErrHandlerExec{Detail: "invalid handler encoding: " + err.Error()}).Error())
		return
	}

	caps := Capabilities{
		// Partial messages are framed and flushed the moment the procedure
		// sends them.
		Emit:  func(text string) { em.Message(text) },
		Fetch: e.fetch,
	}
	result, err := e.runner.Run(ctx, HandlerRequest{
		Source:  string(source),
		Params:  entry.Parameters,
		Request: reqCtx.Headers,
		Timeout: e.handlerTimeout,
	}, caps)
	if err != nil {
		fail((&ErrHandlerExec{Detail: err.Error()}).Error())
		return
	}
	if result.Err != "" {
		fail((&ErrHandlerExec{Detail: result.Err}).Error())
		return
	}

	log.Info("handler completed", "exit_code", result.ExitCode)
	if result.Output != "" {
		em.Message(result.Output)
	}
}
